// Package mqtt publishes Home Assistant MQTT discovery messages and
// detection-count sensor states. The henhouse appears as a native HA
// device with availability tracking: one count sensor per detection
// class (eggs, chickens) plus diagnostic entities.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes retained discovery config payloads for
// each sensor entity and a birth message ("online") to the
// availability topic, then replays the latest counts. A will message
// ensures the availability topic transitions to "offline" on
// unexpected disconnects.
package mqtt
