package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/mtholden/henwatch/internal/config"
)

// StatsSource provides runtime data for the diagnostic sensors. The
// concrete adapter is wired in main.go to avoid coupling the MQTT
// package to buildinfo.
type StatsSource interface {
	// Uptime returns the process uptime.
	Uptime() time.Duration
	// Version returns the software version string.
	Version() string
}

// countIcons maps detection labels to Material Design icons for the
// HA frontend. Unknown labels fall back to a plain counter icon.
var countIcons = map[string]string{
	"chicken": "mdi:bird",
	"egg":     "mdi:egg",
}

// Publisher manages the MQTT connection and publishes HA discovery
// config messages on (re-)connect plus count sensor states after each
// detection cycle.
type Publisher struct {
	cfg        config.MQTTConfig
	instanceID string
	device     DeviceInfo
	labels     []string
	counts     *Counts
	stats      StatsSource
	logger     *slog.Logger
	cm         *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to establish the connection.
func New(cfg config.MQTTConfig, instanceID string, labels []string, counts *Counts, stats StatsSource, logger *slog.Logger) *Publisher {
	return &Publisher{
		cfg:        cfg,
		instanceID: instanceID,
		device:     NewDeviceInfo(instanceID, cfg.DeviceName),
		labels:     labels,
		counts:     counts,
		stats:      stats,
		logger:     logger,
	}
}

// Start connects to the MQTT broker. On every (re-)connect it
// publishes retained discovery configs, a birth message, and the
// latest counts, so HA state is complete even after broker restarts.
// Start returns once the connection manager is running; publishing is
// driven by the monitor loop via [Publisher.PublishStates].
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	availTopic := p.availabilityTopic()

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   availTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishDiscovery(ctx, cm)
			p.publishAvailability(ctx, cm, "online")
			p.PublishStates(ctx)
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "henwatch-" + p.cfg.DeviceName,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	// Wait for the initial connection before the first detection cycle.
	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// Log but don't fail; autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	return nil
}

// Stop gracefully disconnects by publishing an "offline" availability
// message before closing the MQTT connection. The provided context
// controls how long to wait for the publish and disconnect to complete.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// AwaitConnection blocks until the MQTT broker connection is
// established or ctx expires. Useful for health probes.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	if p.cm == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	return p.cm.AwaitConnection(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return "henwatch/" + p.cfg.DeviceName
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/availability"
}

func (p *Publisher) stateTopic(entity string) string {
	return p.baseTopic() + "/" + entity + "/state"
}

func (p *Publisher) discoveryTopic(component, entity string) string {
	return p.cfg.DiscoveryPrefix + "/" + component + "/" + p.cfg.DeviceName + "/" + entity + "/config"
}

// --- Discovery ---

type sensorDef struct {
	entitySuffix string
	config       SensorConfig
}

func (p *Publisher) sensorDefinitions() []sensorDef {
	avail := p.availabilityTopic()

	defs := make([]sensorDef, 0, len(p.labels)+5)

	// One count sensor per detection class.
	for _, label := range p.labels {
		icon := countIcons[label]
		if icon == "" {
			icon = "mdi:counter"
		}
		defs = append(defs, sensorDef{
			entitySuffix: label,
			config: SensorConfig{
				Name:              p.device.Name + " " + titleCase(label) + " Count",
				UniqueID:          p.instanceID + "_" + label + "_count",
				StateTopic:        p.stateTopic(label),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              icon,
				StateClass:        "measurement",
			},
		})
	}

	defs = append(defs,
		sensorDef{
			entitySuffix: "last_detection",
			config: SensorConfig{
				Name:              p.device.Name + " Last Detection",
				UniqueID:          p.instanceID + "_last_detection",
				StateTopic:        p.stateTopic("last_detection"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:clock-check",
				EntityCategory:    "diagnostic",
			},
		},
		sensorDef{
			entitySuffix: "cycles",
			config: SensorConfig{
				Name:              p.device.Name + " Detection Cycles",
				UniqueID:          p.instanceID + "_cycles",
				StateTopic:        p.stateTopic("cycles"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:counter",
				StateClass:        "total_increasing",
				EntityCategory:    "diagnostic",
			},
		},
		sensorDef{
			entitySuffix: "detect_ms",
			config: SensorConfig{
				Name:              p.device.Name + " Detection Time",
				UniqueID:          p.instanceID + "_detect_ms",
				StateTopic:        p.stateTopic("detect_ms"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:timer-outline",
				UnitOfMeasurement: "ms",
				StateClass:        "measurement",
				EntityCategory:    "diagnostic",
			},
		},
		sensorDef{
			entitySuffix: "uptime",
			config: SensorConfig{
				Name:              p.device.Name + " Uptime",
				UniqueID:          p.instanceID + "_uptime",
				StateTopic:        p.stateTopic("uptime"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:clock-outline",
				EntityCategory:    "diagnostic",
			},
		},
		sensorDef{
			entitySuffix: "version",
			config: SensorConfig{
				Name:              p.device.Name + " Version",
				UniqueID:          p.instanceID + "_version",
				StateTopic:        p.stateTopic("version"),
				AvailabilityTopic: avail,
				Device:            p.device,
				Icon:              "mdi:tag",
				EntityCategory:    "diagnostic",
			},
		},
	)

	return defs
}

func (p *Publisher) publishDiscovery(ctx context.Context, cm *autopaho.ConnectionManager) {
	for _, s := range p.sensorDefinitions() {
		topic := p.discoveryTopic("sensor", s.entitySuffix)
		payload, err := json.Marshal(s.config)
		if err != nil {
			p.logger.Error("mqtt marshal discovery payload",
				"entity", s.entitySuffix, "error", err)
			continue
		}

		if _, err := cm.Publish(ctx, &paho.Publish{
			Topic:   topic,
			Payload: payload,
			QoS:     1,
			Retain:  true,
		}); err != nil {
			p.logger.Warn("mqtt discovery publish failed",
				"entity", s.entitySuffix, "topic", topic, "error", err)
		} else {
			p.logger.Debug("mqtt discovery published",
				"entity", s.entitySuffix, "topic", topic)
		}
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

// --- State publishing ---

// PublishStates pushes the current counts and diagnostics to the
// broker. Called by the monitor after every detection cycle and on
// every (re-)connect so retained state never goes stale.
func (p *Publisher) PublishStates(ctx context.Context) {
	if p.cm == nil {
		return
	}

	snap := p.counts.Snapshot()

	states := make(map[string]string, len(snap.Tally)+5)
	for label, n := range snap.Tally {
		states[label] = strconv.Itoa(n)
	}
	states["cycles"] = strconv.FormatInt(snap.Cycles, 10)
	states["detect_ms"] = strconv.FormatInt(snap.LastDuration.Milliseconds(), 10)

	if !snap.LastDetected.IsZero() {
		states["last_detection"] = snap.LastDetected.Format(time.RFC3339)
	} else {
		states["last_detection"] = "never"
	}

	if p.stats != nil {
		states["uptime"] = p.stats.Uptime().Truncate(time.Second).String()
		states["version"] = p.stats.Version()
	}

	for entity, value := range states {
		if _, err := p.cm.Publish(ctx, &paho.Publish{
			Topic:   p.stateTopic(entity),
			Payload: []byte(value),
			QoS:     0,
			Retain:  true,
		}); err != nil {
			p.logger.Debug("mqtt state publish failed",
				"entity", entity, "error", err)
		}
	}

	p.logger.Debug("mqtt sensor states published",
		"entities", len(states))
}

// titleCase uppercases the first rune of a label for display names.
func titleCase(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}
