package mqtt

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mtholden/henwatch/internal/config"
)

type fakeStats struct{}

func (fakeStats) Uptime() time.Duration { return 90 * time.Second }
func (fakeStats) Version() string       { return "test" }

func testPublisher(t *testing.T) *Publisher {
	t.Helper()
	cfg := config.MQTTConfig{
		Broker:          "mqtt://localhost:1883",
		DeviceName:      "coop",
		DiscoveryPrefix: "homeassistant",
	}
	labels := []string{"chicken", "egg"}
	counts := NewCounts(labels)
	return New(cfg, "inst-123", labels, counts, fakeStats{}, slog.Default())
}

func TestTopicLayout(t *testing.T) {
	p := testPublisher(t)

	if got := p.baseTopic(); got != "henwatch/coop" {
		t.Errorf("baseTopic = %q", got)
	}
	if got := p.availabilityTopic(); got != "henwatch/coop/availability" {
		t.Errorf("availabilityTopic = %q", got)
	}
	if got := p.stateTopic("chicken"); got != "henwatch/coop/chicken/state" {
		t.Errorf("stateTopic = %q", got)
	}
	if got := p.discoveryTopic("sensor", "egg"); got != "homeassistant/sensor/coop/egg/config" {
		t.Errorf("discoveryTopic = %q", got)
	}
}

func TestSensorDefinitions(t *testing.T) {
	p := testPublisher(t)
	defs := p.sensorDefinitions()

	// Two count sensors plus last_detection, cycles, detect_ms, uptime,
	// version.
	if len(defs) != 7 {
		t.Fatalf("got %d sensor definitions, want 7", len(defs))
	}

	byEntity := make(map[string]SensorConfig, len(defs))
	for _, d := range defs {
		byEntity[d.entitySuffix] = d.config
	}

	chicken, ok := byEntity["chicken"]
	if !ok {
		t.Fatal("no chicken sensor")
	}
	if chicken.Name != "coop Chicken Count" {
		t.Errorf("chicken name = %q", chicken.Name)
	}
	if chicken.UniqueID != "inst-123_chicken_count" {
		t.Errorf("chicken unique_id = %q", chicken.UniqueID)
	}
	if chicken.Icon != "mdi:bird" {
		t.Errorf("chicken icon = %q", chicken.Icon)
	}
	if chicken.StateClass != "measurement" {
		t.Errorf("chicken state_class = %q", chicken.StateClass)
	}

	if egg := byEntity["egg"]; egg.Icon != "mdi:egg" {
		t.Errorf("egg icon = %q", egg.Icon)
	}

	if ms := byEntity["detect_ms"]; ms.UnitOfMeasurement != "ms" {
		t.Errorf("detect_ms unit = %q, want ms", ms.UnitOfMeasurement)
	}

	cycles, ok := byEntity["cycles"]
	if !ok {
		t.Fatal("no cycles sensor")
	}
	if cycles.EntityCategory != "diagnostic" {
		t.Errorf("cycles entity_category = %q", cycles.EntityCategory)
	}
	if cycles.StateClass != "total_increasing" {
		t.Errorf("cycles state_class = %q", cycles.StateClass)
	}

	// Every sensor shares the same device block and availability topic.
	for _, d := range defs {
		if d.config.AvailabilityTopic != "henwatch/coop/availability" {
			t.Errorf("%s availability_topic = %q", d.entitySuffix, d.config.AvailabilityTopic)
		}
		if len(d.config.Device.Identifiers) != 1 || d.config.Device.Identifiers[0] != "inst-123" {
			t.Errorf("%s device identifiers = %v", d.entitySuffix, d.config.Device.Identifiers)
		}
	}
}

func TestSensorConfigJSON(t *testing.T) {
	p := testPublisher(t)
	defs := p.sensorDefinitions()

	payload, err := json.Marshal(defs[0].config)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	// HA requires snake_case discovery keys.
	for _, key := range []string{`"unique_id"`, `"state_topic"`, `"availability_topic"`, `"device"`} {
		if !strings.Contains(string(payload), key) {
			t.Errorf("discovery payload missing %s: %s", key, payload)
		}
	}

	// Empty optional fields must be omitted, not published as "".
	if strings.Contains(string(payload), `"entity_category":""`) {
		t.Errorf("empty entity_category not omitted: %s", payload)
	}
}

func TestUnknownLabelFallbackIcon(t *testing.T) {
	cfg := config.MQTTConfig{Broker: "mqtt://b:1883", DeviceName: "coop", DiscoveryPrefix: "homeassistant"}
	labels := []string{"rooster"}
	p := New(cfg, "id", labels, NewCounts(labels), nil, slog.Default())

	defs := p.sensorDefinitions()
	if defs[0].config.Icon != "mdi:counter" {
		t.Errorf("fallback icon = %q, want mdi:counter", defs[0].config.Icon)
	}
}

func TestNewDeviceInfo(t *testing.T) {
	d := NewDeviceInfo("inst-42", "Henhouse")
	if len(d.Identifiers) != 1 || d.Identifiers[0] != "inst-42" {
		t.Errorf("Identifiers = %v", d.Identifiers)
	}
	if d.Name != "Henhouse" {
		t.Errorf("Name = %q", d.Name)
	}
	if d.Model != "Henhouse Monitor" {
		t.Errorf("Model = %q", d.Model)
	}
}

func TestTitleCase(t *testing.T) {
	tests := []struct{ in, want string }{
		{"chicken", "Chicken"},
		{"egg", "Egg"},
		{"Egg", "Egg"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := titleCase(tt.in); got != tt.want {
			t.Errorf("titleCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStopBeforeStart(t *testing.T) {
	p := testPublisher(t)
	if err := p.Stop(context.Background()); err != nil {
		t.Errorf("Stop before Start: %v", err)
	}
}

func TestAwaitConnectionBeforeStart(t *testing.T) {
	p := testPublisher(t)
	if err := p.AwaitConnection(context.Background()); err == nil {
		t.Error("AwaitConnection before Start should fail")
	}
}
