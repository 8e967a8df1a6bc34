package observ

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"testing"
)

func TestCounterSumsAcrossLabels(t *testing.T) {
	IncCounter("test_counter", map[string]string{"symbol": "BTC"})
	IncCounter("test_counter", map[string]string{"symbol": "ETH"})
	IncCounter("test_counter", map[string]string{"symbol": "BTC"})

	if got := CounterValue("test_counter"); got != 3 {
		t.Errorf("CounterValue = %d, want 3", got)
	}
}

func TestLogEmitsJSONLine(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	Log("test_event", map[string]any{"symbol": "BTC", "price": 100.5})

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if line["event"] != "test_event" {
		t.Errorf("event = %v", line["event"])
	}
	if _, ok := line["ts"]; !ok {
		t.Error("missing ts")
	}
}

func TestHealthHandler(t *testing.T) {
	SetGauge("engine_running", 1, nil)
	rec := httptest.NewRecorder()
	HealthHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v", body["status"])
	}
	if body["running"] != true {
		t.Errorf("running = %v", body["running"])
	}
}
