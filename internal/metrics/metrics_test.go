package metrics

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGaugeDisabled(t *testing.T) {
	enabled.Store(false)

	gauge := NewGauge("test_disabled")
	for range 100 {
		gauge.Stopwatch(func() {}, "get_object")
	}
	gauge.Set(1, "put_object")

	if records := gauge.getRecords(); len(records) != 0 {
		t.Errorf("len(records) = %d, want 0 while recording is disabled", len(records))
	}
}

func TestGaugeStopwatch(t *testing.T) {
	Enable()

	gauge := NewGauge("test_latency")

	called := false
	gauge.Stopwatch(func() {
		called = true
	}, "stat_object")

	if !called {
		t.Fatal("stopwatch did not run the function")
	}

	records := gauge.getRecords()
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}

	if diff := cmp.Diff("stat_object", records[0].label); diff != "" {
		t.Errorf("label mismatch (-want +got):\n%s", diff)
	}
	if records[0].value < 0 {
		t.Errorf("duration = %f, want non-negative", records[0].value)
	}
}

func TestWriteMetrics(t *testing.T) {
	Enable()

	gauge := NewGauge("test_write")
	gauge.Set(42, "put_object")

	buf := &bytes.Buffer{}
	if err := WriteMetrics(buf); err != nil {
		t.Fatalf("WriteMetrics: %v", err)
	}

	rows, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}

	if diff := cmp.Diff([]string{"name", "label", "value", "time"}, rows[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	found := false
	for _, row := range rows[1:] {
		if row[0] == "test_write" && row[1] == "put_object" && row[2] == "42" {
			found = true
		}
	}
	if !found {
		t.Errorf("record for test_write not found in %v", rows)
	}
}
