package backup

import (
	"testing"
	"time"
)

func TestOpenMetricsSinkDisabledWithEmptyConnString(t *testing.T) {
	sink, err := OpenMetricsSink("")
	if err != nil {
		t.Fatalf("OpenMetricsSink: %v", err)
	}
	if sink != nil {
		t.Fatal("expected a nil sink when no connection string is configured")
	}
	if err := sink.Write(time.Now(), 0, 0, 0, 0, "Charge"); err != nil {
		t.Fatalf("Write on a disabled sink should be a no-op, got: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close on a disabled sink should be a no-op, got: %v", err)
	}
}
