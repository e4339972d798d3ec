package telemetry

import (
	"testing"
	"time"

	"github.com/modelfleet/modelfleet/config"
)

func TestRecordModelCallAggregates(t *testing.T) {
	tele := NewTelemetry(config.TelemetryConfig{})

	tele.RecordModelCall("alpha", true, 100*time.Millisecond)
	tele.RecordModelCall("alpha", false, 300*time.Millisecond)
	tele.RecordModelCall("beta", true, 50*time.Millisecond)

	m := tele.GetMetrics()
	if m.ModelCalls["alpha"] != 2 || m.ModelCalls["beta"] != 1 {
		t.Fatalf("calls = %+v", m.ModelCalls)
	}
	if m.ModelFailures["alpha"] != 1 || m.ModelFailures["beta"] != 0 {
		t.Fatalf("failures = %+v", m.ModelFailures)
	}
	if got := m.AverageCallTimes["alpha"]; got != 200*time.Millisecond {
		t.Fatalf("average = %s, want 200ms", got)
	}
}

func TestRecordRoundTracksCancellations(t *testing.T) {
	tele := NewTelemetry(config.TelemetryConfig{})
	tele.RecordRound("completed")
	tele.RecordRound("cancelled")
	tele.RecordRound("failed")

	m := tele.GetMetrics()
	if m.TotalRounds != 3 || m.CancelledRounds != 1 {
		t.Fatalf("rounds = %+v", m)
	}
}

func TestRecordTokens(t *testing.T) {
	tele := NewTelemetry(config.TelemetryConfig{})
	tele.RecordTokens("alpha", 3)
	tele.RecordTokens("alpha", 0)
	tele.RecordTokens("alpha", -1)
	if got := tele.GetMetrics().ModelTokens["alpha"]; got != 3 {
		t.Fatalf("tokens = %d", got)
	}
}

func TestNilTelemetryIsSafe(t *testing.T) {
	var tele *Telemetry
	tele.RecordRound("completed")
	tele.RecordModelCall("alpha", true, time.Second)
	tele.RecordTokens("alpha", 1)
	tele.RecordRetry("alpha")
}
