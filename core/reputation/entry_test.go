package reputation

import (
	"testing"
	"time"
)

func TestStatusThresholds(t *testing.T) {
	th := thresholds{minInclusionDenominator: 10, throttlingSlack: 2, banSlack: 5}

	tests := []struct {
		name        string
		opsSeen     uint64
		opsIncluded uint64
		want        Status
	}{
		{"well within throttling slack", 10, 1, OK},
		{"exactly at throttling slack boundary", 40, 2, OK},
		{"past throttling but within ban slack", 60, 1, THROTTLED},
		{"past ban slack", 100, 0, BANNED},
		{"no ops seen yet", 0, 0, OK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry{OpsSeen: tt.opsSeen, OpsIncluded: tt.opsIncluded}
			if got := e.status(th); got != tt.want {
				t.Errorf("status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStatusThresholdsLiteralBoundary(t *testing.T) {
	th := thresholds{minInclusionDenominator: 10, throttlingSlack: 10, banSlack: 50}

	tests := []struct {
		name    string
		opsSeen uint64
		want    Status
	}{
		{"at the OK boundary", 100, OK},
		{"one past OK", 101, THROTTLED},
		{"at BANNED", 501, BANNED},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry{OpsSeen: tt.opsSeen}
			if got := e.status(th); got != tt.want {
				t.Errorf("status() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecayReducesCountersByElapsedHours(t *testing.T) {
	start := time.Now()
	e := &Entry{OpsSeen: 1000, OpsIncluded: 240, LastUpdateTime: start}

	e.decay(start.Add(2 * time.Hour))

	// Each elapsed hour subtracts floor(x/24): 1000 -> 959 (1000-41) -> 920 (959-39)
	want := uint64(1000)
	for i := 0; i < 2; i++ {
		want -= want / 24
	}
	if e.OpsSeen != want {
		t.Errorf("OpsSeen after 2h decay = %d, want %d", e.OpsSeen, want)
	}
	if !e.LastUpdateTime.Equal(start.Add(2 * time.Hour)) {
		t.Error("expected LastUpdateTime to advance to the decay call time")
	}
}

func TestDecayIsNoOpWithinTheSameHour(t *testing.T) {
	start := time.Now()
	e := &Entry{OpsSeen: 100, LastUpdateTime: start}

	e.decay(start.Add(30 * time.Minute))

	if e.OpsSeen != 100 {
		t.Errorf("OpsSeen = %d, want unchanged 100", e.OpsSeen)
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{OK: "OK", THROTTLED: "THROTTLED", BANNED: "BANNED", Status(99): "UNKNOWN"}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}
