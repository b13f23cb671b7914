package reputation

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Status is the reputation classification returned by GetStatus.
type Status int

const (
	OK Status = iota
	THROTTLED
	BANNED
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case THROTTLED:
		return "THROTTLED"
	case BANNED:
		return "BANNED"
	default:
		return "UNKNOWN"
	}
}

// Entry is the per-address counters backing status computation.
type Entry struct {
	ChainID        *big.Int       `json:"chainId"`
	Address        common.Address `json:"address"`
	OpsSeen        uint64         `json:"opsSeen"`
	OpsIncluded    uint64         `json:"opsIncluded"`
	LastUpdateTime time.Time      `json:"lastUpdateTime"`
}

// thresholds bundles the three network-configured knobs status computation
// and decay need together, so callers don't pass three raw uints around.
type thresholds struct {
	minInclusionDenominator uint64
	throttlingSlack         uint64
	banSlack                uint64
}

// status computes OK/THROTTLED/BANNED from the current counters.
func (e *Entry) status(t thresholds) Status {
	var minExpectedIncluded uint64
	if t.minInclusionDenominator > 0 {
		minExpectedIncluded = (e.OpsSeen + t.minInclusionDenominator - 1) / t.minInclusionDenominator
	}

	if minExpectedIncluded <= e.OpsIncluded+t.throttlingSlack {
		return OK
	}
	if minExpectedIncluded <= e.OpsIncluded+t.banSlack {
		return THROTTLED
	}
	return BANNED
}

// decay applies hourly decay to both counters based on elapsed time since
// LastUpdateTime, reducing each by floor(x/24) per elapsed hour. This keeps a
// previously misbehaving entity from being permanently banned once it stops
// misbehaving.
func (e *Entry) decay(now time.Time) {
	if e.LastUpdateTime.IsZero() {
		e.LastUpdateTime = now
		return
	}

	hours := int(now.Sub(e.LastUpdateTime).Hours())
	if hours <= 0 {
		return
	}

	for i := 0; i < hours; i++ {
		e.OpsSeen -= e.OpsSeen / 24
		e.OpsIncluded -= e.OpsIncluded / 24
	}
	e.LastUpdateTime = now
}
