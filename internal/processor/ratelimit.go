package processor

import (
	"context"

	"github.com/relaydesk/bulk-gateway/internal/model"
	"golang.org/x/time/rate"
)

// RateGate enforces the per-channel messages-per-second caps the
// providers impose. Workers wait at the gate before every send; the
// gate never drops, callers that cannot wait cancel their context.
type RateGate struct {
	limiters map[model.Channel]*rate.Limiter
}

// NewRateGate builds one limiter per channel; a zero or missing cap
// means the channel is unlimited.
func NewRateGate(perSecond map[model.Channel]int) *RateGate {
	limiters := make(map[model.Channel]*rate.Limiter, len(perSecond))
	for ch, rps := range perSecond {
		if rps <= 0 {
			limiters[ch] = rate.NewLimiter(rate.Inf, 0)
			continue
		}
		limiters[ch] = rate.NewLimiter(rate.Limit(rps), rps)
	}
	return &RateGate{limiters: limiters}
}

// Wait blocks until the channel has budget for one send, or the
// context is done.
func (g *RateGate) Wait(ctx context.Context, ch model.Channel) error {
	lim, ok := g.limiters[ch]
	if !ok {
		return nil
	}
	return lim.Wait(ctx)
}
