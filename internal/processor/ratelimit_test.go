package processor

import (
	"context"
	"testing"
	"time"

	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateGate_UnknownChannelPasses(t *testing.T) {
	gate := NewRateGate(map[model.Channel]int{
		model.ChannelSMS: 10,
	})

	err := gate.Wait(context.Background(), model.ChannelEmail)
	assert.NoError(t, err)
}

func TestRateGate_ZeroCapIsUnlimited(t *testing.T) {
	gate := NewRateGate(map[model.Channel]int{
		model.ChannelSMS: 0,
	})

	start := time.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, gate.Wait(context.Background(), model.ChannelSMS))
	}
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateGate_BurstWithinCap(t *testing.T) {
	gate := NewRateGate(map[model.Channel]int{
		model.ChannelSMS: 50,
	})

	// The bucket starts full, so a burst up to the cap passes without waiting.
	start := time.Now()
	for i := 0; i < 50; i++ {
		require.NoError(t, gate.Wait(context.Background(), model.ChannelSMS))
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRateGate_ThrottlesAboveCap(t *testing.T) {
	gate := NewRateGate(map[model.Channel]int{
		model.ChannelSMS: 10,
	})

	// Drain the initial burst, then the next sends must wait for refill.
	for i := 0; i < 10; i++ {
		require.NoError(t, gate.Wait(context.Background(), model.ChannelSMS))
	}

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, gate.Wait(context.Background(), model.ChannelSMS))
	}
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestRateGate_WaitHonorsContext(t *testing.T) {
	gate := NewRateGate(map[model.Channel]int{
		model.ChannelSMS: 1,
	})

	require.NoError(t, gate.Wait(context.Background(), model.ChannelSMS))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := gate.Wait(ctx, model.ChannelSMS)
	assert.Error(t, err)
}
