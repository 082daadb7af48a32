package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelMetrics_RecordSuccess(t *testing.T) {
	metrics := &ChannelMetrics{}

	metrics.RecordSuccess(100)
	metrics.RecordSuccess(200)

	assert.Equal(t, int64(2), metrics.TotalRequests.Load())
	assert.Equal(t, int64(2), metrics.SuccessfulReqs.Load())
	assert.Equal(t, int64(0), metrics.FailedReqs.Load())
	assert.Equal(t, int64(150), metrics.AvgLatencyMs())
	assert.Equal(t, int64(200), metrics.LastLatencyMs.Load())
}

func TestChannelMetrics_RecordFailure(t *testing.T) {
	metrics := &ChannelMetrics{}

	metrics.RecordSuccess(100)
	metrics.RecordFailure()
	metrics.RecordFailure()

	assert.Equal(t, int64(3), metrics.TotalRequests.Load())
	assert.Equal(t, int64(1), metrics.SuccessfulReqs.Load())
	assert.Equal(t, int64(2), metrics.FailedReqs.Load())
}

func TestChannelMetrics_AvgLatencyEmpty(t *testing.T) {
	metrics := &ChannelMetrics{}
	assert.Equal(t, int64(0), metrics.AvgLatencyMs())
}

func TestNewClient_Validation(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewClient(nil)
		assert.Error(t, err)
	})

	t.Run("no endpoints", func(t *testing.T) {
		_, err := NewClient(&Config{Endpoints: map[model.Channel]string{}})
		assert.Error(t, err)
	})

	t.Run("default timeout applied", func(t *testing.T) {
		config := &Config{Endpoints: map[model.Channel]string{
			model.ChannelSMS: "http://localhost:9999",
		}}
		client, err := NewClient(config)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, config.Timeout)
		assert.NotNil(t, client.Metrics(model.ChannelSMS))
	})

	t.Run("empty endpoint URLs are skipped", func(t *testing.T) {
		client, err := NewClient(&Config{Endpoints: map[model.Channel]string{
			model.ChannelSMS:      "http://localhost:9999",
			model.ChannelWhatsApp: "",
		}})
		require.NoError(t, err)
		assert.NotNil(t, client.Metrics(model.ChannelSMS))
		assert.Nil(t, client.Metrics(model.ChannelWhatsApp))
	})
}

func TestClient_SendUnconfiguredChannel(t *testing.T) {
	client, err := NewClient(&Config{Endpoints: map[model.Channel]string{
		model.ChannelSMS: "http://localhost:9999",
	}})
	require.NoError(t, err)

	_, err = client.Send(context.Background(), model.ChannelEmail, &SendRequest{
		MessageID: "job-1:c1",
		Address:   "a@b.com",
		Content:   "hi",
	})
	assert.ErrorIs(t, err, ErrChannelNotConfigured)
}

func TestSendError_Error(t *testing.T) {
	transient := &SendError{Code: "http_503", Detail: "overloaded"}
	assert.Contains(t, transient.Error(), "transient")
	assert.Contains(t, transient.Error(), "http_503")

	permanent := &SendError{Code: "INVALID_RECIPIENT", Detail: "bad address", Permanent: true}
	assert.Contains(t, permanent.Error(), "permanent")
}

func TestIsPermanent(t *testing.T) {
	t.Run("permanent send error", func(t *testing.T) {
		assert.True(t, IsPermanent(&SendError{Code: "http_400", Permanent: true}))
	})

	t.Run("transient send error", func(t *testing.T) {
		assert.False(t, IsPermanent(&SendError{Code: "http_503"}))
	})

	t.Run("wrapped send error", func(t *testing.T) {
		wrapped := fmt.Errorf("chunk delivery: %w", &SendError{Code: "rejected", Permanent: true})
		assert.True(t, IsPermanent(wrapped))
	})

	t.Run("unrelated error", func(t *testing.T) {
		assert.False(t, IsPermanent(errors.New("boom")))
	})

	t.Run("nil error", func(t *testing.T) {
		assert.False(t, IsPermanent(nil))
	})
}
