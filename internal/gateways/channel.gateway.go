package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

var ErrChannelNotConfigured = errors.New("no provider endpoint configured for channel")

type DeliveryStatus string

const (
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
	StatusPending   DeliveryStatus = "PENDING"
)

type SendRequest struct {
	MessageID string `json:"message_id"`
	JobID     string `json:"job_id"`
	Channel   string `json:"channel"`
	Address   string `json:"address"`
	Content   string `json:"content"`
}

type SendResponse struct {
	MessageID         string         `json:"message_id"`
	ProviderMessageID string         `json:"provider_message_id"`
	Status            DeliveryStatus `json:"status"`
	ErrorCode         string         `json:"error_code,omitempty"`
	ErrorMsg          string         `json:"error_message,omitempty"`
	ProcessedAt       time.Time      `json:"processed_at"`
}

// SendError distinguishes failures the queue should retry (transient:
// timeouts, 5xx, rate limits) from ones it must not (permanent: bad
// address, rejected template, provider-reported failure).
type SendError struct {
	Code      string
	Detail    string
	Permanent bool
}

func (e *SendError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	return fmt.Sprintf("%s send error [%s]: %s", kind, e.Code, e.Detail)
}

// ChannelMetrics tracks per-channel request outcomes.
type ChannelMetrics struct {
	TotalRequests  atomic.Int64
	SuccessfulReqs atomic.Int64
	FailedReqs     atomic.Int64
	TotalLatencyMs atomic.Int64
	LastLatencyMs  atomic.Int64
}

func (m *ChannelMetrics) RecordSuccess(latencyMs int64) {
	m.TotalRequests.Add(1)
	m.SuccessfulReqs.Add(1)
	m.TotalLatencyMs.Add(latencyMs)
	m.LastLatencyMs.Store(latencyMs)
}

func (m *ChannelMetrics) RecordFailure() {
	m.TotalRequests.Add(1)
	m.FailedReqs.Add(1)
}

func (m *ChannelMetrics) AvgLatencyMs() int64 {
	total := m.TotalRequests.Load()
	if total == 0 {
		return 0
	}
	return m.TotalLatencyMs.Load() / total
}

type Config struct {
	// Endpoints maps each channel to its provider base URL.
	Endpoints       map[model.Channel]string
	Timeout         time.Duration
	MaxConns        int
	ReadBufferSize  int
	WriteBufferSize int
}

// Client delivers messages through one provider endpoint per channel.
type Client struct {
	config    *Config
	client    *fasthttp.Client
	endpoints map[model.Channel]string
	metrics   map[model.Channel]*ChannelMetrics
}

func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}
	if len(config.Endpoints) == 0 {
		return nil, errors.New("at least one channel endpoint is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	httpClient := &fasthttp.Client{
		MaxConnsPerHost:     config.MaxConns,
		ReadTimeout:         config.Timeout,
		WriteTimeout:        config.Timeout,
		MaxIdleConnDuration: 60 * time.Second,
		ReadBufferSize:      config.ReadBufferSize,
		WriteBufferSize:     config.WriteBufferSize,
	}

	c := &Client{
		config:    config,
		client:    httpClient,
		endpoints: make(map[model.Channel]string, len(config.Endpoints)),
		metrics:   make(map[model.Channel]*ChannelMetrics, len(config.Endpoints)),
	}
	for ch, url := range config.Endpoints {
		if url == "" {
			continue
		}
		c.endpoints[ch] = url
		c.metrics[ch] = &ChannelMetrics{}
		logger.Info("Channel provider initialized", "channel", string(ch), "url", url)
	}

	return c, nil
}

// Send delivers one message through the channel's provider. The error,
// when non-nil, is a *SendError carrying the transient/permanent split.
func (c *Client) Send(ctx context.Context, channel model.Channel, req *SendRequest) (*SendResponse, error) {
	endpoint, ok := c.endpoints[channel]
	if !ok {
		return nil, ErrChannelNotConfigured
	}
	metrics := c.metrics[channel]

	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, &SendError{Code: "marshal", Detail: err.Error(), Permanent: true}
	}

	startTime := time.Now()
	statusCode, body, err := c.doRequest(ctx, endpoint+"/send", reqBody)
	latency := time.Since(startTime).Milliseconds()

	if err != nil {
		metrics.RecordFailure()
		return nil, &SendError{Code: "network", Detail: err.Error()}
	}

	switch {
	case statusCode >= 500 || statusCode == fasthttp.StatusTooManyRequests:
		metrics.RecordFailure()
		return nil, &SendError{Code: fmt.Sprintf("http_%d", statusCode), Detail: string(body)}
	case statusCode >= 400:
		metrics.RecordFailure()
		return nil, &SendError{Code: fmt.Sprintf("http_%d", statusCode), Detail: string(body), Permanent: true}
	}

	var resp SendResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.RecordFailure()
		return nil, &SendError{Code: "decode", Detail: err.Error()}
	}

	if resp.Status == StatusFailed {
		metrics.RecordFailure()
		return &resp, &SendError{Code: resp.ErrorCode, Detail: resp.ErrorMsg, Permanent: true}
	}

	metrics.RecordSuccess(latency)
	logger.Debug("message sent to provider",
		"message_id", req.MessageID,
		"channel", string(channel),
		"status", string(resp.Status),
		"latency_ms", latency)

	return &resp, nil
}

// Metrics returns the per-channel counters, for reporting.
func (c *Client) Metrics(channel model.Channel) *ChannelMetrics {
	return c.metrics[channel]
}

func (c *Client) doRequest(ctx context.Context, url string, body []byte) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return 0, nil, err
	}

	out := make([]byte, len(resp.Body()))
	copy(out, resp.Body())
	return resp.StatusCode(), out, nil
}

// IsPermanent reports whether err is a non-retryable send failure.
func IsPermanent(err error) bool {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Permanent
	}
	return false
}
