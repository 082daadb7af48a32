package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	gateway "github.com/relaydesk/bulk-gateway/internal/gateways"
	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/internal/queue"
	"github.com/relaydesk/bulk-gateway/internal/repository"
	"github.com/relaydesk/bulk-gateway/pkg/prom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockJobStore struct {
	mock.Mock
}

func (m *MockJobStore) Get(ctx context.Context, id string) (*model.BulkJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BulkJob), args.Error(1)
}

func (m *MockJobStore) UpdateStatus(ctx context.Context, id string, to model.JobStatus, from ...model.JobStatus) error {
	args := m.Called(ctx, id, to, from)
	return args.Error(0)
}

func (m *MockJobStore) AddCounts(ctx context.Context, id string, sentDelta, failedDelta int) error {
	args := m.Called(ctx, id, sentDelta, failedDelta)
	return args.Error(0)
}

func (m *MockJobStore) FinalizeIfComplete(ctx context.Context, id string) (model.JobStatus, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.JobStatus), args.Bool(1), args.Error(2)
}

type MockRecipientStore struct {
	mock.Mock
}

func (m *MockRecipientStore) GetStatuses(ctx context.Context, jobID string, contactIDs []string) (map[string]model.RecipientStatus, error) {
	args := m.Called(ctx, jobID, contactIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]model.RecipientStatus), args.Error(1)
}

func (m *MockRecipientStore) MarkSent(ctx context.Context, jobID, contactID, providerMessageID string, sentAt time.Time) (bool, error) {
	args := m.Called(ctx, jobID, contactID, providerMessageID, sentAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockRecipientStore) MarkFailed(ctx context.Context, jobID, contactID string, reason model.FailReason, detail string) (bool, error) {
	args := m.Called(ctx, jobID, contactID, reason, detail)
	return args.Bool(0), args.Error(1)
}

type MockContactStore struct {
	mock.Mock
}

func (m *MockContactStore) GetByIDs(ctx context.Context, ids []string) ([]*model.Contact, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Contact), args.Error(1)
}

type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(ctx context.Context, channel model.Channel, req *gateway.SendRequest) (*gateway.SendResponse, error) {
	args := m.Called(ctx, channel, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.SendResponse), args.Error(1)
}

const testJobID = "7b9e3a10-55c2-4c8a-9a3f-1f2d3e4a5b6c"

func chunkMessage(t *testing.T, contactIDs []string) *queue.Message {
	data, err := json.Marshal(model.ChunkMessage{
		JobID:      testJobID,
		Seq:        0,
		Channel:    model.ChannelSMS,
		Content:    "hello",
		ContactIDs: contactIDs,
	})
	require.NoError(t, err)
	return &queue.Message{
		ID:       "1-0",
		Data:     data,
		Metadata: map[string]string{"job_id": testJobID, "seq": "0"},
	}
}

func optedInContact(id string) *model.Contact {
	return &model.Contact{
		ID:       id,
		Phone:    "+15550001111",
		OptInSMS: true,
		AllowSMS: true,
	}
}

func pendingStatuses(ids ...string) map[string]model.RecipientStatus {
	m := make(map[string]model.RecipientStatus, len(ids))
	for _, id := range ids {
		m[id] = model.RecipientStatusPending
	}
	return m
}

func unlimitedGate() *RateGate {
	return NewRateGate(map[model.Channel]int{model.ChannelSMS: 0})
}

func TestChunkProcessor_HappyPath(t *testing.T) {
	jobs := new(MockJobStore)
	recipients := new(MockRecipientStore)
	contacts := new(MockContactStore)
	sender := new(MockSender)
	ctx := context.Background()

	p := NewChunkProcessor(jobs, recipients, contacts, sender, unlimitedGate(), nil)

	ids := []string{"c1", "c2"}
	jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
		ID: testJobID, Status: model.JobStatusPending, TotalRecipients: 2,
	}, nil)
	jobs.On("UpdateStatus", ctx, testJobID, model.JobStatusInProgress,
		[]model.JobStatus{model.JobStatusPending}).Return(nil)
	recipients.On("GetStatuses", ctx, testJobID, ids).Return(pendingStatuses(ids...), nil)
	contacts.On("GetByIDs", ctx, ids).Return([]*model.Contact{optedInContact("c1"), optedInContact("c2")}, nil)
	sender.On("Send", ctx, model.ChannelSMS, mock.AnythingOfType("*gateway.SendRequest")).Return(&gateway.SendResponse{
		Status:            gateway.StatusDelivered,
		ProviderMessageID: "prov-1",
	}, nil)
	recipients.On("MarkSent", ctx, testJobID, "c1", "prov-1", mock.AnythingOfType("time.Time")).Return(true, nil)
	recipients.On("MarkSent", ctx, testJobID, "c2", "prov-1", mock.AnythingOfType("time.Time")).Return(true, nil)
	jobs.On("AddCounts", ctx, testJobID, 2, 0).Return(nil)
	jobs.On("FinalizeIfComplete", ctx, testJobID).Return(model.JobStatusCompleted, true, nil)

	err := p.Process(ctx, chunkMessage(t, ids))
	assert.NoError(t, err)
	jobs.AssertExpectations(t)
	recipients.AssertExpectations(t)
}

func TestChunkProcessor_SendDurationObserved(t *testing.T) {
	require.NoError(t, prom.Create("test-host", "test", "bulkgateway"))
	defer func() { prom.MetricSystemEnabled = false }()

	jobs := new(MockJobStore)
	recipients := new(MockRecipientStore)
	contacts := new(MockContactStore)
	sender := new(MockSender)
	ctx := context.Background()

	p := NewChunkProcessor(jobs, recipients, contacts, sender, unlimitedGate(), nil)

	ids := []string{"c1"}
	jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
		ID: testJobID, Status: model.JobStatusInProgress, TotalRecipients: 1,
	}, nil)
	recipients.On("GetStatuses", ctx, testJobID, ids).Return(pendingStatuses(ids...), nil)
	contacts.On("GetByIDs", ctx, ids).Return([]*model.Contact{optedInContact("c1")}, nil)
	sender.On("Send", ctx, model.ChannelSMS, mock.AnythingOfType("*gateway.SendRequest")).Return(&gateway.SendResponse{
		Status:            gateway.StatusDelivered,
		ProviderMessageID: "prov-1",
	}, nil)
	recipients.On("MarkSent", ctx, testJobID, "c1", "prov-1", mock.AnythingOfType("time.Time")).Return(true, nil)
	jobs.On("AddCounts", ctx, testJobID, 1, 0).Return(nil)
	jobs.On("FinalizeIfComplete", ctx, testJobID).Return(model.JobStatusCompleted, true, nil)

	require.NoError(t, p.Process(ctx, chunkMessage(t, ids)))

	// one series labelled with the channel means the provider call was timed
	hist := prom.MetricCollectionHistogramVec[prom.SystemBulk+prom.MetricSendDuration]
	require.NotNil(t, hist)
	assert.Equal(t, 1, testutil.CollectAndCount(hist))
}

func TestChunkProcessor_PolicyGate(t *testing.T) {
	jobs := new(MockJobStore)
	recipients := new(MockRecipientStore)
	contacts := new(MockContactStore)
	sender := new(MockSender)
	ctx := context.Background()

	p := NewChunkProcessor(jobs, recipients, contacts, sender, unlimitedGate(), nil)

	ids := []string{"opted", "refused", "blocked"}
	jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
		ID: testJobID, Status: model.JobStatusInProgress, TotalRecipients: 3,
	}, nil)
	recipients.On("GetStatuses", ctx, testJobID, ids).Return(pendingStatuses(ids...), nil)

	refused := optedInContact("refused")
	refused.OptInSMS = false
	blocked := optedInContact("blocked")
	blocked.AllowSMS = false
	contacts.On("GetByIDs", ctx, ids).Return([]*model.Contact{optedInContact("opted"), refused, blocked}, nil)

	sender.On("Send", ctx, model.ChannelSMS, mock.MatchedBy(func(req *gateway.SendRequest) bool {
		return req.MessageID == testJobID+":opted"
	})).Return(&gateway.SendResponse{Status: gateway.StatusDelivered, ProviderMessageID: "prov-1"}, nil)
	recipients.On("MarkSent", ctx, testJobID, "opted", "prov-1", mock.Anything).Return(true, nil)
	recipients.On("MarkFailed", ctx, testJobID, "refused", model.FailReasonPolicy, mock.Anything).Return(true, nil)
	recipients.On("MarkFailed", ctx, testJobID, "blocked", model.FailReasonPolicy, mock.Anything).Return(true, nil)
	jobs.On("AddCounts", ctx, testJobID, 1, 2).Return(nil)
	jobs.On("FinalizeIfComplete", ctx, testJobID).Return(model.JobStatusInProgress, false, nil)

	err := p.Process(ctx, chunkMessage(t, ids))
	assert.NoError(t, err)

	// provider is only reached for the opted-in contact
	sender.AssertNumberOfCalls(t, "Send", 1)
	jobs.AssertExpectations(t)
	recipients.AssertExpectations(t)
}

func TestChunkProcessor_RedeliverySkipsTerminalRecipients(t *testing.T) {
	jobs := new(MockJobStore)
	recipients := new(MockRecipientStore)
	contacts := new(MockContactStore)
	sender := new(MockSender)
	ctx := context.Background()

	p := NewChunkProcessor(jobs, recipients, contacts, sender, unlimitedGate(), nil)

	ids := []string{"done", "failed", "fresh"}
	jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
		ID: testJobID, Status: model.JobStatusInProgress, TotalRecipients: 3,
	}, nil)
	recipients.On("GetStatuses", ctx, testJobID, ids).Return(map[string]model.RecipientStatus{
		"done":   model.RecipientStatusSent,
		"failed": model.RecipientStatusFailed,
		"fresh":  model.RecipientStatusPending,
	}, nil)
	contacts.On("GetByIDs", ctx, ids).Return([]*model.Contact{
		optedInContact("done"), optedInContact("failed"), optedInContact("fresh"),
	}, nil)
	sender.On("Send", ctx, model.ChannelSMS, mock.MatchedBy(func(req *gateway.SendRequest) bool {
		return req.MessageID == testJobID+":fresh"
	})).Return(&gateway.SendResponse{Status: gateway.StatusDelivered, ProviderMessageID: "prov-9"}, nil)
	recipients.On("MarkSent", ctx, testJobID, "fresh", "prov-9", mock.Anything).Return(true, nil)
	jobs.On("AddCounts", ctx, testJobID, 1, 0).Return(nil)
	jobs.On("FinalizeIfComplete", ctx, testJobID).Return(model.JobStatusCompleted, true, nil)

	err := p.Process(ctx, chunkMessage(t, ids))
	assert.NoError(t, err)

	// already-terminal recipients are never re-sent or re-counted
	sender.AssertNumberOfCalls(t, "Send", 1)
	jobs.AssertExpectations(t)
}

func TestChunkProcessor_CancelledJob(t *testing.T) {
	jobs := new(MockJobStore)
	recipients := new(MockRecipientStore)
	contacts := new(MockContactStore)
	sender := new(MockSender)
	ctx := context.Background()

	p := NewChunkProcessor(jobs, recipients, contacts, sender, unlimitedGate(), nil)

	ids := []string{"c1", "c2"}
	jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
		ID: testJobID, Status: model.JobStatusCancelled, TotalRecipients: 2,
	}, nil)
	recipients.On("GetStatuses", ctx, testJobID, ids).Return(map[string]model.RecipientStatus{
		"c1": model.RecipientStatusSent,
		"c2": model.RecipientStatusPending,
	}, nil)
	recipients.On("MarkFailed", ctx, testJobID, "c2", model.FailReasonCancelled, mock.Anything).Return(true, nil)

	err := p.Process(ctx, chunkMessage(t, ids))
	assert.NoError(t, err)

	// no provider traffic, and cancelled jobs keep their counts frozen
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	jobs.AssertNotCalled(t, "AddCounts", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	recipients.AssertExpectations(t)
}

func TestChunkProcessor_PausedJob(t *testing.T) {
	jobs := new(MockJobStore)
	recipients := new(MockRecipientStore)
	contacts := new(MockContactStore)
	sender := new(MockSender)
	ctx := context.Background()

	p := NewChunkProcessor(jobs, recipients, contacts, sender, unlimitedGate(), nil)

	jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
		ID: testJobID, Status: model.JobStatusPaused, TotalRecipients: 2,
	}, nil)

	err := p.Process(ctx, chunkMessage(t, []string{"c1", "c2"}))
	assert.ErrorIs(t, err, ErrJobPaused)

	// the chunk stays on the queue untouched
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	recipients.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestChunkProcessor_CompletedJobAcks(t *testing.T) {
	jobs := new(MockJobStore)
	p := NewChunkProcessor(jobs, new(MockRecipientStore), new(MockContactStore), new(MockSender), unlimitedGate(), nil)
	ctx := context.Background()

	jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
		ID: testJobID, Status: model.JobStatusCompleted,
	}, nil)

	err := p.Process(ctx, chunkMessage(t, []string{"c1"}))
	assert.NoError(t, err)
}

func TestChunkProcessor_ProviderErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("permanent failure marks the recipient failed", func(t *testing.T) {
		jobs := new(MockJobStore)
		recipients := new(MockRecipientStore)
		contacts := new(MockContactStore)
		sender := new(MockSender)
		p := NewChunkProcessor(jobs, recipients, contacts, sender, unlimitedGate(), nil)

		ids := []string{"c1"}
		jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
			ID: testJobID, Status: model.JobStatusInProgress, TotalRecipients: 1,
		}, nil)
		recipients.On("GetStatuses", ctx, testJobID, ids).Return(pendingStatuses(ids...), nil)
		contacts.On("GetByIDs", ctx, ids).Return([]*model.Contact{optedInContact("c1")}, nil)
		sender.On("Send", ctx, model.ChannelSMS, mock.Anything).Return(nil,
			&gateway.SendError{Code: "INVALID_ADDRESS", Detail: "bad number", Permanent: true})
		recipients.On("MarkFailed", ctx, testJobID, "c1", model.FailReasonProvider, mock.Anything).Return(true, nil)
		jobs.On("AddCounts", ctx, testJobID, 0, 1).Return(nil)
		jobs.On("FinalizeIfComplete", ctx, testJobID).Return(model.JobStatusFailed, true, nil)

		err := p.Process(ctx, chunkMessage(t, ids))
		assert.NoError(t, err)
		recipients.AssertExpectations(t)
	})

	t.Run("transient failure leaves the recipient pending and nacks", func(t *testing.T) {
		jobs := new(MockJobStore)
		recipients := new(MockRecipientStore)
		contacts := new(MockContactStore)
		sender := new(MockSender)
		p := NewChunkProcessor(jobs, recipients, contacts, sender, unlimitedGate(), nil)

		ids := []string{"c1", "c2"}
		jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
			ID: testJobID, Status: model.JobStatusInProgress, TotalRecipients: 2,
		}, nil)
		recipients.On("GetStatuses", ctx, testJobID, ids).Return(pendingStatuses(ids...), nil)
		contacts.On("GetByIDs", ctx, ids).Return([]*model.Contact{optedInContact("c1"), optedInContact("c2")}, nil)
		sender.On("Send", ctx, model.ChannelSMS, mock.MatchedBy(func(req *gateway.SendRequest) bool {
			return req.MessageID == testJobID+":c1"
		})).Return(nil, &gateway.SendError{Code: "http_503", Detail: "overloaded"})
		sender.On("Send", ctx, model.ChannelSMS, mock.MatchedBy(func(req *gateway.SendRequest) bool {
			return req.MessageID == testJobID+":c2"
		})).Return(&gateway.SendResponse{Status: gateway.StatusDelivered, ProviderMessageID: "prov-2"}, nil)
		recipients.On("MarkSent", ctx, testJobID, "c2", "prov-2", mock.Anything).Return(true, nil)
		jobs.On("AddCounts", ctx, testJobID, 1, 0).Return(nil)
		jobs.On("FinalizeIfComplete", ctx, testJobID).Return(model.JobStatusInProgress, false, nil)

		err := p.Process(ctx, chunkMessage(t, ids))
		assert.Error(t, err)

		// the transient recipient is never marked, the redelivered chunk retries it
		recipients.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestChunkProcessor_MissingContactFailsPolicy(t *testing.T) {
	jobs := new(MockJobStore)
	recipients := new(MockRecipientStore)
	contacts := new(MockContactStore)
	sender := new(MockSender)
	ctx := context.Background()

	p := NewChunkProcessor(jobs, recipients, contacts, sender, unlimitedGate(), nil)

	ids := []string{"gone"}
	jobs.On("Get", ctx, testJobID).Return(&model.BulkJob{
		ID: testJobID, Status: model.JobStatusInProgress, TotalRecipients: 1,
	}, nil)
	recipients.On("GetStatuses", ctx, testJobID, ids).Return(pendingStatuses(ids...), nil)
	contacts.On("GetByIDs", ctx, ids).Return([]*model.Contact{}, nil)
	recipients.On("MarkFailed", ctx, testJobID, "gone", model.FailReasonPolicy, mock.Anything).Return(true, nil)
	jobs.On("AddCounts", ctx, testJobID, 0, 1).Return(nil)
	jobs.On("FinalizeIfComplete", ctx, testJobID).Return(model.JobStatusFailed, true, nil)

	err := p.Process(ctx, chunkMessage(t, ids))
	assert.NoError(t, err)
	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
}

func TestChunkProcessor_UnknownJob(t *testing.T) {
	jobs := new(MockJobStore)
	p := NewChunkProcessor(jobs, new(MockRecipientStore), new(MockContactStore), new(MockSender), unlimitedGate(), nil)
	ctx := context.Background()

	jobs.On("Get", ctx, testJobID).Return(nil, repository.ErrNotFound)

	err := p.Process(ctx, chunkMessage(t, []string{"c1"}))
	assert.Error(t, err)
}

func TestChunkProcessor_MalformedPayload(t *testing.T) {
	p := NewChunkProcessor(new(MockJobStore), new(MockRecipientStore), new(MockContactStore), new(MockSender), unlimitedGate(), nil)

	err := p.Process(context.Background(), &queue.Message{ID: "1-0", Data: []byte("{not json")})
	assert.Error(t, err)
}
