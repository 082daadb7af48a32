package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/relaydesk/bulk-gateway/internal/model"
	"github.com/relaydesk/bulk-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) Create(ctx context.Context, job *model.BulkJob) (*model.BulkJob, error) {
	args := m.Called(ctx, job)
	if args.Get(0) == nil {
		// echo the input row, the way the real repository does
		return job, args.Error(1)
	}
	return args.Get(0).(*model.BulkJob), args.Error(1)
}

func (m *MockJobRepository) Get(ctx context.Context, id string) (*model.BulkJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.BulkJob), args.Error(1)
}

func (m *MockJobRepository) List(ctx context.Context, f model.JobFilter) ([]*model.BulkJob, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.BulkJob), args.Get(1).(int64), args.Error(2)
}

func (m *MockJobRepository) UpdateStatus(ctx context.Context, id string, to model.JobStatus, from ...model.JobStatus) error {
	args := m.Called(ctx, id, to, from)
	return args.Error(0)
}

func (m *MockJobRepository) FinalizeIfComplete(ctx context.Context, id string) (model.JobStatus, bool, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.JobStatus), args.Bool(1), args.Error(2)
}

func (m *MockJobRepository) GetWithRecipients(ctx context.Context, id string) (*model.JobWithRecipients, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.JobWithRecipients), args.Error(1)
}

func (m *MockJobRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

type MockRecipientRepository struct {
	mock.Mock
}

func (m *MockRecipientRepository) BulkCreate(ctx context.Context, recipients []*model.BulkRecipient) error {
	args := m.Called(ctx, recipients)
	return args.Error(0)
}

type MockContactRepository struct {
	mock.Mock
}

func (m *MockContactRepository) GetByIDs(ctx context.Context, ids []string) ([]*model.Contact, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Contact), args.Error(1)
}

type MockChunkPublisher struct {
	mock.Mock
}

func (m *MockChunkPublisher) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	args := m.Called(ctx, data, metadata)
	return args.String(0), args.Error(1)
}

func makeContacts(n int) ([]string, []*model.Contact) {
	ids := make([]string, n)
	contacts := make([]*model.Contact, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("contact-%03d", i)
		ids[i] = id
		contacts[i] = &model.Contact{
			ID:       id,
			Name:     fmt.Sprintf("Contact %d", i),
			Phone:    fmt.Sprintf("+1555000%04d", i),
			Email:    fmt.Sprintf("contact%d@example.com", i),
			OptInSMS: true,
			AllowSMS: true,
		}
	}
	return ids, contacts
}

func TestJobService_Create(t *testing.T) {
	jobRepo := new(MockJobRepository)
	recipientRepo := new(MockRecipientRepository)
	contactRepo := new(MockContactRepository)
	publisher := new(MockChunkPublisher)
	ctx := context.Background()

	service := NewJobService(jobRepo, recipientRepo, contactRepo, publisher)
	service.SetChunkSize(2)

	ids, contacts := makeContacts(5)

	contactRepo.On("GetByIDs", ctx, ids).Return(contacts, nil)
	jobRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	jobRepo.On("Create", ctx, mock.AnythingOfType("*model.BulkJob")).Return(nil, nil)
	recipientRepo.On("BulkCreate", ctx, mock.AnythingOfType("[]*model.BulkRecipient")).Return(nil)
	publisher.On("PublishJSON", ctx, mock.AnythingOfType("model.ChunkMessage"), mock.Anything).Return("1-0", nil)

	job, err := service.Create(ctx, model.JobCreateRequest{
		CreatedBy:  "ops@example.com",
		Channel:    model.ChannelSMS,
		ContactIDs: ids,
		Content:    "hello",
	})
	require.NoError(t, err)

	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 5, job.TotalRecipients)
	assert.NotEmpty(t, job.ID)

	// 5 recipients at chunk size 2 means 3 chunks
	publisher.AssertNumberOfCalls(t, "PublishJSON", 3)

	// recipient rows snapshot the channel address
	recipientRepo.AssertCalled(t, "BulkCreate", ctx, mock.MatchedBy(func(rs []*model.BulkRecipient) bool {
		if len(rs) != 5 {
			return false
		}
		for i, r := range rs {
			if r.JobID != job.ID || r.ContactID != ids[i] || r.Status != model.RecipientStatusPending {
				return false
			}
			if r.Address != contacts[i].Phone {
				return false
			}
		}
		return true
	}))
}

func TestJobService_Create_DeduplicatesRecipients(t *testing.T) {
	jobRepo := new(MockJobRepository)
	recipientRepo := new(MockRecipientRepository)
	contactRepo := new(MockContactRepository)
	publisher := new(MockChunkPublisher)
	ctx := context.Background()

	service := NewJobService(jobRepo, recipientRepo, contactRepo, publisher)

	ids, contacts := makeContacts(3)
	withDupes := append(append([]string{}, ids...), ids[0], ids[2])

	contactRepo.On("GetByIDs", ctx, ids).Return(contacts, nil)
	jobRepo.On("WithinTransaction", ctx, mock.Anything).Return(nil)
	jobRepo.On("Create", ctx, mock.AnythingOfType("*model.BulkJob")).Return(nil, nil)
	recipientRepo.On("BulkCreate", ctx, mock.Anything).Return(nil)
	publisher.On("PublishJSON", ctx, mock.Anything, mock.Anything).Return("1-0", nil)

	job, err := service.Create(ctx, model.JobCreateRequest{
		CreatedBy:  "ops@example.com",
		Channel:    model.ChannelSMS,
		ContactIDs: withDupes,
		Content:    "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, job.TotalRecipients)
}

func TestJobService_Create_ConfirmationThreshold(t *testing.T) {
	newService := func() (*JobService, *MockJobRepository, *MockRecipientRepository, *MockContactRepository, *MockChunkPublisher) {
		jobRepo := new(MockJobRepository)
		recipientRepo := new(MockRecipientRepository)
		contactRepo := new(MockContactRepository)
		publisher := new(MockChunkPublisher)
		return NewJobService(jobRepo, recipientRepo, contactRepo, publisher), jobRepo, recipientRepo, contactRepo, publisher
	}
	ctx := context.Background()

	t.Run("above threshold without confirmation is rejected", func(t *testing.T) {
		service, _, _, contactRepo, _ := newService()
		ids, _ := makeContacts(21)

		_, err := service.Create(ctx, model.JobCreateRequest{
			CreatedBy:  "ops@example.com",
			Channel:    model.ChannelSMS,
			ContactIDs: ids,
			Content:    "hello",
		})
		assert.ErrorIs(t, err, ErrConfirmationRequired)
		contactRepo.AssertNotCalled(t, "GetByIDs", mock.Anything, mock.Anything)
	})

	t.Run("exactly at threshold needs no confirmation", func(t *testing.T) {
		service, jobRepo, recipientRepo, contactRepo, publisher := newService()
		ids, contacts := makeContacts(20)

		contactRepo.On("GetByIDs", ctx, ids).Return(contacts, nil)
		jobRepo.On("WithinTransaction", ctx, mock.Anything).Return(nil)
		jobRepo.On("Create", ctx, mock.AnythingOfType("*model.BulkJob")).Return(nil, nil)
		recipientRepo.On("BulkCreate", ctx, mock.Anything).Return(nil)
		publisher.On("PublishJSON", ctx, mock.Anything, mock.Anything).Return("1-0", nil)

		_, err := service.Create(ctx, model.JobCreateRequest{
			CreatedBy:  "ops@example.com",
			Channel:    model.ChannelSMS,
			ContactIDs: ids,
			Content:    "hello",
		})
		assert.NoError(t, err)
	})

	t.Run("above threshold with confirmation proceeds", func(t *testing.T) {
		service, jobRepo, recipientRepo, contactRepo, publisher := newService()
		ids, contacts := makeContacts(21)

		contactRepo.On("GetByIDs", ctx, ids).Return(contacts, nil)
		jobRepo.On("WithinTransaction", ctx, mock.Anything).Return(nil)
		jobRepo.On("Create", ctx, mock.AnythingOfType("*model.BulkJob")).Return(nil, nil)
		recipientRepo.On("BulkCreate", ctx, mock.Anything).Return(nil)
		publisher.On("PublishJSON", ctx, mock.Anything, mock.Anything).Return("1-0", nil)

		_, err := service.Create(ctx, model.JobCreateRequest{
			CreatedBy:  "ops@example.com",
			Channel:    model.ChannelSMS,
			ContactIDs: ids,
			Content:    "hello",
			Confirmed:  true,
		})
		assert.NoError(t, err)
	})
}

func TestJobService_Create_UnknownContact(t *testing.T) {
	jobRepo := new(MockJobRepository)
	recipientRepo := new(MockRecipientRepository)
	contactRepo := new(MockContactRepository)
	publisher := new(MockChunkPublisher)
	ctx := context.Background()

	service := NewJobService(jobRepo, recipientRepo, contactRepo, publisher)

	ids, contacts := makeContacts(3)
	requested := append(append([]string{}, ids...), "contact-missing")

	contactRepo.On("GetByIDs", ctx, requested).Return(contacts, nil)

	_, err := service.Create(ctx, model.JobCreateRequest{
		CreatedBy:  "ops@example.com",
		Channel:    model.ChannelSMS,
		ContactIDs: requested,
		Content:    "hello",
	})
	assert.ErrorIs(t, err, ErrUnknownContact)
	assert.Contains(t, err.Error(), "contact-missing")

	// nothing is persisted or enqueued
	jobRepo.AssertNotCalled(t, "WithinTransaction", mock.Anything, mock.Anything)
	publisher.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything)
}

func TestJobService_Create_Validation(t *testing.T) {
	service := NewJobService(nil, nil, nil, nil)
	ctx := context.Background()

	_, err := service.Create(ctx, model.JobCreateRequest{
		Channel:    "FAX",
		ContactIDs: []string{"c1"},
		Content:    "hello",
	})
	assert.Error(t, err)

	_, err = service.Create(ctx, model.JobCreateRequest{
		Channel: model.ChannelSMS,
		Content: "hello",
	})
	assert.Error(t, err)

	_, err = service.Create(ctx, model.JobCreateRequest{
		Channel:    model.ChannelSMS,
		ContactIDs: []string{"c1"},
	})
	assert.Error(t, err)
}

func TestJobService_ControlActions(t *testing.T) {
	ctx := context.Background()

	t.Run("pause only from in_progress", func(t *testing.T) {
		jobRepo := new(MockJobRepository)
		service := NewJobService(jobRepo, nil, nil, nil)

		jobRepo.On("UpdateStatus", ctx, "job-1", model.JobStatusPaused,
			[]model.JobStatus{model.JobStatusInProgress}).Return(nil)

		assert.NoError(t, service.Pause(ctx, "job-1"))
		jobRepo.AssertExpectations(t)
	})

	t.Run("resume only from paused", func(t *testing.T) {
		jobRepo := new(MockJobRepository)
		service := NewJobService(jobRepo, nil, nil, nil)

		jobRepo.On("UpdateStatus", ctx, "job-1", model.JobStatusInProgress,
			[]model.JobStatus{model.JobStatusPaused}).Return(nil)
		jobRepo.On("FinalizeIfComplete", ctx, "job-1").Return(model.JobStatus(""), false, nil)

		assert.NoError(t, service.Resume(ctx, "job-1"))
		jobRepo.AssertExpectations(t)
	})

	t.Run("resume finalizes a job that finished while paused", func(t *testing.T) {
		jobRepo := new(MockJobRepository)
		service := NewJobService(jobRepo, nil, nil, nil)

		// The last chunk can land while the job is paused; its counts are
		// recorded but the terminal transition requires in_progress, so the
		// resume has to settle the job.
		jobRepo.On("UpdateStatus", ctx, "job-2", model.JobStatusInProgress,
			[]model.JobStatus{model.JobStatusPaused}).Return(nil)
		jobRepo.On("FinalizeIfComplete", ctx, "job-2").Return(model.JobStatusCompleted, true, nil)

		assert.NoError(t, service.Resume(ctx, "job-2"))
		jobRepo.AssertCalled(t, "FinalizeIfComplete", ctx, "job-2")
	})

	t.Run("cancel from any non-terminal status", func(t *testing.T) {
		jobRepo := new(MockJobRepository)
		service := NewJobService(jobRepo, nil, nil, nil)

		jobRepo.On("UpdateStatus", ctx, "job-1", model.JobStatusCancelled,
			[]model.JobStatus{model.JobStatusPending, model.JobStatusInProgress, model.JobStatusPaused}).Return(nil)

		assert.NoError(t, service.Cancel(ctx, "job-1"))
		jobRepo.AssertExpectations(t)
	})

	t.Run("invalid transition is surfaced", func(t *testing.T) {
		jobRepo := new(MockJobRepository)
		service := NewJobService(jobRepo, nil, nil, nil)

		jobRepo.On("UpdateStatus", ctx, "job-1", model.JobStatusPaused, mock.Anything).
			Return(repository.ErrInvalidTransition)

		err := service.Pause(ctx, "job-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("unknown job is surfaced", func(t *testing.T) {
		jobRepo := new(MockJobRepository)
		service := NewJobService(jobRepo, nil, nil, nil)

		jobRepo.On("UpdateStatus", ctx, "nope", model.JobStatusCancelled, mock.Anything).
			Return(repository.ErrNotFound)

		err := service.Cancel(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("apply dispatches by action", func(t *testing.T) {
		jobRepo := new(MockJobRepository)
		service := NewJobService(jobRepo, nil, nil, nil)

		jobRepo.On("UpdateStatus", ctx, "job-1", model.JobStatusPaused, mock.Anything).Return(nil)

		assert.NoError(t, service.Apply(ctx, "job-1", model.ActionPause))
		assert.Error(t, service.Apply(ctx, "job-1", model.ControlAction("restart")))
	})
}

func TestJobService_Get(t *testing.T) {
	jobRepo := new(MockJobRepository)
	service := NewJobService(jobRepo, nil, nil, nil)
	ctx := context.Background()

	jobRepo.On("Get", ctx, "missing").Return(nil, repository.ErrNotFound)

	_, err := service.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
