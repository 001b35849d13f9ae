package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/upb/multi-tenant-crm/models"
	"go.uber.org/zap"
)

// MockAuditRepository is a mock implementation of AuditRepository
type MockAuditRepository struct {
	mock.Mock
	mu           sync.Mutex
	insertedLogs []*models.AuditLog
}

func (m *MockAuditRepository) Insert(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	args := m.Called(ctx, log)
	m.insertedLogs = append(m.insertedLogs, log)
	return args.Error(0)
}

func (m *MockAuditRepository) ListByOrganization(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.AuditLog, error) {
	args := m.Called(ctx, orgID, limit, offset)
	if logs := args.Get(0); logs != nil {
		return logs.([]*models.AuditLog), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAuditRepository) GetInsertedLogs() []*models.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.AuditLog(nil), m.insertedLogs...)
}

func TestService_StartStop(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 2})

	require.NoError(t, service.Start())

	stats := service.Stats()
	assert.True(t, stats.Running)
	assert.Equal(t, 2, stats.WorkerCount)
	assert.Equal(t, 10, stats.BufferSize)

	assert.Error(t, service.Start())

	require.NoError(t, service.Stop(5*time.Second))
	assert.ErrorIs(t, service.Stop(time.Second), ErrNotStarted)
}

func TestService_LogBeforeStart(t *testing.T) {
	service := NewService(new(MockAuditRepository), zap.NewNop(), DefaultConfig())

	err := service.Log(context.Background(), models.NewAuditLog(uuid.New(), models.AuditActionUserLogin, "user"))
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestService_LogAfterStopDoesNotPanic(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewService(mockRepo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})
	require.NoError(t, service.Start())
	require.NoError(t, service.Stop(time.Second))

	assert.NotPanics(t, func() {
		err := service.Log(context.Background(), models.NewAuditLog(uuid.New(), models.AuditActionUserLogin, "user"))
		assert.ErrorIs(t, err, ErrNotStarted)
	})
}

func TestService_StopDrainsQueuedEvents(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(mockRepo, zap.NewNop(), Config{BufferSize: 100, WorkerCount: 3})
	require.NoError(t, service.Start())

	orgID := uuid.New()
	for i := 0; i < 20; i++ {
		require.NoError(t, service.Log(context.Background(), models.NewAuditLog(orgID, models.AuditActionUserLogin, "user")))
	}

	require.NoError(t, service.Stop(5*time.Second))
	assert.Len(t, mockRepo.GetInsertedLogs(), 20)
}

func TestService_RepositoryErrorIsLoggedNotFatal(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(errors.New("db down"))

	service := NewService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	require.NoError(t, service.Log(context.Background(), models.NewAuditLog(uuid.New(), models.AuditActionUserDeleted, "user")))
	require.NoError(t, service.Stop(5*time.Second))
	mockRepo.AssertNumberOfCalls(t, "Insert", 1)
}

func TestService_BufferFullDropsEvent(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	service := NewService(mockRepo, zap.NewNop(), Config{BufferSize: 1, WorkerCount: 1})

	// Workers are not started so the queue never drains.
	service.mu.Lock()
	service.running = true
	service.mu.Unlock()

	orgID := uuid.New()
	require.NoError(t, service.Log(context.Background(), models.NewAuditLog(orgID, models.AuditActionUserLogin, "user")))
	err := service.Log(context.Background(), models.NewAuditLog(orgID, models.AuditActionUserLogin, "user"))
	assert.ErrorIs(t, err, ErrBufferFull)
}

func TestService_CopiesRequestMeta(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	ctx := WithRequestMeta(context.Background(), RequestMeta{RequestID: "req-42", IPAddress: "10.0.0.7", UserAgent: "test"})
	user := models.NewUser("a@acme.com", "a", "", uuid.New(), models.RoleMember)
	require.NoError(t, service.LogLogin(ctx, user, true))
	require.NoError(t, service.Stop(5*time.Second))

	logs := mockRepo.GetInsertedLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionUserLogin, logs[0].Action)
	assert.Equal(t, "req-42", logs[0].RequestID)
	assert.Equal(t, "10.0.0.7", logs[0].IPAddress)
	assert.Equal(t, user.OrganizationID, logs[0].OrganizationID)
	assert.JSONEq(t, `{"provisioned":true}`, string(logs[0].Details))
}

func TestService_UserAdministrationEvents(t *testing.T) {
	mockRepo := new(MockAuditRepository)
	mockRepo.On("Insert", mock.Anything, mock.Anything).Return(nil)

	service := NewService(mockRepo, zap.NewNop(), Config{BufferSize: 10, WorkerCount: 1})
	require.NoError(t, service.Start())

	ctx := context.Background()
	actor := uuid.New()
	user := models.NewUser("b@acme.com", "b", "", uuid.New(), models.RoleAdmin)

	require.NoError(t, service.LogUserInvited(ctx, actor, user))
	require.NoError(t, service.LogRoleChanged(ctx, actor, user))
	require.NoError(t, service.LogUserDeleted(ctx, user.OrganizationID, actor, user.ID))
	require.NoError(t, service.Stop(5*time.Second))

	actions := map[models.AuditAction]bool{}
	for _, l := range mockRepo.GetInsertedLogs() {
		actions[l.Action] = true
		assert.Equal(t, actor, *l.UserID)
		assert.Equal(t, user.ID, *l.ResourceID)
	}
	assert.True(t, actions[models.AuditActionUserInvited])
	assert.True(t, actions[models.AuditActionUserRoleChanged])
	assert.True(t, actions[models.AuditActionUserDeleted])
}
