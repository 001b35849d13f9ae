package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/upb/multi-tenant-crm/models"
	"github.com/upb/multi-tenant-crm/repositories"
	"go.uber.org/zap"
)

var (
	// ErrNotStarted is returned when events are logged before Start or after Stop
	ErrNotStarted = errors.New("audit service not running")

	// ErrBufferFull is returned when the event was dropped
	ErrBufferFull = errors.New("audit event buffer full")
)

// RequestMeta identifies the HTTP request that triggered an event
type RequestMeta struct {
	RequestID string
	IPAddress string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta stores request metadata for events logged under ctx
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext returns the metadata stored by WithRequestMeta
func RequestMetaFromContext(ctx context.Context) (RequestMeta, bool) {
	meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta)
	return meta, ok
}

// Service writes audit entries asynchronously through a buffered channel
// drained by a fixed worker pool
type Service struct {
	auditRepo   repositories.AuditRepository
	logger      *zap.Logger
	events      chan *models.AuditLog
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	mu          sync.RWMutex
	running     bool
}

// Config holds configuration for the Service
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewService creates a new Service instance
func NewService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config) *Service {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &Service{
		auditRepo:   auditRepo,
		logger:      logger,
		events:      make(chan *models.AuditLog, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.running = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for queued ones to be written
func (s *Service) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.running = false
	close(s.events)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.events)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Log queues entry without blocking. Request metadata found in ctx is
// copied onto the entry. A full buffer drops the entry with a warning.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if meta, ok := RequestMetaFromContext(ctx); ok && entry.RequestID == "" {
		entry.WithRequest(meta.RequestID, meta.IPAddress, meta.UserAgent)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return ErrNotStarted
	}

	select {
	case s.events <- entry:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(entry.Action)),
			zap.String("organization_id", entry.OrganizationID.String()))
		return ErrBufferFull
	}
}

func (s *Service) worker(id int) {
	defer s.wg.Done()

	for entry := range s.events {
		if err := s.write(entry); err != nil {
			s.logger.Error("failed to write audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(entry.Action)),
				zap.String("organization_id", entry.OrganizationID.String()))
		}
	}
}

func (s *Service) write(entry *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.auditRepo.Insert(ctx, entry)
}

// Stats returns statistics about the audit service
func (s *Service) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.events),
		WorkerCount:   s.workerCount,
		Running:       s.running,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Running       bool
}

// LogLogin records a successful session bootstrap
func (s *Service) LogLogin(ctx context.Context, user *models.User, created bool) error {
	entry := models.NewAuditLog(user.OrganizationID, models.AuditActionUserLogin, "user").
		WithUser(user.ID).
		WithResource(user.ID).
		WithDetails(map[string]interface{}{"provisioned": created})
	return s.Log(ctx, entry)
}

// LogUserInvited records an admin adding a user
func (s *Service) LogUserInvited(ctx context.Context, actorID uuid.UUID, user *models.User) error {
	entry := models.NewAuditLog(user.OrganizationID, models.AuditActionUserInvited, "user").
		WithUser(actorID).
		WithResource(user.ID).
		WithDetails(map[string]interface{}{"email": user.Email, "role": user.Role})
	return s.Log(ctx, entry)
}

// LogRoleChanged records an admin changing a user's role
func (s *Service) LogRoleChanged(ctx context.Context, actorID uuid.UUID, user *models.User) error {
	entry := models.NewAuditLog(user.OrganizationID, models.AuditActionUserRoleChanged, "user").
		WithUser(actorID).
		WithResource(user.ID).
		WithDetails(map[string]interface{}{"role": user.Role})
	return s.Log(ctx, entry)
}

// LogUserDeleted records an admin removing a user
func (s *Service) LogUserDeleted(ctx context.Context, orgID, actorID, userID uuid.UUID) error {
	entry := models.NewAuditLog(orgID, models.AuditActionUserDeleted, "user").
		WithUser(actorID).
		WithResource(userID)
	return s.Log(ctx, entry)
}
