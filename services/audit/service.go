package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/tenant-auth/models"
)

// Sink persists audit entries. repositories.AuditRepository satisfies it.
type Sink interface {
	Insert(ctx context.Context, log *models.AuditLog) error
}

// AuditService writes the audit trail asynchronously through a bounded
// buffer drained by a fixed pool of workers
type AuditService struct {
	sink        Sink
	logger      *zap.Logger
	eventChan   chan *models.AuditLog
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	started     bool
	mu          sync.RWMutex
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1024,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(sink Sink, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}

	return &AuditService{
		sink:        sink,
		logger:      logger,
		eventChan:   make(chan *models.AuditLog, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}
	if s.eventChan == nil {
		return fmt.Errorf("audit service cannot be restarted")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i, s.eventChan)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop stops accepting events and waits for pending ones to be written
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	s.started = false
	pending := len(s.eventChan)
	close(s.eventChan)
	s.eventChan = nil
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", pending))

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

// LogEvent queues an entry without blocking. The entry is dropped when the
// buffer is full or the service is not running.
func (s *AuditService) LogEvent(log *models.AuditLog) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started {
		return fmt.Errorf("audit service not started")
	}

	select {
	case s.eventChan <- log:
		return nil
	default:
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("action", string(log.Action)),
			zap.String("tenant_id", log.TenantID.String()))
		return fmt.Errorf("audit event buffer full")
	}
}

// Record queues an entry and logs instead of returning a failure
func (s *AuditService) Record(log *models.AuditLog) {
	if err := s.LogEvent(log); err != nil {
		s.logger.Debug("audit event not recorded", zap.Error(err), zap.String("action", string(log.Action)))
	}
}

// worker processes events until events is closed
func (s *AuditService) worker(id int, events <-chan *models.AuditLog) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for event := range events {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("action", string(event.Action)),
				zap.String("tenant_id", event.TenantID.String()))
		}
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

// processEvent processes a single audit event
func (s *AuditService) processEvent(event *models.AuditLog) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.sink.Insert(ctx, event); err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int
	PendingEvents int
	WorkerCount   int
	Started       bool
}

// LogSink writes audit entries to the structured log. It is used when no
// database is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink writing under the "audit" logger name
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("audit")}
}

// Insert writes one entry at info level
func (l *LogSink) Insert(_ context.Context, log *models.AuditLog) error {
	fields := []zap.Field{
		zap.String("audit_id", log.ID.String()),
		zap.String("tenant_id", log.TenantID.String()),
		zap.String("action", string(log.Action)),
		zap.Time("timestamp", log.Timestamp),
	}
	if log.ClientID != "" {
		fields = append(fields, zap.String("client_id", log.ClientID))
	}
	if log.TokenID != "" {
		fields = append(fields, zap.String("jti", log.TokenID))
	}
	if len(log.Details) > 0 {
		fields = append(fields, zap.ByteString("details", log.Details))
	}
	l.logger.Info("audit event", fields...)
	return nil
}
