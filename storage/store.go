package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tools-aigc/toolflow/config"
	"github.com/tools-aigc/toolflow/internal/metrics"
)

// CallLog is one persisted tool invocation.
type CallLog struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	SessionID  string    `gorm:"index;size:64" json:"session_id"`
	CallID     string    `gorm:"size:64" json:"call_id"`
	ToolName   string    `gorm:"index;size:128" json:"tool_name"`
	Parameters string    `gorm:"type:text" json:"parameters,omitempty"`
	Success    bool      `json:"success"`
	Cached     bool      `json:"cached"`
	ErrorCode  string    `gorm:"size:64" json:"error_code,omitempty"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate assigns the primary key.
func (l *CallLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return nil
}

// Store is the call-log repository.
type Store struct {
	db      *gorm.DB
	logger  *zap.Logger
	metrics *metrics.Collector
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	if cfg.Driver != "" && cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	gormCfg := &gorm.Config{Logger: gormlogger.Discard}
	if cfg.LogQueries {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(sqlite.Open(path), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.AutoMigrate(&CallLog{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return db, nil
}

// NewStore creates a call-log store. The metrics collector may be nil.
func NewStore(db *gorm.DB, logger *zap.Logger, collector *metrics.Collector) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		logger:  logger.With(zap.String("component", "call_log")),
		metrics: collector,
	}
}

// Record persists one call outcome.
func (s *Store) Record(ctx context.Context, entry *CallLog) error {
	start := time.Now()
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		s.logger.Error("record call log", zap.Error(err))
		return fmt.Errorf("record call log: %w", err)
	}
	s.observe("insert", start)
	return nil
}

// RecordBatch persists a batch of call outcomes in one insert.
func (s *Store) RecordBatch(ctx context.Context, entries []*CallLog) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()
	if err := s.db.WithContext(ctx).Create(entries).Error; err != nil {
		s.logger.Error("record call log batch", zap.Error(err))
		return fmt.Errorf("record call log batch: %w", err)
	}
	s.observe("insert", start)
	return nil
}

// BySession returns the most recent calls of one session, newest first.
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]CallLog, error) {
	if limit <= 0 {
		limit = 100
	}
	start := time.Now()
	var logs []CallLog
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("query call log: %w", err)
	}
	s.observe("select", start)
	return logs, nil
}

// ToolStats aggregates outcomes per tool.
type ToolStats struct {
	ToolName  string `json:"tool_name"`
	Calls     int64  `json:"calls"`
	Failures  int64  `json:"failures"`
	CacheHits int64  `json:"cache_hits"`
}

// StatsByTool returns per-tool call counters.
func (s *Store) StatsByTool(ctx context.Context) ([]ToolStats, error) {
	start := time.Now()
	var stats []ToolStats
	err := s.db.WithContext(ctx).
		Model(&CallLog{}).
		Select("tool_name, count(*) as calls, sum(case when success then 0 else 1 end) as failures, sum(case when cached then 1 else 0 end) as cache_hits").
		Group("tool_name").
		Order("tool_name").
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("aggregate call log: %w", err)
	}
	s.observe("select", start)
	return stats, nil
}

// Purge removes entries older than the cutoff and returns how many went.
func (s *Store) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	start := time.Now()
	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&CallLog{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge call log: %w", res.Error)
	}
	s.observe("delete", start)
	if res.RowsAffected > 0 {
		s.logger.Info("purged call log entries", zap.Int64("removed", res.RowsAffected))
	}
	return res.RowsAffected, nil
}

func (s *Store) observe(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(op, time.Since(start))
	}
}
