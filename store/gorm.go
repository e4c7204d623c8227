package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"promptcut/job"
	"promptcut/segment"
)

// jobRow is the table layout of a job.
type jobRow struct {
	ID        string              `gorm:"primaryKey;size:64"`
	Kind      string              `gorm:"size:16;not null"`
	State     string              `gorm:"size:16;not null;index"`
	Prompt    string              `gorm:"type:text;not null"`
	SourceRef string              `gorm:"type:text"`
	SourceURL string              `gorm:"type:text"`
	ResultRef string              `gorm:"type:text"`
	Segments  []segment.TimeRange `gorm:"serializer:json"`
	ErrorInfo string              `gorm:"type:text"`
	CreatedAt time.Time           `gorm:"index"`
	UpdatedAt time.Time
}

func (jobRow) TableName() string {
	return "jobs"
}

func toRow(j *job.Job) *jobRow {
	return &jobRow{
		ID:        j.ID,
		Kind:      string(j.Kind),
		State:     string(j.State),
		Prompt:    j.Prompt,
		SourceRef: j.SourceRef,
		SourceURL: j.SourceURL,
		ResultRef: j.ResultRef,
		Segments:  j.Segments,
		ErrorInfo: j.ErrorInfo,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func (r *jobRow) toJob() *job.Job {
	return &job.Job{
		ID:        r.ID,
		Kind:      job.Kind(r.Kind),
		State:     job.State(r.State),
		Prompt:    r.Prompt,
		SourceRef: r.SourceRef,
		SourceURL: r.SourceURL,
		ResultRef: r.ResultRef,
		Segments:  r.Segments,
		ErrorInfo: r.ErrorInfo,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// Gorm stores jobs in a SQL table. Transition is a single conditional UPDATE,
// which gives the per-record compare-and-set the state machine relies on.
type Gorm struct {
	db *gorm.DB
}

// OpenGorm opens postgres for postgres:// DSNs (or key=value DSNs containing
// host=) and sqlite for everything else, then migrates the jobs table.
func OpenGorm(dsn string) (*Gorm, error) {
	isPostgres := strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=")

	var dialector gorm.Dialector
	if isPostgres {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to job store: %w", err)
	}
	if !isPostgres {
		// sqlite allows one writer; serialize through a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return NewGorm(db)
}

// NewGorm wraps an open connection and migrates the jobs table.
func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&jobRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate jobs table: %w", err)
	}
	return &Gorm{db: db}, nil
}

func (s *Gorm) Create(ctx context.Context, j *job.Job) error {
	if err := s.db.WithContext(ctx).Create(toRow(j)).Error; err != nil {
		return fmt.Errorf("failed to create job %s: %w", j.ID, err)
	}
	return nil
}

func (s *Gorm) Get(ctx context.Context, id string) (*job.Job, error) {
	var row jobRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, job.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return row.toJob(), nil
}

func (s *Gorm) Transition(ctx context.Context, id string, from, to job.State, c job.Changes) (*job.Job, error) {
	updates := map[string]interface{}{
		"state":      string(to),
		"updated_at": time.Now().UTC(),
	}
	if c.SourceRef != "" {
		updates["source_ref"] = c.SourceRef
	}
	if c.ResultRef != "" {
		updates["result_ref"] = c.ResultRef
	}
	if c.ErrorInfo != "" {
		updates["error_info"] = c.ErrorInfo
	}

	var updated *job.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&jobRow{}).Where("id = ? AND state = ?", id, string(from))
		res := q.Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("failed to update job %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			var current jobRow
			if err := tx.Where("id = ?", id).First(&current).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return job.ErrNotFound
				}
				return err
			}
			return fmt.Errorf("%w: want %s, have %s", job.ErrStateMismatch, from, current.State)
		}
		if c.Segments != nil {
			// The serializer only runs on struct saves, not map updates.
			if err := tx.Model(&jobRow{ID: id}).Select("segments").Updates(&jobRow{Segments: c.Segments}).Error; err != nil {
				return fmt.Errorf("failed to store segments for job %s: %w", id, err)
			}
		}
		var row jobRow
		if err := tx.Where("id = ?", id).First(&row).Error; err != nil {
			return err
		}
		updated = row.toJob()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Close releases the underlying connection pool.
func (s *Gorm) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
