package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RateLimitModel is the persisted window counter. Unlike a document store
// with TTL indexes, Postgres does not expire rows on its own; expired rows
// are removed opportunistically on writes and behave like missing records
// either way.
type RateLimitModel struct {
	Key       string `gorm:"primaryKey"`
	Hits      int    `gorm:"not null"`
	ResetAt   time.Time `gorm:"not null;index"`
	UpdatedAt time.Time
}

func (RateLimitModel) TableName() string { return "rate_limits" }

// GormStore is a database-backed CounterStore shared by all server
// instances.
type GormStore struct {
	db *gorm.DB

	mu      sync.Mutex
	sweepAt time.Time
}

// NewGormStore migrates the counter table and returns the store.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&RateLimitModel{}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var model RateLimitModel
	err := s.db.WithContext(ctx).First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	return Record{Hits: model.Hits, ResetAt: model.ResetAt}, true, nil
}

func (s *GormStore) Put(ctx context.Context, key string, rec Record) error {
	model := RateLimitModel{Key: key, Hits: rec.Hits, ResetAt: rec.ResetAt}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"hits", "reset_at", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return err
	}
	s.sweep(ctx)
	return nil
}

// sweep clears counters whose window closed, at most once a minute.
func (s *GormStore) sweep(ctx context.Context) {
	now := time.Now()
	s.mu.Lock()
	if now.Before(s.sweepAt) {
		s.mu.Unlock()
		return
	}
	s.sweepAt = now.Add(time.Minute)
	s.mu.Unlock()
	s.db.WithContext(ctx).Where("reset_at < ?", now).Delete(&RateLimitModel{})
}
