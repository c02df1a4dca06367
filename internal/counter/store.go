// Package counter owns the durable per-user and per-channel marker counts.
package counter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errInvalidDelta    = errors.New("delta must be positive")
	errMissingChannel  = errors.New("channel identifier is required")
	errMissingUser     = errors.New("user identifier is required")
	noOpLogger         = zap.NewNop()
)

const (
	opStoreNew     = "counter.store.new"
	opAccumulate   = "counter.accumulate"
	opUserTotal    = "counter.user_total"
	opTopUsers     = "counter.top_users"
	opChannelTotal = "counter.channel_total"
	opListChannels = "counter.list_channels"
)

// StoreError is a coded counter failure wrapping the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" error code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StoreConfig carries the Store's dependencies.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store reads and mutates the hotdog_counts and channel_totals tables. All
// cross-request coordination happens through the store's atomic upserts;
// there is no in-process shared state.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore constructs a Store from its configuration.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Accumulate adds delta to the (channel, user) count and to the channel
// total in one transaction. Each upsert is an atomic insert-or-increment, so
// concurrent accumulations for the same key never lose updates.
func (s *Store) Accumulate(ctx context.Context, channelID, userID string, delta int64) error {
	if channelID == "" {
		return newStoreError(opAccumulate, "missing_channel", errMissingChannel)
	}
	if userID == "" {
		return newStoreError(opAccumulate, "missing_user", errMissingUser)
	}
	if delta < 1 {
		return newStoreError(opAccumulate, "invalid_delta", fmt.Errorf("%w: %d", errInvalidDelta, delta))
	}

	now := s.clock().UTC().Unix()
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		userRow := UserCount{ChannelID: channelID, UserID: userID, Count: delta, UpdatedAtSeconds: now}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "channel_id"}, {Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":      gorm.Expr("hotdog_counts.count + excluded.count"),
				"updated_at": gorm.Expr("excluded.updated_at"),
			}),
		}).Create(&userRow).Error
		if err != nil {
			s.logError(opAccumulate, "user_upsert_failed", err, channelID, userID)
			return newStoreError(opAccumulate, "user_upsert_failed", err)
		}

		totalRow := ChannelTotal{ChannelID: channelID, Count: delta, UpdatedAtSeconds: now}
		err = tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "channel_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count":      gorm.Expr("channel_totals.count + excluded.count"),
				"updated_at": gorm.Expr("excluded.updated_at"),
			}),
		}).Create(&totalRow).Error
		if err != nil {
			s.logError(opAccumulate, "total_upsert_failed", err, channelID, userID)
			return newStoreError(opAccumulate, "total_upsert_failed", err)
		}
		return nil
	})
	return txErr
}

// UserTotal returns the user's count in the channel, 0 when absent.
func (s *Store) UserTotal(ctx context.Context, channelID, userID string) (int64, error) {
	var row UserCount
	err := s.db.WithContext(ctx).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		s.logError(opUserTotal, "query_failed", err, channelID, userID)
		return 0, newStoreError(opUserTotal, "query_failed", err)
	}
	return row.Count, nil
}

// TopUsers returns up to limit users in the channel ordered by count
// descending; ties break on user id ascending so the order is stable.
func (s *Store) TopUsers(ctx context.Context, channelID string, limit int) ([]UserCount, error) {
	var rows []UserCount
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("count DESC, user_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		s.logError(opTopUsers, "query_failed", err, channelID, "")
		return nil, newStoreError(opTopUsers, "query_failed", err)
	}
	return rows, nil
}

// Total returns the channel total row; a channel with no contributions yields
// the zero value, never an error.
func (s *Store) Total(ctx context.Context, channelID string) (ChannelTotal, error) {
	var row ChannelTotal
	err := s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ChannelTotal{ChannelID: channelID}, nil
	}
	if err != nil {
		s.logError(opChannelTotal, "query_failed", err, channelID, "")
		return ChannelTotal{}, newStoreError(opChannelTotal, "query_failed", err)
	}
	return row, nil
}

// ListChannels returns every channel with at least one recorded contribution,
// highest totals first.
func (s *Store) ListChannels(ctx context.Context) ([]ChannelTotal, error) {
	var rows []ChannelTotal
	err := s.db.WithContext(ctx).
		Order("count DESC, channel_id ASC").
		Find(&rows).Error
	if err != nil {
		s.logError(opListChannels, "query_failed", err, "", "")
		return nil, newStoreError(opListChannels, "query_failed", err)
	}
	return rows, nil
}

func (s *Store) logError(operation, reason string, err error, channelID, userID string) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	if channelID != "" {
		attrs = append(attrs, zap.String("channel_id", channelID))
	}
	if userID != "" {
		attrs = append(attrs, zap.String("user_id", userID))
	}
	s.logger.Error("counter store error", attrs...)
}
