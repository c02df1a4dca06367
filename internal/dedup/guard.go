// Package dedup short-circuits reprocessing of at-least-once webhook deliveries.
package dedup

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
	noOpLogger         = zap.NewNop()
)

const (
	opGuardNew = "dedup.guard.new"
	opSeen     = "dedup.seen"
	opMark     = "dedup.mark"
)

// GuardError is a coded dedup failure wrapping the underlying cause.
type GuardError struct {
	code string
	err  error
}

func (e *GuardError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *GuardError) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" error code.
func (e *GuardError) Code() string {
	return e.code
}

func newGuardError(operation, reason string, cause error) error {
	return &GuardError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// GuardConfig carries the Guard's dependencies.
type GuardConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Guard owns the processed_events table. Events with no identifier bypass the
// guard entirely; the platform does not retry those request types with
// durable ids.
type Guard struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewGuard constructs a Guard from its configuration.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Database == nil {
		return nil, newGuardError(opGuardNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Guard{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Seen reports whether the event identifier was already recorded. An empty
// identifier is never seen.
func (g *Guard) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}

	var record ProcessedEvent
	err := g.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		g.logger.Error("dedup lookup failed",
			zap.String("operation", opSeen),
			zap.String("event_id", eventID),
			zap.Error(err))
		return false, newGuardError(opSeen, "lookup_failed", err)
	}
	return true, nil
}

// Mark durably records the event identifier. Marking an identifier that is
// already recorded is a no-op, so concurrent deliveries of the same event
// cannot fail each other. Empty identifiers are ignored.
func (g *Guard) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}

	record := ProcessedEvent{
		EventID:          eventID,
		FirstSeenSeconds: g.clock().UTC().Unix(),
	}
	err := g.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&record).Error
	if err != nil {
		g.logger.Error("dedup mark failed",
			zap.String("operation", opMark),
			zap.String("event_id", eventID),
			zap.Error(err))
		return newGuardError(opMark, "insert_failed", err)
	}
	return nil
}
