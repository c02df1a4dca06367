package dedup

// ProcessedEvent records a platform event identifier that has already been
// processed. Rows are insert-only: a second insert for the same identifier is
// a no-op, and rows are never deleted.
type ProcessedEvent struct {
	EventID          string `gorm:"column:event_id;primaryKey;size:190;not null"`
	FirstSeenSeconds int64  `gorm:"column:first_seen_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ProcessedEvent) TableName() string {
	return "processed_events"
}
