package counter

// UserCount is the running marker count for one user in one channel. Rows are
// created on the user's first contribution and only ever incremented.
type UserCount struct {
	ChannelID        string `gorm:"column:channel_id;primaryKey;size:190;not null"`
	UserID           string `gorm:"column:user_id;primaryKey;size:190;not null"`
	Count            int64  `gorm:"column:count;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserCount) TableName() string {
	return "hotdog_counts"
}

// ChannelTotal is the running marker count for a whole channel. It always
// equals the sum of the channel's per-user counts: both are incremented in
// the same transaction.
type ChannelTotal struct {
	ChannelID        string `gorm:"column:channel_id;primaryKey;size:190;not null"`
	Count            int64  `gorm:"column:count;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (ChannelTotal) TableName() string {
	return "channel_totals"
}
