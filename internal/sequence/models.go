package sequence

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Counter holds the last allocated value per (org, period). The row is the
// serialization point for concurrent allocators: the upsert takes a row lock
// that is held until the surrounding transaction commits.
type Counter struct {
	OrgID     snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	PeriodKey string       `gorm:"primaryKey;type:text"`
	LastValue int64        `gorm:"not null;default:0"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Counter) TableName() string { return "invoice_sequences" }
