package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Customer is a billing customer deduplicated by natural key inside an org.
type Customer struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID `gorm:"not null;index" json:"organization_id"`
	Name       string       `gorm:"not null" json:"name"`
	NationalID *string      `gorm:"index" json:"national_id,omitempty"`
	Phone      *string      `gorm:"index" json:"phone,omitempty"`
	Email      *string      `json:"email,omitempty"`
	Address    *string      `json:"address,omitempty"`
	City       *string      `json:"city,omitempty"`
	Notes      *string      `json:"notes,omitempty"`
	Deleted    bool         `gorm:"not null;default:false" json:"deleted"`
	CreatedBy  string       `gorm:"type:text" json:"created_by"`
	UpdatedBy  string       `gorm:"type:text" json:"updated_by"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Customer) TableName() string { return "customers" }

// CustomerData is the working-set payload a draft (or the extraction service)
// carries for the customer. All fields except Name are optional.
type CustomerData struct {
	Name       string `json:"name,omitempty"`
	NationalID string `json:"national_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// HasNaturalKey reports whether the payload carries any dedup key.
func (d CustomerData) HasNaturalKey() bool {
	return d.NationalID != "" || d.Phone != ""
}
