// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusIssued InvoiceStatus = "ISSUED"
	InvoiceStatusPaid   InvoiceStatus = "PAID"
	InvoiceStatusVoid   InvoiceStatus = "VOID"
)

// ItemSnapshot is one line of the denormalized items mirror kept on the
// invoice row for consumers not yet migrated to the invoice_items table.
// It is rewritten together with the normalized rows, never on its own.
type ItemSnapshot struct {
	LineNo      int      `json:"line_no"`
	Description string   `json:"description"`
	Quantity    int64    `json:"quantity"`
	UnitPrice   int64    `json:"unit_price"`
	Subtotal    int64    `json:"subtotal"`
	Material    string   `json:"material,omitempty"`
	WeightGrams *float64 `json:"weight_grams,omitempty"`
	Category    string   `json:"category,omitempty"`
}

// Invoice is an immutable, numbered financial document. Identity (id, org,
// number) never changes after commit; Version increments on every in-place
// item revision.
type Invoice struct {
	ID         snowflake.ID                          `gorm:"primaryKey" json:"id"`
	OrgID      snowflake.ID                          `gorm:"not null;index" json:"organization_id"`
	Number     string                                `gorm:"not null" json:"number"`
	CustomerID *snowflake.ID                         `gorm:"index" json:"customer_id,omitempty"`
	ItemsJSON  datatypes.JSONSlice[ItemSnapshot]     `gorm:"column:items_json" json:"items"`
	Subtotal   int64                                 `gorm:"not null;default:0" json:"subtotal"`
	Discount   int64                                 `gorm:"not null;default:0" json:"discount"`
	Tax        int64                                 `gorm:"not null;default:0" json:"tax"`
	Total      int64                                 `gorm:"not null;default:0" json:"total"`
	Status     InvoiceStatus                         `gorm:"type:text;not null;default:'ISSUED'" json:"status"`
	Version    int64                                 `gorm:"not null;default:1" json:"version"`
	Notes      string                                `gorm:"type:text" json:"notes,omitempty"`
	CreatedBy  string                                `gorm:"type:text" json:"created_by"`
	UpdatedBy  string                                `gorm:"type:text" json:"updated_by"`
	PaidAt     *time.Time                            `json:"paid_at,omitempty"`
	CreatedAt  time.Time                             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time                             `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceItem is a normalized line on an invoice. Items are owned by their
// invoice and replaced wholesale on revision.
type InvoiceItem struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	OrgID       snowflake.ID `gorm:"not null;index" json:"organization_id"`
	InvoiceID   snowflake.ID `gorm:"not null;index" json:"invoice_id"`
	LineNo      int          `gorm:"not null" json:"line_no"`
	Description string       `gorm:"type:text;not null" json:"description"`
	Quantity    int64        `gorm:"not null" json:"quantity"`
	UnitPrice   int64        `gorm:"not null" json:"unit_price"`
	Subtotal    int64        `gorm:"not null" json:"subtotal"`
	Material    *string      `json:"material,omitempty"`
	WeightGrams *float64     `json:"weight_grams,omitempty"`
	Category    *string      `json:"category,omitempty"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }
