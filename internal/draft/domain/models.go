// Package domain contains the draft ledger models: the mutable staging
// area an invoice goes through before it is finalized.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/facturio/facturio/internal/customer/domain"
	"gorm.io/datatypes"
)

// DraftStatus represents draft lifecycle states. active is the only
// non-terminal state.
type DraftStatus string

const (
	DraftStatusActive    DraftStatus = "active"
	DraftStatusCompleted DraftStatus = "completed"
	DraftStatusCancelled DraftStatus = "cancelled"
	DraftStatusExpired   DraftStatus = "expired"
)

// InputType classifies the raw capture attached to a draft.
type InputType string

const (
	InputTypeText  InputType = "text"
	InputTypeVoice InputType = "voice"
	InputTypePhoto InputType = "photo"
)

// ChangeSource identifies who produced a working-set mutation.
type ChangeSource string

const (
	SourceAI     ChangeSource = "ai"
	SourceUser   ChangeSource = "user"
	SourceSystem ChangeSource = "system"
)

// Valid reports whether the source is one of the known producers. The
// history is append-only, so an unknown source must be rejected before it
// is written rather than cleaned up later.
func (s ChangeSource) Valid() bool {
	switch s {
	case SourceAI, SourceUser, SourceSystem:
		return true
	default:
		return false
	}
}

// ChangeEntry is one record of the append-only edit history.
type ChangeEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Source    ChangeSource `json:"source"`
	Field     string       `json:"field"`
	OldValue  any          `json:"old_value,omitempty"`
	NewValue  any          `json:"new_value,omitempty"`
}

// DraftItem is one line of the working item set.
type DraftItem struct {
	Description string   `json:"description"`
	Quantity    int64    `json:"quantity"`
	UnitPrice   int64    `json:"unit_price"`
	Material    string   `json:"material,omitempty"`
	WeightGrams *float64 `json:"weight_grams,omitempty"`
	Category    string   `json:"category,omitempty"`
}

// DraftTotals is the working totals set. Nil fields mean the step that
// supplies them has not happened yet; no sentinel values.
type DraftTotals struct {
	Subtotal *int64 `json:"subtotal,omitempty"`
	Discount *int64 `json:"discount,omitempty"`
	Tax      *int64 `json:"tax,omitempty"`
	Total    *int64 `json:"total,omitempty"`
}

// Authoritative reports whether the totals were supplied explicitly rather
// than left to be computed from items at commit time.
func (t DraftTotals) Authoritative() bool {
	return t.Subtotal != nil && t.Total != nil
}

// Draft is the per-(org, owner) staging area. At most one active draft
// exists per owner at any instant, enforced by a partial unique index.
type Draft struct {
	ID             string                                            `gorm:"primaryKey;type:text" json:"id"`
	OrgID          snowflake.ID                                      `gorm:"not null;index" json:"organization_id"`
	OwnerRef       string                                            `gorm:"not null;index" json:"owner_ref"`
	Status         DraftStatus                                       `gorm:"type:text;not null;default:'active'" json:"status"`
	InputType      *InputType                                        `gorm:"type:text" json:"input_type,omitempty"`
	RawInput       *string                                           `gorm:"type:text" json:"raw_input,omitempty"`
	AIResponse     datatypes.JSON                                    `gorm:"column:ai_response" json:"ai_response,omitempty"`
	AIExtractedAt  *time.Time                                        `gorm:"column:ai_extracted_at" json:"ai_extracted_at,omitempty"`
	Items          datatypes.JSONSlice[DraftItem]                    `gorm:"column:items_data" json:"items_data"`
	Customer       datatypes.JSONType[customerdomain.CustomerData]   `gorm:"column:customer_data" json:"customer_data"`
	Totals         datatypes.JSONType[DraftTotals]                   `gorm:"column:totals_data" json:"totals_data"`
	History        datatypes.JSONSlice[ChangeEntry]                  `gorm:"column:change_history" json:"change_history"`
	FinalInvoiceID *snowflake.ID                                     `gorm:"index" json:"final_invoice_id,omitempty"`
	CreatedBy      string                                            `gorm:"type:text" json:"created_by"`
	CreatedAt      time.Time                                         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time                                         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
	ExpiresAt      time.Time                                         `gorm:"not null;index" json:"expires_at"`
}

// TableName sets the database table name.
func (Draft) TableName() string { return "invoice_drafts" }

// Terminal reports whether the draft can no longer change.
func (d *Draft) Terminal() bool {
	return d.Status != DraftStatusActive
}
