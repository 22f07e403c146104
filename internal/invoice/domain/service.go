package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/facturio/facturio/internal/customer/domain"
	"gorm.io/gorm"
)

// CommitItem is one line of the draft snapshot handed to Commit.
type CommitItem struct {
	Description string   `json:"description"`
	Quantity    int64    `json:"quantity"`
	UnitPrice   int64    `json:"unit_price"`
	Material    string   `json:"material,omitempty"`
	WeightGrams *float64 `json:"weight_grams,omitempty"`
	Category    string   `json:"category,omitempty"`
}

// CommitTotals carries totals supplied by the draft. When Authoritative is
// false the invoice subtotal is computed from items; discount and tax are
// taken as given either way.
type CommitTotals struct {
	Subtotal      int64 `json:"subtotal"`
	Discount      int64 `json:"discount"`
	Tax           int64 `json:"tax"`
	Total         int64 `json:"total"`
	Authoritative bool  `json:"authoritative"`
}

// CommitSnapshot is the full payload the draft ledger hands to the writer
// at finalize time.
type CommitSnapshot struct {
	Items     []CommitItem
	Customer  customerdomain.CustomerData
	Totals    CommitTotals
	Notes     string
	Prefix    string
	PeriodKey string
	CreatedBy string
}

type UpdateInvoiceRequest struct {
	ID        string
	Items     []CommitItem
	UpdatedBy string
}

type ListInvoiceRequest struct {
	Status      *InvoiceStatus
	CustomerID  string
	Number      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Limit       int
}

// RenderCustomer is the customer block of the rendering payload.
type RenderCustomer struct {
	Name       string `json:"name"`
	NationalID string `json:"national_id,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
}

// RenderPayload is the read-only view handed to the external rendering
// service. No write-back is expected.
type RenderPayload struct {
	Number       string          `json:"number"`
	OrgBranding  string          `json:"org_branding_ref"`
	Customer     *RenderCustomer `json:"customer,omitempty"`
	Items        []ItemSnapshot  `json:"items"`
	Subtotal     int64           `json:"subtotal"`
	Discount     int64           `json:"discount"`
	Tax          int64           `json:"tax"`
	Total        int64           `json:"total"`
	Notes        string          `json:"notes,omitempty"`
	IssuedAt     time.Time       `json:"issued_at"`
}

// Service commits drafts into invoices and manages them afterwards.
type Service interface {
	// Commit runs inside the finalize transaction: resolve customer,
	// allocate the number, write the invoice, its items and the mirror.
	Commit(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, snapshot CommitSnapshot) (Invoice, error)
	// Issue is Commit in its own transaction, for direct issuance without
	// a draft.
	Issue(ctx context.Context, snapshot CommitSnapshot) (Invoice, error)
	// Update replaces all items of an invoice, rewrites the mirror and
	// bumps version, as one transaction.
	Update(ctx context.Context, req UpdateInvoiceRequest) (Invoice, error)
	UpdateStatus(ctx context.Context, id string, status InvoiceStatus) (Invoice, error)
	GetByID(ctx context.Context, id string) (Invoice, error)
	GetByNumber(ctx context.Context, number string) (Invoice, error)
	GetItem(ctx context.Context, itemID string) (InvoiceItem, error)
	ListItems(ctx context.Context, invoiceID string) ([]InvoiceItem, error)
	List(ctx context.Context, req ListInvoiceRequest) ([]Invoice, error)
	RenderData(ctx context.Context, id string) (RenderPayload, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("invoice_not_found")
	ErrItemNotFound        = errors.New("invoice_item_not_found")
	ErrNoItems             = errors.New("no_items")
	ErrInvalidItem         = errors.New("invalid_item")
	ErrTotalsMismatch      = errors.New("totals_mismatch")
	ErrNegativeAmount      = errors.New("negative_amount")
	ErrNotRevisable        = errors.New("invoice_not_revisable")
	ErrInvalidTransition   = errors.New("invalid_status_transition")
)
