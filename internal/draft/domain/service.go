package domain

import (
	"context"
	"errors"
	"time"

	customerdomain "github.com/facturio/facturio/internal/customer/domain"
	invoicedomain "github.com/facturio/facturio/internal/invoice/domain"
	"gorm.io/datatypes"
)

type CreateDraftRequest struct {
	OwnerRef  string
	InputType *InputType
	CreatedBy string
}

type RecordInputRequest struct {
	RawInput  string
	InputType InputType
}

// ExtractionPayload is the structured contract the external AI extraction
// service delivers. Only its shape is owned here; how it was produced is
// not this system's concern.
type ExtractionPayload struct {
	Items      []DraftItem                 `json:"items"`
	Customer   customerdomain.CustomerData `json:"customer"`
	Totals     DraftTotals                 `json:"totals"`
	Confidence float64                     `json:"confidence"`
	Raw        datatypes.JSON              `json:"-"`
}

type RecordEditRequest struct {
	Field    string
	OldValue any
	NewValue any
	Source   ChangeSource
}

// UpdateDataRequest replaces whole working sets; nil sections are left
// untouched.
type UpdateDataRequest struct {
	Items    *[]DraftItem
	Customer *customerdomain.CustomerData
	Totals   *DraftTotals
	Source   ChangeSource
}

type ListDraftRequest struct {
	Status *DraftStatus
	Limit  int
}

// Service is the draft ledger: a state machine from input capture through
// extraction and edits to exactly-once finalization.
type Service interface {
	Create(ctx context.Context, req CreateDraftRequest) (Draft, error)
	RecordInput(ctx context.Context, draftID string, req RecordInputRequest) (Draft, error)
	RecordExtraction(ctx context.Context, draftID string, payload ExtractionPayload) (Draft, error)
	RecordEdit(ctx context.Context, draftID string, req RecordEditRequest) (Draft, error)
	UpdateData(ctx context.Context, draftID string, req UpdateDataRequest) (Draft, error)
	// Finalize converts the draft into an immutable numbered invoice in
	// one transaction. On failure the draft stays active and no invoice
	// exists.
	Finalize(ctx context.Context, draftID string) (invoicedomain.Invoice, error)
	Cancel(ctx context.Context, draftID, reason string) error
	// SweepExpired expires every active draft past its deadline. Safe to
	// run repeatedly and concurrently with itself.
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	Get(ctx context.Context, draftID string) (Draft, error)
	GetActiveForOwner(ctx context.Context, ownerRef string) (*Draft, error)
	ListByOrg(ctx context.Context, req ListDraftRequest) ([]Draft, error)
	CountByOrg(ctx context.Context, status *DraftStatus) (int64, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrOwnerRequired       = errors.New("owner_ref_required")
	ErrNotFound            = errors.New("draft_not_found")
	ErrInvalidState        = errors.New("draft_not_active")
	ErrInvalidInput        = errors.New("invalid_draft_input")
	ErrInvalidSource       = errors.New("invalid_change_source")
	ErrConflict            = errors.New("draft_conflict")
)
