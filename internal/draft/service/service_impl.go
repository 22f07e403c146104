package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturio/facturio/internal/clock"
	"github.com/facturio/facturio/internal/config"
	draftdomain "github.com/facturio/facturio/internal/draft/domain"
	invoicedomain "github.com/facturio/facturio/internal/invoice/domain"
	"github.com/facturio/facturio/internal/sequence"
	"github.com/facturio/facturio/internal/tenantctx"
	"github.com/facturio/facturio/pkg/db"
	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	// createAttempts bounds the supersede/insert loop when two creates
	// race for the same owner.
	createAttempts = 2
	// finalizeAttempts bounds full-transaction retries on transient
	// serialization failures. Business failures are never retried.
	finalizeAttempts = 3
	// sweepBatch is how many expired drafts one sweep pass processes.
	sweepBatch = 500
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	InvoiceSvc invoicedomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   config.Config
	clock clock.Clock

	invoiceSvc invoicedomain.Service
}

func New(p Params) draftdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("draft.service"),
		cfg:        p.Cfg,
		clock:      p.Clock,
		invoiceSvc: p.InvoiceSvc,
	}
}

// Create opens a new active draft for the owner. An existing active draft
// is cancelled in the same transaction, so there is no instant with two
// active drafts for one owner.
func (s *Service) Create(ctx context.Context, req draftdomain.CreateDraftRequest) (draftdomain.Draft, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return draftdomain.Draft{}, err
	}

	ownerRef := strings.TrimSpace(req.OwnerRef)
	if ownerRef == "" {
		return draftdomain.Draft{}, draftdomain.ErrOwnerRequired
	}

	var created draftdomain.Draft
	for attempt := 0; attempt < createAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.clock.Now()

			existing, err := s.loadActiveForOwner(ctx, tx, orgID, ownerRef, true)
			if err != nil {
				return err
			}
			if existing != nil {
				existing.Status = draftdomain.DraftStatusCancelled
				existing.History = append(existing.History, draftdomain.ChangeEntry{
					Timestamp: now,
					Source:    draftdomain.SourceSystem,
					Field:     "status",
					OldValue:  string(draftdomain.DraftStatusActive),
					NewValue:  string(draftdomain.DraftStatusCancelled),
				})
				superseded, err := s.saveActive(ctx, tx, existing)
				if err != nil {
					return err
				}
				if !superseded {
					return draftdomain.ErrConflict
				}
			}

			draft := draftdomain.Draft{
				ID:        uuid.NewString(),
				OrgID:     orgID,
				OwnerRef:  ownerRef,
				Status:    draftdomain.DraftStatusActive,
				InputType: req.InputType,
				CreatedBy: req.CreatedBy,
				CreatedAt: now,
				UpdatedAt: now,
				ExpiresAt: now.Add(s.cfg.DraftTTL),
			}
			if err := s.insertDraft(ctx, tx, draft); err != nil {
				return err
			}
			created = draft
			return nil
		})
		if err == nil {
			return created, nil
		}
		// A concurrent create for the same owner won the partial unique
		// index; the next attempt supersedes their draft.
		if !db.IsDuplicateKeyErr(err) && !db.IsSerializationErr(err) {
			return draftdomain.Draft{}, err
		}
	}

	return draftdomain.Draft{}, draftdomain.ErrConflict
}

func (s *Service) RecordInput(ctx context.Context, draftID string, req draftdomain.RecordInputRequest) (draftdomain.Draft, error) {
	raw := strings.TrimSpace(req.RawInput)
	if raw == "" {
		return draftdomain.Draft{}, draftdomain.ErrInvalidInput
	}

	return s.mutate(ctx, draftID, func(draft *draftdomain.Draft, now time.Time) error {
		inputType := req.InputType
		draft.InputType = &inputType
		draft.RawInput = &raw
		draft.History = append(draft.History, draftdomain.ChangeEntry{
			Timestamp: now,
			Source:    draftdomain.SourceUser,
			Field:     "input",
			NewValue: map[string]any{
				"type":       string(inputType),
				"raw_length": len(raw),
			},
		})
		return nil
	})
}

func (s *Service) RecordExtraction(ctx context.Context, draftID string, payload draftdomain.ExtractionPayload) (draftdomain.Draft, error) {
	return s.mutate(ctx, draftID, func(draft *draftdomain.Draft, now time.Time) error {
		draft.AIResponse = payload.Raw
		draft.AIExtractedAt = &now
		if payload.Items != nil {
			draft.Items = payload.Items
		}
		draft.Customer = datatypes.NewJSONType(payload.Customer)
		draft.Totals = datatypes.NewJSONType(payload.Totals)
		draft.History = append(draft.History, draftdomain.ChangeEntry{
			Timestamp: now,
			Source:    draftdomain.SourceAI,
			Field:     "ai_extraction",
			NewValue: map[string]any{
				"items_count":  len(payload.Items),
				"has_customer": payload.Customer.Name != "" || payload.Customer.HasNaturalKey(),
				"confidence":   payload.Confidence,
			},
		})
		return nil
	})
}

func (s *Service) RecordEdit(ctx context.Context, draftID string, req draftdomain.RecordEditRequest) (draftdomain.Draft, error) {
	field := strings.TrimSpace(req.Field)
	if field == "" {
		return draftdomain.Draft{}, draftdomain.ErrInvalidInput
	}
	source := req.Source
	if source == "" {
		source = draftdomain.SourceUser
	}
	if !source.Valid() {
		return draftdomain.Draft{}, fmt.Errorf("%w: %q", draftdomain.ErrInvalidSource, source)
	}

	return s.mutate(ctx, draftID, func(draft *draftdomain.Draft, now time.Time) error {
		draft.History = append(draft.History, draftdomain.ChangeEntry{
			Timestamp: now,
			Source:    source,
			Field:     field,
			OldValue:  req.OldValue,
			NewValue:  req.NewValue,
		})
		return nil
	})
}

func (s *Service) UpdateData(ctx context.Context, draftID string, req draftdomain.UpdateDataRequest) (draftdomain.Draft, error) {
	source := req.Source
	if source == "" {
		source = draftdomain.SourceUser
	}
	if !source.Valid() {
		return draftdomain.Draft{}, fmt.Errorf("%w: %q", draftdomain.ErrInvalidSource, source)
	}

	return s.mutate(ctx, draftID, func(draft *draftdomain.Draft, now time.Time) error {
		if req.Items != nil {
			old := draft.Items
			draft.Items = *req.Items
			draft.History = append(draft.History, draftdomain.ChangeEntry{
				Timestamp: now,
				Source:    source,
				Field:     "items_data",
				OldValue:  old,
				NewValue:  *req.Items,
			})
		}
		if req.Customer != nil {
			old := draft.Customer.Data()
			draft.Customer = datatypes.NewJSONType(*req.Customer)
			draft.History = append(draft.History, draftdomain.ChangeEntry{
				Timestamp: now,
				Source:    source,
				Field:     "customer_data",
				OldValue:  old,
				NewValue:  *req.Customer,
			})
		}
		if req.Totals != nil {
			old := draft.Totals.Data()
			draft.Totals = datatypes.NewJSONType(*req.Totals)
			draft.History = append(draft.History, draftdomain.ChangeEntry{
				Timestamp: now,
				Source:    source,
				Field:     "totals_data",
				OldValue:  old,
				NewValue:  *req.Totals,
			})
		}
		return nil
	})
}

// Finalize resolves the customer, allocates the invoice number and writes
// the invoice in one transaction, then marks the draft completed. Either
// everything commits or the draft stays active with no invoice persisted.
func (s *Service) Finalize(ctx context.Context, draftID string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var invoice invoicedomain.Invoice
	for attempt := 0; attempt < finalizeAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			draft, err := s.loadForUpdate(ctx, tx, orgID, draftID)
			if err != nil {
				return err
			}
			if draft == nil {
				return draftdomain.ErrNotFound
			}
			if draft.Terminal() {
				return draftdomain.ErrInvalidState
			}

			now := s.clock.Now()
			committed, err := s.invoiceSvc.Commit(ctx, tx, orgID, s.commitSnapshot(draft, now))
			if err != nil {
				return err
			}

			draft.Status = draftdomain.DraftStatusCompleted
			draft.FinalInvoiceID = &committed.ID
			draft.History = append(draft.History, draftdomain.ChangeEntry{
				Timestamp: now,
				Source:    draftdomain.SourceSystem,
				Field:     "finalization",
				OldValue:  string(draftdomain.DraftStatusActive),
				NewValue: map[string]any{
					"status":     string(draftdomain.DraftStatusCompleted),
					"invoice_id": committed.ID.String(),
					"number":     committed.Number,
				},
			})
			completed, err := s.saveActive(ctx, tx, draft)
			if err != nil {
				return err
			}
			if !completed {
				return draftdomain.ErrInvalidState
			}

			invoice = committed
			return nil
		})
		if err == nil {
			s.log.Info("draft finalized",
				zap.String("draft_id", draftID),
				zap.String("number", invoice.Number),
			)
			return invoice, nil
		}
		if !db.IsSerializationErr(err) {
			return invoicedomain.Invoice{}, err
		}
		s.log.Warn("finalize retrying after serialization failure",
			zap.String("draft_id", draftID),
			zap.Int("attempt", attempt+1),
		)
	}
	return invoicedomain.Invoice{}, err
}

func (s *Service) Cancel(ctx context.Context, draftID, reason string) error {
	_, err := s.mutate(ctx, draftID, func(draft *draftdomain.Draft, now time.Time) error {
		draft.Status = draftdomain.DraftStatusCancelled
		entry := draftdomain.ChangeEntry{
			Timestamp: now,
			Source:    draftdomain.SourceUser,
			Field:     "status",
			OldValue:  string(draftdomain.DraftStatusActive),
			NewValue:  string(draftdomain.DraftStatusCancelled),
		}
		if reason = strings.TrimSpace(reason); reason != "" {
			entry.NewValue = map[string]any{
				"status": string(draftdomain.DraftStatusCancelled),
				"reason": reason,
			}
		}
		draft.History = append(draft.History, entry)
		return nil
	})
	return err
}

// SweepExpired expires active drafts past their deadline. Every row
// transition is guarded on the draft still being active, so overlapping
// sweeps cannot double-apply.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var candidates []draftdomain.Draft
	err := s.db.WithContext(ctx).
		Model(&draftdomain.Draft{}).
		Where("status = ? AND expires_at <= ?", draftdomain.DraftStatusActive, now).
		Limit(sweepBatch).
		Find(&candidates).Error
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range candidates {
		draft := candidates[i]
		draft.Status = draftdomain.DraftStatusExpired
		draft.History = append(draft.History, draftdomain.ChangeEntry{
			Timestamp: now,
			Source:    draftdomain.SourceSystem,
			Field:     "status",
			OldValue:  string(draftdomain.DraftStatusActive),
			NewValue:  string(draftdomain.DraftStatusExpired),
		})

		result := s.db.WithContext(ctx).Exec(
			`UPDATE invoice_drafts
			 SET status = ?, change_history = ?, updated_at = ?
			 WHERE id = ? AND status = ? AND expires_at <= ?`,
			draft.Status,
			draft.History,
			now,
			draft.ID,
			draftdomain.DraftStatusActive,
			now,
		)
		if result.Error != nil {
			return expired, result.Error
		}
		if result.RowsAffected > 0 {
			expired++
		}
	}

	if expired > 0 {
		s.log.Info("expired drafts swept", zap.Int("count", expired))
	}
	return expired, nil
}

func (s *Service) Get(ctx context.Context, draftID string) (draftdomain.Draft, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return draftdomain.Draft{}, err
	}

	draft, err := s.load(ctx, s.db, orgID, draftID)
	if err != nil {
		return draftdomain.Draft{}, err
	}
	if draft == nil {
		return draftdomain.Draft{}, draftdomain.ErrNotFound
	}
	return *draft, nil
}

func (s *Service) GetActiveForOwner(ctx context.Context, ownerRef string) (*draftdomain.Draft, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.loadActiveForOwner(ctx, s.db, orgID, strings.TrimSpace(ownerRef), false)
}

func (s *Service) ListByOrg(ctx context.Context, req draftdomain.ListDraftRequest) ([]draftdomain.Draft, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	stmt := s.db.WithContext(ctx).
		Model(&draftdomain.Draft{}).
		Where("org_id = ?", orgID)
	if req.Status != nil {
		stmt = stmt.Where("status = ?", *req.Status)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	var drafts []draftdomain.Draft
	err = stmt.
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&drafts).Error
	if err != nil {
		return nil, err
	}
	return drafts, nil
}

func (s *Service) CountByOrg(ctx context.Context, status *draftdomain.DraftStatus) (int64, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return 0, err
	}

	stmt := s.db.WithContext(ctx).
		Model(&draftdomain.Draft{}).
		Where("org_id = ?", orgID)
	if status != nil {
		stmt = stmt.Where("status = ?", *status)
	}

	var count int64
	if err := stmt.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// mutate applies fn to an active draft under a row lock and persists the
// result guarded on the draft still being active.
func (s *Service) mutate(ctx context.Context, draftID string, fn func(*draftdomain.Draft, time.Time) error) (draftdomain.Draft, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return draftdomain.Draft{}, err
	}

	var mutated draftdomain.Draft
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		draft, err := s.loadForUpdate(ctx, tx, orgID, draftID)
		if err != nil {
			return err
		}
		if draft == nil {
			return draftdomain.ErrNotFound
		}
		if draft.Terminal() {
			return draftdomain.ErrInvalidState
		}

		if err := fn(draft, s.clock.Now()); err != nil {
			return err
		}

		saved, err := s.saveActive(ctx, tx, draft)
		if err != nil {
			return err
		}
		if !saved {
			return draftdomain.ErrInvalidState
		}
		mutated = *draft
		return nil
	})
	if err != nil {
		return draftdomain.Draft{}, err
	}
	return mutated, nil
}

func (s *Service) load(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, draftID string) (*draftdomain.Draft, error) {
	draftID = strings.TrimSpace(draftID)
	if draftID == "" {
		return nil, draftdomain.ErrNotFound
	}

	var draft draftdomain.Draft
	err := tx.WithContext(ctx).
		Model(&draftdomain.Draft{}).
		Where("org_id = ? AND id = ?", orgID, draftID).
		Limit(1).
		Scan(&draft).Error
	if err != nil {
		return nil, err
	}
	if draft.ID == "" {
		return nil, nil
	}
	return &draft, nil
}

func (s *Service) loadForUpdate(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, draftID string) (*draftdomain.Draft, error) {
	draftID = strings.TrimSpace(draftID)
	if draftID == "" {
		return nil, draftdomain.ErrNotFound
	}

	var draft draftdomain.Draft
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM invoice_drafts WHERE org_id = ? AND id = ?`+db.ForUpdate(tx),
		orgID,
		draftID,
	).Scan(&draft).Error
	if err != nil {
		return nil, err
	}
	if draft.ID == "" {
		return nil, nil
	}
	return &draft, nil
}

func (s *Service) loadActiveForOwner(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, ownerRef string, forUpdate bool) (*draftdomain.Draft, error) {
	if ownerRef == "" {
		return nil, draftdomain.ErrOwnerRequired
	}

	suffix := ""
	if forUpdate {
		suffix = db.ForUpdate(tx)
	}

	var draft draftdomain.Draft
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM invoice_drafts
		 WHERE org_id = ? AND owner_ref = ? AND status = ?`+suffix,
		orgID,
		ownerRef,
		draftdomain.DraftStatusActive,
	).Scan(&draft).Error
	if err != nil {
		return nil, err
	}
	if draft.ID == "" {
		return nil, nil
	}
	return &draft, nil
}

func (s *Service) insertDraft(ctx context.Context, tx *gorm.DB, draft draftdomain.Draft) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoice_drafts (
			id, org_id, owner_ref, status, input_type, raw_input,
			ai_response, ai_extracted_at,
			items_data, customer_data, totals_data, change_history,
			final_invoice_id, created_by, created_at, updated_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		draft.ID,
		draft.OrgID,
		draft.OwnerRef,
		draft.Status,
		draft.InputType,
		draft.RawInput,
		draft.AIResponse,
		draft.AIExtractedAt,
		draft.Items,
		draft.Customer,
		draft.Totals,
		draft.History,
		draft.FinalInvoiceID,
		draft.CreatedBy,
		draft.CreatedAt,
		draft.UpdatedAt,
		draft.ExpiresAt,
	).Error
}

// saveActive persists a mutated draft, guarded on the row still being
// active. Returns false when another writer got there first.
func (s *Service) saveActive(ctx context.Context, tx *gorm.DB, draft *draftdomain.Draft) (bool, error) {
	draft.UpdatedAt = s.clock.Now()
	result := tx.WithContext(ctx).Exec(
		`UPDATE invoice_drafts
		 SET status = ?, input_type = ?, raw_input = ?,
		     ai_response = ?, ai_extracted_at = ?,
		     items_data = ?, customer_data = ?, totals_data = ?, change_history = ?,
		     final_invoice_id = ?, updated_at = ?
		 WHERE org_id = ? AND id = ? AND status = ?`,
		draft.Status,
		draft.InputType,
		draft.RawInput,
		draft.AIResponse,
		draft.AIExtractedAt,
		draft.Items,
		draft.Customer,
		draft.Totals,
		draft.History,
		draft.FinalInvoiceID,
		draft.UpdatedAt,
		draft.OrgID,
		draft.ID,
		draftdomain.DraftStatusActive,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *Service) commitSnapshot(draft *draftdomain.Draft, now time.Time) invoicedomain.CommitSnapshot {
	items := make([]invoicedomain.CommitItem, 0, len(draft.Items))
	for _, item := range draft.Items {
		items = append(items, invoicedomain.CommitItem{
			Description: item.Description,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Material:    item.Material,
			WeightGrams: item.WeightGrams,
			Category:    item.Category,
		})
	}

	totals := draft.Totals.Data()
	commitTotals := invoicedomain.CommitTotals{
		Discount:      value(totals.Discount),
		Tax:           value(totals.Tax),
		Authoritative: totals.Authoritative(),
	}
	if commitTotals.Authoritative {
		commitTotals.Subtotal = value(totals.Subtotal)
		commitTotals.Total = value(totals.Total)
	}

	return invoicedomain.CommitSnapshot{
		Items:     items,
		Customer:  draft.Customer.Data(),
		Totals:    commitTotals,
		Prefix:    s.cfg.InvoicePrefix,
		PeriodKey: sequence.PeriodKey(now),
		CreatedBy: draft.CreatedBy,
	}
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, draftdomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func value(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
