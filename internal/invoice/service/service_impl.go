package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/facturio/facturio/internal/customer/domain"
	invoicedomain "github.com/facturio/facturio/internal/invoice/domain"
	"github.com/facturio/facturio/internal/sequence"
	"github.com/facturio/facturio/internal/tenantctx"
	"github.com/facturio/facturio/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// totalsTolerance is the largest acceptable drift, in currency minor units,
// between an authoritative total and the one recomputed from items.
const totalsTolerance = 1

// issueAttempts bounds direct-issue transaction retries on serialization
// failures.
const issueAttempts = 3

type ServiceParam struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	CustomerSvc customerdomain.Service
	Allocator   *sequence.Allocator
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node

	customerSvc customerdomain.Service
	allocator   *sequence.Allocator
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("invoice.service"),
		genID:       p.GenID,
		customerSvc: p.CustomerSvc,
		allocator:   p.Allocator,
	}
}

// Commit writes the invoice, its normalized items and the legacy JSON
// mirror as one unit inside the caller's transaction. A failure at any
// step aborts the whole finalize.
func (s *Service) Commit(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, snapshot invoicedomain.CommitSnapshot) (invoicedomain.Invoice, error) {
	if orgID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidOrganization
	}

	itemsSubtotal, err := validateItems(snapshot.Items)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	subtotal, discount, tax, total, err := resolveTotals(itemsSubtotal, snapshot.Totals)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var customerID *snowflake.ID
	if hasCustomerData(snapshot.Customer) {
		resolved, err := s.customerSvc.ResolveTx(ctx, tx, orgID, snapshot.Customer, snapshot.CreatedBy)
		if err != nil {
			return invoicedomain.Invoice{}, err
		}
		customerID = &resolved.ID
	}

	periodKey := snapshot.PeriodKey
	if periodKey == "" {
		periodKey = sequence.PeriodKey(time.Now())
	}
	number, err := s.allocator.Next(ctx, tx, orgID, periodKey, snapshot.Prefix)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	now := time.Now().UTC()
	invoiceID := s.genID.Generate()
	items, mirror := buildItems(s.genID, orgID, invoiceID, snapshot.Items, now)

	invoice := invoicedomain.Invoice{
		ID:         invoiceID,
		OrgID:      orgID,
		Number:     number,
		CustomerID: customerID,
		ItemsJSON:  mirror,
		Subtotal:   subtotal,
		Discount:   discount,
		Tax:        tax,
		Total:      total,
		Status:     invoicedomain.InvoiceStatusIssued,
		Version:    1,
		Notes:      strings.TrimSpace(snapshot.Notes),
		CreatedBy:  snapshot.CreatedBy,
		UpdatedBy:  snapshot.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.insertInvoice(ctx, tx, invoice); err != nil {
		return invoicedomain.Invoice{}, err
	}
	for _, item := range items {
		if err := s.insertInvoiceItem(ctx, tx, item); err != nil {
			return invoicedomain.Invoice{}, err
		}
	}

	s.log.Info("invoice committed",
		zap.Int64("org_id", int64(orgID)),
		zap.String("number", number),
		zap.Int64("total", total),
		zap.Int("items", len(items)),
	)
	return invoice, nil
}

// Issue wraps Commit in its own transaction with a bounded retry on
// transient serialization failures.
func (s *Service) Issue(ctx context.Context, snapshot invoicedomain.CommitSnapshot) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var issued invoicedomain.Invoice
	for attempt := 0; attempt < issueAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			committed, err := s.Commit(ctx, tx, orgID, snapshot)
			if err != nil {
				return err
			}
			issued = committed
			return nil
		})
		if err == nil {
			return issued, nil
		}
		if !db.IsSerializationErr(err) {
			return invoicedomain.Invoice{}, err
		}
		s.log.Warn("issue retrying after serialization failure",
			zap.Int64("org_id", int64(orgID)),
			zap.Int("attempt", attempt+1),
		)
	}
	return invoicedomain.Invoice{}, err
}

// Update replaces all items: delete-all-then-insert-all plus mirror rewrite
// and a version bump, inside one transaction. Partial item patches are not
// supported.
func (s *Service) Update(ctx context.Context, req invoicedomain.UpdateInvoiceRequest) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	id, err := parseID(req.ID)
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidID
	}

	itemsSubtotal, err := validateItems(req.Items)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	var updated invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadInvoiceForUpdate(ctx, tx, orgID, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if invoice.Status != invoicedomain.InvoiceStatusIssued {
			return invoicedomain.ErrNotRevisable
		}

		now := time.Now().UTC()
		items, mirror := buildItems(s.genID, orgID, invoice.ID, req.Items, now)

		subtotal := itemsSubtotal
		total := subtotal - invoice.Discount + invoice.Tax
		if total < 0 {
			return invoicedomain.ErrNegativeAmount
		}

		if err := tx.WithContext(ctx).Exec(
			`DELETE FROM invoice_items WHERE org_id = ? AND invoice_id = ?`,
			orgID,
			invoice.ID,
		).Error; err != nil {
			return err
		}
		for _, item := range items {
			if err := s.insertInvoiceItem(ctx, tx, item); err != nil {
				return err
			}
		}

		mirrorJSON := datatypes.NewJSONSlice(mirror)
		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET items_json = ?, subtotal = ?, total = ?, version = version + 1,
			     updated_by = ?, updated_at = ?
			 WHERE org_id = ? AND id = ?`,
			mirrorJSON,
			subtotal,
			total,
			req.UpdatedBy,
			now,
			orgID,
			invoice.ID,
		).Error; err != nil {
			return err
		}

		invoice.ItemsJSON = mirrorJSON
		invoice.Subtotal = subtotal
		invoice.Total = total
		invoice.Version++
		invoice.UpdatedBy = req.UpdatedBy
		invoice.UpdatedAt = now
		updated = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	s.log.Info("invoice revised",
		zap.Int64("org_id", int64(orgID)),
		zap.String("number", updated.Number),
		zap.Int64("version", updated.Version),
	)
	return updated, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status invoicedomain.InvoiceStatus) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	invoiceID, err := parseID(id)
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidID
	}

	var updated invoicedomain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		invoice, err := s.loadInvoiceForUpdate(ctx, tx, orgID, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrNotFound
		}
		if !transitionAllowed(invoice.Status, status) {
			return invoicedomain.ErrInvalidTransition
		}

		now := time.Now().UTC()
		var paidAt *time.Time
		if status == invoicedomain.InvoiceStatusPaid {
			paidAt = &now
		} else {
			paidAt = invoice.PaidAt
		}

		if err := tx.WithContext(ctx).Exec(
			`UPDATE invoices
			 SET status = ?, paid_at = ?, updated_at = ?
			 WHERE org_id = ? AND id = ?`,
			status,
			paidAt,
			now,
			orgID,
			invoice.ID,
		).Error; err != nil {
			return err
		}

		invoice.Status = status
		invoice.PaidAt = paidAt
		invoice.UpdatedAt = now
		updated = *invoice
		return nil
	})
	if err != nil {
		return invoicedomain.Invoice{}, err
	}
	return updated, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	invoiceID, err := parseID(id)
	if err != nil {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidID
	}

	var invoice invoicedomain.Invoice
	res := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("org_id = ? AND id = ?", orgID, invoiceID).
		Limit(1).
		Scan(&invoice)
	if res.Error != nil {
		return invoicedomain.Invoice{}, res.Error
	}
	if invoice.ID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
	}
	return invoice, nil
}

func (s *Service) GetByNumber(ctx context.Context, number string) (invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.Invoice{}, err
	}

	number = strings.TrimSpace(number)
	if number == "" {
		return invoicedomain.Invoice{}, invoicedomain.ErrInvalidID
	}

	var invoice invoicedomain.Invoice
	res := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("org_id = ? AND number = ?", orgID, number).
		Limit(1).
		Scan(&invoice)
	if res.Error != nil {
		return invoicedomain.Invoice{}, res.Error
	}
	if invoice.ID == 0 {
		return invoicedomain.Invoice{}, invoicedomain.ErrNotFound
	}
	return invoice, nil
}

// GetItem joins through the owning invoice so an item id from another
// tenant is indistinguishable from a missing one.
func (s *Service) GetItem(ctx context.Context, itemID string) (invoicedomain.InvoiceItem, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return invoicedomain.InvoiceItem{}, err
	}

	id, err := parseID(itemID)
	if err != nil {
		return invoicedomain.InvoiceItem{}, invoicedomain.ErrInvalidID
	}

	var item invoicedomain.InvoiceItem
	err = s.db.WithContext(ctx).Raw(
		`SELECT invoice_items.*
		 FROM invoice_items
		 JOIN invoices ON invoices.id = invoice_items.invoice_id
		 WHERE invoice_items.id = ? AND invoices.org_id = ?`,
		id,
		orgID,
	).Scan(&item).Error
	if err != nil {
		return invoicedomain.InvoiceItem{}, err
	}
	if item.ID == 0 {
		return invoicedomain.InvoiceItem{}, invoicedomain.ErrItemNotFound
	}
	return item, nil
}

func (s *Service) ListItems(ctx context.Context, invoiceID string) ([]invoicedomain.InvoiceItem, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	id, err := parseID(invoiceID)
	if err != nil {
		return nil, invoicedomain.ErrInvalidID
	}

	var items []invoicedomain.InvoiceItem
	err = s.db.WithContext(ctx).Raw(
		`SELECT invoice_items.*
		 FROM invoice_items
		 JOIN invoices ON invoices.id = invoice_items.invoice_id
		 WHERE invoice_items.invoice_id = ? AND invoices.org_id = ?
		 ORDER BY invoice_items.line_no`,
		id,
		orgID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) ([]invoicedomain.Invoice, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	stmt := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("org_id = ?", orgID)
	if req.Status != nil {
		stmt = stmt.Where("status = ?", *req.Status)
	}
	if req.Number != "" {
		stmt = stmt.Where("number = ?", strings.TrimSpace(req.Number))
	}
	if req.CustomerID != "" {
		customerID, err := parseID(req.CustomerID)
		if err != nil {
			return nil, invoicedomain.ErrInvalidID
		}
		stmt = stmt.Where("customer_id = ?", customerID)
	}
	if req.CreatedFrom != nil {
		stmt = stmt.Where("created_at >= ?", *req.CreatedFrom)
	}
	if req.CreatedTo != nil {
		stmt = stmt.Where("created_at <= ?", *req.CreatedTo)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}

	var invoices []invoicedomain.Invoice
	err = stmt.
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

// RenderData assembles the read-only payload for the rendering service.
func (s *Service) RenderData(ctx context.Context, id string) (invoicedomain.RenderPayload, error) {
	invoice, err := s.GetByID(ctx, id)
	if err != nil {
		return invoicedomain.RenderPayload{}, err
	}

	payload := invoicedomain.RenderPayload{
		Number:      invoice.Number,
		OrgBranding: invoice.OrgID.String(),
		Items:       []invoicedomain.ItemSnapshot(invoice.ItemsJSON),
		Subtotal:    invoice.Subtotal,
		Discount:    invoice.Discount,
		Tax:         invoice.Tax,
		Total:       invoice.Total,
		Notes:       invoice.Notes,
		IssuedAt:    invoice.CreatedAt,
	}

	if invoice.CustomerID != nil {
		customer, err := s.customerSvc.GetByID(ctx, customerdomain.GetCustomerRequest{ID: invoice.CustomerID.String()})
		if err == nil {
			payload.Customer = &invoicedomain.RenderCustomer{
				Name:       customer.Name,
				NationalID: deref(customer.NationalID),
				Phone:      deref(customer.Phone),
				Address:    deref(customer.Address),
				City:       deref(customer.City),
			}
		}
	}
	return payload, nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, invoicedomain.ErrInvalidOrganization
	}
	return orgID, nil
}

func (s *Service) loadInvoiceForUpdate(ctx context.Context, tx *gorm.DB, orgID, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM invoices WHERE org_id = ? AND id = ?`+db.ForUpdate(tx),
		orgID,
		id,
	).Scan(&invoice).Error
	if err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (s *Service) insertInvoice(ctx context.Context, tx *gorm.DB, invoice invoicedomain.Invoice) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoices (
			id, org_id, number, customer_id, items_json,
			subtotal, discount, tax, total,
			status, version, notes, created_by, updated_by,
			paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		invoice.ID,
		invoice.OrgID,
		invoice.Number,
		invoice.CustomerID,
		invoice.ItemsJSON,
		invoice.Subtotal,
		invoice.Discount,
		invoice.Tax,
		invoice.Total,
		invoice.Status,
		invoice.Version,
		invoice.Notes,
		invoice.CreatedBy,
		invoice.UpdatedBy,
		invoice.PaidAt,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	).Error
}

func (s *Service) insertInvoiceItem(ctx context.Context, tx *gorm.DB, item invoicedomain.InvoiceItem) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO invoice_items (
			id, org_id, invoice_id, line_no, description,
			quantity, unit_price, subtotal,
			material, weight_grams, category, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID,
		item.OrgID,
		item.InvoiceID,
		item.LineNo,
		item.Description,
		item.Quantity,
		item.UnitPrice,
		item.Subtotal,
		item.Material,
		item.WeightGrams,
		item.Category,
		item.CreatedAt,
	).Error
}

func validateItems(items []invoicedomain.CommitItem) (int64, error) {
	if len(items) == 0 {
		return 0, invoicedomain.ErrNoItems
	}
	var subtotal int64
	for i, item := range items {
		if strings.TrimSpace(item.Description) == "" {
			return 0, fmt.Errorf("%w: line %d missing description", invoicedomain.ErrInvalidItem, i+1)
		}
		if item.Quantity < 1 {
			return 0, fmt.Errorf("%w: line %d quantity must be at least 1", invoicedomain.ErrInvalidItem, i+1)
		}
		if item.UnitPrice < 0 {
			return 0, fmt.Errorf("%w: line %d negative unit price", invoicedomain.ErrInvalidItem, i+1)
		}
		subtotal += item.Quantity * item.UnitPrice
	}
	return subtotal, nil
}

func resolveTotals(itemsSubtotal int64, totals invoicedomain.CommitTotals) (subtotal, discount, tax, total int64, err error) {
	discount = totals.Discount
	tax = totals.Tax
	if discount < 0 || tax < 0 {
		return 0, 0, 0, 0, invoicedomain.ErrNegativeAmount
	}

	subtotal = itemsSubtotal
	if totals.Authoritative {
		subtotal = totals.Subtotal
		total = totals.Total
		expected := subtotal - discount + tax
		if subtotal < 0 || total < 0 {
			return 0, 0, 0, 0, invoicedomain.ErrNegativeAmount
		}
		if diff := total - expected; diff > totalsTolerance || diff < -totalsTolerance {
			return 0, 0, 0, 0, invoicedomain.ErrTotalsMismatch
		}
		return subtotal, discount, tax, total, nil
	}

	total = subtotal - discount + tax
	if total < 0 {
		return 0, 0, 0, 0, invoicedomain.ErrNegativeAmount
	}
	return subtotal, discount, tax, total, nil
}

func buildItems(genID *snowflake.Node, orgID, invoiceID snowflake.ID, items []invoicedomain.CommitItem, now time.Time) ([]invoicedomain.InvoiceItem, []invoicedomain.ItemSnapshot) {
	rows := make([]invoicedomain.InvoiceItem, 0, len(items))
	mirror := make([]invoicedomain.ItemSnapshot, 0, len(items))
	for i, item := range items {
		lineSubtotal := item.Quantity * item.UnitPrice
		rows = append(rows, invoicedomain.InvoiceItem{
			ID:          genID.Generate(),
			OrgID:       orgID,
			InvoiceID:   invoiceID,
			LineNo:      i + 1,
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    lineSubtotal,
			Material:    optional(item.Material),
			WeightGrams: item.WeightGrams,
			Category:    optional(item.Category),
			CreatedAt:   now,
		})
		mirror = append(mirror, invoicedomain.ItemSnapshot{
			LineNo:      i + 1,
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    lineSubtotal,
			Material:    strings.TrimSpace(item.Material),
			WeightGrams: item.WeightGrams,
			Category:    strings.TrimSpace(item.Category),
		})
	}
	return rows, mirror
}

func hasCustomerData(data customerdomain.CustomerData) bool {
	return strings.TrimSpace(data.Name) != "" || data.HasNaturalKey()
}

func transitionAllowed(from, to invoicedomain.InvoiceStatus) bool {
	switch from {
	case invoicedomain.InvoiceStatusIssued:
		return to == invoicedomain.InvoiceStatusPaid || to == invoicedomain.InvoiceStatusVoid
	case invoicedomain.InvoiceStatusPaid:
		return to == invoicedomain.InvoiceStatusVoid
	default:
		return false
	}
}

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invoicedomain.ErrInvalidID
	}
	return id, nil
}

func optional(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
