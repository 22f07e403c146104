package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturio/facturio/internal/clock"
	"github.com/facturio/facturio/internal/config"
	customerdomain "github.com/facturio/facturio/internal/customer/domain"
	customerrepo "github.com/facturio/facturio/internal/customer/repository"
	customersvc "github.com/facturio/facturio/internal/customer/service"
	draftdomain "github.com/facturio/facturio/internal/draft/domain"
	invoicedomain "github.com/facturio/facturio/internal/invoice/domain"
	invoicesvc "github.com/facturio/facturio/internal/invoice/service"
	"github.com/facturio/facturio/internal/sequence"
	"github.com/facturio/facturio/internal/tenantctx"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func setupDraftService(t *testing.T, node *snowflake.Node, clk clock.Clock) (draftdomain.Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	_ = db.Exec("PRAGMA busy_timeout = 5000").Error
	prepareDraftSchema(t, db)

	customerService := customersvc.New(customersvc.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  customerrepo.Provide(),
	})
	invoiceService := invoicesvc.NewService(invoicesvc.ServiceParam{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		CustomerSvc: customerService,
		Allocator:   sequence.New(sequence.Params{Log: zap.NewNop()}),
	})
	service := New(Params{
		DB: db,
		Log: zap.NewNop(),
		Cfg: config.Config{
			InvoicePrefix: "JOY",
			DraftTTL:      24 * time.Hour,
		},
		Clock:      clk,
		InvoiceSvc: invoiceService,
	})
	return service, db
}

func prepareDraftSchema(t *testing.T, db *gorm.DB) {
	t.Helper()
	statements := []string{
		`CREATE TABLE customers (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			name TEXT NOT NULL,
			national_id TEXT,
			phone TEXT,
			email TEXT,
			address TEXT,
			city TEXT,
			notes TEXT,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_by TEXT,
			updated_by TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE invoice_sequences (
			org_id BIGINT NOT NULL,
			period_key TEXT NOT NULL,
			last_value BIGINT NOT NULL DEFAULT 0,
			updated_at DATETIME,
			PRIMARY KEY (org_id, period_key)
		)`,
		`CREATE TABLE invoices (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			number TEXT NOT NULL,
			customer_id BIGINT,
			items_json JSON NOT NULL DEFAULT '[]',
			subtotal BIGINT NOT NULL DEFAULT 0,
			discount BIGINT NOT NULL DEFAULT 0,
			tax BIGINT NOT NULL DEFAULT 0,
			total BIGINT NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'ISSUED',
			version BIGINT NOT NULL DEFAULT 1,
			notes TEXT,
			created_by TEXT,
			updated_by TEXT,
			paid_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX uq_invoices_org_number ON invoices (org_id, number)`,
		`CREATE TABLE invoice_items (
			id BIGINT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			invoice_id BIGINT NOT NULL,
			line_no INTEGER NOT NULL,
			description TEXT NOT NULL,
			quantity BIGINT NOT NULL,
			unit_price BIGINT NOT NULL,
			subtotal BIGINT NOT NULL,
			material TEXT,
			weight_grams DOUBLE PRECISION,
			category TEXT,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE invoice_drafts (
			id TEXT PRIMARY KEY,
			org_id BIGINT NOT NULL,
			owner_ref TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			input_type TEXT,
			raw_input TEXT,
			ai_response JSON,
			ai_extracted_at DATETIME,
			items_data JSON,
			customer_data JSON,
			totals_data JSON,
			change_history JSON,
			final_invoice_id BIGINT,
			created_by TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX uq_invoice_drafts_active_owner
			ON invoice_drafts (org_id, owner_ref)
			WHERE status = 'active'`,
		`CREATE INDEX idx_invoice_drafts_sweep ON invoice_drafts (status, expires_at)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("prepare schema: %v", err)
		}
	}
}

func mustDraftNode(t *testing.T) *snowflake.Node {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return node
}

func seedWorkingSet(t *testing.T, service draftdomain.Service, ctx context.Context, draftID string) {
	t.Helper()
	items := []draftdomain.DraftItem{
		{Description: "Cincin emas 5gr", Quantity: 1, UnitPrice: 2500000, Material: "gold"},
		{Description: "Ongkos pembuatan", Quantity: 1, UnitPrice: 475000},
	}
	customer := customerdomain.CustomerData{Name: "Ibu Sari", NationalID: "3175094501820001"}
	if _, err := service.UpdateData(ctx, draftID, draftdomain.UpdateDataRequest{
		Items:    &items,
		Customer: &customer,
	}); err != nil {
		t.Fatalf("seed working set: %v", err)
	}
}

func TestCreateSupersedesActiveDraft(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC))
	service, db := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	first, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}

	second, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("expected a fresh draft id")
	}

	old, err := service.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get superseded: %v", err)
	}
	if old.Status != draftdomain.DraftStatusCancelled {
		t.Fatalf("expected first draft cancelled, got %s", old.Status)
	}

	var active int
	if err := db.Raw(
		`SELECT COUNT(1) FROM invoice_drafts WHERE owner_ref = ? AND status = 'active'`,
		"wa:628555",
	).Scan(&active).Error; err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 1 {
		t.Fatalf("expected exactly one active draft, got %d", active)
	}
}

func TestCreateValidation(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Now())
	service, _ := setupDraftService(t, node, clk)

	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())
	if _, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "  "}); !errors.Is(err, draftdomain.ErrOwnerRequired) {
		t.Fatalf("expected ErrOwnerRequired, got %v", err)
	}
	if _, err := service.Create(context.Background(), draftdomain.CreateDraftRequest{OwnerRef: "wa:1"}); !errors.Is(err, draftdomain.ErrInvalidOrganization) {
		t.Fatalf("expected ErrInvalidOrganization, got %v", err)
	}
}

func TestRecordInputAndExtraction(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC))
	service, _ := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	draft, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	draft, err = service.RecordInput(ctx, draft.ID, draftdomain.RecordInputRequest{
		RawInput:  "jual cincin 5 gram ke ibu sari 2.5jt",
		InputType: draftdomain.InputTypeText,
	})
	if err != nil {
		t.Fatalf("record input: %v", err)
	}
	if draft.RawInput == nil || *draft.RawInput == "" {
		t.Fatal("expected raw input stored")
	}
	if draft.InputType == nil || *draft.InputType != draftdomain.InputTypeText {
		t.Fatal("expected input type stored")
	}

	subtotal := int64(2500000)
	total := int64(2500000)
	draft, err = service.RecordExtraction(ctx, draft.ID, draftdomain.ExtractionPayload{
		Items: []draftdomain.DraftItem{
			{Description: "Cincin emas 5gr", Quantity: 1, UnitPrice: 2500000},
		},
		Customer:   customerdomain.CustomerData{Name: "Ibu Sari"},
		Totals:     draftdomain.DraftTotals{Subtotal: &subtotal, Total: &total},
		Confidence: 0.93,
		Raw:        datatypes.JSON(`{"items":[{"description":"Cincin emas 5gr"}]}`),
	})
	if err != nil {
		t.Fatalf("record extraction: %v", err)
	}

	if draft.AIExtractedAt == nil {
		t.Fatal("expected extraction timestamp")
	}
	if len(draft.Items) != 1 {
		t.Fatalf("expected 1 working item, got %d", len(draft.Items))
	}
	if draft.Customer.Data().Name != "Ibu Sari" {
		t.Fatal("expected customer working set")
	}
	if len(draft.AIResponse) == 0 {
		t.Fatal("expected raw provider response kept")
	}

	// input, then extraction.
	if len(draft.History) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(draft.History))
	}
	if draft.History[1].Source != draftdomain.SourceAI {
		t.Fatalf("expected ai source, got %s", draft.History[1].Source)
	}
}

func TestRecordInputValidation(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Now())
	service, _ := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	draft, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := service.RecordInput(ctx, draft.ID, draftdomain.RecordInputRequest{
		RawInput:  "   ",
		InputType: draftdomain.InputTypeText,
	}); !errors.Is(err, draftdomain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := service.RecordInput(ctx, "missing", draftdomain.RecordInputRequest{
		RawInput:  "x",
		InputType: draftdomain.InputTypeText,
	}); !errors.Is(err, draftdomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMutationsRejectUnknownSource(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Now())
	service, _ := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	draft, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	baseline := len(draft.History)

	if _, err := service.RecordEdit(ctx, draft.ID, draftdomain.RecordEditRequest{
		Field:  "items_data",
		Source: draftdomain.ChangeSource("banana"),
	}); !errors.Is(err, draftdomain.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource from RecordEdit, got %v", err)
	}

	items := []draftdomain.DraftItem{{Description: "Cincin emas 5gr", Quantity: 1, UnitPrice: 2500000}}
	if _, err := service.UpdateData(ctx, draft.ID, draftdomain.UpdateDataRequest{
		Items:  &items,
		Source: draftdomain.ChangeSource("banana"),
	}); !errors.Is(err, draftdomain.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource from UpdateData, got %v", err)
	}

	got, err := service.Get(ctx, draft.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.History) != baseline {
		t.Fatalf("expected history untouched at %d entries, got %d", baseline, len(got.History))
	}
}

func TestUpdateDataAppendsHistoryPerSection(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC))
	service, _ := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	draft, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	items := []draftdomain.DraftItem{{Description: "Cincin", Quantity: 1, UnitPrice: 2500000}}
	subtotal := int64(2500000)
	total := int64(2400000)
	discount := int64(100000)
	totals := draftdomain.DraftTotals{Subtotal: &subtotal, Discount: &discount, Total: &total}

	draft, err = service.UpdateData(ctx, draft.ID, draftdomain.UpdateDataRequest{
		Items:  &items,
		Totals: &totals,
	})
	if err != nil {
		t.Fatalf("update data: %v", err)
	}

	if len(draft.History) != 2 {
		t.Fatalf("expected one entry per replaced section, got %d", len(draft.History))
	}
	if !draft.Totals.Data().Authoritative() {
		t.Fatal("expected explicit totals to be authoritative")
	}

	// Untouched sections keep their history untouched too.
	draft, err = service.UpdateData(ctx, draft.ID, draftdomain.UpdateDataRequest{})
	if err != nil {
		t.Fatalf("empty update: %v", err)
	}
	if len(draft.History) != 2 {
		t.Fatalf("expected history unchanged, got %d entries", len(draft.History))
	}
}

func TestFinalizeIssuesInvoiceExactlyOnce(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC))
	service, db := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	draft, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555", CreatedBy: "wa:628555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seedWorkingSet(t, service, ctx, draft.ID)

	invoice, err := service.Finalize(ctx, draft.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if invoice.Number != "JOY-2024-12-0001" {
		t.Fatalf("expected JOY-2024-12-0001, got %s", invoice.Number)
	}
	if invoice.Total != 2975000 {
		t.Fatalf("expected total 2975000, got %d", invoice.Total)
	}
	if invoice.CustomerID == nil {
		t.Fatal("expected resolved customer")
	}

	completed, err := service.Get(ctx, draft.ID)
	if err != nil {
		t.Fatalf("get completed: %v", err)
	}
	if completed.Status != draftdomain.DraftStatusCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}
	if completed.FinalInvoiceID == nil || *completed.FinalInvoiceID != invoice.ID {
		t.Fatal("expected final invoice id on the draft")
	}

	// A second finalize must not issue another invoice.
	if _, err := service.Finalize(ctx, draft.ID); !errors.Is(err, draftdomain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM invoices`).Scan(&count).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one invoice, got %d", count)
	}
}

func TestFinalizeConcurrentDraftsGetDistinctNumbers(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC))
	service, _ := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	const workers = 6
	ids := make([]string, 0, workers)
	for i := 0; i < workers; i++ {
		draft, err := service.Create(ctx, draftdomain.CreateDraftRequest{
			OwnerRef: fmt.Sprintf("wa:62811%04d", i),
		})
		if err != nil {
			t.Fatalf("create draft %d: %v", i, err)
		}
		seedWorkingSet(t, service, ctx, draft.ID)
		ids = append(ids, draft.ID)
	}

	type result struct {
		number string
		err    error
	}
	var wg sync.WaitGroup
	results := make(chan result, workers)
	for _, id := range ids {
		wg.Add(1)
		go func(draftID string) {
			defer wg.Done()
			invoice, err := service.Finalize(ctx, draftID)
			results <- result{number: invoice.Number, err: err}
		}(id)
	}
	wg.Wait()
	close(results)

	seen := make(map[string]bool, workers)
	for res := range results {
		if res.err != nil {
			t.Fatalf("concurrent finalize: %v", res.err)
		}
		if seen[res.number] {
			t.Fatalf("number %s issued twice", res.number)
		}
		seen[res.number] = true
	}
	for n := 1; n <= workers; n++ {
		number := fmt.Sprintf("JOY-2024-12-%04d", n)
		if !seen[number] {
			t.Fatalf("expected %s among finalized numbers, got %v", number, seen)
		}
	}
}

func TestFinalizeFailureKeepsDraftActive(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC))
	service, db := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	draft, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// No items yet, so the commit is rejected.
	if _, err := service.Finalize(ctx, draft.ID); !errors.Is(err, invoicedomain.ErrNoItems) {
		t.Fatalf("expected ErrNoItems, got %v", err)
	}

	still, err := service.Get(ctx, draft.ID)
	if err != nil {
		t.Fatalf("get draft: %v", err)
	}
	if still.Status != draftdomain.DraftStatusActive {
		t.Fatalf("expected draft still active, got %s", still.Status)
	}
	var count int
	if err := db.Raw(`SELECT COUNT(1) FROM invoices`).Scan(&count).Error; err != nil {
		t.Fatalf("count invoices: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no invoice after failed finalize, got %d", count)
	}
}

func TestTerminalDraftsRejectMutation(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Now())
	service, _ := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	draft, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := service.Cancel(ctx, draft.ID, "changed my mind"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := service.RecordInput(ctx, draft.ID, draftdomain.RecordInputRequest{
		RawInput:  "too late",
		InputType: draftdomain.InputTypeText,
	}); !errors.Is(err, draftdomain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := service.Cancel(ctx, draft.ID, ""); !errors.Is(err, draftdomain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on double cancel, got %v", err)
	}
}

func TestGetActiveForOwner(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Now())
	service, _ := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	missing, err := service.GetActiveForOwner(ctx, "wa:628555")
	if err != nil {
		t.Fatalf("get active missing: %v", err)
	}
	if missing != nil {
		t.Fatal("expected no active draft")
	}

	created, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628555"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	active, err := service.GetActiveForOwner(ctx, "wa:628555")
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active == nil || active.ID != created.ID {
		t.Fatal("expected the created draft back")
	}
}

func TestSweepExpired(t *testing.T) {
	node := mustDraftNode(t)
	start := time.Date(2024, 12, 10, 9, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(start)
	service, _ := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	stale, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628111"})
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}

	// The second draft is created a day later, so only the first one is
	// past its deadline at sweep time.
	clk.Advance(24 * time.Hour)
	fresh, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628222"})
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	clk.Advance(time.Hour)
	expired, err := service.SweepExpired(ctx, clk.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired draft, got %d", expired)
	}

	got, err := service.Get(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get stale: %v", err)
	}
	if got.Status != draftdomain.DraftStatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
	if len(got.History) == 0 || got.History[len(got.History)-1].Source != draftdomain.SourceSystem {
		t.Fatal("expected a system history entry for the expiry")
	}

	got, err = service.Get(ctx, fresh.ID)
	if err != nil {
		t.Fatalf("get fresh: %v", err)
	}
	if got.Status != draftdomain.DraftStatusActive {
		t.Fatalf("expected fresh draft untouched, got %s", got.Status)
	}

	// Sweeping again finds nothing new.
	expired, err = service.SweepExpired(ctx, clk.Now())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected idempotent sweep, got %d", expired)
	}
}

func TestListByOrgFiltersStatus(t *testing.T) {
	node := mustDraftNode(t)
	clk := clock.NewFakeClock(time.Now())
	service, _ := setupDraftService(t, node, clk)
	ctx := tenantctx.WithOrgID(context.Background(), node.Generate())

	first, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628111"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := service.Create(ctx, draftdomain.CreateDraftRequest{OwnerRef: "wa:628222"}); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := service.Cancel(ctx, first.ID, ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	cancelled := draftdomain.DraftStatusCancelled
	got, err := service.ListByOrg(ctx, draftdomain.ListDraftRequest{Status: &cancelled})
	if err != nil {
		t.Fatalf("list cancelled: %v", err)
	}
	if len(got) != 1 || got[0].ID != first.ID {
		t.Fatalf("expected only the cancelled draft, got %d rows", len(got))
	}

	all, err := service.ListByOrg(ctx, draftdomain.ListDraftRequest{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 drafts, got %d", len(all))
	}

	total, err := service.CountByOrg(ctx, nil)
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if total != 2 {
		t.Fatalf("expected count 2, got %d", total)
	}
	count, err := service.CountByOrg(ctx, &cancelled)
	if err != nil {
		t.Fatalf("count cancelled: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 cancelled draft, got %d", count)
	}
}
