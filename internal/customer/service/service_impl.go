package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturio/facturio/internal/customer/domain"
	"github.com/facturio/facturio/internal/tenantctx"
	"github.com/facturio/facturio/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// resolveAttempts bounds the insert/recover loop under concurrent duplicate
// callers before the conflict surfaces.
const resolveAttempts = 3

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("customer.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Resolve(ctx context.Context, req domain.ResolveCustomerRequest) (domain.Customer, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	return s.ResolveTx(ctx, s.db, orgID, req.Data, req.CreatedBy)
}

// ResolveTx looks the customer up by national id, then phone, then inserts.
// A losing insert against the natural-key constraint is recovered by
// re-querying, so concurrent duplicate calls converge on one row.
func (s *Service) ResolveTx(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, data domain.CustomerData, createdBy string) (domain.Customer, error) {
	if orgID == 0 {
		return domain.Customer{}, domain.ErrInvalidOrganization
	}

	data = normalize(data)
	if data.Name == "" {
		return domain.Customer{}, domain.ErrNameRequired
	}

	for attempt := 0; attempt < resolveAttempts; attempt++ {
		if found, err := s.lookup(ctx, tx, orgID, data); err != nil {
			return domain.Customer{}, err
		} else if found != nil {
			return *found, nil
		}

		customer := s.build(orgID, data, createdBy)
		err := s.repo.Insert(ctx, tx, &customer)
		if err == nil {
			return customer, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return domain.Customer{}, err
		}

		// A concurrent caller won the insert; the next loop iteration
		// finds their row.
		s.log.Debug("customer insert lost natural-key race",
			zap.Int64("org_id", int64(orgID)),
			zap.Int("attempt", attempt+1),
		)
	}

	return domain.Customer{}, domain.ErrConflict
}

func (s *Service) lookup(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, data domain.CustomerData) (*domain.Customer, error) {
	if data.NationalID != "" {
		found, err := s.repo.FindByNationalID(ctx, tx, orgID, data.NationalID)
		if err != nil || found != nil {
			return found, err
		}
	}
	if data.Phone != "" {
		found, err := s.repo.FindByPhone(ctx, tx, orgID, data.Phone)
		if err != nil || found != nil {
			return found, err
		}
	}
	return nil, nil
}

func (s *Service) build(orgID snowflake.ID, data domain.CustomerData, createdBy string) domain.Customer {
	now := time.Now().UTC()
	return domain.Customer{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		Name:       data.Name,
		NationalID: optional(data.NationalID),
		Phone:      optional(data.Phone),
		Email:      optional(data.Email),
		Address:    optional(data.Address),
		City:       optional(data.City),
		Notes:      optional(data.Notes),
		CreatedBy:  createdBy,
		UpdatedBy:  createdBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (s *Service) GetByID(ctx context.Context, req domain.GetCustomerRequest) (domain.Customer, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Customer{}, err
	}

	item, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if item == nil {
		return domain.Customer{}, domain.ErrNotFound
	}
	return *item, nil
}

func (s *Service) List(ctx context.Context, req domain.ListCustomerRequest) ([]domain.Customer, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	items, err := s.repo.List(ctx, s.db, orgID, domain.ListCustomerFilter{
		Search: strings.TrimSpace(req.Search),
		Limit:  req.Limit,
	})
	if err != nil {
		return nil, err
	}

	customers := make([]domain.Customer, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		customers = append(customers, *item)
	}
	return customers, nil
}

func (s *Service) Update(ctx context.Context, req domain.UpdateCustomerRequest) (domain.Customer, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return domain.Customer{}, err
	}

	id, err := s.parseID(req.ID)
	if err != nil {
		return domain.Customer{}, err
	}

	data := normalize(req.Data)
	if data.Name == "" {
		return domain.Customer{}, domain.ErrNameRequired
	}

	existing, err := s.repo.FindByID(ctx, s.db, orgID, id)
	if err != nil {
		return domain.Customer{}, err
	}
	if existing == nil {
		return domain.Customer{}, domain.ErrNotFound
	}

	existing.Name = data.Name
	existing.NationalID = optional(data.NationalID)
	existing.Phone = optional(data.Phone)
	existing.Email = optional(data.Email)
	existing.Address = optional(data.Address)
	existing.City = optional(data.City)
	existing.Notes = optional(data.Notes)
	existing.UpdatedBy = req.UpdatedBy
	existing.UpdatedAt = time.Now().UTC()

	if err := s.repo.Update(ctx, s.db, existing); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Customer{}, domain.ErrConflict
		}
		return domain.Customer{}, err
	}
	return *existing, nil
}

func (s *Service) SoftDelete(ctx context.Context, id string, updatedBy string) error {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return err
	}

	parsed, err := s.parseID(id)
	if err != nil {
		return err
	}

	deleted, err := s.repo.SoftDelete(ctx, s.db, orgID, parsed, updatedBy)
	if err != nil {
		return err
	}
	if !deleted {
		return domain.ErrNotFound
	}
	return nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	orgID, ok := tenantctx.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return 0, domain.ErrInvalidOrganization
	}
	return orgID, nil
}

func (s *Service) parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

func normalize(data domain.CustomerData) domain.CustomerData {
	return domain.CustomerData{
		Name:       strings.TrimSpace(data.Name),
		NationalID: strings.TrimSpace(data.NationalID),
		Phone:      strings.TrimSpace(data.Phone),
		Email:      strings.TrimSpace(data.Email),
		Address:    strings.TrimSpace(data.Address),
		City:       strings.TrimSpace(data.City),
		Notes:      strings.TrimSpace(data.Notes),
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
