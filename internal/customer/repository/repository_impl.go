package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/facturio/facturio/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO customers (id, org_id, name, national_id, phone, email, address, city, notes,
		                        deleted, created_by, updated_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		customer.ID,
		customer.OrgID,
		customer.Name,
		customer.NationalID,
		customer.Phone,
		customer.Email,
		customer.Address,
		customer.City,
		customer.Notes,
		customer.Deleted,
		customer.CreatedBy,
		customer.UpdatedBy,
		customer.CreatedAt,
		customer.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*domain.Customer, error) {
	return r.findOne(ctx, db, `org_id = ? AND id = ? AND deleted = ?`, orgID, id, false)
}

func (r *repo) FindByNationalID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, nationalID string) (*domain.Customer, error) {
	return r.findOne(ctx, db, `org_id = ? AND national_id = ? AND deleted = ?`, orgID, nationalID, false)
}

func (r *repo) FindByPhone(ctx context.Context, db *gorm.DB, orgID snowflake.ID, phone string) (*domain.Customer, error) {
	return r.findOne(ctx, db, `org_id = ? AND phone = ? AND deleted = ?`, orgID, phone, false)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, cond string, args ...any) (*domain.Customer, error) {
	var customer domain.Customer
	err := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where(cond, args...).
		Limit(1).
		Scan(&customer).Error
	if err != nil {
		return nil, err
	}
	if customer.ID == 0 {
		return nil, nil
	}
	return &customer, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter domain.ListCustomerFilter) ([]*domain.Customer, error) {
	var customers []*domain.Customer
	stmt := db.WithContext(ctx).
		Model(&domain.Customer{}).
		Where("org_id = ? AND deleted = ?", orgID, false)
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		stmt = stmt.Where("name LIKE ? OR national_id LIKE ? OR phone LIKE ?", like, like, like)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	err := stmt.
		Order("created_at desc, id desc").
		Limit(limit).
		Find(&customers).Error
	if err != nil {
		return nil, err
	}
	return customers, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, customer *domain.Customer) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET name = ?, national_id = ?, phone = ?, email = ?, address = ?, city = ?, notes = ?,
		     updated_by = ?, updated_at = ?
		 WHERE org_id = ? AND id = ?`,
		customer.Name,
		customer.NationalID,
		customer.Phone,
		customer.Email,
		customer.Address,
		customer.City,
		customer.Notes,
		customer.UpdatedBy,
		customer.UpdatedAt,
		customer.OrgID,
		customer.ID,
	).Error
}

func (r *repo) SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, updatedBy string) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET deleted = ?, updated_by = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE org_id = ? AND id = ? AND deleted = ?`,
		true,
		updatedBy,
		orgID,
		id,
		false,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
