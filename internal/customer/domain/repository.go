package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists customers. Every method takes the owning org id; there
// is deliberately no variant that omits it.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, customer *Customer) error
	FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*Customer, error)
	FindByNationalID(ctx context.Context, db *gorm.DB, orgID snowflake.ID, nationalID string) (*Customer, error)
	FindByPhone(ctx context.Context, db *gorm.DB, orgID snowflake.ID, phone string) (*Customer, error)
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListCustomerFilter) ([]*Customer, error)
	Update(ctx context.Context, db *gorm.DB, customer *Customer) error
	SoftDelete(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID, updatedBy string) (bool, error)
}
