package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ResolveCustomerRequest struct {
	Data      CustomerData
	CreatedBy string
}

type UpdateCustomerRequest struct {
	ID        string
	Data      CustomerData
	UpdatedBy string
}

type ListCustomerRequest struct {
	Search string
	Limit  int
}

type ListCustomerFilter struct {
	Search string
	Limit  int
}

type GetCustomerRequest struct {
	ID string
}

// Service resolves and manages customers for the active org.
type Service interface {
	// Resolve finds a customer by natural key or creates one, idempotently
	// under concurrent duplicate calls.
	Resolve(ctx context.Context, req ResolveCustomerRequest) (Customer, error)
	// ResolveTx is Resolve running inside the caller's transaction, for use
	// by the invoice commit path.
	ResolveTx(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, data CustomerData, createdBy string) (Customer, error)
	GetByID(ctx context.Context, req GetCustomerRequest) (Customer, error)
	List(ctx context.Context, req ListCustomerRequest) ([]Customer, error)
	Update(ctx context.Context, req UpdateCustomerRequest) (Customer, error)
	SoftDelete(ctx context.Context, id string, updatedBy string) error
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrNameRequired        = errors.New("name_required")
	ErrInvalidID           = errors.New("invalid_id")
	ErrNotFound            = errors.New("customer_not_found")
	ErrConflict            = errors.New("customer_conflict")
)
