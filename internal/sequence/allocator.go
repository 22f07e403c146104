// Package sequence allocates unique, monotonically increasing invoice
// numbers per (org, period). Numbers never repeat; gaps after a rolled-back
// transaction are acceptable.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/facturio/facturio/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxAttempts bounds retries on transient lock failures before the
// allocation surfaces as a conflict.
const maxAttempts = 5

var (
	ErrInvalidScope = errors.New("invalid_sequence_scope")
	ErrExhausted    = errors.New("sequence_exhausted")
)

type Params struct {
	fx.In

	Log *zap.Logger
}

// Allocator hands out formatted invoice numbers. It must be called inside
// the transaction that also writes the invoice row, so that a rollback
// releases the counter row and no number is half-committed.
type Allocator struct {
	log *zap.Logger
}

func New(p Params) *Allocator {
	return &Allocator{log: p.Log.Named("sequence.allocator")}
}

// Next increments the (org, period) counter and returns the formatted
// number: {prefix}-{period}-{seq} zero-padded to four digits, overflowing
// naturally past 9999.
func (a *Allocator) Next(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, periodKey, prefix string) (string, error) {
	value, err := a.NextValue(ctx, tx, orgID, periodKey)
	if err != nil {
		return "", err
	}
	return Format(prefix, periodKey, value), nil
}

// NextValue returns the raw next counter value for the scope.
func (a *Allocator) NextValue(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, periodKey string) (int64, error) {
	if orgID == 0 || periodKey == "" {
		return 0, ErrInvalidScope
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var next int64
		err := tx.WithContext(ctx).Raw(
			`INSERT INTO invoice_sequences (org_id, period_key, last_value, updated_at)
			 VALUES (?, ?, 1, ?)
			 ON CONFLICT (org_id, period_key)
			 DO UPDATE SET last_value = invoice_sequences.last_value + 1, updated_at = excluded.updated_at
			 RETURNING last_value`,
			orgID,
			periodKey,
			time.Now().UTC(),
		).Scan(&next).Error
		if err == nil {
			if next <= 0 {
				return 0, ErrExhausted
			}
			return next, nil
		}
		if !db.IsSerializationErr(err) {
			return 0, err
		}
		lastErr = err
		a.log.Warn("sequence allocation contended",
			zap.Int64("org_id", int64(orgID)),
			zap.String("period_key", periodKey),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return 0, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// Format renders a sequence value as an invoice number.
func Format(prefix, periodKey string, value int64) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, periodKey, value)
}

// PeriodKey derives the year-month scope for a point in time.
func PeriodKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Module provides the invoice number allocator.
var Module = fx.Module("sequence.allocator",
	fx.Provide(New),
)
