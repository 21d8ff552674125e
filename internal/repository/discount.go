package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/floracart/checkout-server/internal/domain/pricing"
)

const getDiscountByCodeSQL = `SELECT code, kind, value, title, item_ids, automatic
	FROM discounts WHERE UPPER(code) = UPPER($1) AND active = TRUE`

var _ pricing.RuleSource = (*DiscountRepository)(nil)

// DiscountRepository implements pricing.RuleSource backed by PostgreSQL.
type DiscountRepository struct {
	pool *pgxpool.Pool
}

// NewDiscountRepository returns a DiscountRepository that uses the given pool.
func NewDiscountRepository(pool *pgxpool.Pool) *DiscountRepository {
	return &DiscountRepository{pool: pool}
}

// FindByCode looks up an active discount rule by its code
// (case-insensitive). Returns pricing.ErrUnknownCode when no matching
// active rule exists.
func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (*pricing.Rule, error) {
	rows, err := r.pool.Query(ctx, getDiscountByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pricing.ErrUnknownCode
		}
		return nil, fmt.Errorf("finding discount by code %q: %w", code, err)
	}
	return &rule, nil
}

func scanRule(row pgx.CollectableRow) (pricing.Rule, error) {
	var (
		rule  pricing.Rule
		kind  string
		value decimal.Decimal
	)
	err := row.Scan(&rule.Code, &kind, &value, &rule.Title, &rule.ItemIDs, &rule.Automatic)
	rule.Kind = pricing.Kind(kind)
	rule.Value = value
	return rule, err
}
