package matching

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Querier is the subset of pgxpool.Pool the repository needs
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads catalog snapshots from the accounting database
type Repository struct {
	db Querier
}

// NewRepository creates a new catalog repository
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// ListEntries fetches every active catalog product, optionally limited to
// one vendor's catalog (empty vendor means all).
func (r *Repository) ListEntries(ctx context.Context, vendor string) ([]Entry, error) {
	query := `
		SELECT product_id, uom_id, name, aliases, barcode, catalog_code, uom,
		       COALESCE(conversion_ratio, 1)::text, fee_type
		FROM catalog_products
		WHERE active = TRUE AND ($1 = '' OR vendor = $1)
		ORDER BY sort_order, product_id
	`

	rows, err := r.db.Query(ctx, query, vendor)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                                 Entry
			uomID, barcode, code, uom, feeTyp *string
			ratio                             string
		)
		if err := rows.Scan(
			&e.ProductID,
			&uomID,
			&e.Name,
			&e.Aliases,
			&barcode,
			&code,
			&uom,
			&ratio,
			&feeTyp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}

		e.UoMID = deref(uomID)
		e.Barcode = deref(barcode)
		e.CatalogCode = deref(code)
		e.UoM = deref(uom)
		e.FeeType = deref(feeTyp)

		e.ConversionRatio, err = decimal.NewFromString(ratio)
		if err != nil {
			return nil, fmt.Errorf("failed to parse conversion ratio for %s: %w", e.ProductID, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read catalog rows: %w", err)
	}

	return entries, nil
}

// LoadCatalog fetches and indexes a catalog snapshot
func (r *Repository) LoadCatalog(ctx context.Context, vendor string) (*Catalog, error) {
	entries, err := r.ListEntries(ctx, vendor)
	if err != nil {
		return nil, err
	}
	return NewCatalog(entries)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
