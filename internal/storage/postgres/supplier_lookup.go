package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/inn-enricher/internal/enrich"
)

// SupplierLookup answers whether a domain already has a supplier record
// with a tax id. It reads the supplier table owned by another service.
type SupplierLookup struct {
	pool  pool
	table string
}

// NewSupplierLookup wraps a pool. An empty table defaults to suppliers.
func NewSupplierLookup(p pool, table string) (*SupplierLookup, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "suppliers"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SupplierLookup{pool: p, table: table}, nil
}

// IsResolved reports whether the normalized domain has a tax id on file.
func (l *SupplierLookup) IsResolved(ctx context.Context, domain string) (bool, error) {
	domain = enrich.NormalizeDomain(domain)
	if domain == "" {
		return false, nil
	}
	query := fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE domain = $1 AND COALESCE(tax_id, '') <> '')`, l.table)
	var resolved bool
	if err := l.pool.QueryRow(ctx, query, domain).Scan(&resolved); err != nil {
		return false, fmt.Errorf("lookup supplier %s: %w", domain, err)
	}
	return resolved, nil
}
