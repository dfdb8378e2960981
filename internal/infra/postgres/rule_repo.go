package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// ListRules returns enabled rules, highest priority first; ties keep creation order
func (r *MirrorRepository) ListRules(ctx context.Context, connID uuid.UUID) ([]*mirror.Rule, error) {
	query := `
		SELECT id, connection_id, name, priority, description_contains,
		       amount_min::text, amount_max::text, category_id, category_name, tags, enabled, created_at
		FROM rules
		WHERE connection_id = $1 AND enabled
		ORDER BY priority DESC, created_at, id
	`

	rows, err := r.getQueryer(ctx).Query(ctx, query, connID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Rule
	for rows.Next() {
		var rule mirror.Rule
		var amountMin, amountMax *string
		err := rows.Scan(
			&rule.ID,
			&rule.ConnectionID,
			&rule.Name,
			&rule.Priority,
			&rule.Conditions.DescriptionContains,
			&amountMin,
			&amountMax,
			&rule.Action.CategoryID,
			&rule.Action.CategoryName,
			&rule.Action.Tags,
			&rule.Enabled,
			&rule.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		if rule.Conditions.AmountMin, err = parseOptionalDecimal(amountMin); err != nil {
			return nil, err
		}
		if rule.Conditions.AmountMax, err = parseOptionalDecimal(amountMax); err != nil {
			return nil, err
		}
		out = append(out, &rule)
	}
	return out, rows.Err()
}

// CreateRule stores a classification rule
func (r *MirrorRepository) CreateRule(ctx context.Context, rule *mirror.Rule) error {
	query := `
		INSERT INTO rules (id, connection_id, name, priority, description_contains, amount_min, amount_max,
		                   category_id, category_name, tags, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	tags := rule.Action.Tags
	if tags == nil {
		tags = []string{}
	}

	_, err := r.getQueryer(ctx).Exec(ctx, query,
		rule.ID,
		rule.ConnectionID,
		rule.Name,
		rule.Priority,
		rule.Conditions.DescriptionContains,
		formatOptionalDecimal(rule.Conditions.AmountMin),
		formatOptionalDecimal(rule.Conditions.AmountMax),
		rule.Action.CategoryID,
		rule.Action.CategoryName,
		tags,
		rule.Enabled,
		rule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// DeleteRule removes a rule
func (r *MirrorRepository) DeleteRule(ctx context.Context, connID, id uuid.UUID) error {
	tag, err := r.getQueryer(ctx).Exec(ctx, `DELETE FROM rules WHERE connection_id = $1 AND id = $2`, connID, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mirror.ErrRuleNotFound
	}
	return nil
}

// ListAliases returns the vendor aliases of a connection ordered by match text
func (r *MirrorRepository) ListAliases(ctx context.Context, connID uuid.UUID) ([]*mirror.VendorAlias, error) {
	query := `
		SELECT id, connection_id, match, vendor_id, vendor_name, created_at
		FROM vendor_aliases
		WHERE connection_id = $1
		ORDER BY match
	`

	rows, err := r.getQueryer(ctx).Query(ctx, query, connID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	defer rows.Close()

	var out []*mirror.VendorAlias
	for rows.Next() {
		var a mirror.VendorAlias
		if err := rows.Scan(&a.ID, &a.ConnectionID, &a.Match, &a.VendorID, &a.VendorName, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alias: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// CreateAlias stores a vendor alias; an existing alias with the same match text is replaced
func (r *MirrorRepository) CreateAlias(ctx context.Context, a *mirror.VendorAlias) error {
	query := `
		INSERT INTO vendor_aliases (id, connection_id, match, vendor_id, vendor_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (connection_id, match) DO UPDATE SET
			vendor_id = EXCLUDED.vendor_id,
			vendor_name = EXCLUDED.vendor_name
	`
	_, err := r.getQueryer(ctx).Exec(ctx, query, a.ID, a.ConnectionID, a.Match, a.VendorID, a.VendorName, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create alias: %w", err)
	}
	return nil
}

func parseOptionalDecimal(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", *s, err)
	}
	return &d, nil
}

func formatOptionalDecimal(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}
