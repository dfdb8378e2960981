package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// Accounts

// UpsertAccount inserts or refreshes an account. IsActive and Nickname of an
// existing row are user-owned and left alone.
func (r *MirrorRepository) UpsertAccount(ctx context.Context, a *mirror.Account) error {
	query := `
		INSERT INTO accounts (connection_id, remote_id, name, nickname, account_type, currency, balance, is_active, is_connected, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (connection_id, remote_id) DO UPDATE SET
			name = EXCLUDED.name,
			account_type = EXCLUDED.account_type,
			currency = EXCLUDED.currency,
			balance = EXCLUDED.balance,
			is_connected = EXCLUDED.is_connected,
			updated_at = EXCLUDED.updated_at
	`

	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	_, err := r.getQueryer(ctx).Exec(ctx, query,
		a.ConnectionID,
		a.RemoteID,
		a.Name,
		a.Nickname,
		a.AccountType,
		a.Currency,
		a.Balance.String(),
		a.IsActive,
		a.IsConnected,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

const accountColumns = `connection_id, remote_id, name, nickname, account_type, currency, balance::text, is_active, is_connected, updated_at`

// GetAccount retrieves one account by its remote id
func (r *MirrorRepository) GetAccount(ctx context.Context, connID uuid.UUID, remoteID string) (*mirror.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE connection_id = $1 AND remote_id = $2`

	a, err := scanAccount(r.getQueryer(ctx).QueryRow(ctx, query, connID, remoteID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mirror.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return a, nil
}

// ListAccounts returns every account of a connection ordered by name
func (r *MirrorRepository) ListAccounts(ctx context.Context, connID uuid.UUID) ([]*mirror.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE connection_id = $1 ORDER BY name, remote_id`

	rows, err := r.getQueryer(ctx).Query(ctx, query, connID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MarkAccountsDisconnected flags accounts absent from the latest listing. Rows are never deleted.
func (r *MirrorRepository) MarkAccountsDisconnected(ctx context.Context, connID uuid.UUID, seen []string) (int, error) {
	query := `
		UPDATE accounts
		SET is_connected = FALSE, updated_at = NOW()
		WHERE connection_id = $1 AND is_connected AND NOT (remote_id = ANY($2))
	`
	if seen == nil {
		seen = []string{}
	}

	tag, err := r.getQueryer(ctx).Exec(ctx, query, connID, seen)
	if err != nil {
		return 0, fmt.Errorf("failed to mark accounts disconnected: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// SetAccountActive opts an account in or out of sync
func (r *MirrorRepository) SetAccountActive(ctx context.Context, connID uuid.UUID, remoteID string, active bool) error {
	tag, err := r.getQueryer(ctx).Exec(ctx,
		`UPDATE accounts SET is_active = $3, updated_at = NOW() WHERE connection_id = $1 AND remote_id = $2`,
		connID, remoteID, active)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mirror.ErrAccountNotFound
	}
	return nil
}

func scanAccount(row pgx.Row) (*mirror.Account, error) {
	var a mirror.Account
	var balance string
	err := row.Scan(
		&a.ConnectionID,
		&a.RemoteID,
		&a.Name,
		&a.Nickname,
		&a.AccountType,
		&a.Currency,
		&balance,
		&a.IsActive,
		&a.IsConnected,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("invalid balance %q: %w", balance, err)
	}
	return &a, nil
}

// Categories

// UpsertCategory inserts or refreshes a chart-of-accounts category
func (r *MirrorRepository) UpsertCategory(ctx context.Context, c *mirror.Category) error {
	query := `
		INSERT INTO categories (connection_id, remote_id, name, account_type, classification, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (connection_id, remote_id) DO UPDATE SET
			name = EXCLUDED.name,
			account_type = EXCLUDED.account_type,
			classification = EXCLUDED.classification,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}

	_, err := r.getQueryer(ctx).Exec(ctx, query,
		c.ConnectionID, c.RemoteID, c.Name, c.AccountType, c.Classification, c.Active, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

// ListCategories returns the categories of a connection ordered by name
func (r *MirrorRepository) ListCategories(ctx context.Context, connID uuid.UUID) ([]*mirror.Category, error) {
	query := `
		SELECT connection_id, remote_id, name, account_type, classification, active, updated_at
		FROM categories
		WHERE connection_id = $1
		ORDER BY name, remote_id
	`

	rows, err := r.getQueryer(ctx).Query(ctx, query, connID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Category
	for rows.Next() {
		var c mirror.Category
		if err := rows.Scan(&c.ConnectionID, &c.RemoteID, &c.Name, &c.AccountType, &c.Classification, &c.Active, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Vendors and customers share the name-list layout

// UpsertVendor inserts or refreshes a vendor
func (r *MirrorRepository) UpsertVendor(ctx context.Context, v *mirror.Vendor) error {
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UTC()
	}
	return r.upsertName(ctx, "vendors", v.ConnectionID, v.RemoteID, v.Name, v.Active, v.UpdatedAt)
}

// ListVendors returns the vendors of a connection ordered by name
func (r *MirrorRepository) ListVendors(ctx context.Context, connID uuid.UUID) ([]*mirror.Vendor, error) {
	var out []*mirror.Vendor
	err := r.listNames(ctx, "vendors", connID, func(connID uuid.UUID, id, name string, active bool, at time.Time) {
		out = append(out, &mirror.Vendor{ConnectionID: connID, RemoteID: id, Name: name, Active: active, UpdatedAt: at})
	})
	return out, err
}

// FindVendorByName matches case-insensitively; nil, nil when absent
func (r *MirrorRepository) FindVendorByName(ctx context.Context, connID uuid.UUID, name string) (*mirror.Vendor, error) {
	query := `
		SELECT connection_id, remote_id, name, active, updated_at
		FROM vendors
		WHERE connection_id = $1 AND LOWER(name) = LOWER(TRIM($2))
		ORDER BY active DESC, remote_id
		LIMIT 1
	`

	var v mirror.Vendor
	err := r.getQueryer(ctx).QueryRow(ctx, query, connID, name).Scan(
		&v.ConnectionID, &v.RemoteID, &v.Name, &v.Active, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find vendor: %w", err)
	}
	return &v, nil
}

// UpsertCustomer inserts or refreshes a customer
func (r *MirrorRepository) UpsertCustomer(ctx context.Context, c *mirror.Customer) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	return r.upsertName(ctx, "customers", c.ConnectionID, c.RemoteID, c.Name, c.Active, c.UpdatedAt)
}

// ListCustomers returns the customers of a connection ordered by name
func (r *MirrorRepository) ListCustomers(ctx context.Context, connID uuid.UUID) ([]*mirror.Customer, error) {
	var out []*mirror.Customer
	err := r.listNames(ctx, "customers", connID, func(connID uuid.UUID, id, name string, active bool, at time.Time) {
		out = append(out, &mirror.Customer{ConnectionID: connID, RemoteID: id, Name: name, Active: active, UpdatedAt: at})
	})
	return out, err
}

// table is one of the fixed name-list tables, never user input
func (r *MirrorRepository) upsertName(ctx context.Context, table string, connID uuid.UUID, remoteID, name string, active bool, at time.Time) error {
	query := `
		INSERT INTO ` + table + ` (connection_id, remote_id, name, active, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (connection_id, remote_id) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := r.getQueryer(ctx).Exec(ctx, query, connID, remoteID, name, active, at); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", table, err)
	}
	return nil
}

func (r *MirrorRepository) listNames(ctx context.Context, table string, connID uuid.UUID, each func(uuid.UUID, string, string, bool, time.Time)) error {
	query := `
		SELECT connection_id, remote_id, name, active, updated_at
		FROM ` + table + `
		WHERE connection_id = $1
		ORDER BY name, remote_id
	`

	rows, err := r.getQueryer(ctx).Query(ctx, query, connID)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid    uuid.UUID
			id     string
			name   string
			active bool
			at     time.Time
		)
		if err := rows.Scan(&cid, &id, &name, &active, &at); err != nil {
			return fmt.Errorf("failed to scan %s: %w", table, err)
		}
		each(cid, id, name, active, at)
	}
	return rows.Err()
}
