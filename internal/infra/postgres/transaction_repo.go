package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
)

const transactionColumns = `
	id, connection_id, remote_kind, remote_id, subtype, account_id,
	txn_date, amount::text, currency, description, payee, version_token, payload,
	hint_category_id, hint_category_name, resolved, resolution_reason,
	suggested_category_id, suggested_category_name, suggested_payee, suggested_vendor_id,
	reasoning, confidence, tags, classified_by, auto_accept,
	note, final_category_id, final_category_name, final_payee, vendor_id,
	status, excluded, forced_review, is_split, diagnostic_note,
	approved_at, created_at, updated_at`

// UpsertSynced merges a freshly synced record into the stored row under a row lock
func (r *MirrorRepository) UpsertSynced(ctx context.Context, incoming *mirror.Transaction) (*mirror.Transaction, error) {
	var out *mirror.Transaction
	err := r.WithinTx(ctx, func(ctx context.Context) error {
		query := `SELECT ` + transactionColumns + `
			FROM transactions
			WHERE connection_id = $1 AND remote_kind = $2 AND remote_id = $3
			FOR UPDATE`

		existing, err := scanTransaction(r.getQueryer(ctx).QueryRow(ctx, query,
			incoming.ConnectionID, string(incoming.RemoteKind), incoming.RemoteID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("failed to lock transaction: %w", err)
		}

		merged := mirror.MergeSynced(existing, incoming, time.Now().UTC())
		if err := r.saveTransaction(ctx, merged); err != nil {
			return err
		}
		out = merged
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// saveTransaction writes every column of t
func (r *MirrorRepository) saveTransaction(ctx context.Context, t *mirror.Transaction) error {
	reasoning, err := json.Marshal(t.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to marshal reasoning: %w", err)
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}

	query := `
		INSERT INTO transactions (
			id, connection_id, remote_kind, remote_id, subtype, account_id,
			txn_date, amount, currency, description, payee, version_token, payload,
			hint_category_id, hint_category_name, resolved, resolution_reason,
			suggested_category_id, suggested_category_name, suggested_payee, suggested_vendor_id,
			reasoning, confidence, tags, classified_by, auto_accept,
			note, final_category_id, final_category_name, final_payee, vendor_id,
			status, excluded, forced_review, is_split, diagnostic_note,
			approved_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17,
			$18, $19, $20, $21,
			$22, $23, $24, $25, $26,
			$27, $28, $29, $30, $31,
			$32, $33, $34, $35, $36,
			$37, $38, $39
		)
		ON CONFLICT (id) DO UPDATE SET
			account_id = EXCLUDED.account_id,
			subtype = EXCLUDED.subtype,
			txn_date = EXCLUDED.txn_date,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			description = EXCLUDED.description,
			payee = EXCLUDED.payee,
			version_token = EXCLUDED.version_token,
			payload = EXCLUDED.payload,
			hint_category_id = EXCLUDED.hint_category_id,
			hint_category_name = EXCLUDED.hint_category_name,
			resolved = EXCLUDED.resolved,
			resolution_reason = EXCLUDED.resolution_reason,
			suggested_category_id = EXCLUDED.suggested_category_id,
			suggested_category_name = EXCLUDED.suggested_category_name,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.getQueryer(ctx).Exec(ctx, query,
		t.ID, t.ConnectionID, string(t.RemoteKind), t.RemoteID, string(t.Subtype), t.AccountID,
		t.Date, t.Amount.String(), t.Currency, t.Description, t.Payee, t.VersionToken, []byte(t.Payload),
		t.HintCategoryID, t.HintCategoryName, t.Resolved, t.ResolutionReason,
		t.SuggestedCategoryID, t.SuggestedCategoryName, t.SuggestedPayee, t.SuggestedVendorID,
		reasoning, t.Confidence, tags, string(t.ClassifiedBy), t.AutoAccept,
		t.Note, t.FinalCategoryID, t.FinalCategoryName, t.FinalPayee, t.VendorID,
		string(t.Status), t.Excluded, t.ForcedReview, t.IsSplit, t.DiagnosticNote,
		t.ApprovedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID within its connection
func (r *MirrorRepository) GetTransaction(ctx context.Context, connID, id uuid.UUID) (*mirror.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE connection_id = $1 AND id = $2`

	t, err := scanTransaction(r.getQueryer(ctx).QueryRow(ctx, query, connID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, mirror.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, nil
}

// ListTransactions lists transactions newest first
func (r *MirrorRepository) ListTransactions(ctx context.Context, f mirror.TransactionFilter) ([]*mirror.Transaction, error) {
	where := []string{"connection_id = $1"}
	args := []any{f.ConnectionID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		add("status = ANY($%d)", statuses)
	}
	if len(f.IDs) > 0 {
		add("id = ANY($%d)", f.IDs)
	}
	if f.AccountID != "" {
		add("account_id = $%d", f.AccountID)
	}
	if f.NeedsReview != nil {
		add("(NOT excluded AND (forced_review OR NOT resolved)) = $%d", *f.NeedsReview)
	}
	if f.Excluded != nil {
		add("excluded = $%d", *f.Excluded)
	}

	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY txn_date DESC, remote_kind || ':' || remote_id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return r.queryTransactions(ctx, query, args...)
}

// ApprovedHistory returns approved records, most recently approved first
func (r *MirrorRepository) ApprovedHistory(ctx context.Context, connID uuid.UUID, limit int) ([]*mirror.Transaction, error) {
	query := `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE connection_id = $1 AND status = 'approved'
		ORDER BY COALESCE(approved_at, updated_at) DESC
		LIMIT $2`
	if limit <= 0 {
		limit = 1000
	}
	return r.queryTransactions(ctx, query, connID, limit)
}

func (r *MirrorRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]*mirror.Transaction, error) {
	rows, err := r.getQueryer(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateLocal writes classification, user and workflow fields only
func (r *MirrorRepository) UpdateLocal(ctx context.Context, t *mirror.Transaction) error {
	reasoning, err := json.Marshal(t.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to marshal reasoning: %w", err)
	}
	tags := t.Tags
	if tags == nil {
		tags = []string{}
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = time.Now().UTC()
	}

	query := `
		UPDATE transactions SET
			suggested_category_id = $3,
			suggested_category_name = $4,
			suggested_payee = $5,
			suggested_vendor_id = $6,
			reasoning = $7,
			confidence = $8,
			tags = $9,
			classified_by = $10,
			auto_accept = $11,
			note = $12,
			final_category_id = $13,
			final_category_name = $14,
			final_payee = $15,
			vendor_id = $16,
			status = $17,
			excluded = $18,
			forced_review = $19,
			is_split = $20,
			diagnostic_note = $21,
			updated_at = $22
		WHERE connection_id = $1 AND id = $2
	`

	tag, err := r.getQueryer(ctx).Exec(ctx, query,
		t.ConnectionID, t.ID,
		t.SuggestedCategoryID, t.SuggestedCategoryName, t.SuggestedPayee, t.SuggestedVendorID,
		reasoning, t.Confidence, tags, string(t.ClassifiedBy), t.AutoAccept,
		t.Note, t.FinalCategoryID, t.FinalCategoryName, t.FinalPayee, t.VendorID,
		string(t.Status), t.Excluded, t.ForcedReview, t.IsSplit, t.DiagnosticNote,
		t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mirror.ErrTransactionNotFound
	}
	return nil
}

// RecordWriteBack stores the confirmed version token and marks the record approved
func (r *MirrorRepository) RecordWriteBack(ctx context.Context, connID, id uuid.UUID, versionToken string, payload json.RawMessage, vendorID string, at time.Time) error {
	if versionToken == "" {
		return mirror.ErrMissingVersionToken
	}

	var raw []byte
	if len(payload) > 0 {
		raw = payload
	}

	query := `
		UPDATE transactions SET
			version_token = $3,
			payload = COALESCE($4, payload),
			vendor_id = CASE WHEN $5 = '' THEN vendor_id ELSE $5 END,
			status = 'approved',
			forced_review = FALSE,
			diagnostic_note = '',
			approved_at = $6,
			updated_at = $6
		WHERE connection_id = $1 AND id = $2
	`

	tag, err := r.getQueryer(ctx).Exec(ctx, query, connID, id, versionToken, raw, vendorID, at)
	if err != nil {
		return fmt.Errorf("failed to record write-back: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mirror.ErrTransactionNotFound
	}
	return nil
}

// UpdateResolution refreshes the evaluator output for one record
func (r *MirrorRepository) UpdateResolution(ctx context.Context, connID, id uuid.UUID, resolved bool, reason string) error {
	tag, err := r.getQueryer(ctx).Exec(ctx, `
		UPDATE transactions
		SET resolved = $3, resolution_reason = $4, updated_at = NOW()
		WHERE connection_id = $1 AND id = $2
	`, connID, id, resolved, reason)
	if err != nil {
		return fmt.Errorf("failed to update resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return mirror.ErrTransactionNotFound
	}
	return nil
}

// PruneTransactions deletes every record of the connection whose key is not in keep
func (r *MirrorRepository) PruneTransactions(ctx context.Context, connID uuid.UUID, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}

	tag, err := r.getQueryer(ctx).Exec(ctx, `
		DELETE FROM transactions
		WHERE connection_id = $1 AND NOT ((remote_kind || ':' || remote_id) = ANY($2))
	`, connID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune transactions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListSplits returns the split lines of a transaction in position order
func (r *MirrorRepository) ListSplits(ctx context.Context, txID uuid.UUID) ([]*mirror.Split, error) {
	query := `
		SELECT id, transaction_id, position, category_id, category_name, amount::text, description, created_at
		FROM splits
		WHERE transaction_id = $1
		ORDER BY position
	`

	rows, err := r.getQueryer(ctx).Query(ctx, query, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to list splits: %w", err)
	}
	defer rows.Close()

	var out []*mirror.Split
	for rows.Next() {
		var s mirror.Split
		var amount string
		if err := rows.Scan(&s.ID, &s.TransactionID, &s.Position, &s.CategoryID, &s.CategoryName, &amount, &s.Description, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan split: %w", err)
		}
		if s.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("invalid split amount %q: %w", amount, err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// ReplaceSplits deletes the current split set and inserts splits
func (r *MirrorRepository) ReplaceSplits(ctx context.Context, txID uuid.UUID, splits []*mirror.Split) error {
	return r.WithinTx(ctx, func(ctx context.Context) error {
		q := r.getQueryer(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM splits WHERE transaction_id = $1`, txID); err != nil {
			return fmt.Errorf("failed to delete splits: %w", err)
		}

		for i, s := range splits {
			if s.ID == uuid.Nil {
				s.ID = uuid.New()
			}
			if s.CreatedAt.IsZero() {
				s.CreatedAt = time.Now().UTC()
			}
			_, err := q.Exec(ctx, `
				INSERT INTO splits (id, transaction_id, position, category_id, category_name, amount, description, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, s.ID, txID, i, s.CategoryID, s.CategoryName, s.Amount.String(), s.Description, s.CreatedAt)
			if err != nil {
				return fmt.Errorf("failed to insert split %d: %w", i, err)
			}
		}
		return nil
	})
}

func scanTransaction(row pgx.Row) (*mirror.Transaction, error) {
	var (
		t            mirror.Transaction
		kind         string
		subtype      string
		amount       string
		payload      []byte
		reasoning    []byte
		classifiedBy string
		status       string
	)

	err := row.Scan(
		&t.ID, &t.ConnectionID, &kind, &t.RemoteID, &subtype, &t.AccountID,
		&t.Date, &amount, &t.Currency, &t.Description, &t.Payee, &t.VersionToken, &payload,
		&t.HintCategoryID, &t.HintCategoryName, &t.Resolved, &t.ResolutionReason,
		&t.SuggestedCategoryID, &t.SuggestedCategoryName, &t.SuggestedPayee, &t.SuggestedVendorID,
		&reasoning, &t.Confidence, &t.Tags, &classifiedBy, &t.AutoAccept,
		&t.Note, &t.FinalCategoryID, &t.FinalCategoryName, &t.FinalPayee, &t.VendorID,
		&status, &t.Excluded, &t.ForcedReview, &t.IsSplit, &t.DiagnosticNote,
		&t.ApprovedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.RemoteKind = remote.Kind(kind)
	t.Subtype = remote.Subtype(subtype)
	t.ClassifiedBy = mirror.Source(classifiedBy)
	t.Status = mirror.Status(status)
	t.Payload = json.RawMessage(payload)

	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if len(reasoning) > 0 {
		if err := json.Unmarshal(reasoning, &t.Reasoning); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reasoning: %w", err)
		}
	}
	return &t, nil
}
