package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
)

// AppendAudit inserts one audit entry. Rows are never updated.
func (r *MirrorRepository) AppendAudit(ctx context.Context, e *mirror.AuditEntry) error {
	var detail []byte
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("failed to marshal audit detail: %w", err)
		}
		detail = raw
	}

	query := `
		INSERT INTO sync_audit (id, connection_id, entity_kind, operation, item_count, outcome, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.getQueryer(ctx).Exec(ctx, query,
		e.ID, e.ConnectionID, e.EntityKind, e.Operation, e.ItemCount, e.Outcome, detail, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// ListAudit lists audit entries newest first
func (r *MirrorRepository) ListAudit(ctx context.Context, f mirror.AuditFilter) ([]*mirror.AuditEntry, error) {
	where := []string{"connection_id = $1"}
	args := []any{f.ConnectionID}
	if f.Operation != "" {
		args = append(args, f.Operation)
		where = append(where, fmt.Sprintf("operation = $%d", len(args)))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}

	query := `
		SELECT id, connection_id, entity_kind, operation, item_count, outcome, detail, created_at
		FROM sync_audit
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.getQueryer(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*mirror.AuditEntry
	for rows.Next() {
		var e mirror.AuditEntry
		var detail []byte
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.EntityKind, &e.Operation, &e.ItemCount, &e.Outcome, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit detail: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
