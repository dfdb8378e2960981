package writeback

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/pkg/logger"
)

// ItemResult is the outcome of one approval within a bulk run
type ItemResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Result        *Result   `json:"result,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// BulkReport collects per-item approval outcomes
type BulkReport struct {
	ConnectionID uuid.UUID    `json:"connection_id"`
	Items        []ItemResult `json:"items"`
	Succeeded    int          `json:"succeeded"`
	Failed       int          `json:"failed"`
}

// FailedIDs lists the records to retry
func (r *BulkReport) FailedIDs() []uuid.UUID {
	var out []uuid.UUID
	for _, it := range r.Items {
		if it.Error != "" {
			out = append(out, it.TransactionID)
		}
	}
	return out
}

// BulkApprove approves each record in order. A failed item is recorded and
// the remaining items are still attempted.
func (e *Engine) BulkApprove(ctx context.Context, connID uuid.UUID, ids []uuid.UUID) *BulkReport {
	report := &BulkReport{ConnectionID: connID, Items: make([]ItemResult, 0, len(ids))}
	start := e.now()

	for _, id := range ids {
		item := ItemResult{TransactionID: id}
		res, err := e.Approve(ctx, connID, id)
		if err != nil {
			item.Error = err.Error()
			report.Failed++
		} else {
			item.Result = res
			report.Succeeded++
		}
		report.Items = append(report.Items, item)
	}

	e.logger.WithContext(logger.WithConnection(ctx, connID.String())).
		WithDuration(e.now().Sub(start)).
		Info("bulk approval completed", "succeeded", report.Succeeded, "failed", report.Failed)
	return report
}

// Document is a file to attach to a mirrored record
type Document struct {
	FileName    string
	ContentType string
	Data        []byte
	Note        string
}

// AttachDocument uploads a document against the remote record and returns the
// remote attachment id.
func (e *Engine) AttachDocument(ctx context.Context, connID, txID uuid.UUID, doc Document) (string, error) {
	ctx = logger.WithConnection(ctx, connID.String())
	if doc.FileName == "" || len(doc.Data) == 0 || len(doc.Data) > e.config.MaxAttachmentBytes {
		return "", ErrInvalidAttachment
	}
	if doc.ContentType == "" {
		doc.ContentType = "application/octet-stream"
	}

	conn, err := e.store.GetConnection(ctx, connID)
	if err != nil {
		return "", err
	}
	tx, err := e.store.GetTransaction(ctx, connID, txID)
	if err != nil {
		return "", err
	}

	id, err := e.client.UploadAttachment(ctx, conn.Remote(), remote.Attachment{
		EntityKind:  tx.RemoteKind,
		EntityID:    tx.RemoteID,
		FileName:    doc.FileName,
		ContentType: doc.ContentType,
		Data:        doc.Data,
		Note:        doc.Note,
	})
	if err != nil {
		e.audit(ctx, mirror.NewAuditEntry(connID, "transaction", mirror.OpAttach, 1, mirror.OutcomeFailed, map[string]any{
			"transaction_id": txID.String(),
			"file_name":      doc.FileName,
			"error":          err.Error(),
		}))
		return "", fmt.Errorf("failed to upload attachment: %w", err)
	}

	e.audit(ctx, mirror.NewAuditEntry(connID, "transaction", mirror.OpAttach, 1, mirror.OutcomeSuccess, map[string]any{
		"transaction_id": txID.String(),
		"file_name":      doc.FileName,
		"attachable_id":  id,
		"bytes":          len(doc.Data),
	}))
	e.logger.WithContext(ctx).Info("document attached", "remote_id", tx.RemoteID, "attachable_id", id)
	return id, nil
}
