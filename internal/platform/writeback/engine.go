// Package writeback commits approved categorizations to the remote system.
//
// An approval rewrites the record's category (or its line list, for a split)
// through a sparse update guarded by the stored version token. A stale token
// is retried once against a freshly read object. The local record becomes
// approved only after the remote system confirmed the update with a new token.
package writeback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/lock"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/pkg/logger"
)

// Engine approves records against the remote system
type Engine struct {
	config *Config
	client remote.Client
	store  Store
	locker lock.Locker
	logger *logger.Logger
	now    func() time.Time
}

// NewEngine creates a write-back engine
func NewEngine(config *Config, client remote.Client, store Store, locker lock.Locker, log *logger.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()
	if locker == nil {
		locker = lock.NewLocal()
	}

	return &Engine{
		config: config,
		client: client,
		store:  store,
		locker: locker,
		logger: log.WithField("component", "writeback"),
		now:    time.Now,
	}
}

// Result describes one confirmed write-back
type Result struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	RemoteID      string    `json:"remote_id"`
	VersionToken  string    `json:"version_token"`
	VendorID      string    `json:"vendor_id,omitempty"`
	VendorCreated bool      `json:"vendor_created,omitempty"`
	Split         bool      `json:"split,omitempty"`
	Retried       bool      `json:"retried,omitempty"`
}

// Approve writes the record's effective category or split set to the remote
// system and marks it approved. On failure the record keeps its status and
// gets a diagnostic note.
func (e *Engine) Approve(ctx context.Context, connID, txID uuid.UUID) (*Result, error) {
	ctx = logger.WithConnection(ctx, connID.String())
	log := e.logger.WithContext(ctx).WithField("transaction_id", txID.String())
	start := e.now()

	conn, err := e.store.GetConnection(ctx, connID)
	if err != nil {
		return nil, err
	}

	release, err := e.locker.Acquire(ctx, lock.RecordKey(connID, txID), e.config.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("approval in progress: %w", err)
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.Warn("failed to release approval lock", "error", err)
		}
	}()

	tx, err := e.store.GetTransaction(ctx, connID, txID)
	if err != nil {
		return nil, err
	}

	result, err := e.approve(ctx, conn, tx)
	if err != nil {
		e.fail(ctx, tx, err)
		log.WithDuration(e.now().Sub(start)).Warn("approval failed", "remote_id", tx.RemoteID, "error", err)
		return nil, err
	}

	e.audit(ctx, mirror.NewAuditEntry(connID, "transaction", mirror.OpApprove, 1, mirror.OutcomeSuccess, map[string]any{
		"transaction_id": txID.String(),
		"remote_id":      tx.RemoteID,
		"version_token":  result.VersionToken,
		"split":          result.Split,
		"retried":        result.Retried,
		"vendor_created": result.VendorCreated,
	}))
	log.WithDuration(e.now().Sub(start)).Info("transaction approved",
		"remote_id", tx.RemoteID,
		"version_token", result.VersionToken,
		"retried", result.Retried)
	return result, nil
}

func (e *Engine) approve(ctx context.Context, conn *mirror.Connection, tx *mirror.Transaction) (*Result, error) {
	if tx.Excluded {
		return nil, mirror.ErrExcluded
	}
	if strings.TrimSpace(tx.VersionToken) == "" {
		return nil, mirror.ErrMissingVersionToken
	}

	splits, err := e.store.ListSplits(ctx, tx.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list splits: %w", err)
	}
	catID, catName := tx.EffectiveCategory()
	if catID == "" && len(splits) == 0 {
		return nil, mirror.ErrNothingToApprove
	}

	l, err := layoutFor(tx.RemoteKind)
	if err != nil {
		return nil, err
	}
	if len(splits) > 0 && !l.splittable {
		return nil, fmt.Errorf("%w: %s cannot carry split lines", ErrUnsupportedKind, tx.RemoteKind)
	}

	c := change{categoryID: catID, categoryName: catName, splits: splits}
	result := &Result{TransactionID: tx.ID, RemoteID: tx.RemoteID, Split: len(splits) > 0}

	if l.payeeField != "" {
		vendor, created, err := e.resolveVendor(ctx, conn, tx)
		if err != nil {
			return nil, err
		}
		if vendor != nil {
			c.vendor = vendor
			result.VendorID = vendor.RemoteID
			result.VendorCreated = created
		}
	}

	confirmed, retried, err := e.submit(ctx, conn.Remote(), tx, c)
	if err != nil {
		return nil, err
	}
	result.Retried = retried

	token := versionOf(confirmed)
	if token == "" {
		return nil, ErrNoConfirmedToken
	}
	result.VersionToken = token

	err = e.store.WithinTx(ctx, func(ctx context.Context) error {
		if tx.FinalCategoryID == "" && catID != "" {
			tx.FinalCategoryID, tx.FinalCategoryName = catID, catName
			if err := e.store.UpdateLocal(ctx, tx); err != nil {
				return fmt.Errorf("failed to store final category: %w", err)
			}
		}
		return e.store.RecordWriteBack(ctx, tx.ConnectionID, tx.ID, token, confirmed, result.VendorID, e.now().UTC())
	})
	if err != nil {
		return nil, fmt.Errorf("remote update confirmed but not stored: %w", err)
	}
	return result, nil
}

// submit sends the update with the stored token. A stale token is retried once
// with the token of a freshly read object.
func (e *Engine) submit(ctx context.Context, rc remote.Connection, tx *mirror.Transaction, c change) (json.RawMessage, bool, error) {
	payload, err := buildPayload(tx, tx.Payload, tx.VersionToken, c)
	if err != nil {
		return nil, false, err
	}

	confirmed, err := e.client.Update(ctx, rc, tx.RemoteKind, payload)
	if err == nil {
		return confirmed, false, nil
	}
	if !errors.Is(err, remote.ErrStaleObject) {
		return nil, false, fmt.Errorf("remote update failed: %w", err)
	}

	e.logger.WithContext(ctx).Info("version token is stale, retrying with a fresh read", "remote_id", tx.RemoteID)
	current, err := e.client.Get(ctx, rc, tx.RemoteKind, tx.RemoteID)
	if err != nil {
		return nil, true, fmt.Errorf("failed to re-read stale record: %w", err)
	}
	token := versionOf(current)
	if token == "" {
		return nil, true, mirror.ErrMissingVersionToken
	}

	payload, err = buildPayload(tx, current, token, c)
	if err != nil {
		return nil, true, err
	}
	confirmed, err = e.client.Update(ctx, rc, tx.RemoteKind, payload)
	if err != nil {
		return nil, true, fmt.Errorf("remote update failed after refresh: %w", err)
	}
	return confirmed, true, nil
}

// resolveVendor maps the record's payee to a remote vendor: the vendor already
// chosen for the record, then a local match by name, then a remote lookup,
// then a new vendor. Found or created vendors are stored locally.
func (e *Engine) resolveVendor(ctx context.Context, conn *mirror.Connection, tx *mirror.Transaction) (*mirror.Vendor, bool, error) {
	name := tx.EffectivePayee()
	if id := chosenVendor(tx); id != "" {
		return &mirror.Vendor{ConnectionID: conn.ID, RemoteID: id, Name: name, Active: true}, false, nil
	}
	if name == "" {
		return nil, false, nil
	}

	local, err := e.store.FindVendorByName(ctx, conn.ID, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up vendor: %w", err)
	}
	if local != nil {
		return local, false, nil
	}

	rc := conn.Remote()
	found, err := e.client.FindVendorByName(ctx, rc, name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to look up remote vendor: %w", err)
	}
	created := false
	if found == nil {
		found, err = e.client.CreateVendor(ctx, rc, name)
		if err != nil {
			return nil, false, fmt.Errorf("failed to create vendor: %w", err)
		}
		created = true
	}

	vendor := &mirror.Vendor{
		ConnectionID: conn.ID,
		RemoteID:     found.ID,
		Name:         found.DisplayName,
		Active:       true,
		UpdatedAt:    e.now(),
	}
	if vendor.Name == "" {
		vendor.Name = name
	}
	if err := e.store.UpsertVendor(ctx, vendor); err != nil {
		return nil, false, fmt.Errorf("failed to store vendor: %w", err)
	}
	return vendor, created, nil
}

// chosenVendor is the vendor id already bound to the effective payee
func chosenVendor(tx *mirror.Transaction) string {
	if tx.VendorID != "" {
		return tx.VendorID
	}
	if tx.FinalPayee == "" && tx.SuggestedPayee != "" {
		return tx.SuggestedVendorID
	}
	return ""
}

// fail records the reason on the record without touching its status
func (e *Engine) fail(ctx context.Context, tx *mirror.Transaction, cause error) {
	tx.DiagnosticNote = "write-back failed: " + cause.Error()
	tx.UpdatedAt = e.now()
	if err := e.store.UpdateLocal(ctx, tx); err != nil {
		e.logger.WithContext(ctx).Warn("failed to store diagnostic note", "remote_id", tx.RemoteID, "error", err)
	}
	e.audit(ctx, mirror.NewAuditEntry(tx.ConnectionID, "transaction", mirror.OpApprove, 1, mirror.OutcomeFailed, map[string]any{
		"transaction_id": tx.ID.String(),
		"remote_id":      tx.RemoteID,
		"error":          cause.Error(),
	}))
}

func (e *Engine) audit(ctx context.Context, entry *mirror.AuditEntry) {
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.logger.WithContext(ctx).Warn("failed to append audit entry", "operation", entry.Operation, "error", err)
	}
}
