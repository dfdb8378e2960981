package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kislikjeka/booksync/internal/platform/lock"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/remote"
	"github.com/kislikjeka/booksync/pkg/logger"
)

// Engine runs sync passes. A pass mirrors reference data first, then every
// transaction kind in order, then prunes records that disappeared upstream.
type Engine struct {
	config *Config
	client remote.Client
	store  Store
	locker lock.Locker
	logger *logger.Logger
	now    func() time.Time
}

// NewEngine creates a sync engine
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
		logger: log.WithField("component", "sync"),
		now:    time.Now,
	}
}

// Sync runs one pass over conn. It never returns an error: failures are
// isolated per kind and recorded in the report and the audit log.
func (e *Engine) Sync(ctx context.Context, conn *mirror.Connection) *Report {
	ctx = logger.WithConnection(ctx, conn.ID.String())
	log := e.logger.WithContext(ctx)
	start := e.now()
	report := &Report{ConnectionID: conn.ID, StartedAt: start}

	release, err := e.locker.Acquire(ctx, lock.SyncKey(conn.ID), e.config.LockTTL)
	if err != nil {
		report.Skipped = true
		report.PruneSkipped = true
		report.Error = err.Error()
		log.Warn("sync skipped", "error", err)
		e.audit(ctx, mirror.NewAuditEntry(conn.ID, "connection", mirror.OpSync, 0, mirror.OutcomeSkipped,
			map[string]any{"error": err.Error()}))
		return report
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			log.Warn("failed to release sync lock", "error", err)
		}
	}()

	log.Info("starting sync")
	rc := conn.Remote()

	e.syncAccounts(ctx, rc, report)
	e.syncNames(ctx, rc, remote.KindVendor, report, func(n *remote.NameRecord) error {
		return e.store.UpsertVendor(ctx, &mirror.Vendor{
			ConnectionID: conn.ID, RemoteID: n.ID, Name: n.DisplayName, Active: n.Active, UpdatedAt: e.now(),
		})
	})
	e.syncNames(ctx, rc, remote.KindCustomer, report, func(n *remote.NameRecord) error {
		return e.store.UpsertCustomer(ctx, &mirror.Customer{
			ConnectionID: conn.ID, RemoteID: n.ID, Name: n.DisplayName, Active: n.Active, UpdatedAt: e.now(),
		})
	})

	proc, err := e.processor(ctx, conn)
	if err != nil {
		report.Error = err.Error()
		report.PruneSkipped = true
		report.Duration = e.now().Sub(start)
		log.Error("sync aborted", "error", err)
		return report
	}
	report.ActiveAccounts = proc.ActiveAccounts()

	seen := make([]string, 0, 256)
	for _, kind := range remote.TransactionKinds {
		kr := e.syncKind(ctx, rc, kind, proc, &seen)
		report.Kinds = append(report.Kinds, kr)
	}

	e.prune(ctx, conn, seen, report)

	if err := e.store.TouchConnectionSync(ctx, conn.ID, e.now()); err != nil {
		log.Warn("failed to record sync time", "error", err)
	}

	report.Duration = e.now().Sub(start)
	upserted, skipped, failed := report.Totals()
	log.WithDuration(report.Duration).Info("sync completed",
		"upserted", upserted,
		"skipped", skipped,
		"failed", failed,
		"pruned", report.Pruned,
		"prune_skipped", report.PruneSkipped)
	return report
}

// syncAccounts splits the chart of accounts into money accounts and categories
func (e *Engine) syncAccounts(ctx context.Context, rc remote.Connection, report *Report) {
	kr := &KindReport{Kind: remote.KindAccount}
	report.Kinds = append(report.Kinds, kr)
	var seen []string

	err := e.fetchAll(ctx, rc, remote.KindAccount, kr, func(raw json.RawMessage) {
		var rec remote.AccountRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
			kr.Failed++
			return
		}

		var err error
		if rec.IsBankLike() {
			seen = append(seen, rec.ID)
			currency := ""
			if rec.CurrencyRef != nil {
				currency = rec.CurrencyRef.Value
			}
			err = e.store.UpsertAccount(ctx, &mirror.Account{
				ConnectionID: rc.ID,
				RemoteID:     rec.ID,
				Name:         rec.DisplayName(),
				AccountType:  rec.AccountType,
				Currency:     currency,
				Balance:      rec.CurrentBalance,
				IsConnected:  true,
				UpdatedAt:    e.now(),
			})
		} else {
			err = e.store.UpsertCategory(ctx, &mirror.Category{
				ConnectionID:   rc.ID,
				RemoteID:       rec.ID,
				Name:           rec.DisplayName(),
				AccountType:    rec.AccountType,
				Classification: rec.Classification,
				Active:         rec.Active,
				UpdatedAt:      e.now(),
			})
		}
		if err != nil {
			kr.Failed++
			e.logger.WithContext(ctx).Warn("failed to store account", "remote_id", rec.ID, "error", err)
			return
		}
		kr.Upserted++
	})
	if err != nil {
		kr.Error = err.Error()
		e.logger.WithContext(ctx).Error("failed to fetch accounts", "error", err)
	} else {
		n, err := e.store.MarkAccountsDisconnected(ctx, rc.ID, seen)
		if err != nil {
			e.logger.WithContext(ctx).Warn("failed to mark disconnected accounts", "error", err)
		}
		report.Disconnected = n
	}
	e.auditKind(ctx, rc, kr)
}

func (e *Engine) syncNames(ctx context.Context, rc remote.Connection, kind remote.Kind, report *Report, store func(*remote.NameRecord) error) {
	kr := &KindReport{Kind: kind}
	report.Kinds = append(report.Kinds, kr)

	err := e.fetchAll(ctx, rc, kind, kr, func(raw json.RawMessage) {
		var rec remote.NameRecord
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == "" {
			kr.Failed++
			return
		}
		if err := store(&rec); err != nil {
			kr.Failed++
			e.logger.WithContext(ctx).Warn("failed to store name record", "kind", kind, "remote_id", rec.ID, "error", err)
			return
		}
		kr.Upserted++
	})
	if err != nil {
		kr.Error = err.Error()
		e.logger.WithContext(ctx).Error("failed to fetch name list", "kind", kind, "error", err)
	}
	e.auditKind(ctx, rc, kr)
}

// processor is built from the stored reference data so that user activation
// choices apply to the pass
func (e *Engine) processor(ctx context.Context, conn *mirror.Connection) (*Processor, error) {
	accounts, err := e.store.ListAccounts(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	vendors, err := e.store.ListVendors(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	return NewProcessor(conn.ID, accounts, vendors), nil
}

func (e *Engine) syncKind(ctx context.Context, rc remote.Connection, kind remote.Kind, proc *Processor, seen *[]string) *KindReport {
	log := e.logger.WithContext(ctx).WithField("kind", kind)
	start := e.now()
	kr := &KindReport{Kind: kind}

	err := e.fetchAll(ctx, rc, kind, kr, func(raw json.RawMessage) {
		id := recordID(raw)
		tx, err := proc.Normalize(kind, raw)
		switch {
		case errors.Is(err, errRemoved):
			kr.Skipped++
			return
		case errors.Is(err, errNoActiveAccount):
			// keep whatever was mirrored before the account was deactivated
			kr.Skipped++
			markSeen(seen, kind, id)
			return
		case err != nil:
			kr.Failed++
			markSeen(seen, kind, id)
			log.Warn("failed to normalize record", "remote_id", id, "error", err)
			return
		}

		markSeen(seen, kind, tx.RemoteID)
		if _, err := e.store.UpsertSynced(ctx, tx); err != nil {
			kr.Failed++
			log.Warn("failed to upsert record", "remote_id", tx.RemoteID, "error", err)
			return
		}
		kr.Upserted++
	})
	if err != nil {
		kr.Error = err.Error()
		log.Error("failed to fetch records", "error", err)
	}

	log.WithDuration(e.now().Sub(start)).Info("kind synced",
		"fetched", kr.Fetched,
		"upserted", kr.Upserted,
		"skipped", kr.Skipped,
		"failed", kr.Failed)
	e.auditKind(ctx, rc, kr)
	return kr
}

// fetchAll pages through kind. The offset advances by the returned count and
// paging stops at the first short or empty page.
func (e *Engine) fetchAll(ctx context.Context, rc remote.Connection, kind remote.Kind, kr *KindReport, each func(json.RawMessage)) error {
	offset := 0
	for {
		page, err := e.client.Query(ctx, rc, kind, offset, e.config.PageSize)
		if err != nil {
			return fmt.Errorf("failed to query %s at offset %d: %w", kind, offset, err)
		}
		kr.Pages++
		kr.Fetched += len(page)
		for _, raw := range page {
			each(raw)
		}
		if len(page) < e.config.PageSize {
			return nil
		}
		offset += len(page)
	}
}

func (e *Engine) prune(ctx context.Context, conn *mirror.Connection, seen []string, report *Report) {
	log := e.logger.WithContext(ctx)
	if report.FetchFailed() {
		report.PruneSkipped = true
		log.Warn("pruning skipped after failed fetch")
		e.audit(ctx, mirror.NewAuditEntry(conn.ID, "transaction", mirror.OpPrune, 0, mirror.OutcomeSkipped,
			map[string]any{"reason": "fetch failed during pass"}))
		return
	}

	n, err := e.store.PruneTransactions(ctx, conn.ID, seen)
	if err != nil {
		report.PruneSkipped = true
		log.Error("failed to prune transactions", "error", err)
		e.audit(ctx, mirror.NewAuditEntry(conn.ID, "transaction", mirror.OpPrune, 0, mirror.OutcomeFailed,
			map[string]any{"error": err.Error()}))
		return
	}
	report.Pruned = n
	e.audit(ctx, mirror.NewAuditEntry(conn.ID, "transaction", mirror.OpPrune, n, mirror.OutcomeSuccess, nil))
}

func (e *Engine) auditKind(ctx context.Context, rc remote.Connection, kr *KindReport) {
	detail := map[string]any{
		"fetched": kr.Fetched,
		"skipped": kr.Skipped,
		"failed":  kr.Failed,
		"pages":   kr.Pages,
	}
	if kr.Error != "" {
		detail["error"] = kr.Error
	}
	e.audit(ctx, mirror.NewAuditEntry(rc.ID, string(kr.Kind), mirror.OpSync, kr.Upserted, kr.Outcome(), detail))
}

func (e *Engine) audit(ctx context.Context, entry *mirror.AuditEntry) {
	if err := e.store.AppendAudit(ctx, entry); err != nil {
		e.logger.WithContext(ctx).Warn("failed to append audit entry", "operation", entry.Operation, "error", err)
	}
}

func markSeen(seen *[]string, kind remote.Kind, id string) {
	if id != "" {
		*seen = append(*seen, mirror.RecordKey(kind, id))
	}
}
