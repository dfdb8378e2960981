// Package classify proposes categories and payees for mirrored records that
// still need review. Stages run per record in a fixed order: rules, vendor
// aliases, approved history, then one batched provider call for the rest.
package classify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/pkg/logger"
)

// Config holds configuration for the pipeline
type Config struct {
	// BatchSize is the number of records sent per provider call
	BatchSize int

	// DefaultLimit caps candidates when the request sets no limit
	DefaultLimit int

	// HistoryLimit is the number of approved records the history index is built from
	HistoryLimit int

	// HistoryWindow is the number of precedents sent to the provider
	HistoryWindow int

	// VocabularyLimit caps the vendor/customer names sent to the provider
	VocabularyLimit int

	// MaxTags caps provider-supplied tags per record
	MaxTags int
}

// DefaultConfig returns the default pipeline configuration
func DefaultConfig() *Config {
	return &Config{
		BatchSize:       25,
		DefaultLimit:    100,
		HistoryLimit:    1000,
		HistoryWindow:   20,
		VocabularyLimit: 200,
		MaxTags:         3,
	}
}

// Request selects the records of one classification run
type Request struct {
	ConnectionID uuid.UUID
	Limit        int

	// TransactionID targets one record regardless of its status. History is
	// not consulted in this mode.
	TransactionID *uuid.UUID

	// AllowProvider permits spending allowance on the provider stage
	AllowProvider bool
}

// Pipeline runs classification requests
type Pipeline struct {
	config   *Config
	policy   Policy
	store    Store
	provider Provider
	meter    Meter
	logger   *logger.Logger
	now      func() time.Time
}

// NewPipeline creates a pipeline. provider and meter may be nil, in which case
// the provider stage is skipped or unmetered respectively.
func NewPipeline(config *Config, policy Policy, store Store, provider Provider, meter Meter, log *logger.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 25
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = 100
	}
	if config.MaxTags <= 0 {
		config.MaxTags = 3
	}
	if config.HistoryLimit <= 0 {
		config.HistoryLimit = 1000
	}
	if config.HistoryWindow <= 0 {
		config.HistoryWindow = 20
	}
	if config.VocabularyLimit <= 0 {
		config.VocabularyLimit = 200
	}

	return &Pipeline{
		config:   config,
		policy:   policy,
		store:    store,
		provider: provider,
		meter:    meter,
		logger:   log.WithField("component", "classify"),
		now:      time.Now,
	}
}

// env is the per-run matching context
type env struct {
	conn       *mirror.Connection
	single     bool
	rules      *ruleSet
	aliases    *aliasSet
	history    historyIndex
	resolver   *CategoryResolver
	categories []*mirror.Category
	catByID    map[string]*mirror.Category
	vendorIDs  map[string]string
	vocabulary []string
	aliased    map[uuid.UUID]bool
}

// Classify runs the pipeline. It never returns an error: failures are
// recorded per record and in Report.Error.
func (p *Pipeline) Classify(ctx context.Context, req Request) *Report {
	ctx = logger.WithConnection(ctx, req.ConnectionID.String())
	log := p.logger.WithContext(ctx)
	start := p.now()
	report := &Report{ConnectionID: req.ConnectionID}

	conn, err := p.store.GetConnection(ctx, req.ConnectionID)
	if err != nil {
		report.Error = err.Error()
		return report
	}

	candidates, err := p.candidates(ctx, req)
	if err != nil {
		report.Error = err.Error()
		p.audit(ctx, report)
		return report
	}
	report.Candidates = len(candidates)
	if len(candidates) == 0 {
		log.Debug("nothing to classify")
		return report
	}

	e, err := p.loadEnv(ctx, conn, req.TransactionID != nil)
	if err != nil {
		report.Error = err.Error()
		p.audit(ctx, report)
		return report
	}

	var pending []*mirror.Transaction
	for _, tx := range candidates {
		if res, done := p.localStages(ctx, e, tx); done {
			report.Results = append(report.Results, res)
			continue
		}
		pending = append(pending, tx)
	}

	p.providerStage(ctx, e, req, pending, report)

	log.WithDuration(p.now().Sub(start)).Info("classification completed",
		"candidates", report.Candidates,
		"rule", report.BySource(mirror.SourceRule),
		"history", report.BySource(mirror.SourceHistory),
		"provider", report.BySource(mirror.SourceProvider),
		"insufficient", report.Insufficient)
	p.audit(ctx, report)
	return report
}

func (p *Pipeline) candidates(ctx context.Context, req Request) ([]*mirror.Transaction, error) {
	if req.TransactionID != nil {
		tx, err := p.store.GetTransaction(ctx, req.ConnectionID, *req.TransactionID)
		if err != nil {
			return nil, err
		}
		if tx.Excluded {
			return nil, mirror.ErrExcluded
		}
		return []*mirror.Transaction{tx}, nil
	}

	limit := req.Limit
	if limit <= 0 {
		limit = p.config.DefaultLimit
	}
	needsReview, excluded := true, false
	txs, err := p.store.ListTransactions(ctx, mirror.TransactionFilter{
		ConnectionID: req.ConnectionID,
		Statuses:     []mirror.Status{mirror.StatusUnmatched},
		NeedsReview:  &needsReview,
		Excluded:     &excluded,
		Limit:        limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list candidates: %w", err)
	}
	return txs, nil
}

func (p *Pipeline) loadEnv(ctx context.Context, conn *mirror.Connection, single bool) (*env, error) {
	rules, err := p.store.ListRules(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	aliases, err := p.store.ListAliases(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aliases: %w", err)
	}
	cats, err := p.store.ListCategories(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	vendors, err := p.store.ListVendors(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vendors: %w", err)
	}
	customers, err := p.store.ListCustomers(ctx, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	approved, err := p.store.ApprovedHistory(ctx, conn.ID, p.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}

	e := &env{
		conn:       conn,
		single:     single,
		aliases:    newAliasSet(aliases),
		history:    newHistoryIndex(approved),
		resolver:   NewCategoryResolver(cats),
		categories: cats,
		catByID:    make(map[string]*mirror.Category, len(cats)),
		vendorIDs:  make(map[string]string, len(vendors)),
		aliased:    make(map[uuid.UUID]bool),
	}
	for _, c := range cats {
		if c.Active {
			e.catByID[c.RemoteID] = c
		}
	}
	e.rules = newRuleSet(rules, e.catByID, func(r *mirror.Rule) {
		p.logger.WithContext(ctx).Warn("rule skipped, its category is inactive or deleted",
			"rule", r.Name, "category_id", r.Action.CategoryID)
	})

	seen := make(map[string]bool)
	addName := func(name string) {
		key := fold(name)
		if key == "" || seen[key] || len(e.vocabulary) >= p.config.VocabularyLimit {
			return
		}
		seen[key] = true
		e.vocabulary = append(e.vocabulary, name)
	}
	for _, v := range vendors {
		if v.Active {
			e.vendorIDs[fold(v.Name)] = v.RemoteID
			addName(v.Name)
		}
	}
	for _, c := range customers {
		if c.Active {
			addName(c.Name)
		}
	}
	return e, nil
}

// localStages runs rule, alias and history matching. done reports that the
// record was classified and committed without the provider.
func (p *Pipeline) localStages(ctx context.Context, e *env, tx *mirror.Transaction) (Result, bool) {
	if r := e.rules.match(tx); r != nil {
		tx.Tags = normalizeTags(append(tx.Tags, r.Action.Tags...))
		if cat := e.catByID[r.Action.CategoryID]; cat != nil {
			tx.SuggestedCategoryID = cat.RemoteID
			tx.SuggestedCategoryName = cat.Name
			tx.Confidence = 1.0
			tx.ClassifiedBy = mirror.SourceRule
			tx.AutoAccept = false
			tx.Reasoning = mirror.Reasoning{Category: "matched rule " + r.Name}
			tx.DiagnosticNote = ""
			tx.Promote(mirror.StatusPendingApproval)
			return p.commit(ctx, tx, nil, false), true
		}
		// tag-only rule: later stages still pick the category
	}

	if a := e.aliases.match(tx.Description); a != nil {
		tx.SuggestedPayee = a.VendorName
		tx.SuggestedVendorID = a.VendorID
		e.aliased[tx.ID] = true
	}

	if !e.single {
		if prec, ok := e.history.lookup(tx.Description); ok && e.catByID[prec.categoryID] != nil {
			tx.SuggestedCategoryID = prec.categoryID
			tx.SuggestedCategoryName = prec.categoryName
			if tx.SuggestedPayee == "" {
				tx.SuggestedPayee = prec.payee
				tx.SuggestedVendorID = e.vendorIDs[fold(prec.payee)]
			}
			tx.Confidence = 1.0
			tx.ClassifiedBy = mirror.SourceHistory
			tx.AutoAccept = false
			tx.Reasoning = mirror.Reasoning{Category: "same description as a previously approved transaction"}
			tx.DiagnosticNote = ""
			tx.Promote(mirror.StatusPendingApproval)
			return p.commit(ctx, tx, nil, false), true
		}
	}
	return Result{}, false
}

func (p *Pipeline) providerStage(ctx context.Context, e *env, req Request, pending []*mirror.Transaction, report *Report) {
	if len(pending) == 0 {
		return
	}
	log := p.logger.WithContext(ctx)

	if !req.AllowProvider || p.provider == nil {
		p.deferAll(ctx, pending, "", report)
		return
	}

	account := e.conn.ID.String()
	allowance := len(pending)
	if p.meter != nil {
		balance, err := p.meter.GetBalance(ctx, account)
		if err != nil {
			log.Error("failed to read classification balance", "error", err)
			p.deferAll(ctx, pending, err.Error(), report)
			return
		}
		if balance <= 0 {
			report.Insufficient = true
			p.deferAll(ctx, pending, "insufficient allowance", report)
			return
		}
		if balance < allowance {
			report.Insufficient = true
			allowance = balance
		}
	}

	billable, rest := pending[:allowance], pending[allowance:]
	for start := 0; start < len(billable); start += p.config.BatchSize {
		end := start + p.config.BatchSize
		if end > len(billable) {
			end = len(billable)
		}
		batch := billable[start:end]

		if p.meter != nil {
			ok, err := p.meter.HasSufficientBalance(ctx, account, len(batch))
			if err != nil || !ok {
				report.Insufficient = true
				rest = append(append([]*mirror.Transaction(nil), billable[start:]...), rest...)
				break
			}
		}
		p.classifyBatch(ctx, e, account, batch, report)
	}

	if len(rest) > 0 {
		p.deferAll(ctx, rest, "insufficient allowance", report)
	}
}

func (p *Pipeline) classifyBatch(ctx context.Context, e *env, account string, batch []*mirror.Transaction, report *Report) {
	log := p.logger.WithContext(ctx).WithField("batch_size", len(batch))
	start := p.now()

	suggestions, err := p.provider.Classify(ctx, p.batchRequest(e, batch))
	report.ProviderCalls++
	if err != nil {
		log.Error("provider call failed", "error", err)
		for _, tx := range batch {
			res := p.commit(ctx, tx, nil, false)
			res.Outcome = OutcomeFailed
			res.Error = err.Error()
			report.Results = append(report.Results, res)
		}
		return
	}

	if p.meter != nil {
		if err := p.meter.Deduct(ctx, account, len(batch), "classification"); err != nil {
			log.Warn("failed to charge classification allowance", "error", err)
		} else {
			report.Charged += len(batch)
		}
	}

	byID := make(map[string]Suggestion, len(suggestions))
	for _, s := range suggestions {
		byID[strings.TrimSpace(s.ID)] = s
	}

	for _, tx := range batch {
		s, ok := byID[tx.ID.String()]
		if !ok {
			res := p.commit(ctx, tx, nil, false)
			res.Outcome = OutcomeMissing
			report.Results = append(report.Results, res)
			continue
		}
		splits := p.applySuggestion(e, tx, s)
		report.Results = append(report.Results, p.commit(ctx, tx, splits, true))
	}

	log.WithDuration(p.now().Sub(start)).Info("provider batch classified", "suggestions", len(suggestions))
}

// applySuggestion copies a provider answer onto tx and returns the split set to store
func (p *Pipeline) applySuggestion(e *env, tx *mirror.Transaction, s Suggestion) []*mirror.Split {
	confidence := clamp01(s.Confidence)

	tx.Reasoning = s.Reasoning
	tx.ClassifiedBy = mirror.SourceProvider
	if payee := strings.TrimSpace(s.Payee); payee != "" && !e.aliased[tx.ID] {
		tx.SuggestedPayee = payee
		tx.SuggestedVendorID = e.vendorIDs[fold(payee)]
	}
	tags := normalizeTags(s.Tags)
	if len(tags) > p.config.MaxTags {
		tags = tags[:p.config.MaxTags]
	}
	tx.Tags = normalizeTags(append(tx.Tags, tags...))
	tx.DiagnosticNote = ""

	cat := e.resolver.Resolve(s.Category, CategoryThreshold)
	if cat == nil {
		tx.SuggestedCategoryID = ""
		tx.SuggestedCategoryName = ""
		confidence *= p.policy.RejectPenalty
		tx.DiagnosticNote = fmt.Sprintf("suggested category %q matches no category", s.Category)
	} else {
		tx.SuggestedCategoryID = cat.RemoteID
		tx.SuggestedCategoryName = cat.Name
	}

	var splits []*mirror.Split
	if cat != nil && len(s.Splits) > 0 {
		var err error
		splits, err = p.buildSplits(e, tx, s.Splits)
		if err != nil {
			splits = nil
			tx.DiagnosticNote = "suggested splits rejected: " + err.Error()
		}
	}
	tx.IsSplit = len(splits) > 0

	tx.Confidence = confidence
	status, auto := p.policy.decide(confidence, cat != nil, e.conn.Tier)
	// A fresh answer replaces the previous one, so a re-classified record may
	// drop back to unmatched. Approved records keep their status.
	tx.AutoAccept = false
	if tx.Status != mirror.StatusApproved {
		tx.Status = status
		tx.AutoAccept = auto
	}
	return splits
}

func (p *Pipeline) buildSplits(e *env, tx *mirror.Transaction, suggested []SuggestedSplit) ([]*mirror.Split, error) {
	inputs := make([]mirror.SplitInput, 0, len(suggested))
	for i, s := range suggested {
		cat := e.resolver.Resolve(s.Category, SplitThreshold)
		if cat == nil {
			return nil, fmt.Errorf("%w: split %d category %q", mirror.ErrUnresolvedCategory, i+1, s.Category)
		}
		inputs = append(inputs, mirror.SplitInput{
			CategoryID:  cat.RemoteID,
			Amount:      s.Amount,
			Description: s.Description,
		})
	}
	return mirror.BuildSplits(tx, inputs, e.categories)
}

func (p *Pipeline) batchRequest(e *env, batch []*mirror.Transaction) BatchRequest {
	summaries := make([]TransactionSummary, 0, len(batch))
	for _, tx := range batch {
		payee := tx.Payee
		if e.aliased[tx.ID] {
			payee = tx.SuggestedPayee
		}
		summaries = append(summaries, TransactionSummary{
			ID:              tx.ID.String(),
			Direction:       string(tx.Direction()),
			Subtype:         string(tx.Subtype),
			Description:     tx.Description,
			Payee:           payee,
			Account:         tx.AccountID,
			Amount:          tx.Amount,
			Currency:        tx.Currency,
			Note:            tx.Note,
			CurrentCategory: tx.HintCategoryName,
		})
	}
	return BatchRequest{
		Transactions: summaries,
		Categories:   e.resolver.Names(),
		History:      e.history.window(p.config.HistoryWindow),
		Vocabulary:   e.vocabulary,
	}
}

// commit persists tx (and, when replace is set, its split set) and builds the result
func (p *Pipeline) commit(ctx context.Context, tx *mirror.Transaction, splits []*mirror.Split, replace bool) Result {
	tx.UpdatedAt = p.now().UTC()
	res := Result{
		TransactionID: tx.ID,
		RemoteID:      tx.RemoteID,
		Outcome:       OutcomeClassified,
		Source:        tx.ClassifiedBy,
		CategoryID:    tx.SuggestedCategoryID,
		CategoryName:  tx.SuggestedCategoryName,
		Confidence:    tx.Confidence,
		Status:        tx.Status,
		AutoAccept:    tx.AutoAccept,
		Splits:        len(splits),
	}
	if tx.ClassifiedBy == mirror.SourceProvider && tx.SuggestedCategoryID == "" {
		res.Outcome = OutcomeUnresolved
	}

	err := p.store.WithinTx(ctx, func(ctx context.Context) error {
		if replace {
			if err := p.store.ReplaceSplits(ctx, tx.ID, splits); err != nil {
				return err
			}
		}
		return p.store.UpdateLocal(ctx, tx)
	})
	if err != nil {
		p.logger.WithContext(ctx).Error("failed to store classification", "transaction_id", tx.ID, "error", err)
		res.Outcome = OutcomeFailed
		res.Error = err.Error()
	}
	return res
}

func (p *Pipeline) deferAll(ctx context.Context, txs []*mirror.Transaction, reason string, report *Report) {
	for _, tx := range txs {
		res := p.commit(ctx, tx, nil, false)
		if res.Outcome != OutcomeFailed {
			res.Outcome = OutcomeDeferred
			res.Error = reason
		}
		report.Results = append(report.Results, res)
	}
}

func (p *Pipeline) audit(ctx context.Context, report *Report) {
	outcome := mirror.OutcomeSuccess
	switch {
	case report.Error != "":
		outcome = mirror.OutcomeFailed
	case report.Insufficient || report.Count(OutcomeFailed) > 0 || report.Count(OutcomeMissing) > 0:
		outcome = mirror.OutcomePartial
	}

	detail := map[string]any{
		"candidates":     report.Candidates,
		"rule":           report.BySource(mirror.SourceRule),
		"history":        report.BySource(mirror.SourceHistory),
		"provider":       report.BySource(mirror.SourceProvider),
		"unresolved":     report.Count(OutcomeUnresolved),
		"missing":        report.Count(OutcomeMissing),
		"deferred":       report.Count(OutcomeDeferred),
		"failed":         report.Count(OutcomeFailed),
		"provider_calls": report.ProviderCalls,
		"charged":        report.Charged,
		"insufficient":   report.Insufficient,
	}
	if report.Error != "" {
		detail["error"] = report.Error
	}

	entry := mirror.NewAuditEntry(report.ConnectionID, "transaction", mirror.OpClassify,
		report.Count(OutcomeClassified), outcome, detail)
	if err := p.store.AppendAudit(ctx, entry); err != nil {
		p.logger.WithContext(ctx).Warn("failed to append audit entry", "error", err)
	}
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	var out []string
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := fold(tag)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
