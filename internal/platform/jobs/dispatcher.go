// Package jobs runs sync, classification and approval off the request path.
// Submit returns a job id at once; callers poll the job or read the audit log.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/classify"
	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/internal/platform/writeback"
	"github.com/kislikjeka/booksync/pkg/logger"
)

// ClassifyResult is the result of a classification job. AutoApproved is set
// when the connection accepts high-confidence suggestions unattended.
type ClassifyResult struct {
	Classify     *classify.Report      `json:"classify"`
	AutoApproved *writeback.BulkReport `json:"auto_approved,omitempty"`
}

// Dispatcher is a fixed pool of workers fed by a bounded queue
type Dispatcher struct {
	config     *Config
	syncer     Syncer
	classifier Classifier
	approver   Approver
	store      Store
	logger     *logger.Logger
	now        func() time.Time

	queue   chan *Job
	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.RWMutex
	running bool

	jobsMu   sync.RWMutex
	jobs     map[uuid.UUID]*Job
	finished []uuid.UUID
}

// NewDispatcher creates a dispatcher. Call Start before submitting.
func NewDispatcher(config *Config, syncer Syncer, classifier Classifier, approver Approver, store Store, log *logger.Logger) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()

	return &Dispatcher{
		config:     config,
		syncer:     syncer,
		classifier: classifier,
		approver:   approver,
		store:      store,
		logger:     log.WithField("component", "jobs"),
		now:        time.Now,
		queue:      make(chan *Job, config.QueueSize),
		stopCh:     make(chan struct{}),
		jobs:       make(map[uuid.UUID]*Job),
	}
}

// Start launches the workers. They stop when ctx is done or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true

	d.logger.Info("starting job dispatcher", "workers", d.config.Workers, "queue_size", d.config.QueueSize)
	for i := 0; i < d.config.Workers; i++ {
		d.wg.Add(1)
		go d.work(ctx)
	}
}

// Stop waits for running jobs to finish. Queued jobs are dropped.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return
	}
	close(d.stopCh)
	d.wg.Wait()
	d.running = false
	d.logger.Info("job dispatcher stopped")
}

// SubmitSync queues a sync pass
func (d *Dispatcher) SubmitSync(connID uuid.UUID) (*Job, error) {
	return d.submit(&Job{ConnectionID: connID, Kind: KindSync})
}

// SubmitClassify queues a classification run
func (d *Dispatcher) SubmitClassify(connID uuid.UUID, params ClassifyParams) (*Job, error) {
	return d.submit(&Job{ConnectionID: connID, Kind: KindClassify, classify: params})
}

// SubmitApprove queues the approval of the given records
func (d *Dispatcher) SubmitApprove(connID uuid.UUID, ids []uuid.UUID) (*Job, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no transactions", mirror.ErrNothingToApprove)
	}
	return d.submit(&Job{ConnectionID: connID, Kind: KindApprove, approve: append([]uuid.UUID(nil), ids...)})
}

// Get returns a copy of the job's current state
func (d *Dispatcher) Get(id uuid.UUID) (*Job, error) {
	d.jobsMu.RLock()
	defer d.jobsMu.RUnlock()
	j, ok := d.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.snapshot(), nil
}

func (d *Dispatcher) submit(j *Job) (*Job, error) {
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if !running {
		return nil, ErrNotRunning
	}

	j.ID = uuid.New()
	j.State = StateQueued
	j.CreatedAt = d.now().UTC()

	d.jobsMu.Lock()
	d.jobs[j.ID] = j
	snap := j.snapshot()
	d.jobsMu.Unlock()

	select {
	case d.queue <- j:
		return snap, nil
	default:
		d.jobsMu.Lock()
		delete(d.jobs, j.ID)
		d.jobsMu.Unlock()
		return nil, ErrQueueFull
	}
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case j := <-d.queue:
			d.run(ctx, j)
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, j *Job) {
	ctx = logger.WithJob(logger.WithConnection(ctx, j.ConnectionID.String()), j.ID.String())
	log := d.logger.WithContext(ctx).WithField("kind", string(j.Kind))

	started := d.now().UTC()
	d.update(j, func(j *Job) {
		j.State = StateRunning
		j.StartedAt = &started
	})
	d.audit(ctx, j, mirror.OutcomeStarted, nil)
	log.Info("job started")

	result, err := d.execute(ctx, j)

	finished := d.now().UTC()
	if err != nil {
		d.audit(ctx, j, mirror.OutcomeFailed, map[string]any{"error": err.Error()})
		log.WithDuration(finished.Sub(started)).Error("job failed", "error", err)
	} else {
		d.audit(ctx, j, mirror.OutcomeSuccess, nil)
		log.WithDuration(finished.Sub(started)).Info("job completed")
	}

	// terminal state last: a finished job always has its audit trail written
	d.retain(j.ID)
	d.update(j, func(j *Job) {
		j.FinishedAt = &finished
		j.Result = result
		if err != nil {
			j.State = StateFailed
			j.Error = err.Error()
		} else {
			j.State = StateSucceeded
		}
	})
}

func (d *Dispatcher) execute(ctx context.Context, j *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	switch j.Kind {
	case KindSync:
		return d.syncer.SyncConnection(ctx, j.ConnectionID)
	case KindClassify:
		return d.runClassify(ctx, j)
	case KindApprove:
		report := d.approver.BulkApprove(ctx, j.ConnectionID, j.approve)
		if report.Succeeded == 0 && report.Failed > 0 {
			return report, fmt.Errorf("all %d approvals failed", report.Failed)
		}
		return report, nil
	default:
		return nil, fmt.Errorf("unknown job kind %q", j.Kind)
	}
}

func (d *Dispatcher) runClassify(ctx context.Context, j *Job) (*ClassifyResult, error) {
	conn, err := d.store.GetConnection(ctx, j.ConnectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	report := d.classifier.Classify(ctx, classify.Request{
		ConnectionID:  j.ConnectionID,
		Limit:         j.classify.Limit,
		TransactionID: j.classify.TransactionID,
		AllowProvider: j.classify.AllowProvider,
	})
	result := &ClassifyResult{Classify: report}
	if report.Error != "" {
		return result, fmt.Errorf("classification failed: %s", report.Error)
	}

	if ids := report.AutoAccepted(); conn.AutoAccept && len(ids) > 0 {
		result.AutoApproved = d.approver.BulkApprove(ctx, j.ConnectionID, ids)
	}
	return result, nil
}

func (d *Dispatcher) update(j *Job, fn func(*Job)) {
	d.jobsMu.Lock()
	defer d.jobsMu.Unlock()
	fn(j)
}

// retain evicts the oldest finished jobs beyond MaxRetained
func (d *Dispatcher) retain(id uuid.UUID) {
	d.jobsMu.Lock()
	defer d.jobsMu.Unlock()
	d.finished = append(d.finished, id)
	for len(d.finished) > d.config.MaxRetained {
		delete(d.jobs, d.finished[0])
		d.finished = d.finished[1:]
	}
}

func (d *Dispatcher) audit(ctx context.Context, j *Job, outcome string, extra map[string]any) {
	detail := map[string]any{"job_id": j.ID.String(), "kind": string(j.Kind)}
	for k, v := range extra {
		detail[k] = v
	}
	entry := mirror.NewAuditEntry(j.ConnectionID, "job", mirror.OpJob, 1, outcome, detail)
	if err := d.store.AppendAudit(ctx, entry); err != nil {
		d.logger.WithContext(ctx).Warn("failed to append audit entry", "error", err)
	}
}
