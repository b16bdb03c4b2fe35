package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/loreweave/loreweave-engine/internal/costmeter"
	"github.com/loreweave/loreweave-engine/internal/credit"
	"github.com/loreweave/loreweave-engine/internal/metrics"
	"github.com/loreweave/loreweave-engine/internal/modelcatalog"
)

// Generator is the external model call. It must be safe to abandon: when
// the context expires the orchestrator discards whatever the call
// eventually returns.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (content string, tokensIn, tokensOut int, err error)
}

// Publisher receives successful module content. It stands in for the
// document layer, which is outside this subsystem.
type Publisher interface {
	Publish(ctx context.Context, parentID, moduleKey, content string) error
}

// Archive persists terminal job transitions for audit. Best-effort: an
// archive failure is logged, never propagated into job state.
type Archive interface {
	RecordTransition(ctx context.Context, job Job) error
	Close() error
}

// Config carries orchestrator policy.
type Config struct {
	// JobTimeout bounds one external generation call. Mandatory: a zero
	// value falls back to two minutes so a hung upstream cannot stall a
	// parent's queue forever.
	JobTimeout time.Duration
	// ReserveEstimate, when positive, is debited before each dispatch and
	// refunded once the attempt settles (replaced by the final cost on
	// success). Zero disables reservations.
	ReserveEstimate decimal.Decimal
	Logger          *log.Logger
	Metrics         *metrics.Collector
}

// Orchestrator owns every generation job record and drives the per-job
// state machine. Each parent gets its own dispatch worker, so parents run
// fully independently while jobs within one parent execute strictly
// serially in FIFO enqueue order.
type Orchestrator struct {
	ledger    *credit.Ledger
	catalog   *modelcatalog.Catalog
	generator Generator
	publisher Publisher
	archive   Archive
	cfg       Config

	mu      sync.Mutex
	parents map[string]*parentQueue
	closed  bool
	wg      sync.WaitGroup
}

type parentQueue struct {
	id        string
	accountID string

	jobs    []*Job          // enqueue order, terminal jobs included
	byKey   map[string]*Job // current job per module key
	waiting []*Job          // FIFO dispatch queue

	wake      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
}

// New constructs an Orchestrator. Publisher and archive may be nil.
func New(ledger *credit.Ledger, catalog *modelcatalog.Catalog, generator Generator, publisher Publisher, archive Archive, cfg Config) *Orchestrator {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[orchestrator] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Orchestrator{
		ledger:    ledger,
		catalog:   catalog,
		generator: generator,
		publisher: publisher,
		archive:   archive,
		cfg:       cfg,
		parents:   make(map[string]*parentQueue),
	}
}

// EnqueueModules creates one WAITING job per accepted module key and
// returns the created records plus per-module rejections. A module is
// rejected with ErrDuplicateActiveModule while a job for the same
// (parent, module) is WAITING or RUNNING, including duplicates within
// the same request.
func (o *Orchestrator) EnqueueModules(parentID, accountID string, modules []ModuleRequest) ([]Job, map[string]error, error) {
	if parentID == "" || accountID == "" {
		return nil, nil, errors.New("parent and account ids required")
	}
	if len(modules) == 0 {
		return nil, nil, errors.New("no modules requested")
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, nil, ErrClosed
	}
	pq := o.parents[parentID]
	if pq == nil {
		ctx, cancel := context.WithCancel(context.Background())
		pq = &parentQueue{
			id:        parentID,
			accountID: accountID,
			byKey:     make(map[string]*Job),
			wake:      make(chan struct{}, 1),
			ctx:       ctx,
			cancel:    cancel,
		}
		o.parents[parentID] = pq
		o.wg.Add(1)
		go o.worker(pq)
	}

	accepted := make([]Job, 0, len(modules))
	rejected := make(map[string]error)
	for _, m := range modules {
		if m.Key == "" {
			rejected[m.Key] = errors.New("empty module key")
			continue
		}
		if existing, ok := pq.byKey[m.Key]; ok && existing.Status.Active() {
			rejected[m.Key] = ErrDuplicateActiveModule
			continue
		}
		job := &Job{
			ID:         uuid.NewString(),
			ParentID:   parentID,
			AccountID:  accountID,
			ModuleKey:  m.Key,
			Model:      m.Model,
			Prompt:     m.Prompt,
			Status:     StatusWaiting,
			EnqueuedAt: time.Now().UTC(),
		}
		pq.jobs = append(pq.jobs, job)
		pq.byKey[m.Key] = job
		pq.waiting = append(pq.waiting, job)
		accepted = append(accepted, *job)
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordJobEnqueued(m.Key)
		}
	}
	if len(accepted) > 0 {
		wake(pq)
	}
	return accepted, rejected, nil
}

// RetryModule re-enters a FAILED job into the dispatch queue. The job
// keeps its ID; attempts increments and the retried job joins the back
// of the parent's FIFO, not the front.
func (o *Orchestrator) RetryModule(parentID, moduleKey string) (Job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return Job{}, ErrClosed
	}
	pq := o.parents[parentID]
	if pq == nil {
		return Job{}, ErrUnknownParent
	}
	job, ok := pq.byKey[moduleKey]
	if !ok {
		return Job{}, ErrUnknownModule
	}
	if job.Status != StatusFailed {
		return Job{}, fmt.Errorf("%w (current status %s)", ErrRetryNotFailed, job.Status)
	}
	job.Status = StatusWaiting
	job.Attempts++
	job.StartedAt = nil
	job.FinishedAt = nil
	job.LastError = ""
	pq.waiting = append(pq.waiting, job)
	wake(pq)
	return *job, nil
}

// CancelParent cascades parent deletion: every WAITING and RUNNING job
// transitions to CANCELLED and the parent's records are dropped. A
// RUNNING job is cancelled cooperatively; the in-flight external call is
// abandoned and its result discarded without any ledger commit.
func (o *Orchestrator) CancelParent(parentID string) error {
	o.mu.Lock()
	pq := o.parents[parentID]
	if pq == nil {
		o.mu.Unlock()
		return ErrUnknownParent
	}
	pq.cancelled = true
	pq.cancel()
	now := time.Now().UTC()
	var cancelled []Job
	for _, job := range pq.jobs {
		if job.Status.Active() {
			job.Status = StatusCancelled
			job.FinishedAt = &now
			cancelled = append(cancelled, *job)
		}
	}
	pq.waiting = nil
	delete(o.parents, parentID)
	o.mu.Unlock()

	for _, job := range cancelled {
		o.recordTransition(job)
	}
	o.cfg.Logger.Printf("parent %s cancelled, %d job(s) dropped", parentID, len(cancelled))
	return nil
}

// Close stops all dispatch workers. In-flight external calls are
// abandoned; job records are not transitioned.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	for _, pq := range o.parents {
		pq.cancelled = true
		pq.cancel()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// worker drains one parent's WAITING jobs strictly serially.
func (o *Orchestrator) worker(pq *parentQueue) {
	defer o.wg.Done()
	for {
		o.mu.Lock()
		if pq.cancelled {
			o.mu.Unlock()
			return
		}
		var job *Job
		if len(pq.waiting) > 0 {
			job = pq.waiting[0]
			pq.waiting = pq.waiting[1:]
		}
		if job == nil {
			o.mu.Unlock()
			select {
			case <-pq.ctx.Done():
				return
			case <-pq.wake:
				continue
			}
		}
		now := time.Now().UTC()
		job.Status = StatusRunning
		job.StartedAt = &now
		job.FinishedAt = nil
		job.LastError = ""
		dispatch := *job
		o.mu.Unlock()

		o.runJob(pq, job, dispatch)
	}
}

// runJob executes one dispatched attempt. Ledger operations use a
// background context: a parent cancellation must not sever a commit that
// is already in flight.
func (o *Orchestrator) runJob(pq *parentQueue, job *Job, dispatch Job) {
	ctx := context.Background()

	balance, err := o.ledger.GetBalance(ctx, dispatch.AccountID)
	if err != nil {
		o.failJob(job, fmt.Errorf("balance check: %w", err))
		return
	}
	// Overdraft stops future dispatches only; the jobs already queued
	// while solvent stay in the queue and fail here, retryable.
	if balance.IsNegative() {
		if o.cfg.Metrics != nil {
			o.cfg.Metrics.RecordDispatchRefused()
		}
		o.failJob(job, ErrInsufficientCredits)
		return
	}

	model, err := o.catalog.Resolve(dispatch.Model)
	if err != nil {
		o.failJob(job, err)
		return
	}

	reserved := decimal.Zero
	if o.cfg.ReserveEstimate.IsPositive() {
		detail := fmt.Sprintf("reserve module %s attempt %d", dispatch.ModuleKey, dispatch.Attempts+1)
		if _, err := o.ledger.Debit(ctx, dispatch.AccountID, o.cfg.ReserveEstimate, credit.ReasonGeneration, detail); err != nil {
			o.failJob(job, fmt.Errorf("reserve credits: %w", err))
			return
		}
		reserved = o.cfg.ReserveEstimate
		o.countEntry(credit.ReasonGeneration)
	}

	genCtx, cancel := context.WithTimeout(pq.ctx, o.cfg.JobTimeout)
	started := time.Now()
	content, tokensIn, tokensOut, genErr := o.generator.Generate(genCtx, dispatch.Prompt, model.ID)
	elapsed := time.Since(started)
	timedOut := genCtx.Err() == context.DeadlineExceeded
	cancel()

	// The parent may have been deleted while the call was in flight; in
	// that case the job is already CANCELLED and the result is discarded
	// with no generation debit.
	if o.jobNoLongerRunning(job) {
		o.releaseReservation(ctx, dispatch, reserved, "parent cancelled")
		return
	}

	if genErr != nil {
		o.releaseReservation(ctx, dispatch, reserved, "attempt failed")
		if timedOut || errors.Is(genErr, context.DeadlineExceeded) {
			o.failJob(job, fmt.Errorf("%w after %s", ErrGenerationTimeout, o.cfg.JobTimeout))
		} else {
			o.failJob(job, fmt.Errorf("upstream generation error: %w", genErr))
		}
		return
	}

	if o.publisher != nil {
		if err := o.publisher.Publish(ctx, dispatch.ParentID, dispatch.ModuleKey, content); err != nil {
			o.releaseReservation(ctx, dispatch, reserved, "publish failed")
			o.failJob(job, fmt.Errorf("publish module content: %w", err))
			return
		}
	}

	cost, err := costmeter.ComputeCost(tokensIn, tokensOut, model)
	if err != nil {
		o.releaseReservation(ctx, dispatch, reserved, "cost unavailable")
		o.failJob(job, err)
		return
	}
	o.releaseReservation(ctx, dispatch, reserved, "attempt settled")
	detail := fmt.Sprintf("module %s model %s tokens_in=%d tokens_out=%d", dispatch.ModuleKey, model.ID, tokensIn, tokensOut)
	if _, err := o.ledger.Debit(ctx, dispatch.AccountID, cost, credit.ReasonGeneration, detail); err != nil {
		o.failJob(job, fmt.Errorf("commit generation cost: %w", err))
		return
	}
	o.countEntry(credit.ReasonGeneration)

	o.mu.Lock()
	if job.Status != StatusRunning {
		// Cancelled between the ledger commit and this transition; the
		// cost was already committed, so hand it back.
		o.mu.Unlock()
		if _, rerr := o.ledger.Credit(ctx, dispatch.AccountID, cost, credit.ReasonRefund, "refund cancelled module "+dispatch.ModuleKey); rerr != nil {
			o.cfg.Logger.Printf("[ERROR] refund after cancel failed account=%s module=%s: %v", dispatch.AccountID, dispatch.ModuleKey, rerr)
		} else {
			o.countEntry(credit.ReasonRefund)
		}
		return
	}
	now := time.Now().UTC()
	job.Status = StatusSucceeded
	job.FinishedAt = &now
	done := *job
	o.mu.Unlock()

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordJobFinished(done.ModuleKey, string(StatusSucceeded), elapsed)
	}
	o.cfg.Logger.Printf("module %s/%s succeeded cost=%s tokens_in=%d tokens_out=%d", done.ParentID, done.ModuleKey, cost, tokensIn, tokensOut)
	o.recordTransition(done)
}

// failJob marks a RUNNING job FAILED with the given error. If the job is
// no longer RUNNING (parent cancelled meanwhile) the failure is dropped.
func (o *Orchestrator) failJob(job *Job, cause error) {
	o.mu.Lock()
	if job.Status != StatusRunning {
		o.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	job.Status = StatusFailed
	job.FinishedAt = &now
	job.LastError = cause.Error()
	done := *job
	o.mu.Unlock()

	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordJobFinished(done.ModuleKey, string(StatusFailed), 0)
	}
	o.cfg.Logger.Printf("module %s/%s failed: %v", done.ParentID, done.ModuleKey, cause)
	o.recordTransition(done)
}

func (o *Orchestrator) jobNoLongerRunning(job *Job) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return job.Status != StatusRunning
}

// releaseReservation refunds a dispatch-time reservation, if one was
// taken for this attempt.
func (o *Orchestrator) releaseReservation(ctx context.Context, dispatch Job, reserved decimal.Decimal, why string) {
	if !reserved.IsPositive() {
		return
	}
	detail := fmt.Sprintf("release reserve module %s (%s)", dispatch.ModuleKey, why)
	if _, err := o.ledger.Credit(ctx, dispatch.AccountID, reserved, credit.ReasonRefund, detail); err != nil {
		o.cfg.Logger.Printf("[ERROR] release reservation failed account=%s module=%s: %v", dispatch.AccountID, dispatch.ModuleKey, err)
		return
	}
	o.countEntry(credit.ReasonRefund)
}

func (o *Orchestrator) countEntry(reason credit.Reason) {
	if o.cfg.Metrics != nil {
		o.cfg.Metrics.RecordLedgerEntry(string(reason))
	}
}

func (o *Orchestrator) recordTransition(job Job) {
	if o.archive == nil {
		return
	}
	if err := o.archive.RecordTransition(context.Background(), job); err != nil {
		o.cfg.Logger.Printf("[WARN] archive transition job=%s status=%s: %v", job.ID, job.Status, err)
	}
}

func wake(pq *parentQueue) {
	select {
	case pq.wake <- struct{}{}:
	default:
	}
}
