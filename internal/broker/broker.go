// Package broker implements the Job Broker (SPEC_FULL §4.1): a durable
// SQLite-backed queue of fetch jobs, a fixed-size pool of worker goroutines
// running a typed retry loop with exponential backoff and jitter, a
// non-blocking publish/subscribe event bus, and fire-and-forget webhook /
// GitHub-issue-comment side-channel delivery on terminal status.
//
// Grounded on the teacher-adjacent worker-pool shape in
// api/internal/worker/worker.go (runWorker polling loop, graceful Stop with
// a grace period) and the job-repository column/scan shape in
// api/internal/repository/job_repo.go, retargeted from the multi-tier
// extraction-job domain to the single fetch-job domain this service owns.
package broker

import (
	"context"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/shadowfetch/shadowfetch/internal/models"
)

// Fetcher is the Fetch Engine capability the broker depends on. Declared
// here, not imported from fetchengine, so the two packages don't form an
// import cycle; *fetchengine.Engine satisfies it directly.
type Fetcher interface {
	Fetch(ctx context.Context, url, sessionKey string) (*models.Artifact, *models.FetchError)
}

// Config holds the broker's tunables, all sourced from config.Config per
// SPEC_FULL §6.
type Config struct {
	Concurrency         int           // W, default 2
	MaxRetries          int           // default 3
	JobTTL              time.Duration // default 24h
	ResumeAbandonedJobs bool          // default true
	GitHubRepo          string
	ShutdownGracePeriod time.Duration // default 5m
	PurgeInterval       time.Duration // default 1h
}

func (c Config) withDefaults() Config {
	if c.Concurrency == 0 {
		c.Concurrency = 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.JobTTL == 0 {
		c.JobTTL = 24 * time.Hour
	}
	if c.ShutdownGracePeriod == 0 {
		c.ShutdownGracePeriod = 5 * time.Minute
	}
	if c.PurgeInterval == 0 {
		c.PurgeInterval = time.Hour
	}
	return c
}

// Broker owns the job queue, worker pool, store, and event bus.
type Broker struct {
	store   *Store
	engine  Fetcher
	hub     *hub
	metrics *metrics
	logger  *slog.Logger
	cfg     Config

	queue chan string

	webhookClient *http.Client
	githubRepo    string

	stop chan struct{}
	wg   sync.WaitGroup

	activeMu sync.Mutex
	active   int
}

// New constructs a Broker. Call Start to begin processing. reg may be nil,
// in which case metrics are created but not registered anywhere.
func New(store *Store, engine Fetcher, cfg Config, reg prometheus.Registerer, logger *slog.Logger) *Broker {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		store:         store,
		engine:        engine,
		hub:           newHub(),
		metrics:       newMetrics(reg),
		logger:        logger.With("component", "broker"),
		cfg:           cfg,
		queue:         make(chan string, 1024),
		webhookClient: &http.Client{Timeout: webhookTimeout},
		githubRepo:    cfg.GitHubRepo,
		stop:          make(chan struct{}),
	}
}

// Submit allocates a fresh job id, persists it as queued, and enqueues it.
// Never blocks on worker availability: the queue channel is large and a
// full queue only blocks the HTTP handler calling Submit, not a worker.
func (b *Broker) Submit(ctx context.Context, url, sessionKey, callbackURL string, issueRef int) (string, error) {
	id := ulid.Make().String()
	job := &models.Job{
		ID:          id,
		URL:         url,
		SessionKey:  sessionKey,
		CallbackURL: callbackURL,
		IssueRef:    issueRef,
		Status:      models.StatusQueued,
		CreatedAt:   time.Now(),
	}
	if err := b.store.Insert(ctx, job); err != nil {
		return "", err
	}
	b.hub.Publish(Event{Type: "job_update", JobID: id, Status: string(models.StatusQueued)})
	b.queue <- id
	b.metrics.queueSize.Set(float64(len(b.queue)))
	b.logger.Info("job submitted", "job_id", id, "url", url)
	return id, nil
}

// FetchSync drives exactly one engine attempt under the caller's own
// deadline, bypassing the queue and retry loop entirely. This is the
// synchronous fetch collaborator SPEC_FULL §6 describes alongside the
// asynchronous job path: a submitter waiting on it gets one attempt's
// latency, never a retry sequence's.
func (b *Broker) FetchSync(ctx context.Context, url, sessionKey string) (*models.Artifact, *models.FetchError) {
	job := &models.Job{URL: url, SessionKey: sessionKey}
	return b.invokeEngine(ctx, job)
}

// Get reads a job through to the persistent store.
func (b *Broker) Get(ctx context.Context, id string) (*models.Job, error) {
	return b.store.Get(ctx, id)
}

// Subscribe registers for job-update events from this moment onward; call
// the returned function to unsubscribe.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	return b.hub.Subscribe()
}

// ActiveWorkers reports how many workers are currently processing a job;
// /health adds it to QueueSize to report active_jobs_queue.
func (b *Broker) ActiveWorkers() int {
	b.activeMu.Lock()
	defer b.activeMu.Unlock()
	return b.active
}

// QueueSize reports the number of job ids currently buffered.
func (b *Broker) QueueSize() int {
	return len(b.queue)
}

// Start resurfaces abandoned jobs (if configured), launches the worker
// pool, and starts the hourly TTL-purge task.
func (b *Broker) Start(ctx context.Context) error {
	if b.cfg.ResumeAbandonedJobs {
		ids, err := b.store.ResumeAbandoned(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			b.logger.Warn("resuming abandoned job", "job_id", id)
			b.hub.Publish(Event{Type: "job_update", JobID: id, Status: string(models.StatusQueued)})
			b.queue <- id
		}
	}

	for i := 0; i < b.cfg.Concurrency; i++ {
		b.wg.Add(1)
		go b.runWorker(ctx, i)
	}

	b.wg.Add(1)
	go b.runPurgeTask(ctx)

	b.logger.Info("broker started", "concurrency", b.cfg.Concurrency, "max_retries", b.cfg.MaxRetries)
	return nil
}

// Stop signals all workers and the purge task to exit and waits up to the
// configured grace period for in-flight jobs to finish.
func (b *Broker) Stop() {
	close(b.stop)
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		b.logger.Info("broker stopped cleanly")
	case <-time.After(b.cfg.ShutdownGracePeriod):
		b.logger.Warn("broker shutdown grace period exceeded, in-flight jobs left processing")
	}
}

func (b *Broker) runWorker(ctx context.Context, workerID int) {
	defer b.wg.Done()
	for {
		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		case id := <-b.queue:
			b.metrics.queueSize.Set(float64(len(b.queue)))
			b.processJob(ctx, workerID, id)
		}
	}
}

// processJob runs the full retry loop for one job id, guarded by a
// recover() boundary per SPEC_FULL §7 so no single job's panic can take
// down a worker goroutine.
func (b *Broker) processJob(ctx context.Context, workerID int, id string) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("worker recovered from panic", "worker_id", workerID, "job_id", id, "panic", r)
		}
	}()

	exists, err := b.store.Exists(ctx, id)
	if err != nil {
		b.logger.Error("failed to check job existence", "job_id", id, "error", err)
		return
	}
	if !exists {
		b.logger.Warn("job deleted before processing, skipping", "job_id", id)
		return
	}

	b.activeMu.Lock()
	b.active++
	b.metrics.activeWorkers.Set(float64(b.active))
	b.activeMu.Unlock()
	defer func() {
		b.activeMu.Lock()
		b.active--
		b.metrics.activeWorkers.Set(float64(b.active))
		b.activeMu.Unlock()
	}()

	job, err := b.store.Get(ctx, id)
	if err != nil || job == nil {
		b.logger.Error("failed to load job for processing", "job_id", id, "error", err)
		return
	}

	now := time.Now()
	job.Status = models.StatusProcessing
	job.StartedAt = &now
	if err := b.store.Update(ctx, job); err != nil {
		b.logger.Error("failed to persist processing state", "job_id", id, "error", err)
	}
	b.hub.Publish(Event{Type: "job_update", JobID: id, Status: string(models.StatusProcessing)})

	start := time.Now()
	b.runRetryLoop(ctx, workerID, job)
	b.metrics.jobDuration.Observe(time.Since(start).Seconds())

	completed := time.Now()
	job.CompletedAt = &completed
	if err := b.store.Update(ctx, job); err != nil {
		b.logger.Error("failed to persist terminal state", "job_id", id, "error", err)
	}
	b.hub.Publish(Event{Type: "job_update", JobID: id, Status: string(job.Status)})
	b.metrics.jobsTotal.WithLabelValues(string(job.Status)).Inc()

	b.deliverWebhook(job)
	b.postIssueComment(job)

	b.logger.Info("job finished", "job_id", id, "status", job.Status, "attempt_count", job.AttemptCount)
}

// runRetryLoop drives up to MaxRetries additional attempts, per SPEC_FULL
// §4.1's backoff formula 2^(attempt+1) + U(0,1) seconds.
func (b *Broker) runRetryLoop(ctx context.Context, workerID int, job *models.Job) {
	attempt := 0
	for {
		job.AttemptCount++
		b.logger.Info("attempting fetch", "worker_id", workerID, "job_id", job.ID, "url", job.URL, "attempt", job.AttemptCount)

		artifact, fetchErr := b.invokeEngine(ctx, job)
		if fetchErr == nil {
			job.Status = models.StatusCompleted
			job.Result = artifact
			job.Error = nil
			return
		}

		job.Error = fetchErr
		b.logger.Warn("fetch attempt failed", "job_id", job.ID, "attempt", job.AttemptCount, "code", fetchErr.Code, "retryable", fetchErr.Retryable)

		if fetchErr.Retryable && attempt < b.cfg.MaxRetries {
			delay := time.Duration(float64(time.Second) * (float64(int64(1)<<uint(attempt+1)) + rand.Float64()))
			b.logger.Info("retrying after backoff", "job_id", job.ID, "attempt", attempt+1, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				job.Status = models.StatusFailed
				return
			case <-b.stop:
				job.Status = models.StatusFailed
				return
			}
			attempt++
			continue
		}

		job.Status = models.StatusFailed
		return
	}
}

// invokeEngine wraps a single engine call, converting anything that isn't
// already a classified *FetchError into internal_error/non-retryable per
// SPEC_FULL §7's broker-boundary wrapping rule.
func (b *Broker) invokeEngine(ctx context.Context, job *models.Job) (artifact *models.Artifact, fetchErr *models.FetchError) {
	defer func() {
		if r := recover(); r != nil {
			fetchErr = &models.FetchError{
				Message:   "internal error during fetch",
				Code:      models.CodeInternalError,
				Retryable: false,
			}
		}
	}()
	artifact, fetchErr = b.engine.Fetch(ctx, job.URL, job.SessionKey)
	return artifact, fetchErr
}

func (b *Broker) runPurgeTask(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.PurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-b.cfg.JobTTL)
			n, err := b.store.PurgeOlderThan(ctx, cutoff)
			if err != nil {
				b.logger.Error("job purge failed", "error", err)
				continue
			}
			if n > 0 {
				b.logger.Info("purged expired jobs", "count", n)
			}
		}
	}
}
