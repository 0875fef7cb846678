package httpapi

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/shadowfetch/shadowfetch/internal/models"
	"github.com/shadowfetch/shadowfetch/internal/version"
)

// handler holds the dependencies every operation dispatches to. It carries
// no state of its own beyond what Deps supplies.
type handler struct {
	deps Deps
}

// FetchInput is the body of POST /fetch.
type FetchInput struct {
	Body struct {
		URL         string `json:"url,omitempty" doc:"Target URL to fetch"`
		SessionKey  string `json:"session_key,omitempty" doc:"Group fetches under a shared browser session"`
		CallbackURL string `json:"callback_url,omitempty" doc:"Webhook to notify on completion"`
		IssueRef    int    `json:"issue_ref,omitempty" doc:"Upstream issue number to comment on when the job finishes"`
	}
}

// FetchOutput is the 202 response of POST /fetch.
type FetchOutput struct {
	Status int
	Body   struct {
		JobID  string `json:"job_id"`
		URL    string `json:"url"`
		Status string `json:"status"`
	}
}

func (h *handler) submitFetch(ctx context.Context, input *FetchInput) (*FetchOutput, error) {
	if input.Body.URL == "" {
		return nil, huma.Error400BadRequest("url is required")
	}
	id, err := h.deps.Broker.Submit(ctx, input.Body.URL, input.Body.SessionKey, input.Body.CallbackURL, input.Body.IssueRef)
	if err != nil {
		if h.deps.Logger != nil {
			h.deps.Logger.Error("job submission failed", "url", input.Body.URL, "error", err)
		}
		return nil, huma.Error500InternalServerError("failed to submit job", err)
	}
	out := &FetchOutput{Status: 202}
	out.Body.JobID = id
	out.Body.URL = input.Body.URL
	out.Body.Status = string(models.StatusQueued)
	return out, nil
}

// FetchSyncInput is the body of POST /fetch/sync.
type FetchSyncInput struct {
	Body struct {
		URL        string `json:"url"`
		SessionKey string `json:"session_key,omitempty"`
		Timeout    int    `json:"timeout,omitempty" doc:"Timeout in seconds"`
	}
}

// FetchSyncQueryInput is the query-parameter form of GET /fetch/sync.
type FetchSyncQueryInput struct {
	URL        string `query:"url"`
	SessionKey string `query:"session_key"`
	Timeout    int    `query:"timeout"`
}

// FetchSyncOutput wraps the successful Artifact body.
type FetchSyncOutput struct {
	Body models.Artifact
}

// fetchSync drives a single fetch attempt synchronously through the same
// Fetcher the broker's workers use, bounded by the request's own deadline
// rather than the broker's retry loop — a submitter waiting on this
// endpoint gets exactly one attempt's worth of latency, never a retry
// sequence's.
func (h *handler) fetchSync(ctx context.Context, url, sessionKey string, timeoutSeconds int) (*FetchSyncOutput, error) {
	if url == "" {
		return nil, huma.Error400BadRequest("url is required")
	}

	timeout := h.deps.SyncTimeoutDefault
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	if h.deps.MaxSyncTimeout > 0 && timeout > h.deps.MaxSyncTimeout {
		timeout = h.deps.MaxSyncTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	artifact, fetchErr := h.deps.Broker.FetchSync(ctx, url, sessionKey)
	if fetchErr != nil {
		return nil, classifyFetchError(fetchErr)
	}
	return &FetchSyncOutput{Body: *artifact}, nil
}

// classifyFetchError maps the fixed error taxonomy (SPEC_FULL §3) onto the
// /fetch/sync status codes the HTTP surface table requires: 504 for
// timeout, 400 for a non-retryable failure, 502 for anything else
// retryable (no_response/fetch_error/no_content/retryable HTTP codes).
func classifyFetchError(fetchErr *models.FetchError) error {
	switch {
	case fetchErr.Code == models.CodeTimeout:
		return huma.Error504GatewayTimeout(fetchErr.Message)
	case !fetchErr.Retryable:
		return huma.Error400BadRequest(fetchErr.Message)
	default:
		return huma.Error502BadGateway(fetchErr.Message)
	}
}

// JobInput is the path parameter of GET /job/{id}.
type JobInput struct {
	ID string `path:"id"`
}

// JobOutput wraps the Job body of GET /job/{id}.
type JobOutput struct {
	Body models.Job
}

func (h *handler) getJob(ctx context.Context, id string) (*JobOutput, error) {
	job, err := h.deps.Broker.Get(ctx, id)
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to look up job", err)
	}
	if job == nil {
		return nil, huma.Error404NotFound("job not found: " + id)
	}
	return &JobOutput{Body: *job}, nil
}

// HealthResponse is the body of GET /health, per SPEC_FULL §6.
type HealthResponse struct {
	Status                 string `json:"status"`
	Version                string `json:"version"`
	BrowserConnected        bool   `json:"browser_connected"`
	ActiveJobsQueue         int    `json:"active_jobs_queue"`
	ActiveBrowserContexts   int    `json:"active_browser_contexts"`
	ConcurrencyLimit        int    `json:"concurrency_limit"`
}

// HealthOutput wraps HealthResponse for Huma.
type HealthOutput struct {
	Body HealthResponse
}

func (h *handler) health() HealthResponse {
	resp := HealthResponse{
		Status:           "healthy",
		Version:          version.Get().Version,
		ConcurrencyLimit: h.deps.ConcurrencyLimit,
	}
	if h.deps.Browsers != nil {
		stats := h.deps.Browsers.Stats()
		resp.BrowserConnected = stats.Connected
		resp.ActiveBrowserContexts = stats.ActiveContexts
	}
	if h.deps.Broker != nil {
		resp.ActiveJobsQueue = h.deps.Broker.QueueSize() + h.deps.Broker.ActiveWorkers()
	}
	return resp
}
