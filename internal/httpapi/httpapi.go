// Package httpapi is the HTTP surface (SPEC_FULL §6, shape normative):
// POST /fetch, POST+GET /fetch/sync, GET /job/{id}, GET /events (SSE),
// GET /health, GET /metrics.
//
// Grounded on the teacher's cmd/captcha-server/main.go router assembly
// (huma.New over a chi.Router, request-id/real-ip/logger/recoverer
// middleware, a permissive CORS policy) retargeted from the single
// FlareSolverr-compatible `/v1` endpoint to this service's job-oriented
// surface. /events is mounted directly on the chi router rather than
// through Huma, since Huma has no first-class streaming response type;
// everything else goes through huma.Register the way the teacher does.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shadowfetch/shadowfetch/internal/broker"
	"github.com/shadowfetch/shadowfetch/internal/browserlife"
	"github.com/shadowfetch/shadowfetch/internal/shutdown"
	"github.com/shadowfetch/shadowfetch/internal/version"
)

// Deps bundles the collaborators the HTTP surface dispatches to. Nothing
// here owns a lifecycle; httpapi only routes requests to it.
type Deps struct {
	Broker   *broker.Broker
	Browsers *browserlife.Manager
	Logger   *slog.Logger

	// SyncTimeoutDefault/MaxSyncTimeout bound the `timeout` parameter on
	// /fetch/sync per SPEC_FULL §6.
	SyncTimeoutDefault time.Duration
	MaxSyncTimeout     time.Duration

	// ConcurrencyLimit is reported verbatim on /health.
	ConcurrencyLimit int

	// RateLimitPerMinute, if > 0, caps requests per client IP across the
	// whole surface (0 disables rate limiting).
	RateLimitPerMinute int

	// Idle, if non-nil, wraps every request to reset the idle-shutdown
	// timer, mirroring the teacher's IdleMonitor.Middleware wiring.
	Idle *shutdown.IdleMonitor
}

// NewRouter assembles the chi router, wires middleware, and registers every
// operation in the HTTP surface table.
func NewRouter(deps Deps) http.Handler {
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if deps.RateLimitPerMinute > 0 {
		r.Use(httprate.LimitByIP(deps.RateLimitPerMinute, time.Minute))
	}

	if deps.Idle != nil {
		r.Use(deps.Idle.Middleware)
	}

	// /events streams Server-Sent Events straight off the broker's pub/sub
	// hub as one long-lived response (ended by the 2-minute Timeout
	// middleware above at the latest), so it stays outside Huma's
	// request/response operation model.
	r.Get("/events", h.events)

	r.Handle("/metrics", promhttp.Handler())

	humaConfig := huma.DefaultConfig("shadowfetch", version.Get().Version)
	humaConfig.Info.Description = "Stealth browser fetch-orchestration service"
	api := humachi.New(r, humaConfig)

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*HealthOutput, error) {
		return &HealthOutput{Body: h.health()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submitFetch",
		Method:      http.MethodPost,
		Path:        "/fetch",
		Summary:     "Submit an asynchronous fetch job",
		Tags:        []string{"Fetch"},
	}, func(ctx context.Context, input *FetchInput) (*FetchOutput, error) {
		return h.submitFetch(ctx, input)
	})

	huma.Register(api, huma.Operation{
		OperationID: "fetchSyncPost",
		Method:      http.MethodPost,
		Path:        "/fetch/sync",
		Summary:     "Fetch a URL and wait for the result",
		Tags:        []string{"Fetch"},
	}, func(ctx context.Context, input *FetchSyncInput) (*FetchSyncOutput, error) {
		return h.fetchSync(ctx, input.Body.URL, input.Body.SessionKey, input.Body.Timeout)
	})

	huma.Register(api, huma.Operation{
		OperationID: "fetchSyncGet",
		Method:      http.MethodGet,
		Path:        "/fetch/sync",
		Summary:     "Fetch a URL and wait for the result",
		Tags:        []string{"Fetch"},
	}, func(ctx context.Context, input *FetchSyncQueryInput) (*FetchSyncOutput, error) {
		return h.fetchSync(ctx, input.URL, input.SessionKey, input.Timeout)
	})

	huma.Register(api, huma.Operation{
		OperationID: "getJob",
		Method:      http.MethodGet,
		Path:        "/job/{id}",
		Summary:     "Look up a job by id",
		Tags:        []string{"Fetch"},
	}, func(ctx context.Context, input *JobInput) (*JobOutput, error) {
		return h.getJob(ctx, input.ID)
	})

	return r
}
