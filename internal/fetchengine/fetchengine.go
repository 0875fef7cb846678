// Package fetchengine orchestrates one fetch attempt end-to-end: it owns
// the shared browser lifecycle, per-domain pacing, fingerprint selection,
// proxy selection, navigation, best-effort settle steps, and capture/
// extraction, classifying every non-success outcome into the fixed error
// taxonomy in internal/models.
//
// Grounded on the original source's StealthScraper.fetch for the exact
// sequencing, and on the teacher's internal/api/handlers/solve.go for the
// heavy structured-logging orchestration-method idiom (a single Handle-
// style method logging at entry, at each classified outcome, and at exit).
package fetchengine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/shadowfetch/shadowfetch/internal/browserlife"
	"github.com/shadowfetch/shadowfetch/internal/consent"
	"github.com/shadowfetch/shadowfetch/internal/extractor"
	"github.com/shadowfetch/shadowfetch/internal/fingerprint"
	"github.com/shadowfetch/shadowfetch/internal/models"
	"github.com/shadowfetch/shadowfetch/internal/proxyhealth"
	"github.com/shadowfetch/shadowfetch/internal/session"
)

const (
	navigationTimeout   = 60 * time.Second
	settleJitterMin     = 1500 * time.Millisecond
	settleJitterSpread  = 1500 * time.Millisecond
	tweetSelectorWait   = 30 * time.Second
	tweetScrollPixels   = 500
	fingerprintCacheTTL = time.Hour
)

// twitterHosts are the hosts the settle step additionally waits on tweet
// content for, per SPEC_FULL §4.2.
var twitterHosts = map[string]bool{"x.com": true, "twitter.com": true}

// fingerprintEntry is one fingerprint cache row: a bundle plus its issue
// time, reused for the same host while still within fingerprintCacheTTL.
type fingerprintEntry struct {
	bundle   fingerprint.Bundle
	issuedAt time.Time
}

// Engine wires together the shared browser, proxy pool, fingerprint cache,
// and session store to serve fetch(url, session_key?) -> Artifact.
type Engine struct {
	browsers *browserlife.Manager
	proxies  *proxyhealth.Manager
	sessions *session.Manager
	dismisser *consent.Dismisser
	logger   *slog.Logger

	pacingMu sync.Mutex
	pacing   map[string]time.Time
	minDelay time.Duration

	fingerprintMu sync.Mutex
	fingerprints  map[string]fingerprintEntry
}

// New constructs an Engine. minDomainDelay is the per-host minimum interval
// between dispatch starts (SPEC_FULL §4.2's MIN_DOMAIN_DELAY).
func New(browsers *browserlife.Manager, proxies *proxyhealth.Manager, sessions *session.Manager, minDomainDelay time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		browsers:     browsers,
		proxies:      proxies,
		sessions:     sessions,
		dismisser:    consent.NewDismisser(logger),
		logger:       logger,
		pacing:       make(map[string]time.Time),
		minDelay:     minDomainDelay,
		fingerprints: make(map[string]fingerprintEntry),
	}
}

// Fetch runs one fetch attempt end-to-end: acquire-slot, pace,
// build-context, navigate, settle, capture, extract, release-slot. Slot
// release is guaranteed on every return path. Safe to call concurrently
// from multiple workers.
func (e *Engine) Fetch(ctx context.Context, targetURL, sessionKey string) (*models.Artifact, *models.FetchError) {
	host, err := hostOf(targetURL)
	if err != nil {
		return nil, &models.FetchError{Message: "invalid url: " + err.Error(), Code: models.CodeFetchError, Retryable: false}
	}
	if sessionKey == "" {
		sessionKey = host
	}

	e.logger.Info("fetch starting", "url", targetURL, "host", host, "session_key", sessionKey)

	lease, err := e.browsers.Acquire(ctx)
	if err != nil {
		e.logger.Error("failed to acquire browser slot", "url", targetURL, "error", err)
		return nil, &models.FetchError{Message: err.Error(), Code: models.CodeInternalError, Retryable: false}
	}
	defer lease.Release()

	e.pace(ctx, host)

	proxy := e.proxies.Next()
	bundle := e.fingerprintFor(host)

	page, err := e.buildContext(lease.Browser, bundle, proxy, host)
	if err != nil {
		e.logger.Error("failed to build browsing context", "url", targetURL, "error", err)
		return nil, &models.FetchError{Message: err.Error(), Code: models.CodeInternalError, Retryable: false}
	}
	defer page.Close()

	start := time.Now()
	fetchErr := e.navigate(page, targetURL)
	if fetchErr != nil {
		if proxy != "" {
			e.proxies.MarkBad(proxy)
		}
		e.logger.Warn("fetch navigation failed", "url", targetURL, "code", fetchErr.Code, "retryable", fetchErr.Retryable)
		return nil, fetchErr
	}
	if proxy != "" {
		e.proxies.MarkGood(proxy)
		e.proxies.RecordLatency(proxy, float64(time.Since(start).Milliseconds()))
	}

	e.settle(ctx, page, host)

	html, artifact, fetchErr := e.captureAndExtract(page, host)
	if fetchErr != nil {
		e.logger.Warn("fetch capture failed", "url", targetURL, "code", fetchErr.Code)
		return nil, fetchErr
	}
	_ = html

	e.logger.Info("fetch completed", "url", targetURL, "host", host, "duration_ms", time.Since(start).Milliseconds())
	return artifact, nil
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url has no host: %s", rawURL)
	}
	return u.Hostname(), nil
}

// pace enforces MIN_DOMAIN_DELAY between dispatch starts for the same
// host, across all concurrent workers.
func (e *Engine) pace(ctx context.Context, host string) {
	e.pacingMu.Lock()
	last, seen := e.pacing[host]
	now := time.Now()
	var wait time.Duration
	if seen {
		elapsed := now.Sub(last)
		if elapsed < e.minDelay {
			wait = e.minDelay - elapsed
		}
	}
	e.pacing[host] = now.Add(wait)
	e.pacingMu.Unlock()

	if wait <= 0 {
		return
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}

// fingerprintFor returns the cached bundle for host if still within TTL,
// otherwise generates and caches a fresh one.
func (e *Engine) fingerprintFor(host string) fingerprint.Bundle {
	e.fingerprintMu.Lock()
	defer e.fingerprintMu.Unlock()

	if entry, ok := e.fingerprints[host]; ok && time.Since(entry.issuedAt) <= fingerprintCacheTTL {
		return entry.bundle
	}
	bundle := fingerprint.NewBundle()
	e.fingerprints[host] = fingerprintEntry{bundle: bundle, issuedAt: time.Now()}
	return bundle
}

// buildContext creates an isolated stealth page configured with the
// fingerprint bundle and any persisted session state for host. The proxy
// argument is not applied: the page's traffic goes out over the shared
// browser's own route, while Fetch still records the outcome against the
// chosen proxy in the health manager.
func (e *Engine) buildContext(browser *rod.Browser, bundle fingerprint.Bundle, proxy, host string) (*rod.Page, error) {
	page, err := stealth.Page(browser)
	if err != nil {
		return nil, err
	}
	if _, err := page.EvalOnNewDocument(bundle.Script()); err != nil {
		page.Close()
		return nil, err
	}
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      bundle.UserAgent,
		AcceptLanguage: strings.Join(bundle.Languages, ","),
		Platform:       bundle.Platform.PlatformString,
	}); err != nil {
		page.Close()
		return nil, err
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             bundle.ScreenWidth,
		Height:            bundle.ScreenHeight,
		DeviceScaleFactor: bundle.DeviceScaleFactor,
		Mobile:            false,
	}); err != nil {
		page.Close()
		return nil, err
	}

	if cookies, loadErr := e.sessions.Load(host); loadErr == nil && len(cookies) > 0 {
		params := make([]*proto.NetworkCookieParam, 0, len(cookies))
		for _, c := range cookies {
			params = append(params, &proto.NetworkCookieParam{
				Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
				Secure: c.Secure, HTTPOnly: c.HTTPOnly,
			})
		}
		if len(params) > 0 {
			_ = proto.NetworkSetCookies{Cookies: params}.Call(page)
		}
	}

	return page, nil
}

// navigate drives the page to targetURL within the navigation time budget
// and classifies the outcome per SPEC_FULL §4.2.
func (e *Engine) navigate(page *rod.Page, targetURL string) *models.FetchError {
	timedPage := page.Timeout(navigationTimeout)

	var status int
	var gotResponse bool
	wait := timedPage.EachEvent(func(ev *proto.NetworkResponseReceived) bool {
		if ev.Type == proto.NetworkResourceTypeDocument {
			status = int(ev.Response.Status)
			gotResponse = true
			return true
		}
		return false
	})

	if err := timedPage.Navigate(targetURL); err != nil {
		if isTimeoutErr(err) {
			return &models.FetchError{Message: err.Error(), Code: models.CodeTimeout, Retryable: true}
		}
		return &models.FetchError{Message: err.Error(), Code: models.CodeFetchError, Retryable: true}
	}

	wait()

	if err := timedPage.WaitDOMStable(300*time.Millisecond, 0); err != nil {
		e.logger.Debug("DOM stability wait ended early", "url", targetURL, "error", err)
	}

	if !gotResponse {
		return &models.FetchError{Message: "no response received", Code: models.CodeNoResponse, Retryable: true}
	}
	if status >= 400 {
		return &models.FetchError{
			Message:   fmt.Sprintf("http status %d", status),
			Code:      models.HTTPCode(status),
			Retryable: models.RetryableHTTPStatus(status),
		}
	}
	return nil
}

func isTimeoutErr(err error) bool {
	return strings.Contains(err.Error(), "deadline exceeded") || strings.Contains(err.Error(), "timeout")
}

// settle sleeps a human-like jitter, attempts best-effort consent
// dismissal, and for twitter/x hosts waits for tweet content and scrolls.
func (e *Engine) settle(ctx context.Context, page *rod.Page, host string) {
	jitter := settleJitterMin + time.Duration(rand.Int63n(int64(settleJitterSpread)))
	select {
	case <-time.After(jitter):
	case <-ctx.Done():
		return
	}

	e.dismisser.Dismiss(ctx, page)

	if !twitterHosts[host] {
		return
	}

	func() {
		defer func() { recover() }()
		_, err := page.Timeout(tweetSelectorWait).Element(`[data-testid="tweetText"]`)
		if err != nil {
			e.logger.Debug("tweet selector wait timed out", "host", host, "error", err)
			return
		}
		_ = page.Mouse.Scroll(0, tweetScrollPixels, 1)
		time.Sleep(2 * time.Second)
	}()
}

// captureAndExtract reads the rendered DOM, persists session state, and
// runs the Content Extractor.
func (e *Engine) captureAndExtract(page *rod.Page, host string) (string, *models.Artifact, *models.FetchError) {
	html, err := page.HTML()
	if err != nil {
		return "", nil, &models.FetchError{Message: err.Error(), Code: models.CodeFetchError, Retryable: true}
	}
	if strings.TrimSpace(html) == "" {
		return "", nil, &models.FetchError{Message: "captured empty document", Code: models.CodeNoContent, Retryable: true}
	}

	if cookies, err := page.Cookies(nil); err == nil {
		persisted := make([]session.Cookie, 0, len(cookies))
		for _, c := range cookies {
			persisted = append(persisted, session.Cookie{
				Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
				Secure: c.Secure, HTTPOnly: c.HTTPOnly,
			})
		}
		if err := e.sessions.Save(host, persisted); err != nil {
			e.logger.Warn("failed to persist session state", "host", host, "error", err)
		}
	}

	artifact, err := extractor.Extract(html)
	if err != nil {
		return html, nil, &models.FetchError{Message: err.Error(), Code: models.CodeFetchError, Retryable: true}
	}
	return html, artifact, nil
}
