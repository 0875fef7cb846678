// Package proxyhealth implements the outbound-proxy rotation policy:
// round-robin or random selection over a pool, failure-count quarantine,
// and a per-proxy latency sliding window.
//
// Translated from the original source's ProxyManager/RoundRobinStrategy/
// RandomStrategy (Python) into the idiom this repository's Go packages use
// elsewhere: an exported struct guarded by a single mutex, with a small
// Strategy interface for the rotation policy.
package proxyhealth

import (
	"bufio"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"strings"
	"sync"
)

const quarantineThreshold = 3
const latencyWindow = 10

// Strategy picks one proxy from the currently-available subset.
type Strategy interface {
	Next(available []string) string
}

// RoundRobinStrategy cycles through the available subset with a
// monotonically increasing index, taken modulo the available subset size
// at call time (so a shrinking/growing quarantine set does not panic or
// repeat unfairly).
type RoundRobinStrategy struct {
	mu    sync.Mutex
	index int
}

func NewRoundRobinStrategy() *RoundRobinStrategy { return &RoundRobinStrategy{} }

func (s *RoundRobinStrategy) Next(available []string) string {
	if len(available) == 0 {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p := available[s.index%len(available)]
	s.index++
	return p
}

// RandomStrategy picks uniformly at random from the available subset.
type RandomStrategy struct{}

func NewRandomStrategy() *RandomStrategy { return &RandomStrategy{} }

func (s *RandomStrategy) Next(available []string) string {
	if len(available) == 0 {
		return ""
	}
	return available[rand.Intn(len(available))]
}

// record is the per-proxy health state.
type record struct {
	consecutiveFailures int
	quarantined         bool
	latencies           []float64 // sliding window of the last 10 measurements, ms
}

// Manager tracks proxy health and hands out the next proxy per a rotation
// Strategy. All mutating access is serialized by mu, matching SPEC_FULL §5's
// "every mutating access... serialized by an appropriate lock" for shared
// proxy health state.
type Manager struct {
	mu       sync.Mutex
	proxies  []string
	records  map[string]*record
	strategy Strategy
	logger   *slog.Logger
}

// NewManager builds a Manager from a validated proxy list and strategy name
// ("round_robin" or "random" — anything else falls back to round_robin).
func NewManager(proxies []string, strategyName string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	valid := make([]string, 0, len(proxies))
	for _, p := range proxies {
		if validProxyURL(p) {
			valid = append(valid, p)
		}
	}
	if len(valid) < len(proxies) {
		logger.Warn("removed invalid proxies from pool", "removed", len(proxies)-len(valid))
	}

	var strategy Strategy
	if strategyName == "random" {
		strategy = NewRandomStrategy()
	} else {
		strategy = NewRoundRobinStrategy()
	}

	records := make(map[string]*record, len(valid))
	for _, p := range valid {
		records[p] = &record{}
	}

	return &Manager{
		proxies:  valid,
		records:  records,
		strategy: strategy,
		logger:   logger,
	}
}

// LoadFile reads a newline-delimited list of proxy URLs from path. A missing
// file yields an empty (not an error) list, matching the original source's
// "no proxies configured" default.
func LoadFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var proxies []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			proxies = append(proxies, line)
		}
	}
	return proxies, scanner.Err()
}

func validProxyURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Next returns one proxy per the configured strategy, drawn from the
// non-quarantined subset. If every proxy is quarantined, the quarantine set
// is cleared and the full list is used instead. Returns "" if the pool is
// empty.
func (m *Manager) Next() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.proxies) == 0 {
		return ""
	}

	available := m.availableLocked()
	if len(available) == 0 {
		m.logger.Warn("all proxies quarantined, resetting pool")
		for _, r := range m.records {
			r.quarantined = false
			r.consecutiveFailures = 0
		}
		available = append([]string(nil), m.proxies...)
	}

	return m.strategy.Next(available)
}

func (m *Manager) availableLocked() []string {
	available := make([]string, 0, len(m.proxies))
	for _, p := range m.proxies {
		if r := m.records[p]; r != nil && !r.quarantined {
			available = append(available, p)
		}
	}
	return available
}

// MarkBad increments the proxy's consecutive-failure count and quarantines
// it once that count reaches 3.
func (m *Manager) MarkBad(proxy string) {
	if proxy == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[proxy]
	if !ok {
		return
	}
	r.consecutiveFailures++
	if r.consecutiveFailures >= quarantineThreshold {
		r.quarantined = true
		m.logger.Error("marking proxy as bad", "proxy", proxy)
	}
}

// MarkGood clears a proxy's failure count and quarantine state.
func (m *Manager) MarkGood(proxy string) {
	if proxy == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[proxy]
	if !ok {
		return
	}
	r.consecutiveFailures = 0
	r.quarantined = false
}

// RecordLatency appends a navigation latency (ms) to the proxy's 10-slot
// sliding window; older entries fall off the front.
func (m *Manager) RecordLatency(proxy string, ms float64) {
	if proxy == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[proxy]
	if !ok {
		return
	}
	r.latencies = append(r.latencies, ms)
	if len(r.latencies) > latencyWindow {
		r.latencies = r.latencies[1:]
	}
}

// Quarantined reports whether proxy is currently quarantined (test/ops
// introspection).
func (m *Manager) Quarantined(proxy string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[proxy]
	return ok && r.quarantined
}

// Len returns the number of proxies loaded.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.proxies)
}
