package proxyhealth

import "testing"

func TestQuarantineRotation(t *testing.T) {
	// Scenario 5: proxies [P1,P2], round_robin. Three consecutive failures
	// of P1 -> the 4th Next() returns P2 and every further call returns P2
	// until P2 also accumulates 3 failures, after which the pool resets.
	m := NewManager([]string{"http://p1:8080", "http://p2:8080"}, "round_robin", nil)

	p1, p2 := "http://p1:8080", "http://p2:8080"

	for i := 0; i < 3; i++ {
		m.MarkBad(p1)
	}
	if !m.Quarantined(p1) {
		t.Fatal("p1 should be quarantined after 3 consecutive failures")
	}

	for i := 0; i < 5; i++ {
		if got := m.Next(); got != p2 {
			t.Fatalf("Next() = %q, want %q (p1 quarantined)", got, p2)
		}
	}

	for i := 0; i < 3; i++ {
		m.MarkBad(p2)
	}
	if !m.Quarantined(p2) {
		t.Fatal("p2 should be quarantined after 3 consecutive failures")
	}

	// Both quarantined now -> pool resets and p1 is selectable again.
	got := m.Next()
	if got != p1 && got != p2 {
		t.Fatalf("Next() after full quarantine = %q, want one of p1/p2", got)
	}
	if m.Quarantined(p1) || m.Quarantined(p2) {
		t.Error("quarantine set should be cleared once every proxy is quarantined")
	}
}

func TestMarkGoodClearsQuarantine(t *testing.T) {
	m := NewManager([]string{"http://p1:8080"}, "round_robin", nil)
	for i := 0; i < 3; i++ {
		m.MarkBad("http://p1:8080")
	}
	if !m.Quarantined("http://p1:8080") {
		t.Fatal("expected quarantine")
	}
	m.MarkGood("http://p1:8080")
	if m.Quarantined("http://p1:8080") {
		t.Error("MarkGood should clear quarantine")
	}
}

func TestEmptyPoolReturnsEmptyString(t *testing.T) {
	m := NewManager(nil, "round_robin", nil)
	if got := m.Next(); got != "" {
		t.Errorf("Next() on empty pool = %q, want empty", got)
	}
}

func TestInvalidProxiesDiscarded(t *testing.T) {
	m := NewManager([]string{"not-a-url", "ftp://bad", "http://good:8080"}, "round_robin", nil)
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (only the valid http(s) proxy kept)", m.Len())
	}
}

func TestRecordLatencySlidingWindow(t *testing.T) {
	m := NewManager([]string{"http://p1:8080"}, "round_robin", nil)
	for i := 0; i < 15; i++ {
		m.RecordLatency("http://p1:8080", float64(i))
	}
	r := m.records["http://p1:8080"]
	if len(r.latencies) != latencyWindow {
		t.Errorf("latencies len = %d, want %d", len(r.latencies), latencyWindow)
	}
	if r.latencies[0] != 5 {
		t.Errorf("oldest retained latency = %v, want 5 (entries 0-4 should have fallen off)", r.latencies[0])
	}
}

func TestRoundRobinOrder(t *testing.T) {
	s := NewRoundRobinStrategy()
	available := []string{"a", "b", "c"}
	want := []string{"a", "b", "c", "a", "b"}
	for i, w := range want {
		if got := s.Next(available); got != w {
			t.Errorf("call %d: Next() = %q, want %q", i, got, w)
		}
	}
}
