package node

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestMonitor() (*Monitor, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1700000000, 0)}
	return NewMonitor(WithClock(clk.Now)), clk
}

func mustSelect(t *testing.T, m *Monitor) string {
	t.Helper()
	name, err := m.Select()
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	return name
}

func TestSelectRequiresConnectedNode(t *testing.T) {
	m, _ := newTestMonitor()
	if _, err := m.Select(); !errors.Is(err, ErrNoNodesAvailable) {
		t.Fatalf("err = %v", err)
	}

	m.Register("a")
	if _, err := m.Select(); !errors.Is(err, ErrNoNodesAvailable) {
		t.Fatalf("connecting node must not be selected, err = %v", err)
	}

	m.OnReady("a")
	if got := mustSelect(t, m); got != "a" {
		t.Fatalf("got %s", got)
	}

	m.OnReconnecting("a")
	if _, err := m.Select(); !errors.Is(err, ErrNoNodesAvailable) {
		t.Fatalf("reconnecting node must not be selected, err = %v", err)
	}
}

func TestSelectPrefersLowerLoad(t *testing.T) {
	m, _ := newTestMonitor()
	for _, n := range []string{"a", "b"} {
		m.Register(n)
		m.OnReady(n)
	}
	if got := mustSelect(t, m); got != "a" {
		t.Fatalf("tie should resolve by name, got %s", got)
	}

	m.OnStats("a", Stats{PlayingPlayers: 5})
	m.OnStats("b", Stats{PlayingPlayers: 1})
	if got := mustSelect(t, m); got != "b" {
		t.Fatalf("got %s, want b", got)
	}

	m.OnStats("b", Stats{PlayingPlayers: 1, CPU: 0.5})
	if got := mustSelect(t, m); got != "a" {
		t.Fatalf("cpu pressure should push selection to a, got %s", got)
	}
}

func TestFailurePenaltyDecays(t *testing.T) {
	m, clk := newTestMonitor()
	for _, n := range []string{"a", "b"} {
		m.Register(n)
		m.OnReady(n)
	}
	m.OnStats("a", Stats{PlayingPlayers: 5})
	m.OnStats("b", Stats{PlayingPlayers: 1})

	m.RecordFailure("b", TrackLoad)
	if got := mustSelect(t, m); got != "a" {
		t.Fatalf("fresh penalty should deprioritize b, got %s", got)
	}

	clk.Advance(45 * time.Second)
	if got := mustSelect(t, m); got != "a" {
		t.Fatalf("penalty still partly active, got %s", got)
	}

	clk.Advance(20 * time.Second)
	if got := mustSelect(t, m); got != "b" {
		t.Fatalf("penalty expired, got %s", got)
	}

	rec, _ := m.Get("b")
	if rec.Failures != 0 {
		t.Fatalf("failures = %d", rec.Failures)
	}
	m.OnStats("b", Stats{PlayingPlayers: 1})
	m.mu.RLock()
	left := len(m.nodes["b"].penalties)
	m.mu.RUnlock()
	if left != 0 {
		t.Fatalf("heartbeat should prune expired penalties, %d left", left)
	}
}

func TestCloseNotifiesListeners(t *testing.T) {
	m, _ := newTestMonitor()
	m.Register("a")

	var got []State
	m.Subscribe(func(prev State, rec Record) {
		got = append(got, rec.State)
	})

	m.OnReady("a")
	m.OnReady("a")
	m.OnClose("a")
	m.OnReady("ghost")

	if len(got) != 2 || got[0] != Connected || got[1] != Disconnected {
		t.Fatalf("transitions = %v", got)
	}
	rec, _ := m.Get("a")
	if rec.Failures != 1 {
		t.Fatalf("close should record a failure, got %d", rec.Failures)
	}
}

func TestSnapshotSortedAndStatus(t *testing.T) {
	m, _ := newTestMonitor()
	for _, n := range []string{"c", "a", "b"} {
		m.Register(n)
	}
	m.OnReady("a")
	m.OnPing("a", 30*time.Millisecond)

	snap := m.Snapshot()
	if len(snap) != 3 || snap[0].Name != "a" || snap[1].Name != "b" || snap[2].Name != "c" {
		t.Fatalf("snapshot = %+v", snap)
	}
	st := snap[0].Status()
	if st.State != "CONNECTED" || st.PingMs != 30 || st.Score != 3 {
		t.Fatalf("status = %+v", st)
	}
	if snap[1].Status().PingMs != -1 {
		t.Fatal("unmeasured ping should be -1")
	}

	m.Remove("b")
	if len(m.Snapshot()) != 2 {
		t.Fatal("remove did not drop the node")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Connecting:   "CONNECTING",
		Connected:    "CONNECTED",
		Reconnecting: "RECONNECTING",
		Disconnected: "DISCONNECTED",
		State(42):    "UNKNOWN",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("%d: got %s, want %s", s, s.String(), want)
		}
	}
}

func TestProberFeedsMonitor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/stats" || r.Header.Get("Authorization") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"players":3,"playingPlayers":2,"uptime":1000,
			"memory":{"used":50,"free":50,"allocated":100,"reservable":100},
			"cpu":{"cores":4,"systemLoad":0.1,"lavalinkLoad":0.05}}`))
	}))
	defer srv.Close()

	m, _ := newTestMonitor()
	p := NewProber(m, srv.Client(), time.Second)
	p.SetEndpoints([]Endpoint{{Name: "main", BaseURL: srv.URL + "/", Password: "secret"}})
	p.ProbeAll(context.Background())

	rec, ok := m.Get("main")
	if !ok || rec.State != Connected {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Stats.PlayingPlayers != 2 || rec.Stats.Memory.Reservable != 100 || rec.Stats.Uptime != time.Second {
		t.Fatalf("stats = %+v", rec.Stats)
	}
	if rec.Ping < 0 {
		t.Fatal("ping should be measured")
	}
}

func TestProberMarksUnreachableNodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, _ := newTestMonitor()
	p := NewProber(m, srv.Client(), time.Second)
	p.SetEndpoints([]Endpoint{{Name: "main", BaseURL: srv.URL}})
	m.OnReady("main")

	p.ProbeAll(context.Background())
	if rec, _ := m.Get("main"); rec.State != Reconnecting {
		t.Fatalf("state after one miss = %s", rec.State)
	}
	for i := 0; i < DefaultMaxMisses-1; i++ {
		p.ProbeAll(context.Background())
	}
	if rec, _ := m.Get("main"); rec.State != Disconnected {
		t.Fatalf("state after %d misses = %s", DefaultMaxMisses, rec.State)
	}

	p.SetEndpoints(nil)
	if _, ok := m.Get("main"); ok {
		t.Fatal("node should be removed with its endpoint")
	}
}
