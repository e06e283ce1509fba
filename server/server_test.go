package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/auth"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/dashboard"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/node"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/session"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

type fakeSessions struct {
	states map[string]*model.GuildState
}

func (f *fakeSessions) Guilds() []string {
	out := make([]string, 0, len(f.states))
	for id := range f.states {
		out = append(out, id)
	}
	return out
}

func (f *fakeSessions) Snapshot(guildID string) (*model.GuildState, error) {
	if s, ok := f.states[guildID]; ok {
		return s, nil
	}
	return nil, session.ErrNoActiveSession
}

type fakeNodes []node.Record

func (f fakeNodes) Snapshot() []node.Record { return f }

type fakeCache struct {
	states map[string]*model.GuildState
}

func (f *fakeCache) GetState(_ context.Context, guildID string) (*model.GuildState, error) {
	return f.states[guildID], nil
}

func (f *fakeCache) ActiveGuilds(context.Context) ([]string, error) {
	out := make([]string, 0, len(f.states))
	for id := range f.states {
		out = append(out, id)
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *auth.Issuer) {
	t.Helper()
	hash, err := auth.HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	iss := auth.NewIssuer("secret", time.Hour)
	s := New(Options{
		Username:     "admin",
		PasswordHash: hash,
		Issuer:       iss,
		Sessions: &fakeSessions{states: map[string]*model.GuildState{
			"live": {GuildID: "live", Loop: "queue", Volume: 80},
		}},
		Nodes: fakeNodes{{Name: "n1", State: node.Connected, Ping: 15 * time.Millisecond}},
		Cache: &fakeCache{states: map[string]*model.GuildState{
			"cached": {GuildID: "cached", Loop: "off"},
		}},
		Hub: dashboard.NewHub(),
	})
	return s, iss
}

func authed(t *testing.T, iss *auth.Issuer, method, path string) *http.Request {
	t.Helper()
	tok, err := iss.GenerateToken("admin")
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	return req
}

func TestLogin(t *testing.T) {
	s, iss := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"ok", `{"username":"admin","password":"pw"}`, http.StatusOK},
		{"wrong password", `{"username":"admin","password":"nope"}`, http.StatusUnauthorized},
		{"wrong user", `{"username":"root","password":"pw"}`, http.StatusUnauthorized},
		{"missing fields", `{"username":"admin"}`, http.StatusBadRequest},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tt.body))
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			var resp LoginResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if _, err := iss.ParseToken(resp.Token); err != nil {
				t.Fatalf("token invalid: %v", err)
			}
		})
	}
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	s := New(Options{Username: "admin", Issuer: auth.NewIssuer("k", 0), Hub: dashboard.NewHub()})
	rec := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"username":"admin","password":""}`)
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	body = bytes.NewBufferString(`{"username":"admin","password":"x"}`)
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", body))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	s, _ := newTestServer(t)
	for _, header := range []string{"", "Token abc", "Bearer garbage"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/nodes", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		s.Handler().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("header %q: status = %d", header, rec.Code)
		}
	}
}

func TestNodesHandler(t *testing.T) {
	s, iss := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, authed(t, iss, http.MethodGet, "/api/nodes"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var nodes []model.NodeStatus
	if err := json.NewDecoder(rec.Body).Decode(&nodes); err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].State != "CONNECTED" || nodes[0].PingMs != 15 {
		t.Fatalf("nodes = %+v", nodes)
	}
}

func TestGuildState(t *testing.T) {
	s, iss := newTestServer(t)
	tests := []struct {
		guild string
		want  int
		loop  string
	}{
		{"live", http.StatusOK, "queue"},
		{"cached", http.StatusOK, "off"},
		{"missing", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, authed(t, iss, http.MethodGet, "/api/guilds/"+tt.guild+"/state"))
		if rec.Code != tt.want {
			t.Fatalf("%s: status = %d", tt.guild, rec.Code)
		}
		if tt.want != http.StatusOK {
			continue
		}
		var state model.GuildState
		if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
			t.Fatal(err)
		}
		if state.GuildID != tt.guild || state.Loop != tt.loop {
			t.Fatalf("state = %+v", state)
		}
	}
}

func TestGuildsMergesCache(t *testing.T) {
	s, iss := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, authed(t, iss, http.MethodGet, "/api/guilds"))
	var resp struct {
		Guilds []string `json:"guilds"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Guilds) != 2 || resp.Guilds[0] != "cached" || resp.Guilds[1] != "live" {
		t.Fatalf("guilds = %v", resp.Guilds)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/nodes", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("status = %d headers = %v", rec.Code, rec.Header())
	}
}

func TestWebSocketReceivesState(t *testing.T) {
	s, iss := newTestServer(t)
	go s.opts.Hub.Run()
	defer s.opts.Hub.Stop()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatal("expected dial without token to fail")
	} else if resp != nil && resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	tok, _ := iss.GenerateToken("admin")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+tok+"&guildId=g1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for s.opts.Hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	s.opts.Hub.GuildStateChanged(&model.GuildState{GuildID: "g1", Loop: "track"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg dashboard.WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != dashboard.MsgTypeState || msg.GuildID != "g1" {
		t.Fatalf("msg = %+v", msg)
	}
}
