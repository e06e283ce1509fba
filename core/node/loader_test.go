package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"never gonna give you up", "ytsearch:never gonna give you up"},
		{"https://youtu.be/dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ"},
		{"scsearch:lofi", "scsearch:lofi"},
		{"what is search: a song", "ytsearch:what is search: a song"},
		{"ftp://host/file", "ytsearch:ftp://host/file"},
	}
	for _, tt := range tests {
		if got := identifier(tt.in, DefaultSearchPrefix); got != tt.want {
			t.Errorf("identifier(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		kind     model.SearchKind
		count    int
		playlist string
	}{
		{"track", `{"loadType":"track","data":{"encoded":"e1","info":{"title":"A","uri":"u1","length":1000}}}`, model.SearchKindTrack, 1, ""},
		{"playlist", `{"loadType":"playlist","data":{"info":{"name":"Mix"},"tracks":[{"encoded":"e1","info":{"title":"A"}},{"encoded":"e2","info":{"title":"B"}}]}}`, model.SearchKindPlaylist, 2, "Mix"},
		{"search", `{"loadType":"search","data":[{"encoded":"e1","info":{"title":"A"}}]}`, model.SearchKindSearch, 1, ""},
		{"empty search", `{"loadType":"search","data":[]}`, model.SearchKindEmpty, 0, ""},
		{"empty", `{"loadType":"empty","data":{}}`, model.SearchKindEmpty, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body loadResult
			if err := json.Unmarshal([]byte(tt.body), &body); err != nil {
				t.Fatal(err)
			}
			res, err := convert(body)
			if err != nil {
				t.Fatal(err)
			}
			if res.Kind != tt.kind || len(res.Tracks) != tt.count || res.PlaylistName != tt.playlist {
				t.Fatalf("res = %+v", res)
			}
		})
	}

	var body loadResult
	_ = json.Unmarshal([]byte(`{"loadType":"error","data":{"message":"blocked","severity":"common"}}`), &body)
	if _, err := convert(body); !errors.Is(err, ErrLoadFailed) {
		t.Fatalf("err = %v", err)
	}
}

func TestLoaderSearch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v4/loadtracks" || r.Header.Get("Authorization") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("identifier") != "ytsearch:lofi" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"loadType":"search","data":[{"encoded":"e1","info":{"title":"Lofi","uri":"https://x/1","length":60000,"artworkUrl":"https://x/a.jpg"}}]}`))
	}))
	defer srv.Close()

	m, _ := newTestMonitor()
	p := NewProber(m, srv.Client(), time.Second)
	p.SetEndpoints([]Endpoint{{Name: "main", BaseURL: srv.URL, Password: "pw"}})
	m.OnReady("main")

	l := NewLoader(m, p, nil)
	res, err := l.Search(context.Background(), " lofi ", model.Requester{ID: "u1", Name: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Kind != model.SearchKindSearch || len(res.Tracks) != 1 {
		t.Fatalf("res = %+v", res)
	}
	tr := res.Tracks[0]
	if tr.Encoded != "e1" || tr.DurationMs != 60000 || tr.Thumbnail != "https://x/a.jpg" || tr.Requester.ID != "u1" {
		t.Fatalf("track = %+v", tr)
	}
}

func TestLoaderFailurePenalizesNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m, _ := newTestMonitor()
	p := NewProber(m, srv.Client(), time.Second)
	p.SetEndpoints([]Endpoint{{Name: "main", BaseURL: srv.URL}})
	m.OnReady("main")

	l := NewLoader(m, p, nil)
	if _, err := l.Search(context.Background(), "x", model.Requester{}); err == nil {
		t.Fatal("expected error")
	}
	rec, _ := m.Get("main")
	if rec.Failures != 1 {
		t.Fatalf("failures = %d", rec.Failures)
	}

	res, err := l.Search(context.Background(), "   ", model.Requester{})
	if err != nil || res.Kind != model.SearchKindEmpty {
		t.Fatalf("res = %+v err = %v", res, err)
	}
}

func TestLoaderNoNodes(t *testing.T) {
	m, _ := newTestMonitor()
	l := NewLoader(m, NewProber(m, nil, 0), nil)
	if _, err := l.Search(context.Background(), "x", model.Requester{}); !errors.Is(err, ErrNoNodesAvailable) {
		t.Fatalf("err = %v", err)
	}
}
