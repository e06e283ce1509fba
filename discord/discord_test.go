package discord

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/permission"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/player"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/queue"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/session"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		content, prefix string
		name            string
		args            []string
		ok              bool
	}{
		{"!play never gonna", "!", "play", []string{"never", "gonna"}, true},
		{"!PLAY x", "!", "play", []string{"x"}, true},
		{"?? skip", "??", "skip", []string{}, true},
		{"play x", "!", "", nil, false},
		{"!", "!", "", nil, false},
		{"!   ", "!", "", nil, false},
	}
	for _, tt := range tests {
		name, args, ok := parseCommand(tt.content, tt.prefix)
		if ok != tt.ok || name != tt.name {
			t.Fatalf("parseCommand(%q) = %q %v %v", tt.content, name, args, ok)
		}
		if ok && len(args) != len(tt.args) {
			t.Fatalf("args = %v, want %v", args, tt.args)
		}
	}
}

func TestParsePosition(t *testing.T) {
	if i, err := parsePosition("1"); err != nil || i != 0 {
		t.Fatalf("got %d %v", i, err)
	}
	if _, err := parsePosition("0"); !errors.Is(err, queue.ErrInvalidIndex) {
		t.Fatalf("err = %v", err)
	}
	if _, err := parsePosition("abc"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := map[string]int64{
		"90":      90000,
		"1:30":    90000,
		"1:02:03": 3723000,
		"0:00":    0,
	}
	for in, want := range tests {
		got, err := parseTimestamp(in)
		if err != nil || got != want {
			t.Errorf("parseTimestamp(%q) = %d, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "1:60", "a:10", "-5", "1:2:3:4"} {
		if _, err := parseTimestamp(bad); err == nil {
			t.Errorf("parseTimestamp(%q) expected error", bad)
		}
	}
}

func TestMentionID(t *testing.T) {
	for in, want := range map[string]string{
		"<@123>":  "123",
		"<@!123>": "123",
		"<@&456>": "456",
		"789":     "789",
	} {
		if got := mentionID(in); got != want {
			t.Errorf("mentionID(%q) = %q", in, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	for ms, want := range map[int64]string{
		0:       "LIVE",
		5000:    "0:05",
		65000:   "1:05",
		3725000: "1:02:05",
	} {
		if got := formatDuration(ms); got != want {
			t.Errorf("formatDuration(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestActorFrom(t *testing.T) {
	member := &discordgo.Member{Roles: []string{"r1", "r2"}}
	a := actorFrom("u1", member, discordgo.PermissionManageGuild)
	if a.UserID != "u1" || a.IsAdmin || !a.CanManage || !reflect.DeepEqual(a.RoleIDs, []string{"r1", "r2"}) {
		t.Fatalf("actor = %+v", a)
	}
	a = actorFrom("u2", nil, discordgo.PermissionAdministrator)
	if !a.IsAdmin || a.CanManage || a.RoleIDs != nil {
		t.Fatalf("actor = %+v", a)
	}
}

func TestListenersIn(t *testing.T) {
	states := []*discordgo.VoiceState{
		{UserID: "bot", ChannelID: "vc"},
		{UserID: "alice", ChannelID: "vc"},
		{UserID: "otherbot", ChannelID: "vc"},
		{UserID: "bob", ChannelID: "other"},
	}
	got := listenersIn(states, "vc", "bot", func(vs *discordgo.VoiceState) bool { return vs.UserID == "otherbot" })
	if !reflect.DeepEqual(got, []string{"alice"}) {
		t.Fatalf("listeners = %v", got)
	}
}

func TestTouchesChannel(t *testing.T) {
	join := &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{ChannelID: "vc"}}
	leave := &discordgo.VoiceStateUpdate{
		VoiceState:   &discordgo.VoiceState{ChannelID: ""},
		BeforeUpdate: &discordgo.VoiceState{ChannelID: "vc"},
	}
	elsewhere := &discordgo.VoiceStateUpdate{VoiceState: &discordgo.VoiceState{ChannelID: "x"}}
	if !touchesChannel(join, "vc") || !touchesChannel(leave, "vc") || touchesChannel(elsewhere, "vc") || touchesChannel(join, "") {
		t.Fatal("unexpected touchesChannel result")
	}
}

func TestRenderEvent(t *testing.T) {
	e := renderEvent(player.Event{Kind: player.EventNowPlaying, Track: &model.Track{
		Title: "Song", URI: "https://x/1", DurationMs: 61000, Thumbnail: "https://x/t.jpg",
		Requester: model.Requester{Name: "alice"},
	}})
	if e.Description != "[Song](https://x/1)" || e.Thumbnail == nil || len(e.Fields) != 3 || e.Fields[1].Value != "1:01" {
		t.Fatalf("embed = %+v", e)
	}
	e = renderEvent(player.Event{Kind: player.EventNodeChanged, Node: "n2"})
	if !strings.Contains(e.Description, "n2") {
		t.Fatalf("embed = %+v", e)
	}
	e = renderEvent(player.Event{Kind: player.EventSessionEnd, Reason: "voice channel empty"})
	if e.Description != "voice channel empty" {
		t.Fatalf("embed = %+v", e)
	}
}

func TestErrorMessage(t *testing.T) {
	denied := fmt.Errorf("%w: need admin or DJ", permission.ErrPermissionDenied)
	if got := errorMessage(denied); got != "You can't do that: need admin or DJ." {
		t.Fatalf("got %q", got)
	}
	wrapped := fmt.Errorf("resolve: %w", queue.ErrNotFound)
	if got := errorMessage(wrapped); got != "Nothing matched." {
		t.Fatalf("got %q", got)
	}
	if got := errorMessage(session.ErrNoActiveSession); !strings.Contains(got, "Nothing is playing") {
		t.Fatalf("got %q", got)
	}
	if got := errorMessage(errors.New("boom")); got != "Something went wrong." {
		t.Fatalf("got %q", got)
	}
}

func TestDescribeDJ(t *testing.T) {
	if got := describeDJ(nil); got != "DJ mode is **off**." {
		t.Fatalf("got %q", got)
	}
	got := describeDJ(&model.DJSettings{Enabled: true, RoleID: "r", UserIDs: model.IDList{"a", "b"}})
	if got != "DJ mode is **on**. Role: <@&r>. Users: <@a>, <@b>." {
		t.Fatalf("got %q", got)
	}
}

func TestLimiterSet(t *testing.T) {
	l := newLimiterSet(0.001, 2)
	if !l.Allow("u") || !l.Allow("u") {
		t.Fatal("burst should be allowed")
	}
	if l.Allow("u") {
		t.Fatal("third call should be limited")
	}
	if !l.Allow("other") {
		t.Fatal("limits are per user")
	}
	unlimited := newLimiterSet(0, 0)
	for i := 0; i < 100; i++ {
		if !unlimited.Allow("u") {
			t.Fatal("zero rate means unlimited")
		}
	}
}

func TestRouterRegistersAliases(t *testing.T) {
	r := NewRouter(RouterConfig{})
	for _, name := range []string{"play", "p", "q", "np", "rm", "mv", "fair", "dj", "prefix", "nodes", "help"} {
		if _, ok := r.commands[name]; !ok {
			t.Errorf("command %q not registered", name)
		}
	}
	if r.cfg.DefaultPrefix != "!" {
		t.Fatalf("prefix = %q", r.cfg.DefaultPrefix)
	}
	reply, err := r.commands["help"].run(context.Background(), player.Caller{}, nil)
	if err != nil || !strings.Contains(reply, "play <query|url>") {
		t.Fatalf("help = %q %v", reply, err)
	}
}
