package dashboard

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

func recv(t *testing.T, c *Client) WSMessage {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("send channel closed")
		}
		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatal(err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return WSMessage{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected message %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubRoutesByGuild(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	defer hub.Stop()

	a := NewClient(hub, nil, "a")
	a.Subscribe("g1")
	all := NewClient(hub, nil, "all")
	all.Subscribe(AllGuilds)
	hub.Register(a)
	hub.Register(all)

	hub.GuildStateChanged(&model.GuildState{GuildID: "g2", Loop: "off"})
	msg := recv(t, all)
	if msg.Type != MsgTypeState || msg.GuildID != "g2" || msg.ID == "" {
		t.Fatalf("msg = %+v", msg)
	}
	expectNothing(t, a)

	hub.GuildDestroyed("g1", "voice channel empty")
	for _, c := range []*Client{a, all} {
		msg := recv(t, c)
		var d DestroyedData
		_ = json.Unmarshal(msg.Data, &d)
		if msg.Type != MsgTypeSessionDestroyed || d.Reason != "voice channel empty" {
			t.Fatalf("msg = %+v", msg)
		}
	}

	hub.NodeChanged(model.NodeStatus{Name: "n1", State: "CONNECTED"})
	if msg := recv(t, a); msg.Type != MsgTypeNodeUpdate {
		t.Fatalf("msg = %+v", msg)
	}
	recv(t, all)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub()
	go hub.Run()

	c := NewClient(hub, nil, "x")
	hub.Register(c)
	if hub.ClientCount() != 1 {
		t.Fatalf("count = %d", hub.ClientCount())
	}
	hub.Unregister(c)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("send channel not closed")
	}

	hub.Stop()
	hub.Stop()
	// Hub 停止后注册不能阻塞
	hub.Register(NewClient(hub, nil, "late"))
}

func TestUnsubscribe(t *testing.T) {
	c := NewClient(nil, nil, "x")
	c.Subscribe("g")
	if !c.Wants("g") || !c.Wants("") || c.Wants("other") {
		t.Fatal("unexpected subscription state")
	}
	c.Unsubscribe("g")
	if c.Wants("g") {
		t.Fatal("still subscribed")
	}
}
