package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/config"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/node"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/player"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

type stubHandle struct{}

func (stubHandle) Play(context.Context, *model.Track) error { return nil }
func (stubHandle) Stop(context.Context) error               { return nil }
func (stubHandle) Pause(context.Context, bool) error        { return nil }
func (stubHandle) Seek(context.Context, int64) error        { return nil }
func (stubHandle) SetVolume(context.Context, int) error     { return nil }
func (stubHandle) Destroy(context.Context) error            { return nil }

type stubConnector struct {
	nodes []string
}

func (c *stubConnector) CreatePlayer(_ context.Context, nodeName, _, _ string) (player.Handle, error) {
	c.nodes = append(c.nodes, nodeName)
	return stubHandle{}, nil
}

func TestBuildConnectorWithoutBackend(t *testing.T) {
	UseConnector(nil)
	conn, err := buildConnector(context.Background(), node.NewMonitor(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.CreatePlayer(context.Background(), "n1", "g", "v"); !errors.Is(err, errNoBackend) {
		t.Fatalf("err = %v", err)
	}
}

func TestUseConnector(t *testing.T) {
	defer UseConnector(nil)

	backend := &stubConnector{}
	var gotCtrl *player.Controller
	UseConnector(func(_ context.Context, _ *config.Config, _ *node.Monitor, ctrl *player.Controller) (player.Connector, error) {
		gotCtrl = ctrl
		return backend, nil
	})

	ctrl := player.NewController(player.Config{})
	late := &lateConnector{}
	if _, err := late.CreatePlayer(context.Background(), "n1", "g", "v"); !errors.Is(err, errNoBackend) {
		t.Fatalf("err = %v", err)
	}

	inner, err := buildConnector(context.Background(), node.NewMonitor(), ctrl)
	if err != nil {
		t.Fatal(err)
	}
	late.inner = inner
	if gotCtrl != ctrl {
		t.Fatal("factory should receive the controller")
	}
	if _, err := late.CreatePlayer(context.Background(), "n1", "g", "v"); err != nil {
		t.Fatal(err)
	}
	if len(backend.nodes) != 1 || backend.nodes[0] != "n1" {
		t.Fatalf("nodes = %v", backend.nodes)
	}
}

func TestUseConnectorError(t *testing.T) {
	defer UseConnector(nil)
	boom := errors.New("boom")
	UseConnector(func(context.Context, *config.Config, *node.Monitor, *player.Controller) (player.Connector, error) {
		return nil, boom
	})
	if _, err := buildConnector(context.Background(), node.NewMonitor(), nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}
