package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/config"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/node"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

func TestEndpoints(t *testing.T) {
	eps := endpoints([]config.NodeConfig{
		{Name: "a", Host: "10.0.0.1", Port: 2333, Password: "pw"},
		{Name: "b", Host: "lava.example", Port: 443, Secure: true},
	})
	if len(eps) != 2 {
		t.Fatalf("len = %d", len(eps))
	}
	if eps[0] != (node.Endpoint{Name: "a", BaseURL: "http://10.0.0.1:2333", Password: "pw"}) {
		t.Fatalf("eps[0] = %+v", eps[0])
	}
	if eps[1].BaseURL != "https://lava.example:443" {
		t.Fatalf("eps[1] = %+v", eps[1])
	}
}

func TestPrintNodes(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	printNodes(&buf, []model.NodeStatus{
		{Name: "main", State: node.Connected.String(), Players: 4, PlayingPlayers: 2, CPU: 0.25, MemoryUsed: 512 * 1024 * 1024, PingMs: 12, Score: 37.5},
		{Name: "backup", State: node.Disconnected.String()},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("output:\n%s", buf.String())
	}
	for _, want := range []string{"main", "CONNECTED", "2/4", "25.0%", "512MB", "12ms", "37.5"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row %q missing %q", lines[1], want)
		}
	}
	if !strings.Contains(lines[2], "DISCONNECTED") {
		t.Errorf("row %q", lines[2])
	}
}
