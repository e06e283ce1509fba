package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
)

// DefaultProbeInterval 轮询间隔
const DefaultProbeInterval = 30 * time.Second

// DefaultMaxMisses 连续失败多少次视为断开
const DefaultMaxMisses = 3

// Endpoint 一个节点的访问地址
type Endpoint struct {
	Name     string
	BaseURL  string // 例如 http://127.0.0.1:2333
	Password string
}

// statsResponse 节点 /v4/stats 返回结构
type statsResponse struct {
	Players        int    `json:"players"`
	PlayingPlayers int    `json:"playingPlayers"`
	Uptime         int64  `json:"uptime"`
	Memory         Memory `json:"memory"`
	CPU            struct {
		Cores        int     `json:"cores"`
		SystemLoad   float64 `json:"systemLoad"`
		LavalinkLoad float64 `json:"lavalinkLoad"`
	} `json:"cpu"`
}

// Prober 通过 HTTP 轮询节点统计接口，把结果喂给 Monitor
type Prober struct {
	monitor   *Monitor
	client    *http.Client
	interval  time.Duration
	maxMisses int

	mu        sync.Mutex
	endpoints map[string]Endpoint
	misses    map[string]int
}

// NewProber 创建轮询器
func NewProber(monitor *Monitor, client *http.Client, interval time.Duration) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	return &Prober{
		monitor:   monitor,
		client:    client,
		interval:  interval,
		maxMisses: DefaultMaxMisses,
		endpoints: make(map[string]Endpoint),
		misses:    make(map[string]int),
	}
}

// SetEndpoints 替换节点列表：新节点登记到 Monitor，消失的节点被移除
func (p *Prober) SetEndpoints(eps []Endpoint) {
	next := make(map[string]Endpoint, len(eps))
	for _, ep := range eps {
		next[ep.Name] = ep
	}

	p.mu.Lock()
	var removed []string
	for name := range p.endpoints {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
			delete(p.misses, name)
		}
	}
	p.endpoints = next
	p.mu.Unlock()

	for _, name := range removed {
		p.monitor.Remove(name)
		logger.Info("节点已从列表移除", logger.String("node", name))
	}
	for _, ep := range eps {
		p.monitor.Register(ep.Name)
	}
}

// Run 按间隔轮询，直到 ctx 结束
func (p *Prober) Run(ctx context.Context) {
	p.ProbeAll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll 并发探测一轮全部节点
func (p *Prober) ProbeAll(ctx context.Context) {
	p.mu.Lock()
	eps := make([]Endpoint, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		eps = append(eps, ep)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, ep := range eps {
		wg.Add(1)
		go func(ep Endpoint) {
			defer wg.Done()
			p.probe(ctx, ep)
		}(ep)
	}
	wg.Wait()
}

func (p *Prober) probe(ctx context.Context, ep Endpoint) {
	start := time.Now()
	stats, err := p.fetch(ctx, ep)
	if err != nil {
		p.miss(ep.Name, err)
		return
	}

	p.mu.Lock()
	p.misses[ep.Name] = 0
	p.mu.Unlock()

	if rec, ok := p.monitor.Get(ep.Name); ok && rec.State != Connected {
		p.monitor.OnReady(ep.Name)
	}
	p.monitor.OnPing(ep.Name, time.Since(start))
	p.monitor.OnStats(ep.Name, stats)
}

func (p *Prober) miss(name string, err error) {
	p.mu.Lock()
	p.misses[name]++
	n := p.misses[name]
	p.mu.Unlock()

	logger.Warn("节点探测失败", logger.String("node", name), logger.Int("misses", n), logger.ErrorField(err))
	if n >= p.maxMisses {
		if rec, ok := p.monitor.Get(name); ok && rec.State != Disconnected {
			p.monitor.OnClose(name)
		}
		return
	}
	if rec, ok := p.monitor.Get(name); ok && rec.State == Connected {
		p.monitor.OnReconnecting(name)
	}
}

func (p *Prober) fetch(ctx context.Context, ep Endpoint) (Stats, error) {
	url := strings.TrimRight(ep.BaseURL, "/") + "/v4/stats"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("build request: %w", err)
	}
	if ep.Password != "" {
		req.Header.Set("Authorization", ep.Password)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Stats{}, fmt.Errorf("request stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Stats{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Stats{}, fmt.Errorf("decode stats: %w", err)
	}
	return Stats{
		Players:        body.Players,
		PlayingPlayers: body.PlayingPlayers,
		CPU:            body.CPU.SystemLoad,
		Memory:         body.Memory,
		Uptime:         time.Duration(body.Uptime) * time.Millisecond,
	}, nil
}

// Endpoint 按名字取节点地址
func (p *Prober) Endpoint(name string) (Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ep, ok := p.endpoints[name]
	return ep, ok
}
