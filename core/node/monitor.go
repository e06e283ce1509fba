// Package node 汇总音频后端节点的健康状况，并为新会话挑选节点。
//
// Monitor 只负责聚合与排序：连接本身由后端连接器维护，会话迁移由播放层完成。
package node

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// DefaultPenaltyWindow 失败惩罚的衰减窗口
const DefaultPenaltyWindow = 60 * time.Second

// ErrNoNodesAvailable 没有处于已连接状态的节点
var ErrNoNodesAvailable = errors.New("node: no nodes available")

// State 节点连接状态
type State int

const (
	Connecting State = iota
	Connected
	Reconnecting
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	case Disconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// FailureKind 失败类型，不同类型惩罚权重不同
type FailureKind int

const (
	TrackLoad FailureKind = iota
	TrackStuck
	Disconnect
)

func (k FailureKind) String() string {
	switch k {
	case TrackLoad:
		return "track_load"
	case TrackStuck:
		return "track_stuck"
	case Disconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

func (k FailureKind) weight() float64 {
	switch k {
	case TrackLoad:
		return 20
	case TrackStuck:
		return 30
	case Disconnect:
		return 100
	default:
		return 10
	}
}

// Memory 节点内存（字节）
type Memory struct {
	Used       int64 `json:"used"`
	Free       int64 `json:"free"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

// Stats 节点心跳上报的负载信息
type Stats struct {
	Players        int
	PlayingPlayers int
	CPU            float64 // 系统负载，0~1
	Memory         Memory
	Uptime         time.Duration
}

// Record 节点的只读视图
type Record struct {
	Name     string
	State    State
	Stats    Stats
	Ping     time.Duration // -1 表示还没测过
	Score    float64
	Failures int // 窗口内仍在生效的失败次数
}

// Status 转换为面板/CLI 展示结构
func (r Record) Status() model.NodeStatus {
	ping := int64(-1)
	if r.Ping >= 0 {
		ping = r.Ping.Milliseconds()
	}
	return model.NodeStatus{
		Name:           r.Name,
		State:          r.State.String(),
		Players:        r.Stats.Players,
		PlayingPlayers: r.Stats.PlayingPlayers,
		CPU:            r.Stats.CPU,
		MemoryUsed:     r.Stats.Memory.Used,
		MemoryFree:     r.Stats.Memory.Free,
		UptimeMs:       r.Stats.Uptime.Milliseconds(),
		PingMs:         ping,
		Score:          r.Score,
	}
}

type penalty struct {
	weight float64
	at     time.Time
}

type nodeEntry struct {
	name      string
	state     State
	stats     Stats
	ping      time.Duration
	penalties []penalty
}

// Listener 节点状态变化回调，在锁外调用
type Listener func(prev State, rec Record)

// Monitor 节点健康监视器
type Monitor struct {
	mu        sync.RWMutex
	nodes     map[string]*nodeEntry
	listeners []Listener

	window time.Duration
	now    func() time.Time
}

// Option 构造选项
type Option func(*Monitor)

// WithClock 注入时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithPenaltyWindow 自定义惩罚衰减窗口
func WithPenaltyWindow(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.window = d
		}
	}
}

// NewMonitor 创建监视器
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		nodes:  make(map[string]*nodeEntry),
		window: DefaultPenaltyWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe 注册状态变化回调
func (m *Monitor) Subscribe(l Listener) {
	m.mu.Lock()
	m.listeners = append(m.listeners, l)
	m.mu.Unlock()
}

// Register 登记节点，初始状态为 CONNECTING；已存在则不变
func (m *Monitor) Register(name string) {
	m.mu.Lock()
	if _, ok := m.nodes[name]; ok {
		m.mu.Unlock()
		return
	}
	m.nodes[name] = &nodeEntry{name: name, state: Connecting, ping: -1}
	m.mu.Unlock()
	logger.Info("节点已登记", logger.String("node", name))
}

// Remove 移除节点
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.nodes, name)
	m.mu.Unlock()
}

// Names 已登记的节点名（排序）
func (m *Monitor) Names() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.nodes))
	for name := range m.nodes {
		names = append(names, name)
	}
	m.mu.RUnlock()
	sort.Strings(names)
	return names
}

// ========== 连接器回调 ==========

// OnReady 节点连接成功
func (m *Monitor) OnReady(name string) {
	m.transition(name, Connected)
}

// OnReconnecting 节点断开后正在重连
func (m *Monitor) OnReconnecting(name string) {
	m.transition(name, Reconnecting)
}

// OnClose 节点彻底断开，同时记一次断线惩罚
func (m *Monitor) OnClose(name string) {
	m.RecordFailure(name, Disconnect)
	m.transition(name, Disconnected)
}

// OnError 连接器报告错误，按断线计入惩罚但不改变状态
func (m *Monitor) OnError(name string, err error) {
	logger.Warn("节点报告错误", logger.String("node", name), logger.ErrorField(err))
	m.RecordFailure(name, Disconnect)
}

// OnStats 心跳统计；同时清理已过期的惩罚
func (m *Monitor) OnStats(name string, stats Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[name]
	if !ok {
		return
	}
	n.stats = stats
	m.prune(n, m.now())
}

// OnPing 记录延迟
func (m *Monitor) OnPing(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[name]; ok {
		n.ping = d
	}
}

func (m *Monitor) transition(name string, to State) {
	m.mu.Lock()
	n, ok := m.nodes[name]
	if !ok {
		m.mu.Unlock()
		logger.Debug("忽略未登记节点的事件", logger.String("node", name), logger.String("state", to.String()))
		return
	}
	prev := n.state
	n.state = to
	rec := m.record(n, m.now())
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	if prev == to {
		return
	}
	logger.Info("节点状态变化",
		logger.String("node", name),
		logger.String("from", prev.String()),
		logger.String("to", to.String()))
	for _, l := range listeners {
		l(prev, rec)
	}
}

// ========== 评分与选择 ==========

// RecordFailure 给节点记一次失败惩罚，惩罚在窗口内线性衰减到 0
func (m *Monitor) RecordFailure(name string, kind FailureKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.nodes[name]
	if !ok {
		return
	}
	n.penalties = append(n.penalties, penalty{weight: kind.weight(), at: m.now()})
	logger.Debug("记录节点失败", logger.String("node", name), logger.String("kind", kind.String()))
}

// Select 在已连接节点中选出分数最低的；分数相同按名字排序
func (m *Monitor) Select() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	best := ""
	bestScore := math.Inf(1)
	for _, n := range m.nodes {
		if n.state != Connected {
			continue
		}
		s := m.score(n, now)
		if s < bestScore || (s == bestScore && n.name < best) {
			best, bestScore = n.name, s
		}
	}
	if best == "" {
		return "", ErrNoNodesAvailable
	}
	return best, nil
}

// Get 单个节点记录
func (m *Monitor) Get(name string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[name]
	if !ok {
		return Record{}, false
	}
	return m.record(n, m.now()), true
}

// Snapshot 全部节点记录的副本，按名字排序
func (m *Monitor) Snapshot() []Record {
	m.mu.RLock()
	now := m.now()
	out := make([]Record, 0, len(m.nodes))
	for _, n := range m.nodes {
		out = append(out, m.record(n, now))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (m *Monitor) record(n *nodeEntry, now time.Time) Record {
	active := 0
	for _, p := range n.penalties {
		if now.Sub(p.at) < m.window {
			active++
		}
	}
	return Record{
		Name:     n.name,
		State:    n.state,
		Stats:    n.stats,
		Ping:     n.ping,
		Score:    m.score(n, now),
		Failures: active,
	}
}

func (m *Monitor) score(n *nodeEntry, now time.Time) float64 {
	s := float64(n.stats.PlayingPlayers)
	s += math.Pow(1.05, 100*n.stats.CPU)*10 - 10
	if n.stats.Memory.Reservable > 0 {
		s += float64(n.stats.Memory.Used) / float64(n.stats.Memory.Reservable) * 10
	}
	if n.ping > 0 {
		s += float64(n.ping) / float64(10*time.Millisecond)
	}
	for _, p := range n.penalties {
		s += m.decayed(p, now)
	}
	return s
}

func (m *Monitor) decayed(p penalty, now time.Time) float64 {
	age := now.Sub(p.at)
	if age < 0 {
		age = 0
	}
	if age >= m.window {
		return 0
	}
	return p.weight * (1 - float64(age)/float64(m.window))
}

func (m *Monitor) prune(n *nodeEntry, now time.Time) {
	kept := n.penalties[:0]
	for _, p := range n.penalties {
		if now.Sub(p.at) < m.window {
			kept = append(kept, p)
		}
	}
	n.penalties = kept
}
