// Package autoleave 在语音频道没有真人时延迟结束播放会话。
package autoleave

import (
	"sort"
	"sync"
	"time"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
)

// DefaultGrace 频道空了之后等待多久再离开
const DefaultGrace = 3 * time.Minute

// ReasonChannelEmpty 自动离开时传给 Destroyer 的原因
const ReasonChannelEmpty = "voice channel empty"

// PresenceProbe 查询语音频道里非机器人成员数量
type PresenceProbe interface {
	NonBotMembers(guildID string) (int, error)
}

// SessionChecker 判断会话是否还在
type SessionChecker interface {
	Exists(guildID string) bool
}

// Destroyer 结束会话
type Destroyer interface {
	Destroy(guildID, reason string) error
}

// Timer 可停止的定时器
type Timer interface {
	Stop() bool
}

// TimerFactory 创建在 d 之后执行 f 的定时器
type TimerFactory func(d time.Duration, f func()) Timer

func realTimer(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type pending struct {
	id    uint64
	timer Timer
}

// Scheduler 每个服务器最多一个待触发的离开定时器
type Scheduler struct {
	mu     sync.Mutex
	timers map[string]*pending
	seq    uint64

	grace     time.Duration
	after     TimerFactory
	probe     PresenceProbe
	sessions  SessionChecker
	destroyer Destroyer
}

// Option 构造选项
type Option func(*Scheduler)

// WithGrace 自定义等待时长
func WithGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.grace = d
		}
	}
}

// WithTimerFactory 注入定时器（测试用）
func WithTimerFactory(f TimerFactory) Option {
	return func(s *Scheduler) { s.after = f }
}

// New 创建调度器
func New(probe PresenceProbe, sessions SessionChecker, destroyer Destroyer, opts ...Option) *Scheduler {
	s := &Scheduler{
		timers:    make(map[string]*pending),
		grace:     DefaultGrace,
		after:     realTimer,
		probe:     probe,
		sessions:  sessions,
		destroyer: destroyer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnVoicePresenceChanged 频道人数变化：为 0 时挂起定时器（已有则保留），大于 0 时取消
func (s *Scheduler) OnVoicePresenceChanged(guildID string, nonBotCount int) {
	if nonBotCount > 0 {
		if s.Cancel(guildID) {
			logger.Debug("频道有人回来，取消自动离开", logger.String("guild_id", guildID))
		}
		return
	}
	s.arm(guildID)
}

func (s *Scheduler) arm(guildID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.timers[guildID]; ok {
		return
	}
	s.seq++
	id := s.seq
	p := &pending{id: id}
	s.timers[guildID] = p
	p.timer = s.after(s.grace, func() { s.fire(guildID, id) })

	logger.Info("频道已空，等待自动离开",
		logger.String("guild_id", guildID),
		logger.Duration("grace", s.grace))
}

// Cancel 取消某个服务器的定时器，返回是否确实取消了
func (s *Scheduler) Cancel(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.timers[guildID]
	if !ok {
		return false
	}
	delete(s.timers, guildID)
	if p.timer != nil {
		p.timer.Stop()
	}
	return true
}

// CancelAll 停掉全部定时器（进程退出时调用），返回数量
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.timers)
	for guildID, p := range s.timers {
		if p.timer != nil {
			p.timer.Stop()
		}
		delete(s.timers, guildID)
	}
	return n
}

// Pending 是否有待触发的定时器
func (s *Scheduler) Pending(guildID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[guildID]
	return ok
}

// PendingGuilds 所有挂起中的服务器
func (s *Scheduler) PendingGuilds() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.timers))
	for id := range s.timers {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (s *Scheduler) fire(guildID string, id uint64) {
	s.mu.Lock()
	p, ok := s.timers[guildID]
	if !ok || p.id != id {
		s.mu.Unlock()
		return
	}
	delete(s.timers, guildID)
	s.mu.Unlock()

	// 触发时再确认一次：有人回来了或会话已经没了都直接忽略
	if s.probe != nil {
		n, err := s.probe.NonBotMembers(guildID)
		if err != nil {
			logger.Warn("查询频道成员失败，按空频道处理", logger.String("guild_id", guildID), logger.ErrorField(err))
		} else if n > 0 {
			return
		}
	}
	if s.sessions != nil && !s.sessions.Exists(guildID) {
		return
	}

	if err := s.destroyer.Destroy(guildID, ReasonChannelEmpty); err != nil {
		logger.Error("自动离开失败", logger.String("guild_id", guildID), logger.ErrorField(err))
		return
	}
	logger.Info("频道长时间无人，已自动离开", logger.String("guild_id", guildID))
}
