// Package session 维护每个服务器的播放会话状态，与具体的后端节点连接无关。
package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/queue"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// HistoryLimit 历史记录容量，超出后淘汰最旧的
const HistoryLimit = 50

// DefaultVolume 新会话音量
const DefaultVolume = 100

var (
	// ErrNoActiveSession 服务器当前没有播放会话
	ErrNoActiveSession = errors.New("session: no active session")
	// ErrNothingPlaying 会话存在但当前没有曲目
	ErrNothingPlaying = errors.New("session: nothing playing")
)

// Session 单个服务器的播放会话
type Session struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	NodeName       string

	Queue   *queue.Queue
	Current *model.Track
	Paused  bool
	Volume  int

	Loop          model.LoopMode
	History       []*model.Track
	QueueSnapshot []*model.Track // 进入队列循环时保存的 [当前曲目] + 队列
	LastMessageID string         // 最近一条"正在播放"消息
	HasPlayed     bool
	notifiedEmpty bool // 本轮"队列已空"已通知过

	CreatedAt time.Time
}

// Info 会话标量字段的副本，在服务器锁内取得，可在锁外随意读取
type Info struct {
	GuildID        string
	VoiceChannelID string
	TextChannelID  string
	NodeName       string
	LastMessageID  string
	Current        *model.Track // 克隆
	Paused         bool
	Volume         int
	Loop           model.LoopMode
	HasPlayed      bool
	CreatedAt      time.Time
}

func (s *Session) info() Info {
	return Info{
		GuildID:        s.GuildID,
		VoiceChannelID: s.VoiceChannelID,
		TextChannelID:  s.TextChannelID,
		NodeName:       s.NodeName,
		LastMessageID:  s.LastMessageID,
		Current:        s.Current.Clone(),
		Paused:         s.Paused,
		Volume:         s.Volume,
		Loop:           s.Loop,
		HasPlayed:      s.HasPlayed,
		CreatedAt:      s.CreatedAt,
	}
}

// State 导出为面板/缓存使用的快照
func (s *Session) State() *model.GuildState {
	return &model.GuildState{
		GuildID:        s.GuildID,
		VoiceChannelID: s.VoiceChannelID,
		TextChannelID:  s.TextChannelID,
		Node:           s.NodeName,
		Current:        s.Current.Clone(),
		Queue:          s.Queue.Snapshot(),
		Loop:           s.Loop.String(),
		Paused:         s.Paused,
		Volume:         s.Volume,
		HistorySize:    len(s.History),
		UpdatedAt:      time.Now().UnixMilli(),
	}
}

func (s *Session) pushHistory(t *model.Track) {
	if t == nil {
		return
	}
	s.History = append(s.History, t)
	if over := len(s.History) - HistoryLimit; over > 0 {
		s.History = append([]*model.Track(nil), s.History[over:]...)
	}
}

// EndOutcome 曲目结束后的处理结果
type EndOutcome struct {
	Stale    bool // 过期回调（结束的不是当前曲目），已忽略
	Requeued bool // 单曲循环，克隆后放回队首
	Refilled int  // 队列循环，从快照补回的数量
}

type entry struct {
	mu        sync.Mutex
	session   *Session
	destroyed bool
}

// Store 会话存储，按服务器加锁，不同服务器之间互不阻塞
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	newQueue func() *queue.Queue
}

// Option 构造选项
type Option func(*Store)

// WithQueueFactory 自定义队列构造（测试时注入固定随机源）
func WithQueueFactory(f func() *queue.Queue) Option {
	return func(s *Store) { s.newQueue = f }
}

// NewStore 创建会话存储
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*entry),
		newQueue: func() *queue.Queue { return queue.New() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (st *Store) fresh(guildID, textChannelID string) *Session {
	return &Session{
		GuildID:       guildID,
		TextChannelID: textChannelID,
		Queue:         st.newQueue(),
		Volume:        DefaultVolume,
		History:       make([]*model.Track, 0),
		CreatedAt:     time.Now(),
	}
}

// Create 建立新的会话状态，已有的旧状态会被整体替换
func (st *Store) Create(guildID, textChannelID string) Info {
	sess := st.fresh(guildID, textChannelID)
	info := sess.info()

	st.mu.Lock()
	old := st.sessions[guildID]
	st.sessions[guildID] = &entry{session: sess}
	st.mu.Unlock()

	if old != nil {
		old.mu.Lock()
		old.destroyed = true
		old.mu.Unlock()
	}
	return info
}

// Ensure 已有会话则复用，否则新建；created 表示是否新建
func (st *Store) Ensure(guildID, textChannelID string) (Info, bool) {
	st.mu.Lock()
	e, ok := st.sessions[guildID]
	if !ok {
		sess := st.fresh(guildID, textChannelID)
		st.sessions[guildID] = &entry{session: sess}
		st.mu.Unlock()
		return sess.info(), true
	}
	st.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.info(), false
}

// Get 在服务器锁内取会话副本；不存在表示没有活跃会话
func (st *Store) Get(guildID string) (Info, bool) {
	var info Info
	err := st.With(guildID, func(s *Session) error {
		info = s.info()
		return nil
	})
	return info, err == nil
}

// Exists 是否存在会话
func (st *Store) Exists(guildID string) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	_, ok := st.sessions[guildID]
	return ok
}

// With 在服务器锁内执行 fn
func (st *Store) With(guildID string, fn func(*Session) error) error {
	st.mu.RLock()
	e, ok := st.sessions[guildID]
	st.mu.RUnlock()
	if !ok {
		return ErrNoActiveSession
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return ErrNoActiveSession
	}
	return fn(e.session)
}

// Destroy 丢弃会话的全部状态，可重复调用
func (st *Store) Destroy(guildID string) bool {
	st.mu.Lock()
	e, ok := st.sessions[guildID]
	delete(st.sessions, guildID)
	st.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.destroyed = true
	e.mu.Unlock()
	return true
}

// Guilds 当前所有有会话的服务器 ID
func (st *Store) Guilds() []string {
	st.mu.RLock()
	ids := make([]string, 0, len(st.sessions))
	for id := range st.sessions {
		ids = append(ids, id)
	}
	st.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// GuildsOnNode 托管在某个节点上的服务器
func (st *Store) GuildsOnNode(nodeName string) []string {
	ids := make([]string, 0)
	for _, id := range st.Guilds() {
		_ = st.With(id, func(s *Session) error {
			if s.NodeName == nodeName {
				ids = append(ids, id)
			}
			return nil
		})
	}
	return ids
}

// ========== 播放状态 ==========

// SetLoopMode 切换循环模式。进入队列循环时保存快照，离开时清除。
func (st *Store) SetLoopMode(guildID string, mode model.LoopMode) error {
	return st.With(guildID, func(s *Session) error {
		if mode == model.LoopQueue {
			snap := make([]*model.Track, 0, s.Queue.Len()+1)
			if s.Current != nil {
				snap = append(snap, s.Current.Clone())
			}
			snap = append(snap, s.Queue.Snapshot()...)
			s.QueueSnapshot = snap
		} else {
			s.QueueSnapshot = nil
		}
		s.Loop = mode
		return nil
	})
}

// OnTrackStart 记录当前曲目，返回需要删除的上一条"正在播放"消息 ID
func (st *Store) OnTrackStart(guildID string, track *model.Track) (string, error) {
	var previous string
	err := st.With(guildID, func(s *Session) error {
		previous = s.LastMessageID
		s.LastMessageID = ""
		s.Current = track
		s.Paused = false
		s.HasPlayed = true
		s.notifiedEmpty = false
		return nil
	})
	return previous, err
}

// SetNowPlayingMessage 保存最新的"正在播放"消息 ID
func (st *Store) SetNowPlayingMessage(guildID, messageID string) error {
	return st.With(guildID, func(s *Session) error {
		s.LastMessageID = messageID
		return nil
	})
}

// OnTrackEnded 处理曲目正常结束：写入历史、单曲循环回填、队列循环补队列。
// ended 必须是当前曲目（同一指针），否则视为过期回调。
func (st *Store) OnTrackEnded(guildID string, ended *model.Track) (EndOutcome, error) {
	return st.end(guildID, ended, true)
}

// OnTrackFailed 曲目加载失败或卡住，不做单曲循环回填
func (st *Store) OnTrackFailed(guildID string, ended *model.Track) (EndOutcome, error) {
	return st.end(guildID, ended, false)
}

// Skip 跳过当前曲目，返回被跳过的曲目
func (st *Store) Skip(guildID string) (*model.Track, error) {
	var skipped *model.Track
	err := st.With(guildID, func(s *Session) error {
		if s.Current == nil {
			return ErrNothingPlaying
		}
		skipped = s.Current
		s.finish(skipped, false)
		s.Paused = false
		return nil
	})
	return skipped, err
}

func (st *Store) end(guildID string, ended *model.Track, honorLoop bool) (EndOutcome, error) {
	var out EndOutcome
	err := st.With(guildID, func(s *Session) error {
		if ended == nil || s.Current != ended {
			out.Stale = true
			return nil
		}
		out = s.finish(ended, honorLoop)
		return nil
	})
	return out, err
}

func (s *Session) finish(ended *model.Track, honorLoop bool) EndOutcome {
	var out EndOutcome
	s.Current = nil

	if honorLoop && s.Loop == model.LoopTrack {
		s.Queue.AddToFront(ended.Clone())
		out.Requeued = true
		return out
	}

	s.pushHistory(ended)

	if s.Loop == model.LoopQueue && s.Queue.Len() == 0 && len(s.QueueSnapshot) > 0 {
		refill := model.CloneTracks(s.QueueSnapshot)
		s.Queue.Add(refill...)
		out.Refilled = len(refill)
	}
	return out
}

// ShouldNotifyQueueEmpty 只有播放过、当前没有曲目且未暂停时才发"队列已空"通知
func (st *Store) ShouldNotifyQueueEmpty(guildID string) bool {
	notify := false
	_ = st.With(guildID, func(s *Session) error {
		notify = s.HasPlayed && !s.notifiedEmpty && s.Current == nil && !s.Paused
		return nil
	})
	return notify
}

// ConsumeQueueEmpty 判断是否该发"队列已空"通知；返回 true 后直到下一首开始前不再重复
func (st *Store) ConsumeQueueEmpty(guildID string) bool {
	notify := false
	_ = st.With(guildID, func(s *Session) error {
		notify = s.HasPlayed && !s.notifiedEmpty && s.Current == nil && !s.Paused
		if notify {
			s.notifiedEmpty = true
		}
		return nil
	})
	return notify
}

// History 历史记录副本（最旧的在前）
func (st *Store) History(guildID string) ([]*model.Track, error) {
	var out []*model.Track
	err := st.With(guildID, func(s *Session) error {
		out = model.CloneTracks(s.History)
		return nil
	})
	return out, err
}

// Snapshot 导出会话快照
func (st *Store) Snapshot(guildID string) (*model.GuildState, error) {
	var state *model.GuildState
	err := st.With(guildID, func(s *Session) error {
		state = s.State()
		return nil
	})
	return state, err
}
