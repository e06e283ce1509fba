// Package player 把队列、会话、节点、自动离开和权限组合成面向命令处理器的播放控制。
package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/node"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/permission"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/queue"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/session"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

const (
	// MaxVolume 音量上限
	MaxVolume = 200
	// maxStartAttempts 连续起播失败多少次后放弃
	maxStartAttempts = 3
	// teardownTimeout 销毁后端播放器的超时
	teardownTimeout = 5 * time.Second
)

// 销毁原因
const (
	ReasonStopped      = "stopped by user"
	ReasonDisconnected = "player disconnected"
	ReasonNodeLost     = "no node available after failover"
	ReasonShutdown     = "shutdown"
)

var (
	ErrNotInVoice      = errors.New("player: caller is not in a voice channel")
	ErrOtherChannel    = errors.New("player: caller is in a different voice channel")
	ErrInvalidVolume   = errors.New("player: volume out of range")
	ErrInvalidPosition = errors.New("player: seek position out of range")
	ErrStartFailed     = errors.New("player: could not start playback")
)

// Caller 命令发起者及其所在环境
type Caller struct {
	GuildID        string
	TextChannelID  string
	VoiceChannelID string
	UserName       string
	Actor          permission.Actor
	Listeners      []string // 发起者所在语音频道的非机器人成员
}

// Requester 点歌人信息
func (c Caller) Requester() model.Requester {
	return model.Requester{ID: c.Actor.UserID, Name: c.UserName}
}

// PlayResult 点歌结果
type PlayResult struct {
	Kind         model.SearchKind
	PlaylistName string
	Added        []*model.Track
	Started      bool
	Created      bool // 本次新建了会话
}

// QueueView 队列页面
type QueueView struct {
	Current *model.Track
	Page    queue.Page
	Stats   queue.Stats
	Loop    model.LoopMode
	Paused  bool
}

// NowPlayingView 正在播放
type NowPlayingView struct {
	Track  *model.Track
	Paused bool
	Loop   model.LoopMode
	Volume int
	Node   string
}

// Config 控制器依赖
type Config struct {
	Store     *session.Store
	Monitor   *node.Monitor
	Resolver  Resolver
	Connector Connector
	Settings  SettingsStore // 可为空，视为未配置 DJ
	Notifier  Notifier      // 可为空
	OwnerID   string
}

// Controller 播放控制器
type Controller struct {
	store     *session.Store
	monitor   *node.Monitor
	resolver  Resolver
	connector Connector
	settings  SettingsStore
	notifier  Notifier
	ownerID   string

	mu        sync.RWMutex
	handles   map[string]Handle
	observers []Observer
}

// NewController 创建控制器
func NewController(cfg Config) *Controller {
	return &Controller{
		store:     cfg.Store,
		monitor:   cfg.Monitor,
		resolver:  cfg.Resolver,
		connector: cfg.Connector,
		settings:  cfg.Settings,
		notifier:  cfg.Notifier,
		ownerID:   cfg.OwnerID,
		handles:   make(map[string]Handle),
	}
}

// AddObserver 注册状态观察者
func (c *Controller) AddObserver(o Observer) {
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
}

// Store 会话存储
func (c *Controller) Store() *session.Store { return c.store }

func (c *Controller) handle(guildID string) Handle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handles[guildID]
}

// ========== 点歌 ==========

// Play 解析并加入队尾，空闲时立即开始播放
func (c *Controller) Play(ctx context.Context, caller Caller, query string) (*PlayResult, error) {
	return c.enqueue(ctx, caller, query, false)
}

// PlayNext 解析第一首结果并插到队首
func (c *Controller) PlayNext(ctx context.Context, caller Caller, query string) (*PlayResult, error) {
	return c.enqueue(ctx, caller, query, true)
}

func (c *Controller) enqueue(ctx context.Context, caller Caller, query string, front bool) (*PlayResult, error) {
	if caller.VoiceChannelID == "" {
		return nil, ErrNotInVoice
	}
	if sess, ok := c.store.Get(caller.GuildID); ok {
		if sess.VoiceChannelID != "" && sess.VoiceChannelID != caller.VoiceChannelID {
			return nil, ErrOtherChannel
		}
		if front {
			if err := c.authorize(ctx, caller); err != nil {
				return nil, err
			}
		}
	}

	res, err := c.resolver.Search(ctx, query, caller.Requester())
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", query, err)
	}
	if res == nil || len(res.Tracks) == 0 || res.Kind == model.SearchKindEmpty {
		return nil, fmt.Errorf("resolve %q: %w", query, queue.ErrNotFound)
	}

	tracks := res.Tracks
	if front || res.Kind != model.SearchKindPlaylist {
		tracks = tracks[:1]
	}
	for _, t := range tracks {
		t.Requester = caller.Requester()
	}

	h, created, err := c.ensureHandle(ctx, caller)
	if err != nil {
		return nil, err
	}

	err = c.store.With(caller.GuildID, func(s *session.Session) error {
		if front {
			s.Queue.AddToFront(tracks[0])
		} else {
			s.Queue.Add(tracks...)
		}
		return nil
	})
	if err != nil {
		// 解析期间会话被销毁
		return nil, err
	}

	started, err := c.advance(ctx, caller.GuildID, h)
	c.publish(caller.GuildID)
	if err != nil {
		return nil, err
	}

	logger.Info("点歌成功",
		logger.String("guild_id", caller.GuildID),
		logger.String("user_id", caller.Actor.UserID),
		logger.Int("added", len(tracks)),
		logger.Bool("started", started))

	return &PlayResult{
		Kind:         res.Kind,
		PlaylistName: res.PlaylistName,
		Added:        tracks,
		Started:      started,
		Created:      created,
	}, nil
}

// ensureHandle 没有会话时选节点并创建播放器；等待期间不持有任何锁
func (c *Controller) ensureHandle(ctx context.Context, caller Caller) (Handle, bool, error) {
	if h := c.handle(caller.GuildID); h != nil && c.store.Exists(caller.GuildID) {
		return h, false, nil
	}

	nodeName, err := c.monitor.Select()
	if err != nil {
		return nil, false, err
	}
	h, err := c.connector.CreatePlayer(ctx, nodeName, caller.GuildID, caller.VoiceChannelID)
	if err != nil {
		c.monitor.RecordFailure(nodeName, node.Disconnect)
		return nil, false, fmt.Errorf("create player on %s: %w", nodeName, err)
	}

	c.mu.Lock()
	if existing := c.handles[caller.GuildID]; existing != nil && c.store.Exists(caller.GuildID) {
		c.mu.Unlock()
		// 并发的另一条命令已经建好了
		c.teardown(caller.GuildID, h)
		return existing, false, nil
	}
	c.handles[caller.GuildID] = h
	c.mu.Unlock()

	sess := c.store.Create(caller.GuildID, caller.TextChannelID)
	_ = c.store.With(caller.GuildID, func(s *session.Session) error {
		s.VoiceChannelID = caller.VoiceChannelID
		s.NodeName = nodeName
		return nil
	})
	logger.Info("创建播放会话",
		logger.String("guild_id", sess.GuildID),
		logger.String("node", nodeName),
		logger.String("voice_channel_id", caller.VoiceChannelID))
	return h, true, nil
}

// advance 当前没有曲目时从队列取下一首播放；返回是否开始了新曲目
func (c *Controller) advance(ctx context.Context, guildID string, h Handle) (bool, error) {
	for attempt := 0; attempt < maxStartAttempts; attempt++ {
		var next *model.Track
		busy := false
		err := c.store.With(guildID, func(s *session.Session) error {
			if s.Current != nil {
				busy = true
				return nil
			}
			next, _ = s.Queue.Shift()
			s.Current = next
			return nil
		})
		if err != nil {
			return false, err
		}
		if busy {
			return false, nil
		}
		if next == nil {
			c.OnQueueEmpty(ctx, guildID)
			return false, nil
		}

		if err := h.Play(ctx, next); err != nil {
			logger.Warn("起播失败", logger.String("guild_id", guildID), logger.String("track", next.Title), logger.ErrorField(err))
			c.penalize(guildID, node.TrackLoad)
			_, _ = c.store.OnTrackFailed(guildID, next)
			continue
		}
		return true, nil
	}
	return false, ErrStartFailed
}

func (c *Controller) penalize(guildID string, kind node.FailureKind) {
	if sess, ok := c.store.Get(guildID); ok && sess.NodeName != "" {
		c.monitor.RecordFailure(sess.NodeName, kind)
	}
}

// ========== 权限 ==========

// authorize 需要会话存在、同一语音频道，并通过权限判断
func (c *Controller) authorize(ctx context.Context, caller Caller) error {
	var requester, voice string
	err := c.store.With(caller.GuildID, func(s *session.Session) error {
		voice = s.VoiceChannelID
		if s.Current != nil {
			requester = s.Current.Requester.ID
		}
		return nil
	})
	if err != nil {
		return err
	}
	if voice != "" && caller.VoiceChannelID != voice {
		return ErrOtherChannel
	}

	var dj *model.DJSettings
	if c.settings != nil {
		dj, err = c.settings.Get(ctx, caller.GuildID)
		if err != nil {
			return fmt.Errorf("load dj settings: %w", err)
		}
	}

	d := permission.Evaluate(permission.Request{
		Actor:     caller.Actor,
		OwnerID:   c.ownerID,
		DJ:        dj,
		Requester: requester,
		Listeners: caller.Listeners,
	})
	if !d.Allowed {
		logger.Debug("权限不足", logger.String("guild_id", caller.GuildID), logger.String("user_id", caller.Actor.UserID), logger.String("reason", d.Reason))
		return d.Err()
	}
	return nil
}

// mutate 鉴权后在会话锁内修改，成功后推送状态
func (c *Controller) mutate(ctx context.Context, caller Caller, fn func(*session.Session) error) error {
	if err := c.authorize(ctx, caller); err != nil {
		return err
	}
	if err := c.store.With(caller.GuildID, fn); err != nil {
		return err
	}
	c.publish(caller.GuildID)
	return nil
}

// ========== 播放控制 ==========

// Skip 跳过当前曲目
func (c *Controller) Skip(ctx context.Context, caller Caller) (*model.Track, error) {
	if err := c.authorize(ctx, caller); err != nil {
		return nil, err
	}
	h := c.handle(caller.GuildID)
	if h == nil {
		return nil, session.ErrNoActiveSession
	}
	skipped, err := c.store.Skip(caller.GuildID)
	if err != nil {
		return nil, err
	}

	started, err := c.advance(ctx, caller.GuildID, h)
	if err == nil && !started {
		if stopErr := h.Stop(ctx); stopErr != nil {
			logger.Warn("停止播放器失败", logger.String("guild_id", caller.GuildID), logger.ErrorField(stopErr))
		}
	}
	c.publish(caller.GuildID)
	return skipped, err
}

// Stop 停止播放并结束会话
func (c *Controller) Stop(ctx context.Context, caller Caller) error {
	if err := c.authorize(ctx, caller); err != nil {
		return err
	}
	return c.Destroy(caller.GuildID, ReasonStopped)
}

// Pause 暂停
func (c *Controller) Pause(ctx context.Context, caller Caller) error {
	return c.setPaused(ctx, caller, true)
}

// Resume 继续
func (c *Controller) Resume(ctx context.Context, caller Caller) error {
	return c.setPaused(ctx, caller, false)
}

func (c *Controller) setPaused(ctx context.Context, caller Caller, paused bool) error {
	if err := c.authorize(ctx, caller); err != nil {
		return err
	}
	h, err := c.requireCurrent(caller.GuildID)
	if err != nil {
		return err
	}
	if err := h.Pause(ctx, paused); err != nil {
		return fmt.Errorf("pause: %w", err)
	}
	_ = c.store.With(caller.GuildID, func(s *session.Session) error {
		s.Paused = paused
		return nil
	})
	c.publish(caller.GuildID)
	return nil
}

// Seek 跳转到指定位置（毫秒）
func (c *Controller) Seek(ctx context.Context, caller Caller, positionMs int64) error {
	if err := c.authorize(ctx, caller); err != nil {
		return err
	}
	var duration int64
	err := c.store.With(caller.GuildID, func(s *session.Session) error {
		if s.Current == nil {
			return session.ErrNothingPlaying
		}
		duration = s.Current.DurationMs
		return nil
	})
	if err != nil {
		return err
	}
	if positionMs < 0 || (duration > 0 && positionMs > duration) {
		return ErrInvalidPosition
	}
	h := c.handle(caller.GuildID)
	if h == nil {
		return session.ErrNoActiveSession
	}
	if err := h.Seek(ctx, positionMs); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// SetVolume 设置音量 0~MaxVolume
func (c *Controller) SetVolume(ctx context.Context, caller Caller, volume int) error {
	if volume < 0 || volume > MaxVolume {
		return ErrInvalidVolume
	}
	if err := c.authorize(ctx, caller); err != nil {
		return err
	}
	h := c.handle(caller.GuildID)
	if h == nil {
		return session.ErrNoActiveSession
	}
	if err := h.SetVolume(ctx, volume); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	_ = c.store.With(caller.GuildID, func(s *session.Session) error {
		s.Volume = volume
		return nil
	})
	c.publish(caller.GuildID)
	return nil
}

// SetLoop 切换循环模式
func (c *Controller) SetLoop(ctx context.Context, caller Caller, mode model.LoopMode) error {
	if err := c.authorize(ctx, caller); err != nil {
		return err
	}
	if err := c.store.SetLoopMode(caller.GuildID, mode); err != nil {
		return err
	}
	c.publish(caller.GuildID)
	return nil
}

// requireCurrent 返回播放器句柄；没有会话或没有当前曲目时报错
func (c *Controller) requireCurrent(guildID string) (Handle, error) {
	h := c.handle(guildID)
	if h == nil {
		return nil, session.ErrNoActiveSession
	}
	err := c.store.With(guildID, func(s *session.Session) error {
		if s.Current == nil {
			return session.ErrNothingPlaying
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ========== 队列编辑 ==========

// Remove 删除队列中 index（从 0 开始）位置的歌曲
func (c *Controller) Remove(ctx context.Context, caller Caller, index int) (*model.Track, error) {
	var removed *model.Track
	err := c.mutate(ctx, caller, func(s *session.Session) error {
		var err error
		removed, err = s.Queue.Remove(index)
		return err
	})
	return removed, err
}

// Move 移动歌曲
func (c *Controller) Move(ctx context.Context, caller Caller, from, to int) error {
	return c.mutate(ctx, caller, func(s *session.Session) error {
		return s.Queue.Move(from, to)
	})
}

// Dedupe 去重，返回删除数量
func (c *Controller) Dedupe(ctx context.Context, caller Caller) (int, error) {
	n := 0
	err := c.mutate(ctx, caller, func(s *session.Session) error {
		n = s.Queue.RemoveDuplicates()
		return nil
	})
	return n, err
}

// Reverse 反转队列
func (c *Controller) Reverse(ctx context.Context, caller Caller) error {
	return c.mutate(ctx, caller, func(s *session.Session) error {
		s.Queue.Reverse()
		return nil
	})
}

// RemoveByUser 删除某个用户点的全部歌曲
func (c *Controller) RemoveByUser(ctx context.Context, caller Caller, userID string) (int, error) {
	n := 0
	err := c.mutate(ctx, caller, func(s *session.Session) error {
		n = s.Queue.RemoveByUser(userID)
		if n == 0 {
			return queue.ErrNotFound
		}
		return nil
	})
	return n, err
}

// Shuffle 随机打乱
func (c *Controller) Shuffle(ctx context.Context, caller Caller) error {
	return c.mutate(ctx, caller, func(s *session.Session) error {
		s.Queue.Shuffle()
		return nil
	})
}

// FairShuffle 按点歌人轮流打乱
func (c *Controller) FairShuffle(ctx context.Context, caller Caller) error {
	return c.mutate(ctx, caller, func(s *session.Session) error {
		s.Queue.FairShuffle()
		return nil
	})
}

// Clear 清空队列（不影响当前曲目）
func (c *Controller) Clear(ctx context.Context, caller Caller) (int, error) {
	n := 0
	err := c.mutate(ctx, caller, func(s *session.Session) error {
		n = s.Queue.Clear()
		return nil
	})
	return n, err
}

// ========== 查询 ==========

// Queue 分页查看队列
func (c *Controller) Queue(guildID string, page int) (*QueueView, error) {
	var view *QueueView
	err := c.store.With(guildID, func(s *session.Session) error {
		view = &QueueView{
			Current: s.Current.Clone(),
			Page:    s.Queue.Page(page, queue.DefaultPageSize),
			Stats:   s.Queue.Stats(),
			Loop:    s.Loop,
			Paused:  s.Paused,
		}
		return nil
	})
	return view, err
}

// Search 在队列中搜索
func (c *Controller) Search(guildID, keyword string) ([]queue.Match, error) {
	var matches []queue.Match
	err := c.store.With(guildID, func(s *session.Session) error {
		matches = s.Queue.Search(keyword)
		if len(matches) == 0 {
			return queue.ErrNotFound
		}
		return nil
	})
	return matches, err
}

// NowPlaying 当前曲目
func (c *Controller) NowPlaying(guildID string) (*NowPlayingView, error) {
	var view *NowPlayingView
	err := c.store.With(guildID, func(s *session.Session) error {
		if s.Current == nil {
			return session.ErrNothingPlaying
		}
		view = &NowPlayingView{
			Track:  s.Current.Clone(),
			Paused: s.Paused,
			Loop:   s.Loop,
			Volume: s.Volume,
			Node:   s.NodeName,
		}
		return nil
	})
	return view, err
}

// History 最近播放
func (c *Controller) History(guildID string) ([]*model.Track, error) {
	return c.store.History(guildID)
}

// ========== 后端回调 ==========

// OnTrackStart 后端开始播放某首曲目
func (c *Controller) OnTrackStart(ctx context.Context, guildID string, track *model.Track) {
	prev, err := c.store.OnTrackStart(guildID, track)
	if err != nil {
		return
	}
	sess, ok := c.store.Get(guildID)
	if !ok {
		return
	}
	if c.notifier != nil {
		if prev != "" {
			if err := c.notifier.Delete(ctx, sess.TextChannelID, prev); err != nil {
				logger.Debug("删除旧的播放消息失败", logger.String("guild_id", guildID), logger.ErrorField(err))
			}
		}
		id, err := c.notifier.Notify(ctx, sess.TextChannelID, Event{Kind: EventNowPlaying, GuildID: guildID, Track: track})
		if err != nil {
			logger.Warn("发送播放通知失败", logger.String("guild_id", guildID), logger.ErrorField(err))
		} else if id != "" {
			_ = c.store.SetNowPlayingMessage(guildID, id)
		}
	}
	c.publish(guildID)
}

// OnTrackEnd 后端报告曲目结束
func (c *Controller) OnTrackEnd(ctx context.Context, guildID string, track *model.Track, reason EndReason) {
	var (
		out session.EndOutcome
		err error
	)
	if reason.failed() {
		kind := node.TrackLoad
		if reason == EndStuck {
			kind = node.TrackStuck
		}
		c.penalize(guildID, kind)
		out, err = c.store.OnTrackFailed(guildID, track)
	} else {
		out, err = c.store.OnTrackEnded(guildID, track)
	}
	if err != nil || out.Stale {
		return
	}

	if reason.StartsNext() {
		if h := c.handle(guildID); h != nil {
			if _, err := c.advance(ctx, guildID, h); err != nil {
				logger.Error("自动播放下一首失败", logger.String("guild_id", guildID), logger.ErrorField(err))
			}
		}
	}
	c.publish(guildID)
}

// OnQueueEmpty 队列播完，满足条件时发一次通知
func (c *Controller) OnQueueEmpty(ctx context.Context, guildID string) {
	if !c.store.ConsumeQueueEmpty(guildID) {
		return
	}
	sess, ok := c.store.Get(guildID)
	if !ok || c.notifier == nil {
		return
	}
	if _, err := c.notifier.Notify(ctx, sess.TextChannelID, Event{Kind: EventQueueEmpty, GuildID: guildID}); err != nil {
		logger.Warn("发送队列已空通知失败", logger.String("guild_id", guildID), logger.ErrorField(err))
	}
}

// OnPlayerDisconnected 后端播放器被断开（例如机器人被踢出语音频道）
func (c *Controller) OnPlayerDisconnected(guildID string) {
	_ = c.Destroy(guildID, ReasonDisconnected)
}

// ========== 生命周期 ==========

// Failover 把托管在 nodeName 上的会话迁移到新选出的节点；没有可用节点时结束会话
func (c *Controller) Failover(ctx context.Context, nodeName string) {
	for _, guildID := range c.store.GuildsOnNode(nodeName) {
		if err := c.migrate(ctx, guildID, nodeName); err != nil {
			logger.Warn("会话迁移失败", logger.String("guild_id", guildID), logger.String("node", nodeName), logger.ErrorField(err))
			reason := ReasonNodeLost
			if !errors.Is(err, node.ErrNoNodesAvailable) {
				reason = err.Error()
			}
			_ = c.Destroy(guildID, reason)
		}
	}
}

func (c *Controller) migrate(ctx context.Context, guildID, deadNode string) error {
	sess, ok := c.store.Get(guildID)
	if !ok {
		return nil
	}
	voice := sess.VoiceChannelID

	target, err := c.monitor.Select()
	if err != nil {
		return err
	}
	if target == deadNode {
		return node.ErrNoNodesAvailable
	}
	h, err := c.connector.CreatePlayer(ctx, target, guildID, voice)
	if err != nil {
		c.monitor.RecordFailure(target, node.Disconnect)
		return fmt.Errorf("create player on %s: %w", target, err)
	}

	var current *model.Track
	var volume int
	var text string
	err = c.store.With(guildID, func(s *session.Session) error {
		s.NodeName = target
		// 新播放器拿到新的曲目实例，旧播放器迟到的结束回调会被当成过期回调
		if s.Current != nil {
			s.Current = s.Current.Clone()
		}
		current = s.Current
		volume = s.Volume
		text = s.TextChannelID
		return nil
	})
	if err != nil {
		// 等待期间会话已被销毁
		c.teardown(guildID, h)
		return nil
	}

	c.mu.Lock()
	old := c.handles[guildID]
	c.handles[guildID] = h
	c.mu.Unlock()
	if old != nil {
		c.teardown(guildID, old)
	}

	if volume != session.DefaultVolume {
		_ = h.SetVolume(ctx, volume)
	}
	if current != nil {
		if err := h.Play(ctx, current); err != nil {
			logger.Warn("迁移后续播失败", logger.String("guild_id", guildID), logger.ErrorField(err))
			c.monitor.RecordFailure(target, node.TrackLoad)
			_, _ = c.store.OnTrackFailed(guildID, current)
			_, _ = c.advance(ctx, guildID, h)
		}
	}

	logger.Info("会话已迁移", logger.String("guild_id", guildID), logger.String("from", deadNode), logger.String("to", target))
	if c.notifier != nil {
		_, _ = c.notifier.Notify(ctx, text, Event{Kind: EventNodeChanged, GuildID: guildID, Node: target})
	}
	c.publish(guildID)
	return nil
}

// Destroy 结束会话并释放后端播放器，可重复调用
func (c *Controller) Destroy(guildID, reason string) error {
	sess, hadSession := c.store.Get(guildID)

	c.mu.Lock()
	h := c.handles[guildID]
	delete(c.handles, guildID)
	observers := append([]Observer(nil), c.observers...)
	c.mu.Unlock()

	if h != nil {
		c.teardown(guildID, h)
	}
	if !c.store.Destroy(guildID) {
		return nil
	}

	logger.Info("会话已结束", logger.String("guild_id", guildID), logger.String("reason", reason))
	for _, o := range observers {
		o.GuildDestroyed(guildID, reason)
	}
	if c.notifier != nil && hadSession && reason != ReasonShutdown {
		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()
		if sess.LastMessageID != "" {
			_ = c.notifier.Delete(ctx, sess.TextChannelID, sess.LastMessageID)
		}
		_, _ = c.notifier.Notify(ctx, sess.TextChannelID, Event{Kind: EventSessionEnd, GuildID: guildID, Reason: reason})
	}
	return nil
}

// Shutdown 结束全部会话
func (c *Controller) Shutdown() {
	for _, guildID := range c.store.Guilds() {
		_ = c.Destroy(guildID, ReasonShutdown)
	}
}

func (c *Controller) teardown(guildID string, h Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := h.Destroy(ctx); err != nil {
		logger.Warn("销毁后端播放器失败", logger.String("guild_id", guildID), logger.ErrorField(err))
	}
}

func (c *Controller) publish(guildID string) {
	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()
	if len(observers) == 0 {
		return
	}
	state, err := c.store.Snapshot(guildID)
	if err != nil {
		return
	}
	for _, o := range observers {
		o.GuildStateChanged(state)
	}
}
