package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/node"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/permission"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/player"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/queue"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/session"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/repository"
)

const commandTimeout = 15 * time.Second

var (
	errUsage        = errors.New("invalid arguments")
	errNotManager   = errors.New("manage server permission required")
	errNoSettingsDB = errors.New("settings storage is not configured")
)

// handlerFunc 命令处理函数，返回要回复的文本
type handlerFunc func(ctx context.Context, c player.Caller, args []string) (string, error)

type command struct {
	name    string
	aliases []string
	usage   string
	run     handlerFunc
}

// RouterConfig 路由依赖
type RouterConfig struct {
	Controller    *player.Controller
	Settings      repository.SettingsRepository // 可为空
	Presence      *VoicePresence
	Monitor       *node.Monitor
	OwnerID       string
	DefaultPrefix string
	Rate          float64
	Burst         int
}

// Router 前缀命令路由
type Router struct {
	cfg      RouterConfig
	limits   *limiterSet
	commands map[string]*command
	ordered  []*command
}

// NewRouter 创建路由并注册命令
func NewRouter(cfg RouterConfig) *Router {
	if cfg.DefaultPrefix == "" {
		cfg.DefaultPrefix = "!"
	}
	r := &Router{
		cfg:      cfg,
		limits:   newLimiterSet(rate.Limit(cfg.Rate), cfg.Burst),
		commands: make(map[string]*command),
	}
	r.register()
	return r
}

func (r *Router) add(c *command) {
	r.ordered = append(r.ordered, c)
	r.commands[c.name] = c
	for _, a := range c.aliases {
		r.commands[a] = c
	}
}

// OnMessageCreate discordgo 消息事件入口
func (r *Router) OnMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	name, args, ok := parseCommand(m.Content, r.prefixFor(ctx, m.GuildID))
	if !ok {
		return
	}
	cmd, ok := r.commands[name]
	if !ok {
		return
	}
	if !r.limits.Allow(m.Author.ID) {
		_, _ = s.ChannelMessageSend(m.ChannelID, "You're sending commands too fast, slow down a little.")
		return
	}

	caller := r.caller(s, m)
	reply, err := cmd.run(ctx, caller, args)
	if err != nil {
		if errors.Is(err, errUsage) {
			reply = "Usage: `" + cmd.usage + "`"
		} else {
			reply = errorMessage(err)
		}
		logger.Debug("命令执行失败",
			logger.String("command", cmd.name),
			logger.String("guild_id", m.GuildID),
			logger.String("user_id", m.Author.ID),
			logger.ErrorField(err))
	}
	if reply == "" {
		return
	}
	if _, err := s.ChannelMessageSend(m.ChannelID, reply, discordgo.WithContext(ctx)); err != nil {
		logger.Warn("回复命令失败", logger.String("channel_id", m.ChannelID), logger.ErrorField(err))
	}
}

func (r *Router) prefixFor(ctx context.Context, guildID string) string {
	if r.cfg.Settings == nil {
		return r.cfg.DefaultPrefix
	}
	p, err := r.cfg.Settings.GetPrefix(ctx, guildID)
	if err != nil {
		logger.Warn("读取前缀失败", logger.String("guild_id", guildID), logger.ErrorField(err))
		return r.cfg.DefaultPrefix
	}
	if p == "" {
		return r.cfg.DefaultPrefix
	}
	return p
}

func (r *Router) caller(s *discordgo.Session, m *discordgo.MessageCreate) player.Caller {
	voice := r.cfg.Presence.UserChannel(m.GuildID, m.Author.ID)

	perms, err := s.State.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		perms, err = s.UserChannelPermissions(m.Author.ID, m.ChannelID)
		if err != nil {
			logger.Debug("读取频道权限失败", logger.String("user_id", m.Author.ID), logger.ErrorField(err))
		}
	}

	// 权限判断看的是机器人所在频道
	listenChannel := voice
	if sess, ok := r.cfg.Controller.Store().Get(m.GuildID); ok && sess.VoiceChannelID != "" {
		listenChannel = sess.VoiceChannelID
	}
	var listeners []string
	if listenChannel != "" {
		listeners, _ = r.cfg.Presence.Listeners(m.GuildID, listenChannel)
	}

	name := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		name = m.Member.Nick
	}
	return player.Caller{
		GuildID:        m.GuildID,
		TextChannelID:  m.ChannelID,
		VoiceChannelID: voice,
		UserName:       name,
		Actor:          actorFrom(m.Author.ID, m.Member, perms),
		Listeners:      listeners,
	}
}

// ========== 命令表 ==========

func (r *Router) register() {
	ctl := r.cfg.Controller

	r.add(&command{name: "play", aliases: []string{"p"}, usage: "play <query|url>", run: func(ctx context.Context, c player.Caller, args []string) (string, error) {
		return r.play(ctx, c, args, false)
	}})
	r.add(&command{name: "playnext", aliases: []string{"pn"}, usage: "playnext <query|url>", run: func(ctx context.Context, c player.Caller, args []string) (string, error) {
		return r.play(ctx, c, args, true)
	}})
	r.add(&command{name: "skip", aliases: []string{"s"}, usage: "skip", run: func(ctx context.Context, c player.Caller, _ []string) (string, error) {
		t, err := ctl.Skip(ctx, c)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Skipped **%s**.", t.Title), nil
	}})
	r.add(&command{name: "stop", aliases: []string{"leave", "dc"}, usage: "stop", run: func(ctx context.Context, c player.Caller, _ []string) (string, error) {
		return "", ctl.Stop(ctx, c)
	}})
	r.add(&command{name: "pause", usage: "pause", run: func(ctx context.Context, c player.Caller, _ []string) (string, error) {
		return "Paused.", ctl.Pause(ctx, c)
	}})
	r.add(&command{name: "resume", usage: "resume", run: func(ctx context.Context, c player.Caller, _ []string) (string, error) {
		return "Resumed.", ctl.Resume(ctx, c)
	}})
	r.add(&command{name: "seek", usage: "seek <[h:]m:ss|seconds>", run: func(ctx context.Context, c player.Caller, args []string) (string, error) {
		if len(args) != 1 {
			return "", errUsage
		}
		ms, err := parseTimestamp(args[0])
		if err != nil {
			return "", errUsage
		}
		return "Seeked to " + formatDuration(ms) + ".", ctl.Seek(ctx, c, ms)
	}})
	r.add(&command{name: "volume", aliases: []string{"vol"}, usage: "volume <0-200>", run: func(ctx context.Context, c player.Caller, args []string) (string, error) {
		if len(args) != 1 {
			return "", errUsage
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return "", errUsage
		}
		return fmt.Sprintf("Volume set to %d%%.", v), ctl.SetVolume(ctx, c, v)
	}})
	r.add(&command{name: "loop", usage: "loop <off|track|queue>", run: func(ctx context.Context, c player.Caller, args []string) (string, error) {
		if len(args) != 1 {
			return "", errUsage
		}
		mode, err := model.ParseLoopMode(args[0])
		if err != nil {
			return "", errUsage
		}
		return "Loop mode: **" + mode.String() + "**.", ctl.SetLoop(ctx, c, mode)
	}})
	r.add(&command{name: "queue", aliases: []string{"q"}, usage: "queue [page]", run: func(_ context.Context, c player.Caller, args []string) (string, error) {
		page := 1
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return "", errUsage
			}
			page = n
		}
		view, err := ctl.Queue(c.GuildID, page)
		if err != nil {
			return "", err
		}
		return renderQueue(view), nil
	}})
	r.add(&command{name: "nowplaying", aliases: []string{"np"}, usage: "nowplaying", run: func(_ context.Context, c player.Caller, _ []string) (string, error) {
		v, err := ctl.NowPlaying(c.GuildID)
		if err != nil {
			return "", err
		}
		state := "playing"
		if v.Paused {
			state = "paused"
		}
		return fmt.Sprintf("**%s** by %s [%s] (%s, loop %s, volume %d%%, node %s)",
			v.Track.Title, orDash(v.Track.Author), formatDuration(v.Track.DurationMs), state, v.Loop, v.Volume, v.Node), nil
	}})
	r.add(&command{name: "history", usage: "history", run: func(_ context.Context, c player.Caller, _ []string) (string, error) {
		tracks, err := ctl.History(c.GuildID)
		if err != nil {
			return "", err
		}
		if len(tracks) == 0 {
			return "Nothing has been played yet.", nil
		}
		return "Recently played:\n" + listTracks(tracks, 1, 10), nil
	}})
	r.add(&command{name: "find", usage: "find <keyword>", run: func(_ context.Context, c player.Caller, args []string) (string, error) {
		if len(args) == 0 {
			return "", errUsage
		}
		matches, err := ctl.Search(c.GuildID, strings.Join(args, " "))
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, m := range matches {
			fmt.Fprintf(&b, "`%d.` %s\n", m.Index+1, m.Track.Title)
		}
		return b.String(), nil
	}})
	r.add(&command{name: "remove", aliases: []string{"rm"}, usage: "remove <position>", run: func(ctx context.Context, c player.Caller, args []string) (string, error) {
		if len(args) != 1 {
			return "", errUsage
		}
		idx, err := parsePosition(args[0])
		if err != nil {
			return "", errUsage
		}
		t, err := ctl.Remove(ctx, c, idx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Removed **%s**.", t.Title), nil
	}})
	r.add(&command{name: "move", aliases: []string{"mv"}, usage: "move <from> <to>", run: func(ctx context.Context, c player.Caller, args []string) (string, error) {
		if len(args) != 2 {
			return "", errUsage
		}
		from, err1 := parsePosition(args[0])
		to, err2 := parsePosition(args[1])
		if err1 != nil || err2 != nil {
			return "", errUsage
		}
		return fmt.Sprintf("Moved track %s to position %s.", args[0], args[1]), ctl.Move(ctx, c, from, to)
	}})
	r.add(&command{name: "removeuser", aliases: []string{"ru"}, usage: "removeuser <@user>", run: func(ctx context.Context, c player.Caller, args []string) (string, error) {
		if len(args) != 1 {
			return "", errUsage
		}
		n, err := ctl.RemoveByUser(ctx, c, mentionID(args[0]))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Removed %d track(s).", n), nil
	}})
	r.add(&command{name: "dedupe", usage: "dedupe", run: func(ctx context.Context, c player.Caller, _ []string) (string, error) {
		n, err := ctl.Dedupe(ctx, c)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Removed %d duplicate(s).", n), nil
	}})
	r.add(&command{name: "reverse", usage: "reverse", run: func(ctx context.Context, c player.Caller, _ []string) (string, error) {
		return "Queue reversed.", ctl.Reverse(ctx, c)
	}})
	r.add(&command{name: "shuffle", usage: "shuffle", run: func(ctx context.Context, c player.Caller, _ []string) (string, error) {
		return "Queue shuffled.", ctl.Shuffle(ctx, c)
	}})
	r.add(&command{name: "fairshuffle", aliases: []string{"fair"}, usage: "fairshuffle", run: func(ctx context.Context, c player.Caller, _ []string) (string, error) {
		return "Queue shuffled fairly by requester.", ctl.FairShuffle(ctx, c)
	}})
	r.add(&command{name: "clear", usage: "clear", run: func(ctx context.Context, c player.Caller, _ []string) (string, error) {
		n, err := ctl.Clear(ctx, c)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Cleared %d track(s).", n), nil
	}})
	r.add(&command{name: "dj", usage: "dj <show|on|off|role @role|add @user|remove @user|reset>", run: r.dj})
	r.add(&command{name: "prefix", usage: "prefix <new|reset>", run: r.prefix})
	r.add(&command{name: "nodes", usage: "nodes", run: r.nodes})
	r.add(&command{name: "help", aliases: []string{"h"}, usage: "help", run: func(context.Context, player.Caller, []string) (string, error) {
		var b strings.Builder
		b.WriteString("Commands:\n")
		for _, c := range r.ordered {
			fmt.Fprintf(&b, "`%s`\n", c.usage)
		}
		return b.String(), nil
	}})
}

func (r *Router) play(ctx context.Context, c player.Caller, args []string, next bool) (string, error) {
	if len(args) == 0 {
		return "", errUsage
	}
	query := strings.Join(args, " ")
	var res *player.PlayResult
	var err error
	if next {
		res, err = r.cfg.Controller.PlayNext(ctx, c, query)
	} else {
		res, err = r.cfg.Controller.Play(ctx, c, query)
	}
	if err != nil {
		return "", err
	}
	if res.Kind == model.SearchKindPlaylist && !next {
		return fmt.Sprintf("Queued %d tracks from **%s**.", len(res.Added), res.PlaylistName), nil
	}
	t := res.Added[0]
	if res.Started {
		// 正在播放的提示由通知负责
		return "", nil
	}
	if next {
		return fmt.Sprintf("**%s** will play next.", t.Title), nil
	}
	return fmt.Sprintf("Queued **%s** [%s].", t.Title, formatDuration(t.DurationMs)), nil
}

// ========== 管理命令 ==========

func (r *Router) requireManager(c player.Caller) error {
	if c.Actor.IsAdmin || c.Actor.CanManage || (r.cfg.OwnerID != "" && c.Actor.UserID == r.cfg.OwnerID) {
		return nil
	}
	return errNotManager
}

func (r *Router) dj(ctx context.Context, c player.Caller, args []string) (string, error) {
	if r.cfg.Settings == nil {
		return "", errNoSettingsDB
	}
	if len(args) == 0 {
		return "", errUsage
	}
	repo := r.cfg.Settings
	sub := strings.ToLower(args[0])
	if sub == "show" {
		s, err := repo.Get(ctx, c.GuildID)
		if err != nil {
			return "", err
		}
		return describeDJ(s), nil
	}
	if err := r.requireManager(c); err != nil {
		return "", err
	}

	var s *model.DJSettings
	var err error
	switch sub {
	case "on", "off":
		s, err = repo.Toggle(ctx, c.GuildID, sub == "on")
	case "role":
		if len(args) != 2 {
			return "", errUsage
		}
		s, err = repo.SetRole(ctx, c.GuildID, mentionID(args[1]))
	case "add":
		if len(args) != 2 {
			return "", errUsage
		}
		s, err = repo.AddUser(ctx, c.GuildID, mentionID(args[1]))
	case "remove":
		if len(args) != 2 {
			return "", errUsage
		}
		s, err = repo.RemoveUser(ctx, c.GuildID, mentionID(args[1]))
	case "reset":
		if err := repo.Reset(ctx, c.GuildID); err != nil {
			return "", err
		}
		return "DJ settings reset.", nil
	default:
		return "", errUsage
	}
	if err != nil {
		return "", err
	}
	return describeDJ(s), nil
}

func describeDJ(s *model.DJSettings) string {
	if s == nil {
		return "DJ mode is **off**."
	}
	state := "off"
	if s.Enabled {
		state = "on"
	}
	role := "none"
	if s.RoleID != "" {
		role = "<@&" + s.RoleID + ">"
	}
	users := make([]string, 0, len(s.UserIDs))
	for _, id := range s.UserIDs {
		users = append(users, "<@"+id+">")
	}
	if len(users) == 0 {
		users = append(users, "none")
	}
	return fmt.Sprintf("DJ mode is **%s**. Role: %s. Users: %s.", state, role, strings.Join(users, ", "))
}

func (r *Router) prefix(ctx context.Context, c player.Caller, args []string) (string, error) {
	if r.cfg.Settings == nil {
		return "", errNoSettingsDB
	}
	if len(args) != 1 {
		return "", errUsage
	}
	if err := r.requireManager(c); err != nil {
		return "", err
	}
	if strings.EqualFold(args[0], "reset") {
		if err := r.cfg.Settings.ResetPrefix(ctx, c.GuildID); err != nil {
			return "", err
		}
		return "Prefix reset to `" + r.cfg.DefaultPrefix + "`.", nil
	}
	if err := r.cfg.Settings.SetPrefix(ctx, c.GuildID, args[0]); err != nil {
		return "", err
	}
	return "Prefix set to `" + strings.TrimSpace(args[0]) + "`.", nil
}

func (r *Router) nodes(context.Context, player.Caller, []string) (string, error) {
	records := r.cfg.Monitor.Snapshot()
	if len(records) == 0 {
		return "No nodes configured.", nil
	}
	var b strings.Builder
	for _, rec := range records {
		st := rec.Status()
		fmt.Fprintf(&b, "`%s` %s players %d/%d cpu %.0f%% ping %dms\n",
			st.Name, st.State, st.PlayingPlayers, st.Players, st.CPU*100, st.PingMs)
	}
	return b.String(), nil
}

// ========== 渲染与解析 ==========

func renderQueue(v *player.QueueView) string {
	var b strings.Builder
	if v.Current != nil {
		fmt.Fprintf(&b, "Now: **%s** [%s]\n", v.Current.Title, formatDuration(v.Current.DurationMs))
	}
	if v.Stats.Count == 0 {
		b.WriteString("The queue is empty.")
		return b.String()
	}
	start := (v.Page.Current-1)*queue.DefaultPageSize + 1
	b.WriteString(listTracks(v.Page.Tracks, start, len(v.Page.Tracks)))
	fmt.Fprintf(&b, "Page %d/%d, %d track(s), %s total, %d requester(s), loop %s",
		v.Page.Current, v.Page.Total, v.Stats.Count, formatDuration(v.Stats.TotalDurationMs), v.Stats.UniqueRequesters, v.Loop)
	return b.String()
}

func listTracks(tracks []*model.Track, start, limit int) string {
	var b strings.Builder
	for i, t := range tracks {
		if i >= limit {
			break
		}
		fmt.Fprintf(&b, "`%d.` %s [%s] - %s\n", start+i, t.Title, formatDuration(t.DurationMs), orDash(t.Requester.Name))
	}
	return b.String()
}

// parseCommand 拆出命令名（小写）和参数
func parseCommand(content, prefix string) (string, []string, bool) {
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(content[len(prefix):])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// parsePosition 用户输入的位置从 1 开始
func parsePosition(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, queue.ErrInvalidIndex
	}
	return n - 1, nil
}

// parseTimestamp 支持秒数、m:ss、h:mm:ss
func parseTimestamp(s string) (int64, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, errUsage
	}
	var total int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 {
			return 0, errUsage
		}
		if i > 0 && n >= 60 {
			return 0, errUsage
		}
		total = total*60 + n
	}
	return total * 1000, nil
}

// mentionID 从 <@123>、<@!123>、<@&123> 中取出 ID
func mentionID(s string) string {
	s = strings.TrimPrefix(s, "<")
	s = strings.TrimSuffix(s, ">")
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimPrefix(s, "!")
	s = strings.TrimPrefix(s, "&")
	return s
}

// errorMessage 把已知错误转为给用户看的文字
func errorMessage(err error) string {
	switch {
	case errors.Is(err, permission.ErrPermissionDenied):
		return "You can't do that: " + strings.TrimPrefix(err.Error(), permission.ErrPermissionDenied.Error()+": ") + "."
	case errors.Is(err, player.ErrNotInVoice):
		return "You need to be in a voice channel."
	case errors.Is(err, player.ErrOtherChannel):
		return "You need to be in the same voice channel as me."
	case errors.Is(err, player.ErrInvalidVolume):
		return fmt.Sprintf("Volume must be between 0 and %d.", player.MaxVolume)
	case errors.Is(err, player.ErrInvalidPosition):
		return "That position is outside the current track."
	case errors.Is(err, player.ErrStartFailed):
		return "I couldn't start playback, please try again."
	case errors.Is(err, session.ErrNoActiveSession):
		return "Nothing is playing in this server."
	case errors.Is(err, session.ErrNothingPlaying):
		return "Nothing is playing right now."
	case errors.Is(err, queue.ErrInvalidIndex):
		return "That position is not in the queue."
	case errors.Is(err, queue.ErrNotFound):
		return "Nothing matched."
	case errors.Is(err, node.ErrNoNodesAvailable):
		return "No audio node is available right now."
	case errors.Is(err, repository.ErrInvalidPrefix):
		return fmt.Sprintf("A prefix must be 1 to %d characters without spaces.", repository.MaxPrefixLength)
	case errors.Is(err, errNotManager):
		return "You need the Manage Server permission."
	case errors.Is(err, errNoSettingsDB):
		return "Settings storage is not configured."
	default:
		return "Something went wrong."
	}
}

// ========== 限流 ==========

// limiterSet 每个用户一个令牌桶
type limiterSet struct {
	mu    sync.Mutex
	limit rate.Limit
	burst int
	users map[string]*rate.Limiter
}

func newLimiterSet(limit rate.Limit, burst int) *limiterSet {
	if limit <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{limit: limit, burst: burst, users: make(map[string]*rate.Limiter)}
}

func (l *limiterSet) Allow(userID string) bool {
	l.mu.Lock()
	lim, ok := l.users[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.users[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
