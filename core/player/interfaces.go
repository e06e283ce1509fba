package player

import (
	"context"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// Resolver 把用户输入解析为曲目
type Resolver interface {
	Search(ctx context.Context, query string, requester model.Requester) (*model.SearchResult, error)
}

// Handle 后端节点上的一个播放器。
// Play 传入的 *model.Track 会在 trackStart/trackEnd 回调中原样带回。
type Handle interface {
	Play(ctx context.Context, track *model.Track) error
	Stop(ctx context.Context) error
	Pause(ctx context.Context, paused bool) error
	Seek(ctx context.Context, positionMs int64) error
	SetVolume(ctx context.Context, volume int) error
	Destroy(ctx context.Context) error
}

// Connector 后端连接器
type Connector interface {
	CreatePlayer(ctx context.Context, nodeName, guildID, voiceChannelID string) (Handle, error)
}

// SettingsStore DJ 设置读取
type SettingsStore interface {
	Get(ctx context.Context, guildID string) (*model.DJSettings, error)
}

// EventKind 通知类型
type EventKind string

const (
	EventNowPlaying  EventKind = "now_playing"
	EventQueueEmpty  EventKind = "queue_empty"
	EventSessionEnd  EventKind = "session_end"
	EventNodeChanged EventKind = "node_changed"
)

// Event 需要告知用户的语义事件，如何渲染由通知实现决定
type Event struct {
	Kind    EventKind
	GuildID string
	Track   *model.Track
	Node    string
	Reason  string
}

// Notifier 往文字频道发送/删除消息
type Notifier interface {
	Notify(ctx context.Context, channelID string, ev Event) (messageID string, err error)
	Delete(ctx context.Context, channelID, messageID string) error
}

// Observer 订阅会话状态变化（面板推送、缓存）
type Observer interface {
	GuildStateChanged(state *model.GuildState)
	GuildDestroyed(guildID, reason string)
}

// EndReason 曲目结束原因
type EndReason string

const (
	EndFinished   EndReason = "finished"
	EndLoadFailed EndReason = "loadFailed"
	EndStuck      EndReason = "stuck"
	EndStopped    EndReason = "stopped"
	EndReplaced   EndReason = "replaced"
	EndCleanup    EndReason = "cleanup"
)

// StartsNext 该原因结束后是否继续播放下一首
func (r EndReason) StartsNext() bool {
	switch r {
	case EndFinished, EndLoadFailed, EndStuck:
		return true
	default:
		return false
	}
}

func (r EndReason) failed() bool {
	return r == EndLoadFailed || r == EndStuck
}
