package model

// ========== 非持久化结构（用于 Redis 和 WebSocket） ==========

// GuildState 服务器播放状态快照（Redis 缓存 / 面板推送）
type GuildState struct {
	GuildID        string   `json:"guildId"`
	VoiceChannelID string   `json:"voiceChannelId,omitempty"`
	TextChannelID  string   `json:"textChannelId,omitempty"`
	Node           string   `json:"node,omitempty"`
	Current        *Track   `json:"current,omitempty"`
	Queue          []*Track `json:"queue"`
	Loop           string   `json:"loop"`
	Paused         bool     `json:"paused"`
	Volume         int      `json:"volume"`
	HistorySize    int      `json:"historySize"`
	UpdatedAt      int64    `json:"updatedAt"` // 时间戳毫秒
}

// NodeStatus 节点状态（面板和 CLI 展示用）
type NodeStatus struct {
	Name           string  `json:"name"`
	State          string  `json:"state"`
	Players        int     `json:"players"`
	PlayingPlayers int     `json:"playingPlayers"`
	CPU            float64 `json:"cpu"`
	MemoryUsed     int64   `json:"memoryUsed"`
	MemoryFree     int64   `json:"memoryFree"`
	UptimeMs       int64   `json:"uptimeMs"`
	PingMs         int64   `json:"pingMs"`
	Score          float64 `json:"score"`
}
