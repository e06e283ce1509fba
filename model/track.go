package model

import (
	"fmt"
	"strings"
)

// Requester 点歌人
type Requester struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Track 队列中的一首歌曲，由搜索协作方产生，核心层只存引用
type Track struct {
	Encoded    string    `json:"encoded,omitempty"` // 后端节点使用的编码串
	URI        string    `json:"uri,omitempty"`
	Title      string    `json:"title"`
	Author     string    `json:"author"`
	DurationMs int64     `json:"durationMs"`
	Thumbnail  string    `json:"thumbnail,omitempty"`
	Requester  Requester `json:"requester"`
}

// Key 去重/身份键：URI 优先，URI 为空时回退到标题
func (t *Track) Key() string {
	if t == nil {
		return ""
	}
	if t.URI != "" {
		return t.URI
	}
	return t.Title
}

// Clone 返回一份可独立修改的拷贝
func (t *Track) Clone() *Track {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// CloneTracks 逐个克隆
func CloneTracks(tracks []*Track) []*Track {
	out := make([]*Track, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.Clone())
	}
	return out
}

// LoopMode 循环模式
type LoopMode int

const (
	LoopOff LoopMode = iota
	LoopTrack
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "off"
	}
}

// ParseLoopMode 解析命令参数中的循环模式
func ParseLoopMode(s string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "disable":
		return LoopOff, nil
	case "track", "song", "single":
		return LoopTrack, nil
	case "queue", "all":
		return LoopQueue, nil
	}
	return LoopOff, fmt.Errorf("unknown loop mode: %q", s)
}

// SearchKind 搜索结果类型
type SearchKind string

const (
	SearchKindTrack    SearchKind = "TRACK"
	SearchKindPlaylist SearchKind = "PLAYLIST"
	SearchKindSearch   SearchKind = "SEARCH_RESULT"
	SearchKindEmpty    SearchKind = "EMPTY"
)

// SearchResult 搜索协作方返回的结果
type SearchResult struct {
	Kind         SearchKind `json:"kind"`
	Tracks       []*Track   `json:"tracks"`
	PlaylistName string     `json:"playlistName,omitempty"`
}
