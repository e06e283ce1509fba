// Package queue 实现待播放队列上的纯数据结构操作（无 I/O，无外部状态）。
//
// Queue 本身不加锁，由持有它的播放会话负责串行化访问。
package queue

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// DefaultPageSize 分页默认每页条数
const DefaultPageSize = 10

// unknownRequester 无法识别点歌人的歌曲归入该分组
const unknownRequester = "unknown"

var (
	// ErrInvalidIndex 队列位置越界
	ErrInvalidIndex = errors.New("queue: index out of range")
	// ErrNotFound 查找或删除没有命中
	ErrNotFound = errors.New("queue: not found")
)

// Queue 有序的待播放列表，下标 0 永远是下一首
type Queue struct {
	tracks []*model.Track
	rnd    *rand.Rand
}

// Option 构造选项
type Option func(*Queue)

// WithRand 注入随机源（测试用）
func WithRand(r *rand.Rand) Option {
	return func(q *Queue) { q.rnd = r }
}

// New 创建队列
func New(opts ...Option) *Queue {
	q := &Queue{tracks: make([]*model.Track, 0)}
	for _, opt := range opts {
		opt(q)
	}
	if q.rnd == nil {
		q.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return q
}

// Match 搜索命中
type Match struct {
	Index int
	Track *model.Track
}

// Page 分页结果
type Page struct {
	Tracks  []*model.Track
	Current int
	Total   int
}

// Stats 队列统计
type Stats struct {
	Count            int
	TotalDurationMs  int64
	UniqueRequesters int
}

// Len 队列长度
func (q *Queue) Len() int {
	return len(q.tracks)
}

// Tracks 返回队列副本（元素仍是同一批指针）
func (q *Queue) Tracks() []*model.Track {
	out := make([]*model.Track, len(q.tracks))
	copy(out, q.tracks)
	return out
}

// Snapshot 返回队列中每首歌的克隆
func (q *Queue) Snapshot() []*model.Track {
	return model.CloneTracks(q.tracks)
}

// Add 追加到队尾
func (q *Queue) Add(tracks ...*model.Track) {
	for _, t := range tracks {
		if t != nil {
			q.tracks = append(q.tracks, t)
		}
	}
}

// AddToFront 插入到队首（下一首播放）
func (q *Queue) AddToFront(track *model.Track) {
	if track == nil {
		return
	}
	q.tracks = append([]*model.Track{track}, q.tracks...)
}

// Shift 弹出下一首
func (q *Queue) Shift() (*model.Track, bool) {
	if len(q.tracks) == 0 {
		return nil, false
	}
	t := q.tracks[0]
	q.tracks[0] = nil
	q.tracks = q.tracks[1:]
	return t, true
}

// Clear 清空队列，返回清掉的数量
func (q *Queue) Clear() int {
	n := len(q.tracks)
	q.tracks = make([]*model.Track, 0)
	return n
}

func (q *Queue) valid(i int) bool {
	return i >= 0 && i < len(q.tracks)
}

// Remove 删除指定位置的歌曲
func (q *Queue) Remove(index int) (*model.Track, error) {
	if !q.valid(index) {
		return nil, ErrInvalidIndex
	}
	removed := q.tracks[index]
	rebuilt := make([]*model.Track, 0, len(q.tracks)-1)
	rebuilt = append(rebuilt, q.tracks[:index]...)
	rebuilt = append(rebuilt, q.tracks[index+1:]...)
	q.tracks = rebuilt
	return removed, nil
}

// Move 把 from 位置的歌曲移动到 to 位置
func (q *Queue) Move(from, to int) error {
	if !q.valid(from) || !q.valid(to) {
		return ErrInvalidIndex
	}
	if from == to {
		return nil
	}
	t := q.tracks[from]
	rest := make([]*model.Track, 0, len(q.tracks))
	rest = append(rest, q.tracks[:from]...)
	rest = append(rest, q.tracks[from+1:]...)

	moved := make([]*model.Track, 0, len(q.tracks))
	moved = append(moved, rest[:to]...)
	moved = append(moved, t)
	moved = append(moved, rest[to:]...)
	q.tracks = moved
	return nil
}

// RemoveDuplicates 去重，保留每个键第一次出现的歌曲，返回删除数量
func (q *Queue) RemoveDuplicates() int {
	seen := make(map[string]struct{}, len(q.tracks))
	kept := make([]*model.Track, 0, len(q.tracks))
	for _, t := range q.tracks {
		key := t.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		kept = append(kept, t)
	}
	removed := len(q.tracks) - len(kept)
	q.tracks = kept
	return removed
}

// Reverse 原地反转
func (q *Queue) Reverse() {
	for i, j := 0, len(q.tracks)-1; i < j; i, j = i+1, j-1 {
		q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	}
}

// RemoveByUser 删除某个用户点的全部歌曲，返回删除数量
func (q *Queue) RemoveByUser(requesterID string) int {
	kept := make([]*model.Track, 0, len(q.tracks))
	for _, t := range q.tracks {
		if t.Requester.ID == requesterID {
			continue
		}
		kept = append(kept, t)
	}
	removed := len(q.tracks) - len(kept)
	q.tracks = kept
	return removed
}

// Search 按标题或作者做不区分大小写的子串匹配，保持原顺序
func (q *Queue) Search(keyword string) []Match {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	matches := make([]Match, 0)
	if kw == "" {
		return matches
	}
	for i, t := range q.tracks {
		if strings.Contains(strings.ToLower(t.Title), kw) || strings.Contains(strings.ToLower(t.Author), kw) {
			matches = append(matches, Match{Index: i, Track: t})
		}
	}
	return matches
}

// Page 分页，页码会被夹到 [1, 总页数] 之间，空队列也有 1 页
func (q *Queue) Page(page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	total := (len(q.tracks) + pageSize - 1) / pageSize
	if total < 1 {
		total = 1
	}
	if page < 1 {
		page = 1
	}
	if page > total {
		page = total
	}
	start := (page - 1) * pageSize
	end := start + pageSize
	if end > len(q.tracks) {
		end = len(q.tracks)
	}
	slice := make([]*model.Track, end-start)
	copy(slice, q.tracks[start:end])
	return Page{Tracks: slice, Current: page, Total: total}
}

// Stats 统计数量、总时长和不同点歌人数量
func (q *Queue) Stats() Stats {
	st := Stats{Count: len(q.tracks)}
	requesters := make(map[string]struct{})
	for _, t := range q.tracks {
		st.TotalDurationMs += t.DurationMs
		requesters[requesterKey(t)] = struct{}{}
	}
	st.UniqueRequesters = len(requesters)
	return st
}

// Shuffle 均匀随机打乱（Fisher-Yates）
func (q *Queue) Shuffle() {
	q.rnd.Shuffle(len(q.tracks), func(i, j int) {
		q.tracks[i], q.tracks[j] = q.tracks[j], q.tracks[i]
	})
}

// FairShuffle 按点歌人分组，组内打乱，再按轮次交错合并。
// 分组顺序取点歌人在队列中第一次出现的顺序。
func (q *Queue) FairShuffle() {
	if len(q.tracks) < 2 {
		return
	}

	order := make([]string, 0)
	groups := make(map[string][]*model.Track)
	for _, t := range q.tracks {
		key := requesterKey(t)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	longest := 0
	for _, key := range order {
		g := groups[key]
		q.rnd.Shuffle(len(g), func(i, j int) { g[i], g[j] = g[j], g[i] })
		if len(g) > longest {
			longest = len(g)
		}
	}

	result := make([]*model.Track, 0, len(q.tracks))
	for round := 0; round < longest; round++ {
		for _, key := range order {
			if g := groups[key]; round < len(g) {
				result = append(result, g[round])
			}
		}
	}
	q.tracks = result
}

func requesterKey(t *model.Track) string {
	if t == nil || t.Requester.ID == "" {
		return unknownRequester
	}
	return t.Requester.ID
}
