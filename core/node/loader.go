package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// DefaultSearchPrefix 非链接输入使用的搜索源
const DefaultSearchPrefix = "ytsearch:"

// ErrLoadFailed 节点返回了加载错误
var ErrLoadFailed = errors.New("node: track load failed")

// loadResult /v4/loadtracks 返回结构，data 随 loadType 变化
type loadResult struct {
	LoadType string          `json:"loadType"`
	Data     json.RawMessage `json:"data"`
}

type trackInfo struct {
	Identifier string `json:"identifier"`
	Author     string `json:"author"`
	Length     int64  `json:"length"`
	IsStream   bool   `json:"isStream"`
	Title      string `json:"title"`
	URI        string `json:"uri"`
	ArtworkURL string `json:"artworkUrl"`
}

type remoteTrack struct {
	Encoded string    `json:"encoded"`
	Info    trackInfo `json:"info"`
}

type remotePlaylist struct {
	Info struct {
		Name string `json:"name"`
	} `json:"info"`
	Tracks []remoteTrack `json:"tracks"`
}

type remoteError struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Loader 通过得分最低的节点解析搜索词或链接
type Loader struct {
	monitor *Monitor
	prober  *Prober
	client  *http.Client
	prefix  string
}

// NewLoader 创建解析器；节点地址来自 Prober 的列表
func NewLoader(monitor *Monitor, prober *Prober, client *http.Client) *Loader {
	if client == nil {
		client = prober.client
	}
	return &Loader{monitor: monitor, prober: prober, client: client, prefix: DefaultSearchPrefix}
}

// Search 解析用户输入
func (l *Loader) Search(ctx context.Context, query string, requester model.Requester) (*model.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &model.SearchResult{Kind: model.SearchKindEmpty}, nil
	}

	name, err := l.monitor.Select()
	if err != nil {
		return nil, err
	}
	ep, ok := l.prober.Endpoint(name)
	if !ok {
		return nil, fmt.Errorf("node %s has no endpoint", name)
	}

	res, err := l.load(ctx, ep, identifier(query, l.prefix))
	if err != nil {
		l.monitor.RecordFailure(name, TrackLoad)
		logger.Warn("节点解析失败", logger.String("node", name), logger.String("query", query), logger.ErrorField(err))
		return nil, err
	}
	for _, t := range res.Tracks {
		t.Requester = requester
	}
	return res, nil
}

func identifier(query, prefix string) string {
	if u, err := url.Parse(query); err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return query
	}
	// 已带来源前缀（scsearch: 等）时原样使用
	if i := strings.Index(query, "search:"); i > 0 && !strings.Contains(query[:i], " ") {
		return query
	}
	return prefix + query
}

func (l *Loader) load(ctx context.Context, ep Endpoint, ident string) (*model.SearchResult, error) {
	u := strings.TrimRight(ep.BaseURL, "/") + "/v4/loadtracks?identifier=" + url.QueryEscape(ident)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if ep.Password != "" {
		req.Header.Set("Authorization", ep.Password)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request loadtracks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body loadResult
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode loadtracks: %w", err)
	}
	return convert(body)
}

func convert(body loadResult) (*model.SearchResult, error) {
	switch body.LoadType {
	case "track":
		var t remoteTrack
		if err := json.Unmarshal(body.Data, &t); err != nil {
			return nil, fmt.Errorf("decode track: %w", err)
		}
		return &model.SearchResult{Kind: model.SearchKindTrack, Tracks: []*model.Track{t.toModel()}}, nil

	case "playlist":
		var p remotePlaylist
		if err := json.Unmarshal(body.Data, &p); err != nil {
			return nil, fmt.Errorf("decode playlist: %w", err)
		}
		return &model.SearchResult{
			Kind:         model.SearchKindPlaylist,
			Tracks:       toModels(p.Tracks),
			PlaylistName: p.Info.Name,
		}, nil

	case "search":
		var ts []remoteTrack
		if err := json.Unmarshal(body.Data, &ts); err != nil {
			return nil, fmt.Errorf("decode search: %w", err)
		}
		if len(ts) == 0 {
			return &model.SearchResult{Kind: model.SearchKindEmpty}, nil
		}
		return &model.SearchResult{Kind: model.SearchKindSearch, Tracks: toModels(ts)}, nil

	case "empty":
		return &model.SearchResult{Kind: model.SearchKindEmpty}, nil

	case "error":
		var e remoteError
		_ = json.Unmarshal(body.Data, &e)
		return nil, fmt.Errorf("%w: %s (%s)", ErrLoadFailed, e.Message, e.Severity)

	default:
		return nil, fmt.Errorf("unknown load type %q", body.LoadType)
	}
}

func (t remoteTrack) toModel() *model.Track {
	return &model.Track{
		Encoded:    t.Encoded,
		URI:        t.Info.URI,
		Title:      t.Info.Title,
		Author:     t.Info.Author,
		DurationMs: t.Info.Length,
		Thumbnail:  t.Info.ArtworkURL,
	}
}

func toModels(ts []remoteTrack) []*model.Track {
	out := make([]*model.Track, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.toModel())
	}
	return out
}
