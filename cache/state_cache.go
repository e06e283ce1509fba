package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

const (
	guildStateKey   = "guild:%s:state" // String: GuildState JSON
	activeGuildsKey = "guilds:active"  // Set: 有会话的服务器
	nodeStatusKey   = "nodes:status"   // String: []NodeStatus JSON
	defaultStateTTL = 24 * time.Hour
	nodeStatusTTL   = 5 * time.Minute
	writeTimeout    = 3 * time.Second
)

// ErrNotInitialized Redis 客户端未初始化
var ErrNotInitialized = errors.New("redis client not initialized")

// StateCache 会话状态与节点状态缓存，供面板接口读取
type StateCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStateCache 创建状态缓存；ttl<=0 时使用 24 小时
func NewStateCache(client *redis.Client, ttl time.Duration) *StateCache {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &StateCache{client: client, ttl: ttl}
}

// GuildStateKey 服务器状态的键
func GuildStateKey(guildID string) string {
	return fmt.Sprintf(guildStateKey, guildID)
}

// ========== 服务器状态 ==========

// SaveState 写入服务器状态
func (c *StateCache) SaveState(ctx context.Context, state *model.GuildState) error {
	if c.client == nil {
		return ErrNotInitialized
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, GuildStateKey(state.GuildID), data, c.ttl)
	pipe.SAdd(ctx, activeGuildsKey, state.GuildID)
	pipe.Expire(ctx, activeGuildsKey, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// GetState 读取服务器状态，不存在时返回 nil
func (c *StateCache) GetState(ctx context.Context, guildID string) (*model.GuildState, error) {
	if c.client == nil {
		return nil, ErrNotInitialized
	}
	data, err := c.client.Get(ctx, GuildStateKey(guildID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var state model.GuildState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &state, nil
}

// DeleteState 删除服务器状态
func (c *StateCache) DeleteState(ctx context.Context, guildID string) error {
	if c.client == nil {
		return ErrNotInitialized
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, GuildStateKey(guildID))
	pipe.SRem(ctx, activeGuildsKey, guildID)
	_, err := pipe.Exec(ctx)
	return err
}

// ActiveGuilds 当前有会话的服务器
func (c *StateCache) ActiveGuilds(ctx context.Context) ([]string, error) {
	if c.client == nil {
		return nil, ErrNotInitialized
	}
	return c.client.SMembers(ctx, activeGuildsKey).Result()
}

// ========== 节点状态 ==========

// SaveNodes 写入节点状态列表
func (c *StateCache) SaveNodes(ctx context.Context, nodes []model.NodeStatus) error {
	if c.client == nil {
		return ErrNotInitialized
	}
	data, err := json.Marshal(nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}
	return c.client.Set(ctx, nodeStatusKey, data, nodeStatusTTL).Err()
}

// GetNodes 读取节点状态列表
func (c *StateCache) GetNodes(ctx context.Context) ([]model.NodeStatus, error) {
	if c.client == nil {
		return nil, ErrNotInitialized
	}
	data, err := c.client.Get(ctx, nodeStatusKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var nodes []model.NodeStatus
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}
	return nodes, nil
}

// ========== 会话观察者 ==========

// GuildStateChanged 会话状态变化时写入缓存
func (c *StateCache) GuildStateChanged(state *model.GuildState) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.SaveState(ctx, state); err != nil {
		logger.Warn("写入会话状态缓存失败", logger.String("guild_id", state.GuildID), logger.ErrorField(err))
	}
}

// GuildDestroyed 会话结束时删除缓存
func (c *StateCache) GuildDestroyed(guildID, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.DeleteState(ctx, guildID); err != nil {
		logger.Warn("删除会话状态缓存失败", logger.String("guild_id", guildID), logger.ErrorField(err))
	}
}
