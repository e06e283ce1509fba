// Package dashboard 通过 WebSocket 向网页面板推送会话和节点状态。
package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// MessageType 消息类型
type MessageType string

const (
	// 服务端 -> 面板
	MsgTypeState            MessageType = "state"             // 会话状态
	MsgTypeNodeUpdate       MessageType = "node_update"       // 节点状态
	MsgTypeSessionDestroyed MessageType = "session_destroyed" // 会话结束
	MsgTypeError            MessageType = "error"
	MsgTypePong             MessageType = "pong"

	// 面板 -> 服务端
	MsgTypeSubscribe   MessageType = "subscribe"
	MsgTypeUnsubscribe MessageType = "unsubscribe"
	MsgTypePing        MessageType = "ping"
)

// AllGuilds 订阅全部服务器
const AllGuilds = "*"

const (
	sendBuffer   = 64
	readLimit    = 4096
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// WSMessage WebSocket 消息结构
type WSMessage struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	GuildID   string          `json:"guildId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// DestroyedData 会话结束数据
type DestroyedData struct {
	Reason string `json:"reason"`
}

// Client 面板连接
type Client struct {
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	Username string

	mu     sync.RWMutex
	guilds map[string]bool
}

// NewClient 创建客户端
func NewClient(hub *Hub, conn *websocket.Conn, username string) *Client {
	return &Client{
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, sendBuffer),
		Username: username,
		guilds:   make(map[string]bool),
	}
}

// Subscribe 订阅服务器
func (c *Client) Subscribe(guildID string) {
	c.mu.Lock()
	c.guilds[guildID] = true
	c.mu.Unlock()
}

// Unsubscribe 取消订阅
func (c *Client) Unsubscribe(guildID string) {
	c.mu.Lock()
	delete(c.guilds, guildID)
	c.mu.Unlock()
}

// Wants 是否关心该服务器的消息；guildID 为空的消息（节点状态）所有人都收
func (c *Client) Wants(guildID string) bool {
	if guildID == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.guilds[AllGuilds] || c.guilds[guildID]
}

type broadcastMessage struct {
	guildID string
	data    []byte
}

// Hub 面板 WebSocket 管理中心
type Hub struct {
	clients map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage
	done       chan struct{}
	stopOnce   sync.Once
}

// NewHub 创建 Hub
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, 256),
		done:       make(chan struct{}),
	}
}

// Run 启动 Hub 主循环
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			logger.Info("dashboard client registered", logger.String("username", client.Username))

		case client := <-h.unregister:
			h.remove(client)

		case msg := <-h.broadcast:
			h.deliver(msg)

		case <-h.done:
			h.cleanup()
			return
		}
	}
}

// Stop 停止 Hub
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register 注册客户端
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount 当前连接数
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
		logger.Info("dashboard client unregistered", logger.String("username", client.Username))
	}
}

func (h *Hub) deliver(msg *broadcastMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		if client.Wants(msg.guildID) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.Send <- msg.data:
		default:
			// 发送缓冲区满，直接断开
			h.remove(client)
		}
	}
}

func (h *Hub) cleanup() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.Send)
	}
	h.clients = make(map[*Client]bool)
}

// Publish 编码并广播一条消息；队列满时丢弃
func (h *Hub) Publish(msgType MessageType, guildID string, payload interface{}) {
	data, err := encode(msgType, guildID, payload)
	if err != nil {
		logger.Warn("dashboard message encode failed", logger.ErrorField(err))
		return
	}
	select {
	case h.broadcast <- &broadcastMessage{guildID: guildID, data: data}:
	default:
		logger.Warn("dashboard broadcast queue full, dropping", logger.String("type", string(msgType)))
	}
}

func encode(msgType MessageType, guildID string, payload interface{}) ([]byte, error) {
	msg := WSMessage{
		ID:        uuid.NewString(),
		Type:      msgType,
		GuildID:   guildID,
		Timestamp: time.Now().UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}

// ========== 观察者 ==========

// GuildStateChanged 推送会话状态
func (h *Hub) GuildStateChanged(state *model.GuildState) {
	h.Publish(MsgTypeState, state.GuildID, state)
}

// GuildDestroyed 推送会话结束
func (h *Hub) GuildDestroyed(guildID, reason string) {
	h.Publish(MsgTypeSessionDestroyed, guildID, DestroyedData{Reason: reason})
}

// NodeChanged 推送节点状态
func (h *Hub) NodeChanged(status model.NodeStatus) {
	h.Publish(MsgTypeNodeUpdate, "", status)
}

// ========== Client 方法 ==========

// ReadPump 读取面板发来的订阅/心跳消息
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(readLimit)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Warn("dashboard websocket read error", logger.ErrorField(err), logger.String("username", c.Username))
			}
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(MsgTypeError, "", map[string]string{"message": "invalid message format"})
			continue
		}

		switch msg.Type {
		case MsgTypeSubscribe:
			if msg.GuildID != "" {
				c.Subscribe(msg.GuildID)
			}
		case MsgTypeUnsubscribe:
			c.Unsubscribe(msg.GuildID)
		case MsgTypePing:
			c.reply(MsgTypePong, "", nil)
		default:
			c.reply(MsgTypeError, msg.GuildID, map[string]string{"message": "unknown message type"})
		}
	}
}

func (c *Client) reply(msgType MessageType, guildID string, payload interface{}) {
	data, err := encode(msgType, guildID, payload)
	if err != nil {
		return
	}
	select {
	case c.Send <- data:
	default:
	}
}

// WritePump 写入消息循环
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub 关闭了通道
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
