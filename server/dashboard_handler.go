package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/auth"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/dashboard"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/session"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

type contextKey string

const usernameKey contextKey = "username"

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to encode response", logger.ErrorField(err))
	}
}

// ========== 认证 ==========

// LoginHandler 面板登录
func (s *Server) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	// 未配置密码哈希时面板登录关闭
	if s.opts.PasswordHash == "" || req.Username != s.opts.Username ||
		!auth.VerifyPassword(req.Password, s.opts.PasswordHash) {
		logger.Warn("[Login] 登录失败", logger.String("username", req.Username))
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	token, err := s.opts.Issuer.GenerateToken(req.Username)
	if err != nil {
		logger.Error("[Login] 生成Token失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("[Login] 登录成功", logger.String("username", req.Username))
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, Username: req.Username})
}

// AuthMiddleware 校验 Bearer token
func (s *Server) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := s.opts.Issuer.ParseToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// UsernameFromContext 取出已认证的用户名
func UsernameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(usernameKey).(string)
	return name, ok
}

// ========== 查询 ==========

// NodesHandler 节点健康状态
func (s *Server) NodesHandler(w http.ResponseWriter, r *http.Request) {
	records := s.opts.Nodes.Snapshot()
	out := make([]model.NodeStatus, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Status())
	}
	writeJSON(w, http.StatusOK, out)
}

// GuildsHandler 有会话的服务器列表，合并本进程与缓存
func (s *Server) GuildsHandler(w http.ResponseWriter, r *http.Request) {
	seen := make(map[string]bool)
	for _, id := range s.opts.Sessions.Guilds() {
		seen[id] = true
	}
	if s.opts.Cache != nil {
		ids, err := s.opts.Cache.ActiveGuilds(r.Context())
		if err != nil {
			logger.Warn("failed to read active guilds from cache", logger.ErrorField(err))
		}
		for _, id := range ids {
			seen[id] = true
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	writeJSON(w, http.StatusOK, map[string]interface{}{"guilds": out})
}

// GuildStateHandler 单个服务器的播放状态；本进程没有会话时回落到 Redis
func (s *Server) GuildStateHandler(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guildId"]

	state, err := s.opts.Sessions.Snapshot(guildID)
	if err == nil {
		writeJSON(w, http.StatusOK, state)
		return
	}
	if !errors.Is(err, session.ErrNoActiveSession) {
		logger.Error("failed to snapshot session", logger.String("guildId", guildID), logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if s.opts.Cache != nil {
		cached, err := s.opts.Cache.GetState(r.Context(), guildID)
		if err != nil {
			logger.Warn("failed to read guild state from cache", logger.String("guildId", guildID), logger.ErrorField(err))
		} else if cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}
	http.Error(w, "No active session", http.StatusNotFound)
}

// ========== WebSocket ==========

// WebSocketHandler 面板实时推送
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "缺少认证信息", http.StatusUnauthorized)
		return
	}
	claims, err := s.opts.Issuer.ParseToken(token)
	if err != nil {
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("WebSocket 升级失败", logger.ErrorField(err))
		return
	}

	client := dashboard.NewClient(s.opts.Hub, conn, claims.Username)
	if guildID := r.URL.Query().Get("guildId"); guildID != "" {
		client.Subscribe(guildID)
	}
	s.opts.Hub.Register(client)

	go client.WritePump()
	go client.ReadPump(context.Background())

	logger.Info("dashboard websocket connected", logger.String("username", claims.Username))
}
