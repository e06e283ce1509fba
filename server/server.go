// Package server 提供面板使用的 HTTP API 与 WebSocket 入口。
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/auth"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/dashboard"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/node"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
)

// SessionSource 进程内的会话状态（session.Store）
type SessionSource interface {
	Guilds() []string
	Snapshot(guildID string) (*model.GuildState, error)
}

// NodeSource 节点健康状态（node.Monitor）
type NodeSource interface {
	Snapshot() []node.Record
}

// StateCache Redis 中的状态缓存，可为 nil
type StateCache interface {
	GetState(ctx context.Context, guildID string) (*model.GuildState, error)
	ActiveGuilds(ctx context.Context) ([]string, error)
}

// Options 服务依赖
type Options struct {
	Addr         string
	Username     string
	PasswordHash string
	Issuer       *auth.Issuer
	Sessions     SessionSource
	Nodes        NodeSource
	Cache        StateCache
	Hub          *dashboard.Hub
}

// Server 面板 HTTP 服务
type Server struct {
	opts     Options
	router   *mux.Router
	http     *http.Server
	upgrader websocket.Upgrader
}

// New 创建服务并注册路由
func New(opts Options) *Server {
	s := &Server{
		opts:   opts,
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.routes()
	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler 返回路由，测试使用
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	s.router.Use(corsMiddleware)

	s.router.HandleFunc("/api/auth/login", s.LoginHandler).Methods(http.MethodPost, http.MethodOptions)
	s.router.HandleFunc("/api/nodes", s.AuthMiddleware(s.NodesHandler)).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/guilds", s.AuthMiddleware(s.GuildsHandler)).Methods(http.MethodGet, http.MethodOptions)
	s.router.HandleFunc("/api/guilds/{guildId}/state", s.AuthMiddleware(s.GuildStateHandler)).Methods(http.MethodGet, http.MethodOptions)

	// WebSocket 无法带 header，token 走查询参数
	s.router.HandleFunc("/ws", s.WebSocketHandler)

	logger.Info("dashboard routes registered",
		logger.String("endpoints", "POST /api/auth/login, GET /api/nodes, GET /api/guilds, GET /api/guilds/{guildId}/state, WS /ws"))
}

// ListenAndServe 阻塞运行直到 Shutdown
func (s *Server) ListenAndServe() error {
	logger.Info("dashboard server starting", logger.String("addr", s.opts.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
