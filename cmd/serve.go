package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/wangyi68/Animal-Music-Client-TS-sub000/cache"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/config"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/auth"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/autoleave"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/dashboard"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/node"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/player"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/core/session"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/db"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/discord"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/logger"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/model"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/repository"
	"github.com/wangyi68/Animal-Music-Client-TS-sub000/server"
)

const shutdownTimeout = 10 * time.Second

// errNoBackend 播放器协议由外部连接器提供，未接入时无法创建播放器
var errNoBackend = errors.New("playback backend is not attached")

type detachedConnector struct{}

func (detachedConnector) CreatePlayer(context.Context, string, string, string) (player.Handle, error) {
	return nil, errNoBackend
}

// ConnectorFactory 构造播放后端连接器；连接器通过 ctrl 回报 trackStart/trackEnd 等事件
type ConnectorFactory func(ctx context.Context, cfg *config.Config, monitor *node.Monitor, ctrl *player.Controller) (player.Connector, error)

var connectorFactory ConnectorFactory

// UseConnector 在 Execute 之前调用，接入实际的播放后端
func UseConnector(f ConnectorFactory) {
	connectorFactory = f
}

// lateConnector 控制器需要先于后端连接器创建，这里先占位
type lateConnector struct {
	inner player.Connector
}

func (l *lateConnector) CreatePlayer(ctx context.Context, nodeName, guildID, voiceChannelID string) (player.Handle, error) {
	if l.inner == nil {
		return nil, errNoBackend
	}
	return l.inner.CreatePlayer(ctx, nodeName, guildID, voiceChannelID)
}

// buildConnector 没有注册后端时返回拒绝创建播放器的连接器
func buildConnector(ctx context.Context, monitor *node.Monitor, ctrl *player.Controller) (player.Connector, error) {
	if connectorFactory == nil {
		logger.Warn("未接入播放后端，点歌将无法开始播放")
		return detachedConnector{}, nil
	}
	conn, err := connectorFactory(ctx, cfg, monitor, ctrl)
	if err != nil {
		return nil, fmt.Errorf("create playback connector: %w", err)
	}
	return conn, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动机器人、节点监控和面板服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func endpoints(nodes []config.NodeConfig) []node.Endpoint {
	out := make([]node.Endpoint, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, node.Endpoint{Name: n.Name, BaseURL: n.BaseURL(), Password: n.Password})
	}
	return out
}

func nodeStatuses(records []node.Record) []model.NodeStatus {
	out := make([]model.NodeStatus, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Status())
	}
	return out
}

func runServe() error {
	if cfg.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========== 节点 ==========
	monitor := node.NewMonitor(node.WithPenaltyWindow(cfg.PenaltyWindow))
	prober := node.NewProber(monitor, nil, cfg.ProbeInterval)
	nodes, err := cfg.Nodes()
	if err != nil {
		logger.Warn("读取节点列表失败，等待节点文件更新", logger.ErrorField(err))
	}
	prober.SetEndpoints(endpoints(nodes))
	if cfg.NodesJSON == "" {
		go func() {
			err := config.WatchNodesFile(ctx, cfg.NodesFile, func(updated []config.NodeConfig) {
				prober.SetEndpoints(endpoints(updated))
				go prober.ProbeAll(ctx)
			})
			if err != nil {
				logger.Warn("节点文件监听失败", logger.ErrorField(err))
			}
		}()
	}

	// ========== 存储 ==========
	var settings repository.SettingsRepository
	var gdb *gorm.DB
	if gdb, err = db.ConnectGormDB(cfg); err != nil {
		logger.Warn("MySQL 不可用，DJ 设置与自定义前缀已禁用", logger.ErrorField(err))
	} else if err := db.AutoMigrate(gdb); err != nil {
		logger.Warn("数据表迁移失败", logger.ErrorField(err))
	} else {
		settings = repository.NewGormSettingsRepository(gdb)
	}

	var redisClient *redis.Client
	var stateCache *cache.StateCache
	if redisClient, err = db.ConnectRedis(cfg); err != nil {
		logger.Warn("Redis 不可用，面板只读取本进程状态", logger.ErrorField(err))
	} else {
		stateCache = cache.NewStateCache(redisClient, cfg.StateTTL)
	}

	// ========== 播放控制 ==========
	dg, err := discord.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}
	store := session.NewStore()
	conn := &lateConnector{}
	ctrl := player.NewController(player.Config{
		Store:     store,
		Monitor:   monitor,
		Resolver:  node.NewLoader(monitor, prober, nil),
		Connector: conn,
		Settings:  settings,
		Notifier:  discord.NewNotifier(dg),
		OwnerID:   cfg.OwnerID,
	})
	if conn.inner, err = buildConnector(ctx, monitor, ctrl); err != nil {
		return err
	}

	hub := dashboard.NewHub()
	go hub.Run()
	ctrl.AddObserver(hub)
	if stateCache != nil {
		ctrl.AddObserver(stateCache)
	}

	monitor.Subscribe(func(prev node.State, rec node.Record) {
		hub.NodeChanged(rec.Status())
		if rec.State == node.Disconnected {
			go ctrl.Failover(ctx, rec.Name)
		}
	})

	presence := discord.NewVoicePresence(dg.State, store)
	scheduler := autoleave.New(presence, store, ctrl, autoleave.WithGrace(cfg.LeaveGrace))
	router := discord.NewRouter(discord.RouterConfig{
		Controller:    ctrl,
		Settings:      settings,
		Presence:      presence,
		Monitor:       monitor,
		OwnerID:       cfg.OwnerID,
		DefaultPrefix: cfg.DefaultPrefix,
		Rate:          cfg.CommandRate,
		Burst:         cfg.CommandBurst,
	})
	bot := discord.NewBot(dg, ctrl, presence)
	bot.Attach(scheduler, router)
	ctrl.AddObserver(bot)

	// ========== 面板 ==========
	opts := server.Options{
		Addr:         cfg.HTTPAddr,
		Username:     cfg.DashboardUser,
		PasswordHash: cfg.DashboardPassHash,
		Issuer:       auth.NewIssuer(cfg.JWTSecret, auth.DefaultTokenTTL),
		Sessions:     store,
		Nodes:        monitor,
		Hub:          hub,
	}
	if stateCache != nil {
		opts.Cache = stateCache
	}
	srv := server.New(opts)

	// ========== 启动 ==========
	go prober.Run(ctx)
	if stateCache != nil {
		go publishNodes(ctx, monitor, stateCache, cfg.ProbeInterval)
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			logger.Error("面板服务异常退出", logger.ErrorField(err))
			stop()
		}
	}()
	if err := bot.Open(); err != nil {
		stop()
		hub.Stop()
		return err
	}
	logger.Info("Animal Music 已启动", logger.String("http", cfg.HTTPAddr), logger.Int("nodes", len(nodes)))

	<-ctx.Done()
	logger.Info("正在关闭...")

	cancelled := scheduler.CancelAll()
	ctrl.Shutdown()
	if err := bot.Close(); err != nil {
		logger.Warn("关闭 Discord 连接失败", logger.ErrorField(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("面板服务关闭超时", logger.ErrorField(err))
	}
	hub.Stop()

	if gdb != nil {
		_ = db.CloseGormDB(gdb)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	logger.Info("已停止", logger.Int("cancelledTimers", cancelled))
	return nil
}

// publishNodes 定期把节点状态写入 Redis，供 nodes 命令读取
func publishNodes(ctx context.Context, monitor *node.Monitor, c *cache.StateCache, interval time.Duration) {
	if interval <= 0 {
		interval = node.DefaultProbeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SaveNodes(ctx, nodeStatuses(monitor.Snapshot())); err != nil {
				logger.Debug("写入节点状态失败", logger.ErrorField(err))
			}
		}
	}
}
