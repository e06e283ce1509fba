package config

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config 应用配置，全部来自环境变量（可通过 .env 文件提供）
type Config struct {
	// Discord
	DiscordToken  string  `env:"DISCORD_TOKEN"`
	OwnerID       string  `env:"OWNER_ID"`
	DefaultPrefix string  `env:"DEFAULT_PREFIX" envDefault:"!"`
	CommandRate   float64 `env:"COMMAND_RATE" envDefault:"1"` // 每个用户每秒命令数
	CommandBurst  int     `env:"COMMAND_BURST" envDefault:"3"`

	// 节点
	NodesJSON     string        `env:"LAVALINK_NODES"` // JSON 数组，优先于 NodesFile
	NodesFile     string        `env:"LAVALINK_NODES_FILE" envDefault:"nodes.json"`
	ProbeInterval time.Duration `env:"NODE_PROBE_INTERVAL" envDefault:"30s"`
	PenaltyWindow time.Duration `env:"NODE_PENALTY_WINDOW" envDefault:"60s"`

	// 自动离开
	LeaveGrace time.Duration `env:"AUTO_LEAVE_GRACE" envDefault:"3m"`

	// MySQL
	DBHost     string `env:"DB_HOST" envDefault:"127.0.0.1"`
	DBPort     string `env:"DB_PORT" envDefault:"3306"`
	DBUser     string `env:"DB_USER" envDefault:"root"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME" envDefault:"animal_music"`

	// Redis配置
	RedisHost     string        `env:"REDIS_HOST" envDefault:"127.0.0.1"`
	RedisPort     string        `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	StateTTL      time.Duration `env:"REDIS_STATE_TTL" envDefault:"24h"`

	// 面板
	HTTPAddr          string `env:"HTTP_ADDR" envDefault:":8080"`
	JWTSecret         string `env:"JWT_SECRET" envDefault:"change-me"`
	DashboardUser     string `env:"DASHBOARD_USER" envDefault:"admin"`
	DashboardPassHash string `env:"DASHBOARD_PASSWORD_HASH"` // bcrypt 哈希

	// 日志
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogFile  string `env:"LOG_FILE" envDefault:"logs/animal-music.log"`
}

// NodeConfig 单个音频节点
type NodeConfig struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	Secure   bool   `json:"secure"`
}

// BaseURL 节点的 HTTP 地址
func (n NodeConfig) BaseURL() string {
	scheme := "http"
	if n.Secure {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, n.Host, n.Port)
}

// Load 从环境变量（以及 .env 文件）加载配置
func Load() (*Config, error) {
	// godotenv.Load() 不会覆盖已存在的环境变量
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on existing environment variables and defaults.")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// InlineNodes 解析 LAVALINK_NODES；为空时返回 nil
func (c *Config) InlineNodes() ([]NodeConfig, error) {
	if c.NodesJSON == "" {
		return nil, nil
	}
	return ParseNodes([]byte(c.NodesJSON))
}

// ParseNodes 解析节点 JSON 数组并校验
func ParseNodes(data []byte) ([]NodeConfig, error) {
	var nodes []NodeConfig
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("decode nodes: %w", err)
	}
	seen := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		if n.Name == "" || n.Host == "" || n.Port <= 0 {
			return nil, fmt.Errorf("node #%d: name, host and port are required", i)
		}
		if seen[n.Name] {
			return nil, fmt.Errorf("duplicate node name %q", n.Name)
		}
		seen[n.Name] = true
	}
	return nodes, nil
}
