package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zhouzirui/chat-relay/internal/apperror"
	"github.com/zhouzirui/chat-relay/internal/observability"
	"github.com/zhouzirui/chat-relay/internal/service/pbx"
	"github.com/zhouzirui/chat-relay/internal/service/reconcile"
	"github.com/zhouzirui/chat-relay/internal/service/stats"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server     ServerConfig
	PBX        pbx.Config
	Engagement EngagementConfig
	Status     StatusConfig
	Reconcile  ReconcileConfig
	Stats      stats.Config
	Log        observability.LogConfig
	Metrics    MetricsConfig
	HTTP       HTTPConfig
}

// Load 从环境变量加载配置。缺失必填项时返回 apperror.Configuration。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	pbxCfg, err := loadPBXConfig()
	if err != nil {
		return nil, err
	}

	status, err := loadStatusConfig()
	if err != nil {
		return nil, err
	}

	reconcileCfg, err := loadReconcileConfig()
	if err != nil {
		return nil, err
	}

	statsCfg, err := loadStatsConfig(pbxCfg.Token)
	if err != nil {
		return nil, err
	}

	metricsEnabled, err := parseBoolEnv("METRICS_ENABLED", true)
	if err != nil {
		return nil, err
	}

	timeout, err := parseDurationEnv("HTTP_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		PBX:    pbxCfg,
		Engagement: EngagementConfig{
			Token:        getEnvOrDefault("ENGAGEMENT_API_TOKEN", pbxCfg.Token),
			CallbackBase: strings.TrimRight(strings.TrimSpace(os.Getenv("ENGAGEMENT_CALLBACK_BASE")), "/"),
		},
		Status:    status,
		Reconcile: reconcileCfg,
		Stats:     statsCfg,
		Log: observability.LogConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
		Metrics: MetricsConfig{Enabled: metricsEnabled},
		HTTP:    HTTPConfig{Timeout: timeout},
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	BindIP string
	Port   int
}

// Addr 返回监听地址。
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.BindIP, strconv.Itoa(c.Port))
}

// EngagementConfig 描述回调客户平台的配置。
type EngagementConfig struct {
	Token string
	// CallbackBase 非空时替代根据请求来源推导的回调地址。
	CallbackBase string
}

// StatusConfig 描述聊天状态数据库。
type StatusConfig struct {
	DSN string
}

// ReconcileConfig 描述后台对账循环。
type ReconcileConfig struct {
	Interval time.Duration
}

// MetricsConfig 控制 /metrics 是否挂载。
type MetricsConfig struct {
	Enabled bool
}

// HTTPConfig 描述出站 HTTP 客户端。
type HTTPConfig struct {
	Timeout time.Duration
}

// loadServerConfig 解析监听 IP 与端口。
func loadServerConfig() (ServerConfig, error) {
	bindIP, err := requireEnv("RELAY_BIND_IP")
	if err != nil {
		return ServerConfig{}, err
	}
	if net.ParseIP(bindIP) == nil {
		return ServerConfig{}, apperror.Configuration(fmt.Sprintf("invalid RELAY_BIND_IP value: %q", bindIP))
	}

	rawPort, err := requireEnv("RELAY_PORT")
	if err != nil {
		return ServerConfig{}, err
	}
	port, err := strconv.Atoi(rawPort)
	if err != nil || port < 1 || port > 65535 {
		return ServerConfig{}, apperror.Configuration(fmt.Sprintf("invalid RELAY_PORT value: %q", rawPort))
	}

	return ServerConfig{BindIP: bindIP, Port: port}, nil
}

func loadPBXConfig() (pbx.Config, error) {
	var cfg pbx.Config
	for _, field := range []struct {
		key string
		dst *string
	}{
		{"PBX_API_URL", &cfg.APIURL},
		{"PBX_API_TOKEN", &cfg.Token},
		{"PBX_QUEUE1_NUMBER", &cfg.Queue1Number},
		{"PBX_QUEUE2_NUMBER", &cfg.Queue2Number},
	} {
		value, err := requireEnv(field.key)
		if err != nil {
			return pbx.Config{}, err
		}
		*field.dst = value
	}
	return cfg, nil
}

func loadStatusConfig() (StatusConfig, error) {
	dsn, err := requireEnv("STATUS_DB_DSN")
	if err != nil {
		return StatusConfig{}, err
	}
	return StatusConfig{DSN: dsn}, nil
}

func loadReconcileConfig() (ReconcileConfig, error) {
	interval, err := parseDurationEnv("RECONCILE_INTERVAL", reconcile.DefaultInterval)
	if err != nil {
		return ReconcileConfig{}, err
	}
	if interval <= 0 {
		return ReconcileConfig{}, apperror.Configuration("RECONCILE_INTERVAL must be positive")
	}
	return ReconcileConfig{Interval: interval}, nil
}

// loadStatsConfig 解析队列统计配置。令牌缺省沿用 PBX_API_TOKEN。
func loadStatsConfig(defaultToken string) (stats.Config, error) {
	openHour, err := parseOptionalIntEnv("STATS_OPEN_HOUR")
	if err != nil {
		return stats.Config{}, err
	}
	closeHour, err := parseOptionalIntEnv("STATS_CLOSE_HOUR")
	if err != nil {
		return stats.Config{}, err
	}

	cfg := stats.Config{
		FQDN:      strings.TrimRight(strings.TrimSpace(os.Getenv("PBX_FQDN")), "/"),
		ClientID:  getEnvOrDefault("PBX_STATS_CLIENT_ID", stats.DefaultClientID),
		Token:     getEnvOrDefault("PBX_STATS_TOKEN", defaultToken),
		OpenHour:  8,
		CloseHour: 18,
	}
	if openHour != nil {
		cfg.OpenHour = *openHour
	}
	if closeHour != nil {
		cfg.CloseHour = *closeHour
	}
	if cfg.OpenHour < 0 || cfg.CloseHour > 24 || cfg.OpenHour > cfg.CloseHour {
		return stats.Config{}, apperror.Configuration(
			fmt.Sprintf("invalid statistics business hours: %d-%d", cfg.OpenHour, cfg.CloseHour))
	}

	if path := strings.TrimSpace(os.Getenv("STATS_QUEUES_FILE")); path != "" {
		queues, err := stats.LoadDirectory(path)
		if err != nil {
			return stats.Config{}, &apperror.Error{Kind: apperror.KindConfiguration, Message: "invalid STATS_QUEUES_FILE", Err: err}
		}
		cfg.Queues = queues
	} else if raw := strings.TrimSpace(os.Getenv("STATS_QUEUES")); raw != "" {
		queues, err := stats.ParseDirectory(raw)
		if err != nil {
			return stats.Config{}, &apperror.Error{Kind: apperror.KindConfiguration, Message: "invalid STATS_QUEUES", Err: err}
		}
		cfg.Queues = queues
	}

	return cfg, nil
}

func requireEnv(key string) (string, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", apperror.Configuration(fmt.Sprintf("missing required setting %s", key))
	}
	return value, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperror.Configuration(fmt.Sprintf("invalid %s value %q: %v", key, raw, err))
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, apperror.Configuration(fmt.Sprintf("invalid %s value %q: %v", key, raw, err))
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, apperror.Configuration(fmt.Sprintf("invalid %s value %q: %v", key, value, err))
	}
	return &val, nil
}
