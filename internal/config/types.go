package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Logger        LoggerConfig        `yaml:"logger" json:"logger"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch" json:"elasticsearch"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Monitor       MonitorConfig       `yaml:"monitor" json:"monitor"`
	Notify        NotifyConfig        `yaml:"notify" json:"notify"`
	Mail          MailConfig          `yaml:"mail" json:"mail"`
	NATS          NATSConfig          `yaml:"nats" json:"nats"`
	MQTT          MQTTConfig          `yaml:"mqtt" json:"mqtt"`
	Kafka         KafkaConfig         `yaml:"kafka" json:"kafka"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" json:"rate_limit"`
}

type ServerConfig struct {
	HTTPPort       int    `yaml:"http_port" json:"http_port"`
	GRPCPort       int    `yaml:"grpc_port" json:"grpc_port"`
	Host           string `yaml:"host" json:"host"`
	RequestTimeout int    `yaml:"request_timeout" json:"request_timeout"` // seconds
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver" json:"driver"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"password"`
	DBName   string `yaml:"dbname" json:"dbname"`
	SSLMode  string `yaml:"sslmode" json:"sslmode"`
}

type LoggerConfig struct {
	Level         string `yaml:"level" json:"level"`   // debug, info, warn, error
	Output        string `yaml:"output" json:"output"` // stdout, stderr, or file path
	Format        string `yaml:"format" json:"format"` // json, console
	TriggerLogDir string `yaml:"trigger_log_dir" json:"trigger_log_dir"`
}

type ElasticsearchConfig struct {
	Enabled            bool     `yaml:"enabled" json:"enabled"`
	Addresses          []string `yaml:"addresses" json:"addresses"` // 如 ["http://localhost:9200"]
	Username           string   `yaml:"username" json:"username"`
	Password           string   `yaml:"password" json:"password"`
	SensorsIndex       string   `yaml:"sensors_index" json:"sensors_index"`
	AlertsIndex        string   `yaml:"alerts_index" json:"alerts_index"`
	TriggerIndexPrefix string   `yaml:"trigger_index_prefix" json:"trigger_index_prefix"` // 规则触发记录索引
	Timeout            int      `yaml:"timeout" json:"timeout"`                           // seconds
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	StatsTTL int    `yaml:"stats_ttl" json:"stats_ttl"` // seconds
}

type MonitorConfig struct {
	PollInterval     int  `yaml:"poll_interval" json:"poll_interval"`         // seconds
	EvaluationWindow int  `yaml:"evaluation_window" json:"evaluation_window"` // seconds
	MaxEvents        int  `yaml:"max_events" json:"max_events"`
	PushLimit        int  `yaml:"push_limit" json:"push_limit"`
	StopTimeout      int  `yaml:"stop_timeout" json:"stop_timeout"`       // seconds
	PublishTimeout   int  `yaml:"publish_timeout" json:"publish_timeout"` // seconds, per realtime push
	AlwaysOn         bool `yaml:"always_on" json:"always_on"`
}

type NotifyConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Timeout      int    `yaml:"timeout" json:"timeout"` // seconds, per action
	DashboardURL string `yaml:"dashboard_url" json:"dashboard_url"`
}

type MailConfig struct {
	Server        string `yaml:"server" json:"server"`
	Port          int    `yaml:"port" json:"port"`
	UseTLS        bool   `yaml:"use_tls" json:"use_tls"` // STARTTLS
	UseSSL        bool   `yaml:"use_ssl" json:"use_ssl"` // implicit TLS
	Username      string `yaml:"username" json:"username"`
	Password      string `yaml:"password" json:"password"`
	DefaultSender string `yaml:"default_sender" json:"default_sender"`
}

type NATSConfig struct {
	Enabled       bool   `yaml:"enabled" json:"enabled"`
	URL           string `yaml:"url" json:"url"`
	SubjectPrefix string `yaml:"subject_prefix" json:"subject_prefix"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	QoS         byte   `yaml:"qos" json:"qos"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
	Events  []string `yaml:"events" json:"events"` // realtime events forwarded to Kafka
}

type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// Load 从文件加载配置
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// 设置默认值
	setDefaults(&config)

	return &config, nil
}

// SaveToFile 保存配置到文件
func SaveToFile(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load 从环境变量加载配置
func Load() *Config {
	config := &Config{
		Server: ServerConfig{
			HTTPPort: getEnvInt("HTTP_PORT", 8080),
			GRPCPort: getEnvInt("GRPC_PORT", 9090),
			Host:     getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 3306),
			User:     getEnv("DB_USER", "root"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "alert_rules.db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Logger: LoggerConfig{
			Level:         getEnv("LOG_LEVEL", "info"),
			Output:        getEnv("LOG_OUTPUT", "stdout"),
			Format:        getEnv("LOG_FORMAT", "json"),
			TriggerLogDir: getEnv("TRIGGER_LOG_DIR", ""),
		},
		Elasticsearch: ElasticsearchConfig{
			Enabled:            getEnvBool("ES_ENABLED", true),
			Addresses:          getEnvSlice("ES_ADDRESSES", []string{"http://localhost:9200"}),
			Username:           getEnv("ES_USERNAME", ""),
			Password:           getEnv("ES_PASSWORD", ""),
			SensorsIndex:       getEnv("ES_SENSORS_INDEX", ""),
			AlertsIndex:        getEnv("ES_ALERTS_INDEX", ""),
			TriggerIndexPrefix: getEnv("ES_TRIGGER_INDEX_PREFIX", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Monitor: MonitorConfig{
			PollInterval:     getEnvInt("MONITOR_POLL_INTERVAL", 5),
			EvaluationWindow: getEnvInt("MONITOR_EVALUATION_WINDOW", 60),
			MaxEvents:        getEnvInt("MONITOR_MAX_EVENTS", 100),
			PublishTimeout:   getEnvInt("MONITOR_PUBLISH_TIMEOUT", 0),
			AlwaysOn:         getEnvBool("MONITOR_ALWAYS_ON", false),
		},
		Notify: NotifyConfig{
			Enabled:      getEnvBool("NOTIFY_ENABLED", true),
			Timeout:      getEnvInt("NOTIFY_TIMEOUT", 10),
			DashboardURL: getEnv("DASHBOARD_URL", "http://localhost:5000"),
		},
		Mail: MailConfig{
			Server:        getEnv("MAIL_SERVER", "smtp.gmail.com"),
			Port:          getEnvInt("MAIL_PORT", 587),
			UseTLS:        getEnvBool("MAIL_USE_TLS", true),
			UseSSL:        getEnvBool("MAIL_USE_SSL", false),
			Username:      getEnv("MAIL_USERNAME", ""),
			Password:      getEnv("MAIL_PASSWORD", ""),
			DefaultSender: getEnv("MAIL_DEFAULT_SENDER", "noreply@smartbuilding.com"),
		},
		NATS: NATSConfig{
			Enabled: getEnvBool("NATS_ENABLED", false),
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
		},
		MQTT: MQTTConfig{
			Enabled: getEnvBool("MQTT_ENABLED", false),
			Broker:  getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		},
		Kafka: KafkaConfig{
			Enabled: getEnvBool("KAFKA_ENABLED", false),
			Brokers: getEnvSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
		},
		RateLimit: RateLimitConfig{
			Enabled: getEnvBool("RATE_LIMIT_ENABLED", true),
		},
	}
	setDefaults(config)
	return config
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.Server.HTTPPort == 0 {
		config.Server.HTTPPort = 8080
	}
	if config.Server.GRPCPort == 0 {
		config.Server.GRPCPort = 9090
	}
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.RequestTimeout == 0 {
		config.Server.RequestTimeout = 30
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "sqlite"
	}
	if config.Database.DBName == "" {
		config.Database.DBName = "alert_rules.db"
	}
	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
	if config.Logger.Output == "" {
		config.Logger.Output = "stdout"
	}
	if config.Logger.Format == "" {
		config.Logger.Format = "json"
	}

	es := &config.Elasticsearch
	if es.SensorsIndex == "" {
		es.SensorsIndex = "logs-iot-sensors-*"
	}
	if es.AlertsIndex == "" {
		es.AlertsIndex = "logs-iot-alerts-*"
	}
	if es.TriggerIndexPrefix == "" {
		es.TriggerIndexPrefix = "alert-rule-triggers"
	}
	if es.Timeout == 0 {
		es.Timeout = 10
	}

	if config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}
	if config.Redis.StatsTTL == 0 {
		config.Redis.StatsTTL = 300
	}

	m := &config.Monitor
	if m.PollInterval == 0 {
		m.PollInterval = 5
	}
	if m.EvaluationWindow == 0 {
		m.EvaluationWindow = 60
	}
	if m.MaxEvents == 0 {
		m.MaxEvents = 100
	}
	if m.PushLimit == 0 {
		m.PushLimit = 20
	}
	if m.StopTimeout == 0 {
		m.StopTimeout = 2
	}
	if m.PublishTimeout == 0 {
		m.PublishTimeout = 2
	}

	if config.Notify.Timeout == 0 {
		config.Notify.Timeout = 10
	}
	if config.Mail.Port == 0 {
		config.Mail.Port = 587
	}
	if config.Mail.DefaultSender == "" {
		config.Mail.DefaultSender = "noreply@smartbuilding.com"
	}

	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "smartbuilding"
	}
	if config.MQTT.ClientID == "" {
		config.MQTT.ClientID = "smartbuilding-alerting"
	}
	if config.MQTT.TopicPrefix == "" {
		config.MQTT.TopicPrefix = "smartbuilding/monitoring"
	}
	if config.Kafka.Topic == "" {
		config.Kafka.Topic = "smartbuilding.alerts"
	}
	if len(config.Kafka.Events) == 0 {
		config.Kafka.Events = []string{"critical_alert"}
	}

	if config.RateLimit.RequestsPerSecond == 0 {
		config.RateLimit.RequestsPerSecond = 100
	}
	if config.RateLimit.Burst == 0 {
		config.RateLimit.Burst = 200
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		var intVal int
		if _, err := fmt.Sscanf(val, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		return false
	}
	return defaultVal
}

func getEnvSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		if result := splitAndTrim(val, ","); len(result) > 0 {
			return result
		}
	}
	return defaultVal
}

// splitAndTrim 分割字符串并去除空白
func splitAndTrim(s, sep string) []string {
	var result []string
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort < 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	// 验证数据库配置
	validDrivers := map[string]bool{
		"sqlite":   true,
		"mysql":    true,
		"postgres": true,
	}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver != "sqlite" {
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty for %s", c.Database.Driver)
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database port: %d", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("database user cannot be empty for %s", c.Database.Driver)
		}
	}
	if c.Database.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logger.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logger.Level)
	}

	if c.Elasticsearch.Enabled && len(c.Elasticsearch.Addresses) == 0 {
		return fmt.Errorf("elasticsearch addresses cannot be empty when enabled")
	}

	// 验证轮询配置
	m := c.Monitor
	if m.PollInterval < 1 {
		return fmt.Errorf("monitor poll interval must be at least 1 second")
	}
	if m.EvaluationWindow < 2*m.PollInterval {
		return fmt.Errorf("monitor evaluation window (%ds) must be at least twice the poll interval (%ds)",
			m.EvaluationWindow, m.PollInterval)
	}
	if m.MaxEvents < 100 || m.MaxEvents > 1000 {
		return fmt.Errorf("monitor max events must be between 100 and 1000, got %d", m.MaxEvents)
	}
	if m.PushLimit < 1 {
		return fmt.Errorf("monitor push limit must be at least 1")
	}
	if m.StopTimeout < 1 {
		return fmt.Errorf("monitor stop timeout must be at least 1 second")
	}
	if m.PublishTimeout < 1 {
		return fmt.Errorf("monitor publish timeout must be at least 1 second")
	}

	if c.Notify.Timeout < 1 {
		return fmt.Errorf("notify timeout must be at least 1 second")
	}
	if c.Mail.UseTLS && c.Mail.UseSSL {
		return fmt.Errorf("mail use_tls and use_ssl are mutually exclusive")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats url cannot be empty when enabled")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker cannot be empty when enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("invalid mqtt qos: %d", c.MQTT.QoS)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers cannot be empty when enabled")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("rate limit requires a positive rate and burst")
	}

	return nil
}
