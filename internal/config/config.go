package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"wisefido-drowsiness/internal/common/config"
	"wisefido-drowsiness/internal/telemetry"

	"github.com/joho/godotenv"
)

// 信号源模式
const (
	SourceSynthetic = "synthetic" // 合成信号（无摄像头）
	SourceMQTT      = "mqtt"      // 订阅人脸关键点
)

// Config 疲劳驾驶检测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 检测与缓冲配置
	Drowsiness struct {
		ClosedEyeRatio        float64       // EAR 低于该值视为闭眼
		MaxOpenRatio          float64       // 对应 100% 睁开度的 EAR
		AlertDuration         time.Duration // 持续闭眼多久后报警，默认 2s
		FlushInterval         time.Duration // 批量写入间隔，默认 10s
		SamplingPeriod        time.Duration // 采样周期，默认 1s
		BufferCapacity        int           // 缓冲区上限，默认 3600
		OverflowPolicy        telemetry.OverflowPolicy
		FlushTimeout          time.Duration
		FlushAttempts         int
		FlushRetryWait        time.Duration
		FailureAlertThreshold int // 连续写入失败多少次后通知运维
	}

	// 信号源配置
	Source struct {
		Mode       string        // synthetic 或 mqtt
		Seed       int64         // 合成模式随机种子
		MQTTTopic  string        // 关键点主题
		StaleAfter time.Duration // 关键点帧超过该时长视为无信号
	}

	// 报警执行器配置（为空则不启用对应执行器）
	Alert struct {
		RedisStream         string
		OperatorRedisStream string
		MQTTTopic           string
		WebhookURL          string
		Timeout             time.Duration
	}

	// 运行配置
	Run struct {
		SessionDuration time.Duration // 0 表示直到中断
		BatchDuration   time.Duration
		DriverLastName  string
		DriverFirstName string
		DriverBirthDate string // YYYY-MM-DD
		ReportDir       string
		ShutdownTimeout time.Duration
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	// .env 文件可选
	_ = godotenv.Load()

	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "postgres"
	cfg.Database.Password = "postgres"
	cfg.Database.Database = "drowsiness"
	cfg.Database.SSLMode = "disable"
	cfg.Database.MaxConns = 10
	cfg.Database.MaxIdle = 5
	if err := cfg.Database.LoadFromEnv("DB"); err != nil {
		return nil, err
	}

	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.KeyPrefix = "drowsiness"
	cfg.Redis.Timeout = 2 * time.Second
	if err := cfg.Redis.LoadFromEnv("REDIS"); err != nil {
		return nil, err
	}

	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.ClientID = "wisefido-drowsiness"
	cfg.MQTT.QoS = 1
	if err := cfg.MQTT.LoadFromEnv("MQTT"); err != nil {
		return nil, err
	}

	var err error
	d := &cfg.Drowsiness
	if d.ClosedEyeRatio, err = getEnvFloat("DROWSY_CLOSED_EYE_RATIO", 0.15); err != nil {
		return nil, err
	}
	if d.MaxOpenRatio, err = getEnvFloat("DROWSY_MAX_OPEN_RATIO", 0.35); err != nil {
		return nil, err
	}
	if d.AlertDuration, err = getEnvDuration("DROWSY_ALERT_DURATION", 2*time.Second); err != nil {
		return nil, err
	}
	if d.FlushInterval, err = getEnvDuration("DROWSY_FLUSH_INTERVAL", 10*time.Second); err != nil {
		return nil, err
	}
	if d.SamplingPeriod, err = getEnvDuration("DROWSY_SAMPLING_PERIOD", time.Second); err != nil {
		return nil, err
	}
	if d.BufferCapacity, err = getEnvInt("DROWSY_BUFFER_CAPACITY", 3600); err != nil {
		return nil, err
	}
	d.OverflowPolicy = telemetry.OverflowPolicy(getEnv("DROWSY_OVERFLOW_POLICY", string(telemetry.OverflowDropOldest)))
	if d.FlushTimeout, err = getEnvDuration("DROWSY_FLUSH_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if d.FlushAttempts, err = getEnvInt("DROWSY_FLUSH_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if d.FlushRetryWait, err = getEnvDuration("DROWSY_FLUSH_RETRY_WAIT", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if d.FailureAlertThreshold, err = getEnvInt("DROWSY_FAILURE_ALERT_THRESHOLD", 3); err != nil {
		return nil, err
	}

	cfg.Source.Mode = getEnv("SOURCE_MODE", SourceSynthetic)
	seed, err := getEnvInt("SOURCE_SEED", 0)
	if err != nil {
		return nil, err
	}
	cfg.Source.Seed = int64(seed)
	if cfg.Source.Seed == 0 {
		cfg.Source.Seed = time.Now().UnixNano()
	}
	cfg.Source.MQTTTopic = getEnv("SOURCE_MQTT_TOPIC", "drowsiness/landmarks")
	if cfg.Source.StaleAfter, err = getEnvDuration("SOURCE_STALE_AFTER", 500*time.Millisecond); err != nil {
		return nil, err
	}

	cfg.Alert.RedisStream = getEnv("ALERT_REDIS_STREAM", "drowsiness:alerts")
	cfg.Alert.OperatorRedisStream = getEnv("OPERATOR_REDIS_STREAM", "drowsiness:operator")
	cfg.Alert.MQTTTopic = getEnv("ALERT_MQTT_TOPIC", "")
	cfg.Alert.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	if cfg.Alert.Timeout, err = getEnvDuration("ALERT_TIMEOUT", 2*time.Second); err != nil {
		return nil, err
	}

	if cfg.Run.SessionDuration, err = getEnvDuration("SESSION_DURATION", 0); err != nil {
		return nil, err
	}
	if cfg.Run.BatchDuration, err = getEnvDuration("BATCH_DURATION", 120*time.Second); err != nil {
		return nil, err
	}
	cfg.Run.DriverLastName = getEnv("DRIVER_LAST_NAME", "")
	cfg.Run.DriverFirstName = getEnv("DRIVER_FIRST_NAME", "")
	cfg.Run.DriverBirthDate = getEnv("DRIVER_BIRTH_DATE", "")
	cfg.Run.ReportDir = getEnv("REPORT_DIR", "")
	if cfg.Run.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	d := c.Drowsiness
	if d.ClosedEyeRatio <= 0 || d.MaxOpenRatio <= d.ClosedEyeRatio {
		return fmt.Errorf("invalid eye ratios: closed=%v max_open=%v", d.ClosedEyeRatio, d.MaxOpenRatio)
	}
	durations := map[string]time.Duration{
		"DROWSY_ALERT_DURATION":  d.AlertDuration,
		"DROWSY_FLUSH_INTERVAL":  d.FlushInterval,
		"DROWSY_SAMPLING_PERIOD": d.SamplingPeriod,
		"DROWSY_FLUSH_TIMEOUT":   d.FlushTimeout,
		"ALERT_TIMEOUT":          c.Alert.Timeout,
		"BATCH_DURATION":         c.Run.BatchDuration,
	}
	for key, v := range durations {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", key, v)
		}
	}
	if c.Run.SessionDuration < 0 {
		return fmt.Errorf("SESSION_DURATION must not be negative, got %v", c.Run.SessionDuration)
	}
	if d.BufferCapacity <= 0 {
		return fmt.Errorf("DROWSY_BUFFER_CAPACITY must be positive, got %d", d.BufferCapacity)
	}
	if d.FlushAttempts <= 0 {
		return fmt.Errorf("DROWSY_FLUSH_ATTEMPTS must be positive, got %d", d.FlushAttempts)
	}
	if !d.OverflowPolicy.Valid() {
		return fmt.Errorf("unknown overflow policy %q", d.OverflowPolicy)
	}
	if c.Source.Mode != SourceSynthetic && c.Source.Mode != SourceMQTT {
		return fmt.Errorf("unknown source mode %q", c.Source.Mode)
	}
	if c.Run.DriverBirthDate != "" {
		if _, err := c.BirthDate(); err != nil {
			return err
		}
	}
	return nil
}

// BirthDate 解析驾驶员出生日期，未配置时返回 nil
func (c *Config) BirthDate() (*time.Time, error) {
	if c.Run.DriverBirthDate == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", c.Run.DriverBirthDate)
	if err != nil {
		return nil, fmt.Errorf("invalid DRIVER_BIRTH_DATE %q: %w", c.Run.DriverBirthDate, err)
	}
	return &t, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
