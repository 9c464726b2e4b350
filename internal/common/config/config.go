package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// DatabaseConfig 数据库配置（会话与采样数据存储）
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
	Migrate  bool // 启动时执行 goose 迁移
}

// RedisConfig Redis配置（报警事件流、报警状态键、运维通道）
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string        // 状态键前缀，如 drowsiness
	Timeout   time.Duration // 连接与读写超时，0 使用 go-redis 默认值
}

// MQTTConfig MQTT配置（关键点输入、车载报警输出）
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// GetDSNForLog 不含密码的连接字符串，仅用于日志
func (c *DatabaseConfig) GetDSNForLog() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=*** dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Database, c.SSLMode)
}

// LoadFromEnv 从 <prefix>_HOST、<prefix>_PORT 等环境变量覆盖配置
// 未设置的变量保留原值；数值或布尔值无法解析时返回错误
func (c *DatabaseConfig) LoadFromEnv(prefix string) error {
	env := envReader{prefix: prefix}
	env.str("HOST", &c.Host)
	env.integer("PORT", &c.Port)
	env.str("USER", &c.User)
	env.str("PASSWORD", &c.Password)
	env.str("NAME", &c.Database)
	env.str("SSLMODE", &c.SSLMode)
	env.integer("MAX_CONNS", &c.MaxConns)
	env.integer("MAX_IDLE", &c.MaxIdle)
	env.flag("MIGRATE", &c.Migrate)
	if env.err != nil {
		return env.err
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%s_PORT out of range: %d", prefix, c.Port)
	}
	return nil
}

// LoadFromEnv 从 <prefix>_ADDR、<prefix>_KEY_PREFIX 等环境变量覆盖配置
func (c *RedisConfig) LoadFromEnv(prefix string) error {
	env := envReader{prefix: prefix}
	env.str("ADDR", &c.Addr)
	env.str("PASSWORD", &c.Password)
	env.integer("DB", &c.DB)
	env.str("KEY_PREFIX", &c.KeyPrefix)
	env.duration("TIMEOUT", &c.Timeout)
	if env.err != nil {
		return env.err
	}
	if c.DB < 0 {
		return fmt.Errorf("%s_DB must not be negative: %d", prefix, c.DB)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%s_TIMEOUT must not be negative: %v", prefix, c.Timeout)
	}
	return nil
}

// LoadFromEnv 从 <prefix>_BROKER、<prefix>_QOS 等环境变量覆盖配置
func (c *MQTTConfig) LoadFromEnv(prefix string) error {
	env := envReader{prefix: prefix}
	env.str("BROKER", &c.Broker)
	env.str("CLIENT_ID", &c.ClientID)
	env.str("USERNAME", &c.Username)
	env.str("PASSWORD", &c.Password)
	qos := int(c.QoS)
	env.integer("QOS", &qos)
	if env.err != nil {
		return env.err
	}
	if qos < 0 || qos > 2 {
		return fmt.Errorf("%s_QOS must be 0, 1 or 2: %d", prefix, qos)
	}
	c.QoS = byte(qos)
	return nil
}

// envReader 读取带前缀的环境变量，只保留第一个解析错误
type envReader struct {
	prefix string
	err    error
}

func (r *envReader) lookup(name string) (string, string, bool) {
	key := r.prefix + "_" + name
	value := os.Getenv(key)
	return key, value, value != ""
}

func (r *envReader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
}

func (r *envReader) str(name string, dst *string) {
	if _, value, ok := r.lookup(name); ok {
		*dst = value
	}
}

func (r *envReader) integer(name string, dst *int) {
	key, value, ok := r.lookup(name)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = n
}

func (r *envReader) flag(name string, dst *bool) {
	key, value, ok := r.lookup(name)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = b
}

func (r *envReader) duration(name string, dst *time.Duration) {
	key, value, ok := r.lookup(name)
	if !ok {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		r.fail(key, value, err)
		return
	}
	*dst = d
}
