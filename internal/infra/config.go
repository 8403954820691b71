package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации sandbox-сервиса.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Sandbox  SandboxConfig  `mapstructure:"sandbox"`
	Logger   LoggerConfig   `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-адаптера.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	MetricsPort  int           `mapstructure:"metrics_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig — подключение к PostgreSQL (экспорт аудита, DB-провайдеры).
// Пустой URL — экспорт выключен, цепочка живет только в RAM.
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int    `mapstructure:"max_conns"`
}

// RedisConfig — подключение к Redis (Pub/Sub решений оператора).
// Пустой Addr — слушатель решений выключен.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig — проверка RS256 токенов на HTTP-периметре.
// Пустой ключ — периметр открыт (dev-режим).
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// SandboxConfig — ядро: владение секретом, identity агента и режим исполнения.
type SandboxConfig struct {
	// Secret — HMAC-ключ цепочки аудита и подписей capability.
	// Принадлежит исключительно фасаду, провайдерам не выдается.
	Secret  string `mapstructure:"secret"`
	AgentID string `mapstructure:"agent_id"`
	Scope   string `mapstructure:"scope"`

	// AllowLive=false принудительно переводит каждое действие в simulate,
	// независимо от намерений вызывающего. Стоп-кран для непродовых сред.
	AllowLive bool `mapstructure:"allow_live"`

	// SandboxDir — корень для файловых провайдеров и spawn cwd.
	SandboxDir string `mapstructure:"sandbox_dir"`

	// ApprovalTTL — время жизни HITL-тикета до авто-EXPIRED.
	ApprovalTTL time.Duration `mapstructure:"approval_ttl"`

	// AuditRejections — писать ли zero-cost записи об отказах на гейтах.
	AuditRejections bool `mapstructure:"audit_rejections"`

	// Costs — переопределение стоимости действий (ALB) по kind.
	Costs map[string]float64 `mapstructure:"costs"`

	// TransferApprovalThreshold — сумма ALB, выше которой TOKEN_TRANSFER
	// принудительно уходит на HITL, даже без humanGate от вызывающего.
	TransferApprovalThreshold float64 `mapstructure:"transfer_approval_threshold"`

	AuditBufferSize    int           `mapstructure:"audit_buffer_size"`
	AuditFlushInterval time.Duration `mapstructure:"audit_flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: SANDBOX_SECRET=... перекроет sandbox.secret
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	if cfg.Sandbox.Secret == "" {
		return nil, errors.New("sandbox.secret is required (set SANDBOX_SECRET)")
	}

	// 6. Публичный ключ: сначала ENV (для Docker/K8s), потом файл по пути
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("sandbox.agent_id", "agent@freedom")
	v.SetDefault("sandbox.scope", "sandbox:default")
	// Live только если окружение явно продовое — иначе все в simulate
	v.SetDefault("sandbox.allow_live", os.Getenv("APP_ENV") == "production")
	v.SetDefault("sandbox.sandbox_dir", ".sandbox")
	v.SetDefault("sandbox.approval_ttl", 15*time.Minute)
	v.SetDefault("sandbox.audit_rejections", true)
	v.SetDefault("sandbox.audit_buffer_size", 10000)
	v.SetDefault("sandbox.audit_flush_interval", 500*time.Millisecond)
	v.SetDefault("sandbox.transfer_approval_threshold", 100.0)
}

// loadKeyResource — ключ либо напрямую из ENV, либо файлом по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
