package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeDev     = "dev"
	ModeRelease = "release"

	DefaultPath    = "config/config.yaml"
	DefaultEnvPath = "config/.env"
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	// 起動時に goose でマイグレーションを流すか
	Migrate bool `yaml:"migrate"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// LibraryConfig: 貸出まわりの運用設定
type LibraryConfig struct {
	TimeZone string `yaml:"timezone"`
}

type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// 初回起動用。アカウントが無ければ admin として作成する
	BootstrapAdmin    string `yaml:"bootstrap_admin"`
	BootstrapPassword string `yaml:"-"`
}

type MailConfig struct {
	Provider    string `yaml:"provider"` // "sendgrid" | "console"
	SendgridKey string `yaml:"sendgrid_key"`
	FromName    string `yaml:"from_name"`
	FromAddress string `yaml:"from_address"`
}

type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	StudentTTL   time.Duration `yaml:"student_ttl"`
}

type KafkaConfig struct {
	Brokers    []string `yaml:"brokers"`
	AuditTopic string   `yaml:"audit_topic"`
	Partitions int32    `yaml:"partitions"`
	Replicas   int16    `yaml:"replicas"`
}

type RollbarConfig struct {
	Token       string `yaml:"token"`
	Environment string `yaml:"environment"`
}

// TracingConfig: exporter が "none" ならスパンは記録しない
type TracingConfig struct {
	Exporter    string  `yaml:"exporter"` // "none" | "stdout"
	SampleRatio float64 `yaml:"sample_ratio"`
}

type ReconcileConfig struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type Config struct {
	Version     string          `yaml:"version"`
	Mode        string          `yaml:"mode"`
	Server      ServerConfig    `yaml:"server"`
	DB          DatabaseConfig  `yaml:"database"`
	Certificate Certs           `yaml:"certificate"`
	Library     LibraryConfig   `yaml:"library"`
	Auth        AuthConfig      `yaml:"auth"`
	Mail        MailConfig      `yaml:"mail"`
	Redis       RedisConfig     `yaml:"redis"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	Rollbar     RollbarConfig   `yaml:"rollbar"`
	Reconcile   ReconcileConfig `yaml:"reconcile"`
	Tracing     TracingConfig   `yaml:"tracing"`
}

// Load は YAML を読み込み、.env と環境変数で秘密情報を上書きする。
// envPath のファイルが無い場合は無視する。
func Load(path, envPath string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	cfg, err := Parse(buf)
	if err != nil {
		return nil, err
	}

	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, fmt.Errorf(".env の読み込み失敗(%s): %w", envPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf(".env の確認に失敗(%s): %w", envPath, err)
		}
	}
	cfg.applyEnv(os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse は YAML をパースしてデフォルト値を埋める。
func Parse(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeDev
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.Library.TimeZone == "" {
		c.Library.TimeZone = "Asia/Manila"
	}
	if c.Auth.TokenTTL <= 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Mail.Provider == "" {
		c.Mail.Provider = "console"
	}
	if c.Mail.FromAddress == "" {
		c.Mail.FromAddress = "noreply@localhost"
	}
	if c.Mail.FromName == "" {
		c.Mail.FromName = "Library"
	}
	if c.Redis.StudentTTL <= 0 {
		c.Redis.StudentTTL = 10 * time.Minute
	}
	if c.Kafka.AuditTopic == "" {
		c.Kafka.AuditTopic = "library.audit"
	}
	if c.Kafka.Partitions <= 0 {
		c.Kafka.Partitions = 1
	}
	if c.Kafka.Replicas <= 0 {
		c.Kafka.Replicas = 1
	}
	if c.Rollbar.Environment == "" {
		c.Rollbar.Environment = c.Mode
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "none"
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	if c.Reconcile.Interval <= 0 {
		c.Reconcile.Interval = 15 * time.Minute
	}
	if c.Reconcile.BatchSize <= 0 {
		c.Reconcile.BatchSize = 100
	}
}

// 秘密情報は YAML に直書きせず環境変数で渡せるようにする
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("LIBRIS_DB_PASSWORD"); ok {
		c.DB.Password = v
	}
	if v, ok := lookup("LIBRIS_JWT_SECRET"); ok {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup("LIBRIS_ADMIN_PASSWORD"); ok {
		c.Auth.BootstrapPassword = v
	}
	if v, ok := lookup("LIBRIS_SENDGRID_KEY"); ok {
		c.Mail.SendgridKey = v
	}
	if v, ok := lookup("LIBRIS_ROLLBAR_TOKEN"); ok {
		c.Rollbar.Token = v
	}
	if v, ok := lookup("LIBRIS_REDIS_URL"); ok {
		c.Redis.URL = v
	}
	if v, ok := lookup("LIBRIS_KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v, ok := lookup("LIBRIS_DB_MIGRATE"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DB.Migrate = b
		}
	}
}

func (c *Config) Validate() error {
	if c.Mode != ModeDev && c.Mode != ModeRelease {
		return fmt.Errorf("mode は dev か release のいずれか: %q", c.Mode)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret が未設定")
	}
	if c.Tracing.Exporter != "none" && c.Tracing.Exporter != "stdout" {
		return fmt.Errorf("tracing.exporter は none か stdout のいずれか: %q", c.Tracing.Exporter)
	}
	if c.Mail.Provider == "sendgrid" && c.Mail.SendgridKey == "" {
		return fmt.Errorf("mail.sendgrid_key が未設定")
	}
	return nil
}

// TLSFiles は mode ごとの証明書パスを返す。証明書未設定なら ok=false。
func (c *Config) TLSFiles() (certFile, keyFile string, ok bool) {
	if c.Certificate.Cert == "" || c.Certificate.Key == "" {
		return "", "", false
	}
	dir := "config/tls/dev"
	if c.Mode == ModeRelease {
		dir = "config/tls/release"
	}
	return fmt.Sprintf("%s/%s", dir, c.Certificate.Cert), fmt.Sprintf("%s/%s", dir, c.Certificate.Key), true
}
