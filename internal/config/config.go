package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "CARDSCAN"

type Config struct {
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	ReposDir      string
	SeedFile      string
	CORSOrigin    string

	TokenSecret string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration

	// Redis backs refresh sessions and the device rate limiter; empty keeps
	// both in process memory.
	RedisURL string

	MeiliURL       string
	MeiliMasterKey string

	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	LogLevel  string
	LogFormat string

	ThrottleRPS   float64
	ThrottleBurst int
	RateWindow    time.Duration
	RateMax       int
	DedupWindow   time.Duration

	// Client side.
	AuthorityURL string
	LocalDBPath  string
	DeviceID     string
}

// SetDefaults registers every key with its default so env lookups work
// without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8787")
	v.SetDefault("database_url", "")
	v.SetDefault("migrations_dir", "./db/migrations")
	v.SetDefault("repos_dir", "")
	v.SetDefault("seed_file", "")
	v.SetDefault("cors_origin", "*")
	v.SetDefault("token_secret", "cardscan-dev-secret")
	v.SetDefault("access_ttl", 15*time.Minute)
	v.SetDefault("refresh_ttl", 30*24*time.Hour)
	v.SetDefault("redis_url", "")
	v.SetDefault("meili_url", "")
	v.SetDefault("meili_master_key", "")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_bucket", "cardscan-snapshots")
	v.SetDefault("s3_access_key", "")
	v.SetDefault("s3_secret_key", "")
	v.SetDefault("s3_use_ssl", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "auto")
	v.SetDefault("throttle_rps", 20.0)
	v.SetDefault("throttle_burst", 40)
	v.SetDefault("rate_window", time.Hour)
	v.SetDefault("rate_max", 30)
	v.SetDefault("dedup_window", 24*time.Hour)
	v.SetDefault("authority_url", "http://localhost:8787")
	v.SetDefault("local_db_path", "./data/cardscan-local.db")
	v.SetDefault("device_id", "")
}

// New returns a viper instance reading CARDSCAN_* environment variables and,
// when configFile is set, that file.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}
	return v, nil
}

func FromViper(v *viper.Viper) Config {
	return Config{
		Addr:           v.GetString("addr"),
		DatabaseURL:    v.GetString("database_url"),
		MigrationsDir:  v.GetString("migrations_dir"),
		ReposDir:       v.GetString("repos_dir"),
		SeedFile:       v.GetString("seed_file"),
		CORSOrigin:     v.GetString("cors_origin"),
		TokenSecret:    v.GetString("token_secret"),
		AccessTTL:      v.GetDuration("access_ttl"),
		RefreshTTL:     v.GetDuration("refresh_ttl"),
		RedisURL:       v.GetString("redis_url"),
		MeiliURL:       v.GetString("meili_url"),
		MeiliMasterKey: v.GetString("meili_master_key"),
		S3Endpoint:     v.GetString("s3_endpoint"),
		S3Bucket:       v.GetString("s3_bucket"),
		S3AccessKey:    v.GetString("s3_access_key"),
		S3SecretKey:    v.GetString("s3_secret_key"),
		S3UseSSL:       v.GetBool("s3_use_ssl"),
		LogLevel:       v.GetString("log_level"),
		LogFormat:      v.GetString("log_format"),
		ThrottleRPS:    v.GetFloat64("throttle_rps"),
		ThrottleBurst:  v.GetInt("throttle_burst"),
		RateWindow:     v.GetDuration("rate_window"),
		RateMax:        v.GetInt("rate_max"),
		DedupWindow:    v.GetDuration("dedup_window"),
		AuthorityURL:   v.GetString("authority_url"),
		LocalDBPath:    v.GetString("local_db_path"),
		DeviceID:       v.GetString("device_id"),
	}
}

// Load reads configuration from the environment only.
func Load() Config {
	v, _ := New("")
	return FromViper(v)
}
