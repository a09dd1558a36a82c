package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the chat service.
type Config struct {
	AppName                string
	AppEnv                 string
	AppPort                string
	CORSOrigins            string
	DatabaseURL            string
	RedisURL               string
	NATSURL                string
	ChannelBase            string
	JWTSecret              string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	UploadMaxSizeMB        int
	MeiliURL               string
	MeiliAPIKey            string
	InviteTTL              time.Duration
	WSEventRate            float64
	WSEventBurst           int
	ReadBatchLimit         int
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// CloudinaryEnabled reports whether attachment uploads can be stored.
func (c Config) CloudinaryEnabled() bool {
	return c.CloudinaryCloudName != "" && c.CloudinaryAPIKey != "" && c.CloudinaryAPISecret != ""
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	v.SetDefault("app.name", "GEMA Chat API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("http.cors_origins", "*")
	v.SetDefault("realtime.channel_base", "gema")
	v.SetDefault("cloudinary.folder", "gema/chat")
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("group.invite_ttl", "168h")
	v.SetDefault("ws.event_rate", 20)
	v.SetDefault("ws.event_burst", 40)
	v.SetDefault("read.batch_limit", 500)

	inviteTTL, err := time.ParseDuration(v.GetString("group.invite_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid group invite ttl: %w", err)
	}
	if inviteTTL <= 0 {
		return Config{}, fmt.Errorf("group invite ttl must be positive")
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		CORSOrigins:            v.GetString("http.cors_origins"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		ChannelBase:            v.GetString("realtime.channel_base"),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		UploadMaxSizeMB:        v.GetInt("upload.max_size_mb"),
		MeiliURL:               v.GetString("meili.url"),
		MeiliAPIKey:            v.GetString("meili.api_key"),
		InviteTTL:              inviteTTL,
		WSEventRate:            v.GetFloat64("ws.event_rate"),
		WSEventBurst:           v.GetInt("ws.event_burst"),
		ReadBatchLimit:         v.GetInt("read.batch_limit"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 10
	}
	if cfg.WSEventRate <= 0 {
		cfg.WSEventRate = 20
	}
	if cfg.WSEventBurst <= 0 {
		cfg.WSEventBurst = 40
	}
	if cfg.ReadBatchLimit <= 0 {
		cfg.ReadBatchLimit = 500
	}

	return cfg, nil
}
