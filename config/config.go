package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// Config holds every setting of the allowlist service.
type Config struct {
	Environment string
	Debug       bool

	Server  ServerConfig
	Discord DiscordConfig
	Twitter TwitterConfig
	Store   StoreConfig
	Pass    PassConfig
	State   StateConfig

	// HTTPTimeout bounds every outbound provider call.
	HTTPTimeout time.Duration
	// AuditLog is an optional file receiving activity events as JSON lines.
	AuditLog string
}

type ServerConfig struct {
	Address         string
	CORSOrigins     string
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
}

type DiscordConfig struct {
	ClientID     string
	ClientSecret string
	BotToken     string
	GuildID      string
	RoleID       string

	// CallbackURL is the backend redirect endpoint.
	CallbackURL string
	// FrontendRedirectURL is the redirect URI the frontend obtains codes with.
	FrontendRedirectURL string
}

type TwitterConfig struct {
	APIKey      string
	APISecret   string
	BearerToken string
	CallbackURL string
}

type StoreConfig struct {
	Driver          string
	DSN             string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
}

type PassConfig struct {
	AssetDir     string
	BaseImage    string
	TemplatesDir string
	FontPath     string
	FontSize     float64
}

type StateConfig struct {
	Secret string
	TTL    time.Duration
}

var envBindings = map[string]string{
	"environment":               "ALLOWLIST_ENV",
	"debug":                     "ALLOWLIST_DEBUG",
	"http_timeout":              "ALLOWLIST_HTTP_TIMEOUT",
	"audit_log":                 "ALLOWLIST_AUDIT_LOG",
	"server.address":            "ALLOWLIST_ADDRESS",
	"server.cors_origins":       "ALLOWLIST_CORS_ORIGINS",
	"server.shutdown_timeout":   "ALLOWLIST_SHUTDOWN_TIMEOUT",
	"server.metrics_enabled":    "ALLOWLIST_METRICS_ENABLED",
	"discord.client_id":         "DISCORD_CLIENT_ID",
	"discord.client_secret":     "DISCORD_CLIENT_SECRET",
	"discord.bot_token":         "DISCORD_BOT_TOKEN",
	"discord.guild_id":          "DISCORD_GUILD_ID",
	"discord.role_id":           "DISCORD_ROLE_ID",
	"discord.callback_url":      "ALLOWLIST_DISCORD_CALLBACK_URL",
	"discord.frontend_redirect": "ALLOWLIST_FRONTEND_REDIRECT_URL",
	"twitter.api_key":           "TWITTER_API_KEY",
	"twitter.api_secret":        "TWITTER_API_SECRET",
	"twitter.bearer_token":      "TWITTER_BEARER_TOKEN",
	"twitter.callback_url":      "ALLOWLIST_TWITTER_CALLBACK_URL",
	"store.driver":              "ALLOWLIST_STORE_DRIVER",
	"store.dsn":                 "ALLOWLIST_SQLITE_DSN",
	"store.mongo_uri":           "MONGO_URI",
	"store.mongo_database":      "ALLOWLIST_MONGO_DATABASE",
	"store.mongo_collection":    "ALLOWLIST_MONGO_COLLECTION",
	"pass.asset_dir":            "ALLOWLIST_ASSET_DIR",
	"pass.base_image":           "ALLOWLIST_BASE_IMAGE",
	"pass.templates_dir":        "ALLOWLIST_TEMPLATES_DIR",
	"pass.font_path":            "ALLOWLIST_FONT_PATH",
	"pass.font_size":            "ALLOWLIST_FONT_SIZE",
	"state.secret":              "ALLOWLIST_STATE_SECRET",
	"state.ttl":                 "ALLOWLIST_STATE_TTL",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("debug", false)
	v.SetDefault("http_timeout", 10*time.Second)
	v.SetDefault("server.address", ":5000")
	v.SetDefault("server.cors_origins", "*")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics_enabled", true)
	v.SetDefault("discord.callback_url", "http://localhost:5000/oauth2/discord/redirect")
	v.SetDefault("discord.frontend_redirect", "http://localhost:5173/")
	v.SetDefault("twitter.callback_url", "http://localhost:5173/")
	v.SetDefault("store.dsn", "file:allowlist.db?cache=shared")
	v.SetDefault("store.mongo_database", "allowlist")
	v.SetDefault("store.mongo_collection", "members")
	v.SetDefault("pass.asset_dir", ".")
	v.SetDefault("pass.base_image", "base.png")
	v.SetDefault("pass.templates_dir", "templates")
	v.SetDefault("pass.font_size", 48)
	v.SetDefault("state.ttl", 10*time.Minute)
}

// storeDriver returns the configured driver. Without one, a Mongo URI
// selects mongo and sqlite is used otherwise.
func storeDriver(v *viper.Viper) string {
	if driver := strings.ToLower(strings.TrimSpace(v.GetString("store.driver"))); driver != "" {
		return driver
	}
	if v.GetString("store.mongo_uri") != "" {
		return DriverMongo
	}
	return DriverSQLite
}

func bindEnv(v *viper.Viper) error {
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return err
		}
	}
	return nil
}

// Load reads .env files, an optional YAML config file and the environment.
// Environment variables win over the file. Missing .env files are ignored.
func Load(configFile string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	v := viper.New()
	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	return FromViper(v), nil
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Environment: v.GetString("environment"),
		Debug:       v.GetBool("debug"),
		HTTPTimeout: v.GetDuration("http_timeout"),
		AuditLog:    v.GetString("audit_log"),
		Server: ServerConfig{
			Address:         v.GetString("server.address"),
			CORSOrigins:     v.GetString("server.cors_origins"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			MetricsEnabled:  v.GetBool("server.metrics_enabled"),
		},
		Discord: DiscordConfig{
			ClientID:            v.GetString("discord.client_id"),
			ClientSecret:        v.GetString("discord.client_secret"),
			BotToken:            v.GetString("discord.bot_token"),
			GuildID:             v.GetString("discord.guild_id"),
			RoleID:              v.GetString("discord.role_id"),
			CallbackURL:         v.GetString("discord.callback_url"),
			FrontendRedirectURL: v.GetString("discord.frontend_redirect"),
		},
		Twitter: TwitterConfig{
			APIKey:      v.GetString("twitter.api_key"),
			APISecret:   v.GetString("twitter.api_secret"),
			BearerToken: v.GetString("twitter.bearer_token"),
			CallbackURL: v.GetString("twitter.callback_url"),
		},
		Store: StoreConfig{
			Driver:          storeDriver(v),
			DSN:             v.GetString("store.dsn"),
			MongoURI:        v.GetString("store.mongo_uri"),
			MongoDatabase:   v.GetString("store.mongo_database"),
			MongoCollection: v.GetString("store.mongo_collection"),
		},
		Pass: PassConfig{
			AssetDir:     v.GetString("pass.asset_dir"),
			BaseImage:    v.GetString("pass.base_image"),
			TemplatesDir: v.GetString("pass.templates_dir"),
			FontPath:     v.GetString("pass.font_path"),
			FontSize:     v.GetFloat64("pass.font_size"),
		},
		State: StateConfig{
			Secret: v.GetString("state.secret"),
			TTL:    v.GetDuration("state.ttl"),
		},
	}
}

// Validate will run validation rules
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Server),
		validation.Field(&c.Discord),
		validation.Field(&c.Twitter),
		validation.Field(&c.Store),
		validation.Field(&c.Pass),
		validation.Field(&c.HTTPTimeout, validation.Required),
	)
}

// Validate will run validation rules
func (c ServerConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Address, validation.Required),
	)
}

// Validate will run validation rules
func (c DiscordConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.ClientID, validation.Required),
		validation.Field(&c.ClientSecret, validation.Required),
		validation.Field(&c.BotToken, validation.Required),
		validation.Field(&c.GuildID, validation.Required, is.Digit),
		validation.Field(&c.RoleID, validation.Required, is.Digit),
		validation.Field(&c.CallbackURL, validation.Required, is.URL),
		validation.Field(&c.FrontendRedirectURL, is.URL),
	)
}

// Validate will run validation rules
func (c TwitterConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.APISecret, validation.Required),
		validation.Field(&c.BearerToken, validation.Required),
		validation.Field(&c.CallbackURL, validation.Required, is.URL),
	)
}

// Validate will run validation rules
func (c StoreConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverMongo)),
		validation.Field(&c.MongoURI, validation.By(func(any) error {
			if c.Driver == DriverMongo && c.MongoURI == "" {
				return errors.New("is required for the mongo driver")
			}
			return nil
		})),
	)
}

// Validate will run validation rules
func (c PassConfig) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.BaseImage, validation.Required),
		validation.Field(&c.TemplatesDir, validation.Required),
		validation.Field(&c.FontPath, validation.By(func(any) error {
			if c.FontPath == "" {
				return nil
			}
			_, err := os.Stat(c.FontPath)
			return err
		})),
		validation.Field(&c.FontSize, validation.Min(1.0)),
	)
}
