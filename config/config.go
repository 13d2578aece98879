package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	DriverMongo  = "mongo"
	DriverSQLite = "sqlite"

	// DefaultJWTSecret is only good for development, production refuses it.
	DefaultJWTSecret    = "change-me-in-production-secret-key"
	minProductionSecret = 32
)

type Config struct {
	Environment string    `toml:"environment"`
	Server      Server    `toml:"server"`
	Paths       PathsConf `toml:"paths"`
	Templates   Templates `toml:"templates"`
	CORS        CORS      `toml:"cors"`
	Database    Database  `toml:"database"`
	Auth        Auth      `toml:"auth"`
	GitHub      GitHub    `toml:"github"`
	Analysis    Analysis  `toml:"analysis"`
}

type Server struct {
	Host    string `toml:"host"`
	Port    int    `toml:"port"`
	BaseURL string `toml:"base_url"` // The base URL repolens is served from, used for OAuth callbacks
}

type PathsConf struct {
	Root string `toml:"root"` // Overrides the root derived from the source location
}

type Templates struct {
	Cache bool `toml:"cache"`

	cacheSet bool // cache was given in the config file
}

type CORS struct {
	AllowedOrigins   []string `toml:"allowed_origins"`
	AllowCredentials bool     `toml:"allow_credentials"`
}

type Database struct {
	Driver                string `toml:"driver"`
	URI                   string `toml:"uri"`
	Name                  string `toml:"name"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
}

type Auth struct {
	JWTSecret    string `toml:"jwt_secret"`
	SessionHours int    `toml:"session_hours"` // How long should user sessions last?
	SecureCookie bool   `toml:"secure_cookie"`
}

type GitHub struct {
	ClientID        string `toml:"client_id"`
	ClientSecret    string `toml:"client_secret"`
	APIURL          string `toml:"api_url"`
	AppID           string `toml:"app_id"`
	InstallationID  string `toml:"installation_id"`
	PrivateKeyPath  string `toml:"private_key_path"`
	BulkLimit       int    `toml:"bulk_limit"`
	BulkConcurrency int    `toml:"bulk_concurrency"`
}

type Analysis struct {
	RetentionDays int    `toml:"retention_days"`
	PurgeSchedule string `toml:"purge_schedule"`
}

// Default returns the configuration used when neither a file nor the
// environment say otherwise.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: Server{
			Host:    "0.0.0.0",
			Port:    8000,
			BaseURL: "http://localhost:8000",
		},
		CORS: CORS{
			AllowedOrigins:   []string{"*"},
			AllowCredentials: true,
		},
		Database: Database{
			Driver:                DriverMongo,
			URI:                   "mongodb://localhost:27017",
			Name:                  "repolens",
			ConnectTimeoutSeconds: 10,
		},
		Auth: Auth{
			JWTSecret:    DefaultJWTSecret,
			SessionHours: 24 * 7,
		},
		GitHub: GitHub{
			APIURL:          "https://api.github.com/",
			BulkLimit:       20,
			BulkConcurrency: 4,
		},
		Analysis: Analysis{
			RetentionDays: 30,
			PurgeSchedule: "@hourly",
		},
	}
}

// Load builds the configuration from defaults, the TOML file at path (if it
// exists) and finally the environment.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		err := loadFile(path, config)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadFile(path string, config *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	err = toml.Unmarshal(content, config)
	if err != nil {
		return fmt.Errorf("could not decode %s: %w", path, err)
	}

	// Tells an explicit "cache = false" apart from a missing key
	var explicit struct {
		Templates struct {
			Cache *bool `toml:"cache"`
		} `toml:"templates"`
	}
	if err := toml.Unmarshal(content, &explicit); err == nil {
		config.Templates.cacheSet = explicit.Templates.Cache != nil
	}

	return nil
}

func (c *Config) applyEnv() error {
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.Server.Host = getEnv("HOST", c.Server.Host)
	c.Server.BaseURL = getEnv("BASE_URL", c.Server.BaseURL)
	c.Paths.Root = getEnv("PROJECT_ROOT", c.Paths.Root)

	if origins, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		c.CORS.AllowedOrigins = parseCommaSeparatedList(origins)
	}

	c.Database.Driver = getEnv("DATABASE_DRIVER", c.Database.Driver)
	c.Database.URI = getEnv("MONGO_URI", c.Database.URI)
	c.Database.URI = getEnv("DATABASE_URI", c.Database.URI)
	c.Database.Name = getEnv("DATABASE_NAME", c.Database.Name)

	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)

	c.GitHub.ClientID = getEnv("GITHUB_CLIENT_ID", c.GitHub.ClientID)
	c.GitHub.ClientSecret = getEnv("GITHUB_CLIENT_SECRET", c.GitHub.ClientSecret)
	c.GitHub.AppID = getEnv("GITHUB_APP_ID", c.GitHub.AppID)
	c.GitHub.InstallationID = getEnv("GITHUB_INSTALLATION_ID", c.GitHub.InstallationID)
	c.GitHub.PrivateKeyPath = getEnv("GITHUB_PRIVATE_KEY_PATH", c.GitHub.PrivateKeyPath)

	var err error
	if c.Server.Port, err = getEnvInt("PORT", c.Server.Port); err != nil {
		return err
	}
	if c.Auth.SecureCookie, err = getEnvBool("SECURE_COOKIE", c.Auth.SecureCookie); err != nil {
		return err
	}

	// The file wins over the environment's default, TEMPLATES_CACHE over both
	cache := c.IsProduction()
	if c.Templates.cacheSet {
		cache = c.Templates.Cache
	}
	if c.Templates.Cache, err = getEnvBool("TEMPLATES_CACHE", cache); err != nil {
		return err
	}

	c.GitHub.APIURL = withTrailingSlash(c.GitHub.APIURL)

	return nil
}

// Validate reports the first setting that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case DriverMongo, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.URI == "" {
		return errors.New("database uri is empty")
	}
	if c.Database.Driver == DriverMongo && c.Database.Name == "" {
		return errors.New("database name is empty")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is empty")
	}
	if c.IsProduction() {
		if c.Auth.JWTSecret == DefaultJWTSecret {
			return errors.New("jwt secret must be changed in production")
		}
		if len(c.Auth.JWTSecret) < minProductionSecret {
			return fmt.Errorf("jwt secret must be at least %d bytes in production", minProductionSecret)
		}
	}
	if c.GitHub.BulkLimit < 1 {
		return fmt.Errorf("github bulk_limit must be positive, got %d", c.GitHub.BulkLimit)
	}
	if c.GitHub.BulkConcurrency < 1 {
		return fmt.Errorf("github bulk_concurrency must be positive, got %d", c.GitHub.BulkConcurrency)
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// HasGitHubApp tells whether the GitHub App credentials are all set.
func (c *GitHub) HasGitHubApp() bool {
	return c.AppID != "" && c.InstallationID != "" && c.PrivateKeyPath != ""
}

// withTrailingSlash makes API base URLs usable for relative requests.
func withTrailingSlash(u string) string {
	if u == "" || strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}

// parseCommaSeparatedList splits a comma-separated string into a slice
func parseCommaSeparatedList(s string) []string {
	items := strings.Split(s, ",")
	result := make([]string, 0, len(items))

	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}

	return result
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

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
