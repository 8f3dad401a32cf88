package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultPort                     = "8080"
	defaultSQLitePath               = "realm.db"
	defaultMaxFileSize        int64 = 50 * 1024 * 1024  // 50MB
	defaultMaxProjectSize     int64 = 500 * 1024 * 1024 // 500MB
	defaultParserURL                = "http://localhost:8001"
	defaultParserTimeout            = 30 * time.Second
	defaultAdditionalFilesDir       = "./storage/additional_files"
	defaultSessionTTL               = 24 * time.Hour
	defaultCacheTTL                 = 5 * time.Minute
	defaultLogLevel                 = "info"
	defaultLogFormat                = "console"
)

var defaultAllowedExtensions = []string{".cbl", ".cob", ".cpy", ".jcl"}

// Config captures server runtime configuration. It is built once at start-up
// and treated as read-only afterwards.
type Config struct {
	Port               string
	DatabaseURL        string
	SQLitePath         string
	APIKey             string
	AllowedOrigins     []string
	AllowedExtensions  []string
	AllowNoExtension   bool
	MaxFileSize        int64
	MaxProjectSize     int64
	ParserEnabled      bool
	ParserURL          string
	ParserTimeout      time.Duration
	AdditionalFilesDir string
	SessionTTL         time.Duration
	CacheTTL           time.Duration
	GitHubToken        string
	LogLevel           string
	LogFormat          string
}

// fileConfig mirrors the TOML layout. Durations are strings ("30s").
type fileConfig struct {
	Server struct {
		Port           string   `toml:"port"`
		APIKey         string   `toml:"api_key"`
		AllowedOrigins []string `toml:"allowed_origins"`
	} `toml:"server"`
	Database struct {
		URL        string `toml:"url"`
		SQLitePath string `toml:"sqlite_path"`
	} `toml:"database"`
	Upload struct {
		AllowedExtensions  []string `toml:"allowed_extensions"`
		AllowNoExtension   *bool    `toml:"allow_no_extension"`
		MaxFileSize        int64    `toml:"max_file_size"`
		MaxProjectSize     int64    `toml:"max_project_size"`
		AdditionalFilesDir string   `toml:"additional_files_dir"`
		SessionTTL         string   `toml:"session_ttl"`
	} `toml:"upload"`
	Parser struct {
		Enabled *bool  `toml:"enabled"`
		URL     string `toml:"url"`
		Timeout string `toml:"timeout"`
	} `toml:"parser"`
	Cache struct {
		TTL string `toml:"ttl"`
	} `toml:"cache"`
	GitHub struct {
		Token string `toml:"token"`
	} `toml:"github"`
	Logging struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:               defaultPort,
		SQLitePath:         defaultSQLitePath,
		AllowedOrigins:     []string{"*"},
		AllowedExtensions:  append([]string(nil), defaultAllowedExtensions...),
		AllowNoExtension:   true,
		MaxFileSize:        defaultMaxFileSize,
		MaxProjectSize:     defaultMaxProjectSize,
		ParserEnabled:      true,
		ParserURL:          defaultParserURL,
		ParserTimeout:      defaultParserTimeout,
		AdditionalFilesDir: defaultAdditionalFilesDir,
		SessionTTL:         defaultSessionTTL,
		CacheTTL:           defaultCacheTTL,
		LogLevel:           defaultLogLevel,
		LogFormat:          defaultLogFormat,
	}
}

// Load builds a Config from defaults, an optional TOML file and environment
// variables, in that order of precedence. An empty path falls back to
// REALM_CONFIG; no file at all is fine.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("REALM_CONFIG"))
	}
	if path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	setString(&c.Port, fc.Server.Port)
	setString(&c.APIKey, fc.Server.APIKey)
	if len(fc.Server.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.Server.AllowedOrigins
	}
	setString(&c.DatabaseURL, fc.Database.URL)
	setString(&c.SQLitePath, fc.Database.SQLitePath)
	if len(fc.Upload.AllowedExtensions) > 0 {
		c.AllowedExtensions = fc.Upload.AllowedExtensions
	}
	if fc.Upload.AllowNoExtension != nil {
		c.AllowNoExtension = *fc.Upload.AllowNoExtension
	}
	if fc.Upload.MaxFileSize != 0 {
		c.MaxFileSize = fc.Upload.MaxFileSize
	}
	if fc.Upload.MaxProjectSize != 0 {
		c.MaxProjectSize = fc.Upload.MaxProjectSize
	}
	setString(&c.AdditionalFilesDir, fc.Upload.AdditionalFilesDir)
	if fc.Parser.Enabled != nil {
		c.ParserEnabled = *fc.Parser.Enabled
	}
	setString(&c.ParserURL, fc.Parser.URL)
	setString(&c.GitHubToken, fc.GitHub.Token)
	setString(&c.LogLevel, fc.Logging.Level)
	setString(&c.LogFormat, fc.Logging.Format)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"upload.session_ttl", fc.Upload.SessionTTL, &c.SessionTTL},
		{"parser.timeout", fc.Parser.Timeout, &c.ParserTimeout},
		{"cache.ttl", fc.Cache.TTL, &c.CacheTTL},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parse config %s: %s: %w", path, d.key, err)
		}
		*d.dst = parsed
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SQLitePath = getEnv("REALM_SQLITE_PATH", c.SQLitePath)
	c.APIKey = getEnv("REALM_API_KEY", c.APIKey)
	c.AllowedOrigins = parseList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.AllowedExtensions = parseList("UPLOAD_ALLOWED_EXTENSIONS", c.AllowedExtensions)
	c.AllowNoExtension = parseBool("UPLOAD_ALLOW_NO_EXTENSION", c.AllowNoExtension)
	c.MaxFileSize = parseInt64("UPLOAD_MAX_FILE_SIZE", c.MaxFileSize)
	c.MaxProjectSize = parseInt64("UPLOAD_MAX_PROJECT_SIZE", c.MaxProjectSize)
	c.ParserEnabled = parseBool("UPLOAD_PARSER_ENABLED", c.ParserEnabled)
	c.ParserURL = getEnv("UPLOAD_PARSER_URL", c.ParserURL)
	c.ParserTimeout = parseDuration("UPLOAD_PARSER_TIMEOUT", c.ParserTimeout)
	c.AdditionalFilesDir = getEnv("UPLOAD_ADDITIONAL_FILES_DIR", c.AdditionalFilesDir)
	c.SessionTTL = parseDuration("UPLOAD_SESSION_TTL", c.SessionTTL)
	c.CacheTTL = parseDuration("REALM_CACHE_TTL", c.CacheTTL)
	c.GitHubToken = getEnv("GITHUB_TOKEN", c.GitHubToken)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
}

// Validate checks invariants between fields.
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return errors.New("max file size must be positive")
	}
	if c.MaxProjectSize <= 0 {
		return errors.New("max project size must be positive")
	}
	if c.MaxFileSize > c.MaxProjectSize {
		return errors.New("max file size must not exceed max project size")
	}
	if c.ParserEnabled && c.ParserURL == "" {
		return errors.New("parser url is required when the parser is enabled")
	}
	if c.ParserTimeout <= 0 {
		return errors.New("parser timeout must be positive")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.CacheTTL < 0 {
		return errors.New("cache ttl must not be negative")
	}
	if c.AdditionalFilesDir == "" {
		return errors.New("additional files dir is required")
	}
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return errors.New("either DATABASE_URL or a sqlite path is required")
	}
	for i, ext := range c.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.AllowedExtensions[i] = ext
	}
	return nil
}

func setString(dst *string, val string) {
	if val = strings.TrimSpace(val); val != "" {
		*dst = val
	}
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func parseList(key string, fallback []string) []string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt64(key string, fallback int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBool(key string, fallback bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return dur
}
