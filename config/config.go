package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"chat-relay/circuitbreaker"
)

// ErrUnknownBot is returned when a bot id resolves to no chatflow
var ErrUnknownBot = errors.New("unknown bot")

// Keys read from the .env file and the process environment
const (
	KeyPort              = "PORT"
	KeyUpstreamBaseURL   = "UPSTREAM_BASE_URL"
	KeyUpstreamAPIKey    = "UPSTREAM_API_KEY"
	KeyUpstreamTimeout   = "UPSTREAM_TIMEOUT"
	KeyBlockMarker       = "UPSTREAM_BLOCK_MARKER"
	KeyHistoryLimit      = "HISTORY_LIMIT"
	KeyDefaultChatflowID = "DEFAULT_CHATFLOW_ID"
	KeyTranscriptDB      = "TRANSCRIPT_DB"
	KeyPersistWorkers    = "PERSIST_WORKERS"
	KeyPersistQueueSize  = "PERSIST_QUEUE_SIZE"
	KeyLogLevel          = "LOG_LEVEL"
	KeyLogDir            = "LOG_DIR"
	KeyBotsFile          = "BOTS_FILE"
	KeyCBThreshold       = "CIRCUIT_FAILURE_THRESHOLD"
	KeyCBBackoff         = "CIRCUIT_BACKOFF"
	KeyCBMaxBackoff      = "CIRCUIT_MAX_BACKOFF"
)

var knownKeys = []string{
	KeyPort, KeyUpstreamBaseURL, KeyUpstreamAPIKey, KeyUpstreamTimeout, KeyBlockMarker,
	KeyHistoryLimit, KeyDefaultChatflowID, KeyTranscriptDB, KeyPersistWorkers,
	KeyPersistQueueSize, KeyLogLevel, KeyLogDir, KeyBotsFile,
	KeyCBThreshold, KeyCBBackoff, KeyCBMaxBackoff,
}

// Bot maps a bot identity to its upstream chatflow
type Bot struct {
	ID             string                 `yaml:"-" json:"id"`
	ChatflowID     string                 `yaml:"chatflowId" json:"chatflowId"`
	OverrideConfig map[string]interface{} `yaml:"overrideConfig,omitempty" json:"overrideConfig,omitempty"`
}

// BotsYAML represents the structure of bots.yaml
type BotsYAML struct {
	Bots map[string]Bot `yaml:"bots"`
}

// Config holds every relay setting. It is built once at startup and passed
// explicitly to the components that need it.
type Config struct {
	Port string `json:"port"`

	// Upstream generation service
	UpstreamEndpoints []string      `json:"upstream_endpoints"`
	UpstreamAPIKey    string        `json:"-"`
	UpstreamTimeout   time.Duration `json:"upstream_timeout"`
	BlockMarker       string        `json:"block_marker"`
	HistoryLimit      int           `json:"history_limit"`

	// Bot resolution
	DefaultChatflowID string         `json:"default_chatflow_id"`
	BotsFile          string         `json:"bots_file"`
	Bots              map[string]Bot `json:"bots"`

	// Transcript persistence; empty TranscriptDB selects the memory store
	TranscriptDB     string `json:"transcript_db"`
	PersistWorkers   int    `json:"persist_workers"`
	PersistQueueSize int    `json:"persist_queue_size"`

	LogLevel string `json:"log_level"`
	LogDir   string `json:"log_dir"`

	CircuitBreaker circuitbreaker.Config `json:"circuit_breaker"`
}

// GetDefaultConfig returns the configuration used before any file or variable is applied
func GetDefaultConfig() *Config {
	return &Config{
		Port:             "3000",
		UpstreamTimeout:  60 * time.Second,
		BlockMarker:      "message:",
		HistoryLimit:     20,
		BotsFile:         "bots.yaml",
		Bots:             make(map[string]Bot),
		PersistWorkers:   3,
		PersistQueueSize: 256,
		LogLevel:         "INFO",
		CircuitBreaker:   circuitbreaker.DefaultConfig(),
	}
}

// Load reads envFile (optional) and the process environment, which takes
// precedence, then the bots file it points to.
func Load(envFile string) (*Config, error) {
	vars := make(map[string]string)
	if envFile != "" {
		fileVars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			vars = fileVars
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("reading %s: %w", envFile, err)
		}
	}
	for _, key := range knownKeys {
		if v := os.Getenv(key); v != "" {
			vars[key] = v
		}
	}

	cfg, err := FromMap(vars)
	if err != nil {
		return nil, err
	}

	bots, err := LoadBots(cfg.BotsFile)
	if err != nil {
		return nil, err
	}
	cfg.Bots = bots
	return cfg, nil
}

// FromMap builds a Config from already collected key/value pairs
func FromMap(vars map[string]string) (*Config, error) {
	cfg := GetDefaultConfig()

	if v := vars[KeyPort]; v != "" {
		cfg.Port = v
	}

	cfg.UpstreamEndpoints = splitList(vars[KeyUpstreamBaseURL])
	if len(cfg.UpstreamEndpoints) == 0 {
		return nil, fmt.Errorf("%s must be set", KeyUpstreamBaseURL)
	}
	cfg.UpstreamAPIKey = vars[KeyUpstreamAPIKey]
	if v := vars[KeyBlockMarker]; v != "" {
		cfg.BlockMarker = v
	}
	cfg.DefaultChatflowID = vars[KeyDefaultChatflowID]
	cfg.TranscriptDB = vars[KeyTranscriptDB]
	cfg.LogDir = vars[KeyLogDir]
	if v := vars[KeyLogLevel]; v != "" {
		cfg.LogLevel = strings.ToUpper(v)
	}
	if v, ok := vars[KeyBotsFile]; ok {
		cfg.BotsFile = v
	}

	var err error
	if cfg.UpstreamTimeout, err = parseDuration(vars, KeyUpstreamTimeout, cfg.UpstreamTimeout); err != nil {
		return nil, err
	}
	if cfg.HistoryLimit, err = parsePositive(vars, KeyHistoryLimit, cfg.HistoryLimit); err != nil {
		return nil, err
	}
	if cfg.PersistWorkers, err = parsePositive(vars, KeyPersistWorkers, cfg.PersistWorkers); err != nil {
		return nil, err
	}
	if cfg.PersistQueueSize, err = parsePositive(vars, KeyPersistQueueSize, cfg.PersistQueueSize); err != nil {
		return nil, err
	}

	cb := &cfg.CircuitBreaker
	if cb.FailureThreshold, err = parsePositive(vars, KeyCBThreshold, cb.FailureThreshold); err != nil {
		return nil, err
	}
	if cb.BackoffDuration, err = parseDuration(vars, KeyCBBackoff, cb.BackoffDuration); err != nil {
		return nil, err
	}
	if cb.MaxBackoffDuration, err = parseDuration(vars, KeyCBMaxBackoff, cb.MaxBackoffDuration); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadBots loads bot definitions from path.
// Returns an empty map if the file doesn't exist (no error).
func LoadBots(path string) (map[string]Bot, error) {
	bots := make(map[string]Bot)
	if path == "" {
		return bots, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return bots, nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var yamlData BotsYAML
	if err := yaml.NewDecoder(file).Decode(&yamlData); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for id, bot := range yamlData.Bots {
		if bot.ChatflowID == "" {
			return nil, fmt.Errorf("bot %q in %s has no chatflowId", id, path)
		}
		bot.ID = id
		bots[id] = bot
	}
	return bots, nil
}

// ResolveBot returns the bot registered under id. Unregistered ids use the
// default chatflow when one is configured.
func (c *Config) ResolveBot(id string) (Bot, error) {
	if bot, ok := c.Bots[id]; ok {
		return bot, nil
	}
	if c.DefaultChatflowID != "" {
		return Bot{ID: id, ChatflowID: c.DefaultChatflowID}, nil
	}
	return Bot{}, fmt.Errorf("%w: %q", ErrUnknownBot, id)
}

// MaskedAPIKey returns the API key in a form safe for logging
func (c *Config) MaskedAPIKey() string {
	if c.UpstreamAPIKey == "" {
		return ""
	}
	if len(c.UpstreamAPIKey) <= 8 {
		return "***"
	}
	return c.UpstreamAPIKey[:4] + "..." + c.UpstreamAPIKey[len(c.UpstreamAPIKey)-4:]
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, strings.TrimRight(part, "/"))
		}
	}
	return out
}

func parseDuration(vars map[string]string, key string, def time.Duration) (time.Duration, error) {
	v := vars[key]
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Plain integers are seconds.
		secs, convErr := strconv.Atoi(v)
		if convErr != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", key, v)
		}
		d = time.Duration(secs) * time.Second
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func parsePositive(vars map[string]string, key string, def int) (int, error) {
	v := vars[key]
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}
