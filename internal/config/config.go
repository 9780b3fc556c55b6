// Package config loads the layered configuration of the retrieval engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	raerrors "github.com/Franck-BRT/BlackIA-sub003/internal/errors"
)

// Project-level file names, checked in this order.
var projectConfigFiles = []string{".blackia.yaml", ".blackia.yml", ".blackia.toml"}

// Config is the complete engine configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version" toml:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir" toml:"data_dir"`
	Chunking   ChunkingConfig   `yaml:"chunking" json:"chunking" toml:"chunking"`
	Search     SearchConfig     `yaml:"search" json:"search" toml:"search"`
	Text       TextConfig       `yaml:"text" json:"text" toml:"text"`
	Vision     VisionConfig     `yaml:"vision" json:"vision" toml:"vision"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings" toml:"embeddings"`
	Index      IndexConfig      `yaml:"index" json:"index" toml:"index"`
	Compaction CompactionConfig `yaml:"compaction" json:"compaction" toml:"compaction"`
	Server     ServerConfig     `yaml:"server" json:"server" toml:"server"`
	Watch      WatchConfig      `yaml:"watch" json:"watch" toml:"watch"`
}

// ChunkingConfig configures the whitespace chunker.
type ChunkingConfig struct {
	// Size is the window length in whitespace tokens (default: 500).
	Size int `yaml:"size" json:"size" toml:"size"`
	// Overlap is the number of tokens shared by consecutive windows (default: 50).
	Overlap int `yaml:"overlap" json:"overlap" toml:"overlap"`
	// Separator marks paragraph boundaries for provenance (default: "\n\n").
	Separator string `yaml:"separator" json:"separator" toml:"separator"`
}

// SearchConfig configures the query API defaults.
type SearchConfig struct {
	// RRFConstant is the RRF smoothing parameter k (default: 60).
	RRFConstant int `yaml:"rrf_constant" json:"rrf_constant" toml:"rrf_constant"`
	// TopK is the default number of fused results (default: 10).
	TopK int `yaml:"top_k" json:"top_k" toml:"top_k"`
	// MinScore drops per-source hits below this similarity (default: 0).
	MinScore float64 `yaml:"min_score" json:"min_score" toml:"min_score"`
	// DefaultMode is auto, text, vision or hybrid (default: auto).
	DefaultMode string `yaml:"default_mode" json:"default_mode" toml:"default_mode"`
	// ModeCacheSize bounds the auto-mode decision cache (default: 512).
	ModeCacheSize int `yaml:"mode_cache_size" json:"mode_cache_size" toml:"mode_cache_size"`
	// QueryMetrics records query statistics in the index database (default: true).
	QueryMetrics bool `yaml:"query_metrics" json:"query_metrics" toml:"query_metrics"`
}

// TextConfig configures the text index.
type TextConfig struct {
	// ANNEnabled turns on the HNSW candidate generator for unfiltered queries.
	ANNEnabled bool `yaml:"ann_enabled" json:"ann_enabled" toml:"ann_enabled"`
	// ANNMinRows is the corpus size below which the exact scan is always used.
	ANNMinRows int `yaml:"ann_min_rows" json:"ann_min_rows" toml:"ann_min_rows"`
	// ANNOversample multiplies topK when asking the graph for candidates.
	ANNOversample int `yaml:"ann_oversample" json:"ann_oversample" toml:"ann_oversample"`
}

// VisionConfig configures the vision index.
type VisionConfig struct {
	// MaxCandidates caps the number of pages scored per query (default: 2000).
	MaxCandidates int `yaml:"max_candidates" json:"max_candidates" toml:"max_candidates"`
	// Workers is the MaxSim scoring parallelism (default: NumCPU).
	Workers int `yaml:"workers" json:"workers" toml:"workers"`
}

// EmbeddingsConfig configures the embedding backends.
type EmbeddingsConfig struct {
	// Provider is the text backend: ollama, openai or static (default: ollama).
	Provider string `yaml:"provider" json:"provider" toml:"provider"`
	// Model is the text embedding model (default: nomic-embed-text).
	Model string `yaml:"model" json:"model" toml:"model"`
	// OllamaHost is the Ollama endpoint (default: http://localhost:11434).
	OllamaHost string `yaml:"ollama_host" json:"ollama_host" toml:"ollama_host"`
	// OpenAIBaseURL points the openai provider at a compatible server.
	OpenAIBaseURL string `yaml:"openai_base_url" json:"openai_base_url" toml:"openai_base_url"`
	// OpenAIAPIKey is normally supplied through OPENAI_API_KEY.
	OpenAIAPIKey string `yaml:"-" json:"-" toml:"-"`
	// Dimensions overrides auto-detection (0 = detect).
	Dimensions int `yaml:"dimensions" json:"dimensions" toml:"dimensions"`
	// BatchSize is the number of texts per request (default: 32).
	BatchSize int `yaml:"batch_size" json:"batch_size" toml:"batch_size"`
	// CacheSize bounds the query embedding cache (default: 1000).
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`
	// RequestsPerSecond throttles backend calls (0 = unlimited).
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" toml:"requests_per_second"`
	// MaxRetries for transient backend failures (default: 3).
	MaxRetries int `yaml:"max_retries" json:"max_retries" toml:"max_retries"`

	// VisionProvider is the patch backend: http, static or none (default: http).
	VisionProvider string `yaml:"vision_provider" json:"vision_provider" toml:"vision_provider"`
	// VisionEndpoint is the patch embedding service (default: http://localhost:8765).
	VisionEndpoint string `yaml:"vision_endpoint" json:"vision_endpoint" toml:"vision_endpoint"`
	// VisionModel is the late-interaction model (default: vidore/colpali-v1.2).
	VisionModel string `yaml:"vision_model" json:"vision_model" toml:"vision_model"`
}

// IndexConfig configures the lifecycle manager.
type IndexConfig struct {
	// EmbedTimeout bounds each embedding call made while indexing (default: "2m").
	EmbedTimeout string `yaml:"embed_timeout" json:"embed_timeout" toml:"embed_timeout"`
	// TextThreshold is the extracted-text length above which PDFs are text-only (default: 500).
	TextThreshold int `yaml:"text_threshold" json:"text_threshold" toml:"text_threshold"`
}

// CompactionConfig configures automatic store compaction.
type CompactionConfig struct {
	// Enabled turns on idle compaction (default: true).
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`
	// DeleteThreshold is the number of deleted rows that makes compaction eligible (default: 1000).
	DeleteThreshold int `yaml:"delete_threshold" json:"delete_threshold" toml:"delete_threshold"`
	// IdleTimeout is the quiet period before compacting (default: "30s").
	IdleTimeout string `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`
	// Cooldown is the minimum time between compactions (default: "1h").
	Cooldown string `yaml:"cooldown" json:"cooldown" toml:"cooldown"`
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Transport string `yaml:"transport" json:"transport" toml:"transport"`
	LogLevel  string `yaml:"log_level" json:"log_level" toml:"log_level"`
}

// WatchConfig configures the inbox watcher.
type WatchConfig struct {
	// Debounce coalesces bursts of file events (default: "500ms").
	Debounce string `yaml:"debounce" json:"debounce" toml:"debounce"`
	// Extensions limits watched files (default: .txt .md .pdf .png .jpg .jpeg .gif .webp).
	Extensions []string `yaml:"extensions" json:"extensions" toml:"extensions"`
}

// NewConfig creates a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: ".blackia",
		Chunking: ChunkingConfig{
			Size:      500,
			Overlap:   50,
			Separator: "\n\n",
		},
		Search: SearchConfig{
			RRFConstant:   60,
			TopK:          10,
			MinScore:      0,
			DefaultMode:   "auto",
			ModeCacheSize: 512,
			QueryMetrics:  true,
		},
		Text: TextConfig{
			ANNEnabled:    false,
			ANNMinRows:    5000,
			ANNOversample: 4,
		},
		Vision: VisionConfig{
			MaxCandidates: 2000,
			Workers:       runtime.NumCPU(),
		},
		Embeddings: EmbeddingsConfig{
			Provider:       "ollama",
			Model:          "nomic-embed-text",
			OllamaHost:     "http://localhost:11434",
			BatchSize:      32,
			CacheSize:      1000,
			MaxRetries:     3,
			VisionProvider: "http",
			VisionEndpoint: "http://localhost:8765",
			VisionModel:    "vidore/colpali-v1.2",
		},
		Index: IndexConfig{
			EmbedTimeout:  "2m",
			TextThreshold: 500,
		},
		Compaction: CompactionConfig{
			Enabled:         true,
			DeleteThreshold: 1000,
			IdleTimeout:     "30s",
			Cooldown:        "1h",
		},
		Server: ServerConfig{
			Transport: "stdio",
			LogLevel:  "info",
		},
		Watch: WatchConfig{
			Debounce:   "500ms",
			Extensions: []string{".txt", ".md", ".pdf", ".png", ".jpg", ".jpeg", ".gif", ".webp"},
		},
	}
}

// GetUserConfigPath returns the path to the user configuration file:
// $XDG_CONFIG_HOME/blackia/config.yaml, or ~/.config/blackia/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "blackia", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "blackia", "config.yaml")
	}
	return filepath.Join(home, ".config", "blackia", "config.yaml")
}

// ProjectConfigPath returns the project config file used for dir, or ""
// when there is none.
func ProjectConfigPath(dir string) string {
	for _, name := range projectConfigFiles {
		if path := filepath.Join(dir, name); fileExists(path) {
			return path
		}
	}
	return ""
}

// Load builds the configuration for the project rooted at dir.
// Precedence, lowest first:
//  1. Hardcoded defaults
//  2. User config (~/.config/blackia/config.yaml)
//  3. Project config (.blackia.yaml, .blackia.yml or .blackia.toml)
//  4. .env in dir (never overrides variables already set)
//  5. BLACKIA_* environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := ProjectConfigPath(dir); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if envPath := filepath.Join(dir, ".env"); fileExists(envPath) {
		if err := godotenv.Load(envPath); err != nil {
			return nil, raerrors.ConfigError(fmt.Sprintf("failed to read %s", envPath), err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile decodes a single file over the defaults, without the other
// sources.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadFile decodes a YAML or TOML file over the current values. Keys absent
// from the file keep their current value.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return raerrors.ConfigError(fmt.Sprintf("failed to read config file %s", path), err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		err = yaml.Unmarshal(data, c)
	}
	if err != nil {
		return raerrors.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// applyEnvOverrides applies BLACKIA_* environment variable overrides.
// Unparseable numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	setString("BLACKIA_DATA_DIR", &c.DataDir)
	setInt("BLACKIA_CHUNK_SIZE", &c.Chunking.Size)
	setInt("BLACKIA_CHUNK_OVERLAP", &c.Chunking.Overlap)
	setInt("BLACKIA_RRF_CONSTANT", &c.Search.RRFConstant)
	setInt("BLACKIA_TOP_K", &c.Search.TopK)
	setString("BLACKIA_SEARCH_MODE", &c.Search.DefaultMode)
	setString("BLACKIA_EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	setString("BLACKIA_EMBEDDINGS_MODEL", &c.Embeddings.Model)
	setString("BLACKIA_OLLAMA_HOST", &c.Embeddings.OllamaHost)
	setString("BLACKIA_OPENAI_BASE_URL", &c.Embeddings.OpenAIBaseURL)
	setString("OPENAI_API_KEY", &c.Embeddings.OpenAIAPIKey)
	setString("BLACKIA_OPENAI_API_KEY", &c.Embeddings.OpenAIAPIKey)
	setString("BLACKIA_VISION_PROVIDER", &c.Embeddings.VisionProvider)
	setString("BLACKIA_VISION_ENDPOINT", &c.Embeddings.VisionEndpoint)
	setString("BLACKIA_VISION_MODEL", &c.Embeddings.VisionModel)
	setString("BLACKIA_EMBED_TIMEOUT", &c.Index.EmbedTimeout)
	setString("BLACKIA_LOG_LEVEL", &c.Server.LogLevel)

	if v := os.Getenv("BLACKIA_TEXT_ANN"); v != "" {
		c.Text.ANNEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("BLACKIA_QUERY_METRICS"); v != "" {
		c.Search.QueryMetrics = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("BLACKIA_COMPACTION_ENABLED"); v != "" {
		c.Compaction.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return raerrors.New(raerrors.ErrCodeInvalidChunkingConfig,
			fmt.Sprintf("chunking.overlap (%d) must be >= 0 and smaller than chunking.size (%d)",
				c.Chunking.Overlap, c.Chunking.Size), nil)
	}
	if c.Search.RRFConstant <= 0 {
		return raerrors.New(raerrors.ErrCodeInvalidRRFConstant,
			fmt.Sprintf("search.rrf_constant must be > 0, got %d", c.Search.RRFConstant), nil)
	}
	if c.Search.TopK <= 0 {
		return raerrors.ConfigError(fmt.Sprintf("search.top_k must be > 0, got %d", c.Search.TopK), nil)
	}
	if c.Search.MinScore < -1 || c.Search.MinScore > 1 {
		return raerrors.ConfigError(fmt.Sprintf("search.min_score must be within [-1, 1], got %f", c.Search.MinScore), nil)
	}

	switch strings.ToLower(c.Search.DefaultMode) {
	case "auto", "text", "vision", "hybrid":
	default:
		return raerrors.ConfigError(fmt.Sprintf("search.default_mode must be auto, text, vision or hybrid, got %q", c.Search.DefaultMode), nil)
	}

	switch strings.ToLower(c.Embeddings.Provider) {
	case "ollama", "openai", "static":
	default:
		return raerrors.ConfigError(fmt.Sprintf("embeddings.provider must be ollama, openai or static, got %q", c.Embeddings.Provider), nil)
	}
	switch strings.ToLower(c.Embeddings.VisionProvider) {
	case "http", "static", "none":
	default:
		return raerrors.ConfigError(fmt.Sprintf("embeddings.vision_provider must be http, static or none, got %q", c.Embeddings.VisionProvider), nil)
	}

	if c.Vision.MaxCandidates <= 0 {
		return raerrors.ConfigError("vision.max_candidates must be > 0", nil)
	}

	for name, v := range map[string]string{
		"index.embed_timeout":     c.Index.EmbedTimeout,
		"compaction.idle_timeout": c.Compaction.IdleTimeout,
		"compaction.cooldown":     c.Compaction.Cooldown,
		"watch.debounce":          c.Watch.Debounce,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			return raerrors.ConfigError(fmt.Sprintf("%s: invalid duration %q", name, v), err)
		}
	}

	if !strings.EqualFold(c.Server.Transport, "stdio") {
		return raerrors.ConfigError(fmt.Sprintf("server.transport must be stdio, got %q", c.Server.Transport), nil)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return raerrors.ConfigError(fmt.Sprintf("server.log_level must be debug, info, warn or error, got %q", c.Server.LogLevel), nil)
	}

	return nil
}

// EmbedTimeout returns index.embed_timeout as a duration.
func (c *Config) EmbedTimeout() time.Duration {
	return mustDuration(c.Index.EmbedTimeout, 2*time.Minute)
}

// DataPath resolves the data directory against root.
func (c *Config) DataPath(root string) string {
	if filepath.IsAbs(c.DataDir) {
		return c.DataDir
	}
	return filepath.Join(root, c.DataDir)
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Duration parses d, returning def when d is empty or invalid.
func Duration(d string, def time.Duration) time.Duration {
	return mustDuration(d, def)
}

func mustDuration(d string, def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	v, err := time.ParseDuration(d)
	if err != nil {
		return def
	}
	return v
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
