package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     string         `yaml:"port" validate:"required"`
	Env      string         `yaml:"env" validate:"required"`
	Origins  []string       `yaml:"allowed_origins"`
	Fake     bool           `yaml:"fake"`
	Gemini   GeminiConfig   `yaml:"gemini"`
	Session  SessionConfig  `yaml:"session"`
	Artifact ArtifactConfig `yaml:"artifact"`
}

type GeminiConfig struct {
	APIKey      string        `yaml:"api_key"`
	ChatModel   string        `yaml:"chat_model" validate:"required"`
	ImageModel  string        `yaml:"image_model" validate:"required"`
	Temperature float32       `yaml:"temperature" validate:"gte=0,lte=2"`
	RPS         float64       `yaml:"rps" validate:"gte=0"`
	Burst       int           `yaml:"burst" validate:"gte=0"`
	Retries     int           `yaml:"retries" validate:"gte=1,lte=10"`
	RetryDelay  time.Duration `yaml:"retry_delay" validate:"gte=0"`
}

type SessionConfig struct {
	MaxSessions      int           `yaml:"max_sessions" validate:"gte=1"`
	IdleTTL          time.Duration `yaml:"idle_ttl" validate:"gte=0"`
	SceneDuration    string        `yaml:"scene_duration"`
	VisualSuffix     string        `yaml:"visual_suffix"`
	Language         string        `yaml:"language" validate:"required"`
	AnnounceImages   bool          `yaml:"announce_images"`
	ImageConcurrency int           `yaml:"image_concurrency" validate:"gte=1,lte=16"`
}

type ArtifactConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Endpoint  string        `yaml:"endpoint"`
	Region    string        `yaml:"region"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	UseSSL    bool          `yaml:"use_ssl"`
	URLExpiry time.Duration `yaml:"url_expiry" validate:"gte=0"`
	// Dir, when set and S3 is not usable, stores artifacts on local disk.
	Dir string `yaml:"dir"`
}

// CanUseS3 reports whether the object store settings are complete.
func (a ArtifactConfig) CanUseS3() bool {
	return a.Enabled &&
		strings.TrimSpace(a.Endpoint) != "" &&
		strings.TrimSpace(a.AccessKey) != "" &&
		strings.TrimSpace(a.SecretKey) != "" &&
		strings.TrimSpace(a.Bucket) != ""
}

// HasAPIKey reports whether a server-wide Gemini key is configured.
func (c *Config) HasAPIKey() bool { return strings.TrimSpace(c.Gemini.APIKey) != "" }

// IsLocal reports whether the gateway runs in the local development profile.
func (c *Config) IsLocal() bool { return strings.EqualFold(strings.TrimSpace(c.Env), "local") }

func Default() *Config {
	return &Config{
		Port: ":8081",
		Env:  "local",
		Gemini: GeminiConfig{
			ChatModel:   "gemini-3-flash-preview",
			ImageModel:  "gemini-2.5-flash-image",
			Temperature: 0.7,
			RPS:         2,
			Burst:       4,
			Retries:     3,
			RetryDelay:  500 * time.Millisecond,
		},
		Session: SessionConfig{
			MaxSessions:      256,
			IdleTTL:          2 * time.Hour,
			Language:         "Korean",
			AnnounceImages:   true,
			ImageConcurrency: 2,
		},
		Artifact: ArtifactConfig{
			Region:    "us-east-1",
			Bucket:    "din-artifacts",
			URLExpiry: time.Hour,
		},
	}
}

func Load() (*Config, error) {
	return load(flag.CommandLine, os.Args[1:])
}

// load builds the configuration in layers: defaults, the YAML file named by
// -config or DIN_CONFIG, then the environment. Flags win over everything.
func load(fs *flag.FlagSet, args []string) (*Config, error) {
	_ = godotenv.Load()

	port := fs.String("port", "", "server port")
	file := fs.String("config", "", "path to a YAML config file")
	fake := fs.Bool("fake", false, "use the scripted model instead of Gemini")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if path := firstNonEmpty(strings.TrimSpace(*file), strings.TrimSpace(os.Getenv("DIN_CONFIG"))); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	applyEnv(cfg)

	if p := strings.TrimSpace(*port); p != "" {
		cfg.Port = normalizePort(p)
	}
	if *fake {
		cfg.Fake = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" {
		cfg.Port = normalizePort(envPort)
	}
	cfg.Env = firstNonEmpty(strings.TrimSpace(os.Getenv("APP_ENV")), cfg.Env, "local")
	if origins := strings.TrimSpace(os.Getenv("DIN_ALLOWED_ORIGINS")); origins != "" {
		cfg.Origins = splitList(origins)
	}
	if v, ok := envBool("DIN_FAKE_LLM"); ok {
		cfg.Fake = v
	}

	g := &cfg.Gemini
	g.APIKey = firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_API_KEY")), strings.TrimSpace(os.Getenv("API_KEY")), g.APIKey)
	g.ChatModel = firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_CHAT_MODEL")), g.ChatModel)
	g.ImageModel = firstNonEmpty(strings.TrimSpace(os.Getenv("GEMINI_IMAGE_MODEL")), g.ImageModel)
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("GEMINI_TEMPERATURE")), 32); err == nil {
		g.Temperature = float32(v)
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv("GEMINI_RPS")), 64); err == nil {
		g.RPS = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("GEMINI_BURST"))); err == nil {
		g.Burst = v
	}
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("GEMINI_RETRIES"))); err == nil {
		g.Retries = v
	}

	s := &cfg.Session
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv("DIN_MAX_SESSIONS"))); err == nil {
		s.MaxSessions = v
	}
	if v, err := time.ParseDuration(strings.TrimSpace(os.Getenv("DIN_SESSION_TTL"))); err == nil {
		s.IdleTTL = v
	}
	s.SceneDuration = firstNonEmpty(strings.TrimSpace(os.Getenv("DIN_SCENE_DURATION")), s.SceneDuration)
	s.VisualSuffix = firstNonEmpty(os.Getenv("DIN_VISUAL_SUFFIX"), s.VisualSuffix)
	s.Language = firstNonEmpty(strings.TrimSpace(os.Getenv("DIN_LANGUAGE")), s.Language)
	if v, ok := envBool("DIN_ANNOUNCE_IMAGES"); ok {
		s.AnnounceImages = v
	}

	applyArtifactEnv(cfg)
}

func applyArtifactEnv(cfg *Config) {
	a := &cfg.Artifact
	local := cfg.IsLocal()
	if local {
		a.Endpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_MINIO_ENDPOINT")), a.Endpoint)
	} else {
		a.Endpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ENDPOINT")), a.Endpoint)
	}
	a.Enabled = a.Enabled || a.Endpoint != ""
	a.Region = firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_REGION")), a.Region, "us-east-1")
	a.AccessKey = firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_ACCESS_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_USER")), a.AccessKey)
	a.SecretKey = firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_SECRET_KEY")), strings.TrimSpace(os.Getenv("MINIO_ROOT_PASSWORD")), a.SecretKey)
	a.Bucket = firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_S3_BUCKET")), a.Bucket)
	a.Dir = firstNonEmpty(strings.TrimSpace(os.Getenv("ARTIFACT_DIR")), a.Dir)
	if local {
		a.UseSSL = false
	} else if v, ok := envBool("ARTIFACT_S3_USE_SSL"); ok {
		a.UseSSL = v
	} else if a.Endpoint != "" && !a.UseSSL {
		a.UseSSL = true
	}
}

var validate = validator.New()

// Validate checks field constraints and returns all violations joined.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config validation: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func normalizePort(p string) string {
	if strings.HasPrefix(p, ":") {
		return p
	}
	return ":" + p
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
