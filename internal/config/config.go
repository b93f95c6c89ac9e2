// Package config loads service configuration from defaults, an optional TOML
// file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/lguibr/Mimeflow/internal/events"
	"github.com/lguibr/Mimeflow/internal/observability/logging"
	"github.com/lguibr/Mimeflow/internal/pose"
	"github.com/lguibr/Mimeflow/internal/service/alignment"
	"github.com/lguibr/Mimeflow/internal/service/estimator/mock"
	"github.com/lguibr/Mimeflow/internal/service/scoring"
	"github.com/lguibr/Mimeflow/internal/service/session"
)

// EnvConfigPath names the variable holding the TOML config path.
const EnvConfigPath = "MIMEFLOW_CONFIG"

// Configuration holds all service configuration.
type Configuration struct {
	Service       Service       `toml:"service"`
	Scoring       Scoring       `toml:"scoring"`
	Estimator     Estimator     `toml:"estimator"`
	Kafka         Kafka         `toml:"kafka"`
	Leaderboard   Leaderboard   `toml:"leaderboard"`
	Observability Observability `toml:"observability"`
}

// Service holds listener configuration.
type Service struct {
	Principal   string `toml:"principal"`
	GRPCPort    string `toml:"grpc_port"`
	HTTPPort    string `toml:"http_port"`
	MetricsPort string `toml:"metrics_port"`
	Reflection  bool   `toml:"reflection"`
}

// Scoring holds the engine parameters every new session starts from.
type Scoring struct {
	Skeleton       string  `toml:"skeleton"`
	BufferCapacity int     `toml:"buffer_capacity"`
	EvalEvery      int     `toml:"eval_every"`
	ConfidenceGate float64 `toml:"confidence_gate"`
	Curvature      float64 `toml:"curvature"`
	MedianPoint    float64 `toml:"median_point"`
	Variant        string  `toml:"variant"`
	PausePolicy    string  `toml:"pause_policy"`
	// JointWeights maps a joint id or name to its position multiplier.
	JointWeights map[string]float64 `toml:"joint_weights"`
}

// Estimator configures the built-in estimator providers.
type Estimator struct {
	Provider    string  `toml:"provider"` // "mock", "replay:<path>" or empty for client-fed sessions
	LoadDelayMs int     `toml:"load_delay_ms"`
	FrameRate   float64 `toml:"frame_rate"`
	Frames      int     `toml:"frames"`
	LiveLag     int     `toml:"live_lag"`
	Jitter      float64 `toml:"jitter"`
	DropoutRate float64 `toml:"dropout_rate"`
	Seed        int64   `toml:"seed"`
	Realtime    bool    `toml:"realtime"` // pace replays by recorded offsets
}

// Kafka holds Kafka publisher configuration.
type Kafka struct {
	Enabled    bool     `toml:"enabled"`
	Brokers    []string `toml:"brokers"`
	TopicTick  string   `toml:"topic_tick"`
	TopicFinal string   `toml:"topic_final"`
	Principal  string   `toml:"principal"`
}

// Leaderboard holds the local score store configuration.
type Leaderboard struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	TopN    int    `toml:"top_n"`
}

// Observability holds logging and metrics configuration.
type Observability struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Configuration {
	est := mock.DefaultConfig()
	return Configuration{
		Service: Service{
			Principal:   "svc-mimeflow",
			GRPCPort:    "50051",
			HTTPPort:    "8080",
			MetricsPort: "9090",
			Reflection:  true,
		},
		Scoring: Scoring{
			Skeleton:       "blazepose",
			BufferCapacity: 20,
			EvalEvery:      3,
			ConfidenceGate: 0.5,
			Curvature:      5,
			MedianPoint:    0.7,
			Variant:        scoring.VariantAdjacentAngles.String(),
			PausePolicy:    session.PauseClear.String(),
		},
		Estimator: Estimator{
			LoadDelayMs: int(est.LoadDelay / time.Millisecond),
			FrameRate:   est.FrameRate,
			Frames:      est.Frames,
			LiveLag:     est.LiveLag,
			Jitter:      est.Jitter,
			DropoutRate: est.DropoutRate,
			Seed:        est.Seed,
			Realtime:    true,
		},
		Kafka: Kafka{
			TopicTick:  "session.score.tick",
			TopicFinal: "session.score.final",
		},
		Leaderboard: Leaderboard{
			Enabled: true,
			Path:    "mimeflow.db",
			TopN:    10,
		},
		Observability: Observability{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load returns defaults with environment overrides applied. Unparseable
// values fall back to the default.
func Load() *Configuration {
	cfg := Default()
	cfg.applyEnv()
	return &cfg
}

// LoadFile layers the TOML file at path (or $MIMEFLOW_CONFIG when path is
// empty) and the environment over the defaults, then validates. A missing
// file is an error only when path was given explicitly.
func LoadFile(path string) (*Configuration, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := toml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Configuration) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.MetricsPort = envOrDefault("METRICS_PORT", c.Service.MetricsPort)
	c.Service.Reflection = envOrDefaultBool("GRPC_REFLECTION", c.Service.Reflection)

	c.Scoring.Skeleton = envOrDefault("SCORING_SKELETON", c.Scoring.Skeleton)
	c.Scoring.BufferCapacity = envOrDefaultInt("SCORING_BUFFER_CAPACITY", c.Scoring.BufferCapacity)
	c.Scoring.EvalEvery = envOrDefaultInt("SCORING_EVAL_EVERY", c.Scoring.EvalEvery)
	c.Scoring.ConfidenceGate = envOrDefaultFloat("SCORING_CONFIDENCE_GATE", c.Scoring.ConfidenceGate)
	c.Scoring.Curvature = envOrDefaultFloat("SCORING_CURVATURE", c.Scoring.Curvature)
	c.Scoring.MedianPoint = envOrDefaultFloat("SCORING_MEDIAN_POINT", c.Scoring.MedianPoint)
	c.Scoring.Variant = envOrDefault("SCORING_VARIANT", c.Scoring.Variant)
	c.Scoring.PausePolicy = envOrDefault("SCORING_PAUSE_POLICY", c.Scoring.PausePolicy)
	if v := os.Getenv("SCORING_JOINT_WEIGHTS"); v != "" {
		if w, err := ParseJointWeights(v); err == nil {
			c.Scoring.JointWeights = w
		}
	}

	c.Estimator.Provider = envOrDefault("ESTIMATOR_PROVIDER", c.Estimator.Provider)
	c.Estimator.FrameRate = envOrDefaultFloat("ESTIMATOR_FRAME_RATE", c.Estimator.FrameRate)
	c.Estimator.LiveLag = envOrDefaultInt("ESTIMATOR_LIVE_LAG", c.Estimator.LiveLag)
	c.Estimator.Realtime = envOrDefaultBool("ESTIMATOR_REALTIME", c.Estimator.Realtime)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
	}
	c.Kafka.TopicTick = envOrDefault("KAFKA_TOPIC_TICK", c.Kafka.TopicTick)
	c.Kafka.TopicFinal = envOrDefault("KAFKA_TOPIC_FINAL", c.Kafka.TopicFinal)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Leaderboard.Enabled = envOrDefaultBool("LEADERBOARD_ENABLED", c.Leaderboard.Enabled)
	c.Leaderboard.Path = envOrDefault("LEADERBOARD_PATH", c.Leaderboard.Path)

	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
}

// Validate checks every section and reports all problems at once.
func (c *Configuration) Validate() error {
	var errs []error
	for name, port := range map[string]string{
		"grpc_port":    c.Service.GRPCPort,
		"http_port":    c.Service.HTTPPort,
		"metrics_port": c.Service.MetricsPort,
	} {
		if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
			errs = append(errs, fmt.Errorf("service.%s: invalid port %q", name, port))
		}
	}
	if _, err := c.SessionOptions(); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}
	if c.Estimator.FrameRate <= 0 {
		errs = append(errs, fmt.Errorf("estimator.frame_rate must be positive, got %v", c.Estimator.FrameRate))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
	}
	if c.Leaderboard.Enabled && strings.TrimSpace(c.Leaderboard.Path) == "" {
		errs = append(errs, errors.New("leaderboard.path is required when the leaderboard is enabled"))
	}
	switch c.Observability.LogFormat {
	case "json", "console", "auto":
	default:
		errs = append(errs, fmt.Errorf("observability.log_format: unknown format %q", c.Observability.LogFormat))
	}
	return errors.Join(errs...)
}

// SessionOptions converts the scoring section into session options and checks
// them the way a session would.
func (c *Configuration) SessionOptions() (session.Options, error) {
	sc := c.Scoring
	sk, err := pose.SkeletonByName(sc.Skeleton)
	if err != nil {
		return session.Options{}, err
	}
	variant, err := scoring.ParseVariant(sc.Variant)
	if err != nil {
		return session.Options{}, err
	}
	policy, err := session.ParsePausePolicy(sc.PausePolicy)
	if err != nil {
		return session.Options{}, err
	}
	weights, err := resolveWeights(sk, sc.JointWeights)
	if err != nil {
		return session.Options{}, err
	}

	opts := session.Options{
		Skeleton: sk,
		Extractor: scoring.ExtractorConfig{
			Variant:        variant,
			ConfidenceGate: sc.ConfidenceGate,
			Weights:        weights,
		},
		Alignment:   alignment.Config{Capacity: sc.BufferCapacity, EvalEvery: sc.EvalEvery},
		Transform:   scoring.Transform{Curvature: sc.Curvature, MedianPoint: sc.MedianPoint},
		PausePolicy: policy,
	}
	if err := opts.Validate(); err != nil {
		return session.Options{}, err
	}
	if _, err := scoring.NewExtractor(sk, opts.Extractor); err != nil {
		return session.Options{}, err
	}
	return opts, nil
}

// MockConfig returns the synthetic estimator settings.
func (c *Configuration) MockConfig() mock.Config {
	e := c.Estimator
	return mock.Config{
		LoadDelay:   time.Duration(e.LoadDelayMs) * time.Millisecond,
		FrameRate:   e.FrameRate,
		Frames:      e.Frames,
		LiveLag:     e.LiveLag,
		Jitter:      e.Jitter,
		DropoutRate: e.DropoutRate,
		Seed:        e.Seed,
	}
}

// EventsConfig returns the Kafka publisher settings.
func (c *Configuration) EventsConfig() *events.Config {
	return &events.Config{
		Brokers:    c.Kafka.Brokers,
		TopicTick:  c.Kafka.TopicTick,
		TopicFinal: c.Kafka.TopicFinal,
		Principal:  c.Kafka.Principal,
		Enabled:    c.Kafka.Enabled,
	}
}

// LoggingConfig returns the logger settings.
func (c *Configuration) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = c.Observability.LogLevel
	lc.Format = c.Observability.LogFormat
	return lc
}

// ParseJointWeights parses "15:2,left_wrist:1.5" into a key → weight map.
func ParseJointWeights(s string) (map[string]float64, error) {
	out := make(map[string]float64)
	for _, part := range splitList(s) {
		key, val, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("joint weight %q: expected joint:weight", part)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, fmt.Errorf("joint weight %q: %w", part, err)
		}
		out[strings.TrimSpace(key)] = w
	}
	return out, nil
}

// resolveWeights maps joint ids or names onto ids of sk.
func resolveWeights(sk pose.Skeleton, in map[string]float64) (map[int]float64, error) {
	if len(in) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[int]float64, len(in))
	for _, k := range keys {
		id, err := strconv.Atoi(k)
		if err != nil {
			var ok bool
			if id, ok = sk.JointID(k); !ok {
				return nil, fmt.Errorf("joint weight for unknown joint %q", k)
			}
		}
		out[id] = in[k]
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
