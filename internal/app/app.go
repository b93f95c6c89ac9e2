package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lguibr/Mimeflow/internal/config"
	"github.com/lguibr/Mimeflow/internal/events"
	"github.com/lguibr/Mimeflow/internal/hub"
	"github.com/lguibr/Mimeflow/internal/leaderboard"
	"github.com/lguibr/Mimeflow/internal/models"
	"github.com/lguibr/Mimeflow/internal/observability/logging"
	"github.com/lguibr/Mimeflow/internal/observability/metrics"
	"github.com/lguibr/Mimeflow/internal/recording"
	"github.com/lguibr/Mimeflow/internal/service/estimator"
	"github.com/lguibr/Mimeflow/internal/service/estimator/mock"
	"github.com/lguibr/Mimeflow/internal/service/session"
)

// ReplayPrefix selects the recording provider: "replay:/path/to/take.cbor".
const ReplayPrefix = "replay:"

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Metrics     *metrics.Metrics
	Options     session.Options
	Registry    *session.Registry
	Hub         *hub.Hub
	Publisher   *events.Publisher
	Leaderboard *leaderboard.Store // nil when disabled

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs an Application reporting to the default metrics.
func New(cfg *config.Configuration) (*Application, error) {
	return NewWithMetrics(cfg, metrics.DefaultMetrics)
}

// NewWithMetrics wires stores, publishers, the live hub and the session registry.
func NewWithMetrics(cfg *config.Configuration, m *metrics.Metrics) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Metrics: m,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	opts, err := cfg.SessionOptions()
	if err != nil {
		return nil, fmt.Errorf("scoring config: %w", err)
	}
	a.Options = opts

	a.Publisher = events.NewWithMetrics(cfg.EventsConfig(), m)

	deps := session.Deps{Metrics: m}
	if cfg.Leaderboard.Enabled {
		store, err := leaderboard.Open(cfg.Leaderboard.Path)
		if err != nil {
			_ = a.Publisher.Close()
			return nil, fmt.Errorf("open leaderboard: %w", err)
		}
		a.Leaderboard = store
		deps.Stores = append(deps.Stores, store)
	}
	if a.Publisher.Enabled() {
		deps.Stores = append(deps.Stores, a.Publisher)
		deps.Ticks = append(deps.Ticks, a.Publisher)
	}

	a.Hub = hub.New(a.ingestFrame, m)
	deps.Ticks = append(deps.Ticks, a.Hub)
	a.Registry = session.NewRegistry(deps)

	appLogger.Info().
		Bool("kafka", a.Publisher.Enabled()).
		Bool("leaderboard", a.Leaderboard != nil).
		Str("variant", opts.Extractor.Variant.String()).
		Str("pausePolicy", opts.PausePolicy.String()).
		Msg("Mimeflow application created")
	return a, nil
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(a.Cfg.LoggingConfig())
	a.Logger = logging.WithComponent("application").With().
		Str("service", a.Cfg.Service.Principal).
		Logger()

	a.Logger.Info().
		Str("logLevel", a.Cfg.Observability.LogLevel).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

func (a *Application) ingestFrame(ctx context.Context, sessionID string, msg *models.FrameMessage) error {
	_, err := a.Registry.Ingest(sessionID, msg)
	return err
}

// EstimatorFactory builds the providers named in configuration and requests:
// "mock" for the synthetic generator and "replay:<path>" for a recording.
func (a *Application) EstimatorFactory() estimator.Factory {
	return func(provider string) (estimator.Estimator, error) {
		switch {
		case provider == "mock":
			return mock.New(a.Cfg.MockConfig()), nil
		case strings.HasPrefix(provider, ReplayPrefix):
			path := strings.TrimPrefix(provider, ReplayPrefix)
			p, err := recording.OpenPlayer(path, a.Cfg.Estimator.Realtime)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", estimator.ErrUnknownProvider, err)
			}
			return p, nil
		default:
			return nil, fmt.Errorf("%w: %q", estimator.ErrUnknownProvider, provider)
		}
	}
}

// Provider returns requested, or the configured default when it is empty.
func (a *Application) Provider(requested string) string {
	if requested != "" {
		return requested
	}
	return a.Cfg.Estimator.Provider
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go func() {
		defer close(a.done)
		a.Hub.Run(ctx)
	}()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("Mimeflow service starting")

	return nil
}

// Shutdown stops estimators, the hub and the stores.
func (a *Application) Shutdown() error {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Mimeflow service shutting down")

	var errs []error
	if err := a.Registry.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close estimators: %w", err))
	}
	if a.cancel != nil {
		a.cancel()
		<-a.done
	}
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}
	if a.Leaderboard != nil {
		if err := a.Leaderboard.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close leaderboard: %w", err))
		}
	}
	return errors.Join(errs...)
}
