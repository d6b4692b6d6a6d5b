package observability

import (
	"context"
)

// Observability bundles the logger and metrics collector that every
// component receives by injection.
type Observability struct {
	Logger  *Logger
	Metrics *MetricsCollector
}

// Config represents the complete observability configuration
type Config struct {
	Logging LogConfig     `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// New creates a new observability instance. Metrics failures degrade to a
// no-op collector rather than failing startup.
func New(config Config) *Observability {
	logger := NewLogger(config.Logging)

	metrics, err := NewMetricsCollector(config.Metrics)
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		metrics = &MetricsCollector{}
	}

	logger.Info("Observability initialized",
		"log_level", config.Logging.Level,
		"metrics_enabled", config.Metrics.Enabled,
	)

	return &Observability{
		Logger:  logger,
		Metrics: metrics,
	}
}

// Shutdown gracefully shuts down all observability components
func (o *Observability) Shutdown(ctx context.Context) error {
	if o == nil {
		return nil
	}
	return o.Metrics.Shutdown(ctx)
}
