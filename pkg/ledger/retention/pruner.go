package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/turnpike/pkg/ledger/storage"
)

// Config configures batch record retention.
type Config struct {
	// RetentionDays is how long settled records are kept.
	// 0 keeps them forever.
	RetentionDays int

	// Schedule is a standard cron expression, e.g. "0 4 * * *".
	// Empty disables scheduled pruning.
	Schedule string
}

// DefaultConfig returns the default retention configuration.
func DefaultConfig() *Config {
	return &Config{
		RetentionDays: 30,
		Schedule:      "0 4 * * *",
	}
}

// Pruner deletes settled batch records past the retention period.
type Pruner struct {
	backend storage.Backend
	config  *Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewPruner creates a pruner over backend.
func NewPruner(backend storage.Backend, config *Config) *Pruner {
	if config == nil {
		config = DefaultConfig()
	}
	return &Pruner{
		backend: backend,
		config:  config,
		logger:  slog.Default().With("component", "ledger.retention"),
		now:     time.Now,
	}
}

// Prune removes settled records older than the retention period and returns
// how many were deleted. Pending, submitted and failed records are never
// pruned.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	if p.config.RetentionDays <= 0 {
		p.logger.Debug("retention disabled, nothing pruned")
		return 0, nil
	}

	cutoff := p.now().AddDate(0, 0, -p.config.RetentionDays)
	deleted, err := p.backend.Cleanup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune settled batches: %w", err)
	}

	p.logger.Info("pruned settled batches",
		"deleted_count", deleted,
		"retention_days", p.config.RetentionDays,
	)
	return deleted, nil
}
