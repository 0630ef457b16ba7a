package storagechecker

import (
	"context"
	"log/slog"
	"time"

	"github.com/memohai/courier/internal/healthcheck"
)

const (
	checkTypeStorage = "storage.ping"
	pingTimeout      = 3 * time.Second
)

// Pinger is a storage backend that can verify its connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker pings the thread and account storage.
type Checker struct {
	logger *slog.Logger
	driver string
	pinger Pinger
}

func NewChecker(log *slog.Logger, driver string, pinger Pinger) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger: log.With(slog.String("checker", "healthcheck_storage")),
		driver: driver,
		pinger: pinger,
	}
}

func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	item := healthcheck.CheckResult{
		ID:       checkTypeStorage + "." + c.driver,
		Type:     checkTypeStorage,
		Subtitle: c.driver,
		Status:   healthcheck.StatusOK,
		Summary:  "Storage is reachable.",
	}
	if c.pinger == nil {
		item.Status = healthcheck.StatusUnknown
		item.Summary = "Storage has no connection to check."
		return []healthcheck.CheckResult{item}
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	start := time.Now()
	if err := c.pinger.Ping(pingCtx); err != nil {
		c.logger.Warn("storage ping failed", slog.String("driver", c.driver), slog.Any("error", err))
		item.Status = healthcheck.StatusError
		item.Summary = "Storage is unreachable."
		item.Detail = err.Error()
		return []healthcheck.CheckResult{item}
	}
	item.Metadata = map[string]any{"latency_ms": time.Since(start).Milliseconds()}
	return []healthcheck.CheckResult{item}
}
