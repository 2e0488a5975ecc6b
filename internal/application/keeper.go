package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
	"github.com/ericfisherdev/claude-accounts/internal/domain/port/driven"
)

// KeeperService refreshes oauth accounts ahead of expiry while the API server
// runs, so launches rarely have to wait on the token endpoint.
type KeeperService struct {
	vault    *VaultService
	interval time.Duration
	logger   *slog.Logger
	sweepCh  chan chan SweepResult
}

// SweepResult counts the outcome of one keeper pass.
type SweepResult struct {
	Checked   int
	Refreshed int
	Failed    int
}

// NewKeeperService creates a KeeperService sweeping on the given interval.
func NewKeeperService(vault *VaultService, interval time.Duration, logger *slog.Logger) *KeeperService {
	return &KeeperService{
		vault:    vault,
		interval: interval,
		logger:   logger,
		sweepCh:  make(chan chan SweepResult),
	}
}

// Start runs an immediate sweep, then sweeps on the configured interval and on
// manual requests. Start blocks until the context is canceled.
func (k *KeeperService) Start(ctx context.Context) {
	k.sweep(ctx)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopped")
			return
		case <-ticker.C:
			k.sweep(ctx)
		case done := <-k.sweepCh:
			done <- k.sweep(ctx)
		}
	}
}

// SweepNow triggers a sweep outside the interval and waits for its result.
func (k *KeeperService) SweepNow(ctx context.Context) (SweepResult, error) {
	done := make(chan SweepResult, 1)

	select {
	case k.sweepCh <- done:
	case <-ctx.Done():
		return SweepResult{}, ctx.Err()
	}

	select {
	case res := <-done:
		return res, nil
	case <-ctx.Done():
		return SweepResult{}, ctx.Err()
	}
}

// sweep refreshes every captured oauth account that is expiring soon or
// already expired. Accounts needing login are left for the operator.
func (k *KeeperService) sweep(ctx context.Context) SweepResult {
	var res SweepResult

	summaries, err := k.vault.List(ctx)
	if err != nil {
		k.logger.Error("keeper failed to list accounts", "error", err)
		return res
	}

	for _, sum := range summaries {
		if sum.Kind != model.KindOAuth {
			continue
		}
		if sum.Status != model.StatusExpiringSoon && sum.Status != model.StatusExpired {
			continue
		}
		res.Checked++

		_, err := k.vault.Refresh(ctx, sum.Name)
		switch {
		case err == nil, IsSyncError(err):
			res.Refreshed++
		case errors.Is(err, driven.ErrRefreshRejected):
			res.Failed++
			k.logger.Warn("keeper: account needs login", "account", sum.Name)
		default:
			res.Failed++
			k.logger.Warn("keeper: refresh failed", "account", sum.Name, "error", err)
		}
	}

	if res.Checked > 0 {
		k.logger.Info("keeper sweep complete",
			"checked", res.Checked,
			"refreshed", res.Refreshed,
			"failed", res.Failed,
		)
	}
	return res
}
