package wallet

import (
	"context"
	"log/slog"
	"time"
)

// Walker lists wallets to audit.
type Walker interface {
	IDs(ctx context.Context) ([]string, error)
}

// AuditReport summarizes one audit pass.
type AuditReport struct {
	Checked    int
	Imbalanced []string
	Failed     int
}

// Auditor periodically reconciles every wallet against its ledger and logs
// any wallet whose stored balance drifted.
type Auditor struct {
	wallets  Walker
	service  *Service
	interval time.Duration
	logger   *slog.Logger
}

// NewAuditor builds an auditor. A non-positive interval disables Run.
func NewAuditor(wallets Walker, service *Service, interval time.Duration, logger *slog.Logger) *Auditor {
	return &Auditor{wallets: wallets, service: service, interval: interval, logger: logger}
}

// Run audits on every tick until ctx is cancelled.
func (a *Auditor) Run(ctx context.Context) error {
	if a.interval <= 0 {
		a.logger.Info("wallet auditor disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := a.AuditOnce(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("wallet audit failed", "error", err)
			}
		}
	}
}

// AuditOnce reconciles every wallet once. Errors on single wallets are logged
// and counted; only failing to list wallets aborts the pass.
func (a *Auditor) AuditOnce(ctx context.Context) (AuditReport, error) {
	ids, err := a.wallets.IDs(ctx)
	if err != nil {
		return AuditReport{}, err
	}

	var report AuditReport
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		res, err := a.service.Reconcile(ctx, id)
		if err != nil {
			report.Failed++
			a.logger.Error("wallet reconcile failed", "wallet_id", id, "error", err)
			continue
		}
		report.Checked++
		if !res.IsBalanced || len(res.Discrepancies) > 0 {
			report.Imbalanced = append(report.Imbalanced, id)
			a.logger.Warn("wallet ledger imbalance",
				"wallet_id", id,
				"expected_balance", res.ExpectedBalance.String(),
				"actual_balance", res.ActualBalance.String(),
				"difference", res.Difference.String(),
				"discrepancies", res.Discrepancies,
			)
		}
	}
	a.logger.Info("wallet audit complete",
		"checked", report.Checked, "imbalanced", len(report.Imbalanced), "failed", report.Failed)
	return report, nil
}
