package wallet

import (
	"context"
	"testing"

	"github.com/bizledger/bizledger/internal/logging"
)

func TestAuditorFlagsDriftedWallets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	healthy := f.wallet(t, "NGN")
	drifted := f.wallet(t, "GHS")
	for _, w := range []Wallet{healthy, drifted} {
		if _, err := f.svc.Credit(ctx, Mutation{WalletID: w.ID, Amount: amt("100"), Reference: "seed-" + w.ID}); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}

	// a balance write that bypassed the service leaves no ledger entry
	if err := f.repo.UpdateBalance(ctx, drifted.ID, amt("100"), amt("150")); err != nil {
		t.Fatalf("update balance: %v", err)
	}

	auditor := NewAuditor(f.repo, f.svc, 0, logging.Discard())
	report, err := auditor.AuditOnce(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if report.Checked != 2 || report.Failed != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Imbalanced) != 1 || report.Imbalanced[0] != drifted.ID {
		t.Fatalf("expected only %s to be flagged, got %v", drifted.ID, report.Imbalanced)
	}
}

func TestAuditorRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	auditor := NewAuditor(f.repo, f.svc, 0, logging.Discard())
	if err := auditor.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
}
