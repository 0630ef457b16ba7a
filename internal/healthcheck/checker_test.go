package healthcheck

import (
	"context"
	"testing"
)

type staticChecker []CheckResult

func (s staticChecker) ListChecks(context.Context) []CheckResult { return s }

func TestRunReportsWorstStatus(t *testing.T) {
	t.Parallel()

	report := Run(context.Background(),
		staticChecker{{ID: "b", Status: StatusOK}},
		nil,
		staticChecker{{ID: "a", Status: StatusWarn}, {ID: "c", Status: StatusOK}},
	)
	if report.Status != StatusWarn {
		t.Fatalf("expected warn, got %s", report.Status)
	}
	if len(report.Checks) != 3 || report.Checks[0].ID != "a" || report.Checks[2].ID != "c" {
		t.Fatalf("unexpected checks order: %+v", report.Checks)
	}

	report = Run(context.Background(), staticChecker{{ID: "x", Status: StatusError}, {ID: "y", Status: StatusWarn}})
	if report.Status != StatusError {
		t.Fatalf("expected error, got %s", report.Status)
	}
}

func TestRunWithoutChecks(t *testing.T) {
	t.Parallel()

	report := Run(context.Background())
	if report.Status != StatusOK || report.Checks == nil || len(report.Checks) != 0 {
		t.Fatalf("unexpected empty report: %+v", report)
	}
}
