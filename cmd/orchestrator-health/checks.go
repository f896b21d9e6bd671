package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/troneras/workflow-orchestrator/pkg/config"
	"github.com/troneras/workflow-orchestrator/pkg/health"
	"github.com/troneras/workflow-orchestrator/pkg/persistence"
	"go.opentelemetry.io/otel/trace"
)

func newChecker(
	client health.Runner,
	store persistence.Persistence,
	cfg config.HealthConfig,
	logger *slog.Logger,
	tracer trace.Tracer,
) *health.Checker {
	prober := health.NewProber(client, store.ProviderRepository(), logger, nil)

	return health.NewChecker(prober, store.ProviderRepository(), cfg, logger, tracer)
}

// check probes one workflow when workflowID is set, otherwise every stale
// provider, or every active one with force.
func check(ctx context.Context, checker *health.Checker, workflowID string, force bool) ([]health.Report, error) {
	if workflowID == "" {
		return checker.CheckAll(ctx, force)
	}

	report, err := checker.CheckOne(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to check workflow %s: %w", workflowID, err)
	}

	return []health.Report{report}, nil
}

func printReports(w io.Writer, reports []health.Report) error {
	if len(reports) == 0 {
		_, err := fmt.Fprintln(w, "No providers needed a health check.")

		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "ID\tNAME\tWORKFLOW\tSTATUS\tMESSAGE")

	healthy := 0

	for _, report := range reports {
		if report.Healthy {
			healthy++
		}

		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", report.ProviderID, report.Name, report.WorkflowID, report.Status, report.Message)
	}

	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nHealthy: %d/%d\n", healthy, len(reports))

	return err
}
