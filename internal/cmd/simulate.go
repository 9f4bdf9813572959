package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-sentinel/internal/config"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

type simulateOptions struct {
	count          int
	title          string
	description    string
	service        string
	severity       string
	confidence     float64
	seed           int64
	latency        time.Duration
	verifyInterval time.Duration
	asJSON         bool
	verbose        bool
}

func newSimulateCommand() *cobra.Command {
	opts := simulateOptions{}
	c := &cobra.Command{
		Use:   "simulate",
		Short: "Run incidents through the pipeline in-process against simulated workers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg, opts)
		},
	}
	f := c.Flags()
	f.IntVar(&opts.count, "count", 1, "number of incidents to run")
	f.StringVar(&opts.title, "title", "Payment latency spike", "incident title")
	f.StringVar(&opts.description, "description", "p99 latency above 3s with rising database CPU", "incident description")
	f.StringVar(&opts.service, "service", "payment-service", "affected service")
	f.StringVar(&opts.severity, "severity", "high", "incident severity")
	f.Float64Var(&opts.confidence, "confidence", -1, "force the diagnosis confidence (0..1) and skip the diagnostic rules; negative keeps them")
	f.Int64Var(&opts.seed, "seed", 0, "simulator seed (0 uses the clock)")
	f.DurationVar(&opts.latency, "latency", 0, "simulated latency per tool call")
	f.DurationVar(&opts.verifyInterval, "verify-interval", 0, "pause between post-deploy health checks")
	f.BoolVar(&opts.asJSON, "json", false, "print final incidents as JSON")
	f.BoolVar(&opts.verbose, "verbose", false, "log pipeline activity to stderr")
	return c
}

func runSimulate(ctx context.Context, out, errOut io.Writer, base *config.Config, opts simulateOptions) error {
	cfg := *base
	cfg.Workers.Mode = config.WorkersSimulated
	cfg.Workers.Seed = opts.seed
	cfg.Workers.SimulatedLatency = opts.latency
	cfg.Store.Backend = config.StoreMemory
	cfg.Monitor.Enabled = false
	cfg.Pipeline.VerifyInterval = opts.verifyInterval
	if opts.confidence >= 0 {
		cfg.Workers.DiagnosticRules = ""
	}

	level := "error"
	if opts.verbose {
		level = "debug"
	}
	logger := utils.NewLoggerTo(errOut, level, cfg.Logging.JSON)

	rec := &events.Recorder{}
	a, err := newApp(&cfg, logger, rec)
	if err != nil {
		return err
	}
	defer a.close()

	if opts.confidence >= 0 {
		if err := a.dispatcher.Bind(tools.DiagnosticAnalyzeIncident, fixedDiagnosis(opts.confidence)); err != nil {
			return err
		}
	}

	var finished []*models.Incident
	for i := 0; i < max(opts.count, 1); i++ {
		inc := models.NewIncident(opts.title, opts.description, opts.service, models.ParseSeverity(opts.severity, models.SeverityHigh))
		if err := a.store.Put(ctx, inc); err != nil {
			return err
		}
		final, err := a.orchestrator.HandleIncident(ctx, inc)
		if err != nil {
			return err
		}
		finished = append(finished, final)
		if !opts.asJSON {
			printIncident(out, final, a)
		}
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(finished)
	}
	fmt.Fprintf(out, "\n%d incident(s), %d tool call(s), %d event(s)\n",
		len(finished), a.dispatcher.CallLog().Len(), len(rec.Events()))
	return nil
}

func printIncident(out io.Writer, inc *models.Incident, a *app) {
	fmt.Fprintf(out, "%s [%s] %s (%s)\n", inc.ID, inc.Severity, inc.Title, inc.Service)
	for _, entry := range inc.Timeline {
		offset := entry.Timestamp.Sub(inc.DetectedAt).Milliseconds()
		fmt.Fprintf(out, "  +%6dms %-8s %-13s %s: %s\n", offset, entry.Level, entry.Agent, entry.Action, entry.Details)
	}
	plan, _ := a.tracker.Latest(inc.ID)
	planStatus := "none"
	if plan != nil {
		planStatus = string(plan.Status)
	}
	confidence := "n/a"
	if inc.Diagnosis != nil {
		confidence = fmt.Sprintf("%d%%", models.ConfidencePercent(inc.Diagnosis.Confidence))
	}
	fmt.Fprintf(out, "  => %s (plan %s, confidence %s, attention %t)\n", inc.Status, planStatus, confidence, inc.NeedsAttention)
	a.logger.Debug("incident finished", slog.String("incident_id", inc.ID), slog.String("status", string(inc.Status)))
}

func fixedDiagnosis(confidence float64) tools.Invoker {
	return tools.InvokerFunc(func(_ context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{
			"incident_id":        params["incident_id"],
			"root_cause":         "Simulated diagnosis",
			"confidence":         confidence,
			"severity":           "high",
			"affected_services":  []any{params["service"]},
			"recommended_action": "Apply the generated fix",
		}, nil
	})
}
