package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/miradorstack/mirador-sentinel/internal/api"
	"github.com/miradorstack/mirador-sentinel/internal/models"
)

type triggerOptions struct {
	server      string
	incidentID  string
	title       string
	description string
	service     string
	severity    string
	watch       bool
	timeout     time.Duration
}

func newTriggerCommand() *cobra.Command {
	opts := triggerOptions{}
	c := &cobra.Command{
		Use:   "trigger",
		Short: "Open an incident on a running sentinel server and optionally follow it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.incidentID == "" && opts.title == "" {
				return errors.New("--title or --incident is required")
			}
			conn, err := grpc.NewClient(opts.server, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", opts.server, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()
			return runTrigger(ctx, cmd.OutOrStdout(), api.NewClient(conn), opts)
		},
	}
	f := c.Flags()
	f.StringVar(&opts.server, "server", "localhost:50051", "sentinel gRPC address")
	f.StringVar(&opts.incidentID, "incident", "", "re-run an existing incident instead of opening a new one")
	f.StringVar(&opts.title, "title", "", "incident title")
	f.StringVar(&opts.description, "description", "", "incident description")
	f.StringVar(&opts.service, "service", "", "affected service")
	f.StringVar(&opts.severity, "severity", "high", "incident severity")
	f.BoolVar(&opts.watch, "watch", false, "follow state transitions until the pipeline settles")
	f.DurationVar(&opts.timeout, "timeout", 2*time.Minute, "overall deadline")
	return c
}

func runTrigger(ctx context.Context, out io.Writer, client *api.Client, opts triggerOptions) error {
	req := map[string]any{
		"title":       opts.title,
		"description": opts.description,
		"service":     opts.service,
		"severity":    opts.severity,
	}
	if opts.incidentID != "" {
		req = map[string]any{"incident_id": opts.incidentID}
	}
	if !opts.watch {
		_, err := trigger(ctx, out, client, req)
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan map[string]any, 64)
	var streamErr error
	go func() {
		defer close(frames)
		streamErr = client.Stream(watchCtx, api.MethodWatchEvents, map[string]any{
			"types": []any{models.EventSubscribed, models.EventStateTransition, models.EventError},
		}, func(ev map[string]any) error {
			select {
			case frames <- ev:
				return nil
			case <-watchCtx.Done():
				return watchCtx.Err()
			}
		})
	}()

	// The first frame confirms the subscription, so nothing after the trigger is missed.
	if _, ok := <-frames; !ok {
		return fmt.Errorf("watch events: %w", streamErr)
	}
	incidentID, err := trigger(ctx, out, client, req)
	if err != nil {
		return err
	}

	for ev := range frames {
		if ev["incident_id"] != incidentID {
			continue
		}
		data, _ := ev["data"].(map[string]any)
		if ev["event_type"] == models.EventError {
			fmt.Fprintf(out, "  error: %v\n", data["error"])
			continue
		}
		next := fmt.Sprint(data["new_status"])
		fmt.Fprintf(out, "  %v -> %s: %v\n", data["old_status"], next, data["message"])
		if settledStatus(next) {
			cancel()
			return printFinal(ctx, out, client, incidentID)
		}
	}
	if streamErr != nil {
		return fmt.Errorf("watch events: %w", streamErr)
	}
	return errors.New("watch stream ended before the incident settled")
}

func trigger(ctx context.Context, out io.Writer, client *api.Client, req map[string]any) (string, error) {
	resp, err := client.Call(ctx, api.MethodTriggerIncident, req)
	if err != nil {
		return "", fmt.Errorf("trigger incident: %w", err)
	}
	id, _ := resp["incident_id"].(string)
	fmt.Fprintf(out, "incident %s started (%v)\n", id, resp["status"])
	return id, nil
}

func printFinal(ctx context.Context, out io.Writer, client *api.Client, incidentID string) error {
	inc, err := client.Call(ctx, api.MethodGetIncident, map[string]any{"id": incidentID})
	if err != nil {
		return fmt.Errorf("get incident: %w", err)
	}
	fmt.Fprintf(out, "final status %v (needs attention %v)\n", inc["status"], inc["needs_attention"])
	return nil
}

func settledStatus(status string) bool {
	s := models.IncidentStatus(status)
	return s.Terminal() || s == models.StatusHumanReview
}
