package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reel-study/backend/config"
	"github.com/reel-study/backend/internal/events"
	"github.com/reel-study/backend/internal/replay"
	"github.com/reel-study/backend/internal/tracker"
)

var runCmd = &cobra.Command{
	Use:   "run <script.json>",
	Short: "Run one script and print the events it produced",
	Long: "Run drives a tracker through the steps of a script. With --api every event is posted to\n" +
		"the tracking API; without it events are stored in memory and printed.",
	Args: cobra.ExactArgs(1),
	RunE: runScript,
}

func init() {
	runCmd.Flags().String("api", "", "Tracking API base URL (defaults to TRACK_API_URL)")
	runCmd.Flags().Float64("speed", 0, "Pacing relative to real time; 0 runs as fast as possible")
}

type printedEvent struct {
	At         float64            `json:"at"`
	EventName  string             `json:"event_name"`
	Properties tracker.Properties `json:"properties"`
	Error      string             `json:"error,omitempty"`
}

func runScript(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := newLogger(verbose)
	defer logger.Sync()

	script, err := replay.Load(args[0])
	if err != nil {
		return err
	}

	apiURL, _ := cmd.Flags().GetString("api")
	if apiURL == "" {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		apiURL = cfg.Replay.APIURL
	}
	speed, _ := cmd.Flags().GetFloat64("speed")
	if speed < 0 {
		return fmt.Errorf("--speed must not be negative")
	}

	envelope := tracker.Envelope{
		ParticipantID: script.ParticipantID,
		StudyType:     script.Condition,
		SessionID:     script.SessionID,
	}
	var sink tracker.Sink
	if apiURL != "" {
		sink = tracker.NewHTTPSink(apiURL, envelope, nil)
		logger.Info("posting events", zap.String("api", apiURL))
	} else {
		svc := events.NewService(events.NewMemoryStore(), nil, logger)
		sink = events.NewRecorder(svc, envelope, events.Metadata{UserAgent: "reel-study-replay"})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := replay.Run(ctx, script, sink, replay.Options{Speed: speed, Logger: logger})
	if report != nil {
		if perr := printReport(cmd.OutOrStdout(), report); perr != nil {
			return perr
		}
	}
	return err
}

func printReport(w io.Writer, report *replay.Report) error {
	enc := json.NewEncoder(w)
	failed := 0
	for _, e := range report.Events {
		out := printedEvent{At: e.At.Seconds(), EventName: e.Name, Properties: e.Props}
		if e.Err != nil {
			out.Error = e.Err.Error()
			failed++
		}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "# %d events, %d failed, state %s, watch time %.1fs, commands %v\n",
		len(report.Events), failed, report.State, report.Session.TotalWatchTimeSeconds, report.Commands)
	if failed > 0 {
		return fmt.Errorf("%d events were not delivered", failed)
	}
	return nil
}
