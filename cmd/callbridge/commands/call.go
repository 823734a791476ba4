package commands

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/callbridge/pkg/callbridge"
)

var (
	callName      string
	callNumber    string
	callSessionID string
	callWindow    time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Place one bridged call and wait for it to finish",
	Long: `Place one outbound call, stream both sides to analytics for the
observation window, then print the result as JSON.

Transcripts and insights are written to the log (stderr).

Examples:
  callbridge call --name "Jane Doe" --number +15555550123
  callbridge call --number +15555550123 --window 2m --log-format text`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if callWindow > 0 {
			cfg.Orchestrator.ObservationWindow = callWindow
		}
		logger, lv, err := setupLogging(cmd.ErrOrStderr(), cfg)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		b, err := callbridge.New(callbridge.WithConfig(cfg), callbridge.WithLogger(logger, lv))
		if err != nil {
			return err
		}
		defer b.Shutdown(cmd.Context())

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, err := b.Orchestrator().StartCall(ctx, callbridge.StartRequest{
			SessionID: callSessionID,
			Customer:  callbridge.Customer{Name: callName, Number: callNumber},
		})
		if err != nil {
			return fmt.Errorf("call failed: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"session_id": res.SessionID,
			"call_id":    res.CallID,
			"reason":     res.Reason,
			"duration":   res.Duration.Round(time.Millisecond).String(),
		})
	},
}

func init() {
	callCmd.Flags().StringVar(&callName, "name", "", "customer display name")
	callCmd.Flags().StringVar(&callNumber, "number", "", "customer phone number (E.164)")
	callCmd.Flags().StringVar(&callSessionID, "session-id", "", "session id (default: random)")
	callCmd.Flags().DurationVar(&callWindow, "window", 0, "override orchestrator.observation_window")
	callCmd.MarkFlagRequired("number")
}
