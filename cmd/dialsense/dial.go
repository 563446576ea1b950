package dialsense

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dialsense/dialsense/internal/call"
	"github.com/spf13/cobra"
)

// maxPolls bounds how long dial waits for a call to finish.
const maxPolls = 60

var pollInterval = time.Second

var (
	dialServer   string
	dialUser     string
	dialStrategy string
	dialReal     bool
)

var dialCmd = &cobra.Command{
	Use:   "dial <number>",
	Short: "Place a call through a running server and wait for the verdict",
	Long: `Place a call through a running API server and poll its status until it
finishes.

Calls are simulated unless --real is given.

Examples:
  dialsense dial +14155550123
  dialsense dial 415-555-0123 --strategy gemini-flash
  dialsense dial +14155550123 --real --server https://dialer.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: runDial,
}

func init() {
	dialCmd.Flags().StringVar(&dialServer, "server", "http://localhost:8080", "API base URL")
	dialCmd.Flags().StringVarP(&dialUser, "user", "u", "cli", "User ID the call is billed to")
	dialCmd.Flags().StringVarP(&dialStrategy, "strategy", "s", "", "Detection strategy (default: server default)")
	dialCmd.Flags().BoolVar(&dialReal, "real", false, "Dial for real through the telephony provider")
}

func runDial(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := dial(ctx, cmd.ErrOrStderr(), dialServer, dialRequest{
		TargetNumber: args[0],
		AMDStrategy:  dialStrategy,
		UserID:       dialUser,
		Demo:         !dialReal,
	})
	if c != nil {
		printCall(cmd.OutOrStdout(), c)
	}
	return err
}

type dialRequest struct {
	TargetNumber string `json:"targetNumber"`
	AMDStrategy  string `json:"amdStrategy,omitempty"`
	UserID       string `json:"userId"`
	Demo         bool   `json:"demo"`
}

// dial initiates a call and polls it until it reaches a terminal status or
// maxPolls is exhausted. The last seen call is returned either way.
func dial(ctx context.Context, progress io.Writer, baseURL string, req dialRequest) (*call.Call, error) {
	client := newAPIClient(baseURL)

	var c call.Call
	var apiErr apiError
	resp, err := client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&c).
		SetError(&apiErr).
		Post("/api/calls/initiate")
	if err != nil {
		return nil, fmt.Errorf("initiate call: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("initiate call: API error (%d): %s", resp.StatusCode(), apiErr.Error)
	}

	stop := startSpinner(progress, fmt.Sprintf("Calling %s (%s)...", c.TargetNumber, c.Strategy))
	defer stop()

	for range maxPolls {
		select {
		case <-ctx.Done():
			return &c, ctx.Err()
		case <-time.After(pollInterval):
		}

		var latest call.Call
		resp, err := client.R().
			SetContext(ctx).
			SetResult(&latest).
			SetError(&apiErr).
			Get("/api/calls/" + c.ID.String() + "/status")
		if err != nil {
			return &c, fmt.Errorf("poll call status: %w", err)
		}
		if resp.IsError() {
			return &c, fmt.Errorf("poll call status: API error (%d): %s", resp.StatusCode(), apiErr.Error)
		}
		c = latest
		if c.Status.IsTerminal() {
			return &c, nil
		}
	}
	return &c, fmt.Errorf("call %s still %s after %d polls", c.ID, c.Status, maxPolls)
}
