package dialsense

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
	"github.com/dialsense/dialsense/internal/server"
	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	compareStrategies []string
	compareAudio      string
	compareServer     string
	compareJSON       bool
)

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Run several detection strategies and reconcile their verdicts",
	Long: `Run detection strategies concurrently over one sample and print the
consensus, the per-strategy breakdown and recommendations.

Strategies run locally unless --server points at a running API.

Examples:
  dialsense compare
  dialsense compare --strategies twilio-native,gemini-flash --audio greeting.wav
  dialsense compare --server http://localhost:8080 --json`,
	Args: cobra.NoArgs,
	RunE: runCompare,
}

func init() {
	compareCmd.Flags().StringSliceVarP(&compareStrategies, "strategies", "s", nil, "Strategies to run (default: all)")
	compareCmd.Flags().StringVarP(&compareAudio, "audio", "a", "", "Audio sample file")
	compareCmd.Flags().StringVar(&compareServer, "server", "", "API base URL; runs locally when empty")
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "Output the report as JSON")
}

func runCompare(cmd *cobra.Command, args []string) error {
	var sample amd.Sample
	if compareAudio != "" {
		b, err := os.ReadFile(compareAudio)
		if err != nil {
			return fmt.Errorf("read audio sample: %w", err)
		}
		sample = b
	}

	names := compareStrategies
	if len(names) == 0 {
		for _, id := range amd.AllStrategies {
			names = append(names, string(id))
		}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	stop := startSpinner(cmd.ErrOrStderr(), fmt.Sprintf("Running %s...", strings.Join(names, ", ")))
	var (
		report *amd.Report
		err    error
	)
	if compareServer != "" {
		report, err = compareRemote(ctx, compareServer, names, sample)
	} else {
		report, err = compareLocal(ctx, names, sample)
	}
	stop()
	if err != nil {
		return fmt.Errorf("comparison failed: %w", err)
	}

	if compareJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printReport(cmd.OutOrStdout(), report)
	return nil
}

func compareLocal(ctx context.Context, names []string, sample amd.Sample) (*amd.Report, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	outcomes, err := server.NewRegistry(cfg, nil).RunAll(ctx, sample, names)
	if err != nil {
		return nil, err
	}
	return amd.Aggregate(outcomes)
}

type apiError struct {
	Error string `json:"error"`
}

func newAPIClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
}

func compareRemote(ctx context.Context, baseURL string, names []string, sample amd.Sample) (*amd.Report, error) {
	var report amd.Report
	var apiErr apiError
	resp, err := newAPIClient(baseURL).R().
		SetContext(ctx).
		SetBody(map[string]any{"strategies": names, "audio": []byte(sample)}).
		SetResult(&report).
		SetError(&apiErr).
		Post("/api/amd/compare")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode(), apiErr.Error)
	}
	return &report, nil
}
