package medchain

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liftedinit/medchain/internal/metrics"
)

var MetricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Print the most recent consensus metrics entries as JSON lines",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}
		if limit < 0 {
			return fmt.Errorf("limit cannot be negative")
		}

		recorder := metrics.NewRecorder(viper.GetString("metrics-file"))
		entries, err := recorder.Load()
		if err != nil {
			return err
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		for _, e := range entries {
			if err := enc.Encode(e); err != nil {
				return fmt.Errorf("failed to encode metrics entry: %w", err)
			}
		}
		return nil
	},
}

func init() {
	MetricsCmd.Flags().IntP("limit", "n", metrics.DefaultRecentLimit, "Number of entries to print (0 for all)")
}
