package medchain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var HistoryCmd = &cobra.Command{
	Use:   "history [patient-id]",
	Short: "Print the committed records of a patient as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadLedgerConfig()
		if err != nil {
			return err
		}

		l, err := openLedger(context.Background(), cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(l.PatientHistory(args[0])); err != nil {
			return fmt.Errorf("failed to encode history: %w", err)
		}
		return nil
	},
}
