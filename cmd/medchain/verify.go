package medchain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/liftedinit/medchain/internal/chain"
	"github.com/liftedinit/medchain/internal/models"
)

var VerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Validate the hash linkage of the stored chain",
	Long:  `Load every block from the configured store and check genesis, previous-hash, data-hash and consent-hash integrity block by block.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadLedgerConfig()
		if err != nil {
			return err
		}
		// Corruption is what we are here to report.
		cfg.StrictChain = false

		l, err := openLedger(context.Background(), cfg)
		if err != nil {
			return err
		}
		defer l.Close()

		blocks := l.Blocks()
		bar := progressbar.NewOptions(
			len(blocks),
			progressbar.OptionSetWriter(cmd.ErrOrStderr()),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetDescription("Verifying blocks..."),
			progressbar.OptionShowCount(),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "=",
				SaucerHead:    ">",
				SaucerPadding: " ",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		)
		if err := bar.RenderBlank(); err != nil {
			return fmt.Errorf("failed to render progress bar: %w", err)
		}

		for i := range blocks {
			if err := chain.ValidateAt(blocks, i); err != nil {
				_ = bar.Exit()
				fmt.Fprintf(cmd.OutOrStdout(), "INVALID: %s (%d blocks)\n", err, len(blocks))
				return fmt.Errorf("chain invalid: %w", err)
			}
			if err := bar.Add(1); err != nil {
				slog.Debug("Failed to update progress bar", "error", err)
			}
		}
		_ = bar.Finish()

		if err := checkHeight(l, blocks); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "INVALID: %s (%d blocks)\n", err, len(blocks))
			return fmt.Errorf("chain invalid: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "OK: chain is valid (%d blocks)\n", len(blocks))
		return nil
	},
}

// checkHeight compares the store's height marker, when it keeps one, with
// the index of the last loaded block.
func checkHeight(l *openedLedger, blocks []models.Block) error {
	if l.height == nil || len(blocks) == 0 {
		return nil
	}
	h, ok, err := l.height.Height()
	if err != nil {
		return fmt.Errorf("failed to read store height: %w", err)
	}
	last := blocks[len(blocks)-1].Index
	if !ok || h != last {
		return fmt.Errorf("store height %d does not match last block %d", h, last)
	}
	return nil
}
