package medchain

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liftedinit/medchain/internal/client"
	"github.com/liftedinit/medchain/internal/config"
	"github.com/liftedinit/medchain/internal/models"
)

var apiClient *client.Client

var ClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Talk to a running medchain server",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if root := cmd.Root(); root.PersistentPreRunE != nil {
			if err := root.PersistentPreRunE(cmd, args); err != nil {
				return err
			}
		}

		clientCfg := config.LoadClientConfigFromCLI()
		if err := clientCfg.Validate(); err != nil {
			return fmt.Errorf("invalid client configuration: %w", err)
		}
		slog.Debug("Client configuration", "server", clientCfg.ServerURL)

		apiClient = client.New(clientCfg.ServerURL, clientCfg.Timeout)
		if token := viper.GetString("token"); token != "" {
			apiClient.SetToken(token)
		}
		return nil
	},
}

var clientConsentCmd = &cobra.Command{
	Use:   "consent [patient-id]",
	Short: "Request a consent OTP for a patient",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		grant, err := apiClient.RequestConsent(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OTP %s (valid for %ds)\n", grant.OTP, grant.Expiry)
		return nil
	},
}

var clientRecordCmd = &cobra.Command{
	Use:   "record [patient-id] [doctor-id] [otp]",
	Short: "Submit a medical record with the patient's OTP",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		department, _ := flags.GetString("department")
		diagnosis, _ := flags.GetString("diagnosis")
		prescription, _ := flags.GetString("prescription")
		notes, _ := flags.GetString("notes")

		resp, err := apiClient.AddRecord(cmd.Context(), client.RecordRequest{
			PatientID:   args[0],
			DoctorID:    args[1],
			OTP:         args[2],
			Department:  department,
			MedicalData: models.MedicalData{Diagnosis: diagnosis, Prescription: prescription, Notes: notes},
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
		return nil
	},
}

var clientCommitCmd = &cobra.Command{
	Use:   "commit",
	Short: "Ask the server to run a consensus attempt",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := apiClient.Commit(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
		return nil
	},
}

var clientValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Print the server's chain validation result",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := apiClient.ValidateChain(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s (%d blocks)\n", status.Message, status.BlockCount)
		if !status.Valid {
			return fmt.Errorf("chain invalid: %s", status.Message)
		}
		return nil
	},
}

var clientHistoryCmd = &cobra.Command{
	Use:   "history [patient-id]",
	Short: "Fetch a patient's committed records from the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password, _ := cmd.Flags().GetString("password")
		history, err := apiClient.PatientRecords(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(history.Records)
	},
}

func init() {
	ClientCmd.PersistentFlags().String("server", "http://localhost:5000", "medchain server URL")
	ClientCmd.PersistentFlags().Duration("timeout", 10*time.Second, "Request timeout")
	ClientCmd.PersistentFlags().String("token", "", "Bearer token from /api/login")
	if err := viper.BindPFlags(ClientCmd.PersistentFlags()); err != nil {
		slog.Error("Failed to bind ClientCmd flags", "error", err)
	}

	clientConsentCmd.Flags().String("password", "", "Patient password")
	clientHistoryCmd.Flags().String("password", "", "Patient password")

	clientRecordCmd.Flags().String("department", "", "Department (General when empty)")
	clientRecordCmd.Flags().String("diagnosis", "", "Diagnosis")
	clientRecordCmd.Flags().String("prescription", "", "Prescription")
	clientRecordCmd.Flags().String("notes", "", "Notes")

	ClientCmd.AddCommand(clientConsentCmd, clientRecordCmd, clientCommitCmd, clientValidateCmd, clientHistoryCmd)
}
