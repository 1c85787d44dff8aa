package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"pqkms/internal/hsm"
	"pqkms/internal/hsm/audit"
	"pqkms/internal/hsm/backend/softhsm"
	"pqkms/internal/hsm/metrics"
	"pqkms/internal/platform/logger"
)

var (
	keygenAlgorithm string
	keygenKeyID     string
)

// keygenCmd generates a key on the software backend and prints its handle.
// It exists for local development; production keys go through the API so
// they land on hardware and in the audit ledger.
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a key on the software backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenKeyID == "" {
			keygenKeyID = uuid.NewString()
		}

		registry := hsm.NewRegistry()
		if err := registry.Register(softhsm.New(nil)); err != nil {
			return err
		}

		manager, err := hsm.NewManager(
			registry,
			audit.NewTrail(audit.NewMemoryStore()),
			metrics.New(prometheus.NewRegistry()),
			30*time.Second,
			hsm.WithLogger(logger.New()),
		)
		if err != nil {
			return err
		}

		handle, err := manager.GeneratePQCKey(
			cmd.Context(),
			hsm.PqcAlgorithm(keygenAlgorithm),
			keygenKeyID,
			hsm.ProviderSoftHSM,
			hsm.OperationContext{
				UserID:        "cli",
				ApplicationID: "pqkms-keygen",
				Timestamp:     time.Now().UTC(),
			},
		)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(handle)
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenAlgorithm, "algorithm", string(hsm.AlgKyber1024),
		fmt.Sprintf("one of %v", hsm.SupportedAlgorithms()))
	keygenCmd.Flags().StringVar(&keygenKeyID, "key-id", "", "key identifier; random when omitted")
	rootCmd.AddCommand(keygenCmd)
}
