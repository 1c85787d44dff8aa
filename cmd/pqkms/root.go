package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "pqkms",
	Short: "Post-quantum key management service",
	Long: `pqkms orchestrates post-quantum key generation and crypto operations
across hardware security module backends: cloud HSM clusters, managed key
vaults, PKCS#11 tokens, and a software fallback.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
