// delayctl is the operator and user CLI for the delay-risk service.
//
// Usage:
//
//	delayctl predict [--url URL] [--retries N] [--distance 100] [--weather Clear] ...
//	delayctl artifact import  manifest.yaml (--out delay_risk.model | --registry models.db)
//	delayctl artifact export  SOURCE [--version ID] [-o manifest.yaml]
//	delayctl artifact list    --registry models.db [--last N]
//	delayctl artifact show    SOURCE [--version ID]
//	delayctl artifact activate --registry models.db VERSION
//	delayctl audit recent --dsn sqlite://audit.db [--last N]
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "delayctl",
		Short: "Train delay-risk predictions and model artifact management",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.AddCommand(newPredictCmd())
	root.AddCommand(newArtifactCmd())
	root.AddCommand(newAuditCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
