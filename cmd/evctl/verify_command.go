package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/adrper79-dot/callmonitor/pkg/verify"
)

func newVerifyCommand() *cobra.Command {
	var bundlePath, manifestPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an exported bundle against its manifest offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(bundlePath) == "" || strings.TrimSpace(manifestPath) == "" {
				return fmt.Errorf("both --bundle and --manifest are required")
			}
			bundleJSON, err := os.ReadFile(bundlePath)
			if err != nil {
				return fmt.Errorf("read bundle: %w", err)
			}
			manifestJSON, err := os.ReadFile(manifestPath)
			if err != nil {
				return fmt.Errorf("read manifest: %w", err)
			}

			report := verify.BundleJSON(bundleJSON, manifestJSON)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			if report.Status != verify.StatusVerified {
				return fmt.Errorf("verification failed: %s", report.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&bundlePath, "bundle", "", "Path to the exported bundle JSON")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the exported manifest JSON")
	return cmd
}
