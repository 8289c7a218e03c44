package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newEnsureBundleCommand() *cobra.Command {
	var serviceURL, manifestID string

	cmd := &cobra.Command{
		Use:   "ensure-bundle",
		Short: "Repair an orphan manifest by asking the service to build its bundle",
		Long: `Ask a running evidence service to build the bundle for a manifest. The
operation is idempotent on the service side, so running it against a manifest
that already has a live bundle returns that bundle unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(manifestID) == "" {
				return fmt.Errorf("--manifest-id is required")
			}
			url := strings.TrimRight(serviceURL, "/") + "/evidence/manifests/" + manifestID + "/bundle"

			client := &http.Client{Timeout: 15 * time.Second}
			resp, err := client.Post(url, "application/json", strings.NewReader("{}"))
			if err != nil {
				return fmt.Errorf("post %s: %w", url, err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
			if resp.StatusCode >= 400 {
				return fmt.Errorf("service returned %d", resp.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&serviceURL, "service", "http://localhost:8084", "Base URL of the evidence service")
	cmd.Flags().StringVar(&manifestID, "manifest-id", "", "Manifest to build a bundle for")
	return cmd
}
