package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/adrper79-dot/callmonitor/pkg/canonhash"
)

func newHashCommand() *cobra.Command {
	var canonicalJSON bool

	cmd := &cobra.Command{
		Use:   "hash <file>",
		Short: "Print the sha256 digest of a local artifact",
		Long: `Print the sha256 digest of a local artifact in the form the evidence
service stores. With --json the file is parsed and canonicalized first, so the
digest matches a transcript or manifest hash regardless of key order or
whitespace in the export.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			if !canonicalJSON {
				fmt.Fprintln(cmd.OutOrStdout(), canonhash.SumBytes(raw))
				return nil
			}
			hash, _, err := canonhash.Sum(json.RawMessage(raw))
			if err != nil {
				return fmt.Errorf("canonicalize %s: %w", args[0], err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}

	cmd.Flags().BoolVar(&canonicalJSON, "json", false, "Canonicalize the file as JSON before hashing")
	return cmd
}
