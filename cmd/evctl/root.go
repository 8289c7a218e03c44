// evctl is the operator tool for call evidence: offline verification of
// exported bundles, canonical hashing of local artifacts, and bundle repair
// against a running evidence service.
package main

import "github.com/spf13/cobra"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "evctl",
		Short:         "Call evidence utilities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newVerifyCommand())
	root.AddCommand(newHashCommand())
	root.AddCommand(newEnsureBundleCommand())
	return root
}
