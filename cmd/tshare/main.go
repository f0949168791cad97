// Command tshare shares the local terminal through a tshare broker.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tshare",
		Short:         "Share your terminal session via a web link",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(connectCmd())
	return cmd
}
