package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := buildRoot().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "toolhost",
		Short:         "Supervise the external tools behind the editor",
		Long:          "toolhost launches, monitors and tears down the external helper tools (transcoder, TTS engine, preview renderer) used by the editing application.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newStartCmd(),
		newStopCmd(),
		newStatusCmd(),
		newLogsCmd(),
		newRunCmd(),
		newShutdownCmd(),
	)
	return root
}
