package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaypoint/email-gateway/cmd/worker"
)

var cfgPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "email-gateway",
		Short: "Transactional email gateway CLI",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	root.AddCommand(
		serveCmd,
		migrateCmd,
		seedCmd,
		newQueueCmd(),
		worker.NewWorkerCmd(),
	)
	return root
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
