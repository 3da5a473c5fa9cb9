// Command libraryctl runs administrative tasks against the library backend
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"library-backend/internal/app"
	"library-backend/internal/config"
)

// env is the configuration and logger shared by subcommands
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func (e *env) load() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(cfg)
	if err != nil {
		return err
	}
	e.cfg, e.logger = cfg, logger
	return nil
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "libraryctl",
		Short:         "Administrative tasks for the library backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}
	root.AddCommand(newMigrateCmd(e), newUsersCmd(e), newJobsCmd(e))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
