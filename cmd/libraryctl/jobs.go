package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"library-backend/internal/app"
	"library-backend/internal/jobs"
)

func newJobsCmd(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run scheduled jobs by hand",
	}

	run := &cobra.Command{
		Use:       "run <name>",
		Short:     "Run one job now",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{jobs.JobOverdue, jobs.JobDueToday, jobs.JobExpireHolds},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			db, err := app.OpenStorage(ctx, e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer db.Close()

			journal, err := app.OpenJournal(e.cfg, e.logger)
			if err != nil {
				return err
			}
			defer journal.Close()

			sender, err := app.NewSender(e.cfg, e.logger)
			if err != nil {
				return err
			}

			lib := app.NewLibrary(e.cfg, db, journal, nil, e.logger)
			n, err := jobs.NewSweeper(db, lib, sender, e.logger).Run(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d item(s)\n", args[0], n)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List job names and their schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule := map[string]string{
				jobs.JobOverdue:     e.cfg.OverdueCron,
				jobs.JobDueToday:    e.cfg.DueTodayCron,
				jobs.JobExpireHolds: e.cfg.ExpiryCron,
			}
			for _, name := range []string{jobs.JobDueToday, jobs.JobExpireHolds, jobs.JobOverdue} {
				spec := schedule[name]
				if spec == "" {
					spec = "disabled"
				}
				fmt.Printf("%-22s %s\n", name, spec)
			}
			return nil
		},
	}

	cmd.AddCommand(run, list)
	return cmd
}
