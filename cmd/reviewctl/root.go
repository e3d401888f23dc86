package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes.
const (
	exitSuccess    = 0
	exitFindings   = 1
	exitUsageError = 2
)

type app struct {
	out      io.Writer
	exitCode int
	verbose  bool
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "reviewctl",
		Short:         "Administer codereview and run analyses locally",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if a.verbose {
				level = slog.LevelInfo
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log pipeline progress to stderr")
	root.SetOut(a.out)

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newKeysCmd())
	root.AddCommand(newAnalyzeCmd(a))
	return root
}

func execute(args []string) int {
	a := &app{out: os.Stdout}
	root := newRootCmd(a)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return exitUsageError
	}
	return a.exitCode
}
