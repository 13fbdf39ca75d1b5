// Package main provides the semcatalog binary entry point.
// Semcatalog prepares catalog documents for indexing by deriving the
// exploded subject heading field, either as a semstreams stream processor
// or offline over document files.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/c360studio/semcatalog/config"
	"github.com/spf13/cobra"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semcatalog"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Catalog document preparation",
		Long: `Semcatalog prepares catalog documents for indexing.

It derives subjectLiteral_exploded from subjectLiteral: every subject
heading is split on " -- " into cumulative prefixes, after one trailing
period is trimmed, so "A -- B -- C." indexes as "A", "A -- B" and
"A -- B -- C".

Documents are processed either as a stream processor on NATS JetStream
(run) or offline over NDJSON files (explode).`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(runCmd(&logLevel))
	cmd.AddCommand(explodeCmd(&logLevel))

	// Version command
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

// newLogger builds the stderr text logger. The flag wins over the
// configured level.
func newLogger(flagLevel, configLevel string) (*slog.Logger, error) {
	name := configLevel
	if flagLevel != "" {
		name = flagLevel
	}
	level, err := config.ParseLevel(name)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}
