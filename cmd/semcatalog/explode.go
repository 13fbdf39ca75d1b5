package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	catalogconfig "github.com/c360studio/semcatalog/config"
	"github.com/c360studio/semcatalog/document"
	"github.com/c360studio/semcatalog/source"
	"github.com/spf13/cobra"
)

// errInvalidDocument is returned when --on-invalid=fail stops a run.
var errInvalidDocument = errors.New("invalid document")

func explodeCmd(logLevel *string) *cobra.Command {
	var (
		configPath string
		outDir     string
		onInvalid  string
		watchDir   string
	)

	cmd := &cobra.Command{
		Use:   "explode [patterns...]",
		Short: "Explode subject headings in document files",
		Long: `Explode reads JSON documents (NDJSON, concatenated objects or a
top-level array) from the given files or globs, or from stdin when none
are given, and writes the prepared documents as NDJSON.

With --out-dir each input file gets its own <name>.ndjson output file;
otherwise everything is written to stdout. With --watch the command keeps
running and re-processes document files in the directory as they change.`,
		Example: `  semcatalog explode records.ndjson
  semcatalog explode 'exports/**/*.json' --out-dir prepared
  cat records.ndjson | semcatalog explode --on-invalid passthrough
  semcatalog explode --watch exports --out-dir prepared`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := catalogconfig.NewLoader(nil).Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			// Flags override the config file.
			if len(args) > 0 {
				cfg.Explode.Inputs = args
			}
			if cmd.Flags().Changed("out-dir") {
				cfg.Explode.OutputDir = outDir
			}
			if cmd.Flags().Changed("on-invalid") {
				cfg.Explode.OnInvalid = onInvalid
			}
			if watchDir != "" {
				cfg.Watch.Enabled = true
				cfg.Watch.Dir = watchDir
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			logger, err := newLogger(*logLevel, cfg.Log.Level)
			if err != nil {
				return err
			}

			policy, err := document.ParseInvalidPolicy(cfg.Explode.OnInvalid)
			if err != nil {
				return err
			}

			ex := &exploder{
				policy: policy,
				outDir: cfg.Explode.OutputDir,
				logger: logger,
				stdout: cmd.OutOrStdout(),
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return ex.run(ctx, cfg, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVarP(&outDir, "out-dir", "o", "", "Write one NDJSON file per input into this directory")
	cmd.Flags().StringVar(&onInvalid, "on-invalid", "", "Invalid document policy (reject, passthrough, fail)")
	cmd.Flags().StringVarP(&watchDir, "watch", "w", "", "Watch this directory and re-process changed files")

	return cmd
}

// exploder runs the subject exploder over document streams and files.
type exploder struct {
	policy document.InvalidPolicy
	outDir string
	logger *slog.Logger
	stdout io.Writer
}

// explodeStats counts what happened to the documents of a run.
type explodeStats struct {
	Documents   int
	Exploded    int
	Skipped     int
	Rejected    int
	Passthrough int
}

func (s *explodeStats) add(other explodeStats) {
	s.Documents += other.Documents
	s.Exploded += other.Exploded
	s.Skipped += other.Skipped
	s.Rejected += other.Rejected
	s.Passthrough += other.Passthrough
}

func (s explodeStats) logAttrs() []any {
	return []any{
		"documents", s.Documents,
		"exploded", s.Exploded,
		"skipped", s.Skipped,
		"rejected", s.Rejected,
		"passthrough", s.Passthrough,
	}
}

func (e *exploder) run(ctx context.Context, cfg *catalogconfig.Config, stdin io.Reader) error {
	if len(cfg.Explode.Inputs) == 0 && !cfg.Watch.Enabled {
		w := source.NewWriter(e.stdout)
		stats, err := e.explodeStream(stdin, w, "stdin")
		if flushErr := w.Flush(); err == nil {
			err = flushErr
		}
		e.logger.Info("Explode complete", stats.logAttrs()...)
		return err
	}

	if len(cfg.Explode.Inputs) > 0 {
		files, err := source.ResolveFiles(cfg.Explode.Inputs)
		if err != nil {
			return err
		}
		if len(files) == 0 && !cfg.Watch.Enabled {
			return fmt.Errorf("no files match %s", strings.Join(cfg.Explode.Inputs, ", "))
		}

		stats, err := e.explodeFiles(files)
		e.logger.Info("Explode complete", append([]any{"files", len(files)}, stats.logAttrs()...)...)
		if err != nil {
			return err
		}
	}

	if cfg.Watch.Enabled {
		return e.watch(ctx, cfg.Watch)
	}
	return nil
}

// explodeFiles processes files in order. Without an output directory all
// documents go to stdout.
func (e *exploder) explodeFiles(files []string) (explodeStats, error) {
	var total explodeStats

	if e.outDir == "" {
		w := source.NewWriter(e.stdout)
		for _, path := range files {
			stats, err := e.explodeFileTo(path, w)
			total.add(stats)
			if err != nil {
				_ = w.Flush()
				return total, err
			}
		}
		return total, w.Flush()
	}

	for _, path := range files {
		stats, err := e.explodeFile(path)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// explodeFile processes one input file into its own file under outDir.
func (e *exploder) explodeFile(path string) (explodeStats, error) {
	if err := os.MkdirAll(e.outDir, 0755); err != nil {
		return explodeStats{}, fmt.Errorf("create output directory: %w", err)
	}

	outPath := outputPath(e.outDir, path)
	tmpPath := outPath + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return explodeStats{}, fmt.Errorf("create output file: %w", err)
	}

	w := source.NewWriter(out)
	stats, err := e.explodeFileTo(path, w)
	if err == nil {
		err = w.Flush()
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return stats, err
	}

	// Rename so a watcher never sees a partially written output file.
	if err := os.Rename(tmpPath, outPath); err != nil {
		return stats, fmt.Errorf("write output file: %w", err)
	}

	e.logger.Debug("Wrote prepared documents", "input", path, "output", outPath, "count", w.Count())
	return stats, nil
}

func (e *exploder) explodeFileTo(path string, w *source.Writer) (explodeStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return explodeStats{}, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	return e.explodeStream(f, w, path)
}

// explodeStream prepares every document read from r and writes it to w,
// applying the invalid-document policy.
func (e *exploder) explodeStream(r io.Reader, w *source.Writer, name string) (explodeStats, error) {
	var stats explodeStats

	err := source.ReadDocuments(r, func(index int, raw json.RawMessage) error {
		stats.Documents++

		doc, err := document.Prepare(raw)
		if err != nil {
			return e.handleInvalid(w, &stats, name, index, raw, err)
		}

		if _, ok := doc.Subjects(); ok {
			stats.Exploded++
		} else {
			stats.Skipped++
		}
		return w.Write(doc)
	})
	if err != nil {
		return stats, fmt.Errorf("%s: %w", name, err)
	}
	return stats, nil
}

func (e *exploder) handleInvalid(w *source.Writer, stats *explodeStats, name string, index int, raw json.RawMessage, err error) error {
	switch e.policy {
	case document.PolicyFail:
		return fmt.Errorf("%w at document %d: %w", errInvalidDocument, index, err)
	case document.PolicyPassthrough:
		stats.Passthrough++
		e.logger.Warn("Passing invalid document through unchanged",
			"input", name, "index", index, "error", err)
		return w.Write(raw)
	default:
		stats.Rejected++
		e.logger.Warn("Rejected invalid document",
			"input", name, "index", index, "error", err)
		return nil
	}
}

// watch re-processes document files in the watched directory until ctx
// is cancelled.
func (e *exploder) watch(ctx context.Context, cfg catalogconfig.WatchConfig) error {
	watchCfg := source.DefaultWatchConfig()
	watchCfg.Debounce = cfg.Debounce
	if len(cfg.Extensions) > 0 {
		watchCfg.FileExtensions = cfg.Extensions
	}

	watcher, err := source.NewDocWatcher(watchCfg, cfg.Dir, e.logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		_ = watcher.Stop()
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Stop()

	outDir := ""
	if e.outDir != "" {
		if outDir, err = filepath.Abs(e.outDir); err != nil {
			return fmt.Errorf("resolve output directory: %w", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Watch stopped")
			return nil
		case event, ok := <-watcher.Events():
			if !ok {
				return nil
			}
			if outDir != "" && isWithin(outDir, event.AbsPath) {
				continue
			}
			if err := e.handleWatchEvent(event); err != nil {
				if errors.Is(err, errInvalidDocument) {
					return err
				}
				e.logger.Error("Failed to process document file", "path", event.Path, "error", err)
			}
		}
	}
}

func (e *exploder) handleWatchEvent(event source.WatchEvent) error {
	switch event.Operation {
	case source.WatchOpDelete:
		if e.outDir == "" {
			return nil
		}
		outPath := outputPath(e.outDir, event.AbsPath)
		if err := os.Remove(outPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove output file: %w", err)
		}
		e.logger.Info("Removed prepared documents", "input", event.Path, "output", outPath)
		return nil
	default:
		stats, err := e.explodeFiles([]string{event.AbsPath})
		if err != nil {
			return err
		}
		e.logger.Info("Processed document file", append([]any{"path", event.Path, "op", event.Operation}, stats.logAttrs()...)...)
		return nil
	}
}

// outputPath maps an input file to <outDir>/<base name>.ndjson.
func outputPath(outDir, input string) string {
	base := filepath.Base(input)
	return filepath.Join(outDir, strings.TrimSuffix(base, filepath.Ext(base))+".ndjson")
}

func isWithin(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
