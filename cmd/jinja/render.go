package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/neurodesk/jinja/pkg/jinja2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var renderCmd = cobra.Command{
	Use:   "render [template...]",
	Short: "Render templates to stdout or to files",
	Long: `Render one or more registered templates against the merged context.

Without arguments the templates listed under "render" in the bundle are used.
Several templates render concurrently against the same engine. With --out a
single template is written to that file; several are written into that
directory under their own names. Files are replaced atomically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		contextFiles, _ := cmd.Flags().GetStringArray("context")
		out, _ := cmd.Flags().GetString("out")
		repeat, _ := cmd.Flags().GetInt("repeat")
		mode, _ := cmd.Flags().GetString("profile")
		profilePath, _ := cmd.Flags().GetString("profile-path")

		ws, err := loadWorkspace(contextFiles)
		if err != nil {
			return err
		}
		names := args
		if len(names) == 0 {
			names = ws.render
		}
		if len(names) == 0 {
			return fmt.Errorf("no template specified")
		}
		if repeat < 1 {
			return fmt.Errorf("--repeat must be at least 1, got %d", repeat)
		}

		stop, err := startProfile(mode, profilePath)
		if err != nil {
			return err
		}
		results, err := renderAll(cmd.Context(), ws.engine, names, ws.context, repeat)
		stop.Stop()
		if err != nil {
			return err
		}
		return writeResults(names, results, out)
	},
}

// renderAll renders every template concurrently, each repeat times, and
// returns the outputs in the order of names.
func renderAll(ctx context.Context, e *jinja2.Engine, names []string, vars jinja2.Context, repeat int) ([]string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	results := make([]string, len(names))
	g, ctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			start := time.Now()
			for n := 0; n < repeat; n++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				s, err := e.Render(name, vars)
				if err != nil {
					return err
				}
				results[i] = s
			}
			slog.Debug("template rendered",
				"name", name,
				"bytes", len(results[i]),
				"repeat", repeat,
				"elapsed", time.Since(start))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeResults(names, results []string, out string) error {
	if out == "" {
		for _, s := range results {
			if _, err := os.Stdout.WriteString(s); err != nil {
				return err
			}
		}
		return nil
	}
	if len(names) == 1 {
		return writeFile(out, results[0])
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	for i, name := range names {
		rel := filepath.FromSlash(name)
		if !filepath.IsLocal(rel) {
			return fmt.Errorf("template name %q cannot be used as a file name", name)
		}
		path := filepath.Join(out, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}
		if err := writeFile(path, results[i]); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(path, content string) error {
	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	slog.Info("wrote output", "path", path, "bytes", len(content))
	return nil
}

func init() {
	renderCmd.Flags().StringArrayP("context", "c", nil, "Context file (.yaml, .json or .star); repeatable, later files win")
	renderCmd.Flags().StringP("out", "o", "", "Write output to this file, or directory when rendering several templates")
	renderCmd.Flags().Int("repeat", 1, "Render each template this many times (useful with --profile)")
	renderCmd.Flags().String("profile", "", fmt.Sprintf("Profile the renders: one of %s", strings.Join(profileModes(), ", ")))
	renderCmd.Flags().String("profile-path", ".", "Directory for profile output")
}
