package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/neurodesk/jinja/pkg/bundle"
	"github.com/neurodesk/jinja/pkg/contextfile"
	"github.com/neurodesk/jinja/pkg/jinja2"
	"github.com/neurodesk/jinja/pkg/netcache"
	jstar "github.com/neurodesk/jinja/pkg/starlark"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	bundlePath  string
	templateDir string
	lenient     bool
	maxDepth    int
	cacheDir    string
	scriptSteps uint64
)

var rootCmd = cobra.Command{
	Use:           "jinja",
	Short:         "Render and check Jinja-style templates",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// workspace is the set of templates and the default context the flags
// describe.
type workspace struct {
	engine  *jinja2.Engine
	context jinja2.Context
	render  []string
}

func engineOptions() []jinja2.Option {
	var opts []jinja2.Option
	if lenient {
		opts = append(opts, jinja2.WithUndefined(jinja2.UndefinedLenient))
	}
	if maxDepth > 0 {
		opts = append(opts, jinja2.WithMaxDepth(maxDepth))
	}
	return opts
}

// loadWorkspace builds the engine from --bundle and --dir, then loads the
// --context files on top of the bundle's default context. Context scripts
// can render the workspace's templates.
func loadWorkspace(contextFiles []string) (*workspace, error) {
	logger := slog.Default()
	ws := &workspace{context: jinja2.Context{}}

	if bundlePath != "" {
		b, err := bundle.Load(bundlePath)
		if err != nil {
			return nil, err
		}
		if b.Cache, err = remoteCache(logger); err != nil {
			return nil, err
		}
		if ws.engine, err = b.Engine(logger, engineOptions()...); err != nil {
			return nil, err
		}
		if ws.context, err = b.DefaultContext(); err != nil {
			return nil, err
		}
		ws.render = b.Render
	} else {
		ws.engine = jinja2.New(append(engineOptions(), jinja2.WithLogger(logger))...)
	}

	if templateDir != "" {
		names, err := templateNames(os.DirFS(templateDir))
		if err != nil {
			return nil, fmt.Errorf("listing templates in %s: %w", templateDir, err)
		}
		if err := ws.engine.RegisterFrom(jinja2.FSLoader{FS: os.DirFS(templateDir)}, names...); err != nil {
			return nil, err
		}
		logger.Debug("templates loaded", "dir", templateDir, "count", len(names))
	}

	loader := contextfile.Loader{Script: jstar.EngineContext{Engine: ws.engine}, Logger: logger, MaxSteps: scriptSteps}
	extra, err := loader.LoadAll(contextFiles...)
	if err != nil {
		return nil, err
	}
	ws.context = contextfile.Merge(ws.context, extra)
	return ws, nil
}

// remoteCache returns the cache for bundle files given by URL, under
// --cache-dir or the user cache directory.
func remoteCache(logger *slog.Logger) (*netcache.Cache, error) {
	dir := cacheDir
	if dir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("no cache directory, set --cache-dir: %w", err)
		}
		dir = filepath.Join(base, "jinja")
	}
	c := netcache.New(dir)
	c.Logger = logger
	return c, nil
}

// templateNames lists every regular file below the root of fsys.
func templateNames(fsys fs.FS) ([]string, error) {
	var names []string
	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			names = append(names, path)
		}
		return nil
	})
	return names, err
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&bundlePath, "bundle", "b", "", "Bundle manifest with templates, options and a default context")
	rootCmd.PersistentFlags().StringVarP(&templateDir, "dir", "d", "", "Register every file below this directory, named by its relative path")
	rootCmd.PersistentFlags().BoolVar(&lenient, "lenient", false, "Render undefined variables as empty instead of failing")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Directory caching bundle files fetched by URL (default: user cache dir)")
	rootCmd.PersistentFlags().Uint64Var(&scriptSteps, "script-steps", jstar.DefaultMaxSteps, "Maximum computation steps of each .star context script")
	rootCmd.PersistentFlags().IntVar(&maxDepth, "max-depth", 0, fmt.Sprintf("Maximum nesting of macro calls and includes (default %d)", jinja2.DefaultMaxDepth))

	rootCmd.AddCommand(&renderCmd)
	rootCmd.AddCommand(&checkCmd)
	rootCmd.AddCommand(&astCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
