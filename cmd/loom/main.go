package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"loom/internal/config"
	"loom/internal/conflict"
	"loom/internal/gitcli"
	"loom/internal/layout"
	"loom/internal/logging"
	"loom/internal/metrics"
	"loom/internal/term"
	"loom/internal/watch"
	"loom/internal/workspace"
	"loom/internal/worktree"
)

var (
	fatalColor = color.New(color.FgRed, color.Bold)
	warnColor  = color.New(color.FgYellow)
	infoColor  = color.New(color.FgCyan)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fatalColor.Fprintln(os.Stderr, "loom:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath      string
		maxTerminals int
		layoutName   string
		noWorktrees  bool
		logLevel     string
		dumpMetrics  bool
	)

	cmd := &cobra.Command{
		Use:   "loom [project-dir]",
		Short: "Terminal workspace orchestrator with per-session git worktrees",
		Long: `loom runs a set of terminal sessions inside one workspace: a tiled
layout, an isolated git worktree per session, and cross-session file
conflict detection.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			projectDir := "."
			if len(args) > 0 {
				projectDir = args[0]
			}
			absDir, err := filepath.Abs(projectDir)
			if err != nil {
				return fmt.Errorf("resolve project dir: %w", err)
			}
			if info, err := os.Stat(absDir); err != nil || !info.IsDir() {
				return fmt.Errorf("project dir %s is not a directory", absDir)
			}

			if cfgPath == "" {
				cfgPath = filepath.Join(absDir, ".loom", "config.yaml")
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-terminals") {
				cfg.MaxTerminals = maxTerminals
			}
			if cmd.Flags().Changed("layout") {
				cfg.Layout.Default = layoutName
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if noWorktrees {
				cfg.Worktree.Enabled = false
			}

			return run(absDir, cfg, dumpMetrics)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "config file (default <project>/.loom/config.yaml)")
	cmd.Flags().IntVar(&maxTerminals, "max-terminals", 0, "maximum concurrent sessions")
	cmd.Flags().StringVar(&layoutName, "layout", "", "initial layout (vertical|horizontal|grid|spiral|floating|tabbed|stacked)")
	cmd.Flags().BoolVar(&noWorktrees, "no-worktrees", false, "run sessions in the project directory without git isolation")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "minimum log level (debug|info|warning|error)")
	cmd.Flags().BoolVar(&dumpMetrics, "metrics", false, "dump counters on exit")
	return cmd
}

func run(projectDir string, cfg config.Config, dumpMetrics bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logBuffer := logging.NewLogBuffer(logging.DefaultBufferSize)
	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		level = logging.LevelInfo
	}
	logger := logging.NewLogger(logBuffer, level)

	registry := term.NewRegistry(term.RegistryOptions{
		Shell:           cfg.Shell,
		MaxSessions:     cfg.MaxTerminals,
		ScrollbackLines: cfg.ScrollbackLines,
		Logger:          logger,
	})

	mode, tile, err := layout.ParseLayoutName(cfg.Layout.Default)
	if err != nil {
		return err
	}
	engine := layout.NewEngine(layout.Options{
		Mode:     mode,
		Tile:     tile,
		GridCols: cfg.Layout.GridCols,
		MinPane:  layout.Size{Width: cfg.Layout.MinPaneWidth, Height: cfg.Layout.MinPaneHeight},
	})

	tracker := conflict.NewTracker(conflict.Options{SettleWindow: cfg.Debounce()})

	var worktrees *worktree.Manager
	if cfg.Worktree.Enabled {
		runner := gitcli.NewExecRunner()
		repoRoot, err := gitcli.RepoRoot(ctx, runner, projectDir)
		if err != nil {
			warnColor.Fprintln(os.Stderr, "loom: not a git repository, worktrees disabled")
		} else {
			worktrees = worktree.NewManager(worktree.Options{
				Runner:       runner,
				RepoRoot:     repoRoot,
				BranchPrefix: cfg.Worktree.BranchPrefix,
				SyncInterval: cfg.SyncInterval(),
				Logger:       logger,
			})
		}
	}

	watcher, err := watch.New(watch.Options{
		Debounce: cfg.Debounce(),
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	if err := watcher.AddRoot(projectDir); err != nil {
		logger.Warn("watch project root failed", map[string]string{"error": err.Error()})
	}

	core := workspace.NewCore(workspace.Options{
		Config:     cfg,
		ProjectDir: projectDir,
		StatePath:  filepath.Join(projectDir, ".loom", "workspace.yaml"),
		Registry:   registry,
		Layout:     engine,
		Tracker:    tracker,
		Worktrees:  worktrees,
		Watcher:    watcher,
		Logger:     logger,
	})

	go pumpInput(ctx, core)
	go pumpResize(ctx, core)
	go printSnapshots(ctx, core)

	infoColor.Fprintf(os.Stderr, "loom: workspace at %s (max %d sessions)\n", projectDir, cfg.MaxTerminals)
	runErr := core.Run(ctx)

	if dumpMetrics {
		metrics.Default.Dump(os.Stderr)
	}
	return runErr
}

// pumpInput forwards raw stdin bytes to the core. Terminal mode is left to
// the caller; loom reads whatever the tty delivers.
func pumpInput(ctx context.Context, core *workspace.Core) {
	buf := make([]byte, 1024)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			core.Post(workspace.InputMsg{Data: data})
		}
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// pumpResize tracks the controlling terminal's size via SIGWINCH.
func pumpResize(ctx context.Context, core *workspace.Core) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)

	post := func() {
		if rows, cols, err := pty.Getsize(os.Stdin); err == nil && rows > 0 && cols > 0 {
			core.Post(workspace.ResizeMsg{Cols: cols, Rows: rows})
		}
	}
	post()

	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
			post()
		}
	}
}

// printSnapshots surfaces status changes and conflicts on stderr. Pane
// rendering is left to an attached frontend; the CLI keeps to one-line
// notices.
func printSnapshots(ctx context.Context, core *workspace.Core) {
	snaps, cancel := core.Snapshots().Subscribe()
	defer cancel()

	lastStatus := ""
	lastConflicts := ""
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				return
			}
			if snap.Status != "" && snap.Status != lastStatus {
				lastStatus = snap.Status
				infoColor.Fprintln(os.Stderr, "loom:", snap.Status)
			}
			key := conflictKey(snap)
			if key != lastConflicts {
				lastConflicts = key
				for _, c := range snap.Conflicts {
					warnColor.Fprintf(os.Stderr, "loom: conflict %s [%s]\n", c.Path, strings.Join(c.Sessions, ", "))
				}
			}
		}
	}
}

func conflictKey(snap workspace.Snapshot) string {
	parts := make([]string, 0, len(snap.Conflicts))
	for _, c := range snap.Conflicts {
		parts = append(parts, c.Path+":"+strings.Join(c.Sessions, ","))
	}
	return strings.Join(parts, ";")
}
