package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"engramd/internal/config"
	"engramd/internal/core"
	"engramd/internal/logging"
	"engramd/internal/memory"
	"engramd/internal/vault"
)

var (
	// Global flags
	verbose bool
	dataDir string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "engramd",
	Short: "engramd - persistent memory core for a personal AI agent",
	Long: `engramd durably stores everything a long-running agent learns,
classifies it into tiers of durability, gatekeeps permanent "self"
knowledge behind an identity-consistency firewall, and periodically
consolidates raw experience through a multi-specialist sleep cycle.

State lives in an append-only event log; a human-readable vault mirror
is kept in sync and watched for manual edits.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(dataDir); err != nil {
			logger.Warn("category logging unavailable", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func loadManager() (*core.Manager, *config.Config, error) {
	cfg, err := config.Load(filepath.Join(dataDir, "config.yaml"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	m, err := core.NewManager(cfg)
	if err != nil {
		return nil, nil, err
	}
	return m, cfg, nil
}

// recordCmd stores one memory entry.
var recordCmd = &cobra.Command{
	Use:   "record [content]",
	Short: "Record a memory entry",
	Long: `Stores one entry through the full write path: embedding (when
configured), firewall evaluation, durable log append.

Example:
  engramd record --tier Semantic --source chat "the user prefers short answers"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		tierFlag, _ := cmd.Flags().GetString("tier")
		source, _ := cmd.Flags().GetString("source")
		tier, err := memory.ParseTier(tierFlag)
		if err != nil {
			return err
		}

		entry, err := m.Record(cmd.Context(), tier, strings.Join(args, " "), source)
		if err != nil {
			var qerr *memory.QuarantineError
			if errors.As(err, &qerr) {
				fmt.Printf("Quarantined: %s\n", qerr.Reason)
				return nil
			}
			return err
		}
		fmt.Printf("Recorded %s entry %s\n", entry.Tier, entry.ShortID())
		if m.Ephemeral() {
			fmt.Println("WARNING: no event log configured, this entry will not survive restart")
		}
		return nil
	},
}

// statsCmd prints tier counts and projection health.
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		s := m.Stats()
		fmt.Printf("Total entries: %d", s.Total)
		if s.Ephemeral {
			fmt.Print("  (EPHEMERAL)")
		}
		fmt.Println()
		for _, tier := range memory.AllTiers {
			fmt.Printf("  %-12s %d\n", tier, s.Tiers[tier])
		}
		if s.Index != nil {
			fmt.Printf("Index: %d rows", s.Index.Rows)
			if s.Index.Enabled {
				fmt.Printf(" (%s)", s.Index.Engine)
			}
			fmt.Println()
		}
		for _, h := range s.Vault {
			status := "missing"
			switch {
			case h.Exists && h.Verified:
				status = "ok"
			case h.Exists:
				status = "EDITED"
			}
			fmt.Printf("Vault %-26s %s\n", h.File, status)
		}
		return nil
	},
}

// recentCmd lists the newest entries.
var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "Show the most recent memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		n, _ := cmd.Flags().GetInt("count")
		promotions, _ := cmd.Flags().GetBool("promotions")

		var entries []*memory.Entry
		if promotions {
			entries = m.RecentPromotions(n)
		} else {
			entries = m.Recent(n)
		}
		for _, e := range entries {
			fmt.Printf("%s  %-12s %-24s %s\n",
				e.CreatedAt.Format("2006-01-02 15:04"), e.Tier, e.Source, e.Content)
		}
		return nil
	},
}

// beliefsCmd lists live beliefs.
var beliefsCmd = &cobra.Command{
	Use:   "beliefs",
	Short: "List currently held beliefs",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		for _, e := range m.AllBeliefs() {
			fmt.Printf("%s  conf %.2f  %s\n", e.ShortID(), e.Confidence, e.Content)
		}
		return nil
	},
}

// searchCmd queries the semantic index.
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search memories semantically",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		results, err := m.Search(cmd.Context(), strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("%.3f  %-12s %s\n", r.Score, r.Tier, r.Content)
		}
		return nil
	},
}

// sleepCmd runs a consolidation cycle.
var sleepCmd = &cobra.Command{
	Use:   "sleep",
	Short: "Run a memory consolidation cycle",
	Long: `Reviews accumulated memory and promotes, retires, rewrites, or
synthesizes entries. By default runs the heuristic distillation pass;
--multi runs the four-specialist deliberation pipeline (requires a
configured language model).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		multi, _ := cmd.Flags().GetBool("multi")

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		progress := make(chan string, 64)
		done := make(chan struct{})
		go func() {
			defer close(done)
			for line := range progress {
				fmt.Println(line)
			}
		}()

		start := time.Now()
		var summary string
		if multi {
			sum, err := m.RunMultiAgentSleepCycle(ctx, progress)
			if err != nil {
				close(progress)
				<-done
				return err
			}
			summary = sum.Distilled
		} else {
			sum, err := m.RunSleepCycle(ctx, progress)
			if err != nil {
				close(progress)
				<-done
				return err
			}
			summary = sum.Distilled
		}
		close(progress)
		<-done

		logger.Info("sleep cycle finished",
			zap.String("summary", summary),
			zap.Duration("took", time.Since(start)),
			zap.Bool("multi", multi))
		return nil
	},
}

// exportCmd writes the vault projection.
var exportCmd = &cobra.Command{
	Use:   "export [path]",
	Short: "Export the vault projection",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		path := ""
		if len(args) == 1 {
			path = args[0]
		}
		written, err := m.ExportVault(path)
		if err != nil {
			return err
		}
		fmt.Printf("Vault export complete: %d files written\n", written)
		return nil
	},
}

// watchCmd runs the vault edit watcher until interrupted.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch vault summaries for human edits",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		w, err := vault.NewWatcher(m.Vault())
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()

		fmt.Printf("Watching %s (ctrl-c to stop)\n", m.Vault().Root())
		for {
			select {
			case <-ctx.Done():
				return nil
			case ev := <-w.Events():
				fmt.Printf("%s  human edit detected: %s\n", ev.At.Format("15:04:05"), ev.File)
			}
		}
	},
}

// wipeCmd removes memory tiers or everything.
var wipeCmd = &cobra.Command{
	Use:   "wipe [tier...]",
	Short: "Wipe memory tiers (or everything with --all)",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, _, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		all, _ := cmd.Flags().GetBool("all")
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("wipe is destructive, pass --yes to confirm")
		}

		if all {
			n, err := m.WipeAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Wiped %d entries\n", n)
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("name at least one tier, or use --all")
		}
		tiers := make([]memory.Tier, 0, len(args))
		for _, arg := range args {
			tier, err := memory.ParseTier(arg)
			if err != nil {
				return err
			}
			tiers = append(tiers, tier)
		}
		n, err := m.WipeTiers(cmd.Context(), tiers)
		if err != nil {
			return err
		}
		fmt.Printf("Wiped %d entries from %v\n", n, tiers)
		return nil
	},
}

// compactCmd drops old episodic entries.
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Drop episodic entries past the retention window",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, cfg, err := loadManager()
		if err != nil {
			return err
		}
		defer m.Close()

		n, err := m.CompactEpisodic(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Compacted %d episodic entries older than %s\n", n, cfg.Memory.EpisodicMaxAge)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", ".engram", "Data directory (config, event log, index)")

	recordCmd.Flags().String("tier", "Episodic", "Memory tier (Core, UserProfile, Reflective, Semantic, Procedural, Episodic)")
	recordCmd.Flags().String("source", "manual", "Provenance tag")

	recentCmd.Flags().IntP("count", "n", 10, "Number of entries")
	recentCmd.Flags().Bool("promotions", false, "Only show sleep-created entries")

	searchCmd.Flags().Int("limit", 10, "Maximum number of results")

	sleepCmd.Flags().Bool("multi", false, "Run the multi-specialist pipeline")

	wipeCmd.Flags().Bool("all", false, "Wipe every tier")
	wipeCmd.Flags().Bool("yes", false, "Confirm the wipe")

	rootCmd.AddCommand(recordCmd, statsCmd, recentCmd, beliefsCmd, searchCmd,
		sleepCmd, exportCmd, watchCmd, wipeCmd, compactCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
