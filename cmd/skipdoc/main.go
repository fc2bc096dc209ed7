package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lamim/skipdoc/internal/chat"
	"github.com/lamim/skipdoc/internal/config"
	"github.com/lamim/skipdoc/internal/metrics"
	"github.com/lamim/skipdoc/internal/orchestrator"
	"github.com/lamim/skipdoc/internal/writer"
	"github.com/lamim/skipdoc/pkg/models"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath string
	envFile    string
	verbose    bool
	outputDir  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "skipdoc",
		Short: "skipdoc - prompt-conditioned medical QA data preparation",
		Long: `skipdoc turns a medical answer corpus into tokenized, batched
train/validation/test sets for prompt-based fine-tuning.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	prepareCmd := &cobra.Command{
		Use:   "prepare",
		Short: "Run the preparation pipeline and export batches",
		Long: `Run the complete preparation pipeline:
1. Load and clean the corpus, join labels, apply the class filter
2. Split into train, validation and test
3. Render every record through the prompt template
4. Tokenize under the length budget
5. Export one epoch of batches per split with a manifest`,
		RunE: runPrepare,
	}

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Load and split the corpus and print counts",
		RunE:  runInspect,
	}

	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Start a line-oriented chat session",
		RunE:  runChat,
	}

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage export sessions",
	}
	sessionsCmd.PersistentFlags().StringVar(&outputDir, "output-dir", writer.DefaultOutputDir, "Directory holding session folders")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List export sessions",
		RunE:  listSessions,
	}
	showCmd := &cobra.Command{
		Use:   "show <session-dir>",
		Short: "Show the manifest of a session",
		Args:  cobra.ExactArgs(1),
		RunE:  showSession,
	}
	sessionsCmd.AddCommand(listCmd, showCmd)

	rootCmd.AddCommand(prepareCmd, inspectCmd, chatCmd, sessionsCmd)
	return rootCmd
}

func logLevel() slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// loadConfig reads the env file, if present, then the configuration
func loadConfig() (*config.Config, *config.Secrets, error) {
	if envFile != "" {
		if err := loadEnvFile(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load env file: %v\n", err)
		}
	}
	cfg, secrets, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, secrets, nil
}

func runPrepare(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}

	sessionMgr, err := writer.NewSessionManager(cfg.Export.OutputDir, cfg.Export.ResumeSession, nil)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	logger, logFile, err := writer.SetupLogger(sessionMgr, logLevel(), cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer func() {
		if logFile != nil {
			_ = logFile.Sync()
			_ = logFile.Close()
		}
	}()

	logger.Info("skipdoc starting",
		"version", Version,
		"config", configPath,
		"session_dir", sessionMgr.GetSessionDir())

	if err := sessionMgr.BackupConfig(configPath); err != nil {
		return fmt.Errorf("failed to backup config: %w", err)
	}

	collector := metrics.NewCollector(logger)
	obs := metrics.Multi{collector, metrics.NewLogObserver(logger)}
	orch := orchestrator.New(cfg, secrets, logger, orchestrator.WithObserver(obs))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manifest, err := orch.Run(ctx, sessionMgr, configPath, cmd.ErrOrStderr())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Preparation interrupted",
				"session_dir", filepath.Base(sessionMgr.GetSessionDir()))
			return fmt.Errorf("preparation interrupted")
		}
		return fmt.Errorf("preparation failed: %w", err)
	}

	for _, name := range models.Splits {
		if st, ok := manifest.Splits[name]; ok {
			logger.Info("Split summary",
				"split", name,
				"records", st.Records,
				"examples", st.Examples,
				"skipped", st.Skipped,
				"batches", st.Batches)
		}
	}
	logger.Info(collector.GetMetricsSummary())
	logger.Info("All done", "session_dir", sessionMgr.GetSessionDir(), "run_id", manifest.RunID)
	return nil
}

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	logger := writer.NewConsoleLogger(cmd.ErrOrStderr(), logLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loaded, err := orchestrator.New(cfg, secrets, logger).Load(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	st := loaded.Stats
	fmt.Fprintf(out, "Corpus: %s\n", cfg.Corpus.DataPath)
	fmt.Fprintf(out, "  Rows read:         %d\n", st.RowsRead)
	fmt.Fprintf(out, "  Filtered (class):  %d\n", st.RowsFiltered)
	fmt.Fprintf(out, "  Dropped (content): %d\n", st.RowsCleaned)
	fmt.Fprintf(out, "  Kept:              %d\n", st.RowsKept)
	fmt.Fprintf(out, "  Label index size:  %d\n", st.Labels)
	fmt.Fprintln(out)

	counts := loaded.Corpus.LabelCounts()
	if len(counts) > 0 {
		fmt.Fprintln(out, "Labels:")
		for _, label := range sortedKeys(counts) {
			fmt.Fprintf(out, "  %-18s %d\n", label, counts[label])
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "Splits (%s):\n", cfg.Split.Strategy)
	for _, name := range models.Splits {
		fmt.Fprintf(out, "  %-18s %d\n", name, len(loaded.Splits[name]))
	}
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, secrets, err := loadConfig()
	if err != nil {
		return err
	}
	logger := writer.NewConsoleLogger(cmd.ErrOrStderr(), logLevel())

	var responder chat.Responder = chat.EchoResponder{}
	if cfg.Chat.Responder == "openai" {
		system, err := chat.RenderSystemPrompt(cfg.Chat.SystemPrompt, map[string]any{
			"ModelName":   cfg.Model.Name,
			"ModelFamily": cfg.Model.Family,
		})
		if err != nil {
			return fmt.Errorf("failed to render system prompt: %w", err)
		}
		responder = &chat.ClientResponder{
			Client: chat.NewClient(logger),
			Endpoint: chat.Endpoint{
				BaseURL:            cfg.Chat.BaseURL,
				ModelName:          cfg.Chat.ModelName,
				Temperature:        cfg.Chat.Temperature,
				TopP:               cfg.Chat.TopP,
				MaxOutputTokens:    cfg.Chat.MaxOutputTokens,
				RateLimitPerMinute: cfg.Chat.RateLimitPerMinute,
			},
			APIKey:       secrets.GetAPIKey(cfg.Chat.BaseURL),
			SystemPrompt: system,
		}
		logger.Debug("Using OpenAI-compatible responder", "base_url", cfg.Chat.BaseURL, "model", cfg.Chat.ModelName)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := chat.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), responder); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
