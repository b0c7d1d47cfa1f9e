package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/p-n-ai/pai-curriculum/internal/ai"
	"github.com/p-n-ai/pai-curriculum/internal/artifact"
	"github.com/p-n-ai/pai-curriculum/internal/chunk"
	"github.com/p-n-ai/pai-curriculum/internal/clustering"
	"github.com/p-n-ai/pai-curriculum/internal/graph"
	"github.com/p-n-ai/pai-curriculum/internal/notify"
	"github.com/p-n-ai/pai-curriculum/internal/pipeline"
	"github.com/p-n-ai/pai-curriculum/internal/platform/cache"
	"github.com/p-n-ai/pai-curriculum/internal/platform/config"
	"github.com/p-n-ai/pai-curriculum/internal/platform/database"
	"github.com/p-n-ai/pai-curriculum/internal/scoring"
	"github.com/p-n-ai/pai-curriculum/internal/sequence"
)

// app holds flag values and the configuration loaded before every command.
type app struct {
	configPath string
	content    string
	artifacts  string
	logLevel   string
	noModel    bool

	cfg      *config.Config
	notifier notify.Notifier
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "curriculum",
		Short: "Generate an ordered curriculum from a content store",
		Long: `curriculum turns a nested content store of theory, questions and tasks
into one ordered curriculum. Every phase writes a JSON artifact, so a failed
run can be resumed by rerunning the phase that failed.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML or TOML configuration file")
	flags.StringVar(&a.content, "content", "", "content store path (overrides config)")
	flags.StringVar(&a.artifacts, "artifacts", "", "artifact directory (overrides config)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	flags.BoolVar(&a.noModel, "no-model", false, "skip every model request and use the deterministic fallbacks")

	var from string
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run every phase in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout(), from)
		},
	}
	runCmd.Flags().StringVar(&from, "from", "", "first phase to run; earlier artifacts must exist")
	root.AddCommand(runCmd)

	for _, p := range pipeline.Phases {
		root.AddCommand(&cobra.Command{
			Use:   string(p),
			Short: fmt.Sprintf("Run the %s phase only", p),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.run(cmd.Context(), cmd.OutOrStdout(), "", p)
			},
		})
	}

	root.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and connectivity to providers, cache and database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.doctor(cmd.Context(), cmd.OutOrStdout())
		},
	})

	return root
}

// setup loads the configuration, applies flag overrides and installs the
// default logger.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.content != "" {
		cfg.Paths.ContentStore = a.content
	}
	if a.artifacts != "" {
		cfg.Paths.ArtifactDir = a.artifacts
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	slog.SetDefault(newLogger(cfg.Log, cmd.ErrOrStderr()))
	a.cfg = cfg

	if cfg.Notify.TelegramToken != "" {
		n, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID,
			notify.WithTelegramAPIURL(cfg.Notify.TelegramAPIURL))
		if err != nil {
			return err
		}
		a.notifier = n
	}
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// run executes phases. With only set, just those phases run; otherwise
// every phase from "from" onwards runs.
func (a *app) run(ctx context.Context, out io.Writer, from string, only ...pipeline.Phase) error {
	phases := only
	if len(phases) == 0 {
		start := 0
		if from != "" {
			p, ok := pipeline.ParsePhase(from)
			if !ok {
				return fmt.Errorf("unknown phase %q", from)
			}
			for i, q := range pipeline.Phases {
				if q == p {
					start = i
				}
			}
		}
		phases = pipeline.Phases[start:]
	}

	runner, closeAll, err := a.newRunner(ctx)
	if err != nil {
		return err
	}
	defer closeAll()

	var done []notify.PhaseLine
	err = func() error {
		for _, p := range phases {
			if err := ctx.Err(); err != nil {
				return err
			}
			st, err := runner.RunPhase(ctx, p)
			if err != nil {
				return err
			}
			done = append(done, notify.PhaseLine{Phase: string(p), Items: st.Items, Duration: st.Duration})
			fmt.Fprintf(out, "%-10s %6d items  %-8s %s\n", p, st.Items, st.Duration.Round(time.Millisecond), st.Output)
		}
		return nil
	}()

	if a.notifier != nil {
		// The run context may already be canceled; the report still goes out.
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		if nerr := a.notifier.Notify(nctx, notify.Report(runner.RunID(), done, err)); nerr != nil {
			slog.Warn("failed to send run report", "error", nerr)
		}
		cancel()
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "run %s complete\n", runner.RunID())
	return nil
}

// newRunner wires the model client, cache and event log the config enables.
// The returned func releases every connection that was opened.
func (a *app) newRunner(ctx context.Context) (*pipeline.Runner, func(), error) {
	cfg := a.cfg
	runID := uuid.NewString()
	opts := []pipeline.Option{pipeline.WithRunID(runID)}
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch {
	case a.noModel:
	case !cfg.HasAIProvider():
		slog.Warn("no AI provider configured, using deterministic clustering and ordering")
	default:
		router, err := newRouter(cfg.AI)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithClient(newClient(router, cfg.AI, runID)))
		slog.Info("AI providers configured", "providers", router.Names())
	}

	if cfg.Cache.Enabled {
		c, err := cache.New(ctx, cfg.Cache.URL, time.Duration(cfg.Cache.TTLHours)*time.Hour)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, func() { _ = c.Close() })
		opts = append(opts, pipeline.WithCache(c))
	}

	if cfg.Database.Enabled {
		db, err := database.New(ctx, cfg.Database.URL, cfg.Database.MaxConns, cfg.Database.MinConns)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		closers = append(closers, db.Close)
		if err := db.Migrate(ctx, pipeline.Schema...); err != nil {
			closeAll()
			return nil, nil, err
		}
		opts = append(opts, pipeline.WithEventLogger(pipeline.NewPostgresEventLogger(db.Pool)))
	}

	return pipeline.NewRunner(artifactPaths(cfg), pipelineConfig(cfg), opts...), closeAll, nil
}

func artifactPaths(cfg *config.Config) artifact.Paths {
	return artifact.Paths{
		Dir:          cfg.Paths.ArtifactDir,
		ContentStore: cfg.Paths.ContentStore,
		Output:       cfg.Paths.Output,
		Workbook:     cfg.Output.WorkbookPath,
	}
}

func pipelineConfig(cfg *config.Config) pipeline.Config {
	pc := pipeline.DefaultConfig()

	sc := cfg.Scoring
	pc.Scoring.Weights = scoring.Weights{Depth: sc.DepthWeight, Difficulty: sc.DifficultyWeight, Cohesion: sc.CohesionWeight}
	pc.Scoring.Difficulty = scoring.DifficultyWeights{
		Complexity: sc.ComplexityWeight,
		Difficulty: sc.DifficultyLabelWeight,
		Level:      sc.LevelWeight,
		Relevance:  sc.RelevanceWeight,
		Frequency:  sc.FrequencyWeight,
	}
	pc.Scoring.CohesionTarget = sc.CohesionTarget
	pc.Scoring.PathShare = sc.PathShare
	pc.Scoring.TechShare = sc.TechShare

	sim := cfg.Similarity
	pc.Similarity = graph.SimilarityConfig{
		Weights:      graph.SimilarityWeights{Path: sim.PathWeight, Tags: sim.TagWeight, Technology: sim.TechnologyWeight, Related: sim.RelatedWeight},
		Threshold:    sim.Threshold,
		MaxGroupSize: sim.MaxGroupSize,
		MaxEdges:     sim.MaxEdges,
	}

	pc.Chunking = chunk.Config{
		Strategy:      chunk.Strategy(cfg.Chunking.Strategy),
		TargetChunks:  cfg.Chunking.TargetChunks,
		PayloadTokens: cfg.Chunking.PayloadTokens,
		SafetyMargin:  cfg.Chunking.SafetyMargin,
		MaxChunks:     cfg.Chunking.MaxChunks,
	}
	pc.Clustering = clustering.Config{
		Parallelism: cfg.Clustering.Parallelism,
		MaxAttempts: cfg.Clustering.MaxAttempts,
		Strict:      cfg.Clustering.Strict,
	}
	pc.MaxPasses = cfg.Aggregation.MaxPasses
	pc.Sequencing = sequence.Config{
		Refine:    cfg.Sequencing.Refine,
		MinItems:  cfg.Sequencing.MinItems,
		MaxPasses: cfg.Aggregation.MaxPasses,
	}
	pc.Workbook = cfg.Output.Workbook
	return pc
}

// newRouter registers every configured provider. Registration order is the
// fallback order; per-task routes are tried first.
func newRouter(cfg config.AIConfig) (*ai.Router, error) {
	router := ai.NewRouter()

	if cfg.OpenAI.APIKey != "" {
		var opts []ai.OpenAIOption
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, ai.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		if cfg.OpenAI.Model != "" {
			opts = append(opts, ai.WithDefaultModel(cfg.OpenAI.Model))
		}
		router.Register("openai", ai.NewOpenAIProvider(cfg.OpenAI.APIKey, opts...))
	}
	if cfg.Anthropic.APIKey != "" {
		var opts []ai.AnthropicOption
		if cfg.Anthropic.BaseURL != "" {
			opts = append(opts, ai.WithAnthropicBaseURL(cfg.Anthropic.BaseURL))
		}
		if cfg.Anthropic.Model != "" {
			opts = append(opts, ai.WithAnthropicModel(cfg.Anthropic.Model))
		}
		p, err := ai.NewAnthropicProvider(cfg.Anthropic.APIKey, opts...)
		if err != nil {
			return nil, fmt.Errorf("anthropic provider: %w", err)
		}
		router.Register("anthropic", p)
	}
	if cfg.DeepSeek.APIKey != "" {
		router.Register("deepseek", ai.NewDeepSeekProvider(cfg.DeepSeek.APIKey, compatOptions(cfg.DeepSeek)...))
	}
	if cfg.Google.APIKey != "" {
		var opts []ai.GoogleOption
		if cfg.Google.BaseURL != "" {
			opts = append(opts, ai.WithGoogleBaseURL(cfg.Google.BaseURL))
		}
		if cfg.Google.Model != "" {
			opts = append(opts, ai.WithGoogleModel(cfg.Google.Model))
		}
		router.Register("google", ai.NewGoogleProvider(cfg.Google.APIKey, opts...))
	}
	if cfg.OpenRouter.APIKey != "" {
		router.Register("openrouter", ai.NewOpenRouterProvider(cfg.OpenRouter.APIKey, compatOptions(cfg.OpenRouter)...))
	}
	if cfg.Ollama.Enabled {
		var opts []ai.OpenAIOption
		if cfg.Ollama.Model != "" {
			opts = append(opts, ai.WithDefaultModel(cfg.Ollama.Model))
		}
		router.Register("ollama", ai.NewOllamaProvider(cfg.Ollama.URL, opts...))
	}

	if len(cfg.ClusteringProviders) > 0 {
		router.Route(ai.TaskClustering, cfg.ClusteringProviders...)
	}
	if len(cfg.SequencingProviders) > 0 {
		router.Route(ai.TaskSequencing, cfg.SequencingProviders...)
	}
	return router, nil
}

func compatOptions(p config.ProviderConfig) []ai.OpenAIOption {
	var opts []ai.OpenAIOption
	if p.BaseURL != "" {
		opts = append(opts, ai.WithBaseURL(p.BaseURL))
	}
	if p.Model != "" {
		opts = append(opts, ai.WithDefaultModel(p.Model))
	}
	return opts
}

func newClient(router *ai.Router, cfg config.AIConfig, runID string) *ai.Client {
	var opts []ai.ClientOption
	if cfg.TokenBudget > 0 {
		budget := ai.NewInMemoryBudget()
		budget.SetBudget(runID, cfg.TokenBudget)
		opts = append(opts, ai.WithBudget(budget, runID))
	}
	return ai.NewClient(router, ai.ClientConfig{
		Model:             cfg.Model,
		MaxTokens:         cfg.MaxTokens,
		Temperature:       cfg.Temperature,
		Timeout:           time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxAttempts:       cfg.MaxAttempts,
		InitialBackoff:    time.Duration(cfg.InitialBackoffMillis) * time.Millisecond,
		MaxBackoff:        time.Duration(cfg.MaxBackoffMillis) * time.Millisecond,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
	}, opts...)
}

// doctor reports the state of every configured dependency and fails if any
// of them is unhealthy.
func (a *app) doctor(ctx context.Context, out io.Writer) error {
	cfg := a.cfg
	var failed []error

	fmt.Fprintf(out, "content store: %s\n", cfg.Paths.ContentStore)
	fmt.Fprintf(out, "artifacts:     %s\n", cfg.Paths.ArtifactDir)

	router, err := newRouter(cfg.AI)
	if err != nil {
		return err
	}
	if !router.HasProvider() {
		fmt.Fprintln(out, "providers:     none (deterministic fallbacks)")
	}
	health := router.HealthChecks(ctx)
	for _, name := range router.Names() {
		if err := health[name]; err != nil {
			fmt.Fprintf(out, "provider %-10s FAIL %v\n", name, err)
			failed = append(failed, fmt.Errorf("provider %s: %w", name, err))
			continue
		}
		fmt.Fprintf(out, "provider %-10s ok\n", name)
	}

	if cfg.Cache.Enabled {
		failed = append(failed, check(out, "cache", func() error {
			c, err := cache.New(ctx, cfg.Cache.URL, time.Hour)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.HealthCheck(ctx)
		}))
	}
	if cfg.Database.Enabled {
		failed = append(failed, check(out, "database", func() error {
			db, err := database.New(ctx, cfg.Database.URL, 1, 0)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.HealthCheck(ctx)
		}))
	}

	return errors.Join(failed...)
}

func check(out io.Writer, name string, fn func() error) error {
	if err := fn(); err != nil {
		fmt.Fprintf(out, "%-18s FAIL %v\n", name, err)
		return fmt.Errorf("%s: %w", name, err)
	}
	fmt.Fprintf(out, "%-18s ok\n", name)
	return nil
}
