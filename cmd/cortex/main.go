// Command cortex runs the Cortex memory substrate: the resilience-wrapped
// store, the graph-sync worker, and the governance/GDPR cascade, plus
// ad-hoc remember/recall commands for manual inspection, selectable by
// subcommand.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/cortexmem/cortex"
	"github.com/cortexmem/cortex/envelope"
	"github.com/cortexmem/cortex/internal/config"
	"github.com/cortexmem/cortex/observer"
	"github.com/cortexmem/cortex/provider/gemini"
	"github.com/cortexmem/cortex/store/postgres"
	"github.com/cortexmem/cortex/store/sqlite"
)

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:   "cortex",
		Short: "Cortex memory substrate for AI agents",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to cortex.toml (default cortex.toml)")

	root.AddCommand(
		serveCmd(&cfgPath),
		gdprPurgeCmd(&cfgPath),
		enforceRetentionCmd(&cfgPath),
		rememberCmd(&cfgPath),
		recallCmd(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// serveCmd runs the graph-sync worker against the configured store until
// interrupted. It is the long-running process; request handling against the
// resulting Client is left to the embedding application.
func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the graph-sync worker against the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := config.Load(*cfgPath)
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			rt, closeRT, err := newRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeRT()

			if rt.graph == nil {
				logger.Warn("no graph adapter configured; graph-sync worker idle")
				<-ctx.Done()
				return nil
			}

			worker := cortex.NewGraphSyncWorker(rt.store, rt.graph, cortex.WithWorkerTracer(rt.tracer))
			logger.Info("graph-sync worker starting")
			return worker.Run(ctx)
		},
	}
}

func gdprPurgeCmd(cfgPath *string) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "gdpr-purge",
		Short: "Run (or resume) a GDPR deletion cascade for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			cfg := config.Load(*cfgPath)
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			rt, closeRT, err := newRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeRT()

			govOpts := []cortex.GovernanceOption{cortex.WithGovernanceTracer(rt.tracer)}
			if rt.graph != nil {
				govOpts = append(govOpts, cortex.WithGovernanceGraphAdapter(rt.graph))
			}
			gov := cortex.NewGovernance(rt.store, govOpts...)
			if err := gov.RequestGDPRDeletion(cmd.Context(), userID); err != nil {
				return err
			}
			logger.Info("gdpr deletion cascade complete", "user", userID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to purge")
	return cmd
}

func enforceRetentionCmd(cfgPath *string) *cobra.Command {
	var typ string
	var maxVersions int
	var maxAgeDays int
	cmd := &cobra.Command{
		Use:   "enforce-retention",
		Short: "Run one retention-policy enforcement pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*cfgPath)
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			rt, closeRT, err := newRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeRT()

			if maxVersions == 0 {
				maxVersions = cfg.Retention.MaxVersions
			}
			if maxAgeDays == 0 {
				maxAgeDays = cfg.Retention.MaxAgeDays
			}
			policy := cortex.RetentionPolicy{
				PolicyID:            "cli-enforce-retention",
				MaxVersions:         maxVersions,
				MaxAgeMs:            int64(maxAgeDays) * 24 * 60 * 60 * 1000,
				ArchiveBeforeDelete: cfg.Retention.ArchiveBeforeDelete,
			}
			gov := cortex.NewGovernance(rt.store, cortex.WithGovernanceTracer(rt.tracer))
			result, err := gov.EnforceRetention(cmd.Context(), policy, typ)
			if err != nil {
				return err
			}
			logger.Info("retention enforcement complete",
				"type", typ, "versionsDeleted", result.VersionsDeleted, "recordsPurged", result.RecordsPurged)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", "memories", "record type to enforce retention on")
	cmd.Flags().IntVar(&maxVersions, "max-versions", 0, "override configured max versions kept")
	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "override configured max age in days")
	return cmd
}

func rememberCmd(cfgPath *string) *cobra.Command {
	var memorySpaceID, conversationID, userID, userMsg, agentMsg string
	var extractFacts bool
	cmd := &cobra.Command{
		Use:   "remember",
		Short: "Store one user/agent exchange through the full write path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*cfgPath)
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			rt, closeRT, err := newRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeRT()

			client := rt.newClient()
			res, err := client.Remember(cmd.Context(), cortex.RememberRequest{
				MemorySpaceID:  memorySpaceID,
				ConversationID: conversationID,
				UserID:         userID,
				UserMessage:    userMsg,
				AgentResponse:  agentMsg,
				ExtractFacts:   extractFacts,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&memorySpaceID, "space", "", "memory space id")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id")
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&userMsg, "user-message", "", "user message text")
	cmd.Flags().StringVar(&agentMsg, "agent-response", "", "agent response text")
	cmd.Flags().BoolVar(&extractFacts, "extract-facts", false, "run fact extraction and belief revision")
	return cmd
}

func recallCmd(cfgPath *string) *cobra.Command {
	var memorySpaceID, query string
	var topK int
	cmd := &cobra.Command{
		Use:   "recall",
		Short: "Fan out a recall query across vector, facts, and graph sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load(*cfgPath)
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			rt, closeRT, err := newRuntime(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer closeRT()

			client := rt.newClient()
			res, err := client.Recall(cmd.Context(), cortex.RecallRequest{
				MemorySpaceID: memorySpaceID,
				Query:         query,
				TopK:          topK,
			})
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
	cmd.Flags().StringVar(&memorySpaceID, "space", "", "memory space id")
	cmd.Flags().StringVar(&query, "query", "", "recall query text")
	cmd.Flags().IntVar(&topK, "top-k", 10, "maximum results to return")
	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runtime bundles the constructed dependencies shared by every subcommand.
type runtime struct {
	store     cortex.Store
	tracer    cortex.Tracer
	graph     cortex.GraphAdapter
	embedding cortex.EmbeddingProvider
	llm       cortex.LLMProvider
	cfg       config.Config
}

func (rt *runtime) newClient() *cortex.Client {
	opts := []cortex.Option{
		cortex.WithStore(rt.store),
		cortex.WithTracer(rt.tracer),
		cortex.WithSemanticMatchThreshold(rt.cfg.Recall.SimilarityThreshold),
		cortex.WithMaxCASAttempts(rt.cfg.Recall.MaxCASAttempts),
		cortex.WithRecallWeights(recallWeights(rt.cfg)),
	}
	if rt.embedding != nil {
		opts = append(opts, cortex.WithEmbedding(rt.embedding))
	}
	if rt.llm != nil {
		opts = append(opts, cortex.WithLLM(rt.llm))
	}
	if rt.graph != nil {
		opts = append(opts, cortex.WithGraphAdapter(rt.graph))
	}
	return cortex.New(opts...)
}

func recallWeights(cfg config.Config) cortex.RankWeights {
	w := cortex.DefaultRankWeights
	w.Similarity = cfg.Recall.SimilarityWeight
	w.Recency = cfg.Recall.RecencyWeight
	w.Importance = cfg.Recall.ImportanceWeight
	w.Confidence = cfg.Recall.ConfidenceWeight
	if cfg.Recall.AccessWeight > 0 {
		w.Access = cfg.Recall.AccessWeight
	}
	return w
}

func newRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger) (*runtime, func(), error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	env := envelope.New(
		envelope.WithSemaphore(envelope.NewSemaphore(cfg.Envelope.SemaphoreCeiling, 0)),
		envelope.WithTokenBucket(envelope.NewTokenBucket(cfg.Envelope.TokensPerSecond, cfg.Envelope.MaxBurst, 0)),
		envelope.WithCircuitBreaker(envelope.NewCircuitBreaker(
			envelope.WithFailureThreshold(cfg.Envelope.FailureThreshold),
			envelope.WithSuccessThreshold(cfg.Envelope.SuccessThreshold),
			envelope.WithHalfOpenMax(cfg.Envelope.HalfOpenMax),
			envelope.WithTimeout(time.Duration(cfg.Envelope.BreakerTimeoutMs)*time.Millisecond),
		)),
		envelope.WithLogger(logger),
	)
	wrapped := envelope.WrapStore(store, env)

	var tracer cortex.Tracer = cortex.NoopTracer{}
	var obsShutdown func(context.Context) error
	if cfg.Observer.Enabled {
		if cfg.Observer.OTLPEndpoint != "" {
			os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.Observer.OTLPEndpoint)
		}
		_, shutdown, err := observer.Init(ctx, cfg.Observer.ServiceName)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("observer init: %w", err)
		}
		tracer = observer.NewTracer()
		obsShutdown = shutdown
	}

	closeAll := func() {
		if obsShutdown != nil {
			_ = obsShutdown(context.Background())
		}
		closeStore()
	}

	return &runtime{
		store:     wrapped,
		tracer:    tracer,
		embedding: newEmbeddingProvider(cfg),
		llm:       newLLMProvider(cfg),
		cfg:       cfg,
	}, closeAll, nil
}

func openStore(ctx context.Context, cfg config.Config) (cortex.Store, func(), error) {
	switch cfg.Backend.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Backend.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		s := postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Backend.VectorDim))
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("init postgres schema: %w", err)
		}
		return s, pool.Close, nil

	case "sqlite", "":
		s := sqlite.New(cfg.Backend.SQLitePath)
		if err := s.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("init sqlite schema: %w", err)
		}
		return s, func() { _ = s.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend driver %q", cfg.Backend.Driver)
	}
}

// newEmbeddingProvider builds the configured embedding provider. Returns nil
// when no API key is set, leaving embedding generation to the caller.
func newEmbeddingProvider(cfg config.Config) cortex.EmbeddingProvider {
	if cfg.Embedding.APIKey == "" {
		return nil
	}
	switch cfg.Embedding.Provider {
	case "gemini", "":
		return gemini.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	default:
		return nil
	}
}

// newLLMProvider builds the configured LLM provider. Returns nil when no API
// key is set, in which case fact extraction and Stage-3 adjudication are
// skipped.
func newLLMProvider(cfg config.Config) cortex.LLMProvider {
	if cfg.LLM.APIKey == "" {
		return nil
	}
	switch cfg.LLM.Provider {
	case "gemini", "":
		return gemini.New(cfg.LLM.APIKey, cfg.LLM.Model)
	default:
		return nil
	}
}
