package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/agent/routing"
	"github.com/haasonsaas/nexus/internal/artifacts"
	"github.com/haasonsaas/nexus/internal/browserkernel"
	"github.com/haasonsaas/nexus/internal/cache"
	"github.com/haasonsaas/nexus/internal/cache/l1"
	"github.com/haasonsaas/nexus/internal/cache/l2"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/infra"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/providers/venice"
	"github.com/haasonsaas/nexus/internal/sessions"
	"github.com/haasonsaas/nexus/internal/stream"
	"github.com/haasonsaas/nexus/internal/tools/browser"
	"github.com/haasonsaas/nexus/internal/tools/websearch"
	"github.com/haasonsaas/nexus/pkg/models"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}

// buildCacheService wires the tiered extraction cache from config: an L1
// in-memory LRU, optionally backed by Redis for cross-process sharing, and
// an L2 durable tier chosen between the HTTP client and SQL adapters.
func buildCacheService(cfg *config.Config) (*cache.Service, func(context.Context) error, error) {
	l1Cfg := l1.Config{
		MaxItems: cfg.Cache.L1MaxItems,
		MaxBytes: cfg.Cache.L1MaxBytes,
	}
	if cfg.Cache.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Cache.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse redis url: %w", err)
		}
		l1Cfg.Remote = redis.NewClient(opts)
		l1Cfg.RemoteKeyPrefix = "nexus:cache:"
	}
	l1Store := l1.New(l1Cfg)

	var l2Store l2.Store
	var closeFn func(context.Context) error
	switch cfg.Cache.L2Backend {
	case "", "none":
		// L1-only deployment.
	case "http":
		timeout := cfg.Cache.L2Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		l2Store = l2.NewHTTPStore(cfg.Cache.L2URL, timeout)
	case "sql":
		store, err := l2.NewSQLStoreFromDSN(cfg.Cache.L2URL, l2.DefaultSQLConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("open sql cache store: %w", err)
		}
		l2Store = store
	default:
		return nil, nil, fmt.Errorf("unknown cache l2_backend %q", cfg.Cache.L2Backend)
	}

	return cache.New(l1Store, l2Store), closeFn, nil
}

// buildKernel starts the Browser Session Kernel from config. Returns a nil
// kernel (not an error) when browser automation is disabled, so callers
// can register only the non-browser tools.
func buildKernel(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*browserkernel.Kernel, error) {
	if !cfg.Tools.Browser.Enabled {
		return nil, nil
	}
	return browserkernel.NewKernel(ctx, browserkernel.Config{
		Headless:           cfg.Tools.Browser.Headless,
		RemoteURL:          cfg.Tools.Browser.URL,
		ViewportWidth:      cfg.Tools.Browser.ViewportWidth,
		ViewportHeight:     cfg.Tools.Browser.ViewportHeight,
		NavTimeout:         cfg.Tools.Browser.NavTimeout,
		HealthProbeTimeout: cfg.Tools.Browser.HealthProbeTimeout,
		MaxBackgroundTabs:  cfg.Tools.Browser.MaxBackgroundTabs,
		ProfileDir:         cfg.Tools.Browser.ProfileDir,
		EphemeralDir:       cfg.Tools.Browser.EphemeralDir,
		PersistInterval:    cfg.Tools.Browser.PersistInterval,
		Logger:             logger.Slog(),
	})
}

// buildArtifactRepository wires the Store the Browser Session Kernel's
// screenshot tool persists through: S3 when an artifact bucket is
// configured (the durable mirror the Domain Stack calls for), otherwise a
// local-disk store rooted under the kernel's profile directory. Returns a
// nil repository (not an error) when browser automation is disabled.
func buildArtifactRepository(ctx context.Context, cfg *config.Config, logger *observability.Logger) (artifacts.Repository, error) {
	if !cfg.Tools.Browser.Enabled {
		return nil, nil
	}

	var store artifacts.Store
	if cfg.Tools.Browser.ArtifactBucket != "" {
		s3Store, err := artifacts.NewS3Store(ctx, &artifacts.S3StoreConfig{
			Bucket:   cfg.Tools.Browser.ArtifactBucket,
			Region:   cfg.Tools.Browser.ArtifactRegion,
			Endpoint: cfg.Tools.Browser.ArtifactEndpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("build s3 artifact store: %w", err)
		}
		store = s3Store
	} else {
		dir := cfg.Tools.Browser.ProfileDir
		if dir == "" {
			dir = os.TempDir()
		}
		localStore, err := artifacts.NewLocalStore(filepath.Join(dir, "artifacts"))
		if err != nil {
			return nil, fmt.Errorf("build local artifact store: %w", err)
		}
		store = localStore
	}

	return artifacts.NewMemoryRepository(store, logger.Slog()), nil
}

// attachTracePlugin registers a TracePlugin on loop that records every run's
// AgentEvent stream as JSONL when logging.trace_file is configured. Returns a
// no-op close func when tracing is disabled.
func attachTracePlugin(loop *agent.AgenticLoop, cfg *config.Config) (func() error, error) {
	if cfg.Logging.TraceFile == "" {
		return func() error { return nil }, nil
	}

	tracer, err := agent.NewTracePluginFile(cfg.Logging.TraceFile, "nexus", agent.WithAppVersion(version))
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	loop.UsePlugin(tracer)
	return tracer.Close, nil
}

// buildToolRegistry assembles the full tool catalog: web search/fetch
// always register, browser tools register only when a kernel was started.
func buildToolRegistry(cfg *config.Config, kernel *browserkernel.Kernel, cacheSvc *cache.Service, artifactRepo artifacts.Repository) *agent.ToolRegistry {
	registry := agent.NewToolRegistry()

	if cfg.Tools.WebSearch.Enabled {
		registry.Register(websearch.NewWebSearchTool(&websearch.Config{
			SearXNGURL:         cfg.Tools.WebSearch.URL,
			DefaultBackend:     websearch.SearchBackend(cfg.Tools.WebSearch.Provider),
			ExtractContent:     true,
			DefaultResultCount: 5,
		}))
	}
	registry.Register(websearch.NewWebFetchTool(nil))
	registry.Register(agent.NewFinalAnswerTool())

	if kernel != nil {
		browser.RegisterAll(registry, kernel, cacheSvc, artifactRepo)
	}

	return registry
}

// buildSingleProvider constructs the named LLM provider from its config
// entry. Shared by buildProvider's direct path and its fallback-chain path.
func buildSingleProvider(cfg *config.Config, name string) (agent.LLMProvider, error) {
	providerCfg, ok := cfg.LLM.Providers[name]
	if !ok {
		return nil, fmt.Errorf("no llm provider configured for %q", name)
	}

	switch name {
	case "anthropic":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:  providerCfg.APIKey,
			BaseURL: providerCfg.BaseURL,
		})
	case "openai":
		return providers.NewOpenAIProvider(providerCfg.APIKey), nil
	case "google":
		return providers.NewGoogleProvider(providers.GoogleConfig{
			APIKey: providerCfg.APIKey,
		})
	case "azure":
		return providers.NewAzureOpenAIProvider(providers.AzureOpenAIConfig{
			Endpoint:     providerCfg.BaseURL,
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:       providerCfg.BaseURL,
			AccessKeyID:  providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
	case "copilot_proxy":
		return providers.NewCopilotProxyProvider(providers.CopilotProxyConfig{
			BaseURL: providerCfg.BaseURL,
		})
	case "ollama":
		return providers.NewOllamaProvider(providers.OllamaConfig{
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		}), nil
	case "openrouter":
		return providers.NewOpenRouterProvider(providers.OpenRouterConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
	case "venice":
		return venice.NewVeniceProvider(venice.VeniceConfig{
			APIKey:       providerCfg.APIKey,
			DefaultModel: providerCfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
}

// buildProvider resolves the agent's LLM provider from config. When
// llm.fallback_chain names additional providers, the default and every
// chain entry are constructed and wrapped in a routing.Router, which
// tries the default first and falls through the chain on a failed
// completion (see internal/agent/routing).
// buildProvider resolves the agent's LLM provider chain from config and
// wraps it in a FailoverOrchestrator: every completion request gets
// per-attempt retry with backoff and a per-provider circuit breaker, on top
// of whatever cross-request provider selection the chain below it does.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	chain, err := buildProviderChain(cfg)
	if err != nil {
		return nil, err
	}
	return agent.NewFailoverOrchestrator(chain, agent.DefaultFailoverConfig()), nil
}

// buildProviderChain resolves the default provider, or a routing.Router
// across the default and llm.fallback_chain entries when one is configured.
func buildProviderChain(cfg *config.Config) (agent.LLMProvider, error) {
	name := cfg.LLM.DefaultProvider
	if name == "" {
		name = "anthropic"
	}

	if len(cfg.LLM.FallbackChain) == 0 {
		return buildSingleProvider(cfg, name)
	}

	built := make(map[string]agent.LLMProvider, 1+len(cfg.LLM.FallbackChain))
	provider, err := buildSingleProvider(cfg, name)
	if err != nil {
		return nil, err
	}
	built[name] = provider

	for _, fallbackName := range cfg.LLM.FallbackChain {
		if _, ok := built[fallbackName]; ok {
			continue
		}
		fallbackProvider, err := buildSingleProvider(cfg, fallbackName)
		if err != nil {
			return nil, fmt.Errorf("build fallback provider %q: %w", fallbackName, err)
		}
		built[fallbackName] = fallbackProvider
	}

	fallbackTarget := routing.Target{}
	if len(cfg.LLM.FallbackChain) > 0 {
		fallbackTarget.Provider = cfg.LLM.FallbackChain[0]
	}

	return routing.NewRouter(routing.Config{
		DefaultProvider: name,
		Fallback:        fallbackTarget,
		FailureCooldown: 30 * time.Second,
	}, built), nil
}

func buildServeCmd(configPath *string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent gateway, serving health, cache status, and the streaming agent endpoint",
		Example: `  nexus serve --addr :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			cacheService, closeCache, err := buildCacheService(cfg)
			if err != nil {
				return fmt.Errorf("build cache: %w", err)
			}

			kernel, err := buildKernel(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("build browser kernel: %w", err)
			}

			artifactRepo, err := buildArtifactRepository(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("build artifact repository: %w", err)
			}

			provider, err := buildProvider(cfg)
			if err != nil {
				return fmt.Errorf("build provider: %w", err)
			}
			registry := buildToolRegistry(cfg, kernel, cacheService, artifactRepo)
			sessionStore := sessions.NewMemoryStore()
			loop := agent.NewAgenticLoop(provider, registry, sessionStore, agent.DefaultLoopConfig())
			closeTracer, err := attachTracePlugin(loop, cfg)
			if err != nil {
				return fmt.Errorf("attach trace plugin: %w", err)
			}
			streamHandler := stream.NewHandler(loop, sessionStore, logger.Slog())

			coordinator := infra.NewShutdownCoordinator(30*time.Second, nil)
			if closeCache != nil {
				coordinator.RegisterConnection("cache-l2", closeCache)
			}
			if kernel != nil {
				coordinator.RegisterConnection("browser-kernel", func(context.Context) error {
					return kernel.Close()
				})
			}
			coordinator.RegisterConnection("trace-file", func(context.Context) error {
				return closeTracer()
			})

			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			mux.HandleFunc("/cache/stats", func(w http.ResponseWriter, r *http.Request) {
				stats, err := cacheService.Stats(r.Context())
				if err != nil {
					http.Error(w, err.Error(), http.StatusInternalServerError)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(stats) //nolint:errcheck
			})
			mux.Handle("/stream", streamHandler)

			srv := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			coordinator.RegisterService("http-server", func(ctx context.Context) error {
				return srv.Shutdown(ctx)
			})

			logger.Info(ctx, "starting gateway", "addr", addr)
			done := coordinator.OnSignal()

			errCh := make(chan error, 1)
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- err
				}
			}()

			select {
			case <-done:
				logger.Info(ctx, "gateway stopped")
				return nil
			case err := <-errCh:
				return fmt.Errorf("http server: %w", err)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address for health and cache endpoints")
	return cmd
}

func buildRunTaskCmd(configPath *string) *cobra.Command {
	var prompt string
	var maxIterations int

	cmd := &cobra.Command{
		Use:     "run-task",
		Short:   "Run a single agentic task to completion and print the transcript",
		Example: `  nexus run-task --prompt "find the current weather in Tokyo"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("--prompt is required")
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx := cmd.Context()

			provider, err := buildProvider(cfg)
			if err != nil {
				return err
			}

			cacheService, closeCache, err := buildCacheService(cfg)
			if err != nil {
				return fmt.Errorf("build cache: %w", err)
			}
			if closeCache != nil {
				defer closeCache(ctx) //nolint:errcheck
			}

			kernel, err := buildKernel(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("build browser kernel: %w", err)
			}
			if kernel != nil {
				defer kernel.Close() //nolint:errcheck
			}

			artifactRepo, err := buildArtifactRepository(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("build artifact repository: %w", err)
			}

			registry := buildToolRegistry(cfg, kernel, cacheService, artifactRepo)
			store := sessions.NewMemoryStore()

			loop := agent.NewAgenticLoop(provider, registry, store, &agent.LoopConfig{
				MaxIterations: maxIterations,
				MaxTokens:     4096,
			})
			closeTracer, err := attachTracePlugin(loop, cfg)
			if err != nil {
				return fmt.Errorf("attach trace plugin: %w", err)
			}
			defer closeTracer() //nolint:errcheck

			session, err := store.GetOrCreate(ctx, uuid.NewString(), "cli", models.ChannelType("cli"), "run-task")
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}

			msg := &models.Message{
				ID:        uuid.NewString(),
				SessionID: session.ID,
				Channel:   models.ChannelType("cli"),
				Direction: models.DirectionInbound,
				Role:      models.RoleUser,
				Content:   prompt,
				CreatedAt: time.Now(),
			}

			chunks, err := loop.Run(ctx, session, msg)
			if err != nil {
				return fmt.Errorf("run task: %w", err)
			}

			for chunk := range chunks {
				if chunk.Error != nil {
					logger.Error(ctx, "task step failed", "error", chunk.Error)
					continue
				}
				if chunk.Text != "" {
					fmt.Print(chunk.Text)
				}
				if chunk.ToolEvent != nil {
					logger.Info(ctx, "tool event", "tool", chunk.ToolEvent.ToolName, "stage", chunk.ToolEvent.Stage)
				}
			}
			fmt.Println()
			return nil
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "task prompt for the agent")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 10, "maximum tool-use iterations before forcing a final answer")
	return cmd
}

func buildCacheCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect the tiered extraction cache",
	}
	cmd.AddCommand(buildCacheStatsCmd(configPath))
	return cmd
}

func buildCacheStatsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print L1/L2 occupancy and hit-rate statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			svc, _, err := buildCacheService(cfg)
			if err != nil {
				return err
			}
			stats, err := svc.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch cache stats: %w", err)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(stats)
		},
	}
}
