// Package app wires all Fabula subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems from config, Run serves the operational HTTP endpoints and the
// background enrichment worker, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithStoryStore, WithLLMProvider, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/fabula/internal/composer"
	"github.com/MrWong99/fabula/internal/config"
	"github.com/MrWong99/fabula/internal/health"
	"github.com/MrWong99/fabula/internal/resilience"
	"github.com/MrWong99/fabula/internal/retrieval"
	"github.com/MrWong99/fabula/internal/story"
	storypg "github.com/MrWong99/fabula/internal/story/postgres"
	"github.com/MrWong99/fabula/pkg/memory"
	"github.com/MrWong99/fabula/pkg/memory/memstore"
	memorypg "github.com/MrWong99/fabula/pkg/memory/postgres"
	"github.com/MrWong99/fabula/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/fabula/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/fabula/pkg/provider/embeddings/openai"
	"github.com/MrWong99/fabula/pkg/provider/llm"
	"github.com/MrWong99/fabula/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/fabula/pkg/provider/llm/openai"
)

// defaultEmbeddingDimensions matches OpenAI text-embedding-3-small and is
// used when storage.embedding_dimensions is unset.
const defaultEmbeddingDimensions = 1536

// enrichQueueSize bounds the backlog of chapters awaiting summarisation and
// indexing. When full, new chapters are dropped with a warning; they can be
// reindexed later.
const enrichQueueSize = 16

// enrichJob is one chapter handed to the background enrichment worker.
type enrichJob struct {
	projectID string
	chapter   story.Chapter
}

// App owns all subsystem lifetimes for the Fabula writing assistant.
type App struct {
	cfg *config.Config

	stories  story.Store
	vectors  memory.VectorStore
	llm      llm.Provider
	embedder embeddings.Provider
	indexer  *retrieval.Indexer
	composer *composer.Assembler

	enrichCh chan enrichJob

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStoryStore injects a story store instead of creating one from config.
func WithStoryStore(s story.Store) Option {
	return func(a *App) { a.stories = s }
}

// WithVectorStore injects a vector store instead of creating one from config.
func WithVectorStore(v memory.VectorStore) Option {
	return func(a *App) { a.vectors = v }
}

// WithLLMProvider injects an LLM provider instead of creating one from config.
func WithLLMProvider(p llm.Provider) Option {
	return func(a *App) { a.llm = p }
}

// WithEmbeddingsProvider injects an embeddings provider instead of creating
// one from config.
func WithEmbeddingsProvider(p embeddings.Provider) Option {
	return func(a *App) { a.embedder = p }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: storage connection, provider
// construction (with optional failover chains), indexer and composer
// assembly.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		enrichCh: make(chan enrichJob, enrichQueueSize),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(); err != nil {
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 3. Indexer ───────────────────────────────────────────────────────
	a.indexer = retrieval.NewIndexer(a.vectors, a.embedder, indexerConfig(cfg.Indexer))

	// ── 4. Composer ──────────────────────────────────────────────────────
	a.composer = composer.New(a.stories, a.vectors, a.embedder, a.llm, a.indexer,
		composerOptions(cfg.Composer)...)

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage sets up the story and vector stores or uses injected mocks.
func (a *App) initStorage(ctx context.Context) error {
	if a.stories != nil && a.vectors != nil {
		return nil // both injected
	}

	switch a.cfg.Storage.Backend {
	case config.BackendMemory, "":
		if a.stories == nil {
			a.stories = story.NewMemStore()
		}
		if a.vectors == nil {
			a.vectors = memstore.New()
		}
		return nil

	case config.BackendPostgres:
		dsn := a.cfg.Storage.PostgresDSN
		if a.stories == nil {
			st, err := storypg.NewStore(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect story store: %w", err)
			}
			a.stories = st
			a.closers = append(a.closers, func() error {
				st.Close()
				return nil
			})
		}
		if a.vectors == nil {
			dims := a.cfg.Storage.EmbeddingDimensions
			if dims <= 0 {
				dims = defaultEmbeddingDimensions
			}
			vs, err := memorypg.NewStore(ctx, dsn, dims)
			if err != nil {
				return fmt.Errorf("connect vector store: %w", err)
			}
			a.vectors = vs
			a.closers = append(a.closers, func() error {
				vs.Close()
				return nil
			})
		}
		return nil

	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

// initProviders constructs the LLM and embeddings providers from config,
// wrapping each in a failover chain when a fallback entry is present.
func (a *App) initProviders() error {
	if a.llm == nil && a.cfg.Providers.LLM.Name != "" {
		p, err := buildLLM(a.cfg.Providers.LLM)
		if err != nil {
			return fmt.Errorf("create llm provider %q: %w", a.cfg.Providers.LLM.Name, err)
		}
		if fb := a.cfg.Providers.LLM.Fallback; fb != nil {
			backup, err := buildLLM(*fb)
			if err != nil {
				return fmt.Errorf("create llm fallback %q: %w", fb.Name, err)
			}
			chain := resilience.NewLLMFallback(p, a.cfg.Providers.LLM.Name, resilience.BreakerConfig{Name: "llm"})
			chain.AddFallback(fb.Name, backup)
			p = chain
		}
		a.llm = p
		slog.Info("provider created", "kind", "llm", "name", a.cfg.Providers.LLM.Name)
	}

	if a.embedder == nil && a.cfg.Providers.Embeddings.Name != "" {
		p, err := buildEmbeddings(a.cfg.Providers.Embeddings)
		if err != nil {
			return fmt.Errorf("create embeddings provider %q: %w", a.cfg.Providers.Embeddings.Name, err)
		}
		if fb := a.cfg.Providers.Embeddings.Fallback; fb != nil {
			backup, err := buildEmbeddings(*fb)
			if err != nil {
				return fmt.Errorf("create embeddings fallback %q: %w", fb.Name, err)
			}
			chain := resilience.NewEmbeddingsFallback(p, a.cfg.Providers.Embeddings.Name, resilience.BreakerConfig{Name: "embeddings"})
			chain.AddFallback(fb.Name, backup)
			p = chain
		}
		a.embedder = p
		slog.Info("provider created", "kind", "embeddings", "name", a.cfg.Providers.Embeddings.Name)
	}

	if a.llm == nil {
		slog.Warn("no LLM provider configured; summaries and plot options are disabled")
	}
	if a.embedder == nil {
		slog.Warn("no embeddings provider configured; semantic retrieval is disabled")
	}
	return nil
}

// buildLLM constructs a single LLM backend from a provider entry. OpenAI uses
// the native SDK; everything else goes through the any-llm gateway.
func buildLLM(entry config.ProviderEntry) (llm.Provider, error) {
	switch entry.Name {
	case "openai":
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	default:
		var opts []anyllmlib.Option
		if entry.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
		}
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New(entry.Name, entry.Model, opts...)
	}
}

// buildEmbeddings constructs a single embeddings backend from a provider entry.
func buildEmbeddings(entry config.ProviderEntry) (embeddings.Provider, error) {
	switch entry.Name {
	case "ollama":
		return ollamaembed.New(entry.BaseURL, entry.Model)
	case "openai":
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", entry.Name)
	}
}

// indexerConfig converts config values into a retrieval.IndexerConfig,
// leaving zero values for the retrieval package defaults to fill in.
func indexerConfig(ic config.IndexerConfig) retrieval.IndexerConfig {
	return retrieval.IndexerConfig{
		Chunk: retrieval.ChunkOptions{
			MaxLength: ic.ChunkSize,
			Overlap:   ic.ChunkOverlap,
			MinLength: ic.MinChunkLength,
		},
		EmbedDelay: time.Duration(ic.EmbedDelayMS) * time.Millisecond,
	}
}

// composerOptions converts the non-zero config values into composer options.
func composerOptions(cc config.ComposerConfig) []composer.Option {
	var opts []composer.Option
	if cc.RecentChapterCount > 0 {
		opts = append(opts, composer.WithRecentChapterCount(cc.RecentChapterCount))
	}
	if cc.RetrievalCount > 0 {
		opts = append(opts, composer.WithRetrievalCount(cc.RetrievalCount))
	}
	if cc.RetrievalThreshold > 0 {
		opts = append(opts, composer.WithRetrievalThreshold(cc.RetrievalThreshold))
	}
	if cc.ParseRetries > 0 {
		opts = append(opts, composer.WithParseRetries(cc.ParseRetries))
	}
	if cc.WritingMode != "" {
		opts = append(opts, composer.WithDefaultMode(composer.WritingMode(cc.WritingMode)))
	}
	return opts
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Composer returns the prompt assembler.
func (a *App) Composer() *composer.Assembler { return a.composer }

// Stories returns the story store.
func (a *App) Stories() story.Store { return a.stories }

// Indexer returns the chapter indexer.
func (a *App) Indexer() *retrieval.Indexer { return a.indexer }

// ─── Composite deletes ───────────────────────────────────────────────────────

// DeleteChapter removes a chapter together with all of its embedding records,
// so no orphaned vectors survive the story row. The story row goes first; if
// that fails the vectors are left untouched.
func (a *App) DeleteChapter(ctx context.Context, chapterID string) error {
	if err := a.stories.DeleteChapter(ctx, chapterID); err != nil {
		return fmt.Errorf("delete chapter: %w", err)
	}
	if err := a.indexer.RemoveChapter(ctx, chapterID); err != nil {
		return fmt.Errorf("delete chapter %s: remove embeddings: %w", chapterID, err)
	}
	return nil
}

// DeleteProject removes a project, its characters and chapters (store-level
// cascade), and all of the project's embedding records.
func (a *App) DeleteProject(ctx context.Context, projectID string) error {
	if err := a.stories.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if err := a.indexer.RemoveProject(ctx, projectID); err != nil {
		return fmt.Errorf("delete project %s: remove embeddings: %w", projectID, err)
	}
	return nil
}

// ─── Enrichment worker ───────────────────────────────────────────────────────

// NotifyChapterWritten queues a freshly written chapter for background
// summarisation and indexing. It never blocks: when the queue is full the
// chapter is skipped with a warning and can be reindexed later.
func (a *App) NotifyChapterWritten(projectID string, ch story.Chapter) {
	select {
	case a.enrichCh <- enrichJob{projectID: projectID, chapter: ch}:
	default:
		slog.Warn("enrichment queue full, skipping chapter",
			"project_id", projectID, "chapter_id", ch.ID)
	}
}

// enrichJobTimeout bounds one enrichment job (summarise + index).
const enrichJobTimeout = 2 * time.Minute

// runEnrichment drains the enrichment queue until ctx is cancelled. Each job
// runs under a context detached from the worker's cancellation, so a shutdown
// signal lets the in-flight chapter finish instead of leaving it half-indexed;
// [enrichJobTimeout] keeps a stuck job from holding the process forever.
func (a *App) runEnrichment(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case job := <-a.enrichCh:
			jobCtx, cancel := jobContext(ctx)
			a.composer.ProcessNewChapter(jobCtx, job.projectID, job.chapter)
			cancel()
		}
	}
}

// jobContext derives the context a single enrichment job runs under:
// detached from the worker's cancellation, bounded by [enrichJobTimeout].
func jobContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), enrichJobTimeout)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the background enrichment worker and, when a listen address is
// configured, the operational HTTP server (/metrics, /healthz, /readyz).
// It blocks until ctx is cancelled and returns context.Canceled.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.runEnrichment(ctx) })

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: a.operationalMux()}

		g.Go(func() error {
			slog.Info("operational server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: operational server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	slog.Info("app running")
	return g.Wait()
}

// operationalMux builds the routes for the metrics and health endpoints.
func (a *App) operationalMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	checks := []health.Check{
		{Name: "story-store", Probe: func(ctx context.Context) error {
			_, err := a.stories.ListProjects(ctx)
			return err
		}},
		{Name: "vector-store", Probe: func(ctx context.Context) error {
			_, err := a.vectors.CountByProject(ctx, "readiness-probe")
			return err
		}},
	}
	health.New(checks...).Register(mux)
	return mux
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
