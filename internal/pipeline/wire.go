package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danielpatrickdp/companion-pipeline/internal/artifact"
	"github.com/danielpatrickdp/companion-pipeline/internal/config"
	"github.com/danielpatrickdp/companion-pipeline/internal/llm"
	"github.com/danielpatrickdp/companion-pipeline/internal/memextract"
	"github.com/danielpatrickdp/companion-pipeline/internal/modelcall"
	"github.com/danielpatrickdp/companion-pipeline/internal/plan"
	"github.com/danielpatrickdp/companion-pipeline/internal/prompt"
	"github.com/danielpatrickdp/companion-pipeline/internal/provider"
	"github.com/danielpatrickdp/companion-pipeline/internal/rank"
	"github.com/danielpatrickdp/companion-pipeline/internal/runctx"
	"github.com/danielpatrickdp/companion-pipeline/internal/search"
	"github.com/danielpatrickdp/companion-pipeline/internal/sideeffect"
	"github.com/danielpatrickdp/companion-pipeline/internal/store"
	"github.com/danielpatrickdp/companion-pipeline/internal/vault"
)

// #region components

// Components are the long-lived collaborators built from configuration.
type Components struct {
	Config    config.Config
	DB        *store.DB
	LLM       llm.Client
	Embedder  search.Embedder
	Searcher  search.Searcher
	Planner   *plan.Planner
	Artifacts *artifact.Store
	Vault     *vault.Store
	Pipeline  *Pipeline
	closers   []func() error
}

// Close releases connections in reverse order of creation.
func (c *Components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// Build wires every stage from cfg. The caller owns the returned Components
// and must Close them.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	db, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	c.DB = db
	c.closers = append(c.closers, db.Close)

	if c.Vault, err = OpenVault(cfg, db); err != nil {
		return nil, err
	}
	c.Artifacts = artifact.NewStore(db, artifact.Retention{Debug: cfg.Artifacts.DebugTTL, Prod: cfg.Artifacts.ProdTTL})

	if c.LLM, err = NewLLMClient(ctx, cfg); err != nil {
		return nil, err
	}
	if c.Embedder, err = NewEmbedder(ctx, cfg); err != nil {
		return nil, err
	}
	switch cfg.Search.Backend {
	case "grpc":
		gc, err := search.NewGRPCClient(cfg.Search.Addr)
		if err != nil {
			return nil, err
		}
		c.Searcher = gc
		c.closers = append(c.closers, gc.Close)
	default:
		c.Searcher = search.NewLocal(db, c.Embedder)
	}

	c.Planner = newPlanner(cfg, c.LLM)
	c.Pipeline = New(Deps{
		Planner:   c.Planner,
		Providers: provider.Default(provider.Deps{Artifacts: db, Reading: db, Searcher: c.Searcher}, provider.Options{
			Timeout:           cfg.Pipeline.ProviderTimeout,
			SessionStartLimit: cfg.Pipeline.SessionStartLimit,
			MemoryFloor:       cfg.Pipeline.MemoryStrengthFloor,
			TopK:              cfg.Search.TopK,
		}),
		Ranker: rank.NewRanker(rank.Config{
			TokenBudget:       cfg.Pipeline.TokenBudget,
			SemanticThreshold: cfg.Pipeline.SemanticThreshold,
			DurableMemory:     cfg.Features.DurableMemory,
		}, logger),
		Assembler: prompt.NewAssembler(prompt.Options{
			Model:           cfg.LLM.Model,
			Temperature:     cfg.LLM.Temperature,
			MaxOutputTokens: cfg.LLM.MaxOutputTokens,
			HistoryTurns:    cfg.Pipeline.HistoryTurns,
		}),
		Executor:  modelcall.NewExecutor(c.LLM, nil, modelcall.Options{ToolCalling: cfg.Features.ToolCalling}),
		Extractor: newExtractor(cfg, c.LLM, db),
		Artifacts: c.Artifacts,
		Vault:     c.Vault,
		Gateway:   sideeffect.NewStore(db),
	}, Options{MemoryExtraction: cfg.Features.MemoryExtraction})

	ok = true
	return c, nil
}

// #endregion components

// #region factories

// OpenVault loads the vault key. Outside development a missing key is fatal;
// in development a key file is created on first use.
func OpenVault(cfg config.Config, db *store.DB) (*vault.Store, error) {
	key, err := vault.LoadKey(vault.KeySource{
		Inline:          cfg.Vault.Key,
		File:            cfg.Vault.KeyFile,
		CreateIfMissing: cfg.IsDevelopment(),
	})
	if err != nil {
		return nil, fmt.Errorf("load vault key: %w", err)
	}
	cipher, err := vault.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return vault.NewStore(db, cipher), nil
}

// NewLLMClient builds the completion provider named by cfg.LLM.Provider.
func NewLLMClient(ctx context.Context, cfg config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "gemini":
		return llm.NewGeminiClient(ctx, cfg.LLM.APIKey)
	case "fake":
		return llm.NewFakeText("I'm here with you. Tell me more about what's on your heart."), nil
	default:
		return llm.NewOpenAIClient(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Timeout), nil
	}
}

// NewEmbedder returns a cached genai embedder for the gemini provider and the
// offline hash embedder otherwise.
func NewEmbedder(ctx context.Context, cfg config.Config) (search.Embedder, error) {
	var next search.Embedder = search.HashEmbedder{}
	if cfg.LLM.Provider == "gemini" {
		ge, err := search.NewGenAIEmbedder(ctx, cfg.LLM.APIKey, cfg.Search.EmbedModel)
		if err != nil {
			return nil, err
		}
		next = ge
	}
	return search.NewCachedEmbedder(next, cfg.Search.CacheSize, cfg.Search.CacheTTL), nil
}

func newPlanner(cfg config.Config, client llm.Client) *plan.Planner {
	if !cfg.Features.LLMPlanner || cfg.LLM.Provider == "fake" {
		return plan.Default(nil, "", 0)
	}
	return plan.Default(client, cfg.LLM.PlannerModel, cfg.LLM.Timeout)
}

func newExtractor(cfg config.Config, client llm.Client, db *store.DB) *memextract.Engine {
	mc := memextract.DefaultConfig()
	if cfg.Pipeline.ExtractionTimeout > 0 {
		mc.Timeout = cfg.Pipeline.ExtractionTimeout
	}
	var ex memextract.Extractor = memextract.Rules{}
	if cfg.LLM.Provider != "fake" {
		ex = &memextract.LLM{Client: client, Model: cfg.LLM.PlannerModel, Fallback: memextract.Rules{}}
	}
	return memextract.NewEngine(ex, db, mc)
}

// #endregion factories

// #region ai-context

// MemoryLister reads durable memories. *store.DB satisfies it.
type MemoryLister interface {
	ListMemories(ctx context.Context, userID string, minStrength float64) ([]store.DurableMemory, error)
}

// LoadAIContext fills in.AIContext.Memories from storage when the caller did
// not precompute them. Only memories at or above floor are loaded.
func LoadAIContext(ctx context.Context, db MemoryLister, in *runctx.Input, floor float64) error {
	if in.AIContext != nil && len(in.AIContext.Memories) > 0 {
		return nil
	}
	if in.UserID == "" {
		return nil
	}
	rows, err := db.ListMemories(ctx, in.UserID, floor)
	if err != nil {
		return fmt.Errorf("load memories: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	if in.AIContext == nil {
		in.AIContext = &runctx.AIContext{}
	}
	for _, m := range rows {
		in.AIContext.Memories = append(in.AIContext.Memories, runctx.DurableMemory{
			ID: m.ID, Kind: m.Kind, Key: m.Key, Value: m.Value, Strength: m.Strength,
			UpdatedAt: store.ParseTime(m.UpdatedAt),
		})
	}
	return nil
}

// #endregion ai-context
