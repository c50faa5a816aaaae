package cli

import (
	"context"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/socratic/pkg/adapter"
	"github.com/m-mizutani/socratic/pkg/inference"
	"github.com/m-mizutani/socratic/pkg/knowledge"
	"github.com/m-mizutani/socratic/pkg/memory"
	"github.com/m-mizutani/socratic/pkg/model"
	"github.com/m-mizutani/socratic/pkg/policy"
	"github.com/m-mizutani/socratic/pkg/tokenizer"
	"github.com/m-mizutani/socratic/pkg/usecase/socratic"
	"github.com/m-mizutani/socratic/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// config holds configuration values
type config struct {
	configFile string
	logLevel   string
	logFormat  string

	// Model
	backend       string
	weightPath    string
	tokenizerPath string
	contextBudget int64
	seed          int64
	maxTokens     int64
	temperature   float64

	// Engine
	strategy     string
	topK         int64
	memoryBudget int64
	historyLimit int64
	degrade      bool
	policyPath   string

	// Knowledge
	knowledgeBackend    string
	sqlitePath          string
	firestoreProject    string
	firestoreDatabase   string
	firestoreCollection string
	embedder            string
	embeddingDims       int64

	// Gemini
	geminiProject        string
	geminiLocation       string
	geminiModel          string
	geminiEmbeddingModel string

	// Archive
	archiveBucket string
	archivePrefix string

	gemini adapter.Gemini
}

// fileConfig is the layout of the --config TOML file. Values apply only to
// flags that were not set on the command line or through the environment.
type fileConfig struct {
	Log struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"log"`

	Model struct {
		model.ModelConfig
		Backend     string  `toml:"backend"`
		MaxTokens   int64   `toml:"max_tokens"`
		Temperature float64 `toml:"temperature"`
	} `toml:"model"`

	Engine struct {
		Strategy     string `toml:"strategy"`
		TopK         int64  `toml:"top_k"`
		MemoryBudget int64  `toml:"memory_budget"`
		HistoryLimit int64  `toml:"history_limit"`
		Degrade      bool   `toml:"degrade_retrieval"`
		Policy       string `toml:"policy"`
	} `toml:"engine"`

	Knowledge struct {
		Backend       string `toml:"backend"`
		SQLitePath    string `toml:"sqlite_path"`
		Embedder      string `toml:"embedder"`
		EmbeddingDims int64  `toml:"embedding_dims"`
		Firestore     struct {
			Project    string `toml:"project"`
			Database   string `toml:"database"`
			Collection string `toml:"collection"`
		} `toml:"firestore"`
	} `toml:"knowledge"`

	Gemini struct {
		Project        string `toml:"project"`
		Location       string `toml:"location"`
		Model          string `toml:"model"`
		EmbeddingModel string `toml:"embedding_model"`
	} `toml:"gemini"`

	Archive struct {
		Bucket string `toml:"bucket"`
		Prefix string `toml:"prefix"`
	} `toml:"archive"`
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to a TOML configuration file",
			Sources:     cli.EnvVars("SOCRATIC_CONFIG"),
			Destination: &cfg.configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("SOCRATIC_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       string(logging.FormatConsole),
			Sources:     cli.EnvVars("SOCRATIC_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
	}
}

// modelFlags returns flags for tokenizer and inference configuration
func modelFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Inference backend (local, gemini). local without --model runs the echo backend",
			Value:       "local",
			Sources:     cli.EnvVars("SOCRATIC_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "Path to a quantized weights file",
			Sources:     cli.EnvVars("SOCRATIC_MODEL"),
			Destination: &cfg.weightPath,
		},
		&cli.StringFlag{
			Name:        "tokenizer",
			Usage:       "Path to a vocabulary file (YAML or JSON). Built-in vocabulary when empty",
			Sources:     cli.EnvVars("SOCRATIC_TOKENIZER"),
			Destination: &cfg.tokenizerPath,
		},
		&cli.IntFlag{
			Name:        "context-budget",
			Usage:       "Maximum number of tokens in a prompt",
			Value:       2048,
			Sources:     cli.EnvVars("SOCRATIC_CONTEXT_BUDGET"),
			Destination: &cfg.contextBudget,
		},
		&cli.IntFlag{
			Name:        "seed",
			Usage:       "Sampling seed",
			Value:       42,
			Sources:     cli.EnvVars("SOCRATIC_SEED"),
			Destination: &cfg.seed,
		},
		&cli.IntFlag{
			Name:        "max-tokens",
			Usage:       "Maximum number of generated tokens",
			Value:       256,
			Sources:     cli.EnvVars("SOCRATIC_MAX_TOKENS"),
			Destination: &cfg.maxTokens,
		},
		&cli.FloatFlag{
			Name:        "temperature",
			Usage:       "Sampling temperature. 0 selects greedy decoding",
			Value:       0.7,
			Sources:     cli.EnvVars("SOCRATIC_TEMPERATURE"),
			Destination: &cfg.temperature,
		},
	}
}

// engineFlags returns flags for the tutoring engine
func engineFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "strategy",
			Aliases:     []string{"s"},
			Usage:       "Tutoring strategy (socratic, guided, review)",
			Value:       string(model.StrategySocratic),
			Sources:     cli.EnvVars("SOCRATIC_STRATEGY"),
			Destination: &cfg.strategy,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "Number of passages retrieved per turn",
			Value:       3,
			Sources:     cli.EnvVars("SOCRATIC_TOP_K"),
			Destination: &cfg.topK,
		},
		&cli.IntFlag{
			Name:        "memory-budget",
			Usage:       "Tokens of conversation history placed in a prompt. Defaults to a quarter of the context budget",
			Sources:     cli.EnvVars("SOCRATIC_MEMORY_BUDGET"),
			Destination: &cfg.memoryBudget,
		},
		&cli.IntFlag{
			Name:        "history-limit",
			Usage:       "Tokens of history kept per session before the oldest turns are dropped. Defaults to the context budget",
			Sources:     cli.EnvVars("SOCRATIC_HISTORY_LIMIT"),
			Destination: &cfg.historyLimit,
		},
		&cli.BoolFlag{
			Name:        "degrade-retrieval",
			Usage:       "Continue a turn without passages when retrieval fails",
			Sources:     cli.EnvVars("SOCRATIC_DEGRADE_RETRIEVAL"),
			Destination: &cfg.degrade,
		},
		&cli.StringFlag{
			Name:        "policy",
			Usage:       "Rego file or directory checked against generated blueprints",
			Sources:     cli.EnvVars("SOCRATIC_POLICY"),
			Destination: &cfg.policyPath,
		},
	}
}

// knowledgeFlags returns flags for the vector store and embedder
func knowledgeFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "knowledge",
			Aliases:     []string{"k"},
			Usage:       "Knowledge store backend (memory, sqlite, firestore)",
			Value:       "sqlite",
			Sources:     cli.EnvVars("SOCRATIC_KNOWLEDGE"),
			Destination: &cfg.knowledgeBackend,
		},
		&cli.StringFlag{
			Name:        "sqlite-path",
			Usage:       "SQLite database file for the sqlite knowledge store",
			Value:       "socratic.db",
			Sources:     cli.EnvVars("SOCRATIC_SQLITE_PATH"),
			Destination: &cfg.sqlitePath,
		},
		&cli.StringFlag{
			Name:        "firestore-project",
			Usage:       "Google Cloud project ID of the Firestore knowledge store",
			Sources:     cli.EnvVars("SOCRATIC_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.firestoreProject,
		},
		&cli.StringFlag{
			Name:        "firestore-database",
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("SOCRATIC_FIRESTORE_DATABASE"),
			Destination: &cfg.firestoreDatabase,
		},
		&cli.StringFlag{
			Name:        "firestore-collection",
			Usage:       "Firestore collection holding documents",
			Value:       "documents",
			Sources:     cli.EnvVars("SOCRATIC_FIRESTORE_COLLECTION"),
			Destination: &cfg.firestoreCollection,
		},
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedder (hash, gemini). Must match the one used at ingestion",
			Value:       "hash",
			Sources:     cli.EnvVars("SOCRATIC_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.IntFlag{
			Name:        "embedding-dims",
			Usage:       "Embedding dimensionality",
			Value:       knowledge.DefaultHashDims,
			Sources:     cli.EnvVars("SOCRATIC_EMBEDDING_DIMS"),
			Destination: &cfg.embeddingDims,
		},
	}
}

// geminiFlags returns flags for the Gemini backend and embedder
func geminiFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("SOCRATIC_GEMINI_PROJECT", "GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("SOCRATIC_GEMINI_LOCATION", "GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini generative model",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("SOCRATIC_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "gemini-embedding-model",
			Usage:       "Gemini embedding model",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("SOCRATIC_GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.geminiEmbeddingModel,
		},
	}
}

// archiveFlags returns flags for session archiving to Cloud Storage
func archiveFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "archive-bucket",
			Usage:       "Cloud Storage bucket for archived sessions. Archiving is off when empty",
			Sources:     cli.EnvVars("SOCRATIC_ARCHIVE_BUCKET"),
			Destination: &cfg.archiveBucket,
		},
		&cli.StringFlag{
			Name:        "archive-prefix",
			Usage:       "Object name prefix for archived sessions",
			Sources:     cli.EnvVars("SOCRATIC_ARCHIVE_PREFIX"),
			Destination: &cfg.archivePrefix,
		},
	}
}

// runtimeFlags returns every flag needed to build the engine
func runtimeFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, modelFlags(cfg)...)
	flags = append(flags, engineFlags(cfg)...)
	flags = append(flags, knowledgeFlags(cfg)...)
	flags = append(flags, geminiFlags(cfg)...)
	flags = append(flags, archiveFlags(cfg)...)
	return flags
}

// setup applies the config file and installs the logger. It returns ctx
// carrying the logger.
func (cfg *config) setup(ctx context.Context, c *cli.Command) (context.Context, error) {
	if err := cfg.loadFile(c); err != nil {
		return ctx, err
	}

	format, ok := logging.ParseFormat(cfg.logFormat)
	if !ok {
		return ctx, goerr.Wrap(model.ErrInvalidConfig, "unknown log format", goerr.V("format", cfg.logFormat))
	}
	logger := logging.New(cfg.logLevel, format, nil)
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

func (cfg *config) loadFile(c *cli.Command) error {
	if cfg.configFile == "" {
		return nil
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(cfg.configFile, &fc); err != nil {
		return goerr.Wrap(model.ErrInvalidConfig, "failed to read config file",
			goerr.V("path", cfg.configFile),
			goerr.V("cause", err.Error()))
	}

	str := func(name string, dst *string, v string) {
		if v != "" && !c.IsSet(name) {
			*dst = v
		}
	}
	num := func(name string, dst *int64, v int64) {
		if v != 0 && !c.IsSet(name) {
			*dst = v
		}
	}

	str("log-level", &cfg.logLevel, fc.Log.Level)
	str("log-format", &cfg.logFormat, fc.Log.Format)

	str("backend", &cfg.backend, fc.Model.Backend)
	str("model", &cfg.weightPath, fc.Model.WeightPath)
	str("tokenizer", &cfg.tokenizerPath, fc.Model.TokenizerPath)
	num("context-budget", &cfg.contextBudget, int64(fc.Model.ContextBudget))
	num("seed", &cfg.seed, fc.Model.Seed)
	num("max-tokens", &cfg.maxTokens, fc.Model.MaxTokens)
	if fc.Model.Temperature != 0 && !c.IsSet("temperature") {
		cfg.temperature = fc.Model.Temperature
	}

	str("strategy", &cfg.strategy, fc.Engine.Strategy)
	num("top-k", &cfg.topK, fc.Engine.TopK)
	num("memory-budget", &cfg.memoryBudget, fc.Engine.MemoryBudget)
	num("history-limit", &cfg.historyLimit, fc.Engine.HistoryLimit)
	if fc.Engine.Degrade && !c.IsSet("degrade-retrieval") {
		cfg.degrade = true
	}
	str("policy", &cfg.policyPath, fc.Engine.Policy)

	str("knowledge", &cfg.knowledgeBackend, fc.Knowledge.Backend)
	str("sqlite-path", &cfg.sqlitePath, fc.Knowledge.SQLitePath)
	str("firestore-project", &cfg.firestoreProject, fc.Knowledge.Firestore.Project)
	str("firestore-database", &cfg.firestoreDatabase, fc.Knowledge.Firestore.Database)
	str("firestore-collection", &cfg.firestoreCollection, fc.Knowledge.Firestore.Collection)
	str("embedder", &cfg.embedder, fc.Knowledge.Embedder)
	num("embedding-dims", &cfg.embeddingDims, fc.Knowledge.EmbeddingDims)

	str("gemini-project", &cfg.geminiProject, fc.Gemini.Project)
	str("gemini-location", &cfg.geminiLocation, fc.Gemini.Location)
	str("gemini-model", &cfg.geminiModel, fc.Gemini.Model)
	str("gemini-embedding-model", &cfg.geminiEmbeddingModel, fc.Gemini.EmbeddingModel)

	str("archive-bucket", &cfg.archiveBucket, fc.Archive.Bucket)
	str("archive-prefix", &cfg.archivePrefix, fc.Archive.Prefix)

	return nil
}

// generationConfig returns the default generation config built from flags
func (cfg *config) generationConfig() model.GenerationConfig {
	gc := model.DefaultGenerationConfig()
	gc.MaxTokens = int(cfg.maxTokens)
	gc.Temperature = cfg.temperature
	gc.Seed = cfg.seed
	return gc
}

// newTokenizer loads the vocabulary file or falls back to the built-in one
func (cfg *config) newTokenizer() (*tokenizer.Tokenizer, error) {
	if cfg.tokenizerPath == "" {
		return tokenizer.Default(), nil
	}
	return tokenizer.Load(cfg.tokenizerPath)
}

// newGemini creates a new Gemini adapter instance. It is shared by the
// inference backend and the embedder.
func (cfg *config) newGemini(ctx context.Context) (adapter.Gemini, error) {
	if cfg.gemini != nil {
		return cfg.gemini, nil
	}
	if cfg.geminiProject == "" {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "gemini-project is required")
	}
	if cfg.geminiLocation == "" {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "gemini-location is required")
	}

	gemini, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation,
		adapter.WithGenerativeModel(cfg.geminiModel),
		adapter.WithEmbeddingModel(cfg.geminiEmbeddingModel),
	)
	if err != nil {
		return nil, err
	}
	cfg.gemini = gemini
	return gemini, nil
}

// newInference loads the inference engine for tok
func (cfg *config) newInference(ctx context.Context, tok *tokenizer.Tokenizer) (*inference.Engine, error) {
	mc := model.ModelConfig{
		WeightPath:    cfg.weightPath,
		TokenizerPath: cfg.tokenizerPath,
		ContextBudget: int(cfg.contextBudget),
		Seed:          cfg.seed,
	}

	var opts []inference.Option
	switch cfg.backend {
	case "local", "":
	case "gemini":
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, inference.WithBackend(inference.NewRemote(gemini, tok)))
	default:
		return nil, goerr.Wrap(model.ErrInvalidConfig, "unknown inference backend", goerr.V("backend", cfg.backend))
	}

	engine, err := inference.Load(mc, tok, opts...)
	if err != nil {
		return nil, err
	}
	logging.From(ctx).Debug("inference engine loaded",
		"backend", engine.BackendName(),
		"context_budget", engine.ContextBudget())
	return engine, nil
}

// newKnowledge opens the configured vector store
func (cfg *config) newKnowledge(ctx context.Context) (knowledge.Store, error) {
	switch cfg.knowledgeBackend {
	case "memory":
		return knowledge.NewMemory(), nil
	case "sqlite", "":
		if cfg.sqlitePath == "" {
			return nil, goerr.Wrap(model.ErrInvalidConfig, "sqlite-path is required")
		}
		return knowledge.NewSQLite(ctx, cfg.sqlitePath)
	case "firestore":
		if cfg.firestoreProject == "" {
			return nil, goerr.Wrap(model.ErrInvalidConfig, "firestore-project is required")
		}
		return knowledge.NewFirestore(ctx, cfg.firestoreProject, cfg.firestoreDatabase, cfg.firestoreCollection)
	default:
		return nil, goerr.Wrap(model.ErrInvalidConfig, "unknown knowledge backend", goerr.V("backend", cfg.knowledgeBackend))
	}
}

// newEmbedder creates the embedder shared by ingestion and retrieval
func (cfg *config) newEmbedder(ctx context.Context) (knowledge.Embedder, error) {
	if cfg.embeddingDims <= 0 {
		return nil, goerr.Wrap(model.ErrInvalidConfig, "embedding-dims must be positive", goerr.V("dims", cfg.embeddingDims))
	}

	switch cfg.embedder {
	case "hash", "":
		return knowledge.NewHashEmbedder(int(cfg.embeddingDims)), nil
	case "gemini":
		gemini, err := cfg.newGemini(ctx)
		if err != nil {
			return nil, err
		}
		return knowledge.NewGeminiEmbedder(gemini, int(cfg.embeddingDims)), nil
	default:
		return nil, goerr.Wrap(model.ErrInvalidConfig, "unknown embedder", goerr.V("embedder", cfg.embedder))
	}
}

// newArchiver returns nil when no archive bucket is configured
func (cfg *config) newArchiver(ctx context.Context) (*memory.StorageArchiver, error) {
	if cfg.archiveBucket == "" {
		return nil, nil
	}

	storage, err := adapter.NewStorage(ctx, cfg.archiveBucket, cfg.archivePrefix)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage")
	}
	return memory.NewStorageArchiver(storage), nil
}

// newMemory creates conversation memory that counts tokens with tok. A
// session never holds more than the context budget; history-limit can only
// tighten that.
func (cfg *config) newMemory(tok *tokenizer.Tokenizer, archiver *memory.StorageArchiver) (*memory.Memory, error) {
	limit := cfg.contextBudget
	if cfg.historyLimit > 0 {
		if cfg.historyLimit > cfg.contextBudget {
			return nil, goerr.Wrap(model.ErrInvalidConfig, "history limit exceeds context budget",
				goerr.V("history_limit", cfg.historyLimit),
				goerr.V("context_budget", cfg.contextBudget))
		}
		limit = cfg.historyLimit
	}

	opts := []memory.Option{
		memory.WithEstimator(tok.Count),
		memory.WithMaxTokens(int(limit)),
	}
	if archiver != nil {
		opts = append(opts, memory.WithArchiver(archiver))
	}
	return memory.New(opts...), nil
}

// newPolicy returns nil when no policy path is configured
func (cfg *config) newPolicy(ctx context.Context) (*policy.Policy, error) {
	if cfg.policyPath == "" {
		return nil, nil
	}
	return policy.Load(ctx, cfg.policyPath)
}

// runtime bundles everything built from config for one command
type runtime struct {
	tok       *tokenizer.Tokenizer
	inference *inference.Engine
	store     knowledge.Store
	memory    *memory.Memory
	archiver  *memory.StorageArchiver
	engine    *socratic.Engine
}

func (r *runtime) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

// newRuntime wires tokenizer, inference, knowledge, memory and policy into an
// engine. The caller must Close the runtime.
func (cfg *config) newRuntime(ctx context.Context) (*runtime, error) {
	tok, err := cfg.newTokenizer()
	if err != nil {
		return nil, err
	}

	infer, err := cfg.newInference(ctx, tok)
	if err != nil {
		return nil, err
	}

	embedder, err := cfg.newEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	pol, err := cfg.newPolicy(ctx)
	if err != nil {
		return nil, err
	}

	archiver, err := cfg.newArchiver(ctx)
	if err != nil {
		return nil, err
	}

	mem, err := cfg.newMemory(tok, archiver)
	if err != nil {
		return nil, err
	}

	store, err := cfg.newKnowledge(ctx)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		tok:       tok,
		inference: infer,
		store:     store,
		memory:    mem,
		archiver:  archiver,
	}

	opts := []socratic.Option{
		socratic.WithTopK(int(cfg.topK)),
		socratic.WithStrategy(model.Strategy(cfg.strategy)),
		socratic.WithDegradeRetrieval(cfg.degrade),
		socratic.WithGenerationConfig(cfg.generationConfig()),
	}
	if cfg.memoryBudget > 0 {
		opts = append(opts, socratic.WithMemoryBudget(int(cfg.memoryBudget)))
	}
	if pol != nil {
		opts = append(opts, socratic.WithPolicy(pol))
	}

	engine, err := socratic.New(socratic.Input{
		Tokenizer: tok,
		Inference: infer,
		Knowledge: store,
		Memory:    rt.memory,
		Embedder:  embedder,
	}, opts...)
	if err != nil {
		_ = rt.Close()
		return nil, goerr.Wrap(err, "failed to create engine")
	}
	rt.engine = engine

	return rt, nil
}

// sweepSessions archives and evicts sessions idle for longer than idle until
// ctx is done.
func (r *runtime) sweepSessions(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.memory.Sweep(ctx, idle)
			if err != nil {
				logging.From(ctx).Warn("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				logging.From(ctx).Info("idle sessions evicted", "count", n)
			}
		}
	}
}
