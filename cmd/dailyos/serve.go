package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jamesgiroux/dailyos-core/internal/actions"
	"github.com/jamesgiroux/dailyos-core/internal/aiadapter"
	"github.com/jamesgiroux/dailyos-core/internal/apihost"
	"github.com/jamesgiroux/dailyos-core/internal/calendarintake"
	"github.com/jamesgiroux/dailyos-core/internal/config"
	"github.com/jamesgiroux/dailyos-core/internal/email"
	"github.com/jamesgiroux/dailyos-core/internal/embeddings"
	"github.com/jamesgiroux/dailyos-core/internal/enrichintake"
	"github.com/jamesgiroux/dailyos-core/internal/entitystore"
	"github.com/jamesgiroux/dailyos-core/internal/events"
	"github.com/jamesgiroux/dailyos-core/internal/hygiene"
	"github.com/jamesgiroux/dailyos-core/internal/ingest"
	"github.com/jamesgiroux/dailyos-core/internal/intake"
	"github.com/jamesgiroux/dailyos-core/internal/issuespoller"
	"github.com/jamesgiroux/dailyos-core/internal/meetings"
	"github.com/jamesgiroux/dailyos-core/internal/mqtt"
	"github.com/jamesgiroux/dailyos-core/internal/opstate"
	"github.com/jamesgiroux/dailyos-core/internal/orchestrator"
	"github.com/jamesgiroux/dailyos-core/internal/prepqueue"
	"github.com/jamesgiroux/dailyos-core/internal/proactive"
	"github.com/jamesgiroux/dailyos-core/internal/propagation"
	"github.com/jamesgiroux/dailyos-core/internal/relevance"
	"github.com/jamesgiroux/dailyos-core/internal/resolver"
	"github.com/jamesgiroux/dailyos-core/internal/scheduler"
	"github.com/jamesgiroux/dailyos-core/internal/signalbus"
	"github.com/jamesgiroux/dailyos-core/internal/tokenstore"
	"github.com/jamesgiroux/dailyos-core/internal/transcripts"
	"github.com/jamesgiroux/dailyos-core/internal/workspace"
)

// stores bundles everything built on the shared database handle.
type stores struct {
	db       *sql.DB
	entities *entitystore.Store
	meetings *meetings.Store
	actions  *actions.Store
	emails   *intake.Store
	bus      *signalbus.Store
}

func openStores(cfg *config.Config, logger *slog.Logger) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := cfg.DatabasePath()
	fresh := false
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fresh = true
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Before any pending migration touches an existing database, take
	// the automatic pre-migration backup.
	if !fresh {
		if _, err := db.Exec(`VACUUM INTO ?`, cfg.PreMigrationBackupPath()+".tmp"); err != nil {
			logger.Warn("pre-migration backup failed", "error", err)
		} else if err := os.Rename(cfg.PreMigrationBackupPath()+".tmp", cfg.PreMigrationBackupPath()); err != nil {
			logger.Warn("pre-migration backup commit failed", "error", err)
		}
	}

	s := &stores{db: db}
	if s.entities, err = entitystore.NewStore(db, logger); err != nil {
		return nil, err
	}
	if s.meetings, err = meetings.NewStore(db, logger); err != nil {
		return nil, err
	}
	if s.actions, err = actions.NewStore(db, logger); err != nil {
		return nil, err
	}
	if s.emails, err = intake.NewStore(db, logger); err != nil {
		return nil, err
	}
	if s.bus, err = signalbus.NewStore(db, logger); err != nil {
		return nil, err
	}
	return s, nil
}

func runServe(logger *slog.Logger, configPath string) {
	cfg := loadConfig(logger, configPath)
	logger = slog.Default()

	st, err := openStores(cfg, logger)
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer st.db.Close()

	eventBus := events.New()
	ws := workspace.New(cfg.Workspace.Path, logger)

	// Embeddings are optional; the resolver and scorer degrade without
	// them.
	var embedder *embeddings.Client
	var resolverEmbed resolver.Embedder
	var scorerEmbed relevance.Embedder
	if cfg.Embeddings.Enabled {
		embedder = embeddings.New(embeddings.Config{BaseURL: cfg.Embeddings.BaseURL, Model: cfg.Embeddings.Model})
		adapter := resolverEmbedder{embedder}
		resolverEmbed = adapter
		scorerEmbed = adapter
	}

	res, err := resolver.New(st.db, st.entities, st.bus, resolverEmbed, cfg.UserDomains, logger)
	if err != nil {
		logger.Error("resolver init failed", "error", err)
		os.Exit(1)
	}

	prepQ := prepqueue.NewQueue()
	engine := propagation.DefaultEngine(st.bus, st.entities, st.actions, upcomingAdapter{st.meetings}, prepQ, logger)

	proEngine, err := proactive.DefaultEngine(&proactive.Env{DB: st.db, Entities: st.entities, Meetings: st.meetings}, engine, logger)
	if err != nil {
		logger.Error("proactive init failed", "error", err)
		os.Exit(1)
	}

	scorer := relevance.NewScorer(st.bus, st.entities, scorerEmbed, logger)
	prepProc := prepqueue.NewProcessor(prepQ, st.meetings, st.entities, st.bus, st.actions, eventBus, logger)

	enrichQ := orchestrator.NewEnrichQueue(cfg.AI.HygieneBudget)
	scanner := hygiene.NewScanner(st.db, st.entities, st.meetings, st.bus, enrichQ, ingest.ExtractSummary, cfg.UserDomains, logger)

	// AI adapter: a subprocess completer behind the 60s deadline. When
	// no command is configured every AI pass reports unavailable and the
	// daemon degrades to mechanical context.
	var ai aiadapter.Completer
	if cfg.AI.Configured() {
		ai = aiadapter.WithDeadline(newSubprocessCompleter(cfg.AI.Command, logger))
	} else {
		ai = aiadapter.WithDeadline(aiadapter.CompleterFunc(func(ctx context.Context, prompt string) (string, error) {
			return "", aiadapter.ErrNotAvailable
		}))
	}

	enricher := intake.NewEnricher(st.emails, res, st.meetings, st.bus, ai, logger)
	extractor := intake.NewActionExtractor(st.actions, ai, logger)
	correlator := intake.NewCorrelator(st.emails, st.meetings, engine, logger)

	schedStore, err := scheduler.NewStore(filepath.Join(cfg.DataDir, "scheduler.db"))
	if err != nil {
		logger.Error("scheduler store init failed", "error", err)
		os.Exit(1)
	}
	defer schedStore.Close()

	opStore, err := opstate.NewStore(filepath.Join(cfg.DataDir, "opstate.db"))
	if err != nil {
		logger.Error("opstate init failed", "error", err)
		os.Exit(1)
	}
	defer opStore.Close()

	deps := orchestrator.Deps{
		Config:     cfg,
		DB:         st.db,
		Entities:   st.entities,
		Meetings:   st.meetings,
		Actions:    st.actions,
		Emails:     st.emails,
		Bus:        st.bus,
		Engine:     engine,
		Resolver:   res,
		PrepQueue:  prepQ,
		PrepProc:   prepProc,
		Proactive:  proEngine,
		Hygiene:    scanner,
		Events:     eventBus,
		Workspace:  ws,
		Enricher:   enricher,
		Extractor:  extractor,
		Correlator: correlator,
		EnrichQ:    enrichQ,
		Embedder:   embedder,
	}

	if cfg.Calendar.Configured() {
		password := cfg.Calendar.Password
		if password == "" {
			// Fall back to the sealed token file the desktop host wrote.
			tokens := tokenstore.New(filepath.Join(cfg.DataDir, "tokens"))
			if tok, err := tokens.Load(tokenstore.ServiceGoogleAuth, tokenstore.AccountOAuthToken); err != nil {
				logger.Warn("token load failed", "error", err)
			} else if tok != nil {
				password = string(tok)
			}
		}
		cal, err := calendarintake.NewClient(calendarintake.Config{
			URL: cfg.Calendar.URL, Username: cfg.Calendar.Username, Password: password,
		}, logger)
		if err != nil {
			logger.Error("calendar client init failed", "error", err)
		} else {
			deps.Calendar = cal
		}
	}
	if cfg.Email.Configured() {
		imapCfg := email.IMAPConfig{
			Host: cfg.Email.Host, Port: cfg.Email.Port, TLS: cfg.Email.TLS,
			Username: cfg.Email.Username, Password: cfg.Email.Password,
		}
		imapCfg.ApplyDefaults()
		client := email.NewClient(imapCfg, logger)
		deps.EmailPoller = email.NewPoller(client, imapCfg, opStore, logger)
		deps.EmailClient = client
		defer client.Close()
	}
	if cfg.Clay.Configured() {
		deps.EnrichAPI = enrichintake.NewClient(enrichintake.Config{
			APIKey: cfg.Clay.APIKey, BaseURL: cfg.Clay.BaseURL,
		}, logger)
	}
	if cfg.Gravatar.Enabled {
		deps.Gravatar = enrichintake.NewGravatarClient(cfg.AvatarDir(), logger)
	}
	if cfg.Quill.Configured() || cfg.Granola.Configured() {
		deps.Ingestor = transcripts.NewIngestor(st.meetings, engine, logger)
	}
	if cfg.Issues.Configured() {
		deps.Issues = issuespoller.NewPoller(issuespoller.Config{
			Token: cfg.Issues.Token, Owner: cfg.Issues.Owner, Repo: cfg.Issues.Repo,
		}, http.DefaultClient, opStore, engine, logger)
	}
	if cfg.MQTT.Configured() {
		deps.MQTT = mqtt.NewNotifier(cfg.MQTT, eventBus, logger)
	}

	orch := orchestrator.New(deps, logger)
	sched := scheduler.New(logger, schedStore, orch.ExecuteTask)
	orch.SetScheduler(sched)

	server := apihost.New(apihost.Deps{
		Config:    cfg,
		Entities:  st.entities,
		Meetings:  st.meetings,
		Actions:   st.actions,
		Emails:    st.emails,
		Bus:       st.bus,
		Engine:    engine,
		Resolver:  res,
		Scorer:    scorer,
		PrepQueue: prepQ,
		Proactive: proEngine,
		Hygiene:   scanner,
		Workspace: ws,
		Scheduler: sched,
		Events:    eventBus,
		Reload: func() (*config.Config, error) {
			return config.LoadOrDefault(configPath)
		},
		Wake: orch.Wake,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := orch.Start(ctx); err != nil {
		logger.Error("orchestrator start failed", "error", err)
		os.Exit(1)
	}
	if err := server.Start(); err != nil {
		logger.Error("apihost start failed", "error", err)
		os.Exit(1)
	}

	logger.Info("dailyos daemon running", "addr", fmt.Sprintf("%s:%d", cfg.Listen.Address, cfg.Listen.Port))
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("apihost shutdown failed", "error", err)
	}
	orch.Wait()
	logger.Info("goodbye")
}

func runHygieneOnce(logger *slog.Logger, configPath string) {
	cfg := loadConfig(logger, configPath)
	st, err := openStores(cfg, slog.Default())
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer st.db.Close()

	scanner := hygiene.NewScanner(st.db, st.entities, st.meetings, st.bus, nil, ingest.ExtractSummary, cfg.UserDomains, slog.Default())
	report := scanner.Run()
	fmt.Printf("%+v\n", report)
}

func runBackupOnce(logger *slog.Logger, configPath string) {
	cfg := loadConfig(logger, configPath)
	st, err := openStores(cfg, slog.Default())
	if err != nil {
		logger.Error("store init failed", "error", err)
		os.Exit(1)
	}
	defer st.db.Close()

	tmp := cfg.BackupPath() + ".tmp"
	os.Remove(tmp)
	if _, err := st.db.Exec(`VACUUM INTO ?`, tmp); err != nil {
		logger.Error("backup failed", "error", err)
		os.Exit(1)
	}
	if err := os.Rename(tmp, cfg.BackupPath()); err != nil {
		logger.Error("backup commit failed", "error", err)
		os.Exit(1)
	}
	fmt.Println("backup written:", cfg.BackupPath())
}

// resolverEmbedder adapts the embeddings client's context-taking API to
// the synchronous Embed the resolver and scorer expect.
type resolverEmbedder struct {
	client *embeddings.Client
}

func (e resolverEmbedder) Embed(text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return e.client.Generate(ctx, text)
}

// upcomingAdapter narrows the meetings store to the propagation
// engine's lookup interface.
type upcomingAdapter struct {
	meetings *meetings.Store
}

func (u upcomingAdapter) UpcomingForEntity(entityKind, entityID string, within time.Duration) ([]string, error) {
	return u.meetings.UpcomingForEntity(entityKind, entityID, within)
}
