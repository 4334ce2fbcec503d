package main

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cachestore"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/cleaner"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/config"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/feed"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/logger"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/matcher"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/notify"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/refresh"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/schedqueue"
	"github.com/HarcourtC/kqChecker-Mobile-sub000/internal/token"
)

// alertDedupWindow suppresses repeats of the same alert condition.
const alertDedupWindow = 30 * time.Minute

// app wires the engine together. Construction order matters: the token
// store feeds the HTTP client, the client feeds the orchestrator and the
// matcher, and the scheduler drives both.
type app struct {
	cfg        *config.Config
	log        zerolog.Logger
	store      *cachestore.Store
	notifier   notify.Notifier
	bus        *notify.Bus
	tokens     *token.Store
	refresher  *token.Refresher
	feed       *feed.Client
	normalizer *cleaner.Normalizer
	sched      *schedqueue.Scheduler
	orch       *refresh.Orchestrator
	matcher    *matcher.Matcher
}

func newApp(component string) (*app, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	log := logger.New(component, cfg.LogLevel)

	store, err := cachestore.New(cfg.CacheDir, log)
	if err != nil {
		return nil, err
	}

	notifier := notify.NewLogNotifier(log, alertDedupWindow)
	bus := notify.NewBus()
	tokens := token.NewStore(store, notifier, bus, log)
	refresher := token.NewRefresher(tokens, cfg.BaseURL, log)

	client := feed.New(cfg, tokens, token.NormalizeBearer, store, log)

	periods, err := cleaner.LoadPeriodTable()
	if err != nil {
		return nil, err
	}
	normalizer := cleaner.New(store, periods, log, cleaner.WithDemoFallback(cfg.DemoFallback))

	schedCfg, err := schedqueue.LoadConfig()
	if err != nil {
		return nil, err
	}
	schedCfg.ErrorHandler = func(err error) {
		log.Error().Err(err).Msg("scheduled job failed")
	}
	sched := schedqueue.New(schedCfg, log)

	orch := refresh.New(cfg, store, client, normalizer, sched, notifier, bus, log)
	match := matcher.New(store, client, tokens, notifier, bus, log)

	return &app{
		cfg:        cfg,
		log:        log,
		store:      store,
		notifier:   notifier,
		bus:        bus,
		tokens:     tokens,
		refresher:  refresher,
		feed:       client,
		normalizer: normalizer,
		sched:      sched,
		orch:       orch,
		matcher:    match,
	}, nil
}

func (a *app) close() {
	a.sched.Stop()
}
