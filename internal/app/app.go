package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"rafflekeeper/apps/backend/features/job"
	"rafflekeeper/apps/backend/features/round"
	"rafflekeeper/apps/backend/features/stats"
	"rafflekeeper/apps/backend/features/webhook"
	"rafflekeeper/apps/backend/internal/config"
	"rafflekeeper/apps/backend/internal/ledger"
	"rafflekeeper/apps/backend/internal/metrics"
	"rafflekeeper/apps/backend/internal/middleware"
	"rafflekeeper/apps/backend/internal/queue"
	"rafflekeeper/apps/backend/internal/reconcile"
	"rafflekeeper/apps/backend/internal/settlement"

	"github.com/ethereum/go-ethereum/common"
	"github.com/nsqio/go-nsq"
	"golang.org/x/sync/errgroup"
)

// Ledger is everything the service reads from and submits to the contract.
// *ledger.Client satisfies it.
type Ledger interface {
	CurrentRoundID(ctx context.Context) (*big.Int, error)
	GetRound(ctx context.Context, id *big.Int) (*ledger.Round, error)
	GetEntryCount(ctx context.Context, id *big.Int) (*big.Int, error)
	GetWinners(ctx context.Context, id *big.Int) ([]common.Address, error)
	GetRunnerUps(ctx context.Context, id *big.Int) ([]common.Address, error)
	SelectWinners(ctx context.Context) (common.Hash, error)
}

type App struct {
	Handler    http.Handler
	Queue      *queue.Queue
	Dispatcher *queue.Dispatcher
	Executor   *settlement.Executor
	Engine     *reconcile.Engine

	cfg *config.Config
}

// New wires the queue, settlement and reconciliation around the given
// backing services. store is usually a *queue.PostgresStore and pub the NSQ
// producer.
func New(cfg *config.Config, store queue.Store, l Ledger, pub queue.Publisher) (*App, error) {
	if store == nil || l == nil || pub == nil {
		return nil, errors.New("app: store, ledger and publisher are required")
	}

	// Queue & Settlement
	q := NewQueue(cfg, store)
	executor := NewExecutor(cfg, l)

	dispatcher := queue.NewDispatcher(store, pub, queue.DispatcherOptions{
		Topic:        config.TopicRaffleSettle,
		PollInterval: cfg.QueuePollInterval,
		StuckAfter:   cfg.QueueStuckAfter,
		JobTimeout:   cfg.SettlementTimeout,
		OnTransition: func(j *queue.Job, to queue.Status) {
			if m := metrics.Get(); m != nil {
				m.IncJobTransition(j.Queue, string(to))
			}
		},
	})
	dispatcher.Consume(executor.HandleJob)

	// Reconciliation
	engine := NewEngine(cfg, l, q, executor)

	// Features
	webhookHandler := webhook.NewHandler(webhook.NewService(engine))
	roundHandler := round.NewHandler(l)
	jobHandler := job.NewHandler(job.NewService(q))
	statsHandler := stats.NewHandler(q, l)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /webhook", middleware.CorrelationID(
		middleware.SharedSecret(middleware.WebhookSecretHeader, cfg.WebhookSecret, http.HandlerFunc(webhookHandler.Handle))))

	mux.Handle("GET /rounds/current", middleware.CorrelationID(enableCORS(roundHandler.Current)))
	mux.Handle("GET /rounds/{id}", middleware.CorrelationID(enableCORS(roundHandler.Get)))
	mux.Handle("GET /rounds/{id}/winners", middleware.CorrelationID(enableCORS(roundHandler.Winners)))
	mux.Handle("GET /rounds/{id}/runner-ups", middleware.CorrelationID(enableCORS(roundHandler.RunnerUps)))

	mux.Handle("GET /jobs", middleware.CorrelationID(enableCORS(jobHandler.Pending)))
	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	if m := metrics.Get(); m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:    mux,
		Queue:      q,
		Dispatcher: dispatcher,
		Executor:   executor,
		Engine:     engine,
		cfg:        cfg,
	}, nil
}

// NewQueue returns the settlement queue with the configured retry policy.
func NewQueue(cfg *config.Config, store queue.Store) *queue.Queue {
	return queue.New(store, config.QueueSettlement, queue.EnqueueOptions{
		MaxAttempts: cfg.QueueMaxAttempts,
		Backoff:     queue.Backoff{Base: cfg.QueueBackoff()},
	})
}

func NewExecutor(cfg *config.Config, l settlement.Ledger) *settlement.Executor {
	return settlement.NewExecutor(l, settlement.WithTimeout(cfg.SettlementTimeout))
}

func NewEngine(cfg *config.Config, r reconcile.Reader, q *queue.Queue, s reconcile.Settler) *reconcile.Engine {
	return reconcile.NewEngine(r, q, s, reconcile.WithRetryDelay(cfg.QueueBackoff()))
}

// Run serves HTTP, drives the dispatcher and the NSQ worker pool, and runs
// startup reconciliation in the background. A startup failure is returned
// and stops everything else.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		slog.Info("server starting", "port", a.cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.Dispatcher.Run(ctx)
	})

	g.Go(func() error {
		return a.runConsumer(ctx)
	})

	g.Go(func() error {
		decisions, err := a.Engine.Startup(ctx)
		if err != nil {
			var fatal *reconcile.FatalInitError
			if errors.As(err, &fatal) {
				slog.Error("startup reconciliation failed", "round_id", fatal.RoundID, "error", fatal.Err)
			}
			return err
		}
		slog.Info("startup reconciliation finished", "decisions", len(decisions))
		return nil
	})

	return g.Wait()
}

// runConsumer feeds due jobs from NSQ to the dispatcher until ctx is
// cancelled, then drains in-flight messages.
func (a *App) runConsumer(ctx context.Context) error {
	nsqCfg := nsq.NewConfig()
	nsqCfg.MaxInFlight = a.cfg.QueueConcurrency
	nsqCfg.MaxAttempts = 0
	nsqCfg.MsgTimeout = a.cfg.SettlementTimeout + time.Minute

	consumer, err := nsq.NewConsumer(config.TopicRaffleSettle, config.ChannelSettlementWorkers, nsqCfg)
	if err != nil {
		return fmt.Errorf("nsq consumer error: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddConcurrentHandlers(a.Dispatcher, a.cfg.QueueConcurrency)

	if a.cfg.NSQLookupd != "" {
		err = consumer.ConnectToNSQLookupd(a.cfg.NSQLookupd)
	} else {
		err = consumer.ConnectToNSQD(a.cfg.NSQDHost)
	}
	if err != nil {
		return fmt.Errorf("nsq connect error: %w", err)
	}
	slog.Info("settlement workers started", "concurrency", a.cfg.QueueConcurrency)

	<-ctx.Done()
	consumer.Stop()
	<-consumer.StopChan
	slog.Info("settlement workers stopped")
	return nil
}
