package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"pharmacy/internal/config"
	"pharmacy/internal/db"
	"pharmacy/internal/events"
	"pharmacy/internal/offline"
	"pharmacy/internal/repository"
	"pharmacy/internal/service"
	"pharmacy/internal/storage"
	"pharmacy/internal/syncer"
)

// app holds everything a command needs plus what must be released on exit.
type app struct {
	svc     *service.Service
	worker  *syncer.Worker
	closers []func() error
	log     zerolog.Logger
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("shutdown")
		}
	}
}

// build wires storage, the offline store, the sync transport and the event
// publisher. withWorker adds the background sync worker used by serve.
func build(ctx context.Context, cfg config.Config, log zerolog.Logger, withWorker bool) (*app, error) {
	a := &app{log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var store storage.Store
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("DATABASE_URL not set, using in-memory storage")
		store = storage.NewMemory()
	} else {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.DefaultPoolOptions())
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := migrate(ctx, pool, log); err != nil {
			return nil, err
		}
		store = repository.New(pool)
	}

	offlineStore, err := offline.Open(ctx, cfg.OfflineDBPath, cfg.SyncMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("offline store: %w", err)
	}
	a.closers = append(a.closers, offlineStore.Close)

	var remote syncer.Remote
	switch cfg.SyncTransport {
	case config.TransportHTTP:
		remote = syncer.NewHTTPRemote(cfg.SyncEndpointURL, cfg.SyncAPIKey, &http.Client{})
	case config.TransportAMQP:
		r, err := syncer.DialAMQP(cfg.AMQPURL, cfg.SyncQueue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r.Close)
		remote = r
	}

	var (
		engine *syncer.Engine
		queue  service.SyncQueue
	)
	if remote != nil {
		engine = syncer.NewEngine(offlineStore, remote, syncer.Options{
			Workers: cfg.SyncWorkers,
			Timeout: cfg.SyncTimeout,
		}, log)
		if withWorker {
			a.worker = syncer.NewWorker(engine, syncer.WorkerOptions{
				Workers:   cfg.SyncWorkers,
				QueueSize: cfg.SyncQueueSize,
				Interval:  cfg.SyncInterval,
			}, log)
			queue = a.worker
		}
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.KafkaBrokers != "" {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, publisher.Close)
	}

	a.svc = service.New(service.Deps{
		Store:            store,
		Offline:          offlineStore,
		Engine:           engine,
		Queue:            queue,
		Publisher:        publisher,
		Log:              log,
		DefaultWarehouse: cfg.DefaultWarehouseID,
	})
	ok = true
	return a, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	if _, err := db.RunMigrations(ctx, pool, log); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	return nil
}
