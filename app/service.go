// Package app assembles the dispatch service from configuration.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fluxfret/cascade/affretia"
	"github.com/fluxfret/cascade/api/dispatch"
	"github.com/fluxfret/cascade/config"
	"github.com/fluxfret/cascade/core/cascade"
	"github.com/fluxfret/cascade/core/chain"
	coremetrics "github.com/fluxfret/cascade/core/metrics"
	"github.com/fluxfret/cascade/core/scheduler"
	"github.com/fluxfret/cascade/core/storage"
	"github.com/fluxfret/cascade/infra/audit"
	"github.com/fluxfret/cascade/infra/logger"
	"github.com/fluxfret/cascade/infra/metrics"
	"github.com/fluxfret/cascade/infra/notify"
	"github.com/fluxfret/cascade/infra/scoring"
	"github.com/fluxfret/cascade/internal/clock"
	"github.com/fluxfret/cascade/internal/eventbus"
)

// Service orchestrates the chain engine, scheduler and HTTP surface.
type Service struct {
	Engine    *chain.Engine
	Scheduler *scheduler.Scheduler

	handler     http.Handler
	addr        string
	bus         *eventbus.Bus
	sink        coremetrics.Sink
	log         logger.Logger
	promEnabled bool
	promPort    string

	db       *storage.SQLite
	mqtt     *notify.MQTTNotifier
	closeFns []func()
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")
	svc := &Service{
		addr:        cfg.API.Addr,
		log:         logg,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}

	var (
		chains storage.ChainStore
		lanes  storage.LaneStore
		orders storage.OrderStore
		events storage.EventStore
	)
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := storage.NewSQLite(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		svc.db = db
		chains, lanes, orders, events = db.Chains(), db.Lanes(), db.Orders(), db.Events()
	default:
		chains = storage.NewMemoryChainStore()
		lanes = storage.NewMemoryLaneStore()
		orders = storage.NewMemoryOrderStore()
		events = storage.NewMemoryEventStore()
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		if closer, ok := sink.(*metrics.InfluxSink); ok {
			svc.closeFns = append(svc.closeFns, closer.Close)
		}
		sinks = append(sinks, sink)
	}
	var sink coremetrics.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}
	svc.sink = sink

	var notifier chain.Notifier
	if cfg.Notify.Backend == "mqtt" {
		mq, err := notify.NewMQTTNotifier(cfg.Notify.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt notifier: %w", err)
		}
		svc.mqtt = mq
		notifier = mq
	} else {
		notifier = notify.NewLogNotifier()
	}

	recorder, err := audit.NewRecorder(events, clock.Real{})
	if err != nil {
		return nil, err
	}

	var brokerClient *affretia.Client
	var broker chain.Broker
	if cfg.Affretia.Enabled {
		brokerClient, err = affretia.NewClient(cfg.Affretia.Config, clock.Real{}, logger.New("affretia"))
		if err != nil {
			return nil, fmt.Errorf("affretia client: %w", err)
		}
		broker = brokerClient
	}

	registry := cascade.NewRegistry(lanes)
	builder := cascade.NewBuilder(scoring.NewStaticProvider(cfg.Scoring), logger.New("builder"))
	bus := eventbus.New()
	svc.bus = bus

	engine, err := chain.NewEngine(chains, orders, registry, builder, notifier, recorder, broker,
		clock.Real{}, logger.New("engine"), sink, bus)
	if err != nil {
		return nil, fmt.Errorf("chain engine: %w", err)
	}
	svc.Engine = engine

	sched, err := scheduler.New(cfg.Scheduler, chains, engine, clock.Real{}, logger.New("scheduler"), sink)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}
	svc.Scheduler = sched

	if err := seed(cfg, registry, orders); err != nil {
		return nil, err
	}

	svc.handler = dispatch.NewHandler(engine, dispatch.Options{
		Events:         events,
		Broker:         brokerClient,
		Token:          cfg.API.Token,
		CallbackSecret: cfg.API.CallbackSecret,
	}).Mux()
	return svc, nil
}

func seed(cfg *config.Config, registry *cascade.Registry, orders storage.OrderStore) error {
	ctx := context.Background()
	if cfg.Fixtures.LanesPath != "" {
		lanes, err := cascade.LoadLanes(cfg.Fixtures.LanesPath)
		if err != nil {
			return fmt.Errorf("load lanes: %w", err)
		}
		if err := registry.Seed(ctx, lanes); err != nil {
			return fmt.Errorf("seed lanes: %w", err)
		}
	}
	if cfg.Fixtures.OrdersPath != "" {
		recs, err := loadOrders(cfg.Fixtures.OrdersPath)
		if err != nil {
			return fmt.Errorf("load orders: %w", err)
		}
		for _, o := range recs {
			if err := orders.Put(ctx, o); err != nil {
				return fmt.Errorf("seed order %s: %w", o.ID, err)
			}
		}
	}
	return nil
}

// Run starts the scheduler and HTTP servers and blocks until the context is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Scheduler.Start(ctx); err != nil {
		return err
	}
	defer s.Scheduler.Stop()

	metrics.StartEventCollector(ctx, s.bus, s.sink)

	if s.promEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.addr, Handler: s.handler}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("dispatch API listening on %s", s.addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.bus != nil {
		s.bus.Close()
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	for _, fn := range s.closeFns {
		fn()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
