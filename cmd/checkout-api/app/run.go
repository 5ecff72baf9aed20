package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	nethttp "net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aq2208/garden-checkout/configs"
	"github.com/aq2208/garden-checkout/internal/adapter/cache"
	"github.com/aq2208/garden-checkout/internal/adapter/catalog"
	"github.com/aq2208/garden-checkout/internal/adapter/gateway"
	"github.com/aq2208/garden-checkout/internal/adapter/http"
	"github.com/aq2208/garden-checkout/internal/adapter/http/middleware"
	"github.com/aq2208/garden-checkout/internal/adapter/kafka"
	"github.com/aq2208/garden-checkout/internal/adapter/observ"
	"github.com/aq2208/garden-checkout/internal/adapter/queue"
	"github.com/aq2208/garden-checkout/internal/adapter/repo"
	"github.com/aq2208/garden-checkout/internal/logging"
	"github.com/aq2208/garden-checkout/internal/paymentlog"
	"github.com/aq2208/garden-checkout/internal/paymentlog/sqlite"
	"github.com/aq2208/garden-checkout/internal/security"
	"github.com/aq2208/garden-checkout/internal/telemetry"
	"github.com/aq2208/garden-checkout/internal/usecase"
	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// App is the assembled checkout service.
type App struct {
	log     *slog.Logger
	server  *nethttp.Server
	health  *HealthServer
	relay   *queue.OutboxRelay
	rabbit  *queue.Router
	kafka   *kafka.Consumer
	closers []func()
}

type stores struct {
	orders usecase.OrderRepo
	outbox interface {
		usecase.OutboxRepo
		usecase.OutboxReader
	}
}

// Build wires every component from cfg. Nothing listens until Run.
func Build(ctx context.Context, cfg configs.Config) (_ *App, err error) {
	a := &App{log: logging.New("app")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(sctx)
	})

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	static, err := catalog.NewStatic(cfg.Catalog.Products)
	if err != nil {
		return nil, err
	}
	var (
		cat         usecase.Catalog = static
		idem        usecase.IdempotencyStore
		statusCache usecase.OrderCache
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.onClose(func() { _ = rdb.Close() })
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		idem = cache.NewRedisIdempotencyStore(rdb, cfg.Idempotency.TTL)
		statusCache = cache.NewRedisStatusCache(rdb, cfg.Idempotency.TTL)
		cat = catalog.NewPriceCache(static, rdb, cfg.Catalog.CacheTTL)
	} else {
		idem = cache.NewMemoryIdempotencyStore(cfg.Idempotency.TTL)
	}

	var gw usecase.PaymentGateway
	switch cfg.Gateway.Driver {
	case "clover":
		gw = gateway.NewClover(cfg.Gateway.Clover)
	default:
		gw = gateway.NewSandbox()
	}

	plog, err := a.openPaymentLog(cfg.PaymentLog.Path)
	if err != nil {
		return nil, err
	}

	metrics := observ.NewPromMetrics(prometheus.DefaultRegisterer)
	payments := usecase.NewPaymentOrchestrator(gw,
		usecase.WithPaymentLog(plog),
		usecase.WithPaymentMetrics(metrics),
		usecase.WithGatewayTimeouts(cfg.Gateway.TokenizeTimeout, cfg.Gateway.ChargeTimeout),
	)
	orderOpts := []usecase.OrdersOption{usecase.WithOutbox(st.outbox), usecase.WithRefunds(payments)}
	if statusCache != nil {
		orderOpts = append(orderOpts, usecase.WithStatusCache(statusCache))
	}
	orders := usecase.NewOrders(st.orders, orderOpts...)

	ccfg, err := checkoutConfig(cfg)
	if err != nil {
		return nil, err
	}
	checkout := usecase.NewCheckout(cat, orders, payments, idem, metrics, ccfg)

	if err := a.wireEvents(cfg, st, payments, orders); err != nil {
		return nil, err
	}

	clients, err := security.NewRegistry(cfg.Security.Clients)
	if err != nil {
		return nil, err
	}
	router := http.NewRouter(http.Handlers{
		Checkout: http.NewCheckoutHandler(checkout, cfg.HTTP.CheckoutTimeout),
		Orders:   http.NewOrderHandler(orders, cfg.HTTP.QueryTimeout),
		Payments: http.NewPaymentHandler(payments, cfg.Gateway.ChargeTimeout),
		Token:    http.NewTokenHandler(cfg.Security.JWTConfig, clients),
		Authz:    middleware.NewAuthz(cfg.Security.JWTConfig),
		Log:      logging.New("http"),
	})
	a.server = &nethttp.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
	if cfg.GRPC.HealthAddr != "" {
		a.health = NewHealthServer(cfg.GRPC.HealthAddr)
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg configs.Config) (stores, error) {
	if cfg.Store.Driver != "mysql" {
		mem := repo.NewMemoryStore()
		return stores{orders: mem, outbox: mem}, nil
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return stores{}, err
	}
	a.onClose(func() { _ = db.Close() })
	if cfg.MySQL.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)
	}
	if cfg.MySQL.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	}
	if cfg.MySQL.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	}

	pctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		return stores{}, fmt.Errorf("mysql ping: %w", err)
	}
	if cfg.Store.Migrate {
		if err := repo.Migrate(pctx, db); err != nil {
			return stores{}, err
		}
	}
	return stores{orders: repo.NewMySQLOrderRepo(db), outbox: repo.NewMySQLOutboxRepo(db)}, nil
}

func (a *App) openPaymentLog(path string) (paymentlog.Repository, error) {
	if path == "" {
		return paymentlog.Discard{}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("paymentlog dir: %w", err)
	}
	r, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	a.onClose(func() { _ = r.Close() })
	return r, nil
}

// wireEvents sets up the outbox relay, the notification consumer and the
// gateway event consumer. Without RabbitMQ the relay delivers in process.
func (a *App) wireEvents(cfg configs.Config, st stores, payments *usecase.PaymentOrchestrator, orders *usecase.Orders) error {
	notifications := queue.NewNotificationHandler(queue.LogNotifier{Log: logging.New("notifications")}, cfg.Pricing.StoreName)

	var pub queue.Publisher = queue.LocalPublisher{Handler: notifications.Mux()}
	if cfg.Rabbit.Enabled {
		conn, err := amqp.Dial(cfg.Rabbit.URL)
		if err != nil {
			return fmt.Errorf("rabbitmq dial: %w", err)
		}
		a.onClose(func() { _ = conn.Close() })

		pubCh, err := conn.Channel()
		if err != nil {
			return err
		}
		rp, err := queue.NewRabbitPublisher(pubCh, cfg.Rabbit.Exchange)
		if err != nil {
			return err
		}
		pub = rp

		consCh, err := conn.Channel()
		if err != nil {
			return err
		}
		if err := queue.DeclareQueue(consCh, cfg.Rabbit.Exchange, cfg.Rabbit.NotificationQueue,
			usecase.ChannelOrderPlaced, usecase.ChannelOrderStatusChanged); err != nil {
			return err
		}
		a.rabbit = queue.NewRouter(consCh, queue.WithPrefetch(cfg.Rabbit.Prefetch), queue.WithLogger(logging.New("rmq-router")))
		a.rabbit.Register(cfg.Rabbit.NotificationQueue, notifications.Mux())
	}
	a.relay = queue.NewOutboxRelay(st.outbox, pub, cfg.Outbox.PollInterval, cfg.Outbox.BatchSize, cfg.Outbox.MaxBackoff)

	if cfg.Kafka.Enabled {
		grp, err := kafka.NewGroup(cfg.Kafka.Brokers, cfg.Kafka.GroupID)
		if err != nil {
			return fmt.Errorf("kafka group: %w", err)
		}
		a.onClose(func() { _ = grp.Close() })
		reconciler := usecase.NewReconciler(payments, orders)
		a.kafka = kafka.NewConsumer(grp, []string{cfg.Kafka.PaymentTopic}, kafka.NewPaymentEventHandler(reconciler).Handle)
	}
	return nil
}

func checkoutConfig(cfg configs.Config) (usecase.CheckoutConfig, error) {
	policy, err := cfg.PricingPolicy()
	if err != nil {
		return usecase.CheckoutConfig{}, err
	}
	c := usecase.DefaultCheckoutConfig()
	c.Pricing = policy
	c.Currency = cfg.Pricing.Currency
	if cfg.Pricing.StoreName != "" {
		c.StoreName = cfg.Pricing.StoreName
	}
	if cfg.Pricing.DeliveryETADays > 0 {
		c.DeliveryETA = time.Duration(cfg.Pricing.DeliveryETADays) * 24 * time.Hour
	}
	if cfg.Pricing.MaxQuantity > 0 {
		c.MaxQuantity = cfg.Pricing.MaxQuantity
	}
	if cfg.Idempotency.LockWait > 0 {
		c.LockWait = cfg.Idempotency.LockWait
	}
	if cfg.Idempotency.PollInterval > 0 {
		c.PollInterval = cfg.Idempotency.PollInterval
	}
	if cfg.Gateway.PersistAttempts > 0 {
		c.PersistAttempts = cfg.Gateway.PersistAttempts
	}
	if cfg.Gateway.PersistBackoff > 0 {
		c.PersistBackoff = cfg.Gateway.PersistBackoff
	}
	return c, nil
}

// Run serves until ctx is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if a.rabbit != nil {
		if err := a.rabbit.Start(ctx); err != nil {
			return fmt.Errorf("rabbitmq consumers: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveHTTP(gctx) })
	g.Go(func() error { return a.relay.Run(gctx) })
	if a.health != nil {
		a.health.SetServing("", true)
		g.Go(func() error { return a.health.Serve(gctx) })
	}
	if a.kafka != nil {
		g.Go(func() error { return a.kafka.Start(gctx) })
	}
	return g.Wait()
}

func (a *App) serveHTTP(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.log.Info("http listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		// let in-flight checkouts finish their charge and persist
		sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.server.Shutdown(sctx)
	case err := <-errCh:
		return err
	}
}

func (a *App) onClose(f func()) { a.closers = append(a.closers, f) }

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
