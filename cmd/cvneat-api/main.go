// README: Entry point; loads config, wires services, starts HTTP server and the expiry sweeper.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cvneat/internal/config"
	httptransport "cvneat/internal/http"
	"cvneat/internal/infra"
	"cvneat/internal/maps"
	"cvneat/internal/modules/notify"
	"cvneat/internal/modules/order"
	"cvneat/internal/modules/payment"
	"cvneat/internal/modules/pricing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := infra.NewLogger(cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("cvneat-api stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	if cfg.DB.Migrate {
		if err := infra.Migrate(ctx, dbPool); err != nil {
			return err
		}
	}

	var gateway payment.Gateway = payment.NewStripe(cfg.Stripe.SecretKey, stripeBackends(cfg.Stripe.URL))
	if cfg.Redis.Addr != "" {
		rdb, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		gateway = payment.NewCachedGateway(gateway, rdb, cfg.Redis.CacheTTL, logger)
	}

	var app *firebase.App
	if cfg.Auth.Provider == "firebase" || cfg.Notify.FCMEnabled || cfg.Notify.TrackingDBURL != "" {
		app, err = infra.NewFirebaseApp(ctx, cfg.Auth.FirebaseProject, cfg.Notify.TrackingDBURL, cfg.Auth.CredentialsFile)
		if err != nil {
			return fmt.Errorf("firebase init: %w", err)
		}
	}

	var verifier infra.TokenVerifier
	if cfg.Auth.Provider == "firebase" {
		verifier, err = infra.NewFirebaseVerifier(ctx, app)
		if err != nil {
			return fmt.Errorf("firebase auth: %w", err)
		}
	} else {
		verifier = infra.NewJWTIssuer(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	}

	publishers, closers, err := buildNotifiers(ctx, cfg.Notify, app)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				logger.Warn("close publisher", zap.Error(err))
			}
		}
	}()

	pricingSvc := pricing.NewService(pricing.Config{
		PlatformFee:              cfg.Pricing.PlatformFee,
		DefaultCommissionPercent: cfg.Pricing.CommissionPercent,
	})

	orderCfg := order.Config{
		ExpireAfter:      cfg.Order.ExpireAfter,
		SweepInterval:    cfg.Order.SweepInterval,
		SweepBatch:       cfg.Order.SweepBatch,
		ReconcileTimeout: cfg.Order.ReconcileTimeout,
		GatewayTimeout:   cfg.Order.GatewayTimeout,
		NotifyTimeout:    cfg.Notify.Timeout,
		ListLimit:        cfg.Order.ListLimit,
	}
	opts := []order.Option{
		order.WithGateway(gateway),
		order.WithLogger(logger.Named("order")),
	}
	if len(publishers) > 0 {
		opts = append(opts, order.WithNotifier(publishers))
	}
	if cfg.Maps.APIKey != "" {
		zones, err := maps.NewZoneService(cfg.Maps.APIKey)
		if err != nil {
			return fmt.Errorf("maps init: %w", err)
		}
		orderCfg.MaxDeliveryKm = cfg.Maps.MaxDeliveryKm
		opts = append(opts, order.WithZoneChecker(zones))
	}

	orderSvc := order.NewService(order.NewStore(dbPool), pricingSvc, orderCfg, opts...)

	server := httptransport.NewServer(httptransport.ServerDeps{
		Addr:            cfg.HTTP.Addr,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Orders:          orderSvc,
		Verifier:        verifier,
		Log:             logger.Named("http"),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		orderSvc.RunExpirySweeper(gctx)
		return nil
	})
	return g.Wait()
}

func stripeBackends(url string) *stripe.Backends {
	if url == "" {
		return nil
	}
	return &stripe.Backends{
		API: stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(url),
		}),
	}
}

func buildNotifiers(ctx context.Context, cfg config.NotifyConfig, app *firebase.App) (notify.Multi, []io.Closer, error) {
	var (
		out     notify.Multi
		closers []io.Closer
	)
	if len(cfg.KafkaBrokers) > 0 {
		k := notify.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		out = append(out, k)
		closers = append(closers, k)
	}
	if cfg.RabbitURL != "" {
		r, err := notify.NewRabbitPublisher(cfg.RabbitURL, cfg.RabbitExchange)
		if err != nil {
			return nil, closers, fmt.Errorf("rabbit init: %w", err)
		}
		out = append(out, r)
		closers = append(closers, r)
	}
	if cfg.FCMEnabled {
		f, err := notify.NewFCMPublisher(ctx, app)
		if err != nil {
			return nil, closers, fmt.Errorf("fcm init: %w", err)
		}
		out = append(out, f)
	}
	if cfg.TrackingDBURL != "" {
		tp, err := notify.NewTrackingPublisher(ctx, app)
		if err != nil {
			return nil, closers, fmt.Errorf("tracking init: %w", err)
		}
		out = append(out, tp)
	}
	return out, closers, nil
}
