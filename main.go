package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"charge_point/actions"
	"charge_point/config"
	"charge_point/engine"
	"charge_point/httpapi"
	"charge_point/metrics"
	"charge_point/model"
	notifier "charge_point/notifier/nats"
	"charge_point/registry"
	"charge_point/transport"
)

var log *logrus.Logger

func newCharger(cfg config.ChargePointConfig) *model.Charger {
	charger := model.NewCharger(cfg.Id, cfg.Connectors, cfg.Features)
	charger.Vendor = cfg.Vendor
	charger.Model = cfg.Model
	charger.SerialNumber = cfg.SerialNumber
	charger.FirmwareVersion = cfg.FirmwareVersion
	charger.Password = cfg.Password
	charger.DefaultIdTag = cfg.IdTag
	return charger
}

// Start function
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("couldn't load configuration: %v", err)
	}
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("invalid log level: %v", err)
	}
	log.SetLevel(level)
	entry := logrus.NewEntry(log)

	charger := newCharger(cfg.ChargePoint)

	r := registry.New(entry)
	if err := r.Install(actions.Modules()...); err != nil {
		log.Fatalf("couldn't register actions: %v", err)
	}

	m := metrics.New()
	handler := NewChargePointHandler(charger.Id, cfg.NATS.TopicPrefix)
	options := engine.Options{
		ResponseTimeout:    cfg.Engine.ResponseTimeout,
		SuppressCallErrors: cfg.Engine.SuppressCallErrors,
		Log:                entry,
		Metrics:            m,
	}
	if cfg.NATS.Enabled {
		options.Observers = append(options.Observers, handler)
	}
	e := engine.New(charger, r, options)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer := transport.NewDialer(transport.Options{
		ChargePointId: charger.Id,
		Password:      cfg.ChargePoint.Password,
		Log:           entry,
	}, transport.DialerSettings{MaxFailures: cfg.Backend.MaxFailures, OpenTimeout: cfg.Backend.RetryAfter})
	connection := newConnectionManager(ctx, e, dialer, m, cfg.Backend.RetryAfter)

	if cfg.NATS.Enabled {
		natsNotifier := notifier.New(entry)
		natsNotifier.SetChannel(handler.NotificationChannel())
		natsNotifier.SetTimeout(cfg.NATS.Timeout)
		natsNotifier.SetRequestSubject(cfg.NATS.RequestSubject)
		NewCallbacks(e, cfg.NATS.Timeout).Register(natsNotifier)
		log.Printf("waiting for request responses up to %v", natsNotifier.Timeout().String())
		if err := natsNotifier.Start(cfg.NATS.URL, nats.Name(charger.Id)); err != nil {
			log.Fatalf("couldn't start nats notifier: %v", err)
		}
		defer natsNotifier.Stop()
	}

	if cfg.Engine.Heartbeat {
		go e.RunHeartbeat(ctx)
	}

	if cfg.Backend.ConnectOnStart && cfg.Backend.URL != "" {
		if err := connection.Connect(ctx, cfg.Backend.URL); err != nil {
			log.Errorf("couldn't connect to %v: %v", cfg.Backend.URL, err)
		}
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewServer(e, connection.Connect, m.Handler(), entry).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infof("starting charge point %v control surface on %v", charger.Id, cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	e.Wait()
	log.Info("stopped charge point")
}

func init() {
	log = logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	// Set this to DebugLevel to see every frame exchanged with the central system
	log.SetLevel(logrus.InfoLevel)
}
