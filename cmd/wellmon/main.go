package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/pawsture/wellmon/internal/bot"
	"github.com/pawsture/wellmon/internal/chronic"
	"github.com/pawsture/wellmon/internal/config"
	"github.com/pawsture/wellmon/internal/cooldown"
	"github.com/pawsture/wellmon/internal/detect"
	"github.com/pawsture/wellmon/internal/dispatch"
	"github.com/pawsture/wellmon/internal/gamify"
	"github.com/pawsture/wellmon/internal/ingest"
	"github.com/pawsture/wellmon/internal/logging"
	"github.com/pawsture/wellmon/internal/model"
	"github.com/pawsture/wellmon/internal/recommend"
	"github.com/pawsture/wellmon/internal/store"
	"github.com/pawsture/wellmon/internal/subscribers"
	"github.com/pawsture/wellmon/internal/train"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		logging.Info("main", "FATAL: %v", err)
		os.Exit(1)
	}

	gw, err := openGateway(cfg)
	if err != nil {
		logging.Info("main", "FATAL: %v", err)
		os.Exit(1)
	}

	subs, err := subscribers.Load(cfg.SubscriberPath)
	if err != nil {
		logging.Info("main", "FATAL: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	modelRef := &model.Ref{}
	trainer := train.New(gw, modelRef)
	retrain := make(chan struct{}, 1)

	detector := detect.New(gw, cfg.Thresholds, cfg.Windows)
	selector := recommend.NewSelector(modelRef)
	cooldowns := cooldown.NewTable(cfg.Cooldowns)
	ledger := gamify.NewLedger(gw)
	responses := ingest.NewHandler(gw, ledger)

	b, err := bot.New(cfg, subs, detector, ledger, responses, modelRef)
	if err != nil {
		logging.Info("main", "FATAL: %v", err)
		os.Exit(1)
	}

	dispatcher := dispatch.New(gw, detector, selector, cooldowns, subs, b, cfg)
	b.AttachDispatcher(dispatcher)

	monitor := chronic.NewMonitor(gw, cfg.Thresholds, cfg.Windows)

	if err := b.Start(); err != nil {
		logging.Info("main", "FATAL: %v", err)
		os.Exit(1)
	}

	go trainer.Run(ctx, retrain, cfg.TrainInterval)
	go monitor.Run(ctx, func(n chronic.Notice) { dispatcher.Broadcast(n.Text) })
	go dispatcher.Run(ctx)

	logging.Info("main", "wellmon running (tick %s)", cfg.TickInterval)
	<-ctx.Done()

	logging.Info("main", "shutting down")
	if err := b.Stop(); err != nil {
		logging.Warn("main", "bot shutdown: %v", err)
	}
	// Give in-flight store writes a moment before closing the pool.
	time.Sleep(2 * time.Second)
	if err := gw.Close(); err != nil {
		logging.Warn("main", "store close: %v", err)
	}
}

// openGateway selects the store backend from the URL scheme: sqlite:<path>
// for a local file, anything else is the hosted PostgREST store.
func openGateway(cfg config.Config) (store.Gateway, error) {
	if path, ok := strings.CutPrefix(cfg.StoreURL, "sqlite:"); ok {
		return store.OpenSQLite(path)
	}
	return store.NewREST(cfg.StoreURL, cfg.StoreKey), nil
}
