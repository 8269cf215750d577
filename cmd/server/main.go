package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"torrentd/internal/config"
	"torrentd/internal/engine"
	apphttp "torrentd/internal/http"
	"torrentd/internal/hub"
	"torrentd/internal/monitor"
	"torrentd/internal/registry"
	"torrentd/internal/repository/sqlite"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	jobStore := sqlite.NewJobRepository(db)
	if err := jobStore.Init(ctx); err != nil {
		logger.Fatalf("init job store: %v", err)
	}

	eng, err := engine.NewClient(engine.Options{
		DataDir:         cfg.Engine.DataDir,
		ListenPort:      cfg.Engine.ListenPort,
		Seed:            cfg.Engine.Seed,
		MaxDownloadRate: cfg.Engine.MaxDownloadRate,
		MaxUploadRate:   cfg.Engine.MaxUploadRate,
		Trackers:        cfg.Engine.Trackers,
		BoostConns:      cfg.Engine.BoostConns,
		SeedConns:       cfg.Engine.SeedConns,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatalf("start torrent engine: %v", err)
	}

	reg := registry.New(eng, engine.NewFetcher(), jobStore, logger)
	if err := reg.Rehydrate(ctx); err != nil {
		logger.Warnf("rehydrate jobs: %v", err)
	}

	pushHub := hub.New(reg, cfg.Hub.QueueSize, logger)
	reg.SetNotifier(pushHub)
	pushHub.Start(ctx)

	mon := monitor.New(reg, pushHub, cfg.Monitor.Interval, logger)
	mon.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	handler := apphttp.NewHandler(reg, pushHub, logger)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	mon.Close()
	pushHub.Close()
	reg.Close(shutdownCtx)
	eng.Close()

	logger.Info("bye")
}
