package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ctpgate/api"
	"ctpgate/config"
	"ctpgate/internal/client"
	"ctpgate/internal/gateway"
	"ctpgate/internal/gateway/wsgateway"
	"ctpgate/internal/sched"
	"ctpgate/logger"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	loginNow := flag.Bool("login", false, "Log in immediately on startup")

	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.Ctpgate.Name,
		"version": cfg.Ctpgate.Version,
	}).Info("starting ctpgate")

	if cfg.Metrics.Enabled {
		logger.InitCloudWatch(cfg.Metrics.Region, cfg.Metrics.Namespace, cfg.Metrics.Dashboard)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cli := client.New(cfg, func() gateway.Transport {
		return wsgateway.New(log)
	}, log)

	if *loginNow {
		if err := cli.Login(); err != nil {
			log.WithError(err).Warn("startup login failed")
		}
	}

	if cfg.Schedule.Enabled {
		scheduler, err := sched.New(cfg.Schedule.Location, cfg.Schedule.LoginTimes, cli.Login, log)
		if err != nil {
			log.WithError(err).Error("failed to build login scheduler")
			os.Exit(1)
		}
		go scheduler.Run(ctx)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: api.NewServer(cli, log),
	}
	go func() {
		log.WithFields(logger.Fields{"addr": cfg.Server.Addr}).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server failed")
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-ctx.Done():
	}

	log.Info("starting graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http server shutdown failed")
	}

	if err := cli.Logout(); err != nil {
		log.WithError(err).Warn("logout on shutdown failed")
	}

	log.Info("ctpgate stopped")
}
