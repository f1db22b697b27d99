package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/joshp123/rointe-golang/internal/bridge"
	"github.com/joshp123/rointe-golang/internal/config"
	"github.com/joshp123/rointe-golang/internal/logging"
	"github.com/joshp123/rointe-golang/internal/server"
	"github.com/joshp123/rointe-golang/rointe"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Get(logging.InfoLevel).Fatalw("config load failed", "err", err)
	}
	log := logging.Get(cfg.LogLevel)

	client := rointe.NewClient(cfg.Username, cfg.Password, cfg.Backend, rointe.WithLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loginCtx, loginCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := client.Login(loginCtx); err != nil {
		log.Fatalw("login failed", "err", err)
	}
	loginCancel()
	log.Infow("logged in", "backend", client.Backend())

	var publisher *bridge.Publisher
	if cfg.MQTT.Broker != "" {
		publisher, err = bridge.NewPublisher(cfg.MQTT, log)
		if err != nil {
			log.Fatalw("mqtt connect failed", "broker", cfg.MQTT.Broker, "err", err)
		}
		defer publisher.Close()
	}

	service := bridge.NewService(client, cfg.Installation, cfg.PollInterval, publisher, log)

	registry := prometheus.NewRegistry()
	registry.MustRegister(bridge.NewMetricsCollector(service))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "rointe_bridge_build_info",
		Help: "Build information",
	}, func() float64 { return 1 }))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.HealthHandler(service.LastPoll))
	mux.Handle("/metrics", server.MetricsHandler(registry))

	httpServer := server.NewHTTPServer(cfg.HTTPAddr, mux)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("http serve failed", "err", err)
		}
	}()
	log.Infow("http server listening", "addr", cfg.HTTPAddr)

	go func() {
		if err := service.Run(ctx); err != nil && ctx.Err() == nil {
			log.Fatalw("poll service failed", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("http shutdown failed", "err", err)
	}
}
