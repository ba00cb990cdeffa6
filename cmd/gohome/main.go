package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/joshp123/gohome-besmart/internal/config"
	"github.com/joshp123/gohome-besmart/internal/core"
	"github.com/joshp123/gohome-besmart/internal/logging"
	"github.com/joshp123/gohome-besmart/internal/plugins"
	"github.com/joshp123/gohome-besmart/internal/rate"
	"github.com/joshp123/gohome-besmart/internal/router"
	"github.com/joshp123/gohome-besmart/internal/schema"
	"github.com/joshp123/gohome-besmart/internal/server"
)

const shutdownTimeout = 15 * time.Second

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "validate" {
		validateMain(os.Args[2:])
		return
	}

	configPath := flag.String("config", envOrDefault("GOHOME_CONFIG", config.DefaultPath), "Path to config.pbtxt")
	allPlugins := flag.Bool("all-plugins", false, "Enable every compiled plugin regardless of config")
	flag.Parse()

	active, cfg := loadPlugins(*configPath, *allPlugins)

	if err := core.WriteDashboards(cfg.Core.DashboardDir, active); err != nil {
		log.WithError(err).Warn("write dashboards")
	}

	grpcServer, err := server.NewGRPCServer(cfg.Core.GrpcAddr)
	if err != nil {
		log.WithError(err).Fatal("grpc listen")
	}
	if err := router.RegisterPlugins(grpcServer.Server, active); err != nil {
		log.WithError(err).Fatal("register grpc services")
	}

	buildInfo := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "gohome_build_info",
		Help:        "Build information",
		ConstLabels: prometheus.Labels{"version": version},
	}, func() float64 { return 1 })
	metricsRegistry := core.MetricsRegistry(active, append(rate.MetricsCollectors(), buildInfo)...)

	gin.SetMode(gin.ReleaseMode)
	httpServer := server.NewHTTPServer(cfg.Core.HttpAddr, server.NewRouter(metricsRegistry, active))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, p := range active {
		runner, ok := p.(core.Runner)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(id string, runner core.Runner) {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil {
				log.WithError(err).WithField("plugin", id).Error("plugin runner stopped")
			}
		}(p.ID(), runner)
	}

	errs := make(chan error, 2)
	go func() {
		log.WithField("addr", cfg.Core.HttpAddr).Info("http listening")
		if err := httpServer.ListenAndServe(); err != nil {
			errs <- fmt.Errorf("http serve: %w", err)
		}
	}()
	go func() {
		log.WithField("addr", cfg.Core.GrpcAddr).Info("grpc listening")
		if err := grpcServer.Serve(); err != nil {
			errs <- fmt.Errorf("grpc serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errs:
		log.WithError(err).Error("server failed")
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.WithError(err).Warn("http shutdown")
	}
	grpcServer.Stop()
	wg.Wait()
}

// loadPlugins reads config, sets up logging and returns the enabled plugins.
func loadPlugins(path string, all bool) ([]core.Plugin, *config.Config) {
	if err := schema.Load(); err != nil {
		log.WithError(err).Fatal("load schema")
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if err := logging.Setup(cfg.Core.LogLevel); err != nil {
		log.WithError(err).Fatal("configure logging")
	}

	compiled := plugins.Compiled(cfg)
	if err := core.ValidatePlugins(compiled); err != nil {
		log.WithError(err).Fatal("validate plugins")
	}
	enabled := config.EnabledPlugins(cfg)
	if err := core.ValidateEnabledPlugins(compiled, enabled, all); err != nil {
		log.WithError(err).Fatal("validate enabled plugins")
	}
	active := core.FilterPlugins(compiled, enabled, all)
	for _, p := range active {
		log.WithFields(log.Fields{"plugin": p.ID(), "health": p.Health()}).Info("plugin enabled")
	}
	return active, cfg
}

func validateMain(args []string) {
	flags := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := flags.String("config", envOrDefault("GOHOME_CONFIG", config.DefaultPath), "Path to config.pbtxt")
	_ = flags.Parse(args)

	active, _ := loadPlugins(*configPath, false)
	failed := false
	for _, p := range active {
		fmt.Printf("%s\t%s\t%s\n", p.ID(), p.Health(), p.HealthMessage())
		if p.Health() == core.HealthError {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
