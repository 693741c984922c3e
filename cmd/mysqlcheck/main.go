package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/asyncmysql/asyncmysql/internal/api"
	"github.com/asyncmysql/asyncmysql/internal/config"
	"github.com/asyncmysql/asyncmysql/internal/health"
	"github.com/asyncmysql/asyncmysql/internal/metrics"
)

func main() {
	configPath := flag.String("config", "configs/mysqlcheck.yaml", "path to configuration file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("mysqlcheck starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (%d targets)", *configPath, len(cfg.Targets))

	m := metrics.New()
	hc := health.NewChecker(cfg, m)
	hc.Start()

	apiServer := api.NewServer(hc, m, cfg.Listen)
	if err := apiServer.Start(); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("Reloading configuration...")
		hc.Reload(newCfg)
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	log.Printf("mysqlcheck ready - API:%d", cfg.Listen.APIPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	hc.Stop()

	log.Printf("mysqlcheck stopped")
}
