package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/glennswest/ipmi-bmc-emulator/config"
	"github.com/glennswest/ipmi-bmc-emulator/internal/bmc"
	"github.com/glennswest/ipmi-bmc-emulator/internal/status"
	"github.com/glennswest/ipmi-bmc-emulator/internal/targets"
	"github.com/glennswest/ipmi-bmc-emulator/logs"
)

// Version info - increment based on change magnitude:
// Major (x.0.0): Breaking changes, major rewrites
// Minor (0.y.0): New features, significant enhancements
// Patch (0.0.z): Bug fixes, minor improvements
var Version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override the IPMI UDP listen port from the config file (0: use config)")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != 0 {
		cfg.IPMI.Port = *port
	}

	// Log to file rather than stdout, same as the teacher, to avoid
	// saturating a supervising container's log pipe.
	os.MkdirAll(cfg.Logs.Path, 0755)
	if logFile, err := os.OpenFile(cfg.Logs.Path+"/ipmi-bmc-emulator.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err == nil {
		log.SetOutput(logFile)
	}

	log.Infof("starting ipmi-bmc-emulator v%s", Version)
	log.Infof("  ipmi port: %d", cfg.IPMI.Port)
	log.Infof("  status port: %d", cfg.Server.Port)
	log.Infof("  log path: %s", cfg.Logs.Path)
	log.Infof("  configured targets: %d", len(cfg.Targets))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down...")
		cancel()
	}()

	logWriter := logs.NewWriter(cfg.Logs.Path, cfg.Logs.RetentionDays)
	defer logWriter.Close()

	targetCache := targets.NewCache(cfg.DataDir)
	if cached, err := targetCache.Load(); err != nil {
		log.Warnf("targets: failed loading cache: %v", err)
	} else if cached != nil {
		log.Infof("targets: previous run had %d targets configured", len(cached))
	}

	registry := targets.NewRegistry()
	ipmiServer := bmc.NewServer(cfg.IPMI.Port)

	registry.OnChange(func(added, removed []*bmc.VirtualBMC) {
		for _, b := range removed {
			log.Infof("targets: %s removed from config", b.Name)
		}
		for _, b := range added {
			b.Transcript = logWriter
			ipmiServer.Register(b)
			log.Infof("targets: %s (ipmb addr 0x%02x) registered", b.Name, b.IPMBAddr)
		}
	})

	if err := registry.Reconcile(cfg.Targets); err != nil {
		log.Fatalf("targets: initial reconcile failed: %v", err)
	}
	if err := targetCache.Save(cfg.Targets); err != nil {
		log.Warnf("targets: failed saving cache: %v", err)
	}

	statusServer := status.New(cfg.Server.Port, registry, logWriter)

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logWriter.Cleanup()
			}
		}
	}()

	go func() {
		if err := statusServer.Run(ctx); err != nil {
			log.Errorf("status server error: %v", err)
		}
	}()

	if err := ipmiServer.Run(ctx); err != nil {
		log.Fatalf("ipmi server error: %v", err)
	}
}
