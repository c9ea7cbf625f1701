package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ipmarket/config"
	"ipmarket/core"
	"ipmarket/observability/logging"
	"ipmarket/observability/metrics"
	"ipmarket/rpc"
	"ipmarket/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("IPMARKET_ENV"))
	logger := logging.Setup("ipmarketd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	node := core.NewNode(db)
	node.SetPauses(cfg.Pauses())

	allocations, err := cfg.Allocations()
	if err != nil {
		logger.Error("Invalid genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}
	if len(allocations) > 0 {
		if err := node.ApplyGenesis(allocations); err != nil {
			logger.Error("Failed to apply genesis allocations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Touch the registry up front so the scrape endpoint exports all series
	// from the first request.
	metrics.Market()
	if addr := strings.TrimSpace(cfg.MetricsAddress); addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("Starting metrics server", slog.String("address", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				logger.Error("Metrics server stopped", slog.Any("error", err))
			}
		}()
	}

	logger.Info("Starting marketplace node",
		slog.String("network", cfg.NetworkName),
		slog.String("dataDir", cfg.DataDir),
		slog.String("rpc", cfg.RPCAddress),
	)

	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
