// agentwatch - Heuristic misuse detection for AI agents
package main

import (
	"context"
	"net"
	"os"
	"time"

	"github.com/mbd888/agentwatch/internal/config"
	"github.com/mbd888/agentwatch/internal/logging"
	"github.com/mbd888/agentwatch/internal/security"
	"github.com/mbd888/agentwatch/internal/server"
	"github.com/mbd888/agentwatch/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until config picks the real level and format
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting agentwatch",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"agents", len(cfg.AgentIDs),
		"spam_model_url", cfg.SpamModelURL,
		"classifier_configured", cfg.ClassifierConfigured(),
	)

	ctx := context.Background()

	if cfg.IsProduction() {
		vctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := security.ValidateUpstreamURL(vctx, cfg.SpamModelURL, net.DefaultResolver)
		cancel()
		if err != nil {
			logger.Error("refusing spam model URL", "error", err)
			os.Exit(1)
		}
	}

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()

	server.Version = Version
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
