// Command streamer reconstructs live order books for a configurable set of
// prediction-market assets from the upstream WebSocket feed and exposes
// them to downstream consumers over REST and WebSocket.
//
// Architecture:
//
//	main.go                     — entry point: loads config, wires the worker pool, waits for SIGINT/SIGTERM
//	internal/worker             — one WebSocket connection's lifecycle: connect, reconnect with backoff, apply events
//	internal/distributor        — assigns asset IDs to workers, keeping each at or under its token capacity
//	internal/aggregator         — fans every worker's event stream into one service-wide feed
//	internal/streaming          — orchestrates distributor + workers + aggregator behind a single service surface
//	internal/wsclient           — single WebSocket connection attempt: dial, subscribe, parse, stream
//	internal/book               — local order book mirror fed by snapshot + delta events
//	internal/auth               — L1 (EIP-712) and L2 (HMAC) authentication for the upstream API
//	internal/clob               — REST client for snapshot hydration ahead of the first WS book event
//	internal/historicalstore    — batched JSON archival of trades and price marks
//	internal/api                — REST + WebSocket surface for downstream consumers
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"polystream/internal/api"
	"polystream/internal/auth"
	"polystream/internal/clob"
	"polystream/internal/config"
	"polystream/internal/historicalstore"
	"polystream/internal/streaming"
	"polystream/internal/worker"
	"polystream/internal/wsclient"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newLogHandler(cfg.Logging))

	wallet, err := auth.New(auth.Config{
		PrivateKeyHex: cfg.Wallet.PrivateKey,
		FunderAddress: cfg.Wallet.FunderAddress,
		ChainID:       cfg.Wallet.ChainID,
		Credentials: auth.Credentials{
			ApiKey:     cfg.Wallet.ApiKey,
			Secret:     cfg.Wallet.Secret,
			Passphrase: cfg.Wallet.Passphrase,
		},
	})
	if err != nil {
		logger.Error("failed to build wallet auth", "error", err)
		os.Exit(1)
	}

	var snapshotClient *clob.Client
	if cfg.CLOB.BaseURL != "" {
		snapshotClient = clob.New(cfg.CLOB.BaseURL, wallet)
	}

	newWorker := func(id int) *worker.Worker {
		workerCfg := worker.Config{
			AutoReconnect:        cfg.Streaming.AutoReconnect,
			ReconnectDelayMS:     int64(cfg.Streaming.ReconnectDelayMS),
			MaxReconnectDelayMS:  int64(cfg.Streaming.MaxReconnectDelayMS),
			MaxReconnectAttempts: cfg.Streaming.MaxReconnectAttempts,
			EventBufferSize:      cfg.Streaming.EventBufferSize,
			SkipHashVerification: cfg.Streaming.SkipHashVerification,
			QuietHashMismatch:    cfg.Streaming.QuietHashMismatch,
		}
		dial := func() worker.Conn {
			var authPayload wsclient.AuthPayload
			if wallet.HasL2Credentials() {
				authPayload = wallet
			}
			return wsclient.New(cfg.Streaming.WSEndpoint, wsclient.FeedMarket, authPayload, cfg.Streaming.EventBufferSize, logger)
		}
		w := worker.New(id, workerCfg, dial, logger)
		if snapshotClient != nil {
			w.SetHydrator(snapshotClient)
		}
		return w
	}

	service := streaming.New(cfg.Streaming.TokensPerWorker, cfg.Streaming.EventBufferSize, newWorker, logger)

	if len(cfg.Streaming.Tokens) > 0 {
		if err := service.AddTokens(cfg.Streaming.Tokens); err != nil {
			logger.Error("failed to subscribe configured tokens", "error", err)
			os.Exit(1)
		}
		logger.Info("subscribed configured tokens", "count", len(cfg.Streaming.Tokens))
	}

	var recorderCancel context.CancelFunc
	if cfg.Archive.Enabled {
		store, err := historicalstore.Open(cfg.Archive.RootDir, wallet.Address().Hex(), cfg.Archive.BatchSize)
		if err != nil {
			logger.Error("failed to open historical store", "error", err)
			os.Exit(1)
		}
		recorder := historicalstore.NewRecorder(store, service.SubscribeEvents(), logger)
		var ctx context.Context
		ctx, recorderCancel = context.WithCancel(context.Background())
		go func() {
			if err := recorder.Run(ctx); err != nil {
				logger.Error("historical recorder stopped", "error", err)
			}
		}()
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, service, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("api server failed", "error", err)
			}
		}()
		logger.Info("api server started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	logger.Info("streaming service started",
		"ws_endpoint", cfg.Streaming.WSEndpoint,
		"tokens_per_worker", cfg.Streaming.TokensPerWorker,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop api server", "error", err)
		}
	}
	if recorderCancel != nil {
		recorderCancel()
	}
	service.Shutdown()
}

func newLogHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
