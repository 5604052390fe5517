// cmd/gameserver/root.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/amanahuja/codewars-server/internal/cache"
	"github.com/amanahuja/codewars-server/internal/config"
	"github.com/amanahuja/codewars-server/internal/database"
	"github.com/amanahuja/codewars-server/internal/server"
	"github.com/amanahuja/codewars-server/internal/transport"
)

var (
	flagAddr                string
	flagChallengeIntervalMs int
)

var rootCmd = &cobra.Command{
	Use:   "gameserver",
	Short: "Authoritative server for the four-bot Bullshit card game",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&flagAddr, "addr", "", "listen address (overrides LISTEN_ADDR)")
	rootCmd.Flags().IntVar(&flagChallengeIntervalMs, "challenge-interval-ms", 0, "matchmaking interval in ms (overrides CHALLENGE_INTERVAL_MS)")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagAddr != "" {
		cfg.ListenAddr = flagAddr
	}
	if flagChallengeIntervalMs > 0 {
		cfg.ChallengeInterval = time.Duration(flagChallengeIntervalMs) * time.Millisecond
	}

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store server.Store
	if cfg.DatabaseURL != "" {
		pg, err := database.Connect(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	} else {
		logger.Warn("DATABASE_URL not set, running without persistence")
	}

	var history server.HistoryPublisher
	if cfg.RedisAddr != "" {
		pub := cache.New(cfg.RedisAddr, logger)
		if err := pub.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unreachable, history publishing disabled")
		} else {
			history = pub
			defer pub.Close()
		}
	}

	gs := server.New(store, history, logger)
	gs.ReplyTimeoutMs = cfg.ReplyTimeoutMs

	listener := transport.NewListener(gs.Inbound, gs.Outbound, cfg.JWTSecret, cfg.SwitchKeyHash, logger)

	mux := http.NewServeMux()
	mux.Handle("/switch", listener)
	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	go gs.Run()
	go gs.RunChallengeTimer(ctx, cfg.ChallengeInterval)
	go listener.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("http shutdown failed")
		}
		gs.Shutdown()
	}()

	logger.WithFields(logrus.Fields{
		"addr":               cfg.ListenAddr,
		"challenge_interval": cfg.ChallengeInterval,
	}).Info("game server listening for switch connections")

	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
