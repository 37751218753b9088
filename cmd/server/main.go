package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"cardroom/internal/config"
	"cardroom/internal/conn"
	"cardroom/internal/eventlog"
	"cardroom/internal/game"
	"cardroom/internal/httpapi"
	"cardroom/internal/hub"
	"cardroom/internal/room"
	"cardroom/internal/router"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Error("bad configuration", zap.Error(err))
		return err
	}

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sink eventlog.Sink
	if cfg.PostgresDSN != "" {
		pg, err := eventlog.NewPGSink(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Error("postgres sink unavailable", zap.Error(err))
			return err
		}
		defer pg.Close()
		sink = pg
		logger.Info("event log backed by postgres")
	}

	cm := conn.NewManager(cfg.SendTimeout, logger)
	elog := eventlog.New(sink, logger)

	h := hub.New(ctx, hub.Template{
		Base: room.Config{
			Conns:        cm,
			Events:       elog,
			Rules:        game.NewDefaultRules(time.Now().UnixNano()),
			Scoring:      game.DefaultScoring{},
			Bots:         game.FirstCardBot{},
			MinPlayers:   cfg.MinPlayers,
			MaxPlayers:   cfg.MaxPlayers,
			MaxRounds:    cfg.MaxRounds,
			QueueMax:     cfg.QueueMax,
			BotDelay:     cfg.BotDelay,
			ResultsDelay: cfg.ResultsDelay,
		},
		Logger: logger,
	})

	// Socket losses reach the owning room as messages; the room decides
	// whether that means bot substitution or a seat opening up.
	cm.SetDropHandler(func(c *conn.Conn, reason error) {
		rm, err := h.Get(ctx, c.RoomID)
		if err != nil || rm == nil {
			return
		}
		_ = rm.Send(ctx, room.ConnLost{Conn: c, Reason: reason})
	})

	rt := router.New(h, cm, logger)
	api := &httpapi.Server{Hub: h, Events: elog, Log: logger}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Routes(cm, rt),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		h.Inbox() <- hub.Shutdown{}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", zap.Error(err))
		return err
	}
	logger.Info("bye")
	return nil
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
