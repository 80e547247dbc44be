// Package controller implements the lullaby controller CLI entry point.
package controller

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lullaby/internal/controller"
	"lullaby/internal/httpapi"
	"lullaby/internal/liveness"
	"lullaby/internal/rpc"
	"lullaby/internal/store"
	"lullaby/internal/udp"
	"lullaby/pkg/config"
	"lullaby/pkg/logger"
)

const pruneInterval = 10 * time.Minute

// Run starts the controller: beacon listener, HTTP surface, RPC socket
// and transition journal.
func Run(configPath string) error {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.LogLevel)

	if err := cfg.Validate(config.RoleController); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	target, err := cfg.Network.Target()
	if err != nil {
		return fmt.Errorf("network.mac_address: %w", err)
	}
	grace, err := cfg.Controller.ParseGraceWindow()
	if err != nil {
		return err
	}
	keepalive, err := cfg.Controller.ParseKeepalive()
	if err != nil {
		return err
	}
	retention, err := cfg.Controller.ParseHistoryRetention()
	if err != nil {
		return err
	}

	// Ensure database directory exists
	dbDir := filepath.Dir(cfg.Controller.DBPath)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dbDir, err)
	}

	// Ensure RPC socket directory exists
	sockDir := filepath.Dir(cfg.Controller.RPCSocket)
	if err := os.MkdirAll(sockDir, 0700); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", sockDir, err)
	}

	db, err := store.New(cfg.Controller.DBPath, log)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	if last, ok, err := db.Latest(); err != nil {
		log.Warn().Err(err).Msg("Failed to read journal")
	} else if ok {
		log.Info().
			Time("at", last.At).
			Str("status", string(last.To)).
			Str("reason", string(last.Reason)).
			Msg("Last recorded transition, starting pending regardless")
	}

	broadcast, err := udp.ResolveBroadcast(cfg.Network.BroadcastAddress, cfg.Network.Port)
	if err != nil {
		return err
	}
	wakeBroadcast, err := udp.ResolveBroadcast(cfg.Network.BroadcastAddress, cfg.Network.WakePort)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := udp.Listen(ctx, cfg.Network.Port, cfg.Network.TTL, log)
	if err != nil {
		return err
	}

	ctrl := controller.New(conn, controller.Config{
		Target:        target,
		Broadcast:     broadcast,
		WakeBroadcast: wakeBroadcast,
		Grace:         grace,
		OnTransition: func(tr liveness.Transition) {
			if err := db.Append(target.String(), tr); err != nil {
				log.Warn().Err(err).Msg("Failed to journal transition")
			}
		},
	}, log)

	rpcServer, err := rpc.StartServer(cfg.Controller.RPCSocket, ctrl, db, log)
	if err != nil {
		conn.Close()
		return fmt.Errorf("starting RPC server: %w", err)
	}
	defer rpcServer.Close()

	db.RunPrune(pruneInterval, retention, ctx.Done())

	log.Info().
		Str("db_path", cfg.Controller.DBPath).
		Str("rpc_socket", cfg.Controller.RPCSocket).
		Str("http", cfg.Controller.HTTPListen).
		Dur("grace_window", grace).
		Msg("Starting controller")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		return httpapi.New(ctrl, db, keepalive, log).ListenAndServe(gctx, cfg.Controller.HTTPListen)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Shutting down")
	return nil
}
