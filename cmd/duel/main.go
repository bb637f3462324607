// Command duel plays a multiplication duel in the terminal.
//
//	duel [flags] local          two players on one keyboard
//	duel [flags] remote         start in the lobby
//	duel [flags] host           create a game right away
//	duel [flags] join CODE      join a game right away
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/math-duel/internal/arena"
	"github.com/DoyleJ11/math-duel/internal/config"
	"github.com/DoyleJ11/math-duel/internal/console"
	"github.com/DoyleJ11/math-duel/internal/logging"
	"github.com/DoyleJ11/math-duel/internal/session"
	"github.com/DoyleJ11/math-duel/internal/transport"
	"github.com/DoyleJ11/math-duel/internal/transport/memory"
	"github.com/DoyleJ11/math-duel/internal/transport/natsbus"
	"github.com/DoyleJ11/math-duel/internal/transport/wsrelay"
)

const defaultName = "Player"

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "duel:", err)
		os.Exit(1)
	}
}

func run(args []string, in io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("duel", flag.ContinueOnError)
	cfg, err := config.ParseDuel(fs, args)
	if err != nil {
		return err
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Outputs: []string{cfg.LogFile}})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "local"
	rest := fs.Args()
	if len(rest) > 0 {
		mode, rest = rest[0], rest[1:]
	}
	log.Info("starting", zap.String("mode", mode), zap.String("transport", cfg.Transport))

	con := console.New(in, out, log)
	switch mode {
	case "local":
		return runLocal(ctx, cfg, con, log)
	case "remote", "host", "join":
		return runRemote(ctx, cfg, con, log, mode, rest)
	default:
		return fmt.Errorf("unknown mode %q, want local, remote, host or join", mode)
	}
}

func runLocal(ctx context.Context, cfg config.Duel, con *console.Console, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := arena.NewArena(ctx, arena.Config{
		Logger:        log,
		RoundDelay:    cfg.LocalRoundDelay,
		FlashDuration: cfg.WrongFlash,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return con.RunLocal(gctx, a, [2]string{"Player 1", "Player 2"})
	})
	g.Go(func() error {
		<-a.Done()
		return nil
	})
	return ignoreCanceled(g.Wait())
}

func runRemote(ctx context.Context, cfg config.Duel, con *console.Console, log *zap.Logger, mode string, rest []string) error {
	network, closeNetwork, err := dialNetwork(cfg, log)
	if err != nil {
		return err
	}
	defer closeNetwork()

	name := cfg.Name
	if name == "" {
		name = defaultName
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := session.New(ctx, session.Config{
		Network:       network,
		Logger:        log,
		AddressPrefix: cfg.AddressPrefix,
		TraceSize:     cfg.TraceSize,
		Timings: session.Timings{
			HelloRetry:  cfg.HelloRetry,
			SoftTimeout: cfg.SoftTimeout,
			RoundDelay:  cfg.RemoteRoundDelay,
			WrongFlash:  cfg.WrongFlash,
		},
	})
	defer s.Shutdown()

	switch mode {
	case "host":
		s.CreateGame(name)
	case "join":
		if len(rest) == 0 {
			return errors.New("join needs a game code")
		}
		s.JoinGame(name, rest[0])
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return con.RunRemote(gctx, s, name)
	})
	g.Go(func() error {
		<-s.Done()
		return nil
	})
	return ignoreCanceled(g.Wait())
}

func dialNetwork(cfg config.Duel, log *zap.Logger) (transport.Network, func(), error) {
	switch cfg.Transport {
	case config.TransportRelay:
		return wsrelay.New(cfg.RelayURL, log), func() {}, nil
	case config.TransportNATS:
		ncfg := natsbus.DefaultConfig()
		ncfg.URL = cfg.NATSURL
		n, err := natsbus.Dial(ncfg, log)
		if err != nil {
			return nil, nil, err
		}
		return n, func() {
			if err := n.Close(); err != nil {
				log.Warn("close NATS", zap.Error(err))
			}
		}, nil
	case config.TransportMemory:
		// Only useful for trying the lobby; nothing outside this process can reach it.
		return memory.NewNetwork(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%w: transport %q", config.ErrInvalid, cfg.Transport)
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
