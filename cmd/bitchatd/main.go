// Command bitchatd is a minimal non-interactive daemon: it loads
// configuration, constructs an engine.Engine with its identity cache and
// static key persisted under a data directory, registers the BLE
// transport, and runs until terminated, per SPEC_FULL.md §14/§15
// ("cmd/bitchatd wires a minimal non-interactive daemon entry point...
// not a TUI"). It follows the teacher's own main.go shape — parse flags,
// build a logger, construct the core object, wait on a signal channel,
// clean up — generalized from one TUN interface to one mesh identity.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/bitchat-mesh/bitchat/engine"
	"github.com/bitchat-mesh/bitchat/noiseproto"
	"github.com/bitchat-mesh/bitchat/transport/ble"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "bitchatd:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := loadConfig(args)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := newLogger(cfg.LogLevel)
	log.Info().Str("data_dir", cfg.DataDir).Msg("starting bitchatd")

	staticPriv, staticPub, err := loadOrCreateStaticKey(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("loading static key: %w", err)
	}
	staticKey := noiseproto.Keypair{Private: staticPriv, Public: staticPub}

	storage, err := newFileStorage(filepath.Join(cfg.DataDir, "identities"))
	if err != nil {
		return fmt.Errorf("opening identity storage: %w", err)
	}

	eng, err := engine.New(cfg.engineConfig(), staticKey, [32]byte{}, false, storage, clock.New(), log)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}
	log.Info().Str("peer_id", eng.LocalPeerID().String()).Msg("local identity ready")

	bridge := newTransportBridge(eng, log)
	if cfg.EnableBLE {
		driver, err := ble.NewGoBluetoothDriver(cfg.BLEAdapter)
		if err != nil {
			log.Warn().Err(err).Str("adapter", cfg.BLEAdapter).Msg("BLE unavailable, continuing without it")
		} else {
			bridge.register(ble.New(driver, eng.LocalPeerID().String(), log))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go bridge.run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- eng.Run(ctx) }()

	if err := eng.SubmitCommand(engine.StartDiscovery{}); err != nil {
		log.Warn().Err(err).Msg("failed to submit initial StartDiscovery command")
	}

	go logAppEvents(ctx, eng, log)

	select {
	case <-ctx.Done():
		log.Info().Msg("signal received, shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("engine run loop exited: %w", err)
		}
	}

	_ = eng.SubmitCommand(engine.Shutdown{})
	<-eng.Stopped()
	log.Info().Msg("bitchatd stopped")
	return nil
}

func logAppEvents(ctx context.Context, eng *engine.Engine, log zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-eng.AppEvents():
			if !ok {
				return
			}
			logAppEvent(log, ev)
		}
	}
}

// logAppEvent renders the engine -> UI stream to the log, standing in
// for the interactive CLI/TUI that SPEC_FULL.md §15 keeps out of scope
// for this daemon entry point.
func logAppEvent(log zerolog.Logger, ev engine.AppEvent) {
	switch e := ev.(type) {
	case engine.MessageSent:
		log.Debug().Str("message_id", e.MessageID.String()).Str("status", e.Status).Msg("message status")
	case engine.MessageReceivedApp:
		log.Info().Str("sender", e.Sender.String()).Str("content", e.Content).Msg("message received")
	case engine.PeerStatusChanged:
		log.Info().Str("peer", e.Peer.String()).Str("state", fmt.Sprintf("%T", e.State)).Msg("peer status changed")
	case engine.TransportStatusChanged:
		log.Info().Str("transport", e.Transport.String()).Bool("available", e.Status.Available).Msg("transport status changed")
	case engine.Error:
		log.Warn().Str("message", e.Message).Msg("engine error")
	}
}
