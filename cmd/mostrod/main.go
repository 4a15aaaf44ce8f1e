package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/diazemiliano/mostro/bridge"
	"github.com/diazemiliano/mostro/clients/lnd"
	"github.com/diazemiliano/mostro/config"
	"github.com/diazemiliano/mostro/invoice"
	"github.com/diazemiliano/mostro/messenger"
	"github.com/diazemiliano/mostro/metrics"
	"github.com/diazemiliano/mostro/settlement"
	"github.com/diazemiliano/mostro/store/sqlite"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	store, err := sqlite.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatal("opening order store failed", zap.Error(err))
	}
	defer store.Close()

	node, err := lnd.NewClient(lnd.Config{
		Host:         cfg.LndHost,
		TLSCertPath:  cfg.LndCertFile,
		MacaroonPath: cfg.LndMacaroonFile,
	})
	if err != nil {
		log.Fatal("connecting to LND failed", zap.Error(err))
	}
	defer node.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	info, err := node.GetInfo(ctx)
	if err != nil {
		log.Fatal("LND getinfo failed", zap.Error(err))
	}
	log.Info("connected to LND",
		zap.String("alias", info.Alias),
		zap.String("pubkey", info.Pubkey),
		zap.String("network", info.Network),
		zap.Bool("synced", info.Synced))

	signer, err := messenger.NewSigner(cfg.PrivateKey)
	if err != nil {
		log.Fatal("invalid identity key", zap.Error(err))
	}
	log.Info("engine identity", zap.String("pubkey", signer.Pubkey()))

	codec, err := invoice.NewCodec(cfg.Network)
	if err != nil {
		log.Fatal("invalid network", zap.Error(err))
	}

	// The relay transport is an external collaborator; until one is plugged
	// in, outbound envelopes are handed to a sink that only logs them.
	transport := &loggingMessenger{log: log.Named("outbox")}

	holds := settlement.NewHoldInvoiceManager(node, cfg.CltvDelta, log.Named("holds"))
	payments := settlement.NewPaymentTracker(node, codec, cfg.PaymentTimeout, log.Named("payments"))
	handler := settlement.NewOrderProtocolHandler(store, transport, signer, holds, payments, store, log.Named("handler"))
	watcher := settlement.NewInvoiceWatcher(holds, store, transport, signer, log.Named("watcher"))

	// Resume watching hold invoices for orders that were mid-flight when the
	// process last stopped.
	open, err := store.ListWatchable(ctx)
	if err != nil {
		log.Fatal("listing open orders failed", zap.Error(err))
	}
	for _, o := range open {
		log.Info("resuming invoice watch", zap.String("order_id", o.ID), zap.String("hash", o.PaymentHash))
		watcher.Start(ctx, o.ID, o.PaymentHash)
	}

	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.MetricsAddr)
		log.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
	}

	srv := bridge.NewServer(handler, log.Named("bridge"))
	go func() {
		if err := srv.Run(cfg.BridgeAddr); err != nil {
			log.Fatal("bridge listener failed", zap.Error(err))
		}
	}()
	log.Info("mostrod started", zap.String("bridge_addr", cfg.BridgeAddr))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
}

// loggingMessenger is the stand-in PeerMessenger used until a relay
// transport is wired in.
type loggingMessenger struct {
	log *zap.Logger
}

func (m *loggingMessenger) Send(ctx context.Context, recipient string, payload []byte) error {
	m.log.Info("outbound envelope",
		zap.String("recipient", recipient),
		zap.Int("bytes", len(payload)))
	return nil
}

var _ settlement.PeerMessenger = (*loggingMessenger)(nil)
