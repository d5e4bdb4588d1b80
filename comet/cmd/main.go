package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/comet-router/comet/config"
	"github.com/Cogwheel-Validator/comet-router/comet/journal"
	"github.com/Cogwheel-Validator/comet-router/comet/nearrpc"
	"github.com/Cogwheel-Validator/comet-router/comet/network"
	"github.com/Cogwheel-Validator/comet-router/comet/quote"
	"github.com/Cogwheel-Validator/comet-router/comet/rpc"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Logger()

	// Share the logger with the RPC package
	rpc.SetLogger(log)
}

func main() {
	configRpc := flag.String("config-rpc", "./rpc_config.toml", "config file for the rpc server, empty reads COMET_ env vars")
	configGenesis := flag.String("config-genesis", "./genesis.toml", "genesis of the local network")
	flag.Parse()

	log.Info().
		Str("rpc_config", *configRpc).
		Str("genesis", *configGenesis).
		Msg("Starting comet router")

	var rpcPath *string
	if *configRpc != "" {
		rpcPath = configRpc
	}
	rpcConfig, err := config.LoadRPCCometConfig(rpcPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load RPC config")
	}

	genesis, err := config.LoadGenesis(*configGenesis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load genesis")
	}
	n, err := network.Boot(genesis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to boot network")
	}
	log.Info().
		Str("router", n.RouterAccount.String()).
		Int("tokens", len(n.Tokens)).
		Int("exchanges", len(n.Exchanges)).
		Str("settlement_mode", string(n.Router.Budget().Mode())).
		Msg("Network booted")

	store, err := openJournal(rpcConfig.JournalDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open settlement journal")
	}
	defer store.Close()

	metrics := rpc.NewMetrics(n.RouterAccount)
	n.VM.AddObserver(metrics)
	n.VM.AddObserver(journal.NewRecorder(store, n.RouterAccount))

	var source quote.PoolSource = quote.ViewPoolSource{Viewer: n.VM}
	if len(rpcConfig.NearRPCURLs) > 0 {
		client, err := nearrpc.NewClient(rpcConfig.NearRPCURLs, nearrpc.DefaultFailoverConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create node client")
		}
		defer client.Close()
		source = quote.ViewPoolSource{Viewer: client}
		log.Info().
			Str("primary", rpcConfig.NearRPCURLs[0]).
			Int("backups", len(rpcConfig.NearRPCURLs)-1).
			Msg("Quoting from remote node")
	}
	estimator, err := quote.NewEstimator(source, n.Dexes())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create quote estimator")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, err := rpc.NewServer(ctx, rpc.ServerConfigFrom(rpcConfig), &rpc.Service{
		Network:            n,
		Estimator:          estimator,
		Journal:            store,
		Metrics:            metrics,
		DefaultSlippageBps: rpcConfig.DefaultSlippageBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create RPC server")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Server error")
			sigCh <- syscall.SIGTERM
		}
	}()

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}
}

// openJournal uses MySQL when a DSN is configured and memory otherwise.
func openJournal(dsn string) (journal.Store, error) {
	if dsn == "" {
		log.Info().Msg("Settlement journal kept in memory")
		return journal.NewMemoryStore(), nil
	}
	store, err := journal.OpenMySQL(dsn)
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Settlement journal stored in MySQL")
	return store, nil
}
