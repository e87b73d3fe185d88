// Package main provides the staked position viewer:
// - One-shot: fetch pool membership, gauge shares and staked pool
//   metadata for an account, print the assembled view (text or JSON).
// - Watch (-watch): keep running, refresh gauge data as new chain
//   heads arrive, and serve /metrics, /health and /view over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"gauge-staking-view/internal/blockwatch"
	"gauge-staking-view/internal/decimals"
	"gauge-staking-view/internal/domain"
	"gauge-staking-view/internal/evm"
	"gauge-staking-view/internal/graph"
	"gauge-staking-view/internal/logger"
	"gauge-staking-view/internal/observability"
	"gauge-staking-view/internal/pricing"
	"gauge-staking-view/internal/staking"
)

func main() {
	// Load .env if present; OS environment wins over file entries.
	_ = godotenv.Load()

	// Parse flags (env vars as defaults)
	graphEndpoint := flag.String("graph-endpoint", os.Getenv("GRAPH_ENDPOINT"), "Subgraph GraphQL HTTP endpoint")
	ethEndpoint := flag.String("eth-endpoint", os.Getenv("ETH_RPC_ENDPOINT"), "Ethereum JSON-RPC HTTP endpoint, enables direct gauge reads")
	wsEndpoint := flag.String("ws-endpoint", os.Getenv("ETH_WS_ENDPOINT"), "Ethereum JSON-RPC WebSocket endpoint, required with -watch")
	account := flag.String("account", os.Getenv("ACCOUNT"), "Account address to build the view for")
	networkName := flag.String("network", os.Getenv("NETWORK"), "Network name: mainnet, polygon, arbitrum, optimism")
	stakeablePools := flag.String("stakeable-pools", os.Getenv("STAKEABLE_POOLS"), "Comma-separated pool IDs eligible for staking")
	providedPool := flag.String("pool", os.Getenv("PROVIDED_POOL"), "Pool address for the direct on-chain share read")
	gaugeFactory := flag.String("gauge-factory", os.Getenv("GAUGE_FACTORY"), "Gauge factory contract address")
	watch := flag.Bool("watch", false, "Keep running and refresh the view as new chain heads arrive")
	metricsAddr := flag.String("metrics-addr", ":9090", "HTTP address for /metrics, /health and /view in watch mode")
	settleTimeout := flag.Duration("settle-timeout", 30*time.Second, "Maximum wait for all fetches to settle")
	outputJSON := flag.Bool("json", false, "Output the view as JSON")
	logLevel := flag.String("log-level", os.Getenv("LOG_LEVEL"), "Log level: debug, info, warn, error")

	flag.Parse()

	logger.Initialize(*logLevel)

	// Validate required flags
	if *graphEndpoint == "" {
		log.Fatal().Msg("-graph-endpoint is required")
	}
	if *account == "" {
		log.Fatal().Msg("-account is required")
	}
	if *networkName == "" {
		*networkName = domain.NetworkMainnet.Name
	}
	network, ok := domain.NetworkByName(*networkName)
	if !ok {
		log.Fatal().Str("network", *networkName).Msg("unknown network, expected mainnet, polygon, arbitrum or optimism")
	}
	if *providedPool != "" && *ethEndpoint == "" {
		log.Fatal().Msg("-eth-endpoint is required when -pool is set")
	}
	if *ethEndpoint != "" {
		if *gaugeFactory == "" {
			log.Fatal().Msg("-gauge-factory is required when -eth-endpoint is set")
		}
		if !common.IsHexAddress(*gaugeFactory) {
			log.Fatal().Str("gauge_factory", *gaugeFactory).Msg("gauge factory is not a hex address")
		}
	}
	if *watch && *wsEndpoint == "" {
		log.Fatal().Msg("-ws-endpoint is required with -watch")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals; a second signal forces immediate exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		cancel()
		sig = <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("forcing immediate shutdown")
		os.Exit(1)
	}()

	graphClient := graph.NewHTTPClient(*graphEndpoint)

	cfg := staking.Config{
		Session:            domain.Session{Account: *account, Network: network},
		StakeableAllowList: splitPoolIDs(*stakeablePools),
		ProvidedPool:       *providedPool,
		Memberships:        staking.NewGraphMembershipSource(graphClient),
		GaugeShares:        staking.NewGraphGaugeShareSource(graphClient),
		Pools:              staking.NewGraphPoolSource(graphClient),
		Valuate:            pricing.TVLProportional,
	}

	if *ethEndpoint != "" {
		ec, err := ethclient.DialContext(ctx, *ethEndpoint)
		if err != nil {
			log.Fatal().Err(err).Str("endpoint", *ethEndpoint).Msg("failed to dial Ethereum RPC")
		}
		defer ec.Close()
		cfg.DirectShares = staking.NewChainShareSource(evm.NewGaugeReader(ec, common.HexToAddress(*gaugeFactory)))
	}

	agg, err := staking.NewAggregator(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build aggregator")
	}
	if err := agg.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start aggregator")
	}
	defer agg.Close()

	settleCtx, cancelSettle := context.WithTimeout(ctx, *settleTimeout)
	err = agg.Settle(settleCtx)
	cancelSettle()
	if err != nil {
		log.Fatal().Err(err).Msg("fetches did not settle")
	}

	view, err := agg.View()
	if err != nil {
		log.Warn().Err(err).Msg("view degraded")
	}
	if *outputJSON {
		output, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("failed to marshal view")
		}
		fmt.Println(string(output))
	} else {
		printView(view)
	}

	if !*watch {
		return
	}

	watcher, err := blockwatch.NewWatcher(ctx, *wsEndpoint, nil)
	if err != nil {
		log.Fatal().Err(err).Str("endpoint", *wsEndpoint).Msg("failed to start head watcher")
	}
	defer watcher.Close()

	go serveHTTP(*metricsAddr, agg)

	log.Info().
		Str("network", network.Name).
		Str("metrics_addr", *metricsAddr).
		Msg("watching chain heads")

	for {
		select {
		case <-ctx.Done():
			return
		case head, ok := <-watcher.Heads():
			if !ok {
				return
			}
			observability.RecordHeadReceived()
			refreshOnHead(ctx, agg, head)
		}
	}
}

// refreshOnHead re-runs the gauge share and direct balance fetches for
// a new chain head and logs the refreshed totals. Sources disabled for
// the session and refetches superseded by a key change are not errors.
func refreshOnHead(ctx context.Context, agg *staking.Aggregator, head blockwatch.Head) {
	refreshCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := agg.RefetchGaugeShares(refreshCtx); err != nil && !benignRefetchErr(err) {
		log.Warn().Err(err).Uint64("block", head.Number).Msg("gauge share refresh failed")
	}
	if _, err := agg.RefetchProvidedPoolShares(refreshCtx); err != nil && !benignRefetchErr(err) {
		log.Warn().Err(err).Uint64("block", head.Number).Msg("provided pool refresh failed")
	}

	view, err := agg.View()
	if err != nil {
		log.Warn().Err(err).Uint64("block", head.Number).Msg("view degraded")
	}
	log.Info().
		Uint64("block", head.Number).
		Int("staked_pools", len(view.StakedPoolIDs)).
		Str("total_fiat", view.TotalStakedFiatValue).
		Msg("view refreshed")
}

func benignRefetchErr(err error) bool {
	return errors.Is(err, staking.ErrSourceDisabled) ||
		errors.Is(err, staking.ErrPoolNotConfigured) ||
		errors.Is(err, staking.ErrSuperseded) ||
		errors.Is(err, context.Canceled)
}

// printView writes the view to stdout as sectioned text.
func printView(v staking.View) {
	fmt.Println()
	fmt.Println("=== Staked Positions ===")
	fmt.Printf("Account:            %s\n", v.Account)
	fmt.Printf("Network:            %s (staking supported: %v)\n", v.Network, v.StakingSupported)
	fmt.Println()

	fmt.Println("Fetches:")
	fmt.Printf("  Membership:       %s\n", formatStatus(v.Membership))
	fmt.Printf("  Gauge Shares:     %s\n", formatStatus(v.GaugeShares))
	fmt.Printf("  Pool Metadata:    %s\n", formatStatus(v.Pools))
	if v.ProvidedPool != "" {
		fmt.Printf("  Direct Share:     %s\n", formatStatus(v.DirectShare))
	}
	fmt.Println()

	fmt.Println("Staked Pools:")
	if len(v.StakedPools) == 0 {
		fmt.Println("  (none)")
	}
	for _, p := range v.StakedPools {
		fmt.Printf("  %s\n", p.ID)
		fmt.Printf("    Type:           %s\n", p.PoolType)
		fmt.Printf("    BPT Staked:     %s\n", p.BPT)
		fmt.Printf("    Fiat Value:     %s\n", decimals.Trim(p.Shares))
	}
	fmt.Println()

	fmt.Printf("Total Staked Value: %s\n", v.TotalStakedFiatValue)
	if v.ProvidedPool != "" {
		fmt.Printf("Provided Pool:      %s (%s staked)\n", v.ProvidedPool, v.ProvidedPoolShares)
	}
}

func formatStatus(st staking.FetchStatus) string {
	if st.Error != "" {
		return fmt.Sprintf("%s (error: %s)", st.Status, st.Error)
	}
	return st.Status
}

// serveHTTP exposes health, Prometheus metrics and the live view.
func serveHTTP(addr string, agg *staking.Aggregator) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.Handle("/metrics", observability.Handler())

	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		view, err := agg.View()
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			w.Header().Set("X-View-Degraded", err.Error())
		}
		json.NewEncoder(w).Encode(view)
	})

	log.Info().Str("addr", addr).Msg("starting HTTP server")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("HTTP server error")
	}
}

// splitPoolIDs parses a comma-separated pool ID list, trimming blanks.
func splitPoolIDs(s string) []string {
	ids := make([]string, 0)
	for _, id := range strings.Split(s, ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
