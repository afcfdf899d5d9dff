// Command ingestd is the market-data ingestion daemon: one push-feed
// connection per subscribed stream, normalized into canonical rows,
// sharded into the primary store and, when healthy, fanned out to the
// accelerator sink.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/feedmesh/ingestd/internal/accelerator"
	"github.com/feedmesh/ingestd/internal/apperr"
	"github.com/feedmesh/ingestd/internal/config"
	"github.com/feedmesh/ingestd/internal/endpoint"
	"github.com/feedmesh/ingestd/internal/feed"
	"github.com/feedmesh/ingestd/internal/instrument"
	"github.com/feedmesh/ingestd/internal/metrics"
	"github.com/feedmesh/ingestd/internal/normalize"
	"github.com/feedmesh/ingestd/internal/ratelimit"
	"github.com/feedmesh/ingestd/internal/registry"
	"github.com/feedmesh/ingestd/internal/writer"
)

const (
	appName = "ingestd"
	version = "v0.1.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("ingestd exited with error")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     appName,
		Short:   "Market-data ingestion daemon",
		Version: version,
		RunE:    runServe,
	}
	cmd.Flags().String("config", "file", "Config source: \"file\" (read --config-dir) or \"env\" (read INGESTD_*_CONFIG paths)")
	cmd.Flags().String("config-dir", "config", "Directory holding app.yaml/store.yaml/accelerator.yaml/instruments.yaml")
	cmd.Flags().String("shutdown-action", "restore-streams", "On shutdown: \"restore-streams\" (leave enabled for auto-resume) or \"none\" (disable all running streams)")
	cmd.Flags().Int("workers", 0, "Override max-inflight-batches writer concurrency; 0 keeps the configured value")
	cmd.Flags().Int("stream-version", 0, "Expected config_version; a mismatch is logged but not fatal")
	cmd.Flags().String("metrics-addr", ":9090", "Address the /metrics and /healthz HTTP server listens on")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	flags, err := parseFlags(cmd)
	if err != nil {
		return err
	}

	paths, err := resolveConfigPaths(flags)
	if err != nil {
		return err
	}

	appCfg, err := config.LoadAppConfig(paths.app)
	if err != nil {
		return err
	}
	storeCfg, err := config.LoadStoreConfig(paths.store)
	if err != nil {
		return err
	}
	accCfg, err := config.LoadAcceleratorConfig(paths.accelerator)
	if err != nil {
		return err
	}
	instCfg, err := config.LoadInstrumentsConfig(paths.instruments)
	if err != nil {
		return err
	}

	if flags.streamVersion != 0 && flags.streamVersion != appCfg.ConfigVersion {
		log.Warn().Int("stream_version_flag", flags.streamVersion).Int("config_version", appCfg.ConfigVersion).
			Msg("--stream-version does not match loaded config_version")
	}

	instSpecs, err := instCfg.ToSpecs()
	if err != nil {
		return err
	}
	instruments := instrument.NewRegistry()
	if err := instruments.Load(instSpecs); err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	met := metrics.New(promReg)

	router, err := storeCfg.Router()
	if err != nil {
		return err
	}
	dsnByShard, err := storeCfg.DSNByShard()
	if err != nil {
		return err
	}
	pools, err := writer.NewPools(router, writer.DefaultDialer(dsnByShard))
	if err != nil {
		return err
	}
	defer pools.Close()

	writerCfg := storeCfg.WriterKnobs()
	if flags.workers > 0 {
		writerCfg.MaxInflightBatches = flags.workers
	}
	wr := writer.New(pools, writerCfg, met)

	streamStore := registry.New(pools)

	limiters := ratelimit.NewRegistry()
	for name, exch := range appCfg.Exchanges {
		limiters.Configure(name, exch.Subscribe.RatePerSec, exch.Subscribe.Burst, exch.Reconnect.RatePerSec, exch.Reconnect.Burst)
	}

	normReg := normalize.NewRegistry(normalize.BinanceMapper{}, normalize.OKXMapper{}, normalize.CoinbaseMapper{})

	redisClient := redis.NewClient(&redis.Options{
		Addr:         accCfg.Connection.Addr,
		DB:           accCfg.Connection.DB,
		DialTimeout:  time.Duration(accCfg.Connection.ConnectTimeoutMS) * time.Millisecond,
		ReadTimeout:  time.Duration(accCfg.Connection.CommandTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(accCfg.Connection.CommandTimeoutMS) * time.Millisecond,
	})
	defer redisClient.Close()

	latency := accelerator.NewLatencyTracker(accCfg.Capacity.LatencyWindow)
	keys := accelerator.NewKeyBuilder(accCfg.KeyFormat)
	publisher := accelerator.NewPublisher(redisClient, keys, latency, accCfg.Retention.MaxLen)
	gate := accelerator.NewGate(accelerator.FailoverConfig{OnDown: accCfg.Failover.OnDown, OnSaturated: accCfg.Failover.OnSaturated}, met)
	evaluator := accelerator.NewEvaluator(accCfg.Capacity.ToCapacityConfig())
	poller := accelerator.NewPoller(accCfg.Capacity.ToCapacityConfig(), "accelerator")
	probe := accelerator.NewRedisProbe(redisClient, func() []string { return activeStreamKeys(keys, streamStore) })

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := &appDeps{
		appCfg:      appCfg,
		instruments: instruments,
		limiters:    limiters,
		normalizers: normReg,
		writer:      wr,
		streamStore: streamStore,
		pools:       pools,
		gate:        gate,
		publisher:   publisher,
		metrics:     met,
		batchKnobs:  storeCfg.DefaultBatchKnobs(),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		runAcceleratorHealthLoop(ctx, poller, evaluator, gate, probe, latency)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		serveMetrics(ctx, flags.metricsAddr, promReg)
	}()

	enabled, err := streamStore.LoadEnabled(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("count", len(enabled)).Msg("resuming streams from registry")

	var streamWG sync.WaitGroup
	for _, sp := range enabled {
		sp := sp
		streamWG.Add(1)
		go func() {
			defer streamWG.Done()
			if err := runStreamPipeline(ctx, deps, sp); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("exchange", sp.Exchange).Str("symbol", sp.Symbol).Str("kind", sp.Kind).
					Msg("stream pipeline exited with error")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, draining streams")

	if flags.shutdownAction == "none" {
		disableAllStreams(context.Background(), streamStore, enabled)
	}

	streamWG.Wait()
	wg.Wait()
	return nil
}

type cliFlags struct {
	configSource   string
	configDir      string
	shutdownAction string
	workers        int
	streamVersion  int
	metricsAddr    string
}

func parseFlags(cmd *cobra.Command) (cliFlags, error) {
	configSource, _ := cmd.Flags().GetString("config")
	if configSource != "file" && configSource != "env" {
		return cliFlags{}, apperr.New(apperr.KindConfig, "parseFlags", fmt.Errorf("--config must be \"file\" or \"env\", got %q", configSource))
	}
	shutdownAction, _ := cmd.Flags().GetString("shutdown-action")
	if shutdownAction != "none" && shutdownAction != "restore-streams" {
		return cliFlags{}, apperr.New(apperr.KindConfig, "parseFlags", fmt.Errorf("--shutdown-action must be \"none\" or \"restore-streams\", got %q", shutdownAction))
	}
	configDir, _ := cmd.Flags().GetString("config-dir")
	workers, _ := cmd.Flags().GetInt("workers")
	streamVersion, _ := cmd.Flags().GetInt("stream-version")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	return cliFlags{
		configSource:   configSource,
		configDir:      configDir,
		shutdownAction: shutdownAction,
		workers:        workers,
		streamVersion:  streamVersion,
		metricsAddr:    metricsAddr,
	}, nil
}

type configPaths struct {
	app         string
	store       string
	accelerator string
	instruments string
}

// resolveConfigPaths implements --config: "file" reads the four YAML
// files out of --config-dir, "env" reads each path from its own
// environment variable so deployments can place config outside the
// working directory without a --config-dir per file.
func resolveConfigPaths(flags cliFlags) (configPaths, error) {
	if flags.configSource == "file" {
		dir := flags.configDir
		return configPaths{
			app:         dir + "/app.yaml",
			store:       dir + "/store.yaml",
			accelerator: dir + "/accelerator.yaml",
			instruments: dir + "/instruments.yaml",
		}, nil
	}
	get := func(envVar string) (string, error) {
		v, ok := os.LookupEnv(envVar)
		if !ok || v == "" {
			return "", apperr.New(apperr.KindConfig, "resolveConfigPaths", fmt.Errorf("environment variable %q is not set", envVar))
		}
		return v, nil
	}
	app, err := get("INGESTD_APP_CONFIG")
	if err != nil {
		return configPaths{}, err
	}
	store, err := get("INGESTD_STORE_CONFIG")
	if err != nil {
		return configPaths{}, err
	}
	acc, err := get("INGESTD_ACCELERATOR_CONFIG")
	if err != nil {
		return configPaths{}, err
	}
	inst, err := get("INGESTD_INSTRUMENTS_CONFIG")
	if err != nil {
		return configPaths{}, err
	}
	return configPaths{app: app, store: store, accelerator: acc, instruments: inst}, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Str("addr", addr).Msg("metrics server stopped")
	}
}

func runAcceleratorHealthLoop(ctx context.Context, poller *accelerator.Poller, evaluator *accelerator.Evaluator, gate *accelerator.Gate, probe accelerator.Probe, latency *accelerator.LatencyTracker) {
	ticker := time.NewTicker(poller.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := poller.PollOnce(ctx, probe, latency.P99())
			status := evaluator.Evaluate(snap)
			gate.ApplyHealth(status)
		}
	}
}

func activeStreamKeys(keys accelerator.KeyBuilder, store *registry.Store) []string {
	enabled, err := store.LoadEnabled(context.Background())
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(enabled))
	for _, sp := range enabled {
		out = append(out, keys.Key(sp.Exchange, sp.Symbol, accelerator.StreamKind(sp.Kind)))
	}
	return out
}

func disableAllStreams(ctx context.Context, store *registry.Store, streams []registry.StartParams) {
	for _, sp := range streams {
		spec := registry.StreamSpec{Exchange: sp.Exchange, Instrument: sp.Symbol, Kind: sp.Kind, Transport: sp.Transport}
		if err := store.SetEnabled(ctx, spec, false); err != nil {
			log.Warn().Err(err).Str("exchange", sp.Exchange).Str("symbol", sp.Symbol).Msg("failed to disable stream on shutdown")
		}
	}
}

// appDeps bundles every collaborator a stream pipeline needs; built
// once at startup and shared read-only across stream goroutines.
type appDeps struct {
	appCfg      *config.AppConfig
	instruments *instrument.Registry
	limiters    *ratelimit.Registry
	normalizers *normalize.Registry
	writer      *writer.Writer
	streamStore *registry.Store
	pools       *writer.Pools
	gate        *accelerator.Gate
	publisher   *accelerator.Publisher
	metrics     *metrics.Registry
	batchKnobs  writer.Knobs
}

// exchangeChannels maps each exchange's own channel/subscription name
// for every canonical stream kind; used only to fill the `<channel>`
// placeholder in that exchange's subscribe/unsubscribe templates.
var exchangeChannels = map[string]map[normalize.StreamKind]string{
	"binance": {
		normalize.KindTrades:       "aggTrade",
		normalize.KindDepth:        "depth",
		normalize.KindFunding:      "markPrice",
		normalize.KindLiquidations: "forceOrder",
		normalize.KindOpenInterest: "openInterest",
	},
	"okx": {
		normalize.KindTrades:       "trades",
		normalize.KindDepth:        "books",
		normalize.KindFunding:      "funding-rate",
		normalize.KindLiquidations: "liquidation-orders",
		normalize.KindOpenInterest: "open-interest",
	},
	"coinbase": {
		normalize.KindTrades:       "market_trades",
		normalize.KindDepth:        "level2",
		normalize.KindLiquidations: "market_trades",
		normalize.KindFunding:      "futures_balance_summary",
		normalize.KindOpenInterest: "futures_balance_summary",
	},
}

func runStreamPipeline(ctx context.Context, deps *appDeps, sp registry.StartParams) error {
	switch normalize.StreamKind(sp.Kind) {
	case normalize.KindTrades:
		return runKindPipeline(ctx, deps, sp, func(r normalize.Rows) []normalize.TradeRow { return r.Trades })
	case normalize.KindDepth:
		return runKindPipeline(ctx, deps, sp, func(r normalize.Rows) []normalize.DepthDeltaRow { return r.Depth })
	case normalize.KindOpenInterest:
		return runKindPipeline(ctx, deps, sp, func(r normalize.Rows) []normalize.OpenInterestRow { return r.OpenInterest })
	case normalize.KindFunding:
		return runKindPipeline(ctx, deps, sp, func(r normalize.Rows) []normalize.FundingRow { return r.Funding })
	case normalize.KindLiquidations:
		return runKindPipeline(ctx, deps, sp, func(r normalize.Rows) []normalize.LiquidationRow { return r.Liquidations })
	default:
		return apperr.New(apperr.KindConfig, "runStreamPipeline", fmt.Errorf("unknown stream kind %q", sp.Kind))
	}
}

// runKindPipeline is generic over the canonical row type so the feed
// connection, batching, flush, and accelerator publish logic is
// written once and shared by all five stream kinds; extractRows picks
// this kind's slice out of one mapper invocation's Rows.
func runKindPipeline[T writer.RowTable](ctx context.Context, deps *appDeps, sp registry.StartParams, extractRows func(normalize.Rows) []T) error {
	exchCfg, ok := deps.appCfg.Exchanges[sp.Exchange]
	if !ok || !exchCfg.Enabled {
		return apperr.New(apperr.KindConfig, "runKindPipeline", fmt.Errorf("exchange %q is not enabled", sp.Exchange))
	}

	kind := normalize.StreamKind(sp.Kind)
	channel := exchangeChannels[sp.Exchange][kind]

	feedCfg := feed.Config{
		Name:                     sp.Exchange,
		BaseURL:                  exchCfg.Ws.BaseURL,
		Ws:                       endpoint.ExchangeWsConfig{SubscribeTemplate: exchCfg.Ws.SubscribeTemplate, UnsubscribeTemplate: exchCfg.Ws.UnsubscribeTemplate, UseNonce: exchCfg.Ws.UseNonce},
		ConnectionTimeoutSeconds: exchCfg.Ws.ConnectionTimeoutSeconds,
		HeartbeatType:            exchCfg.Ws.HeartbeatType,
		HeartbeatTimeoutSeconds:  exchCfg.Ws.HeartbeatTimeoutSeconds,
		HeartbeatFrame:           feed.HeartbeatFrame{Text: exchCfg.Ws.HeartbeatFrameText},
	}
	client := feed.New(feedCfg, deps.limiters)

	streamCtx := endpoint.Context{"symbol": sp.Symbol, "channel": channel}

	batchKey := writer.BatchKey{Exchange: sp.Exchange, StreamKind: sp.Kind, Symbol: sp.Symbol}
	var mu sync.Mutex
	batch := writer.NewBatch[T](batchKey, deps.batchKnobs, time.Now().UTC())

	flush := func() {
		mu.Lock()
		defer mu.Unlock()
		if err := writer.WriteBatchWithRetry(ctx, deps.writer, batch, 3, time.Second); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("exchange", sp.Exchange).Str("kind", sp.Kind).Str("symbol", sp.Symbol).Msg("batch flush failed")
		}
	}

	tickerDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Duration(deps.batchKnobs.FlushIntervalMS) * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(tickerDone)
				return
			case <-ticker.C:
				flush()
			}
		}
	}()

	mapCtx := normalize.MapCtx{Registry: deps.instruments, Scales: deps.appCfg.Scales.ToScales()}

	handler := func(_ context.Context, ev feed.Event) error {
		if ev.Kind != feed.EventText && ev.Kind != feed.EventBinary {
			return nil
		}
		raw := ev.Binary
		if ev.Kind == feed.EventText {
			raw = []byte(ev.Text)
		}

		rows, dropped, err := deps.normalizers.Map(mapCtx, sp.Exchange, kind, raw)
		if err != nil {
			deps.metrics.IncDecodeError(sp.Exchange)
			return nil
		}
		if dropped > 0 {
			deps.metrics.IncMappingError(sp.Exchange, sp.Kind)
		}

		extracted := extractRows(rows)
		if len(extracted) == 0 {
			return nil
		}

		mu.Lock()
		for _, row := range extracted {
			batch.Push(row)
			if deps.gate.CanPublish() && !batch.Knobs.DisableAccelerator {
				fields := rowToFields[T](row)
				if err := deps.publisher.Publish(ctx, sp.Exchange, sp.Symbol, accelerator.StreamKind(kind), fields); err != nil {
					log.Debug().Err(err).Str("exchange", sp.Exchange).Msg("accelerator publish failed")
				}
			}
		}
		shouldFlush := batch.ShouldFlush(time.Now().UTC())
		mu.Unlock()

		if shouldFlush {
			flush()
		}
		return nil
	}

	err := client.RunStream(ctx, streamCtx, handler, nil)
	<-tickerDone
	flush()
	return err
}

// rowToFields converts a canonical row into the field map the
// accelerator's XADD expects, reusing the row's own Columns/Values so
// no per-kind field-mapping code is needed.
func rowToFields[T writer.RowTable](row T) map[string]any {
	cols := row.Columns()
	vals := row.Values()
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		if i < len(vals) {
			out[c] = vals[i]
		}
	}
	return out
}
