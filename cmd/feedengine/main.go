// feedengine is the live pipeline: broker websocket -> binary decoder ->
// tick aggregator -> candle fan-out -> {sqlite, redis, indicator engine}.
// The feed itself runs only during market hours with a fresh login per
// session; the rest of the pipeline runs 24/7.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"trend-enginev1/config"
	"trend-enginev1/internal/indicator"
	"trend-enginev1/internal/logger"
	"trend-enginev1/internal/marketdata/agg"
	"trend-enginev1/internal/marketdata/bus"
	"trend-enginev1/internal/marketdata/ws"
	"trend-enginev1/internal/markethours"
	"trend-enginev1/internal/metrics"
	"trend-enginev1/internal/model"
	"trend-enginev1/internal/normalize"
	"trend-enginev1/internal/signal"
	redisstore "trend-enginev1/internal/store/redis"
	sqlitestore "trend-enginev1/internal/store/sqlite"
	"trend-enginev1/pkg/smartfeed"
)

const snapshotInterval = time.Minute

func main() {
	slogger := logger.Init("feedengine", slog.LevelInfo)
	slogger.Info("starting")

	cfg := config.Load()
	subs := cfg.ParseSubscriptions()
	tokenList := groupSubscriptions(subs)
	slogger.Info("subscriptions parsed", "groups", len(tokenList), "interval_sec", cfg.CandleIntervalSec)

	// ---- Pipeline channels ----
	tickCh := make(chan model.TickRecord, 10000)
	candleCh := make(chan model.Candle, 5000)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr, health); err != nil {
			slogger.Error("metrics server failed", "err", err)
		}
	}()

	// ---- SQLite (ticks + candles + snapshots) ----
	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[feedengine] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(n int, dur time.Duration) {
		prom.SQLiteCommitDur.Observe(dur.Seconds())
	}
	sqlReader, err := sqlitestore.NewReader(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[feedengine] sqlite reader init failed: %v", err)
	}
	defer sqlReader.Close()

	// ---- Redis (optional; pipeline degrades without it) ----
	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		slogger.Warn("redis unavailable, continuing without it", "err", err)
	} else {
		redisWriter.OnWrite = func(dur time.Duration) {
			prom.RedisWriteDur.Observe(dur.Seconds())
		}
		defer redisWriter.Close()
	}

	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Tick tee: persist every decoded tick off the hot path ----
	sqliteTickCh := make(chan model.TickRecord, 10000)
	aggTickCh := make(chan model.TickRecord, 10000)
	go func() {
		defer close(sqliteTickCh)
		defer close(aggTickCh)
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-tickCh:
				if !ok {
					return
				}
				health.SetLastTickTime(time.Now())
				select {
				case aggTickCh <- t:
				default:
					prom.DroppedTicks.WithLabelValues("agg_ch_full").Inc()
				}
				select {
				case sqliteTickCh <- t:
				default:
					prom.DroppedTicks.WithLabelValues("sqlite_ch_full").Inc()
				}
			}
		}
	}()
	go sqlWriter.Run(ctx, sqliteTickCh)

	// ---- Candle fan-out ----
	fanout := bus.New(5000)
	fanout.OnDrop = func(idx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(idx)).Inc()
	}
	sqliteCandleCh := fanout.Subscribe()
	indicatorCandleCh := fanout.Subscribe()
	var redisCandleCh <-chan model.Candle
	if redisWriter != nil {
		redisCandleCh = fanout.Subscribe()
	}
	go fanout.Run(ctx, candleCh)

	go sqlWriter.RunCandles(ctx, cfg.CandleIntervalSec, sqliteCandleCh)
	if redisWriter != nil {
		go redisWriter.RunCandles(ctx, cfg.CandleIntervalSec, redisCandleCh)
	}

	// ---- Aggregator ----
	aggregator := agg.New(cfg.CandleIntervalSec, normalize.UnitSeconds)
	aggregator.OnDroppedTick = func(reason string) {
		prom.DroppedTicks.WithLabelValues(reason).Inc()
	}
	go func() {
		aggregator.Run(ctx, aggTickCh, candleCh)
	}()

	// ---- Indicator loop ----
	go runIndicatorLoop(ctx, cfg, indicatorCandleCh, sqlWriter, sqlReader, redisWriter, prom, slogger)

	slogger.Info("pipeline ready")

	// ---- Feed lifecycle: market-hours gated, fresh login per session ----
	go runFeedLifecycle(ctx, cfg, tokenList, tickCh, prom, health, slogger)

	<-sigCh
	slogger.Info("shutdown signal received")
	cancel()
	time.Sleep(500 * time.Millisecond) // let writers flush
	slogger.Info("shutdown complete")
}

// runFeedLifecycle sleeps outside market hours, logs in fresh at each open,
// and streams until the close deadline.
func runFeedLifecycle(ctx context.Context, cfg *config.Config, tokenList []smartfeed.TokenList,
	tickCh chan<- model.TickRecord, prom *metrics.Metrics, health *metrics.HealthStatus, slogger *slog.Logger) {

	for {
		now := time.Now()
		if !markethours.IsMarketOpen(now) {
			next := markethours.NextOpen(now)
			prom.MarketState.Set(0)
			health.SetWSConnected(false)
			slogger.Info("market closed", "status", markethours.StatusString(now),
				"next_open", next.In(markethours.IST).Format("Mon 15:04"))
			select {
			case <-ctx.Done():
				return
			case <-time.After(next.Sub(now)):
			}
		}
		prom.MarketState.Set(1)

		client := smartfeed.NewClient(smartfeed.ClientConfig{
			APIKey:     cfg.AngelAPIKey,
			ClientCode: cfg.AngelClientCode,
			Password:   cfg.AngelPassword,
			TOTPSecret: cfg.AngelTOTPSecret,
		})
		sess, err := client.Login()
		if err != nil {
			slogger.Error("login failed, retrying in 30s", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
			continue
		}
		slogger.Info("session ready")

		ingest, err := ws.New(ws.IngestConfig{
			AuthToken:     sess.AuthToken,
			APIKey:        cfg.AngelAPIKey,
			ClientCode:    cfg.AngelClientCode,
			FeedToken:     sess.FeedToken,
			SubscribeMode: smartfeed.ModeQuote,
			TokenList:     tokenList,
		})
		if err != nil {
			slogger.Error("ingest init failed, retrying in 30s", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(30 * time.Second):
			}
			continue
		}
		ingest.OnTick = func() { prom.TicksTotal.Inc() }
		ingest.OnDecodeError = func(reason string) { prom.DecodeErrors.WithLabelValues(reason).Inc() }
		ingest.OnReconnect = func() { prom.WSReconnects.Inc() }
		ingest.OnConnected = health.SetWSConnected

		// Stream until market close.
		closeAt := markethours.SessionEnd(time.Now())
		wsCtx, wsCancel := context.WithDeadline(ctx, closeAt)
		if err := ingest.Start(wsCtx, tickCh); err != nil {
			slogger.Error("feed session ended", "err", err)
		}
		wsCancel()
		if n := ingest.Ring().Overflow(); n > 0 {
			slogger.Warn("ring buffer overflowed during session", "dropped", n)
			prom.RingBufOverflow.Add(float64(n))
		}
		health.SetWSConnected(false)
		client.Logout(sess)
		slogger.Info("feed disconnected", "at", time.Now().In(markethours.IST).Format("15:04:05"))

		if ctx.Err() != nil {
			return
		}
	}
}

// runIndicatorLoop owns one engine per instrument. State is restored from
// the latest snapshot when present, else bootstrapped from stored candles,
// else built cold once enough live candles arrive. VWAP accumulators reset
// when a candle crosses the session boundary.
func runIndicatorLoop(ctx context.Context, cfg *config.Config, candleCh <-chan model.Candle,
	sqlWriter *sqlitestore.Writer, sqlReader *sqlitestore.Reader, redisWriter *redisstore.Writer,
	prom *metrics.Metrics, slogger *slog.Logger) {

	engines := make(map[string]*indicator.Engine)
	pending := make(map[string][]model.Candle) // cold-start windows
	lastTS := make(map[string]time.Time)

	// Restore whatever snapshot exists.
	if snap, err := sqlReader.ReadLatestSnapshot(); err != nil {
		slogger.Warn("snapshot restore failed", "err", err)
	} else if snap != nil {
		for _, st := range snap.Tokens {
			engines[st.Exchange+":"+st.Token] = indicator.Restore(st)
		}
		slogger.Info("engine state restored", "instruments", len(snap.Tokens), "saved_at", snap.SavedAt)
	}

	thresholds := signal.DefaultThresholds()
	thresholds.RSI.FiveBand = cfg.RSIBands == 5

	snapTicker := time.NewTicker(snapshotInterval)
	defer snapTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			saveSnapshot(sqlWriter, engines, slogger)
			return

		case <-snapTicker.C:
			saveSnapshot(sqlWriter, engines, slogger)

		case c, ok := <-candleCh:
			if !ok {
				saveSnapshot(sqlWriter, engines, slogger)
				return
			}
			key := c.Key()
			prom.CandlesTotal.Inc()
			prom.CandleLag.Set(time.Since(c.TS).Seconds())

			eng := engines[key]
			if eng == nil {
				// Try a backfill bootstrap from stored candles first.
				if window, err := sqlReader.ReadCandles(c.Exchange, c.Token, cfg.CandleIntervalSec, 0); err == nil && len(window) >= cfg.BootstrapCandles {
					if st, err := indicator.Bootstrap(window); err == nil {
						eng = indicator.NewEngine(st)
						engines[key] = eng
						slogger.Info("engine bootstrapped from history", "key", key, "candles", len(window))
					}
				}
			}
			if eng == nil {
				// Cold start: accumulate live candles until a bootstrap
				// window exists.
				pending[key] = append(pending[key], c)
				if len(pending[key]) < indicator.MinBootstrapWindow {
					continue
				}
				st, err := indicator.Bootstrap(pending[key])
				if err != nil {
					continue
				}
				eng = indicator.NewEngine(st)
				engines[key] = eng
				delete(pending, key)
				slogger.Info("engine cold-started", "key", key)
				lastTS[key] = c.TS
				continue
			}

			if prev, ok := lastTS[key]; ok && !markethours.SameSession(prev, c.TS) {
				eng.ResetSession()
			}
			lastTS[key] = c.TS

			start := time.Now()
			snap := eng.Update(c)
			prom.IndicatorComputeDur.Observe(time.Since(start).Seconds())
			prom.IndicatorsTotal.Inc()

			if redisWriter != nil {
				publishLive(ctx, redisWriter, c, snap, thresholds)
				prom.AnalysesTotal.Inc()
			}
		}
	}
}

// publishLive maps the streaming snapshot onto the signal taxonomy and
// stores it as the token's latest analysis.
func publishLive(ctx context.Context, w *redisstore.Writer, c model.Candle, snap indicator.Snapshot, th signal.Thresholds) {
	res := &model.AnalysisResult{
		Token:         c.Token,
		Timestamp:     snap.TS,
		LTP:           snap.Close,
		Volume:        snap.Volume,
		AvgVolume:     snap.AvgVolume,
		TradeValue:    snap.TradeValue,
		AvgTradeValue: snap.AvgTradeValue,
		EMAFast:       snap.EMAFast,
		EMASlow:       snap.EMASlow,
		RSI:           snap.RSI,
		EMASignal:     signal.ClassifyEMA(snap.EMAFast, snap.EMASlow),
		RSISignal:     signal.ClassifyRSI(snap.RSI, th.RSI),
	}
	if snap.VWAPDefined {
		res.VWAP = snap.VWAP
		res.VWAPSignal = signal.ClassifyVWAP(snap.Close, snap.VWAP)
		if snap.VWAP != 0 {
			res.LTPvsVWAPPct = (snap.Close - snap.VWAP) / snap.VWAP * 100
		}
	}
	res.VolumeValueSignal = signal.ClassifyVolumeValue(
		float64(snap.Volume), snap.AvgVolume, snap.TradeValue, snap.AvgTradeValue, snap.Close, snap.PrevClose)

	verdict := signal.Score(signal.Inputs{
		VolumeValue: res.VolumeValueSignal,
		VWAP:        res.VWAPSignal,
		EMA:         res.EMASignal,
		RSI:         res.RSISignal,
	}, th)
	res.BullishScore = verdict.Score
	res.MaxScore = verdict.MaxScore
	res.OverallSignal = verdict.Overall
	res.Recommendation = verdict.Recommendation

	if err := w.WriteAnalysis(ctx, res); err != nil {
		log.Printf("[feedengine] redis analysis write: %v", err)
	}
}

func saveSnapshot(w *sqlitestore.Writer, engines map[string]*indicator.Engine, slogger *slog.Logger) {
	if len(engines) == 0 {
		return
	}
	snap := &indicator.EngineSnapshot{
		Version: indicator.SnapshotVersion,
		SavedAt: time.Now().Unix(),
	}
	for key, eng := range engines {
		exchange, token := splitKey(key)
		snap.Tokens = append(snap.Tokens, eng.Snapshot(token, exchange))
	}
	if err := w.SaveSnapshot(snap); err != nil {
		slogger.Warn("snapshot save failed", "err", err)
		return
	}
	slogger.Info("engine snapshot saved", "instruments", len(snap.Tokens))
}

func splitKey(key string) (exchange, token string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}

// groupSubscriptions groups tokens by exchange type for the subscribe
// request.
func groupSubscriptions(subs []config.Subscription) []smartfeed.TokenList {
	groups := make(map[int][]string)
	for _, s := range subs {
		groups[s.ExchangeType] = append(groups[s.ExchangeType], s.Token)
	}
	out := make([]smartfeed.TokenList, 0, len(groups))
	for ex, tokens := range groups {
		out = append(out, smartfeed.TokenList{ExchangeType: ex, Tokens: tokens})
	}
	return out
}
