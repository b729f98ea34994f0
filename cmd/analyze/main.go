// analyze runs the batch trend analysis over stored ticks: resample to
// candles, compute the indicator set, and print a scored verdict as JSON.
// With -scan it analyzes every instrument seen in the window and ranks
// them by bullish score.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"trend-enginev1/internal/analysis"
	"trend-enginev1/internal/markethours"
	"trend-enginev1/internal/model"
	redisstore "trend-enginev1/internal/store/redis"
	sqlitestore "trend-enginev1/internal/store/sqlite"
)

func main() {
	var (
		token       = flag.String("token", "", "instrument token to analyze")
		dbPath      = flag.String("db", "data/market_data.db", "sqlite database path")
		intervalSec = flag.Int("interval", 300, "resample interval in seconds")
		lookback    = flag.Duration("lookback", 0, "analyze the trailing window instead of the current session")
		scan        = flag.Bool("scan", false, "analyze every instrument in the window, ranked by score")
		fiveBand    = flag.Bool("five-band", false, "use the five-band RSI policy")
		publish     = flag.Bool("publish", false, "write results to redis as the latest analysis")
		redisAddr   = flag.String("redis", "", "redis address for -publish (empty disables)")
	)
	flag.Parse()

	if !*scan && *token == "" {
		fmt.Fprintln(os.Stderr, "usage: analyze -token <token> [-db path] [-interval sec] [-lookback 2h] [-scan]")
		os.Exit(2)
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[analyze] open db: %v", err)
	}
	defer reader.Close()

	now := time.Now()
	var from time.Time
	if *lookback > 0 {
		from = now.Add(-*lookback)
	} else {
		from = markethours.SessionStart(now)
	}
	fromMs, toMs := from.UnixMilli(), now.UnixMilli()

	cfg := analysis.DefaultConfig()
	cfg.IntervalSec = *intervalSec
	cfg.Thresholds.RSI.FiveBand = *fiveBand
	analyzer := analysis.New(cfg)

	var redisWriter *redisstore.Writer
	if *publish && *redisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{Addr: *redisAddr})
		if err != nil {
			log.Fatalf("[analyze] redis: %v", err)
		}
		defer redisWriter.Close()
	}

	if *scan {
		runScan(reader, analyzer, redisWriter, fromMs, toMs)
		return
	}

	res := runOne(reader, analyzer, *token, fromMs, toMs)
	if redisWriter != nil {
		if err := redisWriter.WriteAnalysis(context.Background(), res); err != nil {
			log.Printf("[analyze] redis write: %v", err)
		}
	}
	printJSON(res)
}

func runOne(reader *sqlitestore.Reader, analyzer *analysis.Analyzer, token string, fromMs, toMs int64) *model.AnalysisResult {
	ticks, err := reader.ReadTicks(token, fromMs, toMs)
	if err != nil {
		log.Fatalf("[analyze] read ticks for %s: %v", token, err)
	}
	res, err := analyzer.Analyze(token, ticks)
	if err != nil {
		if errors.Is(err, analysis.ErrNotEnoughRows) {
			log.Fatalf("[analyze] %s: %v (have %d ticks in window)", token, err, len(ticks))
		}
		log.Fatalf("[analyze] %s: %v", token, err)
	}
	return res
}

// scanRow is one line of the ranked scan output.
type scanRow struct {
	Token          string       `json:"token"`
	Score          int          `json:"bullish_score"`
	MaxScore       int          `json:"max_score"`
	Overall        model.Signal `json:"overall_signal"`
	Recommendation string       `json:"recommendation"`
	LTP            float64      `json:"ltp"`
}

func runScan(reader *sqlitestore.Reader, analyzer *analysis.Analyzer, redisWriter *redisstore.Writer, fromMs, toMs int64) {
	tokens, err := reader.DistinctTokens(fromMs, toMs)
	if err != nil {
		log.Fatalf("[analyze] list tokens: %v", err)
	}
	if len(tokens) == 0 {
		log.Fatalf("[analyze] no instruments with ticks in window")
	}

	var rows []scanRow
	for _, tok := range tokens {
		ticks, err := reader.ReadTicks(tok, fromMs, toMs)
		if err != nil {
			log.Printf("[analyze] read ticks for %s: %v", tok, err)
			continue
		}
		res, err := analyzer.Analyze(tok, ticks)
		if err != nil {
			log.Printf("[analyze] skip %s: %v", tok, err)
			continue
		}
		if redisWriter != nil {
			if err := redisWriter.WriteAnalysis(context.Background(), res); err != nil {
				log.Printf("[analyze] redis write for %s: %v", tok, err)
			}
		}
		rows = append(rows, scanRow{
			Token:          res.Token,
			Score:          res.BullishScore,
			MaxScore:       res.MaxScore,
			Overall:        res.OverallSignal,
			Recommendation: res.Recommendation,
			LTP:            res.LTP,
		})
	}

	// Rank by score fraction, best first. Use the same fraction the
	// verdict bands use so ordering matches the labels.
	sort.SliceStable(rows, func(i, j int) bool {
		return scoreFraction(rows[i]) > scoreFraction(rows[j])
	})
	printJSON(rows)
}

func scoreFraction(r scanRow) float64 {
	if r.MaxScore == 0 {
		return 0
	}
	return float64(r.Score) / float64(r.MaxScore)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Fatalf("[analyze] encode: %v", err)
	}
}
