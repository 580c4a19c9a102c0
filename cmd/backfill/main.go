// cmd/backfill/main.go
// Batch import tool: fetch and persist a JSON list of set numbers without
// going through the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"brickradar/internal/cache"
	"brickradar/internal/config"
	"brickradar/internal/model"
	"brickradar/internal/pkg/logger"
	"brickradar/internal/pkg/ratelimit"
	"brickradar/internal/service"
	"brickradar/internal/sources"
	"brickradar/internal/store"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

// BackfillFile is the input file shape.
type BackfillFile struct {
	Sets []string `json:"sets"`
}

func main() {
	configFile := flag.String("config", "", "config file path")
	file := flag.String("file", "", "JSON file path (required)")
	source := flag.String("source", "", "source to backfill: bricklink | brickset | brickeconomy | scores")
	dryRun := flag.Bool("dry-run", false, "parse and list the sets without fetching or writing")
	flag.Parse()

	_ = godotenv.Load()

	if *file == "" || *source == "" {
		fmt.Println("Usage: backfill -file <json_file> -source <source>")
		fmt.Println()
		fmt.Println("Options:")
		fmt.Println("  -file     JSON file path")
		fmt.Println("  -source   bricklink | brickset | brickeconomy | scores")
		fmt.Println("  -config   config file path (default: configs/config.json)")
		fmt.Println("  -dry-run  parse and list the sets without fetching or writing")
		fmt.Println()
		fmt.Println("JSON file format:")
		fmt.Println(`{
  "sets": ["75192-1", "10179-1", "21309"]
}`)
		os.Exit(1)
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read file: %v\n", err)
		os.Exit(1)
	}
	var input BackfillFile
	if err := json.Unmarshal(data, &input); err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse JSON: %v\n", err)
		os.Exit(1)
	}
	if len(input.Sets) == 0 {
		fmt.Fprintln(os.Stderr, "no sets listed in input file")
		os.Exit(1)
	}
	fmt.Printf("Loaded %d sets from %s\n", len(input.Sets), *file)

	if *dryRun {
		for _, s := range input.Sets {
			fmt.Printf("  would fetch %s (%s)\n", sources.NormalizeSetNumber(s), *source)
		}
		fmt.Println("Dry run, nothing fetched or written.")
		return
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	slogger := logger.NewDefault(cfg.App.LogLevel)
	slog.SetDefault(slogger)

	db, err := model.Open(&cfg.Storage, slogger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	if err := model.AutoMigrate(db); err != nil {
		fmt.Fprintf(os.Stderr, "failed to migrate database: %v\n", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()
	}

	st := store.New(db, slogger)
	ca := cache.New(rdb, cfg.Cache.TTL, cfg.Cache.ErrorTTL, slogger)
	var limiter *ratelimit.Limiter
	if rdb != nil && cfg.App.RateLimit > 0 {
		limiter = ratelimit.New(rdb, int(cfg.App.RateLimit), int(cfg.App.RateBurst))
	}

	var bl *sources.BrickLinkClient
	if cfg.Sources.BrickLinkConfigured() {
		c := cfg.Sources.BrickLink
		bl = sources.NewBrickLinkClient(c.ConsumerKey, c.ConsumerSecret, c.Token, c.TokenSecret, cfg.Sources.Timeout)
	}
	var bs *sources.BrickSetClient
	if cfg.Sources.BrickSetAPIKey != "" {
		bs = sources.NewBrickSetClient(cfg.Sources.BrickSetAPIKey, cfg.Sources.Timeout)
	}
	var be *sources.BrickEconomyClient
	if cfg.Sources.BrickEconomyAPIKey != "" {
		be = sources.NewBrickEconomyClient(cfg.Sources.BrickEconomyAPIKey, cfg.Sources.Timeout)
	}

	svc := service.New(st, ca, limiter, bl, bs, be, cfg.Sources.Currency, slogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var res *service.BatchResult
	switch *source {
	case service.SourceBrickLink:
		res, err = svc.FetchBrickLink(ctx, input.Sets)
	case service.SourceBrickSet:
		res, err = svc.FetchBrickSet(ctx, input.Sets)
	case service.SourceBrickEconomy:
		res, err = svc.FetchBrickEconomy(ctx, input.Sets)
	case "scores":
		res, err = svc.ComputeScores(ctx, input.Sets)
	default:
		fmt.Fprintf(os.Stderr, "unknown source: %s\n", *source)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "backfill failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Done: %d rows persisted (batch %s)\n", len(res.Rows), res.BatchID)
	for _, w := range res.Warnings {
		fmt.Printf("  warning: %s\n", w)
	}
}
