package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"sleipnir/internal/algo"
	"sleipnir/internal/compliance"
	"sleipnir/internal/config"
	"sleipnir/internal/dispatch"
	"sleipnir/internal/domain"
	"sleipnir/internal/ledger"
	"sleipnir/internal/ledger/sqlitestore"
	"sleipnir/internal/oms"
	"sleipnir/internal/quote"
	"sleipnir/internal/venue"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults apply if empty)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer stop()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load config")
		}
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	store, cleanup, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to open order store")
	}
	defer cleanup()

	if len(cfg.Venues) == 0 {
		cfg.Venues = []config.VenueConfig{
			{Name: "ARCA", Latency: config.Duration(2 * time.Millisecond)},
			{Name: "BATS", Latency: config.Duration(3 * time.Millisecond)},
		}
	}
	routing := cfg.RouterConfig()

	quotes := seedQuotes(cfg)
	venues := make([]dispatch.Venue, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		venues = append(venues, venue.NewSim(v.Name, quotes, v.Latency.Std()))
	}

	ldg := ledger.New(store)
	dispatcher := dispatch.New(venues, ldg, quotes, routing, cfg.DispatchConfig())
	scheduler := algo.NewScheduler(ldg, quotes, dispatcher, routing, venue.NewSimVolume(500), cfg.AlgoConfig())
	defer scheduler.Stop()

	service := oms.NewService(
		compliance.NewRuleGate(cfg.Compliance), ldg, quotes, dispatcher, scheduler, routing,
	)

	runDemo(ctx, service, scheduler)
	<-ctx.Done()
}

func openStore(cfg config.Config) (ledger.Store, func(), error) {
	if cfg.Store.Driver == "sqlite" {
		store, err := sqlitestore.Open(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("closing order store")
			}
		}, nil
	}
	return ledger.NewMemStore(), func() {}, nil
}

// seedQuotes builds a book per configured venue so the sim venues have
// something to fill against.
func seedQuotes(cfg config.Config) *quote.Static {
	quotes := quote.NewStatic()
	base := decimal.NewFromFloat(150.00)
	tick := decimal.NewFromFloat(0.01)
	for i, v := range cfg.Venues {
		offset := tick.Mul(decimal.NewFromInt(int64(i)))
		book := quote.NewBookSnapshot(v.Name, "AAPL",
			[]quote.Level{
				{Price: base.Sub(tick).Sub(offset), Quantity: 800},
				{Price: base.Sub(tick).Sub(offset).Sub(tick), Quantity: 1200},
			},
			[]quote.Level{
				{Price: base.Add(offset), Quantity: 600},
				{Price: base.Add(offset).Add(tick), Quantity: 1000},
			},
		)
		book.Latency = v.Latency.Std()
		book.DarkPool = v.DarkPool
		quotes.Put(book)
	}
	return quotes
}

// runDemo pushes one immediate limit order and one short TWAP order
// through the full pipeline.
func runDemo(ctx context.Context, service *oms.Service, scheduler *algo.Scheduler) {
	limit, err := service.Submit(ctx, domain.Order{
		ClientOrderID: "demo-limit-1",
		Symbol:        "AAPL",
		Side:          domain.Buy,
		Type:          domain.LimitOrder,
		Quantity:      1000,
		LimitPrice:    decimal.NewFromFloat(150.05),
	})
	if err != nil {
		log.Error().Err(err).Msg("limit order submission failed")
	} else {
		log.Info().
			Str("order", limit.Order.ID).
			Str("status", limit.Order.Status.String()).
			Uint64("filled", limit.Order.Filled).
			Str("avg", limit.Order.AveragePrice.String()).
			Msg("limit order done")
	}

	now := time.Now()
	twap, err := service.Submit(ctx, domain.Order{
		ClientOrderID: "demo-twap-1",
		Symbol:        "AAPL",
		Side:          domain.Buy,
		Type:          domain.MarketOrder,
		Quantity:      500,
		Algorithm:     domain.AlgoTWAP,
		AlgoParams: domain.AlgoParams{
			StartTime:     now,
			EndTime:       now.Add(5 * time.Second),
			SliceInterval: time.Second,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("twap order submission failed")
		return
	}

	if err := scheduler.Wait(twap.Order.ID); err != nil {
		log.Error().Err(err).Msg("twap runner failed")
	}
	if progress, err := scheduler.MonitorProgress(twap.Order.ID); err == nil {
		log.Info().
			Str("order", twap.Order.ID).
			Float64("progress", progress.Progress).
			Float64("slippage_bps", progress.SlippageBps).
			Bool("on_schedule", progress.OnSchedule).
			Msg("twap order done")
	}
}
