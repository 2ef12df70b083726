package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"spikes-trader/config"
	"spikes-trader/internal/logger"
	"spikes-trader/internal/marketdata/bus"
	"spikes-trader/internal/marketdata/replay"
	"spikes-trader/internal/marketdata/ws"
	"spikes-trader/internal/metrics"
	"spikes-trader/internal/model"
	"spikes-trader/internal/prebar"
	"spikes-trader/internal/sched"
	"spikes-trader/internal/sessiongate"
	"spikes-trader/internal/spikes"
	redisstore "spikes-trader/internal/store/redis"
	"spikes-trader/internal/venue"
)

const clockInterval = 250 * time.Millisecond

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	// Local .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	slogger := logger.Init("spikesd", logger.ParseLevel(cfg.LogLevel))
	slogger.Info("starting", slog.String("venue_mode", cfg.VenueMode))

	insts, err := config.LoadInstruments(cfg.InstrumentsPath)
	if err != nil {
		log.Fatalf("[spikesd] instruments: %v", err)
	}
	codes := make([]string, 0, len(insts))
	for _, in := range insts {
		codes = append(codes, in.Code)
	}
	slogger.Info("instruments loaded", slog.Int("count", len(insts)))

	mode := sessiongate.Primary
	if cfg.SessionMode == "secondary" {
		mode = sessiongate.Secondary
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Fill journal (SQLite, WAL) ----
	os.MkdirAll("data", 0o755)
	journal, err := venue.NewJournal(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[spikesd] journal init failed: %v", err)
	}
	defer journal.Close()
	health.SetJournalOK(true)

	// ---- Redis publisher (optional, process continues without it) ----
	var pub *redisstore.Publisher
	pub, err = redisstore.New(redisstore.PublisherConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[spikesd] WARNING: redis init failed: %v (continuing without redis)", err)
		pub = nil
		health.SetRedisConnected(false)
	} else {
		defer pub.Close()
		health.SetRedisConnected(true)
		go func() {
			t := time.NewTicker(10 * time.Second)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					health.CheckRedis(ctx, pub.Client())
				}
			}
		}()
	}

	fillCh := make(chan model.Fill, 256)
	if pub != nil {
		go pub.Run(ctx, fillCh)
	}

	// ---- Venue ----
	var (
		vn    spikes.Venue
		paper *venue.Paper
		live  *venue.Live
	)
	switch cfg.VenueMode {
	case "paper":
		paper = venue.NewPaper(insts)
		vn = paper
	case "live":
		live, err = venue.NewLive(venue.LiveConfig{
			BaseURL:    cfg.VenueBaseURL,
			APIKey:     cfg.VenueAPIKey,
			ClientCode: cfg.VenueClientCode,
			TOTPSecret: cfg.VenueTOTPSecret,
		})
		if err != nil {
			log.Fatalf("[spikesd] live venue: %v", err)
		}
		vn = live
	default:
		log.Fatalf("[spikesd] unknown VENUE_MODE %q (want paper or live)", cfg.VenueMode)
	}

	// ---- Strategy ----
	scheduler := sched.New(time.Now)
	strat, err := spikes.New(spikes.Config{
		Name:          "spikes",
		Instruments:   insts,
		BarMinutes:    cfg.BarMinutes,
		Mode:          mode,
		StopLossPct:   cfg.StopLossPct,
		TakeProfitPct: cfg.TakeProfitPct,
		DeltaPct:      cfg.DeltaPct,
		DeltaFarPct:   cfg.DeltaFarPct,
		SingleFarCode: cfg.SingleFarCode,
		EveningOnly:   cfg.EveningOnly,
		BarsToClose:   cfg.BarsToClose,
		NativeStops:   cfg.NativeStops,
	}, vn, scheduler, slogger)
	if err != nil {
		log.Fatalf("[spikesd] strategy: %v", err)
	}

	strat.OnPreBarFired = func() { prom.PreBarFires.Inc() }
	strat.OnEntryOrder = func(far bool) {
		bracket := "near"
		if far {
			bracket = "far"
		}
		prom.EntryOrders.WithLabelValues(bracket).Inc()
	}
	strat.OnStopTriggered = func() { prom.StopsPlaced.Inc() }
	strat.OnTimeExitDone = func() { prom.TimeExitsDone.Inc() }

	strat.Registry().OnChange = func() {
		snap := strat.Registry().Snapshot()
		gross := strat.Book().Gross()
		prom.ActiveTrades.Set(float64(len(snap)))
		prom.Gross.Set(float64(gross))
		if pub != nil {
			// network writes happen off the strategy's lock
			go func() {
				pub.PublishActiveTrades(ctx, snap)
				pub.PublishGross(ctx, gross)
			}()
		}
	}

	handleFill := func(order model.Order, fill model.Fill) {
		prom.FillsTotal.Inc()
		strat.OnOwnFill(order, fill)

		began := time.Now()
		if err := journal.RecordFill(fill); err != nil {
			log.Printf("[spikesd] journal write failed: %v", err)
			health.SetJournalOK(false)
		} else {
			prom.JournalWriteDur.Observe(time.Since(began).Seconds())
		}

		select {
		case fillCh <- fill:
		default:
			log.Println("[spikesd] fill publish channel full, dropping")
		}
	}

	if paper != nil {
		paper.SetFillHandler(handleFill)
	}
	if live != nil {
		go live.StreamFills(ctx, handleFill)
	}

	// ---- Tick pipeline ----
	tickCh := make(chan model.Tick, 10000)
	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriber string) {
		prom.DroppedTicks.WithLabelValues(subscriber).Inc()
	}
	dispatchCh := fanout.Subscribe("dispatch")
	telemetryCh := fanout.Subscribe("telemetry")
	go fanout.Run(ctx, tickCh)

	// Fills settle inside paper.OnTick, so the strategy sees its own fill
	// before the tick that produced it.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-dispatchCh:
				if !ok {
					return
				}
				if paper != nil {
					paper.OnTick(tick)
				}
				strat.OnTick(tick)
			}
		}
	}()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tick, ok := <-telemetryCh:
				if !ok {
					return
				}
				prom.TicksTotal.Inc()
				health.SetLastTickTime(tick.TickTS)
			}
		}
	}()

	// ---- Tick source ----
	if cfg.ReplayPath != "" {
		rp := replay.New(cfg.ReplayPath)
		go func() {
			if err := rp.Run(ctx, 1.0, tickCh); err != nil && ctx.Err() == nil {
				log.Printf("[spikesd] replay stopped: %v", err)
			}
		}()
		health.SetFeedConnected(true)
	} else {
		ingest, err := ws.New(ws.IngestConfig{FeedURL: cfg.FeedURL, Codes: codes})
		if err != nil {
			log.Fatalf("[spikesd] feed: %v", err)
		}
		ingest.OnConnected = func() { health.SetFeedConnected(true) }
		ingest.OnReconnect = func() { health.SetFeedConnected(false) }
		go func() {
			if err := ingest.Start(ctx, tickCh); err != nil && ctx.Err() == nil {
				log.Printf("[spikesd] feed stopped: %v", err)
			}
		}()
	}

	// ---- Strategy clock ----
	strat.Start()
	health.SetStrategyOn(true)
	boundary := prebar.NewBoundary(cfg.BarMinutes)
	go func() {
		ticker := time.NewTicker(clockInterval)
		defer ticker.Stop()
		prev := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				strat.OnClockTick(now, now.Sub(prev))
				prev = now
				if boundary.Observe(now) {
					strat.OnBarClose(now)
				}
			}
		}
	}()

	slogger.Info("running",
		slog.Int("bar_minutes", cfg.BarMinutes),
		slog.String("session_mode", cfg.SessionMode),
		slog.Bool("evening_only", cfg.EveningOnly))

	<-sigCh
	slogger.Info("shutting down")

	strat.Stop()
	health.SetStrategyOn(false)
	scheduler.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[spikesd] metrics shutdown: %v", err)
	}
	slogger.Info("stopped")
}
