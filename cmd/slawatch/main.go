package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/sla-engine/internal/config"
	"github.com/spec-kit/sla-engine/internal/observability"
	"github.com/spec-kit/sla-engine/internal/persistence"
	"github.com/spec-kit/sla-engine/internal/timer"
)

func main() {
	push := flag.Bool("push", false, "apply snapshots pushed over redis pub/sub between resyncs")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: slawatch [-push] <ticket-id>...\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	ticketIDs := flag.Args()
	if len(ticketIDs) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := timer.NewHTTPFetcher(cfg.Timer.APIBaseURL, cfg.Timer.APIToken, cfg.Timer.ResyncInterval/2)
	initial, err := fetcher.Fetch(ctx, ticketIDs)
	if err != nil {
		logger.Fatal("initial snapshot fetch failed", zap.Error(err))
	}
	if len(initial) == 0 {
		logger.Fatal("none of the tickets were found", zap.Strings("ticket_ids", ticketIDs))
	}

	manager := timer.NewManager(fetcher, timer.Options{
		TickInterval:   cfg.Timer.TickInterval,
		ResyncInterval: cfg.Timer.ResyncInterval,
		Logger:         logger,
	})
	for _, snap := range initial {
		manager.Register(snap, nil, func(s timer.State) {
			fmt.Printf("!! %s breached its SLA (escalation level %d)\n", s.TicketID, s.EscalationLevel)
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	if *push {
		redis := persistence.NewRedis(gctx, cfg.Redis, logger)
		defer redis.Close()
		feed := timer.NewRedisFeed(redis.Client, cfg.Timer.RedisChannel, logger)
		g.Go(func() error { return feed.Run(gctx, manager) })
	}
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Timer.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				render(manager)
			}
		}
	})

	if err := g.Wait(); err != nil {
		logger.Error("slawatch stopped", zap.Error(err))
	}
}

func render(m *timer.Manager) {
	ids := m.Registered()
	sort.Strings(ids)
	fmt.Print("\033[H\033[2J")
	fmt.Printf("%-38s %-18s %12s  %s\n", "TICKET", "STATUS", "REMAINING", "STATE")
	for _, id := range ids {
		s, ok := m.State(id)
		if !ok {
			continue
		}
		fmt.Printf("%-38s %-18s %12s  %s\n", s.TicketID, s.Status, formatRemaining(s.Remaining), label(s))
	}
}

func label(s timer.State) string {
	switch {
	case s.Paused:
		return "paused (" + string(s.PauseReason) + ")"
	case s.Overdue:
		return fmt.Sprintf("overdue, level %d", s.EscalationLevel)
	}
	return "running"
}

func formatRemaining(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	sec := int(d%time.Minute) / int(time.Second)
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, sec)
}
