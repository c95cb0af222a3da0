// Package scheduler wires the recurring collection and analytics jobs onto a
// cron scheduler pinned to the Korean exchange calendar.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"kstock_insight/services/dart"
	"kstock_insight/services/marketdata"
	"kstock_insight/services/news"
	"kstock_insight/services/screener"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"
)

// All triggers are cron expressions evaluated in Asia/Seoul. Weekday-only
// schedules track KRX trading days; holidays simply produce empty fetches.
const (
	exchangeTimezone = "Asia/Seoul"

	syncStocksMarketHoursCron = "0,30 9-15 * * 1-5"
	syncStocksCron            = "30 18 * * 1-5"
	fetchDailyPricesCron      = "45 18 * * 1-5"
	detectVolumeSpikesCron    = "0 19 * * 1-5"
	fetchDisclosuresCron      = "30 19 * * 1-5"
	fetchNewsCron             = "0 20 * * 1-5"

	spikeJobMinRatio = 2.0
	spikeJobLimit    = 100
	newsJobMovers    = 10
)

// JobStatus is one scheduled job's externally visible state.
type JobStatus struct {
	Name    string     `json:"name"`
	Trigger string     `json:"trigger"`
	NextRun *time.Time `json:"next_run"`
}

// Status reports the scheduler and its jobs.
type Status struct {
	Running bool        `json:"running"`
	Jobs    []JobStatus `json:"jobs"`
}

type jobSpec struct {
	name string
	expr string
	run  func(ctx context.Context)
	job  *gocron.Job
}

// Scheduler owns the cron loop and the job table. Collaborators are injected
// so jobs run against the same collectors the HTTP layer uses.
type Scheduler struct {
	cron        *gocron.Scheduler
	db          *gorm.DB
	prices      *marketdata.Collector
	screener    *screener.Screener
	disclosures *dart.Collector
	news        *news.Collector
	jobs        []*jobSpec
}

// New creates a scheduler and registers the job table. Jobs do not run until
// Start is called.
func New(db *gorm.DB, prices *marketdata.Collector, scr *screener.Screener, disclosures *dart.Collector, newsCollector *news.Collector) (*Scheduler, error) {
	loc, err := time.LoadLocation(exchangeTimezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", exchangeTimezone, err)
	}

	s := &Scheduler{
		cron:        gocron.NewScheduler(loc),
		db:          db,
		prices:      prices,
		screener:    scr,
		disclosures: disclosures,
		news:        newsCollector,
	}

	s.jobs = []*jobSpec{
		{name: "sync_stocks_market_hours", expr: syncStocksMarketHoursCron, run: s.refreshIntradayListing},
		{name: "sync_stocks", expr: syncStocksCron, run: s.syncStocks},
		{name: "fetch_daily_prices", expr: fetchDailyPricesCron, run: s.fetchDailyPrices},
		{name: "detect_volume_spikes", expr: detectVolumeSpikesCron, run: s.detectVolumeSpikes},
		{name: "fetch_disclosures", expr: fetchDisclosuresCron, run: s.fetchDisclosures},
		{name: "fetch_news", expr: fetchNewsCron, run: s.fetchNews},
	}

	for _, spec := range s.jobs {
		spec := spec
		job, err := s.cron.Cron(spec.expr).Tag(spec.name).Do(func() {
			s.runJob(spec.name, spec.run)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to register job %s: %w", spec.name, err)
		}
		spec.job = job
	}

	return s, nil
}

// Start begins the cron loop. Calling it again while running is a no-op.
func (s *Scheduler) Start() {
	if s.cron.IsRunning() {
		log.Println("Scheduler already running, ignoring Start")
		return
	}
	s.cron.StartAsync()
	log.Printf("Scheduler started with %d jobs", len(s.jobs))
}

// Stop halts the cron loop without waiting for in-flight jobs.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// Status reports the loop state and each job's next run time.
func (s *Scheduler) Status() Status {
	status := Status{Running: s.cron.IsRunning()}
	for _, spec := range s.jobs {
		js := JobStatus{Name: spec.name, Trigger: spec.expr}
		if status.Running && spec.job != nil {
			next := spec.job.NextRun()
			if !next.IsZero() {
				js.NextRun = &next
			}
		}
		status.Jobs = append(status.Jobs, js)
	}
	return status
}

// RunJob executes one job by name, synchronously, outside its schedule.
func (s *Scheduler) RunJob(name string) error {
	for _, spec := range s.jobs {
		if spec.name == name {
			s.runJob(spec.name, spec.run)
			return nil
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

// runJob isolates a job run; a panicking job must not take down the loop or
// its siblings.
func (s *Scheduler) runJob(name string, fn func(ctx context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Job %s panicked: %v", name, r)
		}
	}()

	start := time.Now()
	log.Printf("Running job %s", name)
	fn(context.Background())
	log.Printf("Job %s finished in %s", name, time.Since(start).Round(time.Millisecond))
}

// refreshIntradayListing re-syncs the full market listing while the exchange
// is open, keeping names, active flags, today's bars and market caps fresh.
func (s *Scheduler) refreshIntradayListing(ctx context.Context) {
	if _, err := s.prices.SyncStockList(ctx, ""); err != nil {
		log.Printf("Intraday listing refresh failed: %v", err)
	}
}

// syncStocks reconciles the listed-stock universe after the close.
func (s *Scheduler) syncStocks(ctx context.Context) {
	if _, err := s.prices.SyncStockList(ctx, ""); err != nil {
		log.Printf("Stock list sync failed: %v", err)
	}
}

// fetchDailyPrices stores the final bars for the trading day.
func (s *Scheduler) fetchDailyPrices(ctx context.Context) {
	if _, err := s.prices.FetchDailyPrices(ctx, time.Now(), ""); err != nil {
		log.Printf("Daily price fetch failed: %v", err)
	}
}

// detectVolumeSpikes recomputes the spike cache from the day's final bars.
func (s *Scheduler) detectVolumeSpikes(_ context.Context) {
	items, err := s.screener.VolumeSpikes("", spikeJobMinRatio, spikeJobLimit)
	if err != nil {
		log.Printf("Volume spike detection failed: %v", err)
		return
	}
	log.Printf("Detected %d volume spikes", len(items))
}

// fetchDisclosures pulls the whole-market DART feed for today.
func (s *Scheduler) fetchDisclosures(ctx context.Context) {
	if _, err := s.disclosures.FetchByDate(ctx, time.Now()); err != nil {
		log.Printf("Disclosure fetch failed: %v", err)
	}
}

// fetchNews scrapes news for the day's top gainers.
func (s *Scheduler) fetchNews(ctx context.Context) {
	if _, err := s.news.FetchForTopMovers(ctx, s.screener, newsJobMovers); err != nil {
		log.Printf("News fetch failed: %v", err)
	}
}
