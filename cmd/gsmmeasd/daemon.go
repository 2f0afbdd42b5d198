package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dbehnke/gsmmeas/internal/acch"
	"github.com/dbehnke/gsmmeas/internal/backhaul"
	"github.com/dbehnke/gsmmeas/internal/config"
	"github.com/dbehnke/gsmmeas/internal/database"
	"github.com/dbehnke/gsmmeas/internal/dispatch"
	"github.com/dbehnke/gsmmeas/internal/logging"
	"github.com/dbehnke/gsmmeas/internal/measurement"
	"github.com/dbehnke/gsmmeas/internal/observability"
	"github.com/dbehnke/gsmmeas/internal/power"
	"github.com/dbehnke/gsmmeas/internal/protocol"
	"github.com/dbehnke/gsmmeas/internal/virtphy"
)

const (
	FRAME_PER = protocol.GSM_TDMA_FRAME_US * time.Microsecond

	// without the real-time frame clock a whole TCH period is run per tick
	FAST_TICK          = 10 * time.Millisecond
	FAST_TICK_FRAMES   = protocol.GSM_TCH_MEAS_PERIOD
	PRUNE_INTERVAL     = time.Hour
	HTTP_SHUTDOWN_WAIT = 5 * time.Second
)

// Daemon owns the measurement core of one BTS and the goroutines around it.
// Only the frame loop touches channel state.
type Daemon struct {
	cfg *config.Config
	log logging.Logger

	registry *prometheus.Registry
	metrics  *observability.MeasCollector

	link      *backhaul.Link
	queue     *backhaul.QueueSink
	stopQueue context.CancelFunc
	db        *database.DB

	channels []*dispatch.Channel
	radio    *virtphy.Radio
	fn       uint32

	httpServer *http.Server
	wg         sync.WaitGroup
}

// newDaemon wires all components from a loaded configuration
func newDaemon(cfg *config.Config, logger logging.Logger) (*Daemon, error) {
	d := &Daemon{
		cfg:      cfg,
		log:      logger,
		registry: prometheus.NewRegistry(),
	}

	metrics, err := observability.NewMeasCollector(d.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	d.metrics = metrics

	d.link = backhaul.NewLink(logger, backhaul.NewLogSink(logger.With(logging.String("component", "report"))))

	if cfg.GetDatabaseEnabled() {
		db, err := database.NewDB(database.Config{Path: cfg.GetDatabasePath()}, log.New(os.Stdout, "[DB] ", log.LstdFlags))
		if err != nil {
			return nil, fmt.Errorf("failed to open report store: %w", err)
		}
		d.db = db
		d.queue = backhaul.NewQueueSink(backhaul.NewStoreSink(db.Reports()), cfg.GetQueueDepth(), logger)
		d.link.AddSink(d.queue)
	}

	loop := dispatch.NewFollowLoop(logger)
	disp := dispatch.New(d.link, loop, loop.TA(), metrics, logger)

	vp := cfg.GetVirtPHY()
	if vp.Enabled {
		d.radio = virtphy.New(virtphy.Config{
			ULLevelDBm:  vp.ULLevelDBm,
			DLLevelDBm:  vp.DLLevelDBm,
			NoiseDB:     vp.NoiseDB,
			BER10k:      vp.BER10k,
			LossPercent: vp.LossPercent,
			DLDTX:       vp.DLDTX,
			Seed:        vp.Seed,
		}, disp, logger)
	}

	for _, cc := range cfg.GetChannels() {
		ch := d.newChannel(cc)
		d.channels = append(d.channels, ch)
		if d.radio != nil {
			d.radio.Attach(ch)
		}
	}

	return d, nil
}

func (d *Daemon) newChannel(cc measurement.ChannelConfig) *dispatch.Channel {
	chLog := d.log.With(logging.String("lchan", cc.String()))
	return dispatch.NewChannel(
		measurement.NewChannel(cc, d.log, d.metrics),
		power.NewDownlink(d.cfg.GetPowerParams(), d.cfg.GetPowerState(), chLog),
		acch.NewRepetition(d.cfg.GetRepCaps(), chLog),
		acch.NewOverpower(d.cfg.GetOverpowerCaps(), chLog),
	)
}

// step advances the frame clock by one TDMA frame
func (d *Daemon) step() {
	if d.radio != nil {
		d.radio.Tick(d.fn)
	}
	d.fn = (d.fn + 1) % protocol.GSM_HYPERFRAME
}

// Run starts the background goroutines and drives the frame loop until
// ctx is cancelled
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("gsmmeasd starting",
		logging.String("version", VERSION),
		logging.String("bts", d.cfg.GetBTSName()),
		logging.Int("channels", len(d.channels)),
		logging.Bool("virtphy", d.radio != nil),
		logging.Bool("database", d.db != nil))

	if d.cfg.GetMetricsEnabled() {
		if err := d.startHTTP(); err != nil {
			return err
		}
	}

	if d.queue != nil {
		// stopped in shutdown, after the frame loop delivered its last report
		queueCtx, stop := context.WithCancel(context.Background())
		d.stopQueue = stop
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.queue.Run(queueCtx)
		}()

		if d.cfg.GetDatabaseRetention() > 0 {
			d.wg.Add(1)
			go d.pruner(ctx)
		}
	}

	d.wg.Add(1)
	go d.statusReporter(ctx)

	d.link.LinkUp()
	d.frameLoop(ctx)
	d.link.LinkDown()

	d.shutdown()
	return nil
}

func (d *Daemon) frameLoop(ctx context.Context) {
	period, frames := FRAME_PER, 1
	if !d.cfg.GetFrameClock() {
		period, frames = FAST_TICK, FAST_TICK_FRAMES
	}

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("frame loop stopped", logging.Uint32("fn", d.fn))
			return
		case <-ticker.C:
			for i := 0; i < frames; i++ {
				d.step()
			}
		}
	}
}

func (d *Daemon) startHTTP() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Handler())
	mux.HandleFunc("/healthz", d.handleHealth)

	d.httpServer = &http.Server{
		Addr:              d.cfg.GetMetricsListen(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := d.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("metrics server failed", logging.Err(err))
		}
	}()

	d.log.Info("metrics server listening", logging.String("addr", d.cfg.GetMetricsListen()))
	return nil
}

func (d *Daemon) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !d.link.IsUp() {
		http.Error(w, "link down", http.StatusServiceUnavailable)
		return
	}
	if d.db != nil {
		if err := d.db.Health(); err != nil {
			http.Error(w, "database: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// statusReporter provides periodic status updates
func (d *Daemon) statusReporter(ctx context.Context) {
	defer d.wg.Done()

	interval := d.cfg.GetStatsInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sent, failed := d.link.Stats()
			fields := []logging.Field{
				logging.Bool("link_up", d.link.IsUp()),
				logging.Any("reports_sent", sent),
				logging.Any("reports_failed", failed),
			}
			if d.queue != nil {
				fields = append(fields,
					logging.Int("queue_pending", d.queue.Pending()),
					logging.Any("queue_dropped", d.queue.Dropped()))
			}
			if d.radio != nil {
				st := d.radio.Stats()
				fields = append(fields,
					logging.Any("ul_samples", st.Samples),
					logging.Any("ul_lost", st.Lost),
					logging.Any("intervals", st.Intervals))
			}
			d.log.Info("status", fields...)
		}
	}
}

// pruner drops reports older than the retention period
func (d *Daemon) pruner(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(PRUNE_INTERVAL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.prune()
		}
	}
}

func (d *Daemon) prune() {
	cutoff := time.Now().Add(-d.cfg.GetDatabaseRetention())
	removed, err := d.db.Reports().DeleteOlderThan(cutoff)
	if err != nil {
		d.log.Warn("report pruning failed", logging.Err(err))
		return
	}
	if removed > 0 {
		d.log.Info("pruned old reports", logging.Any("removed", removed))
	}
}

func (d *Daemon) shutdown() {
	if d.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), HTTP_SHUTDOWN_WAIT)
		if err := d.httpServer.Shutdown(ctx); err != nil {
			d.log.Warn("metrics server shutdown", logging.Err(err))
		}
		cancel()
	}

	if d.stopQueue != nil {
		d.stopQueue()
	}
	d.wg.Wait()

	if d.db != nil {
		if err := d.db.Close(); err != nil {
			d.log.Warn("closing report store", logging.Err(err))
		}
	}
	d.log.Info("gsmmeasd stopped")
}
