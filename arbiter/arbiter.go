// Package arbiter drives the receiver and the aggregator: it ingests raw
// buffers, hands ready commands to a sink and runs periodic maintenance.
package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"carbonreceiver/aggregators"
	"carbonreceiver/receiver"
	"carbonreceiver/util"

	log "github.com/sirupsen/logrus"
)

var ErrFetchDied = errors.New("Carbon reader thread unexpectedly died")

// Source yields raw carbon buffers. *receiver.Receiver implements it.
type Source interface {
	Receive() ([]byte, error)
	Close() error
}

type Option func(*Arbiter)

func WithClock(c util.Clock) Option {
	return func(a *Arbiter) { a.clock = c }
}

func WithMetrics(m *Metrics) Option {
	return func(a *Arbiter) { a.metrics = m }
}

// WithReceiver replaces the network receiver New would open.
func WithReceiver(s Source) Option {
	return func(a *Arbiter) { a.source = s }
}

func WithLogger(l log.FieldLogger) Option {
	return func(a *Arbiter) { a.log = l }
}

// Stats counts what the arbiter has done since it was created.
type Stats struct {
	Buffers      int64 `json:"buffers"`
	Points       int64 `json:"points"`
	DecodeErrors int64 `json:"decodeErrors"`
	NamingErrors int64 `json:"namingErrors"`
	Commands     int64 `json:"commands"`
	// WindowCommands is reset at every throughput report.
	WindowCommands int64 `json:"windowCommands"`
	Elements       int   `json:"elements"`
}

type Arbiter struct {
	cfg     *Config
	sink    Sink
	source  Source
	agg     *aggregators.Aggregator
	clock   util.Clock
	metrics *Metrics
	log     log.FieldLogger

	interrupted atomic.Bool
	stopOnce    sync.Once

	buffers        atomic.Int64
	points         atomic.Int64
	decodeErrors   atomic.Int64
	namingErrors   atomic.Int64
	commands       atomic.Int64
	windowCommands atomic.Int64

	fetchDone chan struct{}
	fetchErr  error
}

// New validates cfg and opens the network receiver unless one was given
// with WithReceiver.
func New(cfg *Config, sink Sink, opts ...Option) (*Arbiter, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	a := &Arbiter{
		cfg:   cfg,
		sink:  sink,
		clock: util.RealClock(),
		log:   log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.source == nil {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if cfg.UseUDP {
			a.log.Infof("[Carbon] Using host=%s port=%d on UDP", cfg.UDPHost, cfg.UDPPort)
		}
		if cfg.UseTCP {
			a.log.Infof("[Carbon] Using host=%s port=%d on TCP", cfg.TCPHost, cfg.TCPPort)
		}
		r, err := receiver.New(cfg.udpConfig(), cfg.tcpConfig())
		if err != nil {
			return nil, err
		}
		a.source = r
	}

	// the status server reads the aggregator from its own goroutine
	shared := cfg.Dedicated || cfg.StatusAddr != ""
	a.agg = aggregators.New(aggregators.Options{
		Interval:       cfg.Interval,
		GroupedPlugins: cfg.GroupedPlugins,
		Dedicated:      shared,
		Clock:          a.clock,
	})
	return a, nil
}

func (a *Arbiter) Aggregator() *aggregators.Aggregator {
	return a.agg
}

// Interrupt asks the loop to stop at its next iteration.
func (a *Arbiter) Interrupt() {
	a.interrupted.Store(true)
}

func (a *Arbiter) Interrupted() bool {
	return a.interrupted.Load()
}

// Stop interrupts the loop and closes the source, which is the only way to
// unblock a pending Receive.
func (a *Arbiter) Stop() {
	a.Interrupt()
	a.stopOnce.Do(func() {
		if err := a.source.Close(); err != nil {
			a.log.Warnf("[Carbon] closing receiver: %s", err)
		}
	})
}

// Process decodes one buffer and ingests every valid point. Bad records
// are logged and skipped. It returns the number of ingested points.
func (a *Arbiter) Process(buf []byte) int {
	a.buffers.Add(1)
	a.metrics.incBuffers()

	n := 0
	for update, err := range util.Interpret(util.Decode(buf, a.clock.Now())) {
		if err != nil {
			a.recordError(err)
			continue
		}
		a.agg.Ingest(update)
		n++
	}
	a.points.Add(int64(n))
	a.metrics.addPoints(n)
	return n
}

func (a *Arbiter) recordError(err error) {
	switch {
	case errors.Is(err, util.ErrNaming):
		a.namingErrors.Add(1)
		a.metrics.incNamingErrors()
	default:
		a.decodeErrors.Add(1)
		a.metrics.incDecodeErrors()
	}
	a.log.Errorf("[Carbon] %s", err)
}

func (a *Arbiter) Stats() Stats {
	return Stats{
		Buffers:        a.buffers.Load(),
		Points:         a.points.Load(),
		DecodeErrors:   a.decodeErrors.Load(),
		NamingErrors:   a.namingErrors.Load(),
		Commands:       a.commands.Load(),
		WindowCommands: a.windowCommands.Load(),
		Elements:       a.agg.Len(),
	}
}

// Run loops until Interrupt is called or ctx is done. A transport failure
// or a dead fetch goroutine ends the loop with an error. The source is
// closed on return.
func (a *Arbiter) Run(ctx context.Context) (err error) {
	stop := context.AfterFunc(ctx, a.Stop)
	defer stop()

	if a.cfg.Dedicated {
		a.fetchDone = make(chan struct{})
		go a.fetch()
	}
	defer func() {
		a.Stop()
		if a.fetchDone != nil {
			<-a.fetchDone
		}
		if err != nil {
			a.log.Errorf("[Carbon] Unexpected error: %s", err)
		}
	}()

	now := a.clock.Now()
	nextClean := now.Add(a.cfg.CleanEvery)
	nextReport := now.Add(a.cfg.ReportEvery)

	for !a.Interrupted() {
		if a.cfg.Dedicated {
			a.clock.Sleep(a.cfg.PollEvery)
		} else {
			buf, rerr := a.source.Receive()
			if rerr != nil {
				if a.Interrupted() {
					return nil
				}
				return rerr
			}
			a.Process(buf)
		}

		a.flush(ctx)

		now = a.clock.Now()
		if now.After(nextClean) {
			nextClean = now.Add(a.cfg.CleanEvery)
			if a.cfg.Dedicated && a.fetchDead() && !a.Interrupted() {
				if a.fetchErr != nil {
					return fmt.Errorf("%w: %w", ErrFetchDied, a.fetchErr)
				}
				return ErrFetchDied
			}
			a.clean()
		}
		if now.After(nextReport) {
			nextReport = now.Add(a.cfg.ReportEvery)
			a.log.Infof("%d commands reported during last %s.", a.windowCommands.Swap(0), a.cfg.ReportEvery)
		}
	}
	return nil
}

// fetch feeds the aggregator from its own goroutine until the source
// fails or is closed.
func (a *Arbiter) fetch() {
	defer close(a.fetchDone)
	for !a.Interrupted() {
		buf, err := a.source.Receive()
		if err != nil {
			if !a.Interrupted() {
				a.fetchErr = err
			}
			return
		}
		a.Process(buf)
	}
}

func (a *Arbiter) fetchDead() bool {
	select {
	case <-a.fetchDone:
		return true
	default:
		return false
	}
}

func (a *Arbiter) flush(ctx context.Context) {
	commands := a.agg.Drain()
	if len(commands) == 0 {
		return
	}
	a.commands.Add(int64(len(commands)))
	a.windowCommands.Add(int64(len(commands)))
	a.metrics.addCommands(len(commands))

	if a.sink == nil {
		return
	}
	if err := a.sink.Send(ctx, commands); err != nil {
		a.metrics.incSinkErrors()
		a.log.Errorf("[Carbon] failed to send %d commands: %s", len(commands), err)
	}
}

func (a *Arbiter) clean() {
	start := time.Now()
	metrics, elements := a.agg.Evict()
	remaining := a.agg.Len()
	a.metrics.recordEviction(metrics, elements, remaining)
	if metrics > 0 || elements > 0 {
		a.log.Debugf("[Carbon] evicted %d series and %d elements in %s, %d elements left",
			metrics, elements, time.Since(start), remaining)
	}
}
