package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carbonreceiver/arbiter"
	"carbonreceiver/datastore"
	"carbonreceiver/server"

	log "github.com/sirupsen/logrus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
	log.Info("carbon receiver stopped")
}

// run wires the receiver and its sinks and blocks until a signal arrives or
// the arbiter fails. Deferred cleanups run before it returns.
func run() error {
	configFile := flag.StringP("config", "c", "", "key=value configuration file")
	logLevel := flag.String("log-level", "", "overrides log_level")
	statusAddr := flag.String("status-addr", "", "overrides status_addr, e.g. 127.0.0.1:8982")
	flag.Parse()

	// load config
	cfg, err := arbiter.LoadConfig(*configFile)
	if err != nil {
		return err
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *statusAddr != "" {
		cfg.StatusAddr = *statusAddr
	}
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	if err := cfg.Validate(); err != nil {
		return err
	}

	// sinks
	sinks := arbiter.MultiSink{}
	if cfg.CommandLog != "" {
		f, err := os.OpenFile(cfg.CommandLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		defer f.Close()
		sinks = append(sinks, arbiter.NewWriterSink(f))
	} else {
		sinks = append(sinks, arbiter.NewWriterSink(os.Stdout))
	}

	var store *datastore.Store
	if cfg.DatabaseDSN != "" {
		store, err = datastore.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return err
		}
		defer store.Close()
		sinks = append(sinks, store)
	}

	if cfg.NATSURL != "" {
		natsSink, err := arbiter.ConnectNATS(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			return err
		}
		defer natsSink.Close()
		sinks = append(sinks, natsSink)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	arb, err := arbiter.New(cfg, sinks, arbiter.WithMetrics(arbiter.NewMetrics(reg)))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.StatusAddr != "" {
		svc := &server.Services{
			Elements: arb.Aggregator(),
			Stats:    arb,
			Gatherer: reg,
		}
		if store != nil {
			svc.Archive = store
		}
		s := server.New(cfg.StatusAddr, svc, 10*time.Second, 10*time.Second)
		go func() {
			if err := server.Serve(ctx, s); err != nil {
				log.Errorf("status server: %s", err)
				stop()
			}
		}()
	}

	if err := arb.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
