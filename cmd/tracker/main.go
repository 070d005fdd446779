// Package main: tracker service.
//
// It tracks the configured subjects of one network, publishes the enriched transactions to the message broker, if
// any, and serves the RESTful API. The stream credentials, the metadata provider, the database and the broker are all
// set in the configuration file or with PULSE_ variables (see lib/config); a .env file in the working directory is
// loaded first.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/api"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/chain"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/config"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/credential"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/enrich"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/enrich/httpmeta"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/filter"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/metrics"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/msg"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/msg/amqp"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/msg/kafka"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/store/db"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/stream"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/tracker"
)

var logger = loggo.GetLogger("pulsetrack")

// brokerAttempts and brokerDelay give the message broker time to be ready when started together with the tracker.
const (
	brokerAttempts = 3
	brokerDelay    = 10 * time.Second
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from a json or yaml file")
	monitor := flag.Bool("m", false, "flag to serve Prometheus metrics at /metrics on the metrics port")
	flag.Parse()

	if err := run(*confPath, *monitor); err != nil {
		logger.Criticalf("%v", err)
		os.Exit(1)
	}
}

func run(confPath string, monitor bool) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warningf("reading .env: %v", err)
	}

	// extract configuration
	conf, err := config.ExtractConfiguration(confPath)
	if err != nil {
		return errors.Annotate(err, "configuration")
	}

	if err = loggo.ConfigureLoggers(conf.Logging); err != nil {
		return errors.Annotate(err, "logging")
	}

	logger.Infof("tracking network %s with %d credentials", conf.Net, len(conf.Credentials))

	norm, err := chain.New(conf.Net)
	if err != nil {
		return errors.Trace(err)
	}

	// connect to database
	logger.Infof("connecting to %s database", conf.DbType)

	dbConn, err := db.New(conf.DbType, conf.DbConn)
	if err != nil {
		return errors.Annotate(err, "database")
	}

	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Warningf("closing database: %v", err)
		}
	}()

	// load message broker
	mb, err := newBroker(conf)
	if err != nil {
		return errors.Annotate(err, "message broker")
	}

	if mb != nil {
		defer func() {
			if err := mb.Close(); err != nil {
				logger.Warningf("closing message broker: %v", err)
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := metrics.New(reg, conf.Net)

	rot := credential.New(conf.Credentials, conf.Rotation, clock.WallClock)
	dialer := &stream.WSDialer{URL: conf.StreamURL, TokenParam: conf.TokenParam, HandshakeTimeout: conf.Stream.ConnectTimeout}

	// the cache reports failed fetches to the tracker observers
	var tr *tracker.Tracker

	var (
		enr   tracker.Enricher = noMetadata{}
		cache *enrich.Cache
	)

	if conf.MetadataURL != "" {
		cache = enrich.New(conf.Cache, httpmeta.New(conf.MetadataURL, conf.MetadataRPS, conf.MetadataBurst),
			enrich.WithErrorHandler(func(assetID string, err error) {
				tr.OnError(model.EnrichmentFetchError, errors.Annotatef(err, "asset %s", assetID))
			}))
		enr = cache

		metrics.RegisterCache(reg, conf.Net, cache.Stats)
	} else {
		logger.Warningf("no metadata provider configured, transactions will not be enriched")
	}

	tr = tracker.New(conf.Tracker, func(h stream.Handler) tracker.Stream {
		return stream.New(conf.Stream, dialer, rot, h, clock.WallClock)
	}, filter.New(conf.Filter, clock.WallClock), enr, norm, tracker.WithStore(dbConn), tracker.WithMetrics(m))

	rot.OnRotate(tr.Reconnect)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if mb != nil {
		tr.Observe(tracker.Publisher(mb, conf.Net))

		if err = tr.ManageRequests(ctx, mb); err != nil {
			logger.Errorf("[%s] cannot consume subject requests from broker: %v", conf.Net, err)
		}
	}

	if cache != nil {
		cache.Start()
		defer cache.Stop()
	}

	rot.Start()
	defer rot.Stop()

	if err = tr.Start(ctx); err != nil {
		// the API stays up so the stream can be restarted once credentials are fixed
		logger.Errorf("[%s] stream not started: %v", conf.Net, err)
	}

	defer tr.Stop()

	opts := []api.Option{api.WithCredentials(rot.Status)}
	if cache != nil {
		opts = append(opts, api.WithCache(cache.Stats))
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return api.New(tr, opts...).Serve(ctx, conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey)
	})

	// load Prometheus monitor
	if monitor {
		g.Go(func() error {
			return serveMetrics(ctx, reg, conf.RestfulEndpoint+":"+conf.MetricsPort)
		})
	}

	err = g.Wait()

	logger.Infof("shutting down")

	return errors.Trace(err)
}

func newBroker(conf config.ServiceConfig) (msg.Broker, error) {
	var mb msg.Broker

	switch conf.MbType {
	case "amqp":
		var a *amqp.Amqp

		err := retry.Call(retry.CallArgs{
			Func: func() error {
				var err error
				a, err = amqp.New(conf.MbConn)

				return err
			},
			NotifyFunc: func(err error, attempt int) {
				logger.Warningf("connecting to message broker (attempt %d): %v", attempt, err)
			},
			Attempts: brokerAttempts,
			Delay:    brokerDelay,
			Clock:    clock.WallClock,
		})
		if err != nil {
			return nil, errors.Trace(retry.LastError(err))
		}

		mb = a
	case "kafka":
		k, err := kafka.New(strings.Split(conf.MbConn, ","), kafka.DefaultGroupID)
		if err != nil {
			return nil, errors.Trace(err)
		}

		mb = k
	default:
		logger.Infof("no message broker configured")

		return nil, nil
	}

	if err := mb.Setup(); err != nil {
		_ = mb.Close()

		return nil, errors.Trace(err)
	}

	return mb, nil
}

func serveMetrics(ctx context.Context, reg *prometheus.Registry, addr string) error {
	h := http.NewServeMux()
	h.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	s := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 15 * time.Second}

	go func() {
		<-ctx.Done()
		_ = s.Shutdown(context.Background())
	}()

	logger.Infof("serving metrics API on %s", addr)

	if err := s.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return errors.Trace(err)
	}

	return nil
}

// noMetadata is the enricher used without metadata provider.
type noMetadata struct{}

func (noMetadata) Get(context.Context, string) *model.AssetMetadata { return nil }
