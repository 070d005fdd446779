// Package api serves the RESTful API of a tracker: tracked subjects, emitted transactions, filter lists and status.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"golang.org/x/sync/errgroup"

	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/credential"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/enrich"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/lib/model"
	"github.com/pulsetrack-ai/pulsetrack-wallet-signal-tracker/tracker"
)

var logger = loggo.GetLogger("pulsetrack.api")

const timeout = 15 * time.Second

// Tracker is what the API needs from a tracker. *tracker.Tracker implements it.
type Tracker interface {
	Net() string
	Connect(ctx context.Context) error
	AddSubject(ctx context.Context, subject string) error
	RemoveSubject(ctx context.Context, subject string) error
	Subjects() []string
	History(limit int) []*model.EnrichedTransaction
	Status() tracker.Status
	FilterLists() model.FilterLists
	AllowProgram(ctx context.Context, program string) error
	DisallowProgram(ctx context.Context, program string) error
	DenyAddress(ctx context.Context, addr string) error
	UndenyAddress(ctx context.Context, addr string) error
}

// Option customizes the API.
type Option func(*API)

// WithCredentials adds the credential pool to the status reply.
func WithCredentials(f func() []credential.Status) Option {
	return func(a *API) { a.creds = f }
}

// WithCache adds the enrichment cache counters to the status reply.
func WithCache(f func() enrich.Stats) Option {
	return func(a *API) { a.cache = f }
}

// API holds the router and the tracker it serves.
type API struct {
	t     Tracker
	creds func() []credential.Status
	cache func() enrich.Stats
	r     *mux.Router
}

// New builds the routes.
func New(t Tracker, opts ...Option) *API {
	a := &API{t: t}

	for _, o := range opts {
		o(a)
	}

	r := mux.NewRouter()
	r.HandleFunc("/", a.homeHandler)
	r.HandleFunc("/subjects", a.subjectsHandler).Methods(http.MethodGet)
	r.HandleFunc("/subjects/{address}", a.subjectHandler).Methods(http.MethodPut, http.MethodDelete)
	r.HandleFunc("/events", a.eventsHandler).Methods(http.MethodGet)
	r.HandleFunc("/status", a.statusHandler).Methods(http.MethodGet)
	// restarts a stream that gave up reconnecting
	r.HandleFunc("/connect", a.connectHandler).Methods(http.MethodPost)
	r.HandleFunc("/filter", a.filterHandler).Methods(http.MethodGet)
	r.HandleFunc("/filter/allow/{program}", a.allowHandler).Methods(http.MethodPut, http.MethodDelete)
	r.HandleFunc("/filter/deny/{address}", a.denyHandler).Methods(http.MethodPut, http.MethodDelete)
	a.r = r

	return a
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	a.r.ServeHTTP(rw, r)
}

// Serve starts the http server on endpoint:port and, when sslPort, sslCert and sslKey are informed, an https (TLS)
// server on endpoint:sslPort. It returns when ctx is done and the servers have shut down, or when one of them fails.
func (a *API) Serve(ctx context.Context, endpoint, port, sslPort, sslCert, sslKey string) error {
	g, ctx := errgroup.WithContext(ctx)

	var servers []*http.Server

	if port != "" {
		s := a.server(endpoint + ":" + port)
		servers = append(servers, s)

		g.Go(func() error {
			logger.Infof("listening to API http requests on %s", s.Addr)

			return listen(s.ListenAndServe())
		})
	}

	if sslPort != "" && sslCert != "" && sslKey != "" {
		s := a.server(endpoint + ":" + sslPort)
		servers = append(servers, s)

		g.Go(func() error {
			logger.Infof("listening to API https requests on %s", s.Addr)

			return listen(s.ListenAndServeTLS(sslCert, sslKey))
		})
	}

	// wait for servers to be shutdown
	g.Go(func() error {
		<-ctx.Done()

		shutdown, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		for _, s := range servers {
			if err := s.Shutdown(shutdown); err != nil {
				logger.Warningf("shutting down %s: %v", s.Addr, err)
			}
		}

		return nil
	})

	return g.Wait()
}

func (a *API) server(addr string) *http.Server {
	return &http.Server{
		Handler:           a,
		Addr:              addr,
		WriteTimeout:      timeout,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
	}
}

func listen(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return errors.Trace(err)
}
