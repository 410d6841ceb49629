// Package server exposes the receiver state over HTTP.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"carbonreceiver/aggregators"
	"carbonreceiver/arbiter"
	"carbonreceiver/core"

	log "github.com/sirupsen/logrus"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultCommandsN = 20
	maxCommandsN     = 1000
)

type ElementLister interface {
	Snapshot() []*aggregators.ElementStatus
}

type StatsReporter interface {
	Stats() arbiter.Stats
}

type CommandArchive interface {
	Recent(ctx context.Context, host string, n int) ([]*core.Command, error)
}

// Services are the backends of the HTTP handlers. Archive and Gatherer may
// be nil.
type Services struct {
	Elements ElementLister
	Stats    StatsReporter
	Archive  CommandArchive
	Gatherer prometheus.Gatherer
}

func NewRouter(svc *Services) *httprouter.Router {
	router := httprouter.New()
	router.GET("/elements", withServices(svc, elementsHandler))
	router.GET("/stats", withServices(svc, statsHandler))
	router.GET("/commands", withServices(svc, commandsHandler))
	router.GET("/health", healthHandler)
	if svc.Gatherer != nil {
		router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(svc.Gatherer, promhttp.HandlerOpts{}))
	}
	return router
}

func New(addr string, svc *Services, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:           addr,
		Handler:        NewRouter(svc),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		MaxHeaderBytes: 1 << 20,
	}
}

// Serve runs s until ctx is done.
func Serve(ctx context.Context, s *http.Server) error {
	errc := make(chan error, 1)
	go func() {
		log.Infof("status server listening on %s", s.Addr)
		errc <- s.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

func withServices(svc *Services, fn func(*Services, http.ResponseWriter, *http.Request, httprouter.Params)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		fn(svc, w, r, ps)
	}
}

func writeError(w http.ResponseWriter, status int, err string) error {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(&ServerError{
		Error: err,
	})
}

func write400Error(w http.ResponseWriter, err string) error {
	return writeError(w, http.StatusBadRequest, err)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err)
	}
}

/*
Returns 400 on invalid request
Returns 200 with the elements, optionally restricted to one host
*/
func elementsHandler(svc *Services, w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := r.ParseForm(); err != nil {
		if err0 := write400Error(w, err.Error()); err0 != nil {
			log.Error(err0)
		}
		return
	}

	host := r.Form.Get("host")
	elements := []*aggregators.ElementStatus{}
	for _, elem := range svc.Elements.Snapshot() {
		if host == "" || elem.Host == host {
			elements = append(elements, elem)
		}
	}
	writeJSON(w, &ElementsResponse{Elements: elements})
}

func statsHandler(svc *Services, w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, svc.Stats.Stats())
}

/*
Returns 400 on invalid request
Returns 404 when commands are not archived
Returns 500 on datastore failure
Returns 200 with the last n commands, newest first
*/
func commandsHandler(svc *Services, w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if svc.Archive == nil {
		if err := writeError(w, http.StatusNotFound, "commands are not archived"); err != nil {
			log.Error(err)
		}
		return
	}
	if err := r.ParseForm(); err != nil {
		if err0 := write400Error(w, err.Error()); err0 != nil {
			log.Error(err0)
		}
		return
	}

	n := defaultCommandsN
	if nForm := r.Form.Get("n"); nForm != "" {
		var err error
		n, err = strconv.Atoi(nForm)
		if err != nil || n <= 0 || n > maxCommandsN {
			if err0 := write400Error(w, "n must be an integer between 1 and 1000"); err0 != nil {
				log.Error(err0)
			}
			return
		}
	}

	commands, err := svc.Archive.Recent(r.Context(), r.Form.Get("host"), n)
	if err != nil {
		log.Errorf("commands: %s", err)
		if err0 := writeError(w, http.StatusInternalServerError, err.Error()); err0 != nil {
			log.Error(err0)
		}
		return
	}
	writeJSON(w, &CommandsResponse{Commands: commands})
}

func healthHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, &HealthResponse{Status: "ok"})
}
