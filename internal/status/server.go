// Package status implements the small HTTP surface the teacher always
// ships alongside its core loop: list of targets, per-chassis power and
// boot analytics, log tailing, and a live SSE console stream. None of
// this is part of the IPMI wire protocol; it is ambient operational
// tooling, adapted from the teacher's server/server.go, handlers.go and
// sse.go (dropping the HTMX fragment and MAC-lookup routes, which have
// no equivalent concern here, and the embedded web UI, which this
// repo does not ship).
package status

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/glennswest/ipmi-bmc-emulator/internal/targets"
	"github.com/glennswest/ipmi-bmc-emulator/logs"
)

type Server struct {
	port      int
	registry  *targets.Registry
	logWriter *logs.Writer
	router    *mux.Router
	http      *http.Server
}

func New(port int, registry *targets.Registry, logWriter *logs.Writer) *Server {
	s := &Server{port: port, registry: registry, logWriter: logWriter, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/bmcs", s.handleListBMCs).Methods("GET")
	api.HandleFunc("/bmcs/{name}/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/bmcs/{name}/analytics", s.handleAnalytics).Methods("GET")
	api.HandleFunc("/bmcs/{name}/logs", s.handleListLogs).Methods("GET")
	api.HandleFunc("/bmcs/{name}/logs/{filename}", s.handleGetLog).Methods("GET")
	api.HandleFunc("/bmcs/{name}/stream", s.handleStream).Methods("GET")
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debugf("status: %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Run(ctx context.Context) error {
	s.router.Use(loggingMiddleware)
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		s.http.Shutdown(context.Background())
	}()

	log.Infof("status server listening on :%d", s.port)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}
