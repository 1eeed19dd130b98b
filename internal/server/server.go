package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/xperimental/upstream-watch/internal/config"
	"github.com/xperimental/upstream-watch/internal/data"
	"github.com/xperimental/upstream-watch/internal/watcher"
)

// Controller is the control surface of the poll loop.
type Controller interface {
	Start()
	Stop()
	Reload()
	IsRunning() bool
}

// History provides recent cycle results, newest first.
type History interface {
	List() []watcher.CycleResult
}

type Server struct {
	log        logrus.FieldLogger
	cfg        config.Server
	paths      []string
	controller Controller
	history    History
	server     *http.Server
}

func New(log logrus.FieldLogger, cfg config.Server, paths []string, controller Controller, history History) (*Server, error) {
	if cfg.ListenAddress == "" {
		return nil, errors.New("listenAddress can not be empty")
	}

	if cfg.ShutdownTimeout == 0 {
		return nil, errors.New("shutdownTimeout can not be zero")
	}

	srv := &Server{
		log:        log,
		cfg:        cfg,
		paths:      paths,
		controller: controller,
		history:    history,
		server:     &http.Server{},
	}
	srv.server.Handler = srv.Handler()

	return srv, nil
}

// Handler returns the router serving the API.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Handle("/status", s.statusHandler()).Methods(http.MethodGet)
	api.Handle("/cycles", s.cyclesHandler()).Methods(http.MethodGet)
	api.Handle("/start", s.controlHandler("start", s.controller.Start)).Methods(http.MethodPost)
	api.Handle("/stop", s.controlHandler("stop", s.controller.Stop)).Methods(http.MethodPost)
	api.Handle("/reload", s.controlHandler("reload", s.controller.Reload)).Methods(http.MethodPost)
	r.Use(s.logMiddleware)
	return r
}

func (s *Server) Start(ctx context.Context, wg *sync.WaitGroup) error {
	l, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("error creating listener: %w", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		s.log.Infof("Listening on %s ...", l.Addr())
		err := s.server.Serve(l)
		if err != http.ErrServerClosed {
			s.log.Errorf("Error in HTTP server: %s", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()

		<-ctx.Done()

		s.log.Debug("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Errorf("Error shutting down server: %s", err)
		}
	}()

	return nil
}

func (s *Server) status() data.Status {
	status := data.Status{
		Running: s.controller.IsRunning(),
		Paths:   s.paths,
	}

	if results := s.history.List(); len(results) > 0 {
		last := data.NewCycle(results[0])
		status.LastCycle = &last
	}

	return status
}

func (s *Server) statusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendJSON(w, http.StatusOK, s.status())
	})
}

func (s *Server) cyclesHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.sendJSON(w, http.StatusOK, data.NewCycleList(s.history.List()))
	})
}

func (s *Server) controlHandler(action string, fn func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Infof("Received %s request.", action)
		fn()

		s.sendJSON(w, http.StatusAccepted, s.status())
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, value interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.log.Errorf("Failed to send response: %s", err)
	}
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debugf("[%s] %s", r.Method, r.URL)

		next.ServeHTTP(w, r)
	})
}
