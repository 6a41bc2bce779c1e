// Package statusapi implements the replication status/control HTTP
// surface described in spec.md §4.8. It is grounded on litefs's
// http/server.go Server (Listen/Serve/Close over an errgroup.Group,
// a promhttp metrics endpoint), with the manual switch-on-path dispatch
// replaced by github.com/gorilla/mux routing, the way
// couchbase-sync_gateway's rest.routing.go builds its handler tree.
package statusapi

import (
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shardkv/replicore"
)

// DefaultAddr is the default listen address for the status API.
const DefaultAddr = ":20202"

// Server exposes GET /status and POST /repl/source over HTTP for one
// ReplManager.
type Server struct {
	ln net.Listener

	httpServer *http.Server
	router     *mux.Router

	addr    string
	manager *replicore.ReplManager

	ctx    context.Context
	cancel func()
	errCh  chan error
}

// NewServer returns a Server that will report on and control manager.
func NewServer(manager *replicore.ReplManager, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}

	s := &Server{
		addr:    addr,
		manager: manager,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	r := mux.NewRouter()
	r.StrictSlash(true)
	r.Handle("/status", http.HandlerFunc(s.handleGetStatus)).Methods(http.MethodGet)
	r.Handle("/repl/source", http.HandlerFunc(s.handlePostReplSource)).Methods(http.MethodPost)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router = r

	s.httpServer = &http.Server{
		Handler: r,
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	return s
}

// Listen binds the server's listener without serving yet.
func (s *Server) Listen() (err error) {
	s.ln, err = net.Listen("tcp", s.addr)
	return err
}

// Serve starts accepting connections on a background goroutine. Errors
// from Serve (other than from a deliberate Close) are delivered on a
// buffered channel drained by Close.
func (s *Server) Serve() {
	s.errCh = make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(s.ln); err != nil && s.ctx.Err() == nil {
			s.errCh <- err
			return
		}
		s.errCh <- nil
	}()
}

// Close stops accepting new connections and waits for Serve's goroutine
// to return.
func (s *Server) Close() (err error) {
	// Cancel first so Serve's goroutine sees a deliberate Close whichever
	// of the listener or server shutdown makes it return.
	s.cancel()
	if s.ln != nil {
		if e := s.ln.Close(); err == nil {
			err = e
		}
	}
	if s.httpServer != nil {
		if e := s.httpServer.Close(); err == nil {
			err = e
		}
	}
	if s.errCh != nil {
		if e := <-s.errCh; e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Port returns the port the listener is bound to, useful in tests that
// bind to ":0".
func (s *Server) Port() int {
	if s.ln == nil {
		return 0
	}
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := s.manager.WriteStatusJSON(w); err != nil {
		writeError(w, err, http.StatusInternalServerError)
	}
}

// replSourceRequest is the POST /repl/source request body: setting Host
// to the empty string clears the store's replication source.
type replSourceRequest struct {
	StoreID       int    `json:"store_id"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	SourceStoreID int    `json:"source_store_id"`
}

func (s *Server) handlePostReplSource(w http.ResponseWriter, r *http.Request) {
	var req replSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, err, http.StatusBadRequest)
		return
	}

	if err := s.manager.ChangeReplSource(req.StoreID, req.Host, req.Port, req.SourceStoreID); err != nil {
		code := http.StatusInternalServerError
		switch err {
		case replicore.ErrBusy:
			code = http.StatusConflict
		case replicore.ErrTimeout:
			code = http.StatusGatewayTimeout
		}
		writeError(w, err, code)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error, code int) {
	http.Error(w, err.Error(), code)
}
