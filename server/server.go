// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

// Package server exposes the node's local RPC through a filtering
// reverse proxy plus a read-only rights endpoint answered from protocol
// state.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	logpkg "github.com/echa/log"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"
)

var log = logpkg.NewLogger("SRVR")

// UserAgent is set by the command wrapper.
var UserAgent = "tzcore"

type HttpConfig struct {
	Addr            string
	Port            int
	UpstreamURL     string
	PolicyPath      string
	MaxConns        int
	ReadTimeout     time.Duration
	HeaderTimeout   time.Duration
	WriteTimeout    time.Duration
	KeepAlive       time.Duration
	ShutdownTimeout time.Duration
}

type Config struct {
	Http   HttpConfig
	Rights *RightsBackend
}

type Server struct {
	cfg    Config
	srv    *http.Server
	router *mux.Router
	ln     net.Listener
}

func New(cfg *Config) (*Server, error) {
	policy, err := LoadPolicy(cfg.Http.PolicyPath)
	if err != nil {
		return nil, err
	}
	router := mux.NewRouter()
	s := &Server{cfg: *cfg, router: router}
	if cfg.Rights != nil {
		router.Handle("/rights", &RightsHandler{Backend: cfg.Rights}).Methods("GET")
	}
	proxy, err := NewProxy(cfg.Http.UpstreamURL, policy)
	if err != nil {
		return nil, err
	}
	router.PathPrefix("/").Handler(proxy)
	s.srv = &http.Server{
		Handler:           s,
		ReadTimeout:       cfg.Http.ReadTimeout,
		ReadHeaderTimeout: cfg.Http.HeaderTimeout,
		WriteTimeout:      cfg.Http.WriteTimeout,
		IdleTimeout:       cfg.Http.KeepAlive,
	}
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Server", UserAgent)
	s.router.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Http.Addr, s.cfg.Http.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if s.cfg.Http.MaxConns > 0 {
		ln = netutil.LimitListener(ln, s.cfg.Http.MaxConns)
	}
	s.ln = ln
	log.Infof("starting HTTP server at %s", addr)
	go func() {
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server failed: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Http.ShutdownTimeout)
	defer cancel()
	log.Infof("stopping HTTP server")
	_ = s.srv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
