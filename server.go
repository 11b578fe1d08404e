// server.go: Inbound HTTP event endpoint
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package bothost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EventServer accepts gateway event documents over HTTP.
//
// One POST endpoint takes a JSON event and responds immediately with an
// empty success body once the event is accepted for asynchronous dispatch;
// it never waits for plugin completion. The only synchronous failure is an
// unparseable body, which returns a structured error with a server-error
// status.
type EventServer struct {
	cfg        HostConfig
	dispatcher *EventDispatcher
	logger     Logger

	server  *http.Server
	baseCtx context.Context
}

// NewEventServer creates the inbound event server. Dispatch contexts
// derive from baseCtx so host shutdown cancels in-flight handling.
func NewEventServer(cfg HostConfig, dispatcher *EventDispatcher, baseCtx context.Context, logger any) *EventServer {
	s := &EventServer{
		cfg:        cfg,
		dispatcher: dispatcher,
		logger:     NewLogger(logger),
		baseCtx:    baseCtx,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cfg.EventPath, s.handleEvent)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the HTTP handler, mainly for tests.
func (s *EventServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *EventServer) handleEvent(w http.ResponseWriter, r *http.Request) {
	var event Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.logger.Error("Failed to parse inbound event", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	s.logger.Debug("Event accepted", "post_type", event.PostType())

	go s.dispatcher.Dispatch(s.baseCtx, event)

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}

// Start begins serving on the configured address. Serve errors other than
// the expected close are reported through errCh.
func (s *EventServer) Start(errCh chan<- error) {
	go func() {
		s.logger.Info("Event server listening", "addr", s.server.Addr, "path", s.cfg.EventPath)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if errCh != nil {
				errCh <- err
			}
		}
	}()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *EventServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
