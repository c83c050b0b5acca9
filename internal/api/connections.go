package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-conduit/internal/driver"
	"github.com/nerrad567/gray-logic-conduit/internal/pool"
)

// connectRequest is the request body for POST /connections.
type connectRequest struct {
	Address string `json:"address"`
}

// commandRequest is the request body for POST /connections/{address}/command.
type commandRequest struct {
	Command string `json:"command"`
}

// handleListConnections returns all managed connections.
func (s *Server) handleListConnections(w http.ResponseWriter, _ *http.Request) {
	conns := s.pool.Connections()
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": conns,
		"count":       len(conns),
	})
}

// handleConnect establishes (or joins) a connection to an endpoint.
// Blocks through the pool's retry cycle, so a failing endpoint holds the
// request until the retry budget is exhausted.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Address == "" {
		writeBadRequest(w, "address is required")
		return
	}

	if _, err := s.pool.Acquire(r.Context(), req.Address); err != nil {
		s.writeAcquireError(w, req.Address, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": req.Address,
		"status":  pool.StatusConnected.String(),
	})
}

// handleGetConnection returns the state of one managed connection.
func (s *Server) handleGetConnection(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	for _, info := range s.pool.Connections() {
		if info.Address == address {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeNotFound(w, "connection not found: "+address)
}

// handleRelease removes an endpoint from the pool and disconnects it.
// Releasing an unknown address succeeds; release is idempotent.
func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	if err := s.pool.Release(address); err != nil {
		writeInternalError(w, "release failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"status":  pool.StatusDisconnected.String(),
	})
}

// handleDeviceState returns the last known device state snapshot.
func (s *Server) handleDeviceState(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	connected := s.pool.IsConnected(address)
	var state driver.Snapshot
	if connected {
		state = s.pool.DeviceState(address)
	} else {
		state = driver.Snapshot{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":   address,
		"connected": connected,
		"state":     state,
	})
}

// handleSendCommand sends a raw command to the device, connecting first
// if the endpoint is not already held by the pool.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	drv, err := s.pool.Acquire(r.Context(), address)
	if err != nil {
		s.writeAcquireError(w, address, err)
		return
	}

	commander, ok := drv.(driver.Commander)
	if !ok {
		writeError(w, http.StatusConflict, ErrCodeNotCommandable,
			"driver does not support commands")
		return
	}

	if err := commander.Send(r.Context(), req.Command); err != nil {
		writeError(w, http.StatusBadGateway, ErrCodeConnectionFailed,
			"send failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"status":  "sent",
	})
}

// writeAcquireError maps pool acquisition failures to HTTP responses.
func (s *Server) writeAcquireError(w http.ResponseWriter, address string, err error) {
	var failed *pool.ConnectionFailedError

	switch {
	case errors.Is(err, pool.ErrInvalidAddress):
		writeBadRequest(w, "invalid address: "+address)
	case errors.Is(err, pool.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable,
			"connection pool is shut down")
	case errors.As(err, &failed):
		s.logger.Warn("connect failed", "address", address, "attempts", failed.Attempts)
		writeError(w, http.StatusBadGateway, ErrCodeConnectionFailed, err.Error())
	default:
		writeError(w, http.StatusBadGateway, ErrCodeConnectionFailed, err.Error())
	}
}
