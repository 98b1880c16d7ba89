package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/universe-player/bridge/x/bridge"
	"github.com/universe-player/bridge/x/command"
	"github.com/universe-player/bridge/x/correlation"
	"github.com/universe-player/bridge/x/heartbeat"
)

const maxCommandBody = 64 << 10

// Bridge is the part of the bridge the API drives.
type Bridge interface {
	Call(ctx context.Context, cmd command.Command, timeout time.Duration) (command.Result, error)
	Ping(ctx context.Context, timeout time.Duration) (command.Result, error)
	Stats() bridge.Stats
	Pending() []correlation.PendingInfo
}

// HeartbeatStatus reports the liveness monitor; nil when none runs.
type HeartbeatStatus func() heartbeat.Status

// statusResponse is the body of GET /status.
type statusResponse struct {
	Bridge    bridge.Stats      `json:"bridge"`
	Heartbeat *heartbeat.Status `json:"heartbeat,omitempty"`
}

// pingResponse is the body of POST /ping.
type pingResponse struct {
	Value any     `json:"value"`
	RTTMs float64 `json:"rtt_ms"`
}

type bridgeHandlers struct {
	bridge    Bridge
	heartbeat HeartbeatStatus
	timeout   time.Duration
}

// RegisterBridgeRoutes mounts the control endpoints on s.
func RegisterBridgeRoutes(s *Server, b Bridge, hb HeartbeatStatus) {
	h := &bridgeHandlers{bridge: b, heartbeat: hb, timeout: s.cfg.CommandTimeout}
	if h.timeout <= 0 {
		h.timeout = bridge.DefaultTimeout
	}

	s.Router.HandleFunc("/status", h.status).Methods(http.MethodGet)
	s.Router.HandleFunc("/pending", h.pending).Methods(http.MethodGet)
	s.Router.HandleFunc("/ping", h.ping).Methods(http.MethodPost)
	s.Router.HandleFunc("/commands/{name}", h.command).Methods(http.MethodPost)
}

// RegisterMetrics serves the registry on path, /metrics when empty.
func RegisterMetrics(s *Server, path string, g prometheus.Gatherer) {
	if path == "" {
		path = "/metrics"
	}
	s.Router.Handle(path, promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}

func (h *bridgeHandlers) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{Bridge: h.bridge.Stats()}
	if h.heartbeat != nil {
		st := h.heartbeat()
		resp.Heartbeat = &st
	}
	WriteJSON(w, http.StatusOK, resp)
}

func (h *bridgeHandlers) pending(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"pending": h.bridge.Pending()})
}

func (h *bridgeHandlers) ping(w http.ResponseWriter, r *http.Request) {
	timeout, err := h.requestTimeout(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_timeout", err.Error(), nil)
		return
	}

	start := time.Now()
	res, err := h.bridge.Ping(r.Context(), timeout)
	if err != nil {
		h.writeCallError(w, r, err)
		return
	}

	value, _ := res.Value.Interface()
	WriteJSON(w, http.StatusOK, pingResponse{
		Value: value,
		RTTMs: float64(time.Since(start).Microseconds()) / 1000,
	})
}

// command builds a command from the route name and an optional JSON object
// of arguments, e.g. POST /commands/numberPing {"index":2}.
func (h *bridgeHandlers) command(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	timeout, err := h.requestTimeout(r)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_timeout", err.Error(), nil)
		return
	}

	cmd, err := decodeCommand(name, r.Body)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "invalid_command", err.Error(), nil)
		return
	}

	res, err := h.bridge.Call(r.Context(), cmd, timeout)
	var remote *command.RemoteError
	if err != nil && !errors.As(err, &remote) {
		h.writeCallError(w, r, err)
		return
	}
	// The companion answered; a failure result is still a 200.
	WriteJSON(w, http.StatusOK, res)
}

func decodeCommand(name string, body io.Reader) (command.Command, error) {
	args := map[string]json.RawMessage{}
	data, err := io.ReadAll(io.LimitReader(body, maxCommandBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, fmt.Errorf("body must be a JSON object: %w", err)
		}
	}

	nameJSON, _ := json.Marshal(name)
	args["command"] = nameJSON
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	return command.Decode(raw)
}

func (h *bridgeHandlers) requestTimeout(r *http.Request) (time.Duration, error) {
	v := r.URL.Query().Get("timeout")
	if v == "" {
		return h.timeout, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("timeout %q is not a positive duration", v)
	}
	return d, nil
}

func (h *bridgeHandlers) writeCallError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, bridge.ErrUnknownCommand):
		WriteError(w, r, http.StatusBadRequest, "unknown_command", err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		WriteError(w, r, http.StatusGatewayTimeout, "timeout", err.Error(), nil)
	case errors.Is(err, bridge.ErrBackpressure):
		WriteError(w, r, http.StatusTooManyRequests, "backpressure", err.Error(), nil)
	case errors.Is(err, bridge.ErrNotRunning),
		errors.Is(err, bridge.ErrBridgeStopped),
		errors.Is(err, bridge.ErrCompanionDisconnected),
		errors.Is(err, bridge.ErrProtocolCorruption):
		WriteError(w, r, http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	default:
		WriteError(w, r, http.StatusBadGateway, "companion_error", err.Error(), nil)
	}
}
