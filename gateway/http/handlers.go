package http

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"strings"

	"github.com/TaskforceCobra/instrument-contoller/component"
	"github.com/TaskforceCobra/instrument-contoller/config"
	"github.com/TaskforceCobra/instrument-contoller/errors"
	"github.com/TaskforceCobra/instrument-contoller/health"
)

// scanRequest is the POST /api/v1/scan body.
type scanRequest struct {
	Addresses []string `json:"addresses"`
}

// commandRequest is the POST /api/v1/devices/{id}/command body.
type commandRequest struct {
	Command string `json:"command"`
}

func (g *Gateway) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := g.eng.Devices()
	wire := make([]config.DeviceConfig, 0, len(devices))
	for _, d := range devices {
		wire = append(wire, config.WireDevice(d))
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"devices": wire})
}

func (g *Gateway) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var wire config.DeviceConfig
	if err := component.SafeUnmarshal(body, &wire); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid device payload")
		return
	}

	cfg := wire.Runtime()
	if err := g.eng.RegisterDevice(cfg); err != nil {
		g.writeTaxonomyError(w, r, err)
		return
	}

	g.logger.Info("device registered via API", "device_id", cfg.ID, "request_id", requestID(r))
	g.writeJSON(w, http.StatusCreated, map[string]any{"device": config.WireDevice(cfg.WithDefaults())})
}

func (g *Gateway) handleRemoveDevice(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := g.eng.RemoveDevice(id); err != nil {
		g.writeTaxonomyError(w, r, err)
		return
	}

	g.logger.Info("device removed via API", "device_id", id, "request_id", requestID(r))
	g.writeJSON(w, http.StatusOK, map[string]any{"removed": id})
}

func (g *Gateway) handleStartSession(w http.ResponseWriter, r *http.Request) {
	session, err := g.eng.StartSession(r.Context())
	if err != nil {
		g.writeTaxonomyError(w, r, err)
		return
	}

	g.logger.Info("session started via API", "session_id", session.ID, "request_id", requestID(r))
	g.writeJSON(w, http.StatusCreated, map[string]any{"session": session})
}

func (g *Gateway) handleStopSession(w http.ResponseWriter, r *http.Request) {
	session, err := g.eng.StopSession(r.Context())
	if err != nil {
		g.writeTaxonomyError(w, r, err)
		return
	}

	g.logger.Info("session stopped via API", "session_id", session.ID, "request_id", requestID(r))
	g.writeJSON(w, http.StatusOK, map[string]any{"session": session})
}

func (g *Gateway) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.eng.Snapshot())
}

func (g *Gateway) handleScan(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req scanRequest
	if err := component.SafeUnmarshal(body, &req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid scan payload")
		return
	}

	results, err := g.eng.ScanBus(r.Context(), req.Addresses)
	if err != nil {
		g.writeTaxonomyError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (g *Gateway) handleCommand(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readBody(w, r)
	if !ok {
		return
	}

	var req commandRequest
	if err := component.SafeUnmarshal(body, &req); err != nil {
		g.writeError(w, http.StatusBadRequest, "invalid command payload")
		return
	}

	target := r.PathValue("id")
	reply, err := g.eng.SendCommand(r.Context(), target, req.Command)
	if err != nil {
		g.writeTaxonomyError(w, r, err)
		return
	}

	g.logger.Info("command sent via API", "target", target, "request_id", requestID(r))
	g.writeJSON(w, http.StatusOK, map[string]any{"reply": reply})
}

// handleHealthz refreshes the monitor from every registered component and
// serves the aggregate: 200 while healthy or degraded, 503 once any
// component reports unhealthy.
func (g *Gateway) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	for _, c := range g.components {
		g.monitor.Update(c.Name(), health.FromComponentHealth(c.Name(), c.Health()))
	}
	g.monitor.Update(g.Name(), health.FromComponentHealth(g.Name(), g.Health()))

	agg := g.monitor.AggregateHealth("instrumentd")
	code := http.StatusOK
	if agg.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	g.writeJSON(w, code, agg)
}

// readBody drains the request body under the configured size cap. On
// failure it writes the error response and returns ok=false.
func (g *Gateway) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer func() { _ = r.Body.Close() }()

	// One extra byte tells an at-the-limit body apart from an oversized one.
	body, err := io.ReadAll(io.LimitReader(r.Body, g.cfg.MaxRequestSize+1))
	if err != nil {
		g.writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	if int64(len(body)) > g.cfg.MaxRequestSize {
		g.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return nil, false
	}
	return body, true
}

func (g *Gateway) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("response write failed", "error", err)
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, code int, message string) {
	g.writeJSON(w, code, map[string]any{"error": message, "status": code})
}

// writeTaxonomyError maps an engine error onto an HTTP status with a
// sanitized message. The full error goes to the log, never the client.
func (g *Gateway) writeTaxonomyError(w http.ResponseWriter, r *http.Request, err error) {
	g.logger.Warn("control request failed",
		"path", r.URL.Path, "request_id", requestID(r), "error", err)
	g.writeError(w, statusForError(err), sanitizeError(err))
}

// statusForError maps the error taxonomy to HTTP status codes. Sentinel
// matches take priority over the broad classes so registry conflicts read
// as 409, not 400.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case stderrors.Is(err, errors.ErrDeviceNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, errors.ErrDeviceExists),
		stderrors.Is(err, errors.ErrSessionAlreadyRunning),
		stderrors.Is(err, errors.ErrSessionNotRunning):
		return http.StatusConflict
	case errors.IsInvalid(err):
		return http.StatusBadRequest
	case errors.IsTransient(err):
		if stderrors.Is(err, errors.ErrTimeout) || strings.Contains(err.Error(), "timeout") {
			return http.StatusGatewayTimeout
		}
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// sanitizeError returns a client-safe message. Addresses, transport
// detail, and wrap chains stay internal.
func sanitizeError(err error) string {
	switch {
	case err == nil:
		return "internal server error"
	case stderrors.Is(err, errors.ErrDeviceNotFound):
		return "device not found"
	case stderrors.Is(err, errors.ErrDeviceExists):
		return "device already registered"
	case stderrors.Is(err, errors.ErrSessionAlreadyRunning):
		return "session already running"
	case stderrors.Is(err, errors.ErrSessionNotRunning):
		return "no session running"
	case stderrors.Is(err, errors.ErrUnsupportedFunction):
		return "unsupported measurement function"
	case stderrors.Is(err, errors.ErrNotStarted):
		return "engine not started"
	case errors.IsInvalid(err):
		return "invalid request"
	case errors.IsTransient(err):
		if stderrors.Is(err, errors.ErrTimeout) || strings.Contains(err.Error(), "timeout") {
			return "request timeout"
		}
		return "service temporarily unavailable"
	default:
		return "internal server error"
	}
}
