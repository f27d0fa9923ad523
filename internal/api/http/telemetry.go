package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/kalimotxo/enginewatch/internal/api/domain"
	"github.com/kalimotxo/enginewatch/internal/api/service"
	"github.com/kalimotxo/enginewatch/pkg/httpx"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// TelemetryHandler handles the read-side telemetry endpoints.
type TelemetryHandler struct {
	TelemetryService *service.TelemetryService
}

type readingResponse struct {
	ID             int64     `json:"id"`
	DeviceID       string    `json:"device_id"`
	DeviceName     string    `json:"device_name"`
	DeviceIP       string    `json:"device_ip"`
	DeviceSubnet   string    `json:"device_subnet"`
	DeviceMAC      string    `json:"device_mac"`
	Temperature    float64   `json:"temperature"`
	RPM            float64   `json:"rpm"`
	OilPressure    float64   `json:"oil_pressure"`
	Vibration      float64   `json:"vibration"`
	LoadPercentage float64   `json:"load_percentage"`
	Status         string    `json:"status"`
	Event          *string   `json:"event"`
	Timestamp      float64   `json:"timestamp"`
	Datetime       string    `json:"datetime"`
	CreatedAt      time.Time `json:"created_at"`
}

func readingResponseFrom(r domain.Reading) readingResponse {
	return readingResponse{
		ID:             r.ID,
		DeviceID:       r.DeviceID,
		DeviceName:     r.DeviceName,
		DeviceIP:       r.DeviceIP,
		DeviceSubnet:   r.DeviceSubnet,
		DeviceMAC:      r.DeviceMAC,
		Temperature:    r.Temperature,
		RPM:            r.RPM,
		OilPressure:    r.OilPressure,
		Vibration:      r.Vibration,
		LoadPercentage: r.LoadPercentage,
		Status:         r.Status,
		Event:          r.Event,
		Timestamp:      r.Timestamp,
		Datetime:       r.Datetime,
		CreatedAt:      r.CreatedAt,
	}
}

// HandleLatest returns the most recently ingested message in its wire
// shape, with no storage fields attached. 404 until the first message
// arrives.
func (h *TelemetryHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := h.TelemetryService.Latest(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, latest)
}

// HandleHistory returns recent readings, most recent first. The limit
// query parameter defaults to 100 and is clamped to 1000.
func (h *TelemetryHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be positive")
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	readings, err := h.TelemetryService.History(r.Context(), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]readingResponse, 0, len(readings))
	for _, reading := range readings {
		out = append(out, readingResponseFrom(reading))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleStats returns aggregates over the most recent readings. The
// window query parameter defaults to the service's standard window.
func (h *TelemetryHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	window := queryInt(r, "window", 0)
	if window < 0 || window > maxHistoryLimit {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "window out of range")
		return
	}

	stats, err := h.TelemetryService.Stats(r.Context(), window)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

// queryInt reads an integer query parameter, falling back to def when
// absent. A non-numeric value parses as -1 so handlers reject it.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return -1
	}
	return n
}
