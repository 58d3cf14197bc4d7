package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/frosk-go/frosk/internal/audio"
	"github.com/frosk-go/frosk/internal/config"
	"github.com/frosk-go/frosk/internal/history"
	"github.com/frosk-go/frosk/internal/logger"
	"github.com/frosk-go/frosk/internal/pipeline"
)

// Pipeline is the part of the running pipeline the API reads and controls
type Pipeline interface {
	Status() pipeline.Status
	Pause()
	Resume()
	SetThreshold(threshold float32)
	SetCooldown(cooldown time.Duration)
	Scores() *history.Scores
	Events() *history.Events
}

// Handler manages API endpoints
type Handler struct {
	pipeline    Pipeline
	config      *config.Config
	configPath  string
	metrics     http.Handler
	listDevices func() ([]audio.Device, error)
	logger      *logger.Logger
}

// Options holds the optional collaborators of a Handler
type Options struct {
	// ConfigPath is where PUT /api/settings persists changes. Empty skips saving.
	ConfigPath string
	// Metrics, when set, is served at /metrics
	Metrics http.Handler
	// ListDevices backs GET /api/devices
	ListDevices func() ([]audio.Device, error)
	Logger      *logger.Logger
}

// New creates a new API handler
func New(p Pipeline, cfg *config.Config, opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Handler{
		pipeline:    p,
		config:      cfg,
		configPath:  opts.ConfigPath,
		metrics:     opts.Metrics,
		listDevices: opts.ListDevices,
		logger:      log,
	}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", h.handleStatus)
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/events", h.handleEvents)
	mux.HandleFunc("/api/pause", h.handlePause)
	mux.HandleFunc("/api/resume", h.handleResume)
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/devices", h.handleDevices)
	if h.metrics != nil {
		mux.Handle("/metrics", h.metrics)
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleStatus handles GET /api/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.pipeline.Status())
}

// HistoryResponse is the body of GET /api/history
type HistoryResponse struct {
	Retention int       `json:"retention"`
	Total     uint64    `json:"total"`
	Scores    []float32 `json:"scores"`
}

// handleHistory handles GET /api/history. The optional "last" query
// parameter limits the response to the newest scores.
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	scores := h.pipeline.Scores()
	snapshot := scores.Snapshot()
	if last := r.URL.Query().Get("last"); last != "" {
		n, err := strconv.Atoi(last)
		if err != nil || n < 0 {
			http.Error(w, "Invalid 'last' parameter", http.StatusBadRequest)
			return
		}
		if n < len(snapshot) {
			snapshot = snapshot[len(snapshot)-n:]
		}
	}

	_, total := scores.Last()
	writeJSON(w, HistoryResponse{
		Retention: scores.Retention(),
		Total:     total,
		Scores:    snapshot,
	})
}

// handleEvents handles GET /api/events
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events := h.pipeline.Events()
	writeJSON(w, map[string]interface{}{
		"total":  events.Total(),
		"events": events.Snapshot(),
	})
}

// handlePause handles POST /api/pause
func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.pipeline.Pause()
	writeJSON(w, h.pipeline.Status())
}

// handleResume handles POST /api/resume
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.pipeline.Resume()
	writeJSON(w, h.pipeline.Status())
}

// handleSettings handles GET and PUT /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.config.Clone())
	case http.MethodPut:
		h.putSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// putSettings applies live-tunable settings and persists them to the config
// file. The running config may carry flag and environment overrides, so only
// the changed settings are written.
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.config.Update(updates); err != nil {
		http.Error(w, fmt.Sprintf("Failed to update config: %v", err), http.StatusBadRequest)
		return
	}

	current := h.config.Clone()
	h.pipeline.SetThreshold(current.Detection.Threshold)
	h.pipeline.SetCooldown(current.Detection.Cooldown)
	if level, err := logger.ParseLevel(current.Log.Level); err == nil {
		h.logger.SetLevel(level)
	}

	if h.configPath != "" {
		if err := config.SaveUpdates(h.configPath, updates); err != nil {
			http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusInternalServerError)
			return
		}
	}

	h.logger.Info("Settings updated: threshold %.3f, cooldown %v", current.Detection.Threshold, current.Detection.Cooldown)
	writeJSON(w, map[string]string{
		"status": "success",
	})
}

// Device represents an audio device
type Device struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Backend   string `json:"backend"`
	IsDefault bool   `json:"is_default"`
}

// convertAudioDevices converts audio.Device slice to api.Device slice
func convertAudioDevices(audioDevices []audio.Device) []Device {
	devices := make([]Device, 0, len(audioDevices))
	for _, dev := range audioDevices {
		devices = append(devices, Device{
			ID:        dev.ID,
			Name:      dev.Name,
			Backend:   dev.Backend,
			IsDefault: dev.IsDefault,
		})
	}
	return devices
}

// handleDevices handles GET /api/devices
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.listDevices == nil {
		http.Error(w, "Device listing not available", http.StatusNotImplemented)
		return
	}

	audioDevices, err := h.listDevices()
	if err != nil && len(audioDevices) == 0 {
		http.Error(w, fmt.Sprintf("Failed to list audio devices: %v", err), http.StatusInternalServerError)
		return
	}
	if err != nil {
		h.logger.Warn("Some audio backends failed to list devices: %v", err)
	}

	writeJSON(w, map[string]interface{}{
		"devices": convertAudioDevices(audioDevices),
	})
}
