package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/frosk-go/frosk/internal/audio"
	"github.com/frosk-go/frosk/internal/config"
	"github.com/frosk-go/frosk/internal/detect"
	"github.com/frosk-go/frosk/internal/dsp"
	"github.com/frosk-go/frosk/internal/metrics"
	"github.com/frosk-go/frosk/internal/pipeline"
	"github.com/frosk-go/frosk/internal/queue"
)

func newTestPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	tmpl, err := dsp.NewTemplate([]float32{1}, audio.SampleRate)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := dsp.NewEngine(tmpl, dsp.EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	det := detect.New(detect.Config{Threshold: 0.5, Mode: detect.ModeEvery})
	return pipeline.New(engine, det, queue.New(4, queue.DropOldest), pipeline.Config{HopSize: 1, Retention: 8, EventLogSize: 4}, nil, nil)
}

func TestNew(t *testing.T) {
	cfg := config.DefaultConfig()
	handler := New(newTestPipeline(t), cfg, Options{})

	if handler == nil {
		t.Fatal("Expected handler to be created")
	}

	if handler.config != cfg {
		t.Error("Expected config to be set")
	}
}

func TestStatus(t *testing.T) {
	p := newTestPipeline(t)
	p.Consume([]float32{0.2, 0.9})
	handler := New(p, config.DefaultConfig(), Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	handler.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var status pipeline.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if status.Scores != 2 || status.Events != 1 || status.Queued != 1 {
		t.Errorf("Unexpected status: %+v", status)
	}
	if status.Score != 0.9 {
		t.Errorf("Expected last score 0.9, got %v", status.Score)
	}
}

func TestHistory(t *testing.T) {
	p := newTestPipeline(t)
	p.Consume([]float32{0.1, 0.2, 0.3})
	handler := New(p, config.DefaultConfig(), Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	w := httptest.NewRecorder()
	handler.handleHistory(w, req)

	var resp HistoryResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Retention != 8 || len(resp.Scores) != 8 || resp.Total != 3 {
		t.Errorf("Unexpected history: %+v", resp)
	}
	if resp.Scores[7] != 0.3 || resp.Scores[0] != 0 {
		t.Errorf("Expected zero-filled oldest-first scores, got %v", resp.Scores)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history?last=2", nil)
	w = httptest.NewRecorder()
	handler.handleHistory(w, req)
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Scores) != 2 || resp.Scores[0] != 0.2 {
		t.Errorf("Expected last two scores, got %v", resp.Scores)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/history?last=x", nil)
	w = httptest.NewRecorder()
	handler.handleHistory(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestEvents(t *testing.T) {
	p := newTestPipeline(t)
	p.Consume([]float32{0.9, 0.1, 0.8})
	handler := New(p, config.DefaultConfig(), Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w := httptest.NewRecorder()
	handler.handleEvents(w, req)

	var resp struct {
		Total  uint64         `json:"total"`
		Events []detect.Event `json:"events"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Total != 2 || len(resp.Events) != 2 {
		t.Fatalf("Expected 2 events, got %+v", resp)
	}
	if resp.Events[0].Score != 0.9 || resp.Events[0].ID == "" {
		t.Errorf("Unexpected first event: %+v", resp.Events[0])
	}
}

func TestPauseResume(t *testing.T) {
	p := newTestPipeline(t)
	handler := New(p, config.DefaultConfig(), Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/pause", nil)
	w := httptest.NewRecorder()
	handler.handlePause(w, req)
	if !p.Paused() {
		t.Error("Expected pipeline to be paused")
	}

	p.Consume([]float32{0.9})
	if p.Events().Total() != 0 {
		t.Error("Expected no events while paused")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/resume", nil)
	w = httptest.NewRecorder()
	handler.handleResume(w, req)
	if p.Paused() {
		t.Error("Expected pipeline to be resumed")
	}

	var status pipeline.Status
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.Paused {
		t.Error("Expected status to report resumed")
	}

	// wrong method
	req = httptest.NewRequest(http.MethodGet, "/api/pause", nil)
	w = httptest.NewRecorder()
	handler.handlePause(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestGetSettings(t *testing.T) {
	cfg := config.DefaultConfig()
	handler := New(newTestPipeline(t), cfg, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/settings", nil)
	w := httptest.NewRecorder()

	handler.handleSettings(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response config.Config
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if response.Detection.Mode != cfg.Detection.Mode {
		t.Errorf("Expected Mode '%s', got '%s'", cfg.Detection.Mode, response.Detection.Mode)
	}
}

func TestPutSettings(t *testing.T) {
	cfg := config.DefaultConfig()
	p := newTestPipeline(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	handler := New(p, cfg, Options{ConfigPath: path})

	updates := map[string]interface{}{
		"threshold": 0.7,
		"cooldown":  "1s",
	}

	body, _ := json.Marshal(updates)
	req := httptest.NewRequest(http.MethodPut, "/api/settings", bytes.NewReader(body))
	w := httptest.NewRecorder()

	handler.handleSettings(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	status := p.Status()
	if status.Threshold != 0.7 || status.Cooldown != time.Second {
		t.Errorf("Expected settings applied live, got %+v", status)
	}

	saved, err := config.Load(path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if saved.Detection.Threshold != 0.7 {
		t.Errorf("Expected saved threshold 0.7, got %v", saved.Detection.Threshold)
	}
}

func TestPutSettingsKeepsOverridesOutOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	stored := config.DefaultConfig()
	stored.Template = "bell.wav"
	if err := stored.Save(path); err != nil {
		t.Fatal(err)
	}

	// the running config carries a flag and env layer on top of the file
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.Source = config.SourceFile
	cfg.Template = "override.wav"
	cfg.Target.PID = 4242
	cfg.SentryDSN = "https://key@sentry.example/1"

	handler := New(newTestPipeline(t), cfg, Options{ConfigPath: path})
	req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"threshold": 0.8}`))
	w := httptest.NewRecorder()
	handler.handleSettings(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	saved, err := config.Load(path)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if saved.Detection.Threshold != 0.8 {
		t.Errorf("Expected saved threshold 0.8, got %v", saved.Detection.Threshold)
	}
	if saved.Template != "bell.wav" {
		t.Errorf("Expected file template to survive, got %q", saved.Template)
	}
	if saved.Source != config.SourceProcess || saved.Target.PID != 0 {
		t.Errorf("Runtime source or pid leaked into file: %q %d", saved.Source, saved.Target.PID)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sentry.example") {
		t.Error("Sentry DSN from the environment was written to the config file")
	}
	if cfg.Clone().Detection.Threshold != 0.8 {
		t.Error("Expected running config to be updated too")
	}
}

func TestPutSettingsInvalid(t *testing.T) {
	cfg := config.DefaultConfig()
	handler := New(newTestPipeline(t), cfg, Options{})

	for _, body := range []string{"invalid", `{"template": "x.wav"}`, `{"threshold": "high"}`} {
		req := httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(body))
		w := httptest.NewRecorder()
		handler.handleSettings(w, req)

		if w.Code != http.StatusBadRequest {
			t.Errorf("Expected status 400 for %s, got %d", body, w.Code)
		}
	}
}

func TestDevices(t *testing.T) {
	handler := New(newTestPipeline(t), config.DefaultConfig(), Options{
		ListDevices: func() ([]audio.Device, error) {
			return []audio.Device{{ID: 3, Name: "Stereo Mix", Backend: "portaudio", IsDefault: true}}, errors.New("miniaudio unavailable")
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/devices", nil)
	w := httptest.NewRecorder()
	handler.handleDevices(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var resp struct {
		Devices []Device `json:"devices"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(resp.Devices) != 1 || resp.Devices[0].Name != "Stereo Mix" {
		t.Errorf("Unexpected devices: %+v", resp.Devices)
	}

	handler = New(newTestPipeline(t), config.DefaultConfig(), Options{
		ListDevices: func() ([]audio.Device, error) { return nil, errors.New("no backends") },
	})
	w = httptest.NewRecorder()
	handler.handleDevices(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestRegisterRoutesServesMetrics(t *testing.T) {
	m, err := metrics.New()
	if err != nil {
		t.Fatal(err)
	}
	p := pipelineWithMetrics(t, m)
	p.Consume([]float32{0.9})

	mux := http.NewServeMux()
	New(p, config.DefaultConfig(), Options{Metrics: m.Handler()}).RegisterRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "frosk_events_emitted_total 1") {
		t.Errorf("Expected emitted events metric, got:\n%s", w.Body.String())
	}
}

func pipelineWithMetrics(t *testing.T, m *metrics.Metrics) *pipeline.Pipeline {
	t.Helper()
	tmpl, err := dsp.NewTemplate([]float32{1}, audio.SampleRate)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := dsp.NewEngine(tmpl, dsp.EngineConfig{})
	if err != nil {
		t.Fatal(err)
	}
	det := detect.New(detect.Config{Threshold: 0.5, Mode: detect.ModeEvery})
	return pipeline.New(engine, det, queue.New(4, ""), pipeline.DefaultConfig(), nil, m)
}
