package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pitchtracker/internal/apiauth"
	"pitchtracker/internal/orchestrator"
	"pitchtracker/internal/signalbridge"
	"pitchtracker/internal/telemetry"
)

// handleHTTPServer builds the control-surface mux, wraps it with auth and
// request logging, and runs it in a goroutine that shuts down gracefully
// when ctx is cancelled.
func handleHTTPServer(ctx context.Context, addr string, orch *orchestrator.Orchestrator, authenticator *apiauth.Authenticator, bridge *signalbridge.Bridge, reg *prometheus.Registry, wg *sync.WaitGroup, errc chan error, log *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", loginHandler(authenticator))

	protected := http.NewServeMux()
	protected.HandleFunc("POST /api/capture/start", startCaptureHandler(orch))
	protected.HandleFunc("POST /api/capture/stop", stopCaptureHandler(orch))
	protected.HandleFunc("GET /api/capture/status", captureStatusHandler(orch))
	protected.HandleFunc("POST /api/recording/start", startRecordingHandler(orch))
	protected.HandleFunc("POST /api/recording/stop", stopRecordingHandler(orch))
	protected.HandleFunc("POST /api/record-directory", setRecordDirectoryHandler(orch))
	protected.HandleFunc("GET /api/preview", previewHandler(orch))
	protected.HandleFunc("GET /api/pitches", recentPitchesHandler(orch))
	protected.HandleFunc("GET /api/stats", statsHandler(orch))

	mux.Handle("/api/", apiauth.Middleware(authenticator)(protected))
	mux.Handle("/ws/signals/", signalbridge.NewHandler(bridge))
	mux.Handle("/metrics", telemetry.Handler(reg))

	var handler http.Handler = mux
	handler = requestLog(log)(handler)

	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 60 * time.Second}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Info("HTTP server listening", zap.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
			}
		}()

		<-ctx.Done()
		log.Info("shutting down HTTP server", zap.String("addr", addr))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server did not shut down cleanly", zap.Error(err))
		}
	}()
}

// requestLog is a minimal structured-logging middleware in the style of
// the teacher's goa request-logging adapter, applied to every route.
func requestLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func loginHandler(authenticator *apiauth.Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		token, expiresAt, err := authenticator.Authenticate(req.Username, req.Password)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": expiresAt})
	}
}

func startCaptureHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LeftDeviceID  int `json:"left_device_id"`
			RightDeviceID int `json:"right_device_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := orch.StartCapture(req.LeftDeviceID, req.RightDeviceID); err != nil {
			if err == orchestrator.ErrAlreadyCapturing {
				writeJSON(w, http.StatusOK, map[string]string{"status": "already_capturing"})
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "capturing"})
	}
}

func stopCaptureHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orch.StopCapture()
		writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
	}
}

func captureStatusHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"capturing": orch.IsCapturing()})
	}
}

func startRecordingHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			SessionName string `json:"session_name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		dir, err := orch.StartRecording(req.SessionName)
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"session_dir": dir})
	}
}

func stopRecordingHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := orch.StopRecording()
		if err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func setRecordDirectoryHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Dir string `json:"dir"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := orch.SetRecordDirectory(req.Dir); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func previewHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		frames := orch.GetPreviewFrames()
		out := make([]map[string]string, 0, len(frames))
		for _, f := range frames {
			out = append(out, map[string]string{
				"camera_id": f.CameraID,
				"jpeg_b64":  base64.StdEncoding.EncodeToString(f.JPEG),
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func recentPitchesHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		pitches, err := orch.GetRecentPitches(limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, pitches)
	}
}

func statsHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, orch.GetStats())
	}
}
