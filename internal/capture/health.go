package capture

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// staleAfter is how long without a frame before readiness reports degraded.
const staleAfter = 5 * time.Second

// HealthStatus is the /readiness body.
type HealthStatus struct {
	Status        string  `json:"status"` // healthy, degraded, unhealthy
	UptimeSeconds int64   `json:"uptime_seconds"`
	State         string  `json:"state"`
	Frames        uint64  `json:"frames"`
	LastFrameAgeS float64 `json:"last_frame_age_s,omitempty"`
	InFlight      int     `json:"in_flight_deliveries"`
}

// HealthServer serves /health, /readiness and /metrics.
type HealthServer struct {
	addr     string
	loop     *Loop
	inFlight func() int
	metrics  http.Handler
	started  time.Time
	now      func() time.Time
}

// NewHealthServer builds the server. metrics and inFlight may be nil.
func NewHealthServer(addr string, loop *Loop, inFlight func() int, metrics http.Handler) *HealthServer {
	return &HealthServer{
		addr:     addr,
		loop:     loop,
		inFlight: inFlight,
		metrics:  metrics,
		started:  time.Now(),
		now:      time.Now,
	}
}

func (h *HealthServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", h.liveness)
	r.Get("/readiness", h.readiness)
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return r
}

// Check derives the service health from the loop status.
func (h *HealthServer) Check() HealthStatus {
	st := h.loop.Status()
	hs := HealthStatus{
		Status:        "healthy",
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
		State:         "idle",
		Frames:        st.Frames,
	}
	if st.Recording {
		hs.State = "recording"
	}
	if h.inFlight != nil {
		hs.InFlight = h.inFlight()
	}
	if !st.LastFrameAt.IsZero() {
		hs.LastFrameAgeS = h.now().Sub(st.LastFrameAt).Seconds()
	}

	switch {
	case !st.Running:
		hs.Status = "unhealthy"
	case st.LastFrameAt.IsZero() || hs.LastFrameAgeS > staleAfter.Seconds():
		hs.Status = "degraded"
	}
	return hs
}

func (h *HealthServer) liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"uptime": int64(h.now().Sub(h.started).Seconds()),
	})
}

func (h *HealthServer) readiness(w http.ResponseWriter, _ *http.Request) {
	hs := h.Check()
	code := http.StatusOK
	if hs.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, hs)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("health: failed to write response", "error", err)
	}
}

// Serve listens until ctx is done, then shuts down gracefully.
func (h *HealthServer) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return err
	}
	return h.serve(ctx, ln)
}

func (h *HealthServer) serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:      h.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("starting health check server",
		"addr", ln.Addr().String(),
		"endpoints", []string{"/health", "/readiness", "/metrics"},
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("health check server stopped")
	return nil
}
