package main

import (
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/miradorstack/mirador-sentinel/internal/monitor"
	"github.com/miradorstack/mirador-sentinel/internal/tools"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// chaosState is the set of fault modes injected into the health payload.
type chaosState struct {
	mu       sync.Mutex
	active   []string
	requests float64
}

func (c *chaosState) set(modes []string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = c.active[:0]
	for _, mode := range modes {
		mode = strings.TrimSpace(mode)
		if mode != "" && mode != "none" && !slices.Contains(c.active, mode) {
			c.active = append(c.active, mode)
		}
	}
	return append([]string(nil), c.active...)
}

func (c *chaosState) health() monitor.Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests += 25
	h := monitor.Health{
		Status:        "healthy",
		MemoryUsageMB: 240,
		CPUPercent:    22,
		ErrorRate:     0.4,
		AvgLatencyMs:  120,
		ActiveChaos:   append([]string{}, c.active...),
		RequestCount:  c.requests,
	}
	for _, mode := range c.active {
		switch mode {
		case "memory_leak":
			h.MemoryUsageMB = 950
		case "cpu_spike":
			h.CPUPercent = 94
		case "error_rate":
			h.ErrorRate = 18
		case "latency":
			h.AvgLatencyMs = 3400
		}
	}
	if len(c.active) > 0 {
		h.Status = "degraded"
	}
	return h
}

func main() {
	addr := flag.String("addr", ":8090", "listen address")
	latency := flag.Duration("latency", 150*time.Millisecond, "simulated latency per tool call")
	flag.Parse()

	logger := utils.NewLogger(os.Getenv("LOG_LEVEL"), false).With(slog.String("component", "mock-workers"))
	catalog := tools.DefaultCatalog(tools.NewSimulator(0, *latency))
	chaos := &chaosState{}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, logger, http.StatusOK, chaos.health())
	})

	mux.HandleFunc("/chaos", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		var body struct {
			Modes []string `json:"modes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, logger, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		active := chaos.set(body.Modes)
		logger.Info("chaos updated", slog.Any("active", active))
		writeJSON(w, logger, http.StatusOK, map[string]any{"active_chaos": active})
	})

	mux.HandleFunc("/tools/", func(w http.ResponseWriter, r *http.Request) {
		if !enforcePost(w, r) {
			return
		}
		id := tools.ID(strings.TrimPrefix(r.URL.Path, "/tools/"))
		tool, ok := catalog.Get(id)
		if !ok {
			writeJSON(w, logger, http.StatusNotFound, map[string]any{"error": "unknown tool " + string(id)})
			return
		}
		params := map[string]any{}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				writeJSON(w, logger, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
		}
		result, err := tool.Default.Invoke(r.Context(), params)
		if err != nil {
			writeJSON(w, logger, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, logger, http.StatusOK, result)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           logRequests(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("listening", slog.String("address", *addr), slog.Int("tools", len(catalog.IDs())))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", slog.Any("error", err))
		os.Exit(1)
	}
}

func enforcePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("encode error", slog.Any("error", err))
	}
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.status),
			slog.Duration("elapsed", time.Since(start)))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
