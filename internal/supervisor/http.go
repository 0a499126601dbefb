package supervisor

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/tradebridge/internal/market"
)

// Router builds the chi router for the HTTP surface (spec §6): GET
// /health, GET /metrics, POST /predict, plus the Dashboard WebSocket
// upgrade at GET /ws. Grounded on the teacher's internal/server/server.go
// (chi.NewRouter, Recoverer/RequestID/RealIP middleware, CORS).
func (s *Supervisor) Router(devMode bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/predict", s.handlePredict)
	r.Get("/ws", s.hub.ServeWS)

	return r
}

func (s *Supervisor) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":                "ok",
		"uptime_seconds":        s.Uptime().Seconds(),
		"open_sessions":         s.SessionCount(),
		"subscribers":           s.hub.Count(),
		"active_trades":         s.trades.ActiveTradeCount(),
		"circuit_breaker_state": s.gateway.CircuitState(),
		"feature_cache_size":    s.gateway.CacheSize(),
		"process":               s.processStats(),
	})
}

func (s *Supervisor) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"open_sessions":             s.SessionCount(),
		"subscribers":               s.hub.Count(),
		"dropped_events":            s.hub.DroppedTotal(),
		"active_trades":             s.trades.ActiveTradeCount(),
		"cache_hit_rate":            s.gateway.CacheHitRate(),
		"circuit_breaker_open":      s.gateway.CircuitOpen(),
		"feature_cache_size":        s.gateway.CacheSize(),
		"reconciliation_age_seconds": reconciliationAgeSeconds(s.trades.ReconciliationAges()),
		"process":                   s.processStats(),
	})
}

func reconciliationAgeSeconds(ages map[string]time.Duration) map[string]float64 {
	out := make(map[string]float64, len(ages))
	for instrument, age := range ages {
		out[instrument] = age.Seconds()
	}
	return out
}

// processStats surfaces host CPU/RAM via gopsutil, the same library the
// teacher's display/bridge uses for its CPU/RAM-driven display modes
// (SPEC_FULL.md §5).
func (s *Supervisor) processStats() map[string]any {
	stats := map[string]any{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		stats["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats["mem_used_percent"] = vm.UsedPercent
	}
	return stats
}

func (s *Supervisor) handlePredict(w http.ResponseWriter, r *http.Request) {
	var frame market.MarketFrame
	if err := json.NewDecoder(r.Body).Decode(&frame); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid market frame"})
		return
	}
	if !frame.Valid() {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": "invalid market frame"})
		return
	}
	if frame.Instrument == "" {
		frame.Instrument = "diagnostic"
	}

	p := s.gateway.Predict(r.Context(), frame.Instrument, frame)
	writeJSON(w, http.StatusOK, p)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
