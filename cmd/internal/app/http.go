package app

import (
	"net/http"
)

// Routes:
//   - gateway: /connect /disconnect /session /query /test-connection
//   - realtime: /ws
//   - ops: /healthz /readyz /metrics
func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && a.auditDB == nil {
			http.Error(w, "audit db not configured", http.StatusServiceUnavailable)
			return
		}

		if a.auditDB != nil {
			if err := a.auditDB.Ping(r.Context()); err != nil {
				http.Error(w, "audit db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", a.metrics.Handler())

	a.gateway.Register(mux)
	mux.Handle("/ws", a.channel)
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithRecover(h, a.log)
	return WithRequestLogging(h, a.log, a.metrics)
}
