// Package health serves the liveness and readiness endpoints of the
// livecoach ops listener.
//
// /healthz always answers 200 while the process can serve HTTP and carries
// status fields such as the consultation state. /readyz runs every [Checker]
// in parallel and answers 503 if any of them fails.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy and
// must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Info is a named status field reported by /healthz. Value must not block.
type Info struct {
	Name  string
	Value func() string
}

// report is the JSON body of both endpoints.
type report struct {
	Status string            `json:"status"`
	Uptime string            `json:"uptime,omitempty"`
	Checks map[string]string `json:"checks,omitempty"`
	Info   map[string]string `json:"info,omitempty"`
}

// Handler serves /healthz and /readyz. Checkers and info fields are fixed at
// construction.
type Handler struct {
	checkers []Checker
	info     []Info
	started  time.Time
	now      func() time.Time
}

// Option configures a [Handler].
type Option func(*Handler)

// WithInfo adds status fields to the /healthz response.
func WithInfo(info ...Info) Option {
	return func(h *Handler) { h.info = append(h.info, info...) }
}

// New returns a Handler that runs checkers on each /readyz request.
func New(checkers []Checker, opts ...Option) *Handler {
	h := &Handler{
		checkers: append([]Checker(nil), checkers...),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	h.started = h.now()
	return h
}

// Register mounts both endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz reports liveness, uptime and the info fields.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	rep := report{
		Status: "ok",
		Uptime: h.now().Sub(h.started).Round(time.Second).String(),
	}
	if len(h.info) > 0 {
		rep.Info = make(map[string]string, len(h.info))
		for _, i := range h.info {
			rep.Info[i.Name] = i.Value()
		}
	}
	writeJSON(w, http.StatusOK, rep)
}

// Readyz runs all checkers concurrently, each under [checkTimeout]. One
// failure does not cancel the others, so the body lists every result.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	var (
		mu     sync.Mutex
		failed bool
		checks = make(map[string]string, len(h.checkers))
	)
	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			outcome := "ok"
			if err := c.Check(ctx); err != nil {
				outcome = "fail: " + err.Error()
			}

			mu.Lock()
			checks[c.Name] = outcome
			failed = failed || outcome != "ok"
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if failed {
		writeJSON(w, http.StatusServiceUnavailable, report{Status: "fail", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, report{Status: "ok", Checks: checks})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
