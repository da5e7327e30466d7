package health

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/noah-isme/backend-kasir/internal/pricing"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness, e.g. to drain traffic during shutdown.
func SetReady(v bool) { ready.Store(v) }

// Probe is a named dependency check run on every readiness request.
type Probe struct {
	Name    string
	Timeout time.Duration
	Check   func(ctx context.Context) error
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Probes []Probe
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on the configured probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if len(h.Probes) == 0 {
		http.Error(w, "dependencies unavailable", http.StatusServiceUnavailable)
		return
	}
	status := make(map[string]string, len(h.Probes))
	healthy := true
	for _, p := range h.Probes {
		if err := p.run(r.Context()); err != nil {
			status[p.Name] = err.Error()
			healthy = false
			continue
		}
		status[p.Name] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}

func (p Probe) run(ctx context.Context) error {
	if p.Check == nil {
		return errors.New("not configured")
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Check(ctx)
}

// PricingProbe verifies the engine still reproduces a reference invoice line
// and that the PPN 12% nilai lain figures agree with it.
func PricingProbe(eng pricing.Engine) Probe {
	return Probe{Name: "pricing", Check: func(context.Context) error {
		r, err := eng.Compute(pricing.LineInput{UnitPrice: 111_000, Quantity: 2, DiscountPercent: 10})
		if err != nil {
			return err
		}
		rate := eng.EffectiveRate()
		want := 111_000.0 * 2 * 0.9 * rate.BaseFactor() * (1 + rate.Fraction())
		if math.Abs(r.LineTotal-want) > 1e-6 {
			return errors.New("reference line total mismatch")
		}
		if pricing.PPN12NilaiLain.EquivalentTo(rate) {
			if _, _, err := eng.AlternateTax(r, pricing.PPN12NilaiLain); err != nil {
				return err
			}
		}
		return nil
	}}
}
