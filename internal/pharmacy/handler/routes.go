package handler

import (
	"github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/permissions"
	"github.com/go-chi/chi/v5"
)

// Routes mounts the pharmacy API. Callers must already be identified by
// httputil.CallerIdentity.
func Routes(r chi.Router, lots *LotHandler, alerts *AlertHandler) {
	read := httputil.RequirePermission(permissions.PharmacyRead)
	write := httputil.RequirePermission(permissions.PharmacyLotsWrite)
	remove := httputil.RequirePermission(permissions.PharmacyLotsDelete)
	dispense := httputil.RequirePermission(permissions.PharmacyDispense)
	maintain := httputil.RequirePermission(permissions.PharmacyMaintain)

	r.Route("/lots", func(r chi.Router) {
		r.With(read).Get("/", lots.List)
		r.With(write).Post("/", lots.Create)
		r.With(maintain).Post("/recompute", lots.Recompute)
		r.With(read).Get("/by-number/{numero}", lots.GetByNumber)
		r.With(read).Get("/{id}", lots.Get)
		r.With(write).Patch("/{id}", lots.Update)
		r.With(remove).Delete("/{id}", lots.Delete)
		r.With(remove).Post("/{id}/restore", lots.Restore)
		r.With(dispense).Post("/{id}/decrement", lots.Decrement)
	})

	r.Route("/medications/{id}", func(r chi.Router) {
		r.With(read).Get("/stock", lots.Stock)
		r.With(read).Get("/dispensable-lots", lots.DispensableLots)
		r.With(read).Get("/average-cost", lots.AverageCost)
		r.With(dispense).Post("/dispense", lots.Dispense)
	})

	r.Route("/alerts", func(r chi.Router) {
		r.Use(read)
		r.Get("/", alerts.All)
		r.Get("/critical-stock", alerts.CriticalStock)
		r.Get("/depleted", alerts.Depleted)
		r.Get("/near-expiry", alerts.NearExpiry)
		r.Get("/expired", alerts.Expired)
		r.Get("/summary", alerts.Summary)
		r.Post("/prescription-check", alerts.PrescriptionCheck)
	})
}
