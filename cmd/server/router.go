package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kwestin/docsmith-api/internal/api"
	"github.com/kwestin/docsmith-api/internal/api/middleware"
	"github.com/kwestin/docsmith-api/internal/auth"
)

type routerDeps struct {
	verifier    auth.TokenVerifier
	webhook     *api.WebhookHandler
	batch       *api.BatchHandler
	deliverable *api.DeliverableHandler
}

// newRouter assembles the route tree. The worker webhook authenticates
// with its own shared secret and stays outside the bearer-token group.
func newRouter(deps routerDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.TraceMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhooks/worker", deps.webhook.HandleWorkerCallback)

		r.Group(func(r chi.Router) {
			authMiddleware := middleware.NewAuthMiddleware(deps.verifier)
			r.Use(authMiddleware.Authenticate)

			r.Post("/contracts/{contractID}/sources", deps.batch.CreateBatch)
			r.Get("/batches/{batchID}", deps.batch.GetBatch)

			r.Post("/deliverables/{deliverableID}/generate", deps.deliverable.Generate)
			r.Post("/deliverables/{deliverableID}/reconcile", deps.deliverable.ReconcileDeliverable)
			r.Post("/sources/{sourceID}/reconcile", deps.deliverable.ReconcileSource)
		})
	})

	return r
}
