package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	// All API routes will be under /api
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		})

		// SQL assistant
		r.Post("/analyze", apiHandler.AnalyzeHandler)
		r.Post("/voice", apiHandler.VoiceHandler)
		r.Get("/history/{usercode}", apiHandler.HistoryHandler)

		// Document question answering
		r.Post("/documents", apiHandler.UploadDocumentHandler)
		r.Post("/userquery", apiHandler.DocQueryHandler)
	})

	return r
}
