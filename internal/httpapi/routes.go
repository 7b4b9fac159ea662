package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chess-arena/internal/ws"
)

// SetupRoutes builds the router for the API surface and the realtime
// upgrade endpoint.
func SetupRoutes(s *Server, wsHandler *ws.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/rooms", s.CreateRoom)
		r.Get("/rooms/{code}/board.png", s.BoardPNG)
		r.Post("/move", s.SubmitMove)
		r.Post("/legal-moves", s.LegalMoves)
		r.Get("/matches", s.RecentMatches)
		r.Get("/stats", s.Stats)
	})
	r.Get("/ws", wsHandler.ServeHTTP)
	r.Get("/healthz", Healthz)
	return r
}
