package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Routes builds the HTTP router. Market stats and the ticker are public;
// everything else requires a bearer token.
func (h *Handler) Routes(ticker *Ticker, origins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.RequestLogger)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Public endpoints
	r.Get("/market/stats", h.GetMarketStats)
	if ticker != nil {
		r.Get("/ws/ticker", ticker.HandleWebSocket)
	}

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)

		r.Post("/users", h.Register)
		r.Get("/users", h.ListUsers)
		r.Get("/users/me", h.GetMe)
		r.Patch("/users/me", h.UpdateMe)
		r.Put("/users/{id}/status", h.SetUserStatus)
		r.Get("/buyers", h.ListBuyers)

		r.Post("/invoices", h.CreateInvoice)
		r.Get("/invoices", h.ListOpenInvoices)
		r.Get("/invoices/mine", h.ListMyInvoices)
		r.Get("/invoices/{id}", h.GetInvoice)
		r.Patch("/invoices/{id}", h.UpdateInvoice)
		r.Post("/invoices/{id}/offers", h.SubmitOffer)
		r.Get("/invoices/{id}/deals", h.GetInvoiceDeals)

		r.Get("/deals", h.GetMyDeals)
		r.Get("/deals/recent", h.GetRecentDeals)
		r.Get("/deals/{id}", h.GetDeal)
		r.Post("/deals/{id}/accept", h.AcceptOffer)
		r.Post("/deals/{id}/complete", h.CompleteDeal)
		r.Get("/deals/{id}/messages", h.GetMessages)
		r.Post("/deals/{id}/messages", h.PostMessage)
	})

	return r
}

// RequestLogger logs one line per request.
func (h *Handler) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Logger.Info("HTTP request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}
