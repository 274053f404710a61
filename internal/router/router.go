package router

import (
	"net/http"

	"github.com/intervia/backend/internal/auth"
	"github.com/intervia/backend/internal/handlers"
	"github.com/intervia/backend/internal/middleware"
)

// New returns an http.Handler that serves the API under /api/v1.
func New(authHandler *auth.Handler, creditHandler *handlers.CreditHandler, validator middleware.TokenValidator) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	mux.HandleFunc(base+"/auth/register", methodPOST(authHandler.Register))
	mux.HandleFunc(base+"/auth/login", methodPOST(authHandler.Login))

	authed := middleware.BearerAuth(validator)
	mux.Handle(base+"/credits/balance", authed(methodGET(creditHandler.GetBalance)))
	mux.Handle(base+"/credits/earnings", authed(methodGET(creditHandler.GetEarnings)))
	mux.Handle(base+"/credits/transactions", authed(methodGET(creditHandler.ListTransactions)))
	mux.Handle(base+"/credits/can-afford", authed(methodGET(creditHandler.CanAfford)))

	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
