package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/dhr/workerauth/internal/middleware"
)

// NewRouter wires the auth API. The returned handler already applies CORS.
func NewRouter(
	authHandlers *AuthHandlers,
	authMiddleware *middleware.AuthMiddleware,
	allowedOrigins []string,
	logger *logrus.Logger,
) http.Handler {
	router := mux.NewRouter()

	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoverMiddleware(logger))

	router.HandleFunc("/health", authHandlers.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/send-otp", authHandlers.SendOTP).Methods(http.MethodPost)
	auth.HandleFunc("/verify-otp", authHandlers.VerifyOTP).Methods(http.MethodPost)
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods(http.MethodPost)
	auth.Handle("/logout", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Logout))).Methods(http.MethodPost)

	api.Handle("/me", authMiddleware.RequireAuth(http.HandlerFunc(authHandlers.Me))).Methods(http.MethodGet)

	return middleware.CORS(router, allowedOrigins)
}
