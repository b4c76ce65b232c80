package server

import (
	"context"
	"net/http"
	"time"

	"example.com/tweetapp/internal/logger"
	"example.com/tweetapp/internal/middleware"
	"example.com/tweetapp/internal/service"
	"example.com/tweetapp/internal/store"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const apiBase = "/api/v1.0/tweets"

type Server struct {
	svc       *service.TweetService
	users     store.UserDirectory
	jwtSecret []byte
	jwtTTL    time.Duration
}

var logg = logger.New()

func New(svc *service.TweetService, users store.UserDirectory, jwtSecret []byte, jwtTTL time.Duration) *Server {
	return &Server{
		svc:       svc,
		users:     users,
		jwtSecret: jwtSecret,
		jwtTTL:    jwtTTL,
	}
}

// Router builds the HTTP routes. Everything under the tweets API except
// /register needs a bearer token.
func (s *Server) Router() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Metrics)

	router.Handle("/metrics", promhttp.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	api := router.PathPrefix(apiBase).Subrouter()
	auth := middleware.JWTAuth(s.jwtSecret)

	// Public endpoint for user registration (no JWT required)
	api.HandleFunc("/register", s.registerHandler).Methods(http.MethodPost)

	// /all has to come before /{username}
	api.Handle("/all", auth(http.HandlerFunc(s.getAllTweetsHandler))).Methods(http.MethodGet)
	api.Handle("/{username}", auth(http.HandlerFunc(s.getUserTweetsHandler))).Methods(http.MethodGet)
	api.Handle("/{username}/add", auth(http.HandlerFunc(s.postTweetHandler))).Methods(http.MethodPost)
	api.Handle("/{username}/update/{id}", auth(http.HandlerFunc(s.updateTweetHandler))).Methods(http.MethodPut)
	api.Handle("/{username}/delete/{id}", auth(http.HandlerFunc(s.deleteTweetHandler))).Methods(http.MethodDelete)
	api.Handle("/{username}/like/{id}", auth(http.HandlerFunc(s.likeTweetHandler))).Methods(http.MethodPut)
	api.Handle("/{username}/reply/{id}", auth(http.HandlerFunc(s.replyTweetHandler))).Methods(http.MethodPost)

	allowedHeaders := handlers.AllowedHeaders([]string{"X-Requested-With", "Content-Type", "Authorization"})
	allowedMethods := handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	allowedOrigins := handlers.AllowedOrigins([]string{"*"})

	return handlers.CORS(allowedHeaders, allowedMethods, allowedOrigins)(router)
}

// Run serves until ctx is cancelled, then shuts down gracefully. TLS is used
// when both certificate paths are set.
func Run(ctx context.Context, s *Server, addr, tlsCert, tlsKey string) {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second, // prevent slowloris attacks
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if tlsCert != "" && tlsKey != "" {
			logg.Info("server", "Starting HTTPS server on "+addr)
			err = srv.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			logg.Info("server", "Starting HTTP server on "+addr)
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logg.Error("server", "Server stopped unexpectedly", err)
		}
	}()

	<-ctx.Done()
	logg.Info("server", "Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error("server", "Error during server shutdown", err)
	} else {
		logg.Info("server", "Server stopped gracefully")
	}
}
