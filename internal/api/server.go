// Package api exposes the library over HTTP
package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"library-backend/internal/auth"
	"library-backend/internal/library"
	"library-backend/internal/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Options configures the HTTP surface
type Options struct {
	Prefix             string // API route prefix, default /api
	MediaRoot          string // directory for uploaded covers
	CORSOrigins        []string
	LoginRatePerMinute int // 0 disables login throttling
	LoginBurst         int
}

// Server holds the HTTP handlers
type Server struct {
	lib       *library.Service
	accounts  *auth.Service
	logger    *zap.Logger
	opts      Options
	limiter   *rateLimiter
	mediaRoot string
}

// NewServer creates the HTTP handlers over the circulation and account services
func NewServer(lib *library.Service, accounts *auth.Service, logger *zap.Logger, opts Options) *Server {
	if opts.Prefix == "" {
		opts.Prefix = "/api"
	}
	opts.Prefix = "/" + strings.Trim(opts.Prefix, "/")
	if opts.MediaRoot == "" {
		opts.MediaRoot = "media"
	}

	s := &Server{
		lib:       lib,
		accounts:  accounts,
		logger:    logger,
		opts:      opts,
		mediaRoot: opts.MediaRoot,
	}
	if opts.LoginRatePerMinute > 0 {
		s.limiter = newRateLimiter(opts.LoginRatePerMinute, opts.LoginBurst)
	}
	return s
}

// Handler builds the complete HTTP handler: API routes, media, health and metrics
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.PathPrefix("/media/").Handler(http.StripPrefix("/media/", http.FileServer(http.Dir(s.mediaRoot))))

	api := r.PathPrefix(s.opts.Prefix).Subrouter()
	s.registerRoutes(api)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"detail": "Method \"" + r.Method + "\" not allowed."})
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   s.opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
	})
	return c.Handler(metrics.InstrumentHandler(r))
}

func (s *Server) registerRoutes(r *mux.Router) {
	const id = "{id:[0-9]+}"

	// Books
	r.HandleFunc("/books/", s.public(s.handleListBooks)).Methods(http.MethodGet)
	r.HandleFunc("/books/", s.public(s.handleCreateBook)).Methods(http.MethodPost)
	r.HandleFunc("/books/borrowed/", s.private(s.handleBorrowedBooks)).Methods(http.MethodGet)
	r.HandleFunc("/books/"+id+"/", s.public(s.handleGetBook)).Methods(http.MethodGet)
	r.HandleFunc("/books/"+id+"/", s.public(s.handleUpdateBook)).Methods(http.MethodPut, http.MethodPatch)
	r.HandleFunc("/books/"+id+"/", s.public(s.handleDeleteBook)).Methods(http.MethodDelete)
	r.HandleFunc("/search/", s.private(s.handleSearch)).Methods(http.MethodGet)

	// Circulation
	r.HandleFunc("/books/"+id+"/borrow/", s.private(s.handleBorrow)).Methods(http.MethodPost)
	r.HandleFunc("/books/"+id+"/return/", s.private(s.handleReturn)).Methods(http.MethodPost)
	r.HandleFunc("/books/"+id+"/reserve/", s.private(s.handleReserve)).Methods(http.MethodPost)
	r.HandleFunc("/books/"+id+"/reservations/", s.private(s.handleReservationQueue)).Methods(http.MethodGet)
	r.HandleFunc("/books/"+id+"/reservations/export/", s.private(s.handleExportReservations)).Methods(http.MethodGet)
	r.HandleFunc("/books/"+id+"/borrow-request/", s.private(s.handleCreateBorrowRequest)).Methods(http.MethodPost)
	r.HandleFunc("/borrow-request/"+id+"/", s.private(s.handleDecideBorrowRequest)).Methods(http.MethodPut, http.MethodPost)
	r.HandleFunc("/reservations/", s.private(s.handleMyReservations)).Methods(http.MethodGet)
	r.HandleFunc("/reservation/cancel/"+id+"/", s.private(s.handleCancelReservation)).Methods(http.MethodPost)
	r.HandleFunc("/reservation/fulfill/"+id+"/", s.private(s.handleFulfillReservation)).Methods(http.MethodPost)

	// Staff views
	r.HandleFunc("/dashboard/", s.private(s.handleDashboard)).Methods(http.MethodGet)
	r.HandleFunc("/users/", s.private(s.handleListUsers)).Methods(http.MethodGet)
	r.HandleFunc("/activity/", s.private(s.handleActivity)).Methods(http.MethodGet)

	// Accounts
	r.HandleFunc("/auth/register/", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/token/", s.throttled(s.handleToken)).Methods(http.MethodPost)
	r.HandleFunc("/token/refresh/", s.handleRefresh).Methods(http.MethodPost)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
