package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/contacthub/apiserver/config"
	"github.com/contacthub/apiserver/internal/db"
	"github.com/contacthub/apiserver/internal/handlers"
	"github.com/contacthub/apiserver/internal/mq"
	"github.com/contacthub/apiserver/internal/services"
	"github.com/contacthub/apiserver/internal/storage"
	"github.com/contacthub/apiserver/internal/store"
)

// Server wraps the HTTP server and router.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	events     *mq.MQ
}

// New constructs a Server with basic middleware and defaults.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	objStorage, err := newObjectStorage(ctx, cfg.Storage)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}
	if err := objStorage.EnsureBucket(ctx); err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	events, err := newEventBroker(ctx, cfg.MQ)
	if err != nil {
		_ = dbConn.Close()
		return nil, err
	}

	contactRepo := store.NewContactRepository(dbConn)
	userRepo := store.NewUserRepository(dbConn)

	var publisher services.Publisher
	if events != nil {
		publisher = events
	}
	contactService := services.NewContactService(contactRepo, objStorage, publisher)
	userService := services.NewUserService(userRepo, contactService)

	jwtSecret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
	if jwtSecret == "" {
		_ = dbConn.Close()
		return nil, errors.New("JWT_SECRET is required")
	}

	authMiddleware := handlers.RequireAuth(jwtSecret)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/contacts", func(r chi.Router) {
		handlers.ContactRouter(r, contactService, contactRepo, authMiddleware)
	})
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, userService, jwtSecret)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		router:     router,
		db:         dbConn,
		events:     events,
	}, nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown attempts a graceful shutdown.
func (s *Server) Shutdown() error {
	if s.db != nil {
		_ = s.db.Close()
	}
	if s.events != nil {
		_ = s.events.Close()
	}
	return s.httpServer.Close()
}

func newObjectStorage(ctx context.Context, cfg config.StorageConfig) (*storage.Storage, error) {
	switch cfg.Backend {
	case config.StorageBackendMinio:
		backend, err := storage.NewMinioClient(cfg.Minio)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	case config.StorageBackendGCS:
		backend, err := storage.NewGCSClient(ctx, cfg.GCS)
		if err != nil {
			return nil, err
		}
		return storage.NewStorage(backend), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// newEventBroker returns nil when no broker is configured; the contact
// service then skips lifecycle events.
func newEventBroker(ctx context.Context, cfg config.MQConfig) (*mq.MQ, error) {
	switch cfg.Backend {
	case config.MQBackendNone, "":
		return nil, nil
	case config.MQBackendRabbitMQ:
		backend, err := mq.NewRabbitMQClient(cfg.RabbitMQ)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	case config.MQBackendPubSub:
		backend, err := mq.NewPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			return nil, err
		}
		return mq.New(backend), nil
	default:
		return nil, fmt.Errorf("unknown mq backend %q", cfg.Backend)
	}
}
