// Package api exposes the streaming service to downstream consumers: REST
// endpoints for point-in-time reads (tokens, order books, last trade
// prices, stats, worker statuses) and a WebSocket endpoint streaming the
// aggregated event feed.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"polystream/internal/config"
)

// Server runs the HTTP/WebSocket consumer surface.
type Server struct {
	cfg    config.DashboardConfig
	hub    *Hub
	server *http.Server
	logger *slog.Logger
}

// NewServer builds a Server wired to provider and ready to Start.
func NewServer(cfg config.DashboardConfig, provider StreamingProvider, logger *slog.Logger) *Server {
	logger = logger.With("component", "api-server")
	hub := NewHub(logger)
	handlers := NewHandlers(provider, hub, logger)

	router := mux.NewRouter()
	router.HandleFunc("/health", handlers.HandleHealth).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/tokens", handlers.HandleTokens).Methods("GET")
	v1.HandleFunc("/books/{assetID}", handlers.HandleOrderBook).Methods("GET")
	v1.HandleFunc("/prices/{assetID}", handlers.HandleLastTradePrice).Methods("GET")
	v1.HandleFunc("/stats", handlers.HandleStats).Methods("GET")
	v1.HandleFunc("/workers", handlers.HandleWorkers).Methods("GET")

	router.HandleFunc("/ws", handlers.HandleWebSocket)

	corsMiddleware := cors.New(cors.Options{
		AllowOriginRequestFunc: func(r *http.Request, origin string) bool {
			return isOriginAllowed(origin, cfg, r.Host)
		},
		AllowedMethods: []string{"GET"},
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      corsMiddleware.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{cfg: cfg, hub: hub, server: httpServer, logger: logger}
}

// Start blocks serving HTTP until Stop is called or the server errors.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the HTTP server and closes every WebSocket
// client.
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")
	s.hub.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func isOriginAllowed(origin string, cfg config.DashboardConfig, reqHost string) bool {
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	normalized := normalizeOrigin(originURL.Scheme, originURL.Host)
	if normalized == "" {
		return false
	}

	if len(cfg.AllowedOrigins) > 0 {
		for _, allowed := range cfg.AllowedOrigins {
			u, err := url.Parse(allowed)
			if err != nil {
				continue
			}
			if normalized == normalizeOrigin(u.Scheme, u.Host) {
				return true
			}
		}
		return false
	}

	host := strings.ToLower(originURL.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}

	reqHostname := normalizeHost(reqHost)
	return reqHostname != "" && host == reqHostname
}

func normalizeOrigin(scheme, host string) string {
	if scheme == "" || host == "" {
		return ""
	}
	return strings.ToLower(scheme) + "://" + strings.ToLower(host)
}

func normalizeHost(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(hostport)
}
