package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
)

const (
	// RpcNamespace is the namespace under which the public API is registered.
	RpcNamespace = "clmm"
	// AdminNamespace holds privileged operations.
	AdminNamespace = "admin"
	// StateStreamSubscription is the subscription name passed to clmm_subscribe.
	StateStreamSubscription = "stateStream"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	Public         *PublicAPI
	// Admin is optional; the admin namespace is only served when it is set.
	Admin  *AdminAPI
	Logger Logger
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("config: Addr is required")
	}
	if c.Public == nil {
		return errors.New("config: Public API is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	return nil
}

// Server serves the JSON-RPC API over HTTP and WebSocket on one address.
type Server struct {
	rpc    *rpc.Server
	http   *http.Server
	logger Logger
}

func NewServer(cfg Config) (*Server, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(RpcNamespace, cfg.Public); err != nil {
		return nil, fmt.Errorf("failed to register %s API: %w", RpcNamespace, err)
	}
	if cfg.Admin != nil {
		if err := rpcServer.RegisterName(AdminNamespace, cfg.Admin); err != nil {
			return nil, fmt.Errorf("failed to register %s API: %w", AdminNamespace, err)
		}
	}

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	wsHandler := rpcServer.WebsocketHandler(origins)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isWebsocket(r) {
			wsHandler.ServeHTTP(w, r)
			return
		}
		rpcServer.ServeHTTP(w, r)
	})

	return &Server{
		rpc: rpcServer,
		http: &http.Server{
			Addr:              cfg.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: cfg.Logger,
	}, nil
}

// Handler serves JSON-RPC over HTTP and upgrades WebSocket requests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// RPC exposes the underlying server, e.g. for in-process clients.
func (s *Server) RPC() *rpc.Server {
	return s.rpc
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("json-rpc server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop closes open subscriptions and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.rpc.Stop()
	return s.http.Shutdown(ctx)
}

func isWebsocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}
