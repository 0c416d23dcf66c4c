// ABOUTME: HTTP front, gRPC health and tailnet listeners for the agent daemon
// ABOUTME: Owns startup ordering and graceful shutdown

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"tailscale.com/tsnet"

	"github.com/2389/mrwp-agent/internal/config"
	"github.com/2389/mrwp-agent/internal/maintenance"
)

// Server runs the agent's listeners.
type Server struct {
	config     *config.Config
	comps      *Components
	logger     *slog.Logger
	handler    http.Handler
	httpServer *http.Server
	grpcServer *grpc.Server
	health     *HealthReporter
	tsnet      *tsnet.Server
}

// New builds the server. It does not listen until Run.
func New(cfg *config.Config, comps *Components, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config: cfg,
		comps:  comps,
		logger: logger.With("component", "server"),
	}

	handler, err := s.buildHandler()
	if err != nil {
		return nil, err
	}
	s.handler = handler
	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" {
		s.health = NewHealthReporter(comps.Gate, cfg.Server.HealthPollInterval, logger)
		s.grpcServer = grpc.NewServer(
			grpc.KeepaliveParams(keepalive.ServerParameters{
				Time:    15 * time.Second,
				Timeout: 5 * time.Second,
			}),
			grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
				MinTime:             5 * time.Second,
				PermitWithoutStream: true,
			}),
		)
		healthpb.RegisterHealthServer(s.grpcServer, s.health.Server())
	}
	return s, nil
}

// Handler returns the full HTTP handler chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// buildHandler mounts the API and the upstream proxy behind the gate.
// /health stays outside the gate.
func (s *Server) buildHandler() (http.Handler, error) {
	mux := http.NewServeMux()
	root := s.comps.API.Root()
	mux.Handle(root, s.comps.API)
	mux.Handle(root+"/", s.comps.API)

	if up := s.config.Site.Upstream; up != "" {
		proxy, err := newUpstreamProxy(up, s.logger)
		if err != nil {
			return nil, err
		}
		mux.Handle("/", proxy)
	} else {
		mux.HandleFunc("/", http.NotFound)
	}

	var admins maintenance.AdminDetector
	if s.comps.Admins != nil {
		admins = s.comps.Admins
	}
	gated := s.comps.Gate.Middleware(admins, nil)(mux)

	front := http.NewServeMux()
	front.HandleFunc("/health", s.handleHealth)
	front.Handle("/", gated)
	return front, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type listeners struct {
	http    net.Listener
	grpc    net.Listener
	tailnet net.Listener
}

func (l listeners) close() {
	for _, ln := range []net.Listener{l.http, l.grpc, l.tailnet} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// setupListeners opens TCP listeners and, when enabled, the tailnet listener.
func (s *Server) setupListeners(ctx context.Context) (listeners, error) {
	var ls listeners
	var err error

	if addr := s.config.Server.HTTPAddr; addr != "" {
		if ls.http, err = net.Listen("tcp", addr); err != nil {
			return ls, fmt.Errorf("listening on HTTP address: %w", err)
		}
	}
	if s.grpcServer != nil {
		if ls.grpc, err = net.Listen("tcp", s.config.Server.GRPCAddr); err != nil {
			ls.close()
			return ls, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}
	if s.config.Tailscale.Enabled {
		if ls.tailnet, err = s.setupTailscaleListener(ctx); err != nil {
			ls.close()
			return ls, err
		}
	}
	return ls, nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set tailscale.auth_key or TS_AUTHKEY")
	}
	return authKey, nil
}

func (s *Server) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := s.config.Tailscale
	if err := os.MkdirAll(tsCfg.StateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}
	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	s.tsnet = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       tsCfg.StateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}
	s.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", tsCfg.StateDir)
	st, err := s.tsnet.Up(ctx)
	if err != nil {
		_ = s.tsnet.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	if st.Self != nil {
		s.logger.Info("tailscale node up", "dns_name", st.Self.DNSName, "ips", st.TailscaleIPs)
	}

	ln, err := s.tsnet.Listen("tcp", ":80")
	if err != nil {
		_ = s.tsnet.Close()
		return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
	}
	return ln, nil
}

// Run starts every listener and blocks until ctx is cancelled or a server
// fails. Returns nil on graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	if err := s.comps.Restore(ctx); err != nil {
		return fmt.Errorf("restoring runtime state: %w", err)
	}

	ls, err := s.setupListeners(ctx)
	if err != nil {
		return err
	}

	bg, stopBG := context.WithCancel(context.Background())
	defer stopBG()
	go s.comps.Alerter.Run(bg)
	if s.health != nil {
		go s.health.Run(bg)
	}

	errCh := make(chan error, 3)
	serveHTTP := func(ln net.Listener, label string) {
		s.logger.Info("HTTP server listening", "listener", label, "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server (%s): %w", label, err)
		}
	}
	if ls.http != nil {
		go serveHTTP(ls.http, "tcp")
	}
	if ls.tailnet != nil {
		go serveHTTP(ls.tailnet, "tailnet")
	}
	if ls.grpc != nil {
		go func() {
			s.logger.Info("gRPC health server listening", "addr", ls.grpc.Addr().String())
			if err := s.grpcServer.Serve(ls.grpc); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// The run context is already cancelled here.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops listeners, drains queued alerts and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down agent")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.grpcServer != nil {
		s.health.Shutdown()
		s.shutdownGRPCServer(ctx)
	}
	if s.tsnet != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnet.Close())
	}

	drained := make(chan struct{})
	go func() {
		s.comps.Alerter.Close()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		s.logger.Warn("alert queue not drained before shutdown deadline")
	}

	errs = appendCloseError(errs, "components close", s.comps.Close())
	return errors.Join(errs...)
}
