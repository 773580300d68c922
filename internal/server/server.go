// Package server assembles the authgate gateway: an HTTP API behind the
// bearer-token middleware, an optional gRPC listener behind the auth
// interceptors, and the process lifecycle that ties them to their
// collaborators.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/StricklySoft/authgate/pkg/auth"
	"github.com/StricklySoft/authgate/pkg/lifecycle"

	sserr "github.com/StricklySoft/authgate/pkg/errors"
)

const (
	// ServiceName is reported by the lifecycle and the gRPC health service.
	ServiceName = "authgate"

	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
)

// Deps are the collaborators a [Server] serves with. Only Validator is
// required.
type Deps struct {
	Validator auth.TokenValidator

	// Keys is warmed at start and probed by the required "keyset"
	// health check.
	Keys auth.KeyProvider

	// DB enables GET /v1/me/db.
	DB SessionRunner

	// BackendTransport carries proxied /v1/rest calls. Nil uses
	// http.DefaultTransport.
	BackendTransport http.RoundTripper

	// Checks and OnStop come from [Open] and are registered with the
	// lifecycle.
	Checks []lifecycle.Check
	OnStop []lifecycle.Hook
}

// Server is the gateway process.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	service *lifecycle.Service
	router  *mux.Router

	httpServer *http.Server
	grpcServer *grpc.Server
	health     *health.Server
}

// New builds the router, gRPC server and lifecycle. Nothing listens until
// [Server.Run].
func New(cfg Config, deps Deps, version string, logger *slog.Logger) (*Server, error) {
	if deps.Validator == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "server: token validator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		health: health.NewServer(),
	}
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	svc, err := s.buildService(deps, version)
	if err != nil {
		return nil, err
	}
	s.service = svc

	router, err := s.buildRouter(deps)
	if err != nil {
		return nil, err
	}
	s.router = router

	s.httpServer = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	authOpts := []auth.GRPCOption{
		auth.WithPublicMethods("/" + healthpb.Health_ServiceDesc.ServiceName + "/"),
		auth.WithGRPCLogger(logger),
	}
	s.grpcServer = grpc.NewServer(
		grpc.ChainUnaryInterceptor(auth.UnaryServerInterceptor(deps.Validator, authOpts...)),
		grpc.ChainStreamInterceptor(auth.StreamServerInterceptor(deps.Validator, authOpts...)),
	)
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	return s, nil
}

func (s *Server) buildService(deps Deps, version string) (*lifecycle.Service, error) {
	b := lifecycle.NewServiceBuilder(ServiceName, version).
		WithLogger(s.logger).
		OnStateChange(func(_, new lifecycle.State) {
			status := healthpb.HealthCheckResponse_NOT_SERVING
			if new == lifecycle.StateRunning {
				status = healthpb.HealthCheckResponse_SERVING
			}
			s.health.SetServingStatus(ServiceName, status)
			s.health.SetServingStatus("", status)
		})

	if deps.Keys != nil {
		keys := deps.Keys
		// Warm the cache so the first request does not pay for the fetch.
		// A provider outage at boot is not fatal; requests fail closed.
		b.WithOnStart(func(ctx context.Context) error {
			if _, err := keys.Get(ctx, false); err != nil {
				s.logger.WarnContext(ctx, "key set warm-up failed", "code", string(sserr.GetCode(err)), "error", err)
			}
			return nil
		})
		b.WithCheck(lifecycle.Check{
			Name: "keyset",
			Probe: func(ctx context.Context) error {
				_, err := keys.Get(ctx, false)
				return err
			},
		})
	}
	for _, c := range deps.Checks {
		b.WithCheck(c)
	}
	for _, h := range deps.OnStop {
		b.WithOnStop(h)
	}
	return b.Build()
}

func (s *Server) buildRouter(deps Deps) (*mux.Router, error) {
	r := mux.NewRouter()
	r.Use(correlationMiddleware, accessLogMiddleware(s.logger), recoverMiddleware(s.logger))

	r.Handle("/healthz", healthHandler(s.service)).Methods(http.MethodGet)
	r.Handle("/v1/whoami", auth.OptionalHTTPMiddleware(deps.Validator, s.logger)(http.HandlerFunc(whoamiHandler))).
		Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(auth.HTTPMiddleware(deps.Validator, s.logger))
	api.HandleFunc("/me", meHandler).Methods(http.MethodGet)

	if deps.DB != nil {
		api.Handle("/me/db", dbHandler(deps.DB, s.logger)).Methods(http.MethodGet)
	}
	if s.cfg.BackendURL != "" {
		backend, err := url.Parse(s.cfg.BackendURL)
		if err != nil {
			return nil, sserr.Wrap(err, sserr.CodeValidation, "server: invalid backend_url")
		}
		api.PathPrefix("/rest/").Handler(newRESTProxy(backend, s.cfg.BackendAPIKey, deps.BackendTransport, s.logger))
	}
	return r, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Service returns the process lifecycle.
func (s *Server) Service() *lifecycle.Service { return s.service }

// GRPCServer returns the gRPC server so callers can register services
// before [Server.Run]. Every registered method requires a bearer token.
func (s *Server) GRPCServer() *grpc.Server { return s.grpcServer }

// Run starts the lifecycle and the listeners and blocks until ctx is done
// or a listener fails, then shuts down within cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr)
	if err != nil {
		return sserr.Wrapf(err, sserr.CodeInternalConfiguration, "server: failed to listen on %s", s.cfg.HTTPAddr)
	}
	var grpcLn net.Listener
	if s.cfg.GRPCAddr != "" {
		grpcLn, err = net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return sserr.Wrapf(err, sserr.CodeInternalConfiguration, "server: failed to listen on %s", s.cfg.GRPCAddr)
		}
	}
	return s.Serve(ctx, httpLn, grpcLn)
}

// Serve is Run on existing listeners. grpcLn may be nil.
func (s *Server) Serve(ctx context.Context, httpLn, grpcLn net.Listener) error {
	if err := s.service.Start(ctx); err != nil {
		_ = httpLn.Close()
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("http listener started", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); !errors.Is(err, http.ErrServerClosed) {
			return sserr.Wrap(err, sserr.CodeUnavailable, "server: http listener failed")
		}
		return nil
	})
	if grpcLn != nil {
		g.Go(func() error {
			s.logger.Info("grpc listener started", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				return sserr.Wrap(err, sserr.CodeUnavailable, "server: grpc listener failed")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return s.shutdown(grpcLn != nil)
	})
	return g.Wait()
}

func (s *Server) shutdown(withGRPC bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down", "timeout", s.cfg.ShutdownTimeout.String())

	s.health.Shutdown()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, sserr.Wrap(err, sserr.CodeTimeout, "server: http shutdown incomplete"))
	}
	if withGRPC {
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
	if err := s.service.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
