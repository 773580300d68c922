package auth

import (
	"context"
	"log/slog"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// unauthenticatedMessage is the only status message a rejected call sees.
const unauthenticatedMessage = "unauthenticated"

// GRPCOption configures the server interceptors.
type GRPCOption func(*grpcAuth)

// WithPublicMethods exempts the named full methods (for example
// "/grpc.health.v1.Health/Check") from authentication. A name ending in
// "/" exempts every method of that service.
func WithPublicMethods(methods ...string) GRPCOption {
	return func(g *grpcAuth) {
		for _, m := range methods {
			g.public[m] = struct{}{}
		}
	}
}

// WithGRPCLogger sets the logger used for rejected calls.
func WithGRPCLogger(logger *slog.Logger) GRPCOption {
	return func(g *grpcAuth) {
		if logger != nil {
			g.logger = logger
		}
	}
}

type grpcAuth struct {
	validator TokenValidator
	logger    *slog.Logger
	public    map[string]struct{}
}

func newGRPCAuth(validator TokenValidator, opts []GRPCOption) *grpcAuth {
	g := &grpcAuth{
		validator: validator,
		logger:    slog.Default(),
		public:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *grpcAuth) isPublic(fullMethod string) bool {
	if _, ok := g.public[fullMethod]; ok {
		return true
	}
	if i := strings.LastIndex(fullMethod, "/"); i > 0 {
		_, ok := g.public[fullMethod[:i+1]]
		return ok
	}
	return false
}

// UnaryServerInterceptor authenticates every unary call from the
// "authorization" metadata. Failed calls return codes.Unauthenticated with
// a fixed message; the handler is not invoked.
func UnaryServerInterceptor(validator TokenValidator, opts ...GRPCOption) grpc.UnaryServerInterceptor {
	g := newGRPCAuth(validator, opts)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if g.isPublic(info.FullMethod) {
			return handler(ctx, req)
		}
		ctx, err := g.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor is the streaming counterpart of
// [UnaryServerInterceptor].
func StreamServerInterceptor(validator TokenValidator, opts ...GRPCOption) grpc.StreamServerInterceptor {
	g := newGRPCAuth(validator, opts)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if g.isPublic(info.FullMethod) {
			return handler(srv, ss)
		}
		ctx, err := g.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

func (g *grpcAuth) authenticate(ctx context.Context, fullMethod string) (context.Context, error) {
	var raw string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get(metadataAuthorization); len(values) > 0 {
			raw = values[0]
		}
	}

	token, ok := ExtractBearerToken(raw)
	if !ok {
		g.reject(ctx, fullMethod, errMissingCredentials, 0)
		return ctx, status.Error(codes.Unauthenticated, unauthenticatedMessage)
	}

	identity, err := g.validator.Authenticate(ctx, token)
	if err != nil {
		g.reject(ctx, fullMethod, err, len(token))
		return ctx, status.Error(codes.Unauthenticated, unauthenticatedMessage)
	}
	return ContextWithIdentity(ctx, identity), nil
}

func (g *grpcAuth) reject(ctx context.Context, fullMethod string, err error, tokenLength int) {
	logRejection(ctx, g.logger, err, tokenLength, slog.String("method", fullMethod))
}

// UnaryClientInterceptor forwards the caller's bearer token, taken from the
// [IdentityContext] in ctx, in outgoing metadata. Calls without an identity
// are sent unchanged.
func UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		return invoker(forwardToken(ctx), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor is the streaming counterpart of
// [UnaryClientInterceptor].
func StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		return streamer(forwardToken(ctx), desc, cc, method, opts...)
	}
}

func forwardToken(ctx context.Context) context.Context {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ctx
	}
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(metadataAuthorization, bearerHeaderValue(identity.Token()))
	return metadata.NewOutgoingContext(ctx, md)
}

// wrappedServerStream overrides Context so handlers see the identity.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
