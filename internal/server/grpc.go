package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/alfredjeanlab/sitegate/internal/authz"
	"github.com/alfredjeanlab/sitegate/internal/metrics"
	"github.com/alfredjeanlab/sitegate/internal/session"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// NewGRPCServer returns a gRPC server carrying the health service, which
// reports site availability under SiteHealthService, and reflection.
func NewGRPCServer(s *SiteServer) *grpc.Server {
	auth := &rpcAuth{tokens: s.tokens, privileges: s.sessions.Privileges}
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			RecoveryInterceptor(s.logger),
			LoggingInterceptor(s.logger),
			auth.unary,
		),
		grpc.ChainStreamInterceptor(
			recoverStream(s.logger),
			logStream(s.logger),
			auth.stream,
		),
	)
	healthpb.RegisterHealthServer(srv, s.Health)
	reflection.Register(srv)
	return srv
}

func recoverRPC(logger *slog.Logger, method string, err *error) {
	if p := recover(); p != nil {
		logger.Error("panic recovered in gRPC handler",
			"method", method,
			"panic", fmt.Sprintf("%v", p),
			"stack", string(debug.Stack()),
		)
		*err = status.Error(codes.Internal, "internal server error")
	}
}

func logRPC(logger *slog.Logger, method string, start time.Time, err error) {
	code := status.Code(err)
	metrics.ObserveRPC(method, code.String())
	if err != nil && code != codes.Unauthenticated && code != codes.Canceled {
		logger.Error("rpc completed", "method", method, "code", code, "duration", time.Since(start), "error", err)
		return
	}
	logger.Debug("rpc completed", "method", method, "code", code, "duration", time.Since(start))
}

// RecoveryInterceptor turns a handler panic into codes.Internal.
func RecoveryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer recoverRPC(logger, info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs and counts every unary call by status code.
func LoggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(logger, info.FullMethod, start, err)
		return resp, err
	}
}

func recoverStream(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer recoverRPC(logger, info.FullMethod, &err)
		return handler(srv, ss)
	}
}

func logStream(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(logger, info.FullMethod, start, err)
		return err
	}
}

// rpcAuth resolves the bearer session token in the "authorization"
// metadata into the authz principal. Calls without the header run
// anonymously; a header with an unusable token is rejected. The health
// service never needs a token.
type rpcAuth struct {
	tokens     *session.Tokens
	privileges session.PrivilegeLookup
}

// AuthInterceptor is the unary form of rpcAuth.
func AuthInterceptor(tokens *session.Tokens, privileges session.PrivilegeLookup) grpc.UnaryServerInterceptor {
	return (&rpcAuth{tokens: tokens, privileges: privileges}).unary
}

func (a *rpcAuth) principal(ctx context.Context, method string) (context.Context, error) {
	if strings.HasPrefix(method, "/"+healthpb.Health_ServiceDesc.ServiceName+"/") {
		return ctx, nil
	}
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ctx, nil
	}
	raw, ok := strings.CutPrefix(vals[0], "Bearer ")
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "invalid authorization scheme")
	}
	id, err := a.tokens.Verify(ctx, raw)
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "invalid token")
	}
	rec, err := a.privileges.GetPrivilege(ctx, id.Ref)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "privilege lookup failed: %v", err)
	}
	p := authz.Principal{IdentityRef: id.Ref}
	if rec != nil {
		p.Tier = rec.Tier
	}
	return authz.WithPrincipal(ctx, p), nil
}

func (a *rpcAuth) unary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	ctx, err := a.principal(ctx, info.FullMethod)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

func (a *rpcAuth) stream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	ctx, err := a.principal(ss.Context(), info.FullMethod)
	if err != nil {
		return err
	}
	return handler(srv, &principalStream{ServerStream: ss, ctx: ctx})
}

// principalStream carries the resolved principal on a stream's context.
type principalStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *principalStream) Context() context.Context { return s.ctx }
