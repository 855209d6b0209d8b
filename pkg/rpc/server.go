package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/metrics"
	"github.com/luispineda/epu/pkg/security"
)

// Handler implements one topic/operation. kwargs is the decoded keyword
// argument map from the wire; the returned map (possibly nil) becomes the
// reply for Call, and is ignored by Fire.
type Handler func(ctx context.Context, caller string, kwargs map[string]any) (map[string]any, error)

// Server hosts a Router of registered operations behind one generic gRPC
// method, mirroring the topic-based RPC/fire fabric's server side: a
// process exposes a handful of named operations, and the transport never
// needs a new message type to add one.
type Server struct {
	grpcServer *grpc.Server

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewServer builds a Server. tlsConfig may be nil for a plaintext
// listener (tests, or a join-token bootstrap RPC before a node has a
// certificate); production servers pass a mTLS config built with
// ServerTLSConfig.
func NewServer(tlsConfig *tls.Config) *Server {
	var opts []grpc.ServerOption
	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		handlers:   make(map[string]Handler),
	}
	s.grpcServer.RegisterService(&envelopeServiceDesc, s)
	return s
}

// ServerTLSConfig builds a mTLS server config from a role's certificate
// directory, the same material pkg/security's CertAuthority issues.
func ServerTLSConfig(certDir string) (*tls.Config, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load server certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// Register binds a handler to topic.operation. A later Register for the
// same key replaces the prior handler, which lets a process re-register
// on domain reconfiguration without restarting the listener.
func (s *Server) Register(topic, operation string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key(topic, operation)] = h
}

// Unregister removes a previously registered handler, e.g. when a domain
// is removed and its controller's operations should no longer route.
func (s *Server) Unregister(topic, operation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, key(topic, operation))
}

func key(topic, operation string) string { return topic + "." + operation }

// Invoke implements envelopeServer: it decodes the wire Struct, looks up
// the registered handler by topic.operation, and encodes the result. A
// handler error never becomes a formatted exception string on the wire:
// it is carried as the error_code/error_message fields of the reply
// Struct, recovered on Client.Call without prefix-parsing a message.
// Only routing failures (no such operation registered) are a transport
// level gRPC error, since those precede any application-level handling.
func (s *Server) Invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	topic, operation, caller, kwargs := decodeRequest(req)

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.RPCRequestDuration, operation)

	s.mu.RLock()
	h, ok := s.handlers[key(topic, operation)]
	s.mu.RUnlock()
	if !ok {
		metrics.RPCRequestsTotal.WithLabelValues(operation, "not_found").Inc()
		return nil, status.Errorf(codes.Unimplemented, "no handler registered for %s.%s", topic, operation)
	}

	result, err := h(ctx, caller, kwargs)
	if err != nil {
		metrics.RPCRequestsTotal.WithLabelValues(operation, "error").Inc()
		log.WithComponent("rpc").Error().Err(err).Str("topic", topic).Str("operation", operation).Msg("handler failed")
		return encodeError(err)
	}

	metrics.RPCRequestsTotal.WithLabelValues(operation, "ok").Inc()
	out, encErr := structpb.NewStruct(result)
	if encErr != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", encErr)
	}
	return out, nil
}

// encodeError packs a handler's error onto the wire as reply fields
// rather than a gRPC status, so Call's reply envelope always carries
// {"_error_code": ..., "error_message": ...} for a structured failure, per
// the message RPC contract's error handling section.
func encodeError(err error) (*structpb.Struct, error) {
	code, ok := epuerrors.GetCode(err)
	if !ok {
		code = "unknown"
	}
	out, encErr := structpb.NewStruct(map[string]any{
		keyErrorCode:    string(code),
		"error_message": err.Error(),
	})
	if encErr != nil {
		return nil, status.Errorf(codes.Internal, "encode error reply: %v", encErr)
	}
	return out, nil
}

// Serve accepts connections on lis until the server is stopped.
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// GracefulStop drains in-flight RPCs and stops the listener.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}
