package rpc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	epuerrors "github.com/luispineda/epu/pkg/errors"
	"github.com/luispineda/epu/pkg/log"
	"github.com/luispineda/epu/pkg/security"
)

// DefaultTimeout bounds a single Call/Fire round trip when the caller's
// context carries no deadline of its own.
const DefaultTimeout = 10 * time.Second

// Client dials one Server and issues Call/Fire requests against it. A
// Client is safe for concurrent use; callers normally keep one per
// destination (a Provisioner, a Controller, EPU Management) for the
// lifetime of the process.
type Client struct {
	conn   *grpc.ClientConn
	caller string
}

// ClientTLSConfig builds a mTLS client config from a role's certificate
// directory.
func ClientTLSConfig(certDir string) (*tls.Config, error) {
	cert, err := security.LoadCertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	caCert, err := security.LoadCACertFromFile(certDir)
	if err != nil {
		return nil, fmt.Errorf("load CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(caCert)
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// Dial connects to addr with mTLS using tlsConfig. caller is carried on
// every request as the identity EPU Management authorizes mutating
// domain operations against.
func Dial(addr string, tlsConfig *tls.Config, caller string) (*Client, error) {
	creds := credentials.NewTLS(tlsConfig)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, caller: caller}, nil
}

// DialInsecure connects without transport security, for tests and for the
// plaintext certificate-bootstrap RPC a fresh node uses before it has a
// certificate of its own.
func DialInsecure(addr string, caller string) (*Client, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, caller: caller}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes topic.operation and waits for its reply. Use for anything
// whose result the caller needs: provision, query, describe_domain, and
// the like.
func (c *Client) Call(ctx context.Context, topic, operation string, kwargs map[string]any) (map[string]any, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	req, err := encodeRequest(topic, operation, c.caller, kwargs)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/epu.rpc.Envelope/Invoke", req, out); err != nil {
		return nil, err
	}

	reply := out.AsMap()
	if code, ok := reply[keyErrorCode].(string); ok {
		msg, _ := reply["error_message"].(string)
		return nil, &epuerrors.Error{Code: epuerrors.Code(code), Message: msg}
	}
	return reply, nil
}

// Fire invokes topic.operation without surfacing its reply payload to the
// caller: the OU agent's heartbeats use Fire, matching the design's
// fire-and-forget table. A transport-level failure or a structured error
// reply is still returned (and logged) so the caller can act on it; any
// other reply payload is discarded.
func (c *Client) Fire(ctx context.Context, topic, operation string, kwargs map[string]any) error {
	_, err := c.Call(ctx, topic, operation, kwargs)
	if err != nil {
		log.WithComponent("rpc").Warn().Err(err).Str("topic", topic).Str("operation", operation).Msg("fire-and-forget call failed")
	}
	return err
}
