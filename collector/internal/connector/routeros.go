package connector

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/go-routeros/routeros/v3"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// apiProvider speaks the RouterOS binary API, in clear text or over TLS.
type apiProvider struct {
	name   string
	port   int
	useTLS bool
	tls    *tls.Config
}

func (p *apiProvider) Name() string { return p.name }

func (p *apiProvider) Dial(ctx context.Context, target types.DeviceTarget, creds types.Credentials) (Conn, error) {
	raw, address, err := dialTCP(ctx, target, p.name, p.port)
	if err != nil {
		return nil, err
	}

	conn := raw
	if p.useTLS {
		cfg := p.tls.Clone()
		if cfg.ServerName == "" {
			cfg.ServerName = target.Host
		}
		tc := tls.Client(raw, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("TLS handshake with %s: %w", address, err)
		}
		conn = tc
	}

	release := bindDeadline(ctx, conn)
	defer release()

	client, err := routeros.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("API client for %s: %w", address, err)
	}
	if err := client.Login(creds.Username, creds.Password); err != nil {
		client.Close()
		return nil, fmt.Errorf("API login to %s: %w", address, err)
	}

	return &apiConn{client: client, conn: conn}, nil
}

// apiConn serializes queries; the API client is not safe for concurrent use
// without its async mode.
type apiConn struct {
	mu     sync.Mutex
	client *routeros.Client
	conn   net.Conn
}

func (c *apiConn) Query(ctx context.Context, path string, args ...string) ([]types.RawRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	release := bindDeadline(ctx, c.conn)
	defer release()

	reply, err := c.client.Run(apiSentence(path, args)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", path, ctxErr)
		}
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	records := make([]types.RawRecord, 0, len(reply.Re))
	for _, re := range reply.Re {
		rec := make(types.RawRecord, len(re.Map))
		for k, v := range re.Map {
			rec[k] = v
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *apiConn) Close() error {
	return c.client.Close()
}

// apiSentence turns a resource path into an API print command.
// "/interface/ethernet" becomes "/interface/ethernet/print".
func apiSentence(path string, args []string) []string {
	cmd := "/" + strings.Trim(path, "/")
	if !strings.HasSuffix(cmd, "/print") {
		cmd += "/print"
	}
	return append([]string{cmd}, args...)
}
