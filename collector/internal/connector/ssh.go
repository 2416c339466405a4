package connector

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// sshProvider runs RouterOS CLI print commands over SSH and parses the
// terse output.
type sshProvider struct {
	port     int
	hostKeys ssh.HostKeyCallback

	// userSuffix is appended to the login name. "+ct" turns off colors and
	// terminal detection on RouterOS.
	userSuffix string
}

func (p *sshProvider) Name() string { return types.ProviderSSH }

func (p *sshProvider) Dial(ctx context.Context, target types.DeviceTarget, creds types.Credentials) (Conn, error) {
	var authMethods []ssh.AuthMethod
	if creds.Password != "" {
		authMethods = append(authMethods, ssh.Password(creds.Password))
	}
	if creds.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(creds.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("parsing private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if len(authMethods) == 0 {
		return nil, fmt.Errorf("no authentication method provided")
	}

	timeout := 30 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}

	sshConfig := &ssh.ClientConfig{
		User:            creds.Username + p.userSuffix,
		Auth:            authMethods,
		HostKeyCallback: p.hostKeys,
		Timeout:         timeout,
	}

	conn, address, err := dialTCP(ctx, target, types.ProviderSSH, p.port)
	if err != nil {
		return nil, err
	}

	release := bindDeadline(ctx, conn)
	cc, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	release()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("SSH handshake with %s failed: %w", address, err)
	}

	return &sshConn{client: ssh.NewClient(cc, chans, reqs)}, nil
}

type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Query(ctx context.Context, path string, args ...string) ([]types.RawRecord, error) {
	out, err := c.run(ctx, cliCommand(path, args))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if msg := cliError(out); msg != "" {
		return nil, fmt.Errorf("%s: %s", path, msg)
	}
	return ParseCLIOutput(out), nil
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

// run executes a command and returns its output.
func (c *sshConn) run(ctx context.Context, cmd string) (string, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err := <-done:
		if err != nil {
			if stderr.Len() > 0 {
				return stdout.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
			}
			return stdout.String(), err
		}
		return stdout.String(), nil
	case <-ctx.Done():
		session.Signal(ssh.SIGTERM)
		return "", ctx.Err()
	}
}
