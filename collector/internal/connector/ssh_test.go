package connector

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/pilot-net/routerwatch/pkg/types"
)

const (
	testSSHUser     = "admin"
	testSSHPassword = "secret"

	// hangCommand is accepted by fakeRouter but never finishes.
	hangCommand = "/log print terse without-paging"
)

// fakeRouter is an in-process SSH server that answers exec requests with
// canned RouterOS CLI output.
type fakeRouter struct {
	port      int
	hostKey   ssh.PublicKey
	clientKey string

	// outputs maps a full CLI command to what the router prints.
	outputs map[string]string

	mu       sync.Mutex
	commands []string
	signals  chan string
}

func newFakeRouter(t *testing.T, outputs map[string]string) *fakeRouter {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatal(err)
	}

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	authorized, err := ssh.NewPublicKey(clientPub)
	if err != nil {
		t.Fatal(err)
	}
	block, err := ssh.MarshalPrivateKey(clientPriv, "")
	if err != nil {
		t.Fatal(err)
	}

	wantUser := testSSHUser + "+ct"
	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if c.User() == wantUser && string(pw) == testSSHPassword {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if c.User() == wantUser && bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, fmt.Errorf("key rejected for %q", c.User())
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	r := &fakeRouter{
		port:      ln.Addr().(*net.TCPAddr).Port,
		hostKey:   hostSigner.PublicKey(),
		clientKey: string(pem.EncodeToMemory(block)),
		outputs:   outputs,
		signals:   make(chan string, 4),
	}

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go r.serveConn(nc, cfg)
		}
	}()
	return r
}

func (r *fakeRouter) serveConn(nc net.Conn, cfg *ssh.ServerConfig) {
	sc, chans, reqs, err := ssh.NewServerConn(nc, cfg)
	if err != nil {
		nc.Close()
		return
	}
	defer sc.Close()
	go ssh.DiscardRequests(reqs)

	for nch := range chans {
		if nch.ChannelType() != "session" {
			nch.Reject(ssh.UnknownChannelType, "session only")
			continue
		}
		ch, creqs, err := nch.Accept()
		if err != nil {
			continue
		}
		go r.serveSession(ch, creqs)
	}
}

func (r *fakeRouter) serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()

	for req := range reqs {
		switch req.Type {
		case "exec":
			var p struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &p); err != nil {
				req.Reply(false, nil)
				continue
			}
			req.Reply(true, nil)

			r.mu.Lock()
			r.commands = append(r.commands, p.Command)
			r.mu.Unlock()

			if p.Command == hangCommand {
				continue
			}
			out, ok := r.outputs[p.Command]
			if !ok {
				out = "bad command name " + p.Command + " (line 1 column 2)\r\n"
			}
			io.WriteString(ch, out)
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0}))
			return
		case "signal":
			var p struct{ Signal string }
			if ssh.Unmarshal(req.Payload, &p) == nil {
				r.signals <- p.Signal
			}
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (r *fakeRouter) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commands...)
}

func (r *fakeRouter) target() types.DeviceTarget {
	return types.DeviceTarget{
		ID:    "dev-1",
		Host:  "127.0.0.1",
		Ports: map[string]int{types.ProviderSSH: r.port},
	}
}

func (r *fakeRouter) provider() *sshProvider {
	return &sshProvider{hostKeys: ssh.FixedHostKey(r.hostKey), userSuffix: "+ct"}
}

func dialFakeRouter(t *testing.T, r *fakeRouter) Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := r.provider().Dial(ctx, r.target(), types.Credentials{Username: testSSHUser, Password: testSSHPassword})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSSHProvider_Login(t *testing.T) {
	r := newFakeRouter(t, nil)

	_, otherPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	otherSigner, err := ssh.NewSignerFromKey(otherPriv)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		creds    types.Credentials
		hostKeys ssh.HostKeyCallback
		wantErr  string
	}{
		{"password", types.Credentials{Username: testSSHUser, Password: testSSHPassword}, nil, ""},
		{"private key", types.Credentials{Username: testSSHUser, PrivateKey: r.clientKey}, nil, ""},
		{"wrong password", types.Credentials{Username: testSSHUser, Password: "guess"}, nil, "unable to authenticate"},
		{"wrong user", types.Credentials{Username: "root", Password: testSSHPassword}, nil, "unable to authenticate"},
		{"no auth method", types.Credentials{Username: testSSHUser}, nil, "no authentication method"},
		{"bad private key", types.Credentials{Username: testSSHUser, PrivateKey: "not a key"}, nil, "parsing private key"},
		{"unexpected host key", types.Credentials{Username: testSSHUser, Password: testSSHPassword}, ssh.FixedHostKey(otherSigner.PublicKey()), "host key mismatch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := r.provider()
			if tt.hostKeys != nil {
				p.hostKeys = tt.hostKeys
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			conn, err := p.Dial(ctx, r.target(), tt.creds)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Dial: %v", err)
				}
				conn.Close()
				return
			}
			if err == nil {
				conn.Close()
				t.Fatalf("Dial succeeded, want error mentioning %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestSSHConn_Query(t *testing.T) {
	r := newFakeRouter(t, map[string]string{
		"/system identity print without-paging": "  name: core-rtr-1\r\n",
		"/interface print stats terse without-paging": "Flags: R - RUNNING\r\n" +
			" 0 R  name=ether1 rx-byte=1200 tx-byte=800 rx-drop=4 tx-drop=0\r\n" +
			" 1    name=ether2 rx-byte=0 tx-byte=0 rx-drop=0 tx-drop=0\r\n",
	})
	conn := dialFakeRouter(t, r)
	ctx := context.Background()

	ident, err := conn.Query(ctx, "/system/identity")
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	if len(ident) != 1 || ident[0]["name"] != "core-rtr-1" {
		t.Errorf("identity = %v", ident)
	}

	ifaces, err := conn.Query(ctx, "/interface")
	if err != nil {
		t.Fatalf("interface: %v", err)
	}
	if len(ifaces) != 2 {
		t.Fatalf("got %d interfaces, want 2: %v", len(ifaces), ifaces)
	}
	if ifaces[0]["name"] != "ether1" || ifaces[0]["running"] != "true" || ifaces[0]["rx-drop"] != "4" {
		t.Errorf("interface 0 = %v", ifaces[0])
	}

	want := []string{
		"/system identity print without-paging",
		"/interface print stats terse without-paging",
	}
	if got := r.seen(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestSSHConn_QueryCLIError(t *testing.T) {
	r := newFakeRouter(t, nil)
	conn := dialFakeRouter(t, r)

	recs, err := conn.Query(context.Background(), "/interface/wifiwave2/registration-table")
	if err == nil {
		t.Fatalf("Query succeeded with %v, want error", recs)
	}
	if !strings.HasPrefix(err.Error(), "/interface/wifiwave2/registration-table: bad command name") {
		t.Errorf("err = %v", err)
	}
}

func TestSSHConn_QueryCancelled(t *testing.T) {
	r := newFakeRouter(t, map[string]string{
		"/system identity print without-paging": "  name: core-rtr-1\r\n",
	})
	conn := dialFakeRouter(t, r)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := conn.Query(ctx, "/log")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Query returned after %v", elapsed)
	}

	select {
	case sig := <-r.signals:
		if sig != string(ssh.SIGTERM) {
			t.Errorf("signal = %q, want TERM", sig)
		}
	case <-time.After(5 * time.Second):
		t.Error("router never received a signal")
	}

	// The connection survives a cancelled command.
	recs, err := conn.Query(context.Background(), "/system/identity")
	if err != nil || len(recs) != 1 || recs[0]["name"] != "core-rtr-1" {
		t.Errorf("identity after cancel = %v, %v", recs, err)
	}
}
