package connector

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sort"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/pilot-net/routerwatch/pkg/types"
)

// factories maps a provider name to its constructor.
var factories = map[string]func(Config) (Provider, error){
	types.ProviderAPI: func(cfg Config) (Provider, error) {
		return &apiProvider{name: types.ProviderAPI, port: cfg.Ports[types.ProviderAPI]}, nil
	},
	types.ProviderAPITLS: func(cfg Config) (Provider, error) {
		return &apiProvider{
			name:   types.ProviderAPITLS,
			port:   cfg.Ports[types.ProviderAPITLS],
			useTLS: true,
			tls:    &tls.Config{InsecureSkipVerify: cfg.TLSInsecureSkipVerify, MinVersion: tls.VersionTLS12},
		}, nil
	},
	types.ProviderSSH: func(cfg Config) (Provider, error) {
		hostKeys := ssh.InsecureIgnoreHostKey()
		if cfg.SSHKnownHosts != "" {
			cb, err := knownhosts.New(cfg.SSHKnownHosts)
			if err != nil {
				return nil, fmt.Errorf("loading known hosts: %w", err)
			}
			hostKeys = cb
		}
		return &sshProvider{port: cfg.Ports[types.ProviderSSH], hostKeys: hostKeys, userSuffix: "+ct"}, nil
	},
}

// KnownProvider reports whether name is a registered provider.
func KnownProvider(name string) bool {
	_, ok := factories[name]
	return ok
}

// ProviderNames lists the registered providers.
func ProviderNames() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ProvidersFromConfig builds the configured providers in fallback order.
func ProvidersFromConfig(cfg Config) ([]Provider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no connector providers configured")
	}
	providers := make([]Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("unknown connector provider %q (known: %v)", name, ProviderNames())
		}
		p, err := factory(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", name, err)
		}
		providers = append(providers, p)
	}
	return providers, nil
}

// dialTCP opens a TCP connection to the provider port of target.
func dialTCP(ctx context.Context, target types.DeviceTarget, provider string, port int) (net.Conn, string, error) {
	address := net.JoinHostPort(target.Host, fmt.Sprint(target.PortFor(provider, port)))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, address, fmt.Errorf("connecting to %s: %w", address, err)
	}
	return conn, address, nil
}

// bindDeadline makes blocking reads and writes on conn honor ctx. The
// returned func clears the deadline again.
func bindDeadline(ctx context.Context, conn net.Conn) (release func()) {
	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	return func() {
		stop()
		conn.SetDeadline(time.Time{})
	}
}
