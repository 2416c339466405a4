// Package types holds the domain types shared between the collector packages.
//
// # Ownership
//
// DeviceTarget is owned by the tenant-management subsystem and is read-only
// here. ForensicSnapshot, Finding and AnalysisVerdict live for one
// collection cycle. LogRecord, Alert and AlertStatusHistory are persisted and
// written only through the log normalizer and the alert engine.
package types

// Provider names used in DeviceTarget.Ports and connector configuration.
const (
	ProviderAPI    = "api"
	ProviderAPITLS = "api-tls"
	ProviderSSH    = "ssh"
)

// DefaultPorts maps each provider to its well-known port.
var DefaultPorts = map[string]int{
	ProviderAPI:    8728,
	ProviderAPITLS: 8729,
	ProviderSSH:    22,
}

// DeviceTarget is a router the collector talks to.
type DeviceTarget struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	Name     string `json:"name,omitempty"`
	Host     string `json:"host"`

	// Ports overrides the provider's default port, keyed by provider name.
	Ports map[string]int `json:"ports,omitempty"`

	// CredentialBlob is vault ciphertext of a Credentials document.
	CredentialBlob string `json:"-"`

	FirmwareVersion string `json:"firmware_version,omitempty"`
	WANType         string `json:"wan_type,omitempty"`
}

// PortFor returns the configured port for a provider, falling back to def
// and then to the provider's well-known port.
func (d DeviceTarget) PortFor(provider string, def int) int {
	if p, ok := d.Ports[provider]; ok && p > 0 {
		return p
	}
	if def > 0 {
		return def
	}
	return DefaultPorts[provider]
}

// Credentials is the plaintext behind DeviceTarget.CredentialBlob.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}
