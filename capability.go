package quicbridge

import (
	"crypto/x509"
	"fmt"
)

// CapabilityKind identifies an optional per-stream feature. Capabilities
// are attached at stream construction and queried by kind, not by type
// inspection.
type CapabilityKind uint8

const (
	// CapabilityStreamDirection marks whether a stream is unidirectional.
	CapabilityStreamDirection CapabilityKind = iota

	// CapabilityTLSIdentity exposes the transport's TLS identity surface.
	CapabilityTLSIdentity
)

// Capability is one optional feature attached to a stream.
type Capability interface {
	CapabilityKind() CapabilityKind
}

// StreamDirectionCapability reports a stream's orientation to the layer
// above.
type StreamDirectionCapability struct {
	Unidirectional bool
}

func (StreamDirectionCapability) CapabilityKind() CapabilityKind {
	return CapabilityStreamDirection
}

// TLSIdentityCapability is attached to every stream because the transport
// is inherently encrypted. Per-client-certificate retrieval is not
// available through the engine, so the accessor always fails.
type TLSIdentityCapability struct{}

func (TLSIdentityCapability) CapabilityKind() CapabilityKind {
	return CapabilityTLSIdentity
}

// ClientCertificate always fails with ErrNotSupported.
func (TLSIdentityCapability) ClientCertificate() (*x509.Certificate, error) {
	return nil, fmt.Errorf("client certificate retrieval: %w", ErrNotSupported)
}
