// Package certs provides the TLS material for QUIC push: self-signed
// ECDSA P-256 certificates for receivers, and client configurations that
// pin a receiver's certificate by SHA-256 fingerprint instead of relying
// on system roots.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CertInfo holds a TLS certificate and its SHA-256 fingerprint.
type CertInfo struct {
	TLSCert     tls.Certificate
	Fingerprint [32]byte
	NotAfter    time.Time
}

// FingerprintBase64 returns the SHA-256 fingerprint as base64.
func (c *CertInfo) FingerprintBase64() string {
	return base64.StdEncoding.EncodeToString(c.Fingerprint[:])
}

// Generate creates a new self-signed ECDSA P-256 certificate valid for
// the given duration. Used by test receivers and local development.
func Generate(validity time.Duration) (*CertInfo, error) {
	if validity <= 0 {
		validity = 14 * 24 * time.Hour
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate private key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}

	now := time.Now()
	notBefore := now.Add(-1 * time.Minute) // slight backdate for clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "egress"},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}

	fingerprint := sha256.Sum256(certDER)

	return &CertInfo{
		TLSCert: tls.Certificate{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
		},
		Fingerprint: fingerprint,
		NotAfter:    template.NotAfter,
	}, nil
}

// ErrFingerprintMismatch is returned during the handshake when the
// receiver presents a certificate other than the pinned one.
var ErrFingerprintMismatch = errors.New("certs: server certificate fingerprint mismatch")

// ClientTLS builds a client TLS configuration for the given ALPN
// protocol. With an empty fingerprint the system roots verify the server
// as usual. With a base64 SHA-256 fingerprint, chain verification is
// replaced by an exact match against the server's leaf certificate.
func ClientTLS(alpn, fingerprint string) (*tls.Config, error) {
	cfg := &tls.Config{
		NextProtos: []string{alpn},
	}
	if fingerprint == "" {
		return cfg, nil
	}

	want, err := base64.StdEncoding.DecodeString(fingerprint)
	if err != nil || len(want) != sha256.Size {
		return nil, fmt.Errorf("certs: invalid fingerprint %q", fingerprint)
	}

	cfg.InsecureSkipVerify = true // verification replaced by the pin below
	cfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return ErrFingerprintMismatch
		}
		got := sha256.Sum256(rawCerts[0])
		for i := range want {
			if got[i] != want[i] {
				return ErrFingerprintMismatch
			}
		}
		return nil
	}
	return cfg, nil
}
