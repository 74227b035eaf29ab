package network

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"

	"Cosign/internal/account"
)

// certificateValidity bounds the self-signed certificate lifetime.
const certificateValidity = 30 * 24 * time.Hour

// selfSignedCertificate creates a TLS certificate carrying the node's ed25519 key,
// named after the account the key controls.
func selfSignedCertificate(priv ed25519.PrivateKey) (tls.Certificate, error) {
	pub := priv.Public().(ed25519.PublicKey)

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate serial number:\n%w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: account.FromPublicKey(pub).String()},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(certificateValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create certificate:\n%w", err)
	}

	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parse certificate:\n%w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
		Leaf:        leaf,
	}, nil
}

// peerIdentity returns the remote ed25519 key and the account it controls.
func peerIdentity(state tls.ConnectionState) (ed25519.PublicKey, account.ID, error) {
	if len(state.PeerCertificates) == 0 {
		return nil, account.ID{}, fmt.Errorf("no peer certificate")
	}

	pub, ok := state.PeerCertificates[0].PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, account.ID{}, fmt.Errorf("peer certificate does not contain an ed25519 key")
	}

	return pub, account.FromPublicKey(pub), nil
}
