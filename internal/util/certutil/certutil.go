/*
Copyright 2024 Alexandre Mahdhaoui

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package certutil issues short-lived certificates for tests exercising the
// TLS paths of the control API and of the XenAPI client.
package certutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const organization = "Use in test only!"

// ------------------------------------------------------- CA ------------------------------------------------------- //

// CA is a certificate authority.
type CA struct {
	key      *ecdsa.PrivateKey
	pool     *x509.CertPool
	rootCert *x509.Certificate
}

// NewCA creates a new self-signed CA valid for one hour.
func NewCA() (*CA, error) {
	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	caCert := &x509.Certificate{
		Subject:               pkix.Name{Organization: []string{organization}},
		SerialNumber:          serial,
		NotBefore:             time.Now().Add(-1 * time.Hour),
		NotAfter:              time.Now().Add(1 * time.Hour),
		IsCA:                  true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating CA key: %w", err)
	}

	raw, err := x509.CreateCertificate(rand.Reader, caCert, caCert, caKey.Public(), caKey)
	if err != nil {
		return nil, fmt.Errorf("self-signing CA certificate: %w", err)
	}

	rootCert, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, fmt.Errorf("parsing CA certificate: %w", err)
	}

	pool := x509.NewCertPool()
	pool.AddCert(rootCert)

	return &CA{
		key:      caKey,
		pool:     pool,
		rootCert: rootCert,
	}, nil
}

// Pool returns the CA's cert pool.
func (ca *CA) Pool() *x509.CertPool {
	return ca.pool
}

// Cert returns the CA's root certificate in PEM format.
func (ca *CA) Cert() []byte {
	return certToPEM(ca.rootCert)
}

// ------------------------------------------------ CertifiedKeypair ------------------------------------------------ //

// NewCertifiedKey issues a key pair for domains, usable by servers and clients.
// Entries parsing as IP addresses are added as IP SANs.
func (ca *CA) NewCertifiedKey(domains ...string) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	serial, err := newSerial()
	if err != nil {
		return nil, nil, err
	}

	tmpl := &x509.Certificate{
		Subject:      pkix.Name{Organization: []string{organization}},
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-1 * time.Hour),
		NotAfter:     time.Now().Add(1 * time.Hour),
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	for _, d := range domains {
		if ip := net.ParseIP(d); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, d)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating key: %w", err)
	}

	raw, err := x509.CreateCertificate(rand.Reader, tmpl, ca.rootCert, key.Public(), ca.key)
	if err != nil {
		return nil, nil, fmt.Errorf("signing certificate: %w", err)
	}

	signed, err := x509.ParseCertificate(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing certificate: %w", err)
	}

	return key, signed, nil
}

// NewCertifiedKeyPEM creates a new certified key in PEM format.
func (ca *CA) NewCertifiedKeyPEM(domains ...string) (key []byte, cert []byte, err error) {
	k, c, err := ca.NewCertifiedKey(domains...)
	if err != nil {
		return nil, nil, err
	}

	keyPEM, err := privateKeyToPem(k)
	if err != nil {
		return nil, nil, err
	}

	return keyPEM, certToPEM(c), nil
}

// ------------------------------------------------------ Files ----------------------------------------------------- //

// Files are the paths of a CA certificate and of a key pair it issued.
type Files struct {
	CAPath   string
	CertPath string
	KeyPath  string
}

// WriteFiles issues a key pair for domains and writes it, with the CA
// certificate, as PEM files ca.crt, tls.crt and tls.key in dir.
func (ca *CA) WriteFiles(dir string, domains ...string) (Files, error) {
	keyPEM, certPEM, err := ca.NewCertifiedKeyPEM(domains...)
	if err != nil {
		return Files{}, err
	}

	files := Files{
		CAPath:   filepath.Join(dir, "ca.crt"),
		CertPath: filepath.Join(dir, "tls.crt"),
		KeyPath:  filepath.Join(dir, "tls.key"),
	}

	for path, data := range map[string][]byte{
		files.CAPath:   ca.Cert(),
		files.CertPath: certPEM,
		files.KeyPath:  keyPEM,
	} {
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return Files{}, fmt.Errorf("writing %s: %w", path, err)
		}
	}

	return files, nil
}

func newSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generating serial number: %w", err)
	}
	return serial, nil
}

func privateKeyToPem(key *ecdsa.PrivateKey) ([]byte, error) {
	kb, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("could not marshal private key: %w", err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: kb}), nil
}

func certToPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
