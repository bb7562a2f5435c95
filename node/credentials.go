package node

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"

	"github.com/go-errors/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"
)

var (
	beginCertificateBlock = []byte("-----BEGIN CERTIFICATE-----\n")
	endCertificateBlock   = []byte("\n-----END CERTIFICATE-----")
)

// lnd generates ECDSA certificates, so TLS 1.2 handshakes are limited to
// suites that can be negotiated with them.
var ecdsaCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA,
}

type CredentialsConfig struct {
	// CertBytes is either a PEM encoded certificate or only its base64 body.
	CertBytes []byte
	// MacaroonBytes is a binary macaroon. Leave empty to skip macaroon
	// authentication.
	MacaroonBytes []byte
	// MacaroonTimeout limits the validity of the macaroon to the given
	// number of seconds after each call. Zero keeps the macaroon as is.
	MacaroonTimeout int64
	// MacaroonIP locks the macaroon to a single IP address.
	MacaroonIP string
}

// Credentials combines the transport credentials built from the node's TLS
// certificate with the per call macaroon credentials.
type Credentials struct {
	tls      credentials.TransportCredentials
	macaroon credentials.PerRPCCredentials
}

func NewCredentials(config *CredentialsConfig) (*Credentials, error) {
	pool, err := certPool(config.CertBytes)
	if err != nil {
		return nil, err
	}

	creds := &Credentials{
		tls: credentials.NewTLS(&tls.Config{
			RootCAs:      pool,
			MinVersion:   tls.VersionTLS12,
			CipherSuites: ecdsaCipherSuites,
		}),
	}

	if len(config.MacaroonBytes) == 0 {
		return creds, nil
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(config.MacaroonBytes); err != nil {
		return nil, errors.Errorf("could not parse macaroon: %v", err)
	}

	cred := &macaroonCredential{
		mac:     mac,
		timeout: config.MacaroonTimeout,
		ip:      config.MacaroonIP,
	}

	// fail early on constraints that can never be applied
	if _, err := cred.constrained(); err != nil {
		return nil, errors.Errorf("could not constrain macaroon: %v", err)
	}

	creds.macaroon = cred

	return creds, nil
}

// ReadCredentials loads the certificate and macaroon from disk. An empty
// macaroon path disables macaroon authentication.
func ReadCredentials(certPath string, macaroonPath string) (*CredentialsConfig, error) {
	certBytes, err := ioutil.ReadFile(certPath)
	if err != nil {
		return nil, errors.Errorf("could not read tls cert %v: %v", certPath, err)
	}

	config := &CredentialsConfig{
		CertBytes: certBytes,
	}

	if macaroonPath == "" {
		return config, nil
	}

	config.MacaroonBytes, err = ioutil.ReadFile(macaroonPath)
	if err != nil {
		return nil, errors.Errorf("could not read macaroon %v: %v", macaroonPath, err)
	}

	return config, nil
}

// HasMacaroon reports whether calls are authenticated with a macaroon.
func (c *Credentials) HasMacaroon() bool {
	return c.macaroon != nil
}

func (c *Credentials) DialOptions() []grpc.DialOption {
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(c.tls),
	}

	if c.macaroon != nil {
		opts = append(opts, grpc.WithPerRPCCredentials(c.macaroon))
	}

	return opts
}

func certPool(certBytes []byte) (*x509.CertPool, error) {
	certBytes = bytes.TrimSpace(certBytes)

	if !bytes.HasPrefix(certBytes, []byte("-----BEGIN")) {
		fullCertBytes := append([]byte{}, beginCertificateBlock...)
		fullCertBytes = append(fullCertBytes, certBytes...)
		certBytes = append(fullCertBytes, endCertificateBlock...)
	}

	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(certBytes); !ok {
		return nil, errors.New("could not parse tls cert")
	}

	return pool, nil
}
