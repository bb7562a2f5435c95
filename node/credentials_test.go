package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/pem"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/the-lightning-land/lnbridge/nodetest"
	"gopkg.in/macaroon.v2"
)

func TestCertPoolAcceptsPEM(t *testing.T) {
	srv := nodetest.NewServer(t)
	defer srv.Stop()

	if _, err := certPool(srv.CertPEM); err != nil {
		t.Fatalf("could not parse PEM certificate: %v", err)
	}
}

func TestCertPoolAcceptsBareBody(t *testing.T) {
	srv := nodetest.NewServer(t)
	defer srv.Stop()

	body := bytes.TrimPrefix(srv.CertPEM, []byte("-----BEGIN CERTIFICATE-----\n"))
	body = bytes.TrimSuffix(bytes.TrimSpace(body), []byte("-----END CERTIFICATE-----"))

	if _, err := certPool(body); err != nil {
		t.Fatalf("could not parse bare certificate body: %v", err)
	}
}

func TestCertPoolRejectsGarbage(t *testing.T) {
	if _, err := certPool([]byte("not a certificate")); err == nil {
		t.Fatal("expected an error for an invalid certificate")
	}

	garbage := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("junk")})
	if _, err := certPool(garbage); err == nil {
		t.Fatal("expected an error for an invalid certificate")
	}
}

func TestNewCredentials(t *testing.T) {
	srv := nodetest.NewServer(t)
	defer srv.Stop()

	creds, err := NewCredentials(&CredentialsConfig{
		CertBytes:     srv.CertPEM,
		MacaroonBytes: srv.MacaroonBytes,
	})
	if err != nil {
		t.Fatalf("could not create credentials: %v", err)
	}

	if !creds.HasMacaroon() {
		t.Fatal("expected macaroon credentials")
	}

	if n := len(creds.DialOptions()); n != 2 {
		t.Fatalf("expected 2 dial options, got %d", n)
	}
}

func TestNewCredentialsWithoutMacaroon(t *testing.T) {
	srv := nodetest.NewServer(t)
	defer srv.Stop()

	creds, err := NewCredentials(&CredentialsConfig{CertBytes: srv.CertPEM})
	if err != nil {
		t.Fatalf("could not create credentials: %v", err)
	}

	if creds.HasMacaroon() {
		t.Fatal("expected no macaroon credentials")
	}

	if n := len(creds.DialOptions()); n != 1 {
		t.Fatalf("expected 1 dial option, got %d", n)
	}
}

// requestCaveats returns the first party caveats of the macaroon sent with
// a call, keyed by condition name.
func requestCaveats(t *testing.T, creds *Credentials) map[string]string {
	md, err := creds.macaroon.GetRequestMetadata(context.Background())
	if err != nil {
		t.Fatalf("could not get request metadata: %v", err)
	}

	macBytes, err := hex.DecodeString(md["macaroon"])
	if err != nil {
		t.Fatalf("macaroon metadata is not hex: %v", err)
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		t.Fatalf("could not unmarshal macaroon: %v", err)
	}

	caveats := make(map[string]string)
	for _, caveat := range mac.Caveats() {
		parts := strings.SplitN(string(caveat.Id), " ", 2)
		if len(parts) == 2 {
			caveats[parts[0]] = parts[1]
		}
	}

	return caveats
}

func TestNewCredentialsWithConstraints(t *testing.T) {
	srv := nodetest.NewServer(t)
	defer srv.Stop()

	creds, err := NewCredentials(&CredentialsConfig{
		CertBytes:       srv.CertPEM,
		MacaroonBytes:   srv.MacaroonBytes,
		MacaroonTimeout: 60,
		MacaroonIP:      "127.0.0.1",
	})
	if err != nil {
		t.Fatalf("could not create constrained credentials: %v", err)
	}

	caveats := requestCaveats(t, creds)

	if caveats["ipaddr"] != "127.0.0.1" {
		t.Fatalf("expected ipaddr caveat, got %v", caveats)
	}

	first, err := time.Parse(time.RFC3339Nano, caveats["time-before"])
	if err != nil {
		t.Fatalf("expected time-before caveat, got %v", caveats)
	}

	if d := time.Until(first); d < 55*time.Second || d > 61*time.Second {
		t.Fatalf("time-before caveat %v is not 60s ahead", first)
	}

	time.Sleep(20 * time.Millisecond)

	second, err := time.Parse(time.RFC3339Nano, requestCaveats(t, creds)["time-before"])
	if err != nil {
		t.Fatal(err)
	}

	if !second.After(first) {
		t.Fatalf("expected a later time-before on the next call, got %v then %v", first, second)
	}
}

func TestNewCredentialsWithoutConstraints(t *testing.T) {
	srv := nodetest.NewServer(t)
	defer srv.Stop()

	creds, err := NewCredentials(&CredentialsConfig{
		CertBytes:     srv.CertPEM,
		MacaroonBytes: srv.MacaroonBytes,
	})
	if err != nil {
		t.Fatal(err)
	}

	if caveats := requestCaveats(t, creds); len(caveats) != 0 {
		t.Fatalf("expected no caveats, got %v", caveats)
	}
}

func TestNewCredentialsRejectsBadMacaroonIP(t *testing.T) {
	srv := nodetest.NewServer(t)
	defer srv.Stop()

	_, err := NewCredentials(&CredentialsConfig{
		CertBytes:     srv.CertPEM,
		MacaroonBytes: srv.MacaroonBytes,
		MacaroonIP:    "not an ip",
	})
	if err == nil {
		t.Fatal("expected an error for an invalid macaroon IP")
	}
}

func TestNewCredentialsRejectsBadMacaroon(t *testing.T) {
	srv := nodetest.NewServer(t)
	defer srv.Stop()

	_, err := NewCredentials(&CredentialsConfig{
		CertBytes:     srv.CertPEM,
		MacaroonBytes: []byte("definitely not a macaroon"),
	})
	if err == nil {
		t.Fatal("expected an error for an invalid macaroon")
	}
}

func TestReadCredentials(t *testing.T) {
	srv := nodetest.NewServer(t)
	defer srv.Stop()

	dir, err := ioutil.TempDir("", "lnbridge")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	certPath := filepath.Join(dir, "tls.cert")
	macaroonPath := filepath.Join(dir, "admin.macaroon")

	if err := ioutil.WriteFile(certPath, srv.CertPEM, 0600); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(macaroonPath, srv.MacaroonBytes, 0600); err != nil {
		t.Fatal(err)
	}

	config, err := ReadCredentials(certPath, macaroonPath)
	if err != nil {
		t.Fatalf("could not read credentials: %v", err)
	}

	if !bytes.Equal(config.CertBytes, srv.CertPEM) {
		t.Error("certificate bytes differ")
	}
	if !bytes.Equal(config.MacaroonBytes, srv.MacaroonBytes) {
		t.Error("macaroon bytes differ")
	}

	config, err = ReadCredentials(certPath, "")
	if err != nil {
		t.Fatalf("could not read credentials: %v", err)
	}
	if config.MacaroonBytes != nil {
		t.Error("expected no macaroon without a path")
	}

	if _, err := ReadCredentials(filepath.Join(dir, "missing.cert"), ""); err == nil {
		t.Error("expected an error for a missing certificate")
	}
}
