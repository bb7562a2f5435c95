package main

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/jessevdk/go-flags"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig([]string{"--lnd.lnddir=/tmp/lnd"})
	if err != nil {
		t.Fatalf("could not parse config: %v", err)
	}

	if cfg.Listen != defaultListen {
		t.Errorf("listen = %v, want %v", cfg.Listen, defaultListen)
	}

	if cfg.Lnd.RPCServer != defaultRPCServer {
		t.Errorf("rpcserver = %v, want %v", cfg.Lnd.RPCServer, defaultRPCServer)
	}

	if want := filepath.Join("/tmp/lnd", "tls.cert"); cfg.Lnd.TLSCertPath != want {
		t.Errorf("tlscertpath = %v, want %v", cfg.Lnd.TLSCertPath, want)
	}

	want := filepath.Join("/tmp/lnd", "data", "chain", "bitcoin", "mainnet", "admin.macaroon")
	if cfg.Lnd.MacaroonPath != want {
		t.Errorf("macaroonpath = %v, want %v", cfg.Lnd.MacaroonPath, want)
	}

	if cfg.Profiling.Listen != "" {
		t.Errorf("profiling should be disabled by default")
	}
}

func TestParseConfigNetworkAndOverrides(t *testing.T) {
	cfg, err := parseConfig([]string{
		"--lnd.lnddir=/tmp/lnd",
		"--lnd.network=testnet",
		"--lnd.tlscertpath=/etc/lnd/tls.cert",
		"--lnd.rpcserver=node.example.com:10009",
		"--lnd.macaroontimeout=60",
		"--listen=:8080",
		"--debug",
	})
	if err != nil {
		t.Fatalf("could not parse config: %v", err)
	}

	if cfg.Lnd.TLSCertPath != "/etc/lnd/tls.cert" {
		t.Errorf("tlscertpath = %v", cfg.Lnd.TLSCertPath)
	}

	want := filepath.Join("/tmp/lnd", "data", "chain", "bitcoin", "testnet", "admin.macaroon")
	if cfg.Lnd.MacaroonPath != want {
		t.Errorf("macaroonpath = %v, want %v", cfg.Lnd.MacaroonPath, want)
	}

	if cfg.Lnd.RPCServer != "node.example.com:10009" || cfg.Lnd.MacaroonTimeout != 60 {
		t.Errorf("unexpected lnd config %+v", cfg.Lnd)
	}

	if cfg.Listen != ":8080" || !cfg.Debug {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestParseConfigNoMacaroons(t *testing.T) {
	cfg, err := parseConfig([]string{"--lnd.no-macaroons"})
	if err != nil {
		t.Fatalf("could not parse config: %v", err)
	}

	if cfg.Lnd.MacaroonPath != "" {
		t.Errorf("expected no macaroon path, got %v", cfg.Lnd.MacaroonPath)
	}
}

func TestParseConfigFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "lnbridge")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	configFile := filepath.Join(dir, defaultConfigFilename)
	contents := "listen=127.0.0.1:4000\n\n[lnd]\nlnd.rpcserver=10.0.0.2:10009\nlnd.macaroonip=10.0.0.1\n"
	if err := ioutil.WriteFile(configFile, []byte(contents), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := parseConfig([]string{"--configfile=" + configFile, "--listen=127.0.0.1:5000"})
	if err != nil {
		t.Fatalf("could not parse config: %v", err)
	}

	if cfg.Lnd.RPCServer != "10.0.0.2:10009" || cfg.Lnd.MacaroonIP != "10.0.0.1" {
		t.Errorf("config file was not applied: %+v", cfg.Lnd)
	}

	// command line flags take precedence over the config file
	if cfg.Listen != "127.0.0.1:5000" {
		t.Errorf("listen = %v", cfg.Listen)
	}
}

func TestParseConfigRejectsUnknownNetwork(t *testing.T) {
	if _, err := parseConfig([]string{"--lnd.network=moonnet"}); err == nil {
		t.Fatal("expected an error for an unknown network")
	}
}

func TestParseConfigHelp(t *testing.T) {
	_, err := parseConfig([]string{"--help"})

	e, ok := err.(*flags.Error)
	if !ok || e.Type != flags.ErrHelp {
		t.Fatalf("expected a help error, got %v", err)
	}
}

func TestCleanAndExpandPath(t *testing.T) {
	if err := os.Setenv("LNBRIDGE_TEST_DIR", "/srv/lnd"); err != nil {
		t.Fatal(err)
	}
	defer os.Unsetenv("LNBRIDGE_TEST_DIR")

	if got := cleanAndExpandPath("$LNBRIDGE_TEST_DIR/../lnd/./tls.cert"); got != "/srv/lnd/tls.cert" {
		t.Errorf("unexpected expansion %v", got)
	}

	if got := cleanAndExpandPath("~/x"); got == "~/x" || !filepath.IsAbs(got) {
		t.Errorf("expected ~ to expand to an absolute path, got %v", got)
	}

	if got := cleanAndExpandPath(""); got != "" {
		t.Errorf("expected empty path to stay empty, got %v", got)
	}
}
