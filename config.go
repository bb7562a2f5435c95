package main

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcutil"
	"github.com/jessevdk/go-flags"
)

const (
	defaultRPCServer      = "localhost:10009"
	defaultListen         = "localhost:3000"
	defaultNetwork        = "mainnet"
	defaultTLSCertName    = "tls.cert"
	defaultMacaroonName   = "admin.macaroon"
	defaultProfilingAddr  = ""
	defaultConfigFilename = "lnbridge.conf"
)

var (
	defaultLndDir = btcutil.AppDataDir("lnd", false)
)

type lndConfig struct {
	RPCServer       string `long:"rpcserver" description:"host:port or unix socket of the lnd gRPC server"`
	Dir             string `long:"lnddir" description:"Path to lnd's base directory"`
	Network         string `long:"network" description:"The network lnd is running on" choice:"mainnet" choice:"testnet" choice:"regtest" choice:"simnet"`
	TLSCertPath     string `long:"tlscertpath" description:"Path to lnd's TLS certificate"`
	MacaroonPath    string `long:"macaroonpath" description:"Path to the macaroon used for authentication"`
	NoMacaroons     bool   `long:"no-macaroons" description:"Disable macaroon authentication"`
	MacaroonTimeout int64  `long:"macaroontimeout" description:"Anti-replay macaroon validity time in seconds"`
	MacaroonIP      string `long:"macaroonip" description:"If set, lock macaroon to specific IP address"`
}

type profilingConfig struct {
	Listen string `long:"listen" description:"Address the pprof server listens on, disabled when empty"`
}

type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to an ini configuration file"`
	Debug       bool   `long:"debug" description:"Start in debug mode"`
	Listen      string `long:"listen" description:"Address the HTTP API listens on"`
	LogInvoices bool   `long:"loginvoices" description:"Subscribe to invoices and log every invoice event"`

	Lnd       *lndConfig       `group:"lnd" namespace:"lnd"`
	Profiling *profilingConfig `group:"Profiling" namespace:"profiling"`
}

func defaultConfig() config {
	return config{
		Listen: defaultListen,
		Lnd: &lndConfig{
			RPCServer: defaultRPCServer,
			Dir:       defaultLndDir,
			Network:   defaultNetwork,
		},
		Profiling: &profilingConfig{
			Listen: defaultProfilingAddr,
		},
	}
}

func loadConfig() (*config, error) {
	return parseConfig(os.Args[1:])
}

// parseConfig applies, in order of precedence, command line flags, the
// config file and defaults.
func parseConfig(args []string) (*config, error) {
	// Pre-parse to find the config file and whether only help or the
	// version was requested.
	preCfg := defaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.Default).ParseArgs(args); err != nil {
		return nil, err
	}

	cfg := defaultConfig()

	if preCfg.ConfigFile != "" {
		configFile := cleanAndExpandPath(preCfg.ConfigFile)

		err := flags.NewIniParser(flags.NewParser(&cfg, flags.Default)).ParseFile(configFile)
		if err != nil {
			return nil, err
		}
	}

	if _, err := flags.NewParser(&cfg, flags.Default).ParseArgs(args); err != nil {
		return nil, err
	}

	cfg.ConfigFile = preCfg.ConfigFile

	cfg.Lnd.Dir = cleanAndExpandPath(cfg.Lnd.Dir)

	// lnd keeps its certificate in the base directory and its macaroons
	// per chain and network.
	if cfg.Lnd.TLSCertPath == "" {
		cfg.Lnd.TLSCertPath = filepath.Join(cfg.Lnd.Dir, defaultTLSCertName)
	}

	if cfg.Lnd.MacaroonPath == "" {
		cfg.Lnd.MacaroonPath = filepath.Join(cfg.Lnd.Dir, "data", "chain", "bitcoin",
			cfg.Lnd.Network, defaultMacaroonName)
	}

	cfg.Lnd.TLSCertPath = cleanAndExpandPath(cfg.Lnd.TLSCertPath)
	cfg.Lnd.MacaroonPath = cleanAndExpandPath(cfg.Lnd.MacaroonPath)

	if cfg.Lnd.NoMacaroons {
		cfg.Lnd.MacaroonPath = ""
	}

	return &cfg, nil
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string

		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
