package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/the-lightning-land/lnbridge/api"
	"github.com/the-lightning-land/lnbridge/connectivity"
	"github.com/the-lightning-land/lnbridge/node"
	"golang.org/x/sys/unix"
	// Blank import to set up profiling HTTP handlers.
	_ "net/http/pprof"
)

var (
	// commit stores the current commit hash of this build. This should be set using -ldflags during compilation.
	Commit string
	// version stores the version string of this build. This should be set using -ldflags during compilation.
	Version string
	// date stores the date of this build. This should be set using -ldflags during compilation.
	Date string
)

// lnbridgedMain is the true entry point for lnbridged. This is required since defers
// created in the top-level scope of a main method aren't executed if os.Exit() is called.
func lnbridgedMain() error {
	log.SetOutput(os.Stdout)
	log.SetLevel(log.InfoLevel)

	// Load CLI configuration and defaults
	cfg, err := loadConfig()
	if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		return nil
	} else if err != nil {
		return errors.Errorf("Failed parsing arguments: %v", err)
	}

	// Set logger into debug mode if called with --debug
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
		log.Info("Setting debug mode.")
	}

	log.Debug("Loaded config.")

	// Print version of the daemon
	log.Infof("Version %s (commit %s)", Version, Commit)
	log.Infof("Built on %s", Date)

	// Stop here if only version was requested
	if cfg.ShowVersion {
		return nil
	}

	if cfg.Profiling.Listen != "" {
		go func() {
			log.Infof("Starting profiling server on %v", cfg.Profiling.Listen)
			// Redirect the root path
			http.Handle("/", http.RedirectHandler("/debug/pprof", http.StatusSeeOther))
			// All other handlers are registered on DefaultServeMux through the import of pprof
			err := http.ListenAndServe(cfg.Profiling.Listen, nil)
			if err != nil {
				log.Errorf("Could not run profiler: %v", err)
			}
		}()
	}

	// TLS certificate and macaroon are combined into the credentials
	// attached to every call
	credsConfig, err := node.ReadCredentials(cfg.Lnd.TLSCertPath, cfg.Lnd.MacaroonPath)
	if err != nil {
		return errors.Errorf("Could not read lnd credentials: %v", err)
	}

	credsConfig.MacaroonTimeout = cfg.Lnd.MacaroonTimeout
	credsConfig.MacaroonIP = cfg.Lnd.MacaroonIP

	creds, err := node.NewCredentials(credsConfig)
	if err != nil {
		return errors.Errorf("Could not assemble lnd credentials: %v", err)
	}

	log.Info("Assembled lnd credentials.")

	lnd, err := node.NewLndNode(&node.LndNodeConfig{
		Uri:         cfg.Lnd.RPCServer,
		Credentials: creds,
		Logger:      subsystemLogger("node"),
	})
	if err != nil {
		return errors.Errorf("Could not create node: %v", err)
	}

	if err := lnd.Start(); err != nil {
		return errors.Errorf("Could not start node: %v", err)
	}

	defer func() {
		err := lnd.Stop()
		if err != nil {
			log.Errorf("Could not properly stop node: %v", err)
		} else {
			log.Info("Stopped node.")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go watchConnectivity(ctx, lnd.Connectivity())

	infoCtx, infoCancel := context.WithTimeout(ctx, 10*time.Second)
	info, err := lnd.GetInfo(infoCtx)
	infoCancel()
	if err != nil {
		log.Warnf("Could not get info from lnd at %v: %v", cfg.Lnd.RPCServer, err)
	} else {
		log.Infof("Connected to %v (%v) running lnd %v at block %v",
			info.Alias, info.IdentityPubkey, info.Version, info.BlockHeight)
	}

	if cfg.LogInvoices {
		invoicesLog := subsystemLogger("invoices")

		invoices, err := lnd.SubscribeInvoices(ctx, &lnrpc.InvoiceSubscription{},
			func(invoice *lnrpc.Invoice, err error) {
				if err != nil {
					invoicesLog.Errorf("Invoice subscription failed: %v", err)
					return
				}

				if invoice.Settled {
					invoicesLog.Infof("Invoice %x settled: %v sat (%v)", invoice.RHash, invoice.Value, invoice.Memo)
				} else {
					invoicesLog.Infof("Invoice %x added: %v sat (%v)", invoice.RHash, invoice.Value, invoice.Memo)
				}
			})
		if err != nil {
			return errors.Errorf("Could not subscribe to invoices: %v", err)
		}

		log.Info("Subscribed to invoices.")

		defer invoices.Cancel()
	}

	a := api.New(&api.Config{
		Node: lnd,
		Log:  subsystemLogger("api"),
	})

	log.Info("Created API.")

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return errors.Errorf("API server unable to listen on %v: %v", cfg.Listen, err)
	}

	log.Infof("API listening on %v", lis.Addr())

	// Handle interrupt signals correctly
	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, unix.SIGTERM)
		sig := <-signals
		log.Info(sig)
		log.Info("Received an interrupt, stopping lnbridged...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := a.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Could not properly shut down API: %v", err)
		}
	}()

	// blocks until the API is shut down
	err = a.Serve(lis)
	if err != nil {
		return errors.Errorf("Failed serving API: %v", err)
	}

	log.Info("Stopped API.")

	// finish with no error
	return nil
}

// subsystemLogger creates a logger tagged with the subsystem name that
// follows the output and level of the root logger.
func subsystemLogger(system string) *log.Entry {
	logger := log.New()
	logger.Out = log.StandardLogger().Out
	logger.SetLevel(log.GetLevel())

	return logger.WithField("system", system)
}

// watchConnectivity logs every change of the node connection.
func watchConnectivity(ctx context.Context, reporter connectivity.Reporter) {
	for {
		state := reporter.CurrentState()
		log.Infof("Lightning node is %v", state)

		if !reporter.WaitForStateChange(ctx, state) {
			return
		}
	}
}

func main() {
	// Call the "real" main in a nested manner so the defers will properly
	// be executed in the case of a graceful shutdown.
	if err := lnbridgedMain(); err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
		} else {
			log.WithError(err).Println("Failed running lnbridged.")
		}
		os.Exit(1)
	}
}
