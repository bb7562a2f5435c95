package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-errors/errors"
	"github.com/gorilla/mux"
	"github.com/the-lightning-land/lnbridge/node"
)

const defaultPaymentTimeout = 60 * time.Second

type Config struct {
	Node node.Node
	Log  Logger
	// PaymentTimeout bounds how long a payment request waits for the
	// node's answer.
	PaymentTimeout time.Duration
}

type Api struct {
	node           node.Node
	router         *mux.Router
	server         *http.Server
	log            Logger
	paymentTimeout time.Duration
}

func New(config *Config) *Api {
	api := &Api{
		node:           config.Node,
		router:         mux.NewRouter(),
		paymentTimeout: config.PaymentTimeout,
	}

	if config.Log != nil {
		api.log = config.Log
	} else {
		api.log = noopLogger{}
	}

	if api.paymentTimeout == 0 {
		api.paymentTimeout = defaultPaymentTimeout
	}

	api.router.Use(api.loggingMiddleware)

	api.router.Handle("/", api.handleGetIndex()).Methods(http.MethodGet)

	api.router.Handle("/api/v1/status", api.handleGetStatus()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/info", api.handleGetInfo()).Methods(http.MethodGet)

	// events has to be registered before {rHash} to take precedence
	api.router.Handle("/api/v1/invoices/events", api.handleGetInvoiceEvents()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/invoices/{rHash}", api.handleGetInvoice()).Methods(http.MethodGet)
	api.router.Handle("/api/v1/invoices", api.handlePostInvoice()).Methods(http.MethodPost)

	api.router.Handle("/api/v1/payments", api.handlePostPayment()).Methods(http.MethodPost)

	api.server = &http.Server{Handler: api.router}

	return api
}

func (a *Api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// Serve blocks until the listener fails or Shutdown is called.
func (a *Api) Serve(l net.Listener) error {
	err := a.server.Serve(l)
	if err != nil && err != http.ErrServerClosed {
		return errors.Errorf("Unable to serve api: %v", err)
	}

	return nil
}

func (a *Api) Shutdown(ctx context.Context) error {
	return a.server.Shutdown(ctx)
}

func (a *Api) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.log.Debugf("Accessing %v %v", r.Method, r.RequestURI)
		next.ServeHTTP(w, r)
	})
}
