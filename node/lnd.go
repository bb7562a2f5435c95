package node

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/lncfg"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/the-lightning-land/lnbridge/connectivity"
	"google.golang.org/grpc"
)

const defaultRPCPort = "10009"

// ErrNotStarted is returned by calls made before Start or after Stop.
var ErrNotStarted = errors.New("node is not started")

// Dialer opens the raw connection to the node's RPC server.
type Dialer func(addr string, timeout time.Duration) (net.Conn, error)

type LndNodeConfig struct {
	Uri         string
	Credentials *Credentials
	// Dialer defaults to a dialer that understands unix sockets and
	// host addresses without a port.
	Dialer Dialer
	Logger Logger
}

type LndNode struct {
	uri    string
	creds  *Credentials
	dialer Dialer
	log    Logger

	mu     sync.RWMutex
	conn   *grpc.ClientConn
	client lnrpc.LightningClient
}

// Compile time check for protocol compatibility
var _ Node = (*LndNode)(nil)

func NewLndNode(config *LndNodeConfig) (*LndNode, error) {
	if config.Credentials == nil {
		return nil, errors.New("credentials are required")
	}

	node := &LndNode{
		uri:    config.Uri,
		creds:  config.Credentials,
		dialer: config.Dialer,
		log:    config.Logger,
	}

	if node.dialer == nil {
		node.dialer = lncfg.ClientAddressDialer(defaultRPCPort)
	}

	if node.log == nil {
		node.log = noopLogger{}
	}

	return node, nil
}

func (r *LndNode) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return errors.New("node is already started")
	}

	opts := append(r.creds.DialOptions(), grpc.WithDialer(r.dialer))

	conn, err := grpc.Dial(r.uri, opts...)
	if err != nil {
		return errors.Errorf("Could not connect to lightning node: %v", err)
	}

	r.conn = conn
	r.client = lnrpc.NewLightningClient(conn)

	r.log.Infof("Dialed lightning node %v (macaroon: %v)", r.uri, r.creds.HasMacaroon())

	return nil
}

func (r *LndNode) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	err := r.conn.Close()
	r.conn = nil
	r.client = nil
	if err != nil {
		return errors.Errorf("Could not close connection: %v", err)
	}

	return nil
}

func (r *LndNode) Connectivity() connectivity.Reporter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil {
		return connectivity.NewOfflineReporter()
	}

	return connectivity.NewReporter(r.conn)
}

func (r *LndNode) lightning() (lnrpc.LightningClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.client == nil {
		return nil, ErrNotStarted
	}

	return r.client, nil
}

// GetInfo relays the node's info. Like all calls below, remote errors are
// logged and returned as received so callers can inspect their gRPC status.
func (r *LndNode) GetInfo(ctx context.Context) (*lnrpc.GetInfoResponse, error) {
	client, err := r.lightning()
	if err != nil {
		return nil, err
	}

	info, err := client.GetInfo(ctx, &lnrpc.GetInfoRequest{})
	if err != nil {
		r.log.Errorf("Could not get node info: %v", err)
		return nil, err
	}

	return info, nil
}

func (r *LndNode) AddInvoice(ctx context.Context, invoice *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error) {
	client, err := r.lightning()
	if err != nil {
		return nil, err
	}

	res, err := client.AddInvoice(ctx, invoice)
	if err != nil {
		r.log.Errorf("Could not add invoice: %v", err)
		return nil, err
	}

	r.log.Debugf("Generated invoice of %v sat", invoice.Value)

	return res, nil
}

// LookupInvoice fetches an invoice by its hex encoded payment hash.
func (r *LndNode) LookupInvoice(ctx context.Context, rHash string) (*lnrpc.Invoice, error) {
	client, err := r.lightning()
	if err != nil {
		return nil, err
	}

	invoice, err := client.LookupInvoice(ctx, &lnrpc.PaymentHash{RHashStr: rHash})
	if err != nil {
		r.log.Errorf("Could not look up invoice %v: %v", rHash, err)
		return nil, err
	}

	return invoice, nil
}

func (r *LndNode) SubscribeInvoices(ctx context.Context, req *lnrpc.InvoiceSubscription, handler InvoiceHandler) (*InvoicesClient, error) {
	client, err := r.lightning()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	stream, err := client.SubscribeInvoices(ctx, req)
	if err != nil {
		cancel()
		r.log.Errorf("Could not subscribe to invoices: %v", err)
		return nil, err
	}

	return newInvoicesClient(stream, cancel, handler, r.log), nil
}

func (r *LndNode) SendPayment(ctx context.Context, handler PaymentHandler) (*PaymentsClient, error) {
	client, err := r.lightning()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	stream, err := client.SendPayment(ctx)
	if err != nil {
		cancel()
		r.log.Errorf("Could not open payment stream: %v", err)
		return nil, err
	}

	return newPaymentsClient(stream, cancel, handler, r.log), nil
}
