package node

import (
	"context"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/the-lightning-land/lnbridge/connectivity"
)

// Node is the set of remote calls relayed to a lightning node.
type Node interface {
	Start() error
	Stop() error
	Connectivity() connectivity.Reporter
	GetInfo(ctx context.Context) (*lnrpc.GetInfoResponse, error)
	AddInvoice(ctx context.Context, invoice *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error)
	LookupInvoice(ctx context.Context, rHash string) (*lnrpc.Invoice, error)
	SubscribeInvoices(ctx context.Context, req *lnrpc.InvoiceSubscription, handler InvoiceHandler) (*InvoicesClient, error)
	SendPayment(ctx context.Context, handler PaymentHandler) (*PaymentsClient, error)
}
