package node

import (
	"context"
	"io"
	"sync"

	"github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InvoiceHandler receives every invoice event of a subscription. A failed
// stream is reported once with a nil invoice and the error.
type InvoiceHandler func(invoice *lnrpc.Invoice, err error)

// PaymentHandler receives every response of a payment stream. A failed
// stream is reported once with a nil response and the error.
type PaymentHandler func(res *lnrpc.SendResponse, err error)

// relay pumps a receive function until the stream ends. Errors other than
// EOF and cancellation are logged and reported once through fail.
type relay struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func startRelay(cancel context.CancelFunc, name string, log Logger, recv func() error, fail func(error)) *relay {
	r := &relay{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(r.done)
		defer cancel()

		for {
			err := recv()
			if err == nil {
				continue
			}

			if err == io.EOF {
				log.Debugf("Got EOF from %v stream", name)
				return
			}

			if isCanceled(err) {
				log.Infof("Stopping %v listener", name)
				return
			}

			log.Errorf("Failed receiving %v: %v", name, err)
			fail(err)
			return
		}
	}()

	return r
}

func (r *relay) stop() {
	r.cancel()
}

type InvoicesClient struct {
	*relay
}

func newInvoicesClient(stream lnrpc.Lightning_SubscribeInvoicesClient, cancel context.CancelFunc,
	handler InvoiceHandler, log Logger) *InvoicesClient {

	r := startRelay(cancel, "invoices", log, func() error {
		invoice, err := stream.Recv()
		if err != nil {
			return err
		}

		if invoice.Settled {
			log.Debugf("Received settled invoice of %v sat", invoice.Value)
		} else {
			log.Debugf("Received invoice of %v sat", invoice.Value)
		}

		handler(invoice, nil)

		return nil
	}, func(err error) {
		handler(nil, err)
	})

	return &InvoicesClient{relay: r}
}

// Cancel ends the subscription without waiting for the relay to stop, so
// it may be called from within the handler. Done is closed once the last
// event was relayed.
func (c *InvoicesClient) Cancel() {
	c.stop()
}

// Done is closed once the subscription stopped relaying events.
func (c *InvoicesClient) Done() <-chan struct{} {
	return c.done
}

type PaymentsClient struct {
	*relay
	stream lnrpc.Lightning_SendPaymentClient
	sendMu sync.Mutex
}

func newPaymentsClient(stream lnrpc.Lightning_SendPaymentClient, cancel context.CancelFunc,
	handler PaymentHandler, log Logger) *PaymentsClient {

	r := startRelay(cancel, "payments", log, func() error {
		res, err := stream.Recv()
		if err != nil {
			return err
		}

		if res.PaymentError != "" {
			log.Debugf("Payment failed: %v", res.PaymentError)
		} else {
			log.Debugf("Payment succeeded")
		}

		handler(res, nil)

		return nil
	}, func(err error) {
		handler(nil, err)
	})

	return &PaymentsClient{relay: r, stream: stream}
}

// Send writes a payment request into the stream. Responses arrive at the
// handler the client was opened with.
func (c *PaymentsClient) Send(req *lnrpc.SendRequest) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	select {
	case <-c.done:
		return errors.New("payment stream is closed")
	default:
	}

	if err := c.stream.Send(req); err != nil {
		return errors.Errorf("Could not send payment: %v", err)
	}

	return nil
}

// CloseSend signals that no more payments will be sent. Responses to
// payments already sent are still relayed.
func (c *PaymentsClient) CloseSend() error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	return c.stream.CloseSend()
}

// Cancel closes the payment stream. Like InvoicesClient.Cancel it does not
// wait for Done.
func (c *PaymentsClient) Cancel() {
	c.stop()
}

func (c *PaymentsClient) Done() <-chan struct{} {
	return c.done
}

func isCanceled(err error) bool {
	errStatus, ok := status.FromError(err)
	return ok && errStatus.Code() == codes.Canceled
}
