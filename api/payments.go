package api

import (
	"context"
	"net/http"

	"github.com/golang/protobuf/jsonpb"
	"github.com/lightningnetwork/lnd/lnrpc"
)

// handlePostPayment sends a single payment through the node's payment
// stream and answers with the first response it relays.
func (a *Api) handlePostPayment() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &lnrpc.SendRequest{}
		if err := jsonpb.Unmarshal(r.Body, req); err != nil {
			a.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), a.paymentTimeout)
		defer cancel()

		results := make(chan *lnrpc.SendResponse, 1)
		failures := make(chan error, 1)

		client, err := a.node.SendPayment(ctx, func(res *lnrpc.SendResponse, err error) {
			if err != nil {
				failures <- err
				return
			}

			select {
			case results <- res:
			default:
			}
		})
		if err != nil {
			a.nodeError(w, err)
			return
		}

		defer client.Cancel()

		if err := client.Send(req); err != nil {
			a.jsonError(w, err.Error(), http.StatusBadGateway)
			return
		}

		if err := client.CloseSend(); err != nil {
			a.log.Warnf("Could not close payment stream: %v", err)
		}

		select {
		case res := <-results:
			a.protoResponse(w, res, http.StatusOK)
		case err := <-failures:
			a.nodeError(w, err)
		case <-client.Done():
			select {
			case res := <-results:
				a.protoResponse(w, res, http.StatusOK)
			case err := <-failures:
				a.nodeError(w, err)
			default:
				if ctx.Err() == context.DeadlineExceeded {
					a.jsonError(w, "timed out waiting for payment", http.StatusGatewayTimeout)
					return
				}
				a.jsonError(w, "payment stream closed without a response", http.StatusBadGateway)
			}
		case <-ctx.Done():
			a.jsonError(w, "timed out waiting for payment", http.StatusGatewayTimeout)
		}
	}
}
