package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang/protobuf/jsonpb"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/lnrpc"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second

	// close frames carry at most 123 bytes of reason
	maxCloseReason = 120
)

func (a *Api) handlePostInvoice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &lnrpc.Invoice{}
		if err := jsonpb.Unmarshal(r.Body, req); err != nil {
			a.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}

		res, err := a.node.AddInvoice(r.Context(), req)
		if err != nil {
			a.nodeError(w, err)
			return
		}

		a.protoResponse(w, res, http.StatusOK)
	}
}

func (a *Api) handleGetInvoice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rHash := mux.Vars(r)["rHash"]

		if decoded, err := hex.DecodeString(rHash); err != nil || len(decoded) != 32 {
			a.jsonError(w, "payment hash must be 32 hex encoded bytes", http.StatusBadRequest)
			return
		}

		invoice, err := a.node.LookupInvoice(r.Context(), rHash)
		if err != nil {
			a.nodeError(w, err)
			return
		}

		a.protoResponse(w, invoice, http.StatusOK)
	}
}

func invoiceSubscription(query url.Values) (*lnrpc.InvoiceSubscription, error) {
	req := &lnrpc.InvoiceSubscription{}

	var err error

	if v := query.Get("add_index"); v != "" {
		req.AddIndex, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, err
		}
	}

	if v := query.Get("settle_index"); v != "" {
		req.SettleIndex, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, err
		}
	}

	return req, nil
}

// handleGetInvoiceEvents relays the node's invoice subscription to a
// websocket, one protobuf JSON text message per invoice event.
func (a *Api) handleGetInvoiceEvents() http.HandlerFunc {
	upgrader := &websocket.Upgrader{}

	return func(w http.ResponseWriter, r *http.Request) {
		req, err := invoiceSubscription(r.URL.Query())
		if err != nil {
			a.jsonError(w, "add_index and settle_index must be unsigned integers", http.StatusBadRequest)
			return
		}

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			a.log.Errorf("Could not upgrade to websocket: %v", err)
			return
		}

		defer c.Close()

		events := make(chan *lnrpc.Invoice, 16)
		failures := make(chan error, 1)
		closed := make(chan struct{})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		client, err := a.node.SubscribeInvoices(ctx, req, func(invoice *lnrpc.Invoice, err error) {
			if err != nil {
				failures <- err
				return
			}

			select {
			case events <- invoice:
			case <-closed:
			}
		})
		if err != nil {
			a.closeWebsocket(c, websocket.CloseInternalServerErr, err.Error())
			return
		}

		defer client.Cancel()
		defer close(closed)

		// read pump
		readDone := make(chan struct{})
		go func() {
			defer close(readDone)

			c.SetReadLimit(512)
			_ = c.SetReadDeadline(time.Now().Add(pongWait))
			c.SetPongHandler(func(string) error {
				return c.SetReadDeadline(time.Now().Add(pongWait))
			})

			for {
				_, _, err := c.ReadMessage()
				if err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
						a.log.Errorf("unexpected websocket closure: %v", err)
					}
					return
				}
			}
		}()

		// write pump
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		for {
			select {
			case invoice := <-events:
				if err := a.writeInvoice(c, invoice); err != nil {
					return
				}

			case err := <-failures:
				a.closeWebsocket(c, websocket.CloseInternalServerErr, err.Error())
				return

			case <-client.Done():
				// flush what the relay delivered before it stopped
			flush:
				for {
					select {
					case invoice := <-events:
						if err := a.writeInvoice(c, invoice); err != nil {
							return
						}
					case err := <-failures:
						a.closeWebsocket(c, websocket.CloseInternalServerErr, err.Error())
						return
					default:
						break flush
					}
				}

				a.closeWebsocket(c, websocket.CloseNormalClosure, "subscription ended")
				return

			case <-readDone:
				return

			case <-ticker.C:
				_ = c.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}

func (a *Api) writeInvoice(c *websocket.Conn, invoice *lnrpc.Invoice) error {
	var buf bytes.Buffer
	if err := marshaler.Marshal(&buf, invoice); err != nil {
		a.log.Errorf("Could not marshal invoice: %v", err)
		return err
	}

	_ = c.SetWriteDeadline(time.Now().Add(writeWait))

	return c.WriteMessage(websocket.TextMessage, buf.Bytes())
}

func (a *Api) closeWebsocket(c *websocket.Conn, code int, reason string) {
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}

	_ = c.SetWriteDeadline(time.Now().Add(writeWait))

	err := c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	if err != nil {
		a.log.Debugf("Could not send websocket close: %v", err)
	}
}
