// Package nodetest runs an in-memory lnd Lightning service for tests. It
// serves TLS with a freshly generated ECDSA certificate and only accepts
// calls carrying its own macaroon.
package nodetest

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"gopkg.in/macaroon.v2"
)

const (
	// Uri is the address clients should dial. Only the host part matters
	// for the certificate, the connection itself goes through Dial.
	Uri = "localhost:10009"

	macaroonID = "nodetest"

	timeBeforePrefix = "time-before "
)

// Server implements the subset of lnrpc.LightningServer exercised by the
// bridge. Calls to any other method panic through the nil embedded
// interface.
type Server struct {
	lnrpc.LightningServer

	CertPEM       []byte
	MacaroonBytes []byte
	Info          *lnrpc.GetInfoResponse

	lis      *bufconn.Listener
	server   *grpc.Server
	stopOnce sync.Once

	mu          sync.Mutex
	invoices    []*lnrpc.Invoice
	settleIndex uint64
	subscribers map[int]chan *lnrpc.Invoice
	nextSub     int
	payments    int
}

func NewServer(t testing.TB) *Server {
	certPEM, tlsCert := selfSignedCert(t)

	mac, err := macaroon.New([]byte("root key"), []byte(macaroonID), "lnd", macaroon.LatestVersion)
	if err != nil {
		t.Fatalf("could not create macaroon: %v", err)
	}

	macBytes, err := mac.MarshalBinary()
	if err != nil {
		t.Fatalf("could not marshal macaroon: %v", err)
	}

	s := &Server{
		CertPEM:       certPEM,
		MacaroonBytes: macBytes,
		Info: &lnrpc.GetInfoResponse{
			IdentityPubkey:    "02aa15c3f6bd0b6a9b0b2c0e1a0a4b7e0fc5d6a8b1b6f5e2d9c0d1e2f3a4b5c6d7",
			Alias:             "nodetest",
			NumActiveChannels: 3,
			NumPeers:          5,
			BlockHeight:       600000,
			SyncedToChain:     true,
			Version:           "0.5.2-beta",
		},
		lis:         bufconn.Listen(1024 * 1024),
		subscribers: make(map[int]chan *lnrpc.Invoice),
	}

	s.server = grpc.NewServer(
		grpc.Creds(credentials.NewServerTLSFromCert(tlsCert)),
		grpc.UnaryInterceptor(s.unaryAuth),
		grpc.StreamInterceptor(s.streamAuth),
	)
	lnrpc.RegisterLightningServer(s.server, s)

	go func() {
		_ = s.server.Serve(s.lis)
	}()

	return s
}

// Dial connects to the in-memory listener. It matches the dialer signature
// expected by node.LndNodeConfig.
func (s *Server) Dial(addr string, timeout time.Duration) (net.Conn, error) {
	return s.lis.Dial()
}

// Stop closes all connections, failing open streams. It may be called more
// than once.
func (s *Server) Stop() {
	s.stopOnce.Do(s.server.Stop)
}

func (s *Server) checkMacaroon(ctx context.Context) error {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok || len(md["macaroon"]) != 1 {
		return status.Error(codes.Unauthenticated, "expected 1 macaroon")
	}

	macBytes, err := hex.DecodeString(md["macaroon"][0])
	if err != nil {
		return status.Error(codes.Unauthenticated, "macaroon is not hex encoded")
	}

	mac := &macaroon.Macaroon{}
	if err := mac.UnmarshalBinary(macBytes); err != nil {
		return status.Error(codes.Unauthenticated, "could not unmarshal macaroon")
	}

	if string(mac.Id()) != macaroonID {
		return status.Error(codes.Unauthenticated, "unknown macaroon")
	}

	// Only time-before caveats are enforced, there is no peer IP on bufconn.
	for _, caveat := range mac.Caveats() {
		cond := string(caveat.Id)
		if !strings.HasPrefix(cond, timeBeforePrefix) {
			continue
		}

		before, err := time.Parse(time.RFC3339Nano, strings.TrimPrefix(cond, timeBeforePrefix))
		if err != nil {
			return status.Error(codes.Unauthenticated, "invalid time-before caveat")
		}

		if time.Now().After(before) {
			return status.Error(codes.Unauthenticated, "macaroon has expired")
		}
	}

	return nil
}

func (s *Server) unaryAuth(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo,
	handler grpc.UnaryHandler) (interface{}, error) {

	if err := s.checkMacaroon(ctx); err != nil {
		return nil, err
	}

	return handler(ctx, req)
}

func (s *Server) streamAuth(srv interface{}, stream grpc.ServerStream, info *grpc.StreamServerInfo,
	handler grpc.StreamHandler) error {

	if err := s.checkMacaroon(stream.Context()); err != nil {
		return err
	}

	return handler(srv, stream)
}

func (s *Server) GetInfo(ctx context.Context, req *lnrpc.GetInfoRequest) (*lnrpc.GetInfoResponse, error) {
	return s.Info, nil
}

func (s *Server) AddInvoice(ctx context.Context, req *lnrpc.Invoice) (*lnrpc.AddInvoiceResponse, error) {
	if req.Value < 0 {
		return nil, status.Error(codes.InvalidArgument, "payments of negative value are not allowed")
	}

	preimage := make([]byte, 32)
	if _, err := rand.Read(preimage); err != nil {
		return nil, err
	}

	rHash := sha256.Sum256(preimage)

	s.mu.Lock()

	invoice := &lnrpc.Invoice{
		Memo:           req.Memo,
		Value:          req.Value,
		Expiry:         req.Expiry,
		RPreimage:      preimage,
		RHash:          rHash[:],
		CreationDate:   time.Now().Unix(),
		PaymentRequest: fmt.Sprintf("lnbcrt%dn1%x", req.Value, rHash[:8]),
		AddIndex:       uint64(len(s.invoices) + 1),
	}
	s.invoices = append(s.invoices, invoice)

	s.notifyLocked(invoice)
	s.mu.Unlock()

	return &lnrpc.AddInvoiceResponse{
		RHash:          invoice.RHash,
		PaymentRequest: invoice.PaymentRequest,
		AddIndex:       invoice.AddIndex,
	}, nil
}

func (s *Server) LookupInvoice(ctx context.Context, req *lnrpc.PaymentHash) (*lnrpc.Invoice, error) {
	rHash := req.RHash
	if req.RHashStr != "" {
		var err error
		rHash, err = hex.DecodeString(req.RHashStr)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "unable to decode payment hash")
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	invoice := s.findLocked(func(i *lnrpc.Invoice) bool {
		return hex.EncodeToString(i.RHash) == hex.EncodeToString(rHash)
	})
	if invoice == nil {
		return nil, status.Error(codes.NotFound, "unable to locate invoice")
	}

	copied := *invoice

	return &copied, nil
}

func (s *Server) SubscribeInvoices(req *lnrpc.InvoiceSubscription, stream lnrpc.Lightning_SubscribeInvoicesServer) error {
	events := make(chan *lnrpc.Invoice, 64)

	s.mu.Lock()
	for _, invoice := range s.invoices {
		replay := req.AddIndex > 0 && invoice.AddIndex > req.AddIndex ||
			req.SettleIndex > 0 && invoice.SettleIndex > req.SettleIndex
		if replay {
			copied := *invoice
			events <- &copied
		}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = events
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}()

	for {
		select {
		case invoice := <-events:
			if err := stream.Send(invoice); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

// SendPayment settles invoices created by this server. Unknown payment
// requests are answered with a payment error, like an unroutable payment.
func (s *Server) SendPayment(stream lnrpc.Lightning_SendPaymentServer) error {
	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if err := stream.Send(s.pay(req)); err != nil {
			return err
		}
	}
}

func (s *Server) pay(req *lnrpc.SendRequest) *lnrpc.SendResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.payments++

	invoice := s.findLocked(func(i *lnrpc.Invoice) bool {
		return req.PaymentRequest != "" && i.PaymentRequest == req.PaymentRequest
	})
	if invoice == nil {
		return &lnrpc.SendResponse{PaymentError: "unable to find a path to destination"}
	}

	if invoice.Settled {
		return &lnrpc.SendResponse{PaymentError: "invoice is already paid"}
	}

	s.settleLocked(invoice)

	return &lnrpc.SendResponse{
		PaymentPreimage: invoice.RPreimage,
		PaymentRoute: &lnrpc.Route{
			TotalAmt: invoice.Value,
		},
	}
}

// Settle marks the invoice with the given hex payment hash as paid, as if
// it was paid by another node.
func (s *Server) Settle(rHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	invoice := s.findLocked(func(i *lnrpc.Invoice) bool {
		return hex.EncodeToString(i.RHash) == rHash
	})
	if invoice == nil || invoice.Settled {
		return false
	}

	s.settleLocked(invoice)

	return true
}

// Subscribers returns the number of open invoice subscriptions.
func (s *Server) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.subscribers)
}

// WaitForSubscribers blocks until n invoice subscriptions are open.
func (s *Server) WaitForSubscribers(t testing.TB, n int) {
	deadline := time.Now().Add(5 * time.Second)
	for s.Subscribers() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d invoice subscribers, got %d", n, s.Subscribers())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Payments returns the number of payment requests received.
func (s *Server) Payments() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.payments
}

func (s *Server) settleLocked(invoice *lnrpc.Invoice) {
	s.settleIndex++

	invoice.Settled = true
	invoice.SettleDate = time.Now().Unix()
	invoice.SettleIndex = s.settleIndex

	s.notifyLocked(invoice)
}

func (s *Server) notifyLocked(invoice *lnrpc.Invoice) {
	for _, events := range s.subscribers {
		copied := *invoice
		select {
		case events <- &copied:
		default:
		}
	}
}

func (s *Server) findLocked(match func(*lnrpc.Invoice) bool) *lnrpc.Invoice {
	for _, invoice := range s.invoices {
		if match(invoice) {
			return invoice
		}
	}

	return nil
}
