package node

import (
	"context"
	"encoding/hex"

	"github.com/go-errors/errors"
	"github.com/lightningnetwork/lnd/macaroons"
	"google.golang.org/grpc/credentials"
	"gopkg.in/macaroon.v2"
)

// macaroonCredential attaches the macaroon to every call. Constraints are
// added per call, so a timeout caveat always counts from the call itself.
type macaroonCredential struct {
	mac     *macaroon.Macaroon
	timeout int64
	ip      string
}

var _ credentials.PerRPCCredentials = (*macaroonCredential)(nil)

func (m *macaroonCredential) constrained() (*macaroon.Macaroon, error) {
	var constraints []macaroons.Constraint

	if m.timeout > 0 {
		constraints = append(constraints, macaroons.TimeoutConstraint(m.timeout))
	}

	if m.ip != "" {
		constraints = append(constraints, macaroons.IPLockConstraint(m.ip))
	}

	return macaroons.AddConstraints(m.mac, constraints...)
}

func (m *macaroonCredential) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	mac, err := m.constrained()
	if err != nil {
		return nil, errors.Errorf("could not constrain macaroon: %v", err)
	}

	macBytes, err := mac.MarshalBinary()
	if err != nil {
		return nil, errors.Errorf("could not marshal macaroon: %v", err)
	}

	return map[string]string{
		"macaroon": hex.EncodeToString(macBytes),
	}, nil
}

func (m *macaroonCredential) RequireTransportSecurity() bool {
	return true
}
