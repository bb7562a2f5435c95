package api

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	"github.com/the-lightning-land/lnbridge/node"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var marshaler = &jsonpb.Marshaler{
	OrigName:     true,
	EmitDefaults: true,
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *Api) jsonResponse(w http.ResponseWriter, v interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		a.log.Errorf("Could not respond with JSON: %v", err)
	}
}

// protoResponse writes lnrpc messages the way lnd's REST proxy does.
func (a *Api) protoResponse(w http.ResponseWriter, m proto.Message, code int) {
	var buf bytes.Buffer
	if err := marshaler.Marshal(&buf, m); err != nil {
		a.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		a.log.Errorf("Could not respond with JSON: %v", err)
	}
}

func (a *Api) jsonError(w http.ResponseWriter, message string, code int) {
	a.jsonResponse(w, &errorResponse{Error: message}, code)
}

// nodeError answers a failed remote call. A node that is not started is
// unavailable rather than failing upstream.
func (a *Api) nodeError(w http.ResponseWriter, err error) {
	if err == node.ErrNotStarted {
		a.log.Errorf("Request failed due to unavailable node")
		a.jsonError(w, "No node is available at the moment", http.StatusServiceUnavailable)
		return
	}

	code := http.StatusBadGateway

	switch status.Code(err) {
	case codes.NotFound:
		code = http.StatusNotFound
	case codes.InvalidArgument:
		code = http.StatusBadRequest
	case codes.DeadlineExceeded:
		code = http.StatusGatewayTimeout
	}

	a.jsonError(w, err.Error(), code)
}
