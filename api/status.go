package api

import (
	"net/http"
)

type getStatusResponse struct {
	Connectivity string `json:"connectivity"`
}

func (a *Api) handleGetStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := &getStatusResponse{
			Connectivity: a.node.Connectivity().CurrentState().String(),
		}

		a.jsonResponse(w, res, http.StatusOK)
	}
}
