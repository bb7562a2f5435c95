package api

import (
	"net/http"
)

// handleGetIndex fetches the node info and only logs it.
func (a *Api) handleGetIndex() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := a.node.GetInfo(r.Context())
		if err != nil {
			a.log.Errorf("GetInfo failed: %v", err)
		} else {
			a.log.Infof("GetInfo: %v", info)
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, err = w.Write([]byte("Hello world!"))
		if err != nil {
			a.log.Errorf("Could not respond: %v", err)
		}
	}
}

func (a *Api) handleGetInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := a.node.GetInfo(r.Context())
		if err != nil {
			a.nodeError(w, err)
			return
		}

		a.protoResponse(w, info, http.StatusOK)
	}
}
