package handlers

import "net/http"

// Scaling exposes the replica count an external autoscaler should target.
func (api *API) Scaling(w http.ResponseWriter, r *http.Request) {
	if api.scaling == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "scaling advice is not enabled")
		return
	}
	decision, err := api.scaling.Decide(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decision)
}
