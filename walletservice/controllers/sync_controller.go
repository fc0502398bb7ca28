package controllers

// Thin HTTP dispatcher over the Credential Sync Worker (SPEC_FULL.md §5
// item 2): handlers decode a request, call one service method, encode the
// result. The only non-core-internal HTTP surface this module exposes
// (spec.md §1 Non-goals exclude a richer application API).

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/intercoop/federation-core/walletservice/services"
)

// SyncController serves Credential Sync Entry reads and registrations.
type SyncController struct {
	worker *services.SyncWorker
}

// NewSyncController wraps worker for HTTP access.
func NewSyncController(worker *services.SyncWorker) *SyncController {
	return &SyncController{worker: worker}
}

// Track registers a credential for periodic re-verification.
func (c *SyncController) Track(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CredentialID string `json:"credential_id"`
		ReceiptID    string `json:"receipt_id"`
		FederationID string `json:"federation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	c.worker.Track(req.CredentialID, req.ReceiptID, req.FederationID)
	w.WriteHeader(http.StatusAccepted)
}

// Get returns a single Credential Sync Entry by ID.
func (c *SyncController) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["credentialID"]
	entry, ok := c.worker.Get(id)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(entry)
}

// List returns every tracked Credential Sync Entry.
func (c *SyncController) List(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(c.worker.List())
}
