package routes

import (
	"github.com/gorilla/mux"

	"github.com/intercoop/federation-core/walletservice/controllers"
	"github.com/intercoop/federation-core/walletservice/middleware"
)

// Register wires the credential-sync HTTP surface onto r.
func Register(r *mux.Router, sc *controllers.SyncController) {
	r.Use(middleware.Logger)
	r.HandleFunc("/api/sync/credentials", sc.List).Methods("GET")
	r.HandleFunc("/api/sync/credentials/track", sc.Track).Methods("POST")
	r.HandleFunc("/api/sync/credentials/{credentialID}", sc.Get).Methods("GET")
}
