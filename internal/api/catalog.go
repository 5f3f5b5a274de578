package api

import (
	"errors"
	"net/http"

	"github.com/nerrad567/vitrea-gateway/internal/vbox"
)

// handleCatalog returns the discovered objects nested by floor and room.
func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	cat := s.gateway.Catalog()
	if cat == nil {
		writeUnavailable(w, "catalog not loaded")
		return
	}

	snap, err := cat.Snapshot()
	if err != nil {
		if errors.Is(err, vbox.ErrDiscoveryIncomplete) {
			writeConflict(w, err.Error())
			return
		}
		s.logger.Error("catalog snapshot failed", "error", err)
		writeInternalError(w, "failed to build catalog")
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
