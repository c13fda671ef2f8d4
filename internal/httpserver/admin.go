package httpserver

import (
	"net/http"

	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/webrtc-pairing-relay/internal/metrics"
)

// adminSecretField is the JSON body field carrying the admin secret.
const adminSecretField = "number"

// handleDeleteAllRooms wipes the room table. It exists to recover from a
// wedged matchmaking state without restarting the service.
func (s *Server) handleDeleteAllRooms(w http.ResponseWriter, r *http.Request) {
	secret, err := auth.SecretFromJSON(r.Body, adminSecretField)
	if err == nil {
		err = s.admin.Verify(secret)
	}
	if err != nil {
		s.metrics.Inc(metrics.AdminUnauthorized)
		s.log.Warn("admin request rejected", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		writeText(w, http.StatusForbidden, "Unauthorized")
		return
	}

	n, err := s.rooms.DeleteAllRooms(r.Context())
	if err != nil {
		s.log.Error("delete all rooms", "err", err)
		writeText(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.metrics.Inc(metrics.AdminRoomsCleared)
	s.log.Info("room table cleared", "rooms", n)
	writeText(w, http.StatusOK, "Room table cleared!")
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
