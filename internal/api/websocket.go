package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

const (
	// WebSocket configuration constants.
	writeWait      = 10 * time.Second // Time allowed to write a message to the peer
	maxMessageSize = 512              // Maximum message size allowed from peer
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ProgressMessage is one frame of the progress stream.
type ProgressMessage struct {
	ID        string    `json:"id"`
	Scanned   int       `json:"scanned"`
	Total     int       `json:"total"`
	Progress  float64   `json:"progress"`
	Phase     string    `json:"phase"`
	Status    string    `json:"status"`
	OpenPorts []int     `json:"open_ports,omitempty"`
	Error     string    `json:"error,omitempty"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

func progressMessage(view JobView, final bool) ProgressMessage {
	return ProgressMessage{
		ID:        view.ID,
		Scanned:   view.Scanned,
		Total:     view.Total,
		Progress:  view.Progress,
		Phase:     view.Phase,
		Status:    view.Status,
		OpenPorts: view.OpenPorts,
		Error:     view.Error,
		Final:     final,
		Timestamp: time.Now().UTC(),
	}
}

// progressHandler streams a scan's progress over a websocket, one message per
// polling interval, and closes the connection after the final message.
//
// @Summary Stream scan progress
// @Description Upgrades to a WebSocket that streams ProgressMessage frames until the scan finishes
// @Tags Scans
// @Param id path string true "Scan ID"
// @Success 101 {object} ProgressMessage
// @Failure 404 {object} ErrorResponse
// @Router /scans/{id}/progress [get]
func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", "scan_id", job.ID.String(), "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	// the client never sends data; reading only notices when it goes away
	clientGone := make(chan struct{})
	conn.SetReadLimit(maxMessageSize)
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := s.config.Scanning.ProgressInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	send := func(msg ProgressMessage) bool {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return false
		}
		if err := conn.WriteJSON(msg); err != nil {
			s.logger.Debug("Progress write failed, closing connection", "scan_id", msg.ID, "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-job.Done():
			if send(progressMessage(job.View(), true)) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished"),
					time.Now().Add(writeWait))
			}
			return
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send(progressMessage(job.View(), false)) {
				return
			}
		}
	}
}
