package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/vault-ai/control-plane/internal/auth"
	"github.com/vault-ai/control-plane/internal/devmode"
	"github.com/vault-ai/control-plane/internal/gpuinfo"
	"github.com/vault-ai/control-plane/internal/servicemgr"
)

// closeAdminRequired matches original_source/app/api/v1/websocket.py's
// close code for a non-admin caller on the log stream.
const closeAdminRequired = 4003

// registerWebSocketRoutes wires the four long-lived push surfaces spec
// §4.7 describes: a system-stats ticker, a tailing log stream, and two
// dev-mode PTY bridges. None of this exists in the teacher, which has no
// streaming dashboard surface at all — authored directly against
// gorilla/websocket's real API (already an indirect dependency pulled in by
// Server's own upgrader), in the shape every gorilla/websocket server this
// tree's dependency graph implies: upgrade, loop, defer Close.
func (s *Server) registerWebSocketRoutes(r *mux.Router) {
	r.HandleFunc("/ws/system", s.handleWSSystem)
	r.HandleFunc("/ws/logs", s.handleWSLogs)
	r.HandleFunc("/ws/terminal", s.handleWSTerminal)
	r.HandleFunc("/ws/python", s.handleWSPython)
}

const wsPollInterval = 2 * time.Second

func (s *Server) authenticateWS(w http.ResponseWriter, r *http.Request) bool {
	_, ok := s.authenticatedPrincipalWS(w, r)
	return ok
}

func (s *Server) authenticatedPrincipalWS(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	p, err := s.authSvc.AuthenticateWS(r.Context(), r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return auth.Principal{}, false
	}
	return p, true
}

// handleWSSystem pushes a combined resources/GPU/uptime snapshot every
// wsPollInterval until the client disconnects.
func (s *Server) handleWSSystem(w http.ResponseWriter, r *http.Request) {
	if !s.authenticateWS(w, r) {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	go discardClientReads(conn)

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			summary, err := s.uptimeMon.GetSummary(r.Context())
			if err != nil {
				continue
			}
			gpus, _ := gpuinfo.DetectNVIDIA(r.Context())
			resources, _ := gpuinfo.CollectHostStats(r.Context(), "/")
			payload := map[string]any{
				"resources": resources,
				"uptime":    summary,
				"gpus":      gpus,
			}
			if err := conn.WriteJSON(payload); err != nil {
				return
			}
		}
	}
}

// handleWSLogs tails servicemgr's log source, pushing only entries newer
// than the last one sent so the client sees an append-only stream rather
// than a repeated full page. Spec §4.7 additionally requires admin scope
// here, matching original_source/app/api/v1/websocket.py's admin-only log
// stream — a user-scope API key may not tail system journald output.
func (s *Server) handleWSLogs(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authenticatedPrincipalWS(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if !p.IsAdmin() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeAdminRequired, "admin scope required"),
			time.Now().Add(time.Second))
		return
	}

	ticker := time.NewTicker(wsPollInterval)
	defer ticker.Stop()

	go discardClientReads(conn)

	service := r.URL.Query().Get("service")
	severity := r.URL.Query().Get("severity")
	lastSeen := time.Now().UTC()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			entries, _ := s.services.GetLogs(r.Context(), servicemgr.LogFilter{
				Service:  service,
				Severity: severity,
				Since:    lastSeen.Format(time.RFC3339),
				Limit:    200,
			})
			if len(entries) == 0 {
				continue
			}
			for _, e := range entries {
				if e.Timestamp.After(lastSeen) {
					lastSeen = e.Timestamp
				}
			}
			if err := conn.WriteJSON(entries); err != nil {
				return
			}
		}
	}
}

type ptyClientMessage struct {
	Type string `json:"type"` // "input" | "resize"
	Data string `json:"data,omitempty"`
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`
}

// handleWSTerminal bridges a WebSocket to an interactive shell PTY session.
func (s *Server) handleWSTerminal(w http.ResponseWriter, r *http.Request) {
	s.handlePTY(w, r, s.devmode.OpenShell)
}

// handleWSPython bridges a WebSocket to an interactive Python REPL PTY
// session.
func (s *Server) handleWSPython(w http.ResponseWriter, r *http.Request) {
	s.handlePTY(w, r, s.devmode.OpenPython)
}

func (s *Server) handlePTY(w http.ResponseWriter, r *http.Request, open func() (*devmode.Session, error)) {
	if !s.authenticateWS(w, r) {
		return
	}
	if !s.devmode.Enabled() {
		http.Error(w, "dev mode is disabled", http.StatusForbidden)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess, err := open()
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("failed to start session: "+err.Error()))
		return
	}
	defer s.devmode.Close(sess.ID)

	done := make(chan struct{})
	go pumpPTYOutput(conn, sess, done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg ptyClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "input":
			_, _ = sess.Write([]byte(msg.Data))
		case "resize":
			_ = sess.Resize(msg.Cols, msg.Rows)
		}
	}
	<-done
}

// pumpPTYOutput copies subprocess output to the socket until the pty
// closes or a write to the socket fails, then closes done so the caller's
// read loop can unwind.
func pumpPTYOutput(conn *websocket.Conn, sess *devmode.Session, done chan struct{}) {
	defer close(done)
	buf := make([]byte, 4096)
	for {
		n, err := sess.Read(buf)
		if n > 0 {
			if werr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// discardClientReads drains and ignores inbound frames on a push-only
// socket; gorilla/websocket requires the read loop to keep running so the
// library can process control frames (ping/pong/close) and notice when the
// peer disconnects.
func discardClientReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
