package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/conduit/correlation"
)

// sessions tracks open websocket connections and the correlation id each
// one was opened under.
type sessions struct {
	mu    sync.Mutex
	conns map[net.Conn]correlation.ID
}

func newSessions() *sessions {
	return &sessions{conns: make(map[net.Conn]correlation.ID)}
}

func (s *sessions) add(c net.Conn, cid correlation.ID) {
	s.mu.Lock()
	s.conns[c] = cid
	s.mu.Unlock()
}

func (s *sessions) remove(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

func (s *sessions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// OpenSessions returns the number of connected websocket clients.
func (a *API) OpenSessions() int { return a.sessions.count() }

// websocket upgrades the request and acknowledges every text frame. The
// connection lives inside the request's correlation scope, so its log
// lines carry the id from the handshake header or a generated one.
func (a *API) websocket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		a.logger.WarnContext(ctx, "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	a.sessions.add(conn, correlation.FromContext(ctx))
	a.logger.InfoContext(ctx, "websocket connected")
	defer func() {
		a.sessions.remove(conn)
		_ = conn.Close()
		a.logger.InfoContext(ctx, "websocket disconnected")
	}()

	for {
		msg, op, err := wsutil.ReadClientData(conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		reply := append([]byte("Message received: "), msg...)
		if err := wsutil.WriteServerText(conn, reply); err != nil {
			a.logger.WarnContext(ctx, "websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}
