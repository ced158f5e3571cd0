package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/conduit/correlation"
	"github.com/xraph/conduit/httpapi"
)

func TestWebsocketEcho(t *testing.T) {
	h := newHarness(t, false)
	api := httpapi.New(h.eng)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dialer := ws.Dialer{Header: ws.HandshakeHeaderHTTP(http.Header{correlation.HeaderName: []string{"ws-7"}})}
	conn, _, _, err := dialer.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/ws")
	require.NoError(t, err)

	require.NoError(t, wsutil.WriteClientText(conn, []byte("hello")))
	reply, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)
	assert.Equal(t, "Message received: hello", string(reply))
	assert.Equal(t, 1, api.OpenSessions())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return api.OpenSessions() == 0 }, 2*time.Second, 10*time.Millisecond)

	var connected bool
	for _, line := range strings.Split(strings.TrimSpace(h.logs.String()), "\n") {
		if strings.Contains(line, `"msg":"websocket connected"`) {
			connected = true
			assert.Contains(t, line, `"correlation_id":"ws-7"`)
		}
	}
	assert.True(t, connected, "no connect log line:\n%s", h.logs.String())
}

func TestWebsocketRejectsPlainRequest(t *testing.T) {
	h := newHarness(t, false)

	rec := h.do(t, http.MethodGet, "/v1/ws", nil)
	assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
}
