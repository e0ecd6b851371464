package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// socketWorker runs a scripted duplex worker session inside an httptest
// server and records the client's replies.
func socketWorker(t *testing.T, script func(t *testing.T, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		script(t, conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/queue/join"
}

func TestSocketRunCompletes(t *testing.T) {
	srv := socketWorker(t, func(t *testing.T, conn *websocket.Conn) {
		require.NoError(t, conn.WriteJSON(map[string]any{"msg": "send_hash"}))

		var hashReply map[string]any
		require.NoError(t, conn.ReadJSON(&hashReply))
		require.Len(t, hashReply["session_hash"], 12)
		require.EqualValues(t, 1, hashReply["fn_index"])

		require.NoError(t, conn.WriteJSON(map[string]any{"msg": "send_data"}))

		var dataReply map[string]any
		require.NoError(t, conn.ReadJSON(&dataReply))
		args := dataReply["data"].([]any)
		require.Equal(t, "a quiet village", args[0])

		require.NoError(t, conn.WriteJSON(map[string]any{
			"msg":     "process_completed",
			"success": true,
			"output":  map[string]any{"data": []any{[]any{map[string]any{"name": "tmp/inked.png"}}}},
		}))
	})
	defer srv.Close()

	c := NewSocketClient(wsURL(srv), testLogger())
	location, err := c.Run(context.Background(), Job{
		Backend: "inkwell",
		Data:    []any{"a quiet village", "Square (1:1)", 7, 28},
		FnIndex: 1,
	})
	require.NoError(t, err)

	// Worker-relative paths resolve against the worker's HTTP origin.
	require.Equal(t, srv.URL+"/file=tmp/inked.png", location)
}

func TestSocketRunWorkerFailure(t *testing.T) {
	srv := socketWorker(t, func(t *testing.T, conn *websocket.Conn) {
		require.NoError(t, conn.WriteJSON(map[string]any{
			"msg":     "process_completed",
			"success": false,
			"output":  map[string]any{"error": "queue worker crashed"},
		}))
	})
	defer srv.Close()

	c := NewSocketClient(wsURL(srv), testLogger())
	_, err := c.Run(context.Background(), Job{Backend: "ember"})
	require.Equal(t, "backend", Class(err))
	require.Contains(t, err.Error(), "queue worker crashed")
}

func TestSocketRunClosedBeforeCompletion(t *testing.T) {
	srv := socketWorker(t, func(t *testing.T, conn *websocket.Conn) {
		require.NoError(t, conn.WriteJSON(map[string]any{"msg": "process_starts"}))
		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		conn.WriteMessage(websocket.CloseMessage, closeMsg)
	})
	defer srv.Close()

	c := NewSocketClient(wsURL(srv), testLogger())
	_, err := c.Run(context.Background(), Job{Backend: "ember"})
	require.Equal(t, "protocol", Class(err))
}

func TestSocketRunDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewSocketClient(wsURL(srv), testLogger())
	_, err := c.Run(context.Background(), Job{Backend: "ember"})
	require.Equal(t, "transport", Class(err))
}

func TestRegistryNamesByKind(t *testing.T) {
	reg := NewDefaultRegistry(testLogger())

	images := reg.Names(KindImage)
	require.Equal(t, []string{"crystal", "lumen", "drift", "inkwell", "halo", "ember", "violet"}, images)
	require.Equal(t, []string{"aria"}, reg.Names(KindSpeech))
	require.Equal(t, []string{"cadence"}, reg.Names(KindMusic))
	require.Len(t, reg.Names(""), 9)

	_, ok := reg.Get("crystal")
	require.True(t, ok)
	_, ok = reg.Get("unknown")
	require.False(t, ok)
}

func TestImageSizeTables(t *testing.T) {
	w, h, ok := ImageSizes("crystal", Wide)
	require.True(t, ok)
	require.Equal(t, 1344, w)
	require.Equal(t, 768, h)

	w, h, ok = ImageSizes("ember", Portrait)
	require.True(t, ok)
	require.Equal(t, 512, w)
	require.Equal(t, 768, h)

	_, _, ok = ImageSizes("nope", Square)
	require.False(t, ok)
}
