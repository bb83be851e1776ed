package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reel-study/backend/internal/events"
	"github.com/reel-study/backend/internal/models"
	"github.com/reel-study/backend/internal/tracker"
)

func newSessionServer(t *testing.T) (*httptest.Server, *events.MemoryStore, *SessionGroup) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := events.NewMemoryStore()
	svc := events.NewService(store, nil, nil)
	group := NewSessionGroup()
	r := gin.New()
	r.GET("/ws/session", ServeSession(group, svc, SessionOptions{
		PollInterval:   50 * time.Millisecond,
		AttachInterval: 10 * time.Millisecond,
		AttachAttempts: 50,
		FinalizeOnEnd:  true,
		SinkBuffer:     32,
	}, nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, store, group
}

func dialSession(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func sendMsg(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(WSMessage{Event: event, Data: raw}))
}

// waitFor reads messages until one matches event and returns its payload.
func waitFor(t *testing.T, conn *websocket.Conn, event string, match func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event != event {
			continue
		}
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(msg.Data, &body))
		if match == nil || match(body) {
			return body
		}
	}
}

func storedNames(store *events.MemoryStore, table string) []string {
	return lo.Map(store.All(table), func(ev models.Event, _ int) string { return ev.EventName })
}

func TestSessionRecordsWatchAndFinalizesOnDisconnect(t *testing.T) {
	srv, store, _ := newSessionServer(t)
	conn := dialSession(t, srv, "condition=reel_video&participant_id=p-1&media_id=clip-7")

	hello := waitFor(t, conn, MsgSession, nil)
	assert.NotEmpty(t, hello["session_id"])

	sendMsg(t, conn, MsgPlayerAttached, map[string]interface{}{})
	sendMsg(t, conn, MsgReady, readyPayload{Duration: 60, Muted: true})
	sendMsg(t, conn, MsgTap, map[string]interface{}{})
	waitFor(t, conn, MsgCommand, func(b map[string]interface{}) bool { return b["action"] == ActionPlay })

	sendMsg(t, conn, MsgState, statePayload{State: "playing", Position: 0})
	sendMsg(t, conn, MsgState, statePayload{State: "paused", Position: 20})
	sendMsg(t, conn, MsgLifecycle, lifecyclePayload{Signal: "pagehide"})

	assert.Eventually(t, func() bool {
		return lo.Contains(storedNames(store, "reel_video_events"), "reel_video_summary")
	}, 3*time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close())

	names := storedNames(store, "reel_video_events")
	assert.Contains(t, names, "reel_video_start")
	assert.Contains(t, names, "reel_video_watch_time")
	assert.Contains(t, names, "reel_video_summary")

	summary, ok := lo.Find(store.All("reel_video_events"), func(ev models.Event) bool { return ev.EventName == tracker.SummaryEvent })
	require.True(t, ok)
	assert.Equal(t, "p-1", summary.ParticipantID)
	assert.Equal(t, 20.0, summary.Properties["watch_duration"])
	assert.Equal(t, "yes", summary.Properties["unmuted"])
}

func TestSessionMuteToggleRepliesWithState(t *testing.T) {
	srv, _, _ := newSessionServer(t)
	conn := dialSession(t, srv, "condition=feed_video")
	defer conn.Close()

	sendMsg(t, conn, MsgMuteToggle, map[string]interface{}{})
	reply := waitFor(t, conn, MsgMuteState, nil)
	assert.NotEmpty(t, reply["error"])

	sendMsg(t, conn, MsgPlayerAttached, map[string]interface{}{})
	sendMsg(t, conn, MsgReady, readyPayload{Duration: 30, Muted: false})
	deadline := time.Now().Add(3 * time.Second)
	for {
		sendMsg(t, conn, MsgMuteToggle, map[string]interface{}{})
		reply = waitFor(t, conn, MsgMuteState, nil)
		if reply["error"] == nil {
			assert.Equal(t, true, reply["muted"])
			break
		}
		require.True(t, time.Now().Before(deadline), "player never attached")
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSessionRequiresCondition(t *testing.T) {
	srv, _, _ := newSessionServer(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestShutdownFinalizesOpenSessions(t *testing.T) {
	srv, store, group := newSessionServer(t)
	conn := dialSession(t, srv, "condition=reel_video&participant_id=p-3")
	defer conn.Close()

	sendMsg(t, conn, MsgPlayerAttached, map[string]interface{}{})
	sendMsg(t, conn, MsgReady, readyPayload{Duration: 60})
	sendMsg(t, conn, MsgTap, map[string]interface{}{})
	waitFor(t, conn, MsgCommand, func(b map[string]interface{}) bool { return b["action"] == ActionPlay })
	sendMsg(t, conn, MsgState, statePayload{State: "playing", Position: 0})
	assert.Eventually(t, func() bool {
		return lo.Contains(storedNames(store, "reel_video_events"), "reel_video_start")
	}, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, group.Shutdown(ctx))

	names := storedNames(store, "reel_video_events")
	assert.Contains(t, names, tracker.SummaryEvent)
	assert.Contains(t, names, "reel_video_summary")

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session?condition=reel_video"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.StatusCode)
}
