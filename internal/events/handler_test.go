package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(svc *Service) *gin.Engine {
	h := NewHandler(svc, nil)
	r := gin.New()
	api := r.Group("/api")
	api.POST("/track", h.Track)
	api.POST("/track/batch", h.TrackBatch)
	api.GET("/events", h.List)
	api.GET("/events/by-participant", h.ByParticipant)
	api.GET("/events/participant/:participantId", h.ParticipantEvents)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func TestTrackEndpoint(t *testing.T) {
	svc, store := newTestService(nil)
	r := newTestRouter(svc)

	code, body := do(t, r, http.MethodPost, "/api/track", map[string]interface{}{
		"event_name":     "reel_video_start",
		"participant_id": "p1",
		"study_type":     "reel_video",
		"properties":     map[string]interface{}{"video_duration": 42},
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["event_id"])
	assert.Equal(t, "Event tracked successfully", body["message"])

	stored := store.All("reel_video_events")
	require.Len(t, stored, 1)
	require.NotNil(t, stored[0].IPAddress)
	assert.Equal(t, "203.0.113.9", *stored[0].IPAddress)
}

func TestTrackRequiresEventName(t *testing.T) {
	svc, _ := newTestService(nil)
	code, body := do(t, newTestRouter(svc), http.MethodPost, "/api/track", map[string]interface{}{"participant_id": "p1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "event_name is required", body["error"])
}

func TestTrackStoreErrorIs500(t *testing.T) {
	svc, store := newTestService(nil)
	store.Err = errors.New("db down")
	code, body := do(t, newTestRouter(svc), http.MethodPost, "/api/track", map[string]interface{}{"event_name": "x"})
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, false, body["success"])
}

func TestTrackBatchEndpoint(t *testing.T) {
	svc, _ := newTestService(nil)
	r := newTestRouter(svc)

	code, body := do(t, r, http.MethodPost, "/api/track/batch", map[string]interface{}{
		"events": []map[string]interface{}{
			{"event_name": "a", "study_type": "feed_video"},
			{"event_name": "b", "study_type": "reel_video"},
		},
	})
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), body["inserted_count"])

	code, body = do(t, r, http.MethodPost, "/api/track/batch", map[string]interface{}{"events": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "events array is required", body["error"])
}

func TestListEndpoint(t *testing.T) {
	svc, _ := newTestService(nil)
	r := newTestRouter(svc)
	for _, name := range []string{"a", "b", "c"} {
		do(t, r, http.MethodPost, "/api/track", map[string]interface{}{"event_name": name, "study_type": "feed_video", "participant_id": "p1"})
	}
	do(t, r, http.MethodPost, "/api/track", map[string]interface{}{"event_name": "d", "study_type": "reel_video", "participant_id": "p2"})

	code, body := do(t, r, http.MethodGet, "/api/events?condition=feed_video&limit=2", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "feed_video_events", body["collection"])
	assert.Equal(t, "all", body["participant_id"])
	assert.Equal(t, float64(2), body["count"])
	events := body["events"].([]interface{})
	assert.Equal(t, "c", events[0].(map[string]interface{})["event_name"])

	code, body = do(t, r, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.NotContains(t, body, "collection")
	assert.Equal(t, float64(4), body["count"])
	first := body["events"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "d", first["event_name"])
	assert.Equal(t, "reel_video_events", first["_collection"])
}

func TestByParticipantEndpoint(t *testing.T) {
	svc, _ := newTestService(nil)
	r := newTestRouter(svc)

	code, body := do(t, r, http.MethodGet, "/api/events/by-participant", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "condition parameter is required", body["error"])

	do(t, r, http.MethodPost, "/api/track", map[string]interface{}{"event_name": "a", "study_type": "reel_carousel", "participant_id": "p1"})
	code, body = do(t, r, http.MethodGet, "/api/events/by-participant?condition=reel_carousel", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["participant_count"])
	assert.Equal(t, "reel_carousel_events", body["collection"])
}

func TestParticipantEventsEndpoint(t *testing.T) {
	svc, _ := newTestService(nil)
	r := newTestRouter(svc)
	do(t, r, http.MethodPost, "/api/track", map[string]interface{}{"event_name": "a", "study_type": "reel_video", "participant_id": "p1"})
	do(t, r, http.MethodPost, "/api/track", map[string]interface{}{"event_name": "b", "study_type": "feed_video", "participant_id": "p1"})

	code, body := do(t, r, http.MethodGet, "/api/events/participant/p1", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "p1", body["participant_id"])
	assert.Equal(t, float64(2), body["count"])
	assert.NotContains(t, body, "condition")

	code, body = do(t, r, http.MethodGet, "/api/events/participant/p1?condition=feed_video", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "feed_video_events", body["collection"])
	assert.Equal(t, float64(1), body["count"])
}
