package health

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chen-zeong/dtv/internal/listener"
	"github.com/chen-zeong/dtv/internal/message"
	"github.com/chen-zeong/dtv/internal/metrics"
)

type staticRooms []listener.Status

func (s staticRooms) Snapshot() []listener.Status { return s }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, Router(nil), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRooms(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rooms := staticRooms{{
		Platform:  message.Douyu,
		RoomID:    "288016",
		ConnID:    "c1",
		State:     "streaming",
		StartedAt: started,
		Events:    3,
	}}

	rec := get(t, Router(rooms), "/rooms")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "douyu", got[0]["platform"])
	assert.Equal(t, "288016", got[0]["room_id"])
	assert.Equal(t, "streaming", got[0]["state"])
	assert.Equal(t, float64(3), got[0]["events"])
}

func TestRoomsEmpty(t *testing.T) {
	rec := get(t, Router(nil), "/rooms")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestMetrics(t *testing.T) {
	metrics.Init()
	metrics.FrameReceived("bilibili")

	rec := get(t, Router(nil), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `danmaku_frames_total{platform="bilibili"}`)
}
