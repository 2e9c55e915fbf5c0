package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/room-server/internal/auth"
	"github.com/annel0/room-server/internal/room"
	"github.com/annel0/room-server/internal/room/entity"
	"github.com/annel0/room-server/internal/storage"
	"github.com/annel0/room-server/internal/vec"
)

type fixture struct {
	rooms       *room.Manager
	issuer      *auth.Issuer
	invalidated *recordingInvalidator
	server      *RestServer
}

type recordingInvalidator struct {
	mu  sync.Mutex
	ids []int
}

func (r *recordingInvalidator) Invalidate(_ context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

type fixedSessions int

func (n fixedSessions) Sessions() int { return int(n) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := room.DefaultConfig()
	cfg.Entity = entity.Config{WalkInterval: 20 * time.Millisecond, RequestTimeout: 200 * time.Millisecond}
	rooms := room.NewManager(context.Background(),
		storage.NewMemoryModelStore(),
		storage.NewMemoryRoomRepo(storage.DefaultRooms()...),
		storage.NewMemoryPositionRepo(), cfg, nil)
	t.Cleanup(func() { rooms.Shutdown(context.Background()) })

	issuer := auth.NewRandomIssuer()
	invalidated := &recordingInvalidator{}
	server := NewRestServer(Config{
		Rooms:    rooms,
		Sessions: fixedSessions(3),
		Cache:    invalidated,
		Issuer:   issuer,
		Registry: prometheus.NewRegistry(),
		Version:  "test",
	})
	return &fixture{rooms: rooms, issuer: issuer, invalidated: invalidated, server: server}
}

func (f *fixture) do(t *testing.T, method, path, token, body string) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)

	var resp GenericResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (f *fixture) token(t *testing.T, admin bool) string {
	t.Helper()
	token, err := f.issuer.Generate("ops", admin, time.Hour)
	require.NoError(t, err)
	return token
}

func decode(t *testing.T, data interface{}, out interface{}) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, _ := f.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
}

func TestServerInfo(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/api/server", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]interface{}
	decode(t, resp.Data, &info)
	assert.Equal(t, "test", info["version"])
	assert.EqualValues(t, 3, info["sessions"])
	assert.EqualValues(t, 0, info["rooms_loaded"])
}

func TestListRooms(t *testing.T) {
	f := newFixture(t)
	_, err := f.rooms.GetOrLoad(context.Background(), 1)
	require.NoError(t, err)

	rec, resp := f.do(t, http.MethodGet, "/api/rooms", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list []RoomSummary
	decode(t, resp.Data, &list)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].ID)
	assert.True(t, list[0].Loaded)
	assert.Equal(t, "model_terrace", list[1].ModelID)
	assert.False(t, list[1].Loaded)
}

func TestGetRoom(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodGet, "/api/rooms/2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary RoomSummary
	decode(t, resp.Data, &summary)
	assert.Equal(t, "Terrace", summary.Name)

	rec, resp = f.do(t, http.MethodGet, "/api/rooms/42", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = f.do(t, http.MethodGet, "/api/rooms/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHeightmap(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodGet, "/api/rooms/1/heightmap", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var hm HeightmapResponse
	decode(t, resp.Data, &hm)
	assert.Equal(t, "model_a", hm.ModelID)
	assert.Equal(t, 12, hm.Width)
	assert.Equal(t, 15, hm.Height)
	assert.Len(t, hm.Rows, 15)
	assert.Equal(t, vec.Vec3{X: 3, Y: 5}, hm.Door)
	assert.Equal(t, "E", hm.DoorDirection)

	_, loaded := f.rooms.Get(1)
	assert.True(t, loaded, "heightmap request loads the room")

	rec, _ = f.do(t, http.MethodGet, "/api/rooms/42/heightmap", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEntitiesAndReservations(t *testing.T) {
	f := newFixture(t)

	// Незагруженная комната: пустые списки
	rec, resp := f.do(t, http.MethodGet, "/api/rooms/1/entities", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var views []EntityView
	decode(t, resp.Data, &views)
	assert.Empty(t, views)

	rm, err := f.rooms.GetOrLoad(context.Background(), 1)
	require.NoError(t, err)
	_, err = rm.Spawn(context.Background(), 5, "alice")
	require.NoError(t, err)

	_, resp = f.do(t, http.MethodGet, "/api/rooms/1/entities", "", "")
	decode(t, resp.Data, &views)
	require.Len(t, views, 1)
	assert.Equal(t, uint64(5), views[0].ID)
	assert.Equal(t, "alice", views[0].Name)
	assert.Equal(t, vec.Vec3{X: 3, Y: 5}, views[0].Position)

	assert.Eventually(t, func() bool {
		_, resp := f.do(t, http.MethodGet, "/api/rooms/1/reservations", "", "")
		var tiles []vec.Vec2
		decode(t, resp.Data, &tiles)
		return len(tiles) == 1 && tiles[0] == vec.Vec2{X: 3, Y: 5}
	}, time.Second, 10*time.Millisecond)
}

func TestAdminTeleport(t *testing.T) {
	f := newFixture(t)
	rm, err := f.rooms.GetOrLoad(context.Background(), 1)
	require.NoError(t, err)
	e, err := rm.Spawn(context.Background(), 9, "bob")
	require.NoError(t, err)

	path := "/api/admin/rooms/1/entities/9/teleport"
	body := `{"x":6,"y":7}`

	rec, _ := f.do(t, http.MethodPost, path, "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, path, "garbage", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = f.do(t, http.MethodPost, path, f.token(t, false), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := f.token(t, true)
	rec, _ = f.do(t, http.MethodPost, "/api/admin/rooms/1/entities/99/teleport", admin, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodPost, path, admin, `{"x":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp := f.do(t, http.MethodPost, path, admin, body)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, resp.Success)

	assert.Eventually(t, func() bool {
		pos, err := e.GetPosition(context.Background())
		return err == nil && pos == vec.Vec3{X: 6, Y: 7}
	}, time.Second, 10*time.Millisecond)
}

func TestAdminUnload(t *testing.T) {
	f := newFixture(t)
	_, err := f.rooms.GetOrLoad(context.Background(), 2)
	require.NoError(t, err)
	admin := f.token(t, true)

	rec, _ := f.do(t, http.MethodDelete, "/api/admin/rooms/2", admin, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	_, loaded := f.rooms.Get(2)
	assert.False(t, loaded)
	assert.Equal(t, []int{2}, f.invalidated.ids, "definition re-read on next load")

	rec, _ = f.do(t, http.MethodDelete, "/api/admin/rooms/2", admin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/api/rooms/42", "", "")
	f.do(t, http.MethodGet, "/nowhere", "", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	text := rec.Body.String()
	assert.Contains(t, text, "room_admin_http_request_duration_seconds")
	assert.Contains(t, text, `path="/api/rooms/:id"`)
	assert.Contains(t, text, `path="unmatched"`)
}
