package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/engine"
	"github.com/talgya/collective/internal/world"
)

const testKey = "secret"

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	opts := engine.DefaultOptions()
	opts.Rates = agents.Rates{}
	col, err := engine.NewCollective(world.Generate(world.SmallTestConfig()), opts)
	require.NoError(t, err)
	s, err := NewServer(col, engine.NewEngine(0, time.Second), nil)
	require.NoError(t, err)
	s.AdminKey = testKey
	return s, s.Handler()
}

func post(t *testing.T, h http.Handler, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func get(t *testing.T, h http.Handler, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}
	return rec
}

func TestStatus(t *testing.T) {
	s, h := newTestServer(t)
	s.Col.Tick(61)

	var resp map[string]any
	rec := get(t, h, "/api/v1/status", &resp)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 61, resp["tick"])
	assert.Equal(t, "Day 1, 1:01", resp["sim_time"])
	assert.EqualValues(t, 1, resp["speed"])
}

func TestOrdersNeedAuth(t *testing.T) {
	s, h := newTestServer(t)
	order := map[string]any{"type": "research"}

	assert.Equal(t, http.StatusUnauthorized, post(t, h, "/api/v1/orders", "wrong", order).Code)

	s.AdminKey = ""
	assert.Equal(t, http.StatusForbidden, post(t, h, "/api/v1/orders", "", order).Code)
}

func TestDigOrderListedAsTask(t *testing.T) {
	s, h := newTestServer(t)
	loc := world.HexCoord{Q: 4, R: 0}
	s.Col.Map.Get(loc).Terrain = world.TerrainRock

	order := map[string]any{"type": "dig", "at": loc}
	require.Equal(t, http.StatusOK, post(t, h, "/api/v1/orders", testKey, order).Code)
	assert.Equal(t, http.StatusConflict, post(t, h, "/api/v1/orders", testKey, order).Code)

	floor := map[string]any{"type": "dig", "at": world.HexCoord{}}
	assert.Equal(t, http.StatusUnprocessableEntity, post(t, h, "/api/v1/orders", testKey, floor).Code)

	var views []engine.TaskView
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/tasks?kind=dig", &views).Code)
	require.Len(t, views, 1)
	assert.Equal(t, loc, views[0].Location)
}

func TestBadOrders(t *testing.T) {
	_, h := newTestServer(t)
	for _, order := range []map[string]any{
		{"type": "launch"},
		{"type": "dig"},
		{"type": "recruit", "category": "dragon"},
		{"type": "selection", "mode": "dig"},
		{"type": "duty", "agent": 1, "duty": "execute"},
	} {
		assert.Equal(t, http.StatusBadRequest, post(t, h, "/api/v1/orders", testKey, order).Code, order)
	}
	assert.Equal(t, http.StatusNotFound,
		post(t, h, "/api/v1/orders", testKey, map[string]any{"type": "assign", "agent": 99, "activity": "sleep"}).Code)
}

func TestRecruitOrder(t *testing.T) {
	s, h := newTestServer(t)
	s.Col.Resources.AddCredit(economy.ResourceGold, 100)

	rec := post(t, h, "/api/v1/orders", testKey, map[string]any{"type": "recruit", "category": "minion"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var agentsResp []engine.AgentState
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/agents?category=minion", &agentsResp).Code)
	require.Len(t, agentsResp, 1)
	assert.Equal(t, agents.CategoryMinion, agentsResp[0].Category)

	var ledger struct {
		Resources []engine.ResourceView `json:"resources"`
	}
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/ledger", &ledger).Code)
	assert.Equal(t, 80, ledger.Resources[economy.ResourceGold].Credit)

	var events []engine.Event
	require.Equal(t, http.StatusOK, get(t, h, "/api/v1/events?category=recruit", &events).Code)
	assert.Len(t, events, 1)
}

func TestSelectionOrder(t *testing.T) {
	s, h := newTestServer(t)
	a, b := world.HexCoord{Q: 4, R: 0}, world.HexCoord{Q: 4, R: -1}
	s.Col.Map.Get(a).Terrain = world.TerrainRock
	s.Col.Map.Get(b).Terrain = world.TerrainRock

	order := map[string]any{"type": "selection", "mode": "dig", "locations": []world.HexCoord{a, b}}
	var resp map[string]any
	rec := post(t, h, "/api/v1/orders", testKey, order)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "dig", resp["mode"])
	assert.EqualValues(t, 2, resp["applied"])

	rec = post(t, h, "/api/v1/orders", testKey, order)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "cancel_dig", resp["mode"])
	assert.Equal(t, 0, s.Col.Pool.Len())
}

func TestSpeed(t *testing.T) {
	s, h := newTestServer(t)
	require.Equal(t, http.StatusOK, post(t, h, "/api/v1/speed", testKey, map[string]float64{"speed": 4}).Code)
	assert.Equal(t, 4.0, s.Eng.Speed())
	assert.Equal(t, http.StatusBadRequest, post(t, h, "/api/v1/speed", testKey, map[string]float64{"speed": -1}).Code)
}

func TestSnapshotWithoutDB(t *testing.T) {
	_, h := newTestServer(t)
	assert.Equal(t, http.StatusServiceUnavailable, post(t, h, "/api/v1/snapshot", testKey, struct{}{}).Code)
}

func TestAdminRateLimited(t *testing.T) {
	s, _ := newTestServer(t)
	s.RateLimit = 2
	h := s.Handler()
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, post(t, h, "/api/v1/speed", testKey, map[string]float64{"speed": 1}).Code)
	}
	rec := post(t, h, "/api/v1/speed", testKey, map[string]float64{"speed": 1})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Reads are not limited.
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/status", nil).Code)
}

func TestMetrics(t *testing.T) {
	s, h := newTestServer(t)
	s.Col.Spawn(agents.CategoryWorker, world.HexCoord{})
	s.Col.Tick(1)

	rec := get(t, h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `collective_agents_alive{category="worker"} 1`)
	assert.Contains(t, string(body), "collective_tick 1")
	assert.Contains(t, string(body), `collective_resources{kind="gold"}`)
}

func TestStreamDeliversEvents(t *testing.T) {
	s, h := newTestServer(t)
	ts := httptest.NewServer(h)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	s.Col.Resources.AddCredit(economy.ResourceGold, 100)
	_, err = s.Col.Recruit(agents.CategoryWorker)
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e engine.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, "recruit", e.Category)
}
