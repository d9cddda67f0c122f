package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/stock-count/internal/adapter/storage"
	"github.com/rl1809/stock-count/internal/core/domain"
	"github.com/rl1809/stock-count/internal/core/service"
	"github.com/rl1809/stock-count/internal/core/workflow"
)

var testNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	store  *storage.SQLStore
	svc    *service.CountService
	router *gin.Engine
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlx.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.ApplySchema(context.Background(), db))

	store := storage.NewSQLStore(db)
	now := testNow
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	svc, err := service.NewCountService(store, workflow.DefaultRegistry(), domain.DefaultPolicy(), service.WithClock(clock))
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.SaveItem(ctx, domain.InventoryItem{
		ID: "rice", Name: "Jasmine rice", Unit: "g", Workflow: domain.WorkflowContainerWeight,
		Params: domain.ItemParams{TypicalUnitWeight: 1},
	})
	require.NoError(t, err)
	_, err = svc.SaveItem(ctx, domain.InventoryItem{
		ID: "limes", Name: "Limes", Unit: "each", Workflow: domain.WorkflowUnitCount,
	})
	require.NoError(t, err)
	_, err = svc.RegisterContainer(ctx, domain.ContainerInstance{ID: "bin-1", Barcode: "BIN0001", TareWeight: 850})
	require.NoError(t, err)

	router := gin.New()
	NewHTTPHandler(svc, store).RegisterRoutes(router)
	return &testEnv{store: store, svc: svc, router: router}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if s, ok := body.(string); ok {
		buf.WriteString(s)
	} else if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func countBody(itemID, workflow, fields string) CountRequest {
	return CountRequest{ItemID: itemID, Workflow: workflow, Fields: json.RawMessage(fields), Actor: "sam"}
}

func TestSubmitCount(t *testing.T) {
	tests := []struct {
		name           string
		body           any
		expectedStatus int
		expectedState  string
	}{
		{
			name:           "container count committed",
			body:           countBody("rice", "container_weight", `{"container_instance_id":"bin-1","gross_weight":2350}`),
			expectedStatus: http.StatusCreated,
			expectedState:  "committed",
		},
		{
			name:           "missing container rejected",
			body:           countBody("rice", "container_weight", `{"gross_weight":2350}`),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedState:  "rejected",
		},
		{
			name:           "unknown item",
			body:           countBody("mint", "unit_count", `{"quantity":3}`),
			expectedStatus: http.StatusNotFound,
			expectedState:  "rejected",
		},
		{
			name:           "unknown container",
			body:           countBody("rice", "container_weight", `{"container_instance_id":"bin-404","gross_weight":2350}`),
			expectedStatus: http.StatusUnprocessableEntity,
			expectedState:  "rejected",
		},
		{
			name:           "unknown workflow",
			body:           countBody("rice", "by_eye", `{}`),
			expectedStatus: http.StatusConflict,
		},
		{
			name:           "malformed body",
			body:           `{"item_id":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestEnv(t)
			w, resp := env.do(t, http.MethodPost, "/api/counts", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code, w.Body.String())
			if tt.expectedState != "" {
				assert.Equal(t, tt.expectedState, resp["state"])
			}
		})
	}
}

func TestSubmitCount_ReportsQuantityAndMissingFields(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/counts",
		countBody("rice", "container_weight", `{"container_instance_id":"bin-1","gross_weight":2350}`))
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, true, resp["success"])
	assert.InDelta(t, 1500, resp["quantity"], 1e-9)
	assert.Equal(t, "committed", resp["disposition"])
	assert.NotEmpty(t, resp["record_id"])

	w, resp = env.do(t, http.MethodPost, "/api/counts", countBody("rice", "container_weight", `{"gross_weight":2350}`))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, []any{"container_instance_id"}, resp["missing_fields"])
	anomalies := resp["anomalies"].([]any)
	require.Len(t, anomalies, 1)
	first := anomalies[0].(map[string]any)
	assert.Equal(t, "missing_required_field", first["type"])
	assert.NotEmpty(t, first["message"])
	assert.NotEmpty(t, first["suggested_action"])
}

func TestSubmitCount_HoldThenOverride(t *testing.T) {
	env := setupTestEnv(t)

	w, _ := env.do(t, http.MethodPost, "/api/counts", countBody("limes", "unit_count", `{"quantity":100}`))
	require.Equal(t, http.StatusCreated, w.Code)

	w, resp := env.do(t, http.MethodPost, "/api/counts", countBody("limes", "unit_count", `{"quantity":60}`))
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "awaiting_confirmation", resp["state"])
	assert.Equal(t, false, resp["success"])
	anomalies := resp["anomalies"].([]any)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "significant_variance", anomalies[0].(map[string]any)["type"])

	override := countBody("limes", "unit_count", `{"quantity":60}`)
	override.AnomalyOverride = true
	override.OverrideNotes = "garnish prep for a private event"
	w, resp = env.do(t, http.MethodPost, "/api/counts", override)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "committed_with_override", resp["disposition"])

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/items/limes/counts?limit=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var history []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 2)
	assert.Equal(t, "committed_with_override", history[0]["disposition"])
}

func TestSubmitCount_Duplicate(t *testing.T) {
	env := setupTestEnv(t)

	body := countBody("rice", "container_weight", `{"container_instance_id":"bin-1","gross_weight":2350}`)
	body.SubmissionID = "sub-7"
	w, _ := env.do(t, http.MethodPost, "/api/counts", body)
	require.Equal(t, http.StatusCreated, w.Code)

	// Without a locker the store's unique submission id rejects the replay.
	w, _ = env.do(t, http.MethodPost, "/api/counts", body)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestItemAdministration(t *testing.T) {
	env := setupTestEnv(t)

	w, _ := env.do(t, http.MethodPut, "/api/items/flour", ItemRequest{Name: "Flour", Unit: "g", Workflow: "container_weight"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp := env.do(t, http.MethodPut, "/api/items/flour", ItemRequest{
		Name: "Flour", Unit: "g", Workflow: "container_weight", Params: domain.ItemParams{TypicalUnitWeight: 1},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp["active"])

	w, _ = env.do(t, http.MethodDelete, "/api/items/limes", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/counts", countBody("limes", "unit_count", `{"quantity":3}`))
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = env.do(t, http.MethodDelete, "/api/items/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	env := setupTestEnv(t)

	w, resp := env.do(t, http.MethodPost, "/api/containers", ContainerRequest{ID: "bin-2", Barcode: "BIN0002", TareWeight: 400})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "current", resp["verification_status"])

	w, _ = env.do(t, http.MethodPost, "/api/containers", ContainerRequest{ID: "bin-3", TareWeight: -1})
	assert.Equal(t, http.StatusConflict, w.Code)

	tare := 410.0
	w, resp = env.do(t, http.MethodPost, "/api/containers/bin-2/reweigh", ReweighRequest{TareWeight: &tare})
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, 410, resp["tare_weight"], 1e-9)

	w, _ = env.do(t, http.MethodPost, "/api/containers/bin-404/reweigh", ReweighRequest{TareWeight: &tare})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/containers/bin-2/reweigh", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = env.do(t, http.MethodPost, "/api/kegs/lager/tap", TapRequest{TapDate: testNow.AddDate(0, 0, -1)})
	require.Equal(t, http.StatusOK, w.Code)
	keg, err := env.store.GetKegState(context.Background(), "lager")
	require.NoError(t, err)
	require.NotNil(t, keg)

	w, _ = env.do(t, http.MethodPost, "/api/batches/SOUP-1/start", BatchRequest{ItemID: "soup", BatchDate: testNow})
	require.Equal(t, http.StatusOK, w.Code)
	batch, err := env.store.GetBatchState(context.Background(), "SOUP-1")
	require.NoError(t, err)
	require.NotNil(t, batch)
}

func TestHealthCheck(t *testing.T) {
	env := setupTestEnv(t)
	w, resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", resp["status"])
}
