package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hybrid-ids/internal/model"
	"hybrid-ids/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*httptest.Server, *storage.MemoryStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store := storage.NewMemoryStore(logger)
	h := NewHandlers(store, store, []model.Rule{{Name: "port_scan", Enabled: true}}, logger)
	router := mux.NewRouter()
	h.Routes(router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, store
}

func addAlert(t *testing.T, store *storage.MemoryStore, sec int, severity string) int64 {
	t.Helper()
	id, err := store.AddAlert(context.Background(), model.Alert{
		Time:       base.Add(time.Duration(sec) * time.Second),
		Type:       model.AlertTypePortScan,
		Severity:   severity,
		Confidence: 0.8,
		SrcIP:      model.StringPtr("10.0.0.5"),
		Evidence:   model.Evidence{"unique_dst_ports": 20},
	})
	require.NoError(t, err)
	return id
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv, _ := setup(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/health", &body))
	assert.Equal(t, map[string]string{"status": "ok"}, body)
}

func TestGetAlertsNewestFirst(t *testing.T) {
	srv, store := setup(t)
	addAlert(t, store, 1, model.SeverityHigh)
	addAlert(t, store, 3, model.SeverityHigh)
	addAlert(t, store, 3, model.SeverityMedium)

	var body struct {
		Items []struct {
			ID        int64                  `json:"id"`
			Time      string                 `json:"time"`
			AlertType string                 `json:"alert_type"`
			SrcIP     *string                `json:"src_ip"`
			DstIP     *string                `json:"dst_ip"`
			Evidence  map[string]interface{} `json:"evidence"`
		} `json:"items"`
		Total int `json:"total"`
		Limit int `json:"limit"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/alerts", &body))
	assert.Equal(t, 50, body.Limit)
	require.Len(t, body.Items, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{body.Items[0].ID, body.Items[1].ID, body.Items[2].ID})
	assert.Equal(t, "PORT_SCAN", body.Items[0].AlertType)
	assert.Equal(t, "2024-05-01T08:00:03Z", body.Items[0].Time)
	assert.Nil(t, body.Items[0].DstIP)
	assert.Equal(t, 20.0, body.Items[0].Evidence["unique_dst_ports"])

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/alerts?limit=1", &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, int64(3), body.Items[0].ID)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/alerts?limit=99999", &body))
	assert.Equal(t, storage.MaxAlertLimit, body.Limit)

	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/alerts?severity=MEDIUM", &body))
	require.Len(t, body.Items, 1)
	assert.Equal(t, int64(3), body.Items[0].ID)
}

func TestGetAlert(t *testing.T) {
	srv, store := setup(t)
	id := addAlert(t, store, 1, model.SeverityHigh)

	var alert map[string]interface{}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/alerts/1", &alert))
	assert.Equal(t, float64(id), alert["id"])
	assert.Equal(t, "HIGH", alert["severity"])

	var errBody map[string]string
	assert.Equal(t, http.StatusNotFound, getJSON(t, srv.URL+"/api/v1/alerts/42", &errBody))
	assert.Equal(t, "Alert not found", errBody["error"])
	assert.Equal(t, http.StatusBadRequest, getJSON(t, srv.URL+"/api/v1/alerts/abc", &errBody))
}

func TestGetStats(t *testing.T) {
	srv, store := setup(t)
	addAlert(t, store, 1, model.SeverityHigh)
	addAlert(t, store, 2, model.SeverityHigh)
	addAlert(t, store, 3, model.SeverityLow)

	var stats map[string]int64
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/stats", &stats))
	assert.Equal(t, map[string]int64{"HIGH": 2, "LOW": 1}, stats)
}

func TestGetFlowsAndRules(t *testing.T) {
	srv, store := setup(t)
	_, err := store.AddFlow(context.Background(), model.Flow{
		WindowStart: base,
		WindowEnd:   base.Add(10 * time.Second),
		SrcIP:       model.StringPtr("10.0.0.5"),
		PktCount:    3,
	})
	require.NoError(t, err)

	var flows struct {
		Items []map[string]interface{} `json:"items"`
	}
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/flows", &flows))
	require.Len(t, flows.Items, 1)
	assert.Equal(t, 3.0, flows.Items[0]["pkt_count"])
	assert.Contains(t, flows.Items[0], "features")

	var rules []model.Rule
	assert.Equal(t, http.StatusOK, getJSON(t, srv.URL+"/api/v1/rules", &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, "port_scan", rules[0].Name)
}

func TestStreamAlerts(t *testing.T) {
	srv, store := setup(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream/alerts?severity=HIGH"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return store.SubscriberCount() == 1 }, time.Second, 10*time.Millisecond)

	addAlert(t, store, 1, model.SeverityLow)
	id := addAlert(t, store, 2, model.SeverityHigh)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got storage.StoredAlert
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, id, got.ID)
	assert.Equal(t, model.SeverityHigh, got.Severity)

	conn.Close()
	assert.Eventually(t, func() bool { return store.SubscriberCount() == 0 }, time.Second, 10*time.Millisecond)
}
