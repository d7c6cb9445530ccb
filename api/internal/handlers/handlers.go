package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"hybrid-ids/internal/model"
	"hybrid-ids/internal/storage"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// AlertStreamer hands out live alert subscriptions
type AlertStreamer interface {
	SubscribeAlerts(filter storage.AlertFilter, buffer int) *storage.AlertSubscriber
	UnsubscribeAlerts(sub *storage.AlertSubscriber)
}

type Handlers struct {
	store    storage.Store
	streamer AlertStreamer
	rules    []model.Rule
	logger   *logrus.Logger
	upgrader websocket.Upgrader
}

func NewHandlers(store storage.Store, streamer AlertStreamer, rules []model.Rule, logger *logrus.Logger) *Handlers {
	return &Handlers{
		store:    store,
		streamer: streamer,
		rules:    rules,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins for development
				logger.Debugf("WebSocket origin check: %s", r.Header.Get("Origin"))
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes mounts the query API on router
func (h *Handlers) Routes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET", "OPTIONS")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/stream/alerts", h.StreamAlerts).Methods("GET")
	api.HandleFunc("/alerts", h.GetAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}", h.GetAlert).Methods("GET")
	api.HandleFunc("/stats", h.GetStats).Methods("GET")
	api.HandleFunc("/flows", h.GetFlows).Methods("GET")
	api.HandleFunc("/rules", h.GetRules).Methods("GET")
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Alerts handlers
func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	limit = storage.ClampLimit(limit)

	filter := storage.AlertFilter{
		Severity: r.URL.Query().Get("severity"),
		Type:     r.URL.Query().Get("type"),
	}

	alerts, err := h.store.LatestAlerts(r.Context(), limit, filter)
	if err != nil {
		h.logger.Errorf("Failed to list alerts: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list alerts")
		return
	}

	response := map[string]interface{}{
		"items": alerts,
		"total": len(alerts),
		"limit": limit,
	}

	writeJSON(w, http.StatusOK, response)
}

func (h *Handlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid alert id")
		return
	}

	alert, err := h.store.AlertByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Alert not found")
		return
	}
	if err != nil {
		h.logger.Errorf("Failed to load alert %d: %v", id, err)
		writeError(w, http.StatusInternalServerError, "Failed to load alert")
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// GetStats returns the alert count per severity
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.store.SeverityCounts(r.Context())
	if err != nil {
		h.logger.Errorf("Failed to count alerts: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to count alerts")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// Flows handlers
func (h *Handlers) GetFlows(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	limit = storage.ClampLimit(limit)

	flows, err := h.store.LatestFlows(r.Context(), limit)
	if err != nil {
		h.logger.Errorf("Failed to list flows: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to list flows")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": flows,
		"total": len(flows),
		"limit": limit,
	})
}

// Rules handlers
func (h *Handlers) GetRules(w http.ResponseWriter, r *http.Request) {
	rules := h.rules
	if rules == nil {
		rules = []model.Rule{}
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handlers) StreamAlerts(w http.ResponseWriter, r *http.Request) {
	if h.streamer == nil {
		writeError(w, http.StatusServiceUnavailable, "Alert streaming not available")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	sub := h.streamer.SubscribeAlerts(storage.AlertFilter{
		Severity: r.URL.Query().Get("severity"),
		Type:     r.URL.Query().Get("type"),
	}, 100)
	defer h.streamer.UnsubscribeAlerts(sub)
	h.logger.Debugf("Alert stream %s opened from %s", sub.ID, r.RemoteAddr)

	// Read messages (for pong and close)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case alert, ok := <-sub.Channel:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(alert); err != nil {
				h.logger.Errorf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-done:
			h.logger.Debugf("Alert stream %s closed", sub.ID)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
