// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 The aps-m2000-power-analyzer Authors

package sink

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bob10042/aps-m2000-power-analyzer/pkg/session"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_ConfigDataStatus(t *testing.T) {
	hub := NewHub(WithConfig(func() ConfigMessage {
		return ConfigMessage{Interface: "sim", Channels: []string{"CH1"}, Parameters: []string{"V", "A"}, SampleRate: 2, Connected: true}
	}))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dialHub(t, srv)

	cfg := readJSON(t, conn)
	assert.Equal(t, TypeConfig, cfg["type"])
	assert.Equal(t, 2.0, cfg["sample_rate"])
	assert.Equal(t, true, cfg["connected"])
	assert.Equal(t, 1, hub.Clients())

	require.NoError(t, hub.Write(testRecord(3)))
	data := readJSON(t, conn)
	assert.Equal(t, TypeData, data["type"])
	assert.Equal(t, 3.0, data["sample_count"])
	ch1 := data["measurements"].(map[string]any)["CH1"].(map[string]any)
	v := ch1["V"].(map[string]any)
	assert.Equal(t, 230.5, v["raw"])
	assert.Equal(t, "230.500 V", v["formatted"])
	a := ch1["A"].(map[string]any)
	assert.Nil(t, a["raw"])
	assert.Equal(t, "--- A", a["formatted"])

	hub.PublishStatus(session.StatusFailed, errors.New("no reply"))
	status := readJSON(t, conn)
	assert.Equal(t, TypeStatus, status["type"])
	assert.Equal(t, "failed", status["status"])
	assert.Equal(t, "no reply", status["error"])
}

func TestHub_LateClientGetsLastRecord(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	require.NoError(t, hub.Write(testRecord(9)))

	conn := dialHub(t, srv)
	data := readJSON(t, conn)
	assert.Equal(t, TypeData, data["type"])
	assert.Equal(t, 9.0, data["sample_count"])
}

func TestHub_Requests(t *testing.T) {
	type configure struct {
		SampleRate float64 `json:"sample_rate"`
	}
	hub := NewHub(WithRequestHandler(func(req Request) any {
		if req.Type != "configure" {
			return nil
		}
		var c configure
		if err := json.Unmarshal(req.Params, &c); err != nil {
			return map[string]any{"type": "configure_response", "success": false}
		}
		return map[string]any{"type": "configure_response", "success": true, "sample_rate": c.SampleRate}
	}))
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	conn := dialHub(t, srv)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ignored"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "configure", "sample_rate": 5}))

	resp := readJSON(t, conn)
	assert.Equal(t, "configure_response", resp["type"])
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, 5.0, resp["sample_rate"])
}

func TestHub_ClientLeaves(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dialHub(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 10*time.Millisecond)

	// Broadcasting with nobody listening is fine
	require.NoError(t, hub.Write(testRecord(1)))
	require.NoError(t, hub.Close())
}
