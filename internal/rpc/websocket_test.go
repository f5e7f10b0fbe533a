package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/latticefin/rtdb/internal/telemetry"
)

type fakeProducer struct {
	samples []telemetry.Sample
}

func (f *fakeProducer) Sample() []telemetry.Sample { return f.samples }

func newTelemetryTestServer(t *testing.T, tickFloor time.Duration, samples ...telemetry.Sample) (*Server, *httptest.Server) {
	t.Helper()
	dispatcher := telemetry.NewDispatcher(tickFloor)
	dispatcher.RegisterProducer(telemetry.App, &fakeProducer{samples: samples})
	s := NewServer(nil, nil, dispatcher, nil)
	s.wsHub = NewWSHub(s.dispatcher, s.alerts)
	go s.wsHub.Run()

	server := httptest.NewServer(http.HandlerFunc(s.handleWS))
	t.Cleanup(server.Close)
	return s, server
}

func dialTestWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSClientReceivesImmediateSnapshotOnZeroInterval(t *testing.T) {
	_, server := newTelemetryTestServer(t, 10*time.Millisecond,
		telemetry.Sample{Key: "app-1", Data: telemetry.AppRecord{Name: "app-1", Value: "42"}},
	)
	conn := dialTestWS(t, server)

	req := SubscribeRequest{Action: "subscribe", Type: telemetry.App, Filter: "*", IntervalMS: 0}
	payload, _ := json.Marshal(req)
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var frame telemetry.Frame
	if err := json.Unmarshal(msg, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != telemetry.App || frame.Key != "app-1" {
		t.Fatalf("frame = %+v", frame)
	}
}

func TestWSClientFiltersByGlob(t *testing.T) {
	_, server := newTelemetryTestServer(t, 10*time.Millisecond,
		telemetry.Sample{Key: "app-1", Data: telemetry.AppRecord{Name: "app-1", Value: "42"}},
		telemetry.Sample{Key: "other-1", Data: telemetry.AppRecord{Name: "other-1", Value: "1"}},
	)
	conn := dialTestWS(t, server)

	req := SubscribeRequest{Action: "subscribe", Type: telemetry.App, Filter: "app-*", IntervalMS: 0}
	payload, _ := json.Marshal(req)
	conn.WriteMessage(websocket.TextMessage, payload)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var frame telemetry.Frame
	json.Unmarshal(msg, &frame)
	if frame.Key != "app-1" {
		t.Fatalf("frame.Key = %q, want app-1", frame.Key)
	}

	// The zero-interval snapshot channel is closed after delivering its
	// matches; the unmatched "other-1" sample must never arrive.
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no second frame")
	}
}

func TestWSClientUnsubscribeStopsDelivery(t *testing.T) {
	_, server := newTelemetryTestServer(t, 5*time.Millisecond,
		telemetry.Sample{Key: "app-1", Data: telemetry.AppRecord{Name: "app-1", Value: "1"}},
	)
	conn := dialTestWS(t, server)

	sub := SubscribeRequest{Action: "subscribe", Type: telemetry.App, Filter: "*", IntervalMS: 5}
	payload, _ := json.Marshal(sub)
	conn.WriteMessage(websocket.TextMessage, payload)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read first frame: %v", err)
	}

	unsub := SubscribeRequest{Action: "unsubscribe", Type: telemetry.App, Filter: "*"}
	payload, _ = json.Marshal(unsub)
	conn.WriteMessage(websocket.TextMessage, payload)

	// Give the registry time to stop the ticker, then confirm no more
	// frames arrive within a short window.
	time.Sleep(50 * time.Millisecond)
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no further frames after unsubscribe")
	}
}
