package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ctf-forge/internal/shared/eventbus"
)

// newGatewayServer 只挂事件网关的测试服务器
func newGatewayServer(t *testing.T) (*httptest.Server, eventbus.JobBus) {
	t.Helper()
	bus := eventbus.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })

	gateway := NewEventGateway(bus, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/jobs/{id}/events", gateway.HandleWebSocket)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, bus
}

func dialWS(t *testing.T, server *httptest.Server, jobID, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/jobs/" + jobID + "/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// wsFrame 网关推送消息
type wsFrame struct {
	Type string                 `json:"type"`
	Data map[string]interface{} `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var frame wsFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func publish(t *testing.T, bus eventbus.JobBus, jobID string, seq int, eventType string) {
	t.Helper()
	err := bus.Publish(context.Background(), jobID, &eventbus.StreamEvent{
		JobID: jobID,
		Seq:   seq,
		Type:  eventType,
	})
	if err != nil {
		t.Fatalf("publish event: %v", err)
	}
}

func TestWebSocket_LiveEvents(t *testing.T) {
	server, bus := newGatewayServer(t)
	conn := dialWS(t, server, "job-1", "")

	// 连接建立后发布的事件应实时推送
	time.Sleep(100 * time.Millisecond)
	publish(t, bus, "job-1", 1, eventbus.EventIteration)
	publish(t, bus, "job-1", 2, eventbus.EventToolCall)

	frame := readFrame(t, conn)
	if frame.Type != "event" || frame.Data["type"] != eventbus.EventIteration {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	frame = readFrame(t, conn)
	if frame.Data["type"] != eventbus.EventToolCall {
		t.Fatalf("unexpected frame: %+v", frame)
	}
}

func TestWebSocket_ReplayFromSeq(t *testing.T) {
	server, bus := newGatewayServer(t)

	publish(t, bus, "job-1", 1, eventbus.EventJobStarted)
	publish(t, bus, "job-1", 2, eventbus.EventIteration)
	publish(t, bus, "job-1", 3, eventbus.EventToolCall)

	conn := dialWS(t, server, "job-1", "?from_seq=1")

	// 回放 seq > 1 的历史事件
	frame := readFrame(t, conn)
	if frame.Data["type"] != eventbus.EventIteration {
		t.Fatalf("expected iteration, got %+v", frame)
	}
	frame = readFrame(t, conn)
	if frame.Data["type"] != eventbus.EventToolCall {
		t.Fatalf("expected tool_call, got %+v", frame)
	}
}

func TestWebSocket_TerminalSendsStatusAndCloses(t *testing.T) {
	server, bus := newGatewayServer(t)
	conn := dialWS(t, server, "job-1", "")

	time.Sleep(100 * time.Millisecond)
	publish(t, bus, "job-1", 1, eventbus.EventJobCompleted)

	frame := readFrame(t, conn)
	if frame.Type != "event" || frame.Data["type"] != eventbus.EventJobCompleted {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	frame = readFrame(t, conn)
	if frame.Type != "status" || frame.Data["status"] != eventbus.EventJobCompleted {
		t.Fatalf("expected status frame, got %+v", frame)
	}

	// 服务端随后关闭连接
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var extra wsFrame
	if err := conn.ReadJSON(&extra); err == nil {
		t.Fatalf("expected connection close, got frame %+v", extra)
	}
}

func TestWebSocket_PingPong(t *testing.T) {
	server, _ := newGatewayServer(t)
	conn := dialWS(t, server, "job-1", "")

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}

	frame := readFrame(t, conn)
	if frame.Type != "pong" {
		t.Fatalf("expected pong, got %+v", frame)
	}
}

func TestWebSocket_MultipleSubscribers(t *testing.T) {
	server, bus := newGatewayServer(t)
	conn1 := dialWS(t, server, "job-1", "")
	conn2 := dialWS(t, server, "job-1", "")

	time.Sleep(100 * time.Millisecond)
	publish(t, bus, "job-1", 1, eventbus.EventIteration)

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		frame := readFrame(t, conn)
		if frame.Data["type"] != eventbus.EventIteration {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	}
}
