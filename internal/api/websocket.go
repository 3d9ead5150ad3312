// Package api WebSocket 事件网关
//
// 事件网关提供实时事件推送能力，支持前端实时监控生成过程。
// 使用 WebSocket 协议，支持双向通信。
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ctf-forge/internal/shared/eventbus"
	"ctf-forge/pkg/logging"
)

// upgrader WebSocket 升级器配置
//
// CheckOrigin 当前允许所有来源，生产环境应限制。
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventGateway WebSocket 事件网关
//
// 事件网关负责：
//   - 管理 WebSocket 连接（按 Job 分组）
//   - 通过事件总线的订阅通道接收实时事件
//   - 断线重连时用 from_seq 回放历史事件
//   - 任务终态时发送状态通知并关闭
//
// 订阅通道与拉取队列相互独立：任意多个 WebSocket 观察者
// 不会消耗 SSE/轮询消费者的事件。
type EventGateway struct {
	bus     eventbus.JobBus
	logger  *logging.Logger
	clients map[string]map[*websocket.Conn]bool // 按 JobID 索引的客户端连接
	mu      sync.RWMutex
}

// NewEventGateway 创建事件网关实例
func NewEventGateway(bus eventbus.JobBus, logger *logging.Logger) *EventGateway {
	if logger == nil {
		logger = logging.Default("api")
	}
	return &EventGateway{
		bus:     bus,
		logger:  logger,
		clients: make(map[string]map[*websocket.Conn]bool),
	}
}

// ClientCount 返回指定 Job 的在线客户端数
func (g *EventGateway) ClientCount(jobID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients[jobID])
}

// HandleWebSocket 处理 WebSocket 连接请求
//
// 路由: GET /ws/jobs/{id}/events
//
// 查询参数：
//   - from_seq: 起始事件序号（可选），用于断线重连恢复
//
// 推送消息格式：
//
//	事件消息：{"type": "event", "data": {...}}
//	状态消息：{"type": "status", "data": {"status": "...", "seq": n}}
//
// 客户端消息：
//
//	心跳：{"type": "ping"} -> 响应 {"type": "pong"}
func (g *EventGateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		http.Error(w, "job_id required", http.StatusBadRequest)
		return
	}

	fromSeq, _ := strconv.Atoi(r.URL.Query().Get("from_seq"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	g.addClient(jobID, conn)
	defer g.removeClient(jobID, conn)

	log.Printf("WebSocket client connected for job %s", jobID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go g.readPump(conn, cancel)
	g.writePump(ctx, conn, jobID, fromSeq)
}

// addClient 添加客户端连接
func (g *EventGateway) addClient(jobID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.clients[jobID] == nil {
		g.clients[jobID] = make(map[*websocket.Conn]bool)
	}
	g.clients[jobID][conn] = true
}

// removeClient 移除客户端连接
func (g *EventGateway) removeClient(jobID string, conn *websocket.Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if clients, ok := g.clients[jobID]; ok {
		delete(clients, conn)
		if len(clients) == 0 {
			delete(g.clients, jobID)
		}
	}
}

// readPump 读取客户端消息
//
// 在独立 goroutine 中运行，处理客户端发送的消息：
//   - 心跳消息（ping）：响应 pong
//   - 连接关闭：取消上下文
func (g *EventGateway) readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		var req map[string]interface{}
		if json.Unmarshal(msg, &req) == nil {
			if req["type"] == "ping" {
				conn.WriteJSON(map[string]string{"type": "pong"})
			}
		}
	}
}

// writePump 向客户端推送事件
//
// 先回放 from_seq 之后的历史事件，然后切到订阅通道推实时事件：
//   - 每 30s 发送 ping 保持连接
//   - 任务终态时发送状态通知并退出
func (g *EventGateway) writePump(ctx context.Context, conn *websocket.Conn, jobID string, fromSeq int) {
	lastSeq := fromSeq

	// 断线重连恢复：回放历史事件
	if fromSeq >= 0 {
		events, err := g.bus.GetEvents(ctx, jobID, fromSeq, 1000)
		if err != nil {
			log.Printf("Failed to get events: %v", err)
		}
		for _, event := range events {
			if !g.writeEvent(conn, event) {
				return
			}
			if event.Seq > lastSeq {
				lastSeq = event.Seq
			}
			if eventbus.IsTerminal(event.Type) {
				g.writeStatus(conn, event)
				return
			}
		}
	}

	eventCh, err := g.bus.Subscribe(ctx, jobID)
	if err != nil {
		log.Printf("Failed to subscribe to event bus: %v", err)
		return
	}

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			// 回放与订阅交界处可能重复，按序号去重
			if event.Seq <= lastSeq {
				continue
			}
			if !g.writeEvent(conn, event) {
				return
			}
			lastSeq = event.Seq

			if eventbus.IsTerminal(event.Type) {
				g.writeStatus(conn, event)
				return
			}
		}
	}
}

// writeEvent 推送一条事件消息
func (g *EventGateway) writeEvent(conn *websocket.Conn, event *eventbus.StreamEvent) bool {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	msg := map[string]interface{}{
		"type": "event",
		"data": event,
	}
	if err := conn.WriteJSON(msg); err != nil {
		log.Printf("WebSocket write error: %v", err)
		return false
	}
	return true
}

// writeStatus 推送终态状态通知
func (g *EventGateway) writeStatus(conn *websocket.Conn, event *eventbus.StreamEvent) {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	conn.WriteJSON(map[string]interface{}{
		"type": "status",
		"data": map[string]interface{}{
			"status": event.Type,
			"seq":    event.Seq,
		},
	})
}
