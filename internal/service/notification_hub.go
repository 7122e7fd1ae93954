package service

import (
	"context"
	"encoding/json"
	"fmt"
	"k12_agent_backend/internal/util"
	"k12_agent_backend/pkg/logger"
	"k12_agent_backend/pkg/monitoring"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	shardCount     = 32
	onlineTTL      = 2 * time.Minute // 在线状态过期时间
	clientSendSize = 64
)

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type hubClient struct {
	hub     *NotificationHub
	conn    *websocket.Conn
	send    chan []byte
	userID  uint
	limiter *rate.Limiter
}

func (c *hubClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Log.Warn("WebSocket unexpected close", zap.Error(err), zap.Uint("userId", c.userID))
			}
			return
		}

		// 客户端只发送 ACK，超出速率直接丢弃
		if !c.limiter.Allow() {
			continue
		}
		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ACK" {
			logger.Log.Debug("Notification acknowledged", zap.Uint("userId", c.userID), zap.Any("data", msg.Data))
		}
	}
}

func (c *hubClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type shard struct {
	clients map[uint]*hubClient
	mu      sync.RWMutex
}

type pubSubMessage struct {
	TargetUsers []uint          `json:"targetUsers"`
	Payload     json.RawMessage `json:"payload"`
}

// NotificationHub 通过 websocket 推送通知；配置 Redis 时经 pub/sub 在多实例间转发
type NotificationHub struct {
	shards     [shardCount]*shard
	register   chan *hubClient
	unregister chan *hubClient
	rdb        *redis.Client
	upgrader   websocket.Upgrader

	stopOnce sync.Once
	stopped  chan struct{}
}

func NewNotificationHub(rdb *redis.Client, checkOrigin func(origin string) bool) *NotificationHub {
	h := &NotificationHub{
		register:   make(chan *hubClient),
		unregister: make(chan *hubClient),
		rdb:        rdb,
		stopped:    make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || checkOrigin == nil || checkOrigin(origin)
		},
	}
	for i := 0; i < shardCount; i++ {
		h.shards[i] = &shard{clients: make(map[uint]*hubClient)}
	}
	return h
}

func (h *NotificationHub) getShard(userID uint) *shard {
	return h.shards[userID%shardCount]
}

func onlineKey(userID uint) string {
	return fmt.Sprintf("%s:%d", util.OnlineUsersKey, userID)
}

// Run 处理连接注册与在线状态续期，ctx 取消后退出
func (h *NotificationHub) Run(ctx context.Context) {
	if h.rdb != nil {
		pubsub := h.rdb.Subscribe(ctx, util.NotificationChannel)
		defer pubsub.Close()
		go func() {
			for msg := range pubsub.Channel() {
				var psMsg pubSubMessage
				if err := json.Unmarshal([]byte(msg.Payload), &psMsg); err != nil {
					logger.Log.Error("PubSub unmarshal error", zap.Error(err))
					continue
				}
				h.pushToLocalUsers(psMsg.TargetUsers, psMsg.Payload)
			}
		}()
	}

	heartbeatTicker := time.NewTicker(time.Minute)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stopped:
			return
		case client := <-h.register:
			s := h.getShard(client.userID)
			s.mu.Lock()
			if old, ok := s.clients[client.userID]; ok {
				close(old.send)
			} else {
				monitoring.NotificationOnlineUsers.Inc()
			}
			s.clients[client.userID] = client
			s.mu.Unlock()
			h.setOnline(ctx, client.userID, true)

		case client := <-h.unregister:
			s := h.getShard(client.userID)
			s.mu.Lock()
			removed := false
			if cur, ok := s.clients[client.userID]; ok && cur == client {
				delete(s.clients, client.userID)
				close(client.send)
				removed = true
				monitoring.NotificationOnlineUsers.Dec()
			}
			s.mu.Unlock()
			if removed {
				h.setOnline(ctx, client.userID, false)
			}

		case <-heartbeatTicker.C:
			h.refreshOnlineStatus(ctx)
		}
	}
}

func (h *NotificationHub) setOnline(ctx context.Context, userID uint, online bool) {
	if h.rdb == nil {
		return
	}
	var err error
	if online {
		err = h.rdb.Set(ctx, onlineKey(userID), "true", onlineTTL).Err()
	} else {
		err = h.rdb.Del(ctx, onlineKey(userID)).Err()
	}
	if err != nil {
		logger.Log.Warn("Failed to update online status", zap.Uint("userId", userID), zap.Error(err))
	}
}

// refreshOnlineStatus 刷新当前实例所有在线用户的过期时间
func (h *NotificationHub) refreshOnlineStatus(ctx context.Context) {
	if h.rdb == nil {
		return
	}
	pipe := h.rdb.Pipeline()
	count := 0
	for i := 0; i < shardCount; i++ {
		s := h.shards[i]
		s.mu.RLock()
		for userID := range s.clients {
			pipe.Expire(ctx, onlineKey(userID), onlineTTL)
			count++
		}
		s.mu.RUnlock()
	}
	if count > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Log.Warn("Failed to refresh online status", zap.Error(err))
		}
	}
}

// Deliver 实现 NotificationSubscriber
func (h *NotificationHub) Deliver(ctx context.Context, event NotificationEvent) error {
	return h.PushToUsers(ctx, []uint{event.RecipientID}, WSMessage{Type: "AGENT_NOTIFICATION", Data: event})
}

func (h *NotificationHub) PushToUsers(ctx context.Context, userIDs []uint, msg WSMessage) error {
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if h.rdb == nil {
		h.pushToLocalUsers(userIDs, msgBytes)
		return nil
	}
	payload, err := json.Marshal(pubSubMessage{TargetUsers: userIDs, Payload: msgBytes})
	if err != nil {
		return err
	}
	return h.rdb.Publish(ctx, util.NotificationChannel, payload).Err()
}

func (h *NotificationHub) pushToLocalUsers(userIDs []uint, payload []byte) {
	for _, id := range userIDs {
		s := h.getShard(id)
		s.mu.RLock()
		if client, ok := s.clients[id]; ok {
			select {
			case client.send <- payload:
			default:
			}
		}
		s.mu.RUnlock()
	}
}

func (h *NotificationHub) IsUserOnline(ctx context.Context, userID uint) bool {
	s := h.getShard(userID)
	s.mu.RLock()
	_, ok := s.clients[userID]
	s.mu.RUnlock()
	if ok || h.rdb == nil {
		return ok
	}

	// 多实例部署时查 Redis
	val, err := h.rdb.Get(ctx, onlineKey(userID)).Result()
	return err == nil && val == "true"
}

// Stop 关闭所有连接并清理在线状态
func (h *NotificationHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopped)

		var userIDs []uint
		for i := 0; i < shardCount; i++ {
			s := h.shards[i]
			s.mu.Lock()
			for userID, client := range s.clients {
				userIDs = append(userIDs, userID)
				close(client.send)
				delete(s.clients, userID)
			}
			s.mu.Unlock()
		}

		if h.rdb != nil && len(userIDs) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			pipe := h.rdb.Pipeline()
			for _, userID := range userIDs {
				pipe.Del(ctx, onlineKey(userID))
			}
			pipe.Exec(ctx)
		}

		monitoring.NotificationOnlineUsers.Set(0)
		logger.Log.Info("NotificationHub stopped", zap.Int("closedConnections", len(userIDs)))
	})
}

func (h *NotificationHub) ServeWs(w http.ResponseWriter, r *http.Request, userID uint) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Error("WebSocket upgrade failed", zap.Error(err), zap.Uint("userId", userID))
		return
	}
	client := &hubClient{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, clientSendSize),
		userID:  userID,
		limiter: rate.NewLimiter(rate.Limit(5), 10),
	}
	select {
	case h.register <- client:
	case <-h.stopped:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
