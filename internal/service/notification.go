package service

import (
	"context"
	"k12_agent_backend/internal/model"
	"k12_agent_backend/pkg/logger"
	"k12_agent_backend/pkg/monitoring"
	"sync"
	"time"

	"go.uber.org/zap"
)

// NotificationEvent 跨角色通知
type NotificationEvent struct {
	ID            string                 `json:"id"`
	Trigger       string                 `json:"trigger"`
	StudentID     uint                   `json:"studentId"`
	RecipientID   uint                   `json:"recipientId"`
	RecipientRole model.UserRole         `json:"recipientRole"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}

type NotificationSubscriber interface {
	Deliver(ctx context.Context, event NotificationEvent) error
}

type SubscriberFunc func(ctx context.Context, event NotificationEvent) error

func (f SubscriberFunc) Deliver(ctx context.Context, event NotificationEvent) error {
	return f(ctx, event)
}

// NotificationBus 有界队列 + 单个投递协程；队列满时丢弃
type NotificationBus struct {
	queue chan NotificationEvent

	mu     sync.RWMutex
	subs   []NotificationSubscriber
	closed bool

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
}

func NewNotificationBus(buffer int) *NotificationBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &NotificationBus{
		queue: make(chan NotificationEvent, buffer),
		done:  make(chan struct{}),
	}
}

func (b *NotificationBus) Subscribe(sub NotificationSubscriber) {
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
}

// Publish 不阻塞，返回是否入队
func (b *NotificationBus) Publish(event NotificationEvent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return false
	}
	select {
	case b.queue <- event:
		return true
	default:
		monitoring.NotificationCounter.WithLabelValues(string(event.RecipientRole), "dropped").Inc()
		logger.Log.Warn("Notification queue full, dropping event",
			zap.String("trigger", event.Trigger), zap.Uint("recipientId", event.RecipientID))
		return false
	}
}

// Start 启动投递协程，多次调用只生效一次
func (b *NotificationBus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		go b.run(ctx)
	})
}

func (b *NotificationBus) run(ctx context.Context) {
	defer close(b.done)
	for event := range b.queue {
		b.deliver(ctx, event)
	}
}

func (b *NotificationBus) deliver(ctx context.Context, event NotificationEvent) {
	b.mu.RLock()
	subs := make([]NotificationSubscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := sub.Deliver(ctx, event); err != nil {
			monitoring.NotificationCounter.WithLabelValues(string(event.RecipientRole), "failed").Inc()
			logger.Log.Warn("Notification delivery failed",
				zap.String("trigger", event.Trigger), zap.Uint("recipientId", event.RecipientID), zap.Error(err))
			continue
		}
	}
	monitoring.NotificationCounter.WithLabelValues(string(event.RecipientRole), "delivered").Inc()
}

// Close 停止接收新事件，等待队列中的事件投递完
func (b *NotificationBus) Close() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.queue)
		b.mu.Unlock()
		b.startOnce.Do(func() { close(b.done) })
		<-b.done
	})
}

// ActivityRecorder 将通知写入 Agent 活动日志
func ActivityRecorder(store *KnowledgeStore) NotificationSubscriber {
	return SubscriberFunc(func(ctx context.Context, event NotificationEvent) error {
		return store.LogAgentActivity(ctx, event.RecipientID, string(event.RecipientRole), "notification", map[string]interface{}{
			"notification_id": event.ID,
			"trigger":         event.Trigger,
			"student_id":      event.StudentID,
			"payload":         event.Payload,
		})
	})
}
