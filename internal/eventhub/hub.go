package eventhub

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Event names.
const (
	OperationRecorded = "operation:recorded"
	HistoryChanged    = "history:changed"
	SnapshotCreated   = "snapshot:created"
)

// Broadcaster 事件广播接口
type Broadcaster interface {
	BroadcastEvent(eventType string, payload interface{})
}

// EventHub 统一事件分发中心
type EventHub struct {
	mu           sync.RWMutex
	broadcasters []Broadcaster
}

// New 创建新的 EventHub
func New() *EventHub {
	return &EventHub{}
}

// AddBroadcaster registers a receiver for every emitted event.
func (h *EventHub) AddBroadcaster(b Broadcaster) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcasters = append(h.broadcasters, b)
}

// emit 统一的事件发送方法. A nil hub drops the event.
func (h *EventHub) emit(eventName string, payload interface{}) {
	if h == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, b := range h.broadcasters {
		b.BroadcastEvent(eventName, payload)
	}
}

// Emit 通用事件发送方法
func (h *EventHub) Emit(eventName string, payload interface{}) {
	h.emit(eventName, payload)
}

// 操作相关事件
type OperationRecordedEvent struct {
	WorkspaceID string `json:"workspaceId"`
	OperationID string `json:"operationId"`
	Type        string `json:"type"`
	SnapshotID  string `json:"snapshotId,omitempty"`
	Reversible  bool   `json:"reversible"`
}

func (h *EventHub) EmitOperationRecorded(event OperationRecordedEvent) {
	h.emit(OperationRecorded, event)
}

// 历史游标变化事件
type HistoryChangedEvent struct {
	WorkspaceID  string `json:"workspaceId"`
	Action       string `json:"action"` // "undo", "redo"
	Steps        int    `json:"steps"`
	CurrentIndex int    `json:"currentIndex"`
	CanUndo      bool   `json:"canUndo"`
	CanRedo      bool   `json:"canRedo"`
}

func (h *EventHub) EmitHistoryChanged(event HistoryChangedEvent) {
	h.emit(HistoryChanged, event)
}

// 快照相关事件
type SnapshotCreatedEvent struct {
	WorkspaceID string `json:"workspaceId"`
	SnapshotID  string `json:"snapshotId"`
	OperationID string `json:"operationId"`
	Description string `json:"description,omitempty"`
}

func (h *EventHub) EmitSnapshotCreated(event SnapshotCreatedEvent) {
	h.emit(SnapshotCreated, event)
}

// WriterBroadcaster writes each event as one JSON line.
type WriterBroadcaster struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterBroadcaster creates a WriterBroadcaster on w.
func NewWriterBroadcaster(w io.Writer) *WriterBroadcaster {
	return &WriterBroadcaster{enc: json.NewEncoder(w)}
}

func (w *WriterBroadcaster) BroadcastEvent(eventType string, payload interface{}) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// 写入失败不影响主流程
	_ = w.enc.Encode(struct {
		Type    string      `json:"type"`
		Time    time.Time   `json:"time"`
		Payload interface{} `json:"payload"`
	}{eventType, time.Now(), payload})
}
