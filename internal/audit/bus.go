package audit

import "sync"

// Bus 日志发布订阅,订阅者缓冲区满时丢弃消息,不阻塞写入方
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan *Entry
	nextID      int
}

// NewBus 创建 Bus
func NewBus() *Bus {
	return &Bus{subscribers: make(map[int]chan *Entry)}
}

// Subscribe 订阅,返回只读通道与取消函数
func (b *Bus) Subscribe(buffer int) (<-chan *Entry, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *Entry, buffer)
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			close(ch)
		})
	}
}

// Publish 广播日志
func (b *Bus) Publish(e *Entry) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

// Len 当前订阅者数量
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
