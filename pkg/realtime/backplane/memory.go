package backplane

import (
	"context"
	"sync"
)

// MemoryBus 进程内总线，一个 Bus 上的多个 Node 模拟多个进程
type MemoryBus struct {
	mu    sync.RWMutex
	nodes map[*memoryNode]Handler
}

// NewMemoryBus 创建进程内总线
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{nodes: make(map[*memoryNode]Handler)}
}

// Node 创建一个挂在总线上的节点
func (b *MemoryBus) Node() Backplane {
	return &memoryNode{bus: b}
}

type memoryNode struct {
	bus *MemoryBus
}

func (n *memoryNode) Name() string { return string(DriverMemory) }

// Publish 同步投递给所有已订阅节点，经过一次编解码以模拟线上传输
func (n *memoryNode) Publish(ctx context.Context, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	n.bus.mu.RLock()
	handlers := make([]Handler, 0, len(n.bus.nodes))
	for _, h := range n.bus.nodes {
		handlers = append(handlers, h)
	}
	n.bus.mu.RUnlock()

	for _, h := range handlers {
		copied, err := Decode(data)
		if err != nil {
			return err
		}
		h(ctx, copied)
	}
	return nil
}

func (n *memoryNode) Subscribe(_ context.Context, h Handler) error {
	n.bus.mu.Lock()
	n.bus.nodes[n] = h
	n.bus.mu.Unlock()
	return nil
}

func (n *memoryNode) Close() error {
	n.bus.mu.Lock()
	delete(n.bus.nodes, n)
	n.bus.mu.Unlock()
	return nil
}
