package storage

import (
	"context"
	"strings"
	"sync"
)

// MemoryGateway keeps objects in process. Used for local runs and tests.
type MemoryGateway struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

func NewMemoryGateway(baseURL string) *MemoryGateway {
	return &MemoryGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		objects: make(map[string]memoryObject),
	}
}

func (g *MemoryGateway) Name() string { return "memory" }

func (g *MemoryGateway) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	cp := make([]byte, len(data))
	copy(cp, data)

	g.mu.Lock()
	g.objects[key] = memoryObject{data: cp, contentType: contentType}
	g.mu.Unlock()
	return Object{Key: key, URL: g.baseURL + "/" + key}, nil
}

func (g *MemoryGateway) Delete(ctx context.Context, key string) error {
	g.mu.Lock()
	delete(g.objects, key)
	g.mu.Unlock()
	return nil
}

func (g *MemoryGateway) Get(key string) ([]byte, string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	obj, ok := g.objects[key]
	return obj.data, obj.contentType, ok
}

func (g *MemoryGateway) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.objects)
}
