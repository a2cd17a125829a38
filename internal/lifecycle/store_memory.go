package lifecycle

import (
	"context"
	"sort"
	"sync"
)

type memoryRecord struct {
	seq     uint64
	payload []byte
}

// MemoryBackend 以内存方式保存记录，主要用于测试与单机演示。
type MemoryBackend struct {
	mu      sync.RWMutex
	seq     uint64
	records map[RecordKind]map[string]memoryRecord
}

// NewMemoryBackend 创建内存后端。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[RecordKind]map[string]memoryRecord)}
}

// NewMemoryStore 创建基于内存的 Store。
func NewMemoryStore() *RecordStore {
	return NewRecordStore(NewMemoryBackend())
}

// PutOnce 实现 Backend。
func (m *MemoryBackend) PutOnce(_ context.Context, kind RecordKind, commitment string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.records[kind]
	if !ok {
		bucket = make(map[string]memoryRecord)
		m.records[kind] = bucket
	}
	if existing, ok := bucket[commitment]; ok {
		if samePayload(existing.payload, payload) {
			return nil
		}
		return ErrCollision
	}
	m.seq++
	bucket[commitment] = memoryRecord{seq: m.seq, payload: append([]byte(nil), payload...)}
	return nil
}

// Get 实现 Backend。
func (m *MemoryBackend) Get(_ context.Context, kind RecordKind, commitment string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[kind][commitment]
	if !ok {
		return nil, ErrNotPresent
	}
	return append([]byte(nil), record.payload...), nil
}

// List 实现 Backend。
func (m *MemoryBackend) List(_ context.Context, kind RecordKind, limit int) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]memoryRecord, 0, len(m.records[kind]))
	for _, record := range m.records[kind] {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq > records[j].seq })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	out := make([][]byte, len(records))
	for i, record := range records {
		out[i] = append([]byte(nil), record.payload...)
	}
	return out, nil
}

// Clear 实现 Backend。
func (m *MemoryBackend) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[RecordKind]map[string]memoryRecord)
	return nil
}

// Close 对内存后端无需操作。
func (m *MemoryBackend) Close() error { return nil }
