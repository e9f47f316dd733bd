package kv

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Memory is an in-process Store with the same semantics as the Redis
// implementation, including key expiry. It backs package tests and the
// `--store memory` development mode; it is not meant for multi-process
// deployments.
type Memory struct {
	mu        sync.Mutex
	hashes    map[string]map[string]string
	sets      map[string]map[string]struct{}
	zsets     map[string]map[string]float64
	counters  map[string]int64
	deadlines map[string]time.Time
	offset    time.Duration
	closed    bool
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{
		hashes:    make(map[string]map[string]string),
		sets:      make(map[string]map[string]struct{}),
		zsets:     make(map[string]map[string]float64),
		counters:  make(map[string]int64),
		deadlines: make(map[string]time.Time),
	}
}

// FastForward shifts the store's clock by d, expiring any key whose TTL
// falls inside the window. Test hook; Redis deployments rely on real time.
func (m *Memory) FastForward(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset += d
}

func (m *Memory) now() time.Time {
	return time.Now().Add(m.offset)
}

// guard rejects use after Close, like a closed Redis client would.
// Caller holds mu.
func (m *Memory) guard() error {
	if m.closed {
		return ErrUnavailable
	}
	return nil
}

// dropExpired removes key if its deadline has passed. Caller holds mu.
func (m *Memory) dropExpired(key string) {
	deadline, ok := m.deadlines[key]
	if !ok || m.now().Before(deadline) {
		return
	}
	m.deleteKey(key)
}

// deleteKey removes key from every structure. Caller holds mu.
func (m *Memory) deleteKey(key string) {
	delete(m.hashes, key)
	delete(m.sets, key)
	delete(m.zsets, key)
	delete(m.counters, key)
	delete(m.deadlines, key)
}

func (m *Memory) HSet(_ context.Context, key string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.dropExpired(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string, len(fields))
		m.hashes[key] = h
	}
	for k, v := range fields {
		h[k] = v
	}
	return nil
}

func (m *Memory) HGetAll(_ context.Context, key string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	m.dropExpired(key)
	out := make(map[string]string, len(m.hashes[key]))
	for k, v := range m.hashes[key] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) HIncrBy(_ context.Context, key, field string, incr int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return 0, err
	}
	m.dropExpired(key)
	h, ok := m.hashes[key]
	if !ok {
		h = make(map[string]string)
		m.hashes[key] = h
	}
	cur, _ := strconv.ParseInt(h[field], 10, 64)
	cur += incr
	h[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *Memory) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return 0, err
	}
	m.dropExpired(key)
	s, ok := m.sets[key]
	if !ok {
		s = make(map[string]struct{}, len(members))
		m.sets[key] = s
	}
	var added int64
	for _, member := range members {
		if _, exists := s[member]; !exists {
			s[member] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (m *Memory) SRem(_ context.Context, key string, members ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return 0, err
	}
	m.dropExpired(key)
	var removed int64
	for _, member := range members {
		if _, exists := m.sets[key][member]; exists {
			delete(m.sets[key], member)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	m.dropExpired(key)
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return false, err
	}
	m.dropExpired(key)
	_, ok := m.sets[key][member]
	return ok, nil
}

func (m *Memory) SCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return 0, err
	}
	m.dropExpired(key)
	return int64(len(m.sets[key])), nil
}

func (m *Memory) SScan(_ context.Context, key string, cursor uint64, count int64) ([]string, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, 0, err
	}
	m.dropExpired(key)
	all := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		all = append(all, member)
	}
	sort.Strings(all)
	if cursor >= uint64(len(all)) {
		return nil, 0, nil
	}
	end := cursor + uint64(count)
	if count <= 0 || end > uint64(len(all)) {
		end = uint64(len(all))
	}
	next := end
	if next >= uint64(len(all)) {
		next = 0
	}
	return all[cursor:end], next, nil
}

func (m *Memory) ZAdd(_ context.Context, key, member string, score float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.dropExpired(key)
	z, ok := m.zsets[key]
	if !ok {
		z = make(map[string]float64)
		m.zsets[key] = z
	}
	z[member] = score
	return nil
}

func (m *Memory) ZRem(_ context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.dropExpired(key)
	for _, member := range members {
		delete(m.zsets[key], member)
	}
	return nil
}

func (m *Memory) ZRevRangeWithScores(_ context.Context, key string, start, stop int64) ([]Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return nil, err
	}
	m.dropExpired(key)
	all := make([]Member, 0, len(m.zsets[key]))
	for member, score := range m.zsets[key] {
		all = append(all, Member{Member: member, Score: score})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Score != all[j].Score {
			return all[i].Score > all[j].Score
		}
		return all[i].Member > all[j].Member
	})
	if start < 0 || start >= int64(len(all)) {
		return nil, nil
	}
	if stop < 0 || stop >= int64(len(all)) {
		stop = int64(len(all)) - 1
	}
	return all[start : stop+1], nil
}

func (m *Memory) ZCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return 0, err
	}
	m.dropExpired(key)
	return int64(len(m.zsets[key])), nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	for _, key := range keys {
		m.deleteKey(key)
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return false, err
	}
	m.dropExpired(key)
	if _, ok := m.hashes[key]; ok {
		return true, nil
	}
	if _, ok := m.sets[key]; ok {
		return true, nil
	}
	if _, ok := m.zsets[key]; ok {
		return true, nil
	}
	_, ok := m.counters[key]
	return ok, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return err
	}
	m.dropExpired(key)
	m.deadlines[key] = m.now().Add(ttl)
	return nil
}

func (m *Memory) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard(); err != nil {
		return 0, err
	}
	m.dropExpired(key)
	m.counters[key]++
	return m.counters[key], nil
}

func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.guard()
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
