// Package seen 已抓取集合：内存索引 + 持久后端，驱动增量抓取
package seen

import (
	"context"
	"fmt"
	"sync"
	"time"

	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

// Backend 持久层（gorm / mongo / redis）
type Backend = interfaces.SeenBackend

// Set 先查内存再查后端；后端命中回填内存
type Set struct {
	backend Backend

	mu    sync.RWMutex
	items map[string]time.Time // key -> first_seen_at
}

// New backend 为空时只用内存
func New(backend Backend) *Set {
	return &Set{backend: backend, items: make(map[string]time.Time)}
}

// Has 是否已抓取过
func (s *Set) Has(ctx context.Context, platform model.PlatformType, contentID string) (bool, error) {
	key := model.RecordKey(platform, contentID)
	s.mu.RLock()
	_, ok := s.items[key]
	s.mu.RUnlock()
	if ok || s.backend == nil {
		return ok, nil
	}

	ok, err := s.backend.HasSeen(ctx, platform, contentID)
	if err != nil {
		return false, fmt.Errorf("查询已抓取集合失败: %w", err)
	}
	if ok {
		s.remember(key, time.Time{})
	}
	return ok, nil
}

// Add 先写后端再写内存，已存在时保留最早时间
func (s *Set) Add(ctx context.Context, platform model.PlatformType, contentID string, at time.Time) error {
	if s.backend != nil {
		if err := s.backend.MarkSeen(ctx, platform, contentID, at); err != nil {
			return fmt.Errorf("写入已抓取集合失败: %w", err)
		}
	}
	s.remember(model.RecordKey(platform, contentID), at)
	return nil
}

// PruneBefore 清理早于 cutoff 的标记（内存中回填的条目时间未知，一并清掉）
func (s *Set) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	if s.backend != nil {
		var err error
		if n, err = s.backend.PruneSeenBefore(ctx, cutoff); err != nil {
			return 0, fmt.Errorf("清理已抓取集合失败: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var local int64
	for k, at := range s.items {
		if at.Before(cutoff) {
			delete(s.items, k)
			local++
		}
	}
	if s.backend == nil {
		n = local
	}
	return n, nil
}

// Len 内存中的条目数
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Set) remember(key string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.items[key]; ok && (at.IsZero() || (!prev.IsZero() && !at.Before(prev))) {
		return
	}
	s.items[key] = at
}
