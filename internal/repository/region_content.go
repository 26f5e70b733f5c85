package repository

import (
	"context"
	"strings"
	"sync"

	"github.com/RGAGroup/prayer-mapping-platform-sub000/internal/domain"
)

// RegionContentStore keeps the latest generated payload per (region name, kind).
type RegionContentStore interface {
	UpsertRegionContent(ctx context.Context, content domain.RegionContent) error
	GetRegionContent(ctx context.Context, regionName string, kind domain.RegionKind) (*domain.RegionContent, error)
}

type MemoryRegionContentStore struct {
	mu       sync.RWMutex
	contents map[string]domain.RegionContent
}

func NewMemoryRegionContentStore() *MemoryRegionContentStore {
	return &MemoryRegionContentStore{contents: make(map[string]domain.RegionContent)}
}

func (s *MemoryRegionContentStore) UpsertRegionContent(_ context.Context, content domain.RegionContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.contents[contentKey(content.RegionName, content.RegionKind)] = cloneContent(content)
	return nil
}

func (s *MemoryRegionContentStore) GetRegionContent(
	_ context.Context,
	regionName string,
	kind domain.RegionKind,
) (*domain.RegionContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.contents[contentKey(regionName, kind)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := cloneContent(content)
	return &clone, nil
}

func (s *MemoryRegionContentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contents)
}

func contentKey(regionName string, kind domain.RegionKind) string {
	return strings.TrimSpace(regionName) + "|" + string(kind)
}

func cloneContent(content domain.RegionContent) domain.RegionContent {
	clone := content
	clone.Payload = append([]byte(nil), content.Payload...)
	return clone
}
