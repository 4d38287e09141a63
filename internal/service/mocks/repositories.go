package mocks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/clock"
	"github.com/SergeiKhy/guest-urls/internal/models"
	"github.com/SergeiKhy/guest-urls/internal/repository"
)

// MockLinkRepository implements repository.LinkRepository for testing.
// Save uses the same optimistic lock on UpdatedAt as the SQL registries.
type MockLinkRepository struct {
	mu    sync.RWMutex
	links map[string]*models.GuestLink
	clock clock.Clock

	// SaveErr, when set, is returned by every Save
	SaveErr   error
	SaveCalls int
}

func NewMockLinkRepository(clk clock.Clock) *MockLinkRepository {
	return &MockLinkRepository{
		links: make(map[string]*models.GuestLink),
		clock: clk,
	}
}

func (m *MockLinkRepository) Create(ctx context.Context, link *models.GuestLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[link.ID]; exists {
		return repository.ErrLinkExists
	}

	link.Touch(m.clock.Now())
	m.links[link.ID] = link.Clone()
	return nil
}

func (m *MockLinkRepository) GetByID(ctx context.Context, id string) (*models.GuestLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.links[id]
	if !exists {
		return nil, repository.ErrLinkNotFound
	}
	return link.Clone(), nil
}

func (m *MockLinkRepository) Save(ctx context.Context, link *models.GuestLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveCalls++
	if m.SaveErr != nil {
		return m.SaveErr
	}

	stored, exists := m.links[link.ID]
	if !exists {
		return repository.ErrLinkNotFound
	}
	if !stored.UpdatedAt.Equal(link.UpdatedAt) {
		return repository.ErrConflict
	}

	link.Touch(m.clock.Now())
	m.links[link.ID] = link.Clone()
	return nil
}

func (m *MockLinkRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.links[id]; !exists {
		return repository.ErrLinkNotFound
	}
	delete(m.links, id)
	return nil
}

// Put stores link as is, bypassing Touch
func (m *MockLinkRepository) Put(link *models.GuestLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[link.ID] = link.Clone()
}

func (m *MockLinkRepository) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.links)
}

func (m *MockLinkRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = make(map[string]*models.GuestLink)
	m.SaveErr = nil
	m.SaveCalls = 0
}

// MockCacheRepository implements repository.CacheRepository for testing
type MockCacheRepository struct {
	mu    sync.RWMutex
	cache map[string]*models.GuestLink
}

func NewMockCacheRepository() *MockCacheRepository {
	return &MockCacheRepository{
		cache: make(map[string]*models.GuestLink),
	}
}

func (m *MockCacheRepository) Get(ctx context.Context, id string) (*models.GuestLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, exists := m.cache[id]
	if !exists {
		return nil, repository.ErrCacheMiss
	}
	return link.Clone(), nil
}

func (m *MockCacheRepository) Set(ctx context.Context, link *models.GuestLink, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[link.ID] = link.Clone()
	return nil
}

func (m *MockCacheRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cache, id)
	return nil
}

func (m *MockCacheRepository) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, exists := m.cache[id]
	return exists
}

func (m *MockCacheRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*models.GuestLink)
}

// ErrRecordFailed is returned by MockUsageRepository while FailNext > 0
var ErrRecordFailed = errors.New("mock: record usage failed")

// MockUsageRepository implements repository.UsageRepository for testing
type MockUsageRepository struct {
	mu     sync.RWMutex
	usages map[string][]*models.Usage // link_id -> usages
	nextID int64

	// FailNext makes the next N RecordUsage calls fail
	FailNext int
	Attempts int
}

func NewMockUsageRepository() *MockUsageRepository {
	return &MockUsageRepository{
		usages: make(map[string][]*models.Usage),
		nextID: 1,
	}
}

func (m *MockUsageRepository) RecordUsage(ctx context.Context, usage *models.Usage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Attempts++
	if m.FailNext > 0 {
		m.FailNext--
		return ErrRecordFailed
	}

	usage.ID = m.nextID
	m.nextID++
	stored := *usage
	m.usages[usage.LinkID] = append(m.usages[usage.LinkID], &stored)
	return nil
}

func (m *MockUsageRepository) GetStats(ctx context.Context, linkID string) (*models.UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	uniqueIPs := make(map[string]bool)
	for _, u := range m.usages[linkID] {
		uniqueIPs[u.IPAddress] = true
	}

	return &models.UsageStats{
		LinkID:         linkID,
		TotalUses:      int64(len(m.usages[linkID])),
		UniqueVisitors: int64(len(uniqueIPs)),
	}, nil
}

func (m *MockUsageRepository) GetDailyStats(ctx context.Context, linkID string, since time.Time) ([]models.DailyUsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byDay := make(map[string]int64)
	for _, u := range m.usages[linkID] {
		if u.UsedAt.Before(since) {
			continue
		}
		byDay[u.UsedAt.UTC().Format("2006-01-02")]++
	}

	stats := make([]models.DailyUsageStats, 0, len(byDay))
	for day, uses := range byDay {
		stats = append(stats, models.DailyUsageStats{Date: day, Uses: uses})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Date > stats[j].Date })
	return stats, nil
}

// Usages returns a copy of what was recorded for linkID
func (m *MockUsageRepository) Usages(linkID string) []models.Usage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Usage, 0, len(m.usages[linkID]))
	for _, u := range m.usages[linkID] {
		out = append(out, *u)
	}
	return out
}

func (m *MockUsageRepository) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usages = make(map[string][]*models.Usage)
	m.nextID = 1
	m.FailNext = 0
	m.Attempts = 0
}
