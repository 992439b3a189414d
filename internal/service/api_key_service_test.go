package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Wei-Shaw/ds2api/internal/domain"
	"github.com/Wei-Shaw/ds2api/internal/util/dserror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPIKeyRepo struct {
	mu       sync.Mutex
	nextID   int64
	keys     map[string]*domain.APIKey
	getCalls int32
}

func newFakeAPIKeyRepo() *fakeAPIKeyRepo {
	return &fakeAPIKeyRepo{keys: make(map[string]*domain.APIKey)}
}

func (f *fakeAPIKeyRepo) Create(ctx context.Context, key *domain.APIKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	key.ID = f.nextID
	clone := *key
	f.keys[key.Key] = &clone
	return nil
}

func (f *fakeAPIKeyRepo) GetByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	atomic.AddInt32(&f.getCalls, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[key]; ok {
		clone := *k
		return &clone, nil
	}
	return nil, dserror.New(dserror.KindNotFound, "api key not found")
}

func (f *fakeAPIKeyRepo) List(ctx context.Context) ([]*domain.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.APIKey
	for _, k := range f.keys {
		clone := *k
		out = append(out, &clone)
	}
	return out, nil
}

func (f *fakeAPIKeyRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range f.keys {
		if k.ID == id {
			k.Status = status
			return nil
		}
	}
	return dserror.New(dserror.KindNotFound, "api key not found")
}

func (f *fakeAPIKeyRepo) Delete(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, k := range f.keys {
		if k.ID == id {
			delete(f.keys, key)
			return nil
		}
	}
	return dserror.New(dserror.KindNotFound, "api key not found")
}

func (f *fakeAPIKeyRepo) IncrementUsage(ctx context.Context, key string, usedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if k, ok := f.keys[key]; ok {
		k.UsageCount++
		k.LastUsedAt = &usedAt
	}
	return nil
}

func (f *fakeAPIKeyRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range f.keys {
		if k.Status == domain.APIKeyStatusActive && k.ExpiresAt != nil && k.ExpiresAt.Before(now) {
			k.Status = domain.APIKeyStatusExpired
			n++
		}
	}
	return n, nil
}

func newTestAPIKeyService(t *testing.T, repo *fakeAPIKeyRepo) *APIKeyService {
	t.Helper()
	cache, err := NewAPIKeyAuthCache(repo, 1000, time.Minute, 10*time.Second, true)
	require.NoError(t, err)
	t.Cleanup(cache.Close)
	return NewAPIKeyService(repo, cache)
}

func TestAPIKeyService_Generate(t *testing.T) {
	repo := newFakeAPIKeyRepo()
	s := newTestAPIKeyService(t, repo)

	key, err := s.Generate(context.Background(), "team alpha", 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key.Key, domain.APIKeyPrefix))
	assert.Len(t, key.Key, len(domain.APIKeyPrefix)+48)
	assert.NotNil(t, key.ExpiresAt)

	forever, err := s.Generate(context.Background(), "no expiry", 0)
	require.NoError(t, err)
	assert.Nil(t, forever.ExpiresAt)
	assert.NotEqual(t, key.Key, forever.Key)
}

func TestAPIKeyService_Authenticate(t *testing.T) {
	repo := newFakeAPIKeyRepo()
	s := newTestAPIKeyService(t, repo)

	key, err := s.Generate(context.Background(), "t", 0)
	require.NoError(t, err)

	got, err := s.Authenticate(context.Background(), key.Key)
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)

	_, err = s.Authenticate(context.Background(), "dsk-bogus")
	assert.Equal(t, dserror.KindUnauthorized, dserror.KindOf(err))
}

func TestAPIKeyAuthCache_CachesLookups(t *testing.T) {
	repo := newFakeAPIKeyRepo()
	cache, err := NewAPIKeyAuthCache(repo, 1000, time.Minute, 10*time.Second, true)
	require.NoError(t, err)
	defer cache.Close()

	key := &domain.APIKey{Key: "dsk-cached", Status: domain.APIKeyStatusActive, CreatedAt: time.Now()}
	require.NoError(t, repo.Create(context.Background(), key))

	_, err = cache.Authenticate(context.Background(), "dsk-cached")
	require.NoError(t, err)
	cache.cache.Wait()

	before := atomic.LoadInt32(&repo.getCalls)
	for i := 0; i < 5; i++ {
		_, err = cache.Authenticate(context.Background(), "dsk-cached")
		require.NoError(t, err)
	}
	assert.Equal(t, before, atomic.LoadInt32(&repo.getCalls))
}

func TestAPIKeyAuthCache_NegativeCaching(t *testing.T) {
	repo := newFakeAPIKeyRepo()
	cache, err := NewAPIKeyAuthCache(repo, 1000, time.Minute, 10*time.Second, true)
	require.NoError(t, err)
	defer cache.Close()

	_, err = cache.Authenticate(context.Background(), "dsk-nope")
	assert.Equal(t, dserror.KindUnauthorized, dserror.KindOf(err))
	cache.cache.Wait()

	before := atomic.LoadInt32(&repo.getCalls)
	_, err = cache.Authenticate(context.Background(), "dsk-nope")
	assert.Equal(t, dserror.KindUnauthorized, dserror.KindOf(err))
	assert.Equal(t, before, atomic.LoadInt32(&repo.getCalls))
}

type gatedAPIKeyRepo struct {
	*fakeAPIKeyRepo
	arrived chan struct{}
	gate    chan struct{}
}

func (g *gatedAPIKeyRepo) GetByKey(ctx context.Context, key string) (*domain.APIKey, error) {
	g.arrived <- struct{}{}
	<-g.gate
	return g.fakeAPIKeyRepo.GetByKey(ctx, key)
}

// 关闭 singleflight 后并发未命中不再合并，各自查库
func TestAPIKeyAuthCache_SingleflightDisabled(t *testing.T) {
	base := newFakeAPIKeyRepo()
	key := &domain.APIKey{Key: "dsk-direct", Status: domain.APIKeyStatusActive, CreatedAt: time.Now()}
	require.NoError(t, base.Create(context.Background(), key))

	repo := &gatedAPIKeyRepo{
		fakeAPIKeyRepo: base,
		arrived:        make(chan struct{}, 2),
		gate:           make(chan struct{}),
	}
	cache, err := NewAPIKeyAuthCache(repo, 1000, time.Minute, 10*time.Second, false)
	require.NoError(t, err)
	defer cache.Close()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := cache.Authenticate(context.Background(), "dsk-direct")
			require.NoError(t, err)
			assert.Equal(t, "dsk-direct", got.Key)
		}()
	}

	// 两个请求都到达仓库层才放行，证明未被合并
	for i := 0; i < 2; i++ {
		select {
		case <-repo.arrived:
		case <-time.After(2 * time.Second):
			t.Fatal("expected both lookups to reach the repository")
		}
	}
	close(repo.gate)
	wg.Wait()

	assert.Equal(t, int32(2), atomic.LoadInt32(&base.getCalls))
}

func TestAPIKeyAuthCache_ExpiredKeyRejected(t *testing.T) {
	repo := newFakeAPIKeyRepo()
	cache, err := NewAPIKeyAuthCache(repo, 1000, time.Minute, 10*time.Second, true)
	require.NoError(t, err)
	defer cache.Close()

	past := time.Now().Add(-time.Hour)
	key := &domain.APIKey{Key: "dsk-old", Status: domain.APIKeyStatusActive,
		CreatedAt: past, ExpiresAt: &past}
	require.NoError(t, repo.Create(context.Background(), key))

	_, err = cache.Authenticate(context.Background(), "dsk-old")
	assert.Equal(t, dserror.KindUnauthorized, dserror.KindOf(err))
}

func TestAPIKeyService_SetStatusInvalidatesCache(t *testing.T) {
	repo := newFakeAPIKeyRepo()
	s := newTestAPIKeyService(t, repo)

	key, err := s.Generate(context.Background(), "t", 0)
	require.NoError(t, err)

	_, err = s.Authenticate(context.Background(), key.Key)
	require.NoError(t, err)
	s.authCache.cache.Wait()

	require.NoError(t, s.SetStatus(context.Background(), key.ID, domain.APIKeyStatusDisabled))

	_, err = s.Authenticate(context.Background(), key.Key)
	assert.Equal(t, dserror.KindUnauthorized, dserror.KindOf(err))
}

func TestAPIKeyService_SetStatusValidation(t *testing.T) {
	repo := newFakeAPIKeyRepo()
	s := newTestAPIKeyService(t, repo)

	err := s.SetStatus(context.Background(), 1, "frozen")
	assert.Equal(t, dserror.KindInvalidRequest, dserror.KindOf(err))
}

func TestAPIKeyService_CleanupExpired(t *testing.T) {
	repo := newFakeAPIKeyRepo()
	s := newTestAPIKeyService(t, repo)

	_, err := s.Generate(context.Background(), "short", time.Nanosecond)
	require.NoError(t, err)
	_, err = s.Generate(context.Background(), "forever", 0)
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	affected, err := s.CleanupExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
}

func TestAPIKeyService_RecordUsage(t *testing.T) {
	repo := newFakeAPIKeyRepo()
	s := newTestAPIKeyService(t, repo)

	key, err := s.Generate(context.Background(), "t", 0)
	require.NoError(t, err)

	s.RecordUsage(context.Background(), key.Key)
	s.RecordUsage(context.Background(), key.Key)

	got, err := repo.GetByKey(context.Background(), key.Key)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.UsageCount)
	assert.NotNil(t, got.LastUsedAt)
}
