package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/amazon-clone-api/internal/cache"
	"github.com/fjod/amazon-clone-api/internal/catalog"
	"github.com/fjod/amazon-clone-api/internal/domain"
	"github.com/fjod/amazon-clone-api/internal/repository"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const userID = "user-1"

type mockCache struct {
	m      sync.RWMutex
	carts  map[string]*domain.Cart
	setErr error
	gets   int
}

func newMockCache() *mockCache {
	return &mockCache{carts: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.gets++
	cart, ok := m.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return cloneCart(cart), nil
}

func (m *mockCache) Set(_ context.Context, userID string, cart *domain.Cart) error {
	m.m.Lock()
	defer m.m.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.carts[userID] = cloneCart(cart)
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.m.Lock()
	defer m.m.Unlock()
	delete(m.carts, userID)
	return nil
}

func (m *mockCache) cached(userID string) *domain.Cart {
	m.m.RLock()
	defer m.m.RUnlock()
	return m.carts[userID]
}

// conflictingRepository simulates a concurrent writer: the first `conflicts`
// saves fail with a version conflict after someone else's write landed.
type conflictingRepository struct {
	*repository.MemoryRepository
	mu        sync.Mutex
	conflicts int
	saves     int
}

func (r *conflictingRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	r.saves++
	conflict := r.conflicts > 0
	if conflict {
		r.conflicts--
	}
	r.mu.Unlock()

	if conflict {
		return repository.ErrVersionConflict
	}
	return r.MemoryRepository.SaveCart(ctx, cart)
}

type failingRepository struct {
	repository.CartRepository
	err error
}

func (r failingRepository) GetCart(context.Context, string) (*domain.Cart, error) {
	return nil, r.err
}

func (r failingRepository) ClearCart(context.Context, string) (*domain.Cart, error) {
	return nil, r.err
}

type failingFinder struct{ err error }

func (f failingFinder) FindProduct(context.Context, string) (*domain.Product, error) {
	return nil, f.err
}

// blockingRepository holds GetCart until released, or until the context it
// was handed ends.
type blockingRepository struct {
	*repository.MemoryRepository
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (r *blockingRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	r.once.Do(func() { close(r.started) })
	select {
	case <-r.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.MemoryRepository.GetCart(ctx, userID)
}

func newCatalog(t *testing.T) *catalog.MemoryStore {
	t.Helper()
	store := catalog.NewMemoryStore()
	require.NoError(t, store.UpsertProducts(context.Background(), []domain.Product{
		{ID: "P1", Name: "Laptop", Price: 100, Images: []string{"p1-front.jpg", "p1-back.jpg"}, Stock: 5},
		{ID: "P2", Name: "Mouse", Price: 50, Images: []string{"p2.jpg"}, Stock: 10},
		{ID: "P3", Name: "Cable", Price: 0.1, Images: []string{"p3.jpg"}, Stock: 100},
	}))
	return store
}

func newTestService(t *testing.T) (*CartService, *repository.MemoryRepository, *catalog.MemoryStore, *mockCache) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	products := newCatalog(t)
	c := newMockCache()
	return NewCartService(repo, products, c), repo, products, c
}

func requireConsistent(t *testing.T, cart *domain.Cart) {
	t.Helper()
	require.NoError(t, cart.Validate())
}

func TestGetOrCreateCart_CreatesEmptyCart(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	cart, err := svc.GetOrCreateCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, cart.UserID)
	assert.Empty(t, cart.Items)
	assert.NotNil(t, cart.Items)
	assert.Zero(t, cart.TotalPrice)
	assert.Zero(t, cart.TotalItems)
	assert.Equal(t, int64(1), cart.Version)

	stored, err := repo.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, stored.ID)
}

func TestGetOrCreateCart_ReturnsExistingCart(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "P1", 2)
	require.NoError(t, err)

	cart, err := svc.GetOrCreateCart(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 200.0, cart.TotalPrice)
}

func TestGetOrCreateCart_ServedFromCache(t *testing.T) {
	svc, _, _, c := newTestService(t)
	ctx := context.Background()

	first, err := svc.GetOrCreateCart(ctx, userID)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return c.cached(userID) != nil }, time.Second, 10*time.Millisecond)

	second, err := svc.GetOrCreateCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestGetOrCreateCart_StorageFailure(t *testing.T) {
	repo := failingRepository{err: errors.New("connection refused")}
	svc := NewCartService(repo, newCatalog(t), cache.Nop{})

	_, err := svc.GetOrCreateCart(context.Background(), userID)
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestGetOrCreateCart_EmptyUser(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.GetOrCreateCart(context.Background(), " ")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestGetOrCreateCart_CanceledCallerDoesNotFailOthers(t *testing.T) {
	repo := &blockingRepository{
		MemoryRepository: repository.NewMemoryRepository(),
		started:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	svc := NewCartService(repo, newCatalog(t), newMockCache())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := svc.GetOrCreateCart(leaderCtx, userID)
		leaderErr <- err
	}()
	<-repo.started

	type result struct {
		cart *domain.Cart
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		cart, err := svc.GetOrCreateCart(context.Background(), userID)
		follower <- result{cart, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller did not return")
	}

	close(repo.release)
	select {
	case res := <-follower:
		require.NoError(t, res.err)
		assert.Equal(t, userID, res.cart.UserID)
	case <-time.After(time.Second):
		t.Fatal("waiting caller did not return")
	}

	stored, err := repo.MemoryRepository.GetCart(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, stored.Items)
}

func TestAddItem_NewProductOnEmptyCart(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	cart, err := svc.AddItem(context.Background(), userID, "P1", 2)
	require.NoError(t, err)
	requireConsistent(t, cart)

	require.Len(t, cart.Items, 1)
	item := cart.Items[0]
	assert.Equal(t, "P1", item.ProductID)
	assert.Equal(t, 2, item.Quantity)
	assert.Equal(t, 100.0, item.Price)
	assert.Equal(t, "Laptop", item.Name)
	assert.Equal(t, "p1-front.jpg", item.Image)
	assert.Equal(t, 200.0, cart.TotalPrice)
	assert.Equal(t, 2, cart.TotalItems)
}

func TestAddItem_TwiceEqualsDouble(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "twice", "P2", 3)
	require.NoError(t, err)
	twice, err := svc.AddItem(ctx, "twice", "P2", 3)
	require.NoError(t, err)

	once, err := svc.AddItem(ctx, "once", "P2", 6)
	require.NoError(t, err)

	assert.Equal(t, once.Items, twice.Items)
	assert.Equal(t, once.TotalPrice, twice.TotalPrice)
	assert.Equal(t, once.TotalItems, twice.TotalItems)
}

func TestAddItem_StockBoundary(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "over", "P1", 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	cart, err := svc.AddItem(ctx, "exact", "P1", 5)
	require.NoError(t, err)
	assert.Equal(t, 5, cart.TotalItems)
}

func TestAddItem_StockCheckedAgainstIncomingQuantityOnly(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "P1", 4)
	require.NoError(t, err)

	cart, err := svc.AddItem(ctx, userID, "P1", 4)
	require.NoError(t, err)
	assert.Equal(t, 8, cart.Items[0].Quantity)
}

func TestAddItem_InvalidQuantityLeavesCartUnchanged(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	before, err := svc.AddItem(ctx, userID, "P1", 1)
	require.NoError(t, err)

	for _, qty := range []int{0, -3} {
		_, err = svc.AddItem(ctx, userID, "P2", qty)
		assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	}

	after, err := repo.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, before.Items, after.Items)
	assert.Equal(t, before.Version, after.Version)
}

func TestAddItem_InvalidArguments(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.AddItem(ctx, "", "P1", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestAddItem_UnknownProduct(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "nope", 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.GetCart(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
}

func TestAddItem_CatalogFailure(t *testing.T) {
	svc := NewCartService(repository.NewMemoryRepository(), failingFinder{err: errors.New("timeout")}, cache.Nop{})

	_, err := svc.AddItem(context.Background(), userID, "P1", 1)
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestAddItem_KeepsCapturedPrice(t *testing.T) {
	svc, _, products, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "P1", 1)
	require.NoError(t, err)

	p, err := products.FindProduct(ctx, "P1")
	require.NoError(t, err)
	p.Price = 150
	p.Name = "Laptop Pro"
	require.NoError(t, products.UpsertProducts(ctx, []domain.Product{*p}))

	cart, err := svc.AddItem(ctx, userID, "P1", 1)
	require.NoError(t, err)
	assert.Equal(t, 100.0, cart.Items[0].Price)
	assert.Equal(t, "Laptop", cart.Items[0].Name)
	assert.Equal(t, 200.0, cart.TotalPrice)
}

func TestAddItem_NoFloatDrift(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	cart, err := svc.AddItem(context.Background(), userID, "P3", 3)
	require.NoError(t, err)
	assert.Equal(t, 0.3, cart.TotalPrice)
}

func TestUpdateItemQuantity_SetsAbsoluteQuantity(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "P1", 2)
	require.NoError(t, err)

	cart, err := svc.UpdateItemQuantity(ctx, userID, "P1", 5)
	require.NoError(t, err)
	requireConsistent(t, cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, 500.0, cart.TotalPrice)
	assert.Equal(t, 5, cart.TotalItems)
}

func TestUpdateItemQuantity_ZeroEqualsRemove(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	for _, u := range []string{"update", "remove"} {
		_, err := svc.AddItem(ctx, u, "P1", 2)
		require.NoError(t, err)
		_, err = svc.AddItem(ctx, u, "P2", 1)
		require.NoError(t, err)
	}

	updated, err := svc.UpdateItemQuantity(ctx, "update", "P1", 0)
	require.NoError(t, err)
	removed, err := svc.RemoveItem(ctx, "remove", "P1")
	require.NoError(t, err)

	assert.Equal(t, removed.Items, updated.Items)
	assert.Equal(t, removed.TotalPrice, updated.TotalPrice)
	assert.Equal(t, removed.TotalItems, updated.TotalItems)
}

func TestUpdateItemQuantity_Errors(t *testing.T) {
	svc, _, products, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.UpdateItemQuantity(ctx, userID, "P1", 1)
	assert.ErrorIs(t, err, domain.ErrCartNotFound, "no cart yet")

	_, err = svc.AddItem(ctx, userID, "P1", 2)
	require.NoError(t, err)

	_, err = svc.UpdateItemQuantity(ctx, userID, "P1", -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.UpdateItemQuantity(ctx, userID, "P2", 1)
	assert.ErrorIs(t, err, domain.ErrItemNotFound)

	_, err = svc.UpdateItemQuantity(ctx, userID, "P1", 6)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	products.DeleteProduct("P1")
	_, err = svc.UpdateItemQuantity(ctx, userID, "P1", 3)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	// Removing a product that left the catalog still works.
	cart, err := svc.UpdateItemQuantity(ctx, userID, "P1", 0)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
}

func TestRemoveItem(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RemoveItem(ctx, userID, "P1")
	assert.ErrorIs(t, err, domain.ErrCartNotFound)

	_, err = svc.AddItem(ctx, userID, "P1", 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, userID, "P2", 1)
	require.NoError(t, err)

	cart, err := svc.RemoveItem(ctx, userID, "P1")
	require.NoError(t, err)
	requireConsistent(t, cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "P2", cart.Items[0].ProductID)
	assert.Equal(t, 50.0, cart.TotalPrice)
	assert.Equal(t, 1, cart.TotalItems)

	_, err = svc.RemoveItem(ctx, userID, "P1")
	assert.ErrorIs(t, err, domain.ErrItemNotFound)
}

func TestClearCart(t *testing.T) {
	svc, repo, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ClearCart(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrCartNotFound)
	_, err = repo.GetCart(ctx, userID)
	assert.ErrorIs(t, err, domain.ErrCartNotFound, "clear must not create a cart")

	_, err = svc.AddItem(ctx, userID, "P1", 2)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, userID, "P2", 3)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		cart, err := svc.ClearCart(ctx, userID)
		require.NoError(t, err)
		requireConsistent(t, cart)
		assert.Empty(t, cart.Items)
		assert.Zero(t, cart.TotalPrice)
		assert.Zero(t, cart.TotalItems)
	}
}

func TestClearCart_StorageFailure(t *testing.T) {
	svc := NewCartService(failingRepository{err: errors.New("boom")}, newCatalog(t), nil)

	_, err := svc.ClearCart(context.Background(), userID)
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestInvariantHoldsAcrossSequence(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	steps := []func() (*domain.Cart, error){
		func() (*domain.Cart, error) { return svc.AddItem(ctx, userID, "P1", 1) },
		func() (*domain.Cart, error) { return svc.AddItem(ctx, userID, "P3", 7) },
		func() (*domain.Cart, error) { return svc.AddItem(ctx, userID, "P2", 2) },
		func() (*domain.Cart, error) { return svc.UpdateItemQuantity(ctx, userID, "P3", 9) },
		func() (*domain.Cart, error) { return svc.AddItem(ctx, userID, "P1", 3) },
		func() (*domain.Cart, error) { return svc.RemoveItem(ctx, userID, "P2") },
		func() (*domain.Cart, error) { return svc.UpdateItemQuantity(ctx, userID, "P1", 0) },
	}

	for i, step := range steps {
		cart, err := step()
		require.NoError(t, err, "step %d", i)
		requireConsistent(t, cart)
	}
}

func TestMutationWritesThroughCache(t *testing.T) {
	svc, _, _, c := newTestService(t)
	ctx := context.Background()

	cart, err := svc.AddItem(ctx, userID, "P1", 2)
	require.NoError(t, err)

	cached := c.cached(userID)
	require.NotNil(t, cached)
	assert.Equal(t, cart.Version, cached.Version)
	assert.Equal(t, cart.TotalPrice, cached.TotalPrice)

	cleared, err := svc.ClearCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, cleared.Version, c.cached(userID).Version)
	assert.Empty(t, c.cached(userID).Items)
}

func TestMutationDropsCacheWhenSetFails(t *testing.T) {
	svc, _, _, c := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "P1", 1)
	require.NoError(t, err)
	require.NotNil(t, c.cached(userID))

	c.m.Lock()
	c.setErr = errors.New("redis down")
	c.m.Unlock()

	_, err = svc.AddItem(ctx, userID, "P1", 1)
	require.NoError(t, err, "cache failures never fail the request")
	assert.Nil(t, c.cached(userID))
}

func TestMutate_RetriesOnVersionConflict(t *testing.T) {
	repo := &conflictingRepository{MemoryRepository: repository.NewMemoryRepository(), conflicts: 2}
	svc := NewCartService(repo, newCatalog(t), nil, WithMaxAttempts(3))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "P1", 1)
	require.NoError(t, err)

	cart, err := svc.AddItem(ctx, userID, "P1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, 3, repo.saves)
}

func TestMutate_GivesUpAfterMaxAttempts(t *testing.T) {
	repo := &conflictingRepository{MemoryRepository: repository.NewMemoryRepository(), conflicts: 10}
	svc := NewCartService(repo, newCatalog(t), nil, WithMaxAttempts(3))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "P1", 1)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, userID, "P1", 1)
	assert.ErrorIs(t, err, domain.ErrStorage)
	assert.ErrorIs(t, err, repository.ErrVersionConflict)
	assert.Equal(t, 3, repo.saves)

	stored, err := repo.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity)
}

func TestConcurrentAddsAreNotLost(t *testing.T) {
	const workers = 20

	repo := repository.NewMemoryRepository()
	products := catalog.NewMemoryStore()
	require.NoError(t, products.UpsertProducts(context.Background(), []domain.Product{
		{ID: "P1", Name: "Laptop", Price: 100, Images: []string{"p1.jpg"}, Stock: 5},
	}))
	svc := NewCartService(repo, products, newMockCache(), WithMaxAttempts(workers+5))
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddItem(ctx, userID, "P1", 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("unexpected error: %v", err)
	}

	cart, err := repo.GetCart(ctx, userID)
	require.NoError(t, err)
	requireConsistent(t, cart)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, workers, cart.Items[0].Quantity)
	assert.Equal(t, float64(workers*100), cart.TotalPrice)
}

func TestLookupProducts(t *testing.T) {
	svc, _, products, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, userID, "P1", 1)
	require.NoError(t, err)
	cart, err := svc.AddItem(ctx, userID, "P2", 1)
	require.NoError(t, err)

	products.DeleteProduct("P2")

	found := svc.LookupProducts(ctx, cart)
	require.Contains(t, found, "P1")
	assert.Equal(t, 5, found["P1"].Stock)
	assert.NotContains(t, found, "P2")
}

func TestWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := repository.NewMemoryRepository()
	svc := NewCartService(repo, newCatalog(t), cache.NewRedisCache(client))
	ctx := context.Background()

	added, err := svc.AddItem(ctx, userID, "P1", 2)
	require.NoError(t, err)
	assert.True(t, mr.Exists("cart:"+userID))

	cart, err := svc.GetOrCreateCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, added.Version, cart.Version)
	assert.Equal(t, 200.0, cart.TotalPrice)
}
