package recurring

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/orderflow/internal/audit"
	"github.com/odyssey-erp/orderflow/internal/observability"
	"github.com/odyssey-erp/orderflow/internal/orders"
	"github.com/odyssey-erp/orderflow/internal/platform/cache"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

type memoryStore struct {
	mu         sync.Mutex
	subs       map[uuid.UUID]Subscription
	orders     map[uuid.UUID]orders.Order
	notes      []audit.Note
	claimed    map[string]struct{}
	failInsert error

	listCalls   atomic.Int32
	listEntered chan struct{}
	listGate    chan struct{}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		subs:    make(map[uuid.UUID]Subscription),
		orders:  make(map[uuid.UUID]orders.Order),
		claimed: make(map[string]struct{}),
	}
}

func (m *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ords := maps.Clone(m.subs), maps.Clone(m.orders)
	notes, claimed := slices.Clone(m.notes), maps.Clone(m.claimed)
	if err := fn(ctx, memoryTx{m}); err != nil {
		m.subs, m.orders, m.notes, m.claimed = subs, ords, notes, claimed
		return err
	}
	return nil
}

func (m *memoryStore) GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memoryTx{m}.LockSubscription(ctx, tenantID, id)
}

func (m *memoryStore) ListSubscriptions(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]Subscription, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []Subscription
	for _, s := range m.subs {
		if s.TenantID == tenantID {
			all = append(all, s)
		}
	}
	slices.SortFunc(all, func(a, b Subscription) int { return b.CreatedAt.Compare(a.CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

func (m *memoryStore) ListDue(ctx context.Context, asOf time.Time) ([]Subscription, error) {
	m.listCalls.Add(1)
	if m.listEntered != nil {
		m.listEntered <- struct{}{}
	}
	if m.listGate != nil {
		<-m.listGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Subscription
	for _, s := range m.subs {
		if s.Status == StatusActive && !s.NextOrderDate.After(asOf) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memoryStore) ordersFor(subID uuid.UUID) []orders.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []orders.Order
	for _, o := range m.orders {
		if o.SubscriptionID != nil && *o.SubscriptionID == subID {
			out = append(out, o)
		}
	}
	return out
}

type memoryTx struct {
	m *memoryStore
}

func (t memoryTx) InsertSubscription(ctx context.Context, sub Subscription) error {
	t.m.subs[sub.ID] = sub
	return nil
}

func (t memoryTx) LockSubscription(ctx context.Context, tenantID, id uuid.UUID) (Subscription, error) {
	s, ok := t.m.subs[id]
	if !ok || s.TenantID != tenantID {
		return Subscription{}, shared.ErrNotFound
	}
	return s, nil
}

func (t memoryTx) UpdateSubscription(ctx context.Context, sub Subscription) error {
	t.m.subs[sub.ID] = sub
	return nil
}

func (t memoryTx) ClaimOccurrence(ctx context.Context, key string) error {
	if _, ok := t.m.claimed[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.m.claimed[key] = struct{}{}
	return nil
}

func (t memoryTx) Orders() orders.TxRepository { return memoryOrdersTx(t) }

type memoryOrdersTx struct {
	m *memoryStore
}

func (t memoryOrdersTx) InsertOrder(ctx context.Context, o orders.Order) error {
	if t.m.failInsert != nil {
		return t.m.failInsert
	}
	t.m.orders[o.ID] = o
	return nil
}

func (t memoryOrdersTx) LockOrder(ctx context.Context, tenantID, id uuid.UUID) (orders.Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return orders.Order{}, shared.ErrNotFound
	}
	return o, nil
}

func (t memoryOrdersTx) UpdateStatus(ctx context.Context, o orders.Order) error { return nil }

func (t memoryOrdersTx) ReplaceItems(ctx context.Context, o orders.Order) error { return nil }

func (t memoryOrdersTx) Audit() audit.Appender { return t }

func (t memoryOrdersTx) AppendStatusChange(ctx context.Context, e audit.StatusChange) error {
	return nil
}

func (t memoryOrdersTx) AppendNote(ctx context.Context, e audit.Note) error {
	t.m.notes = append(t.m.notes, e)
	return nil
}

func (t memoryOrdersTx) AppendModification(ctx context.Context, e audit.Modification) error {
	return nil
}

var testTenant = uuid.MustParse("9a7e4c2b-1f3d-4e5a-8b6c-7d8e9f0a1b2c")

func principalCtx() context.Context {
	return withPrincipal(context.Background())
}

func withPrincipal(ctx context.Context) context.Context {
	return shared.ContextWithPrincipal(ctx, shared.Principal{TenantID: testTenant, Actor: "ops-1"})
}

func newTestService(t *testing.T, store *memoryStore, client redis.UniversalClient) *Service {
	t.Helper()
	builder := orders.NewService(nil, nil, nil, nil)
	svc := NewService(store, builder, cache.NewLeaser(client, time.Minute), observability.NewMetrics(), nil)
	svc.WithClock(func() time.Time { return time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC) })
	return svc
}

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleInput() SubscriptionInput {
	return SubscriptionInput{
		CustomerID: uuid.New(),
		Schedule:   ScheduleMonthly,
		BillingDay: 1,
		StartDate:  day("2025-11-01"),
		Items: []orders.Item{
			{ProductID: uuid.New(), Quantity: 2, UnitPrice: decimal.RequireFromString("12.50")},
		},
		ShippingAddress: "12 Harbour Rd",
	}
}

func TestMonthlySubscriptionGeneratesOnBillingDay(t *testing.T) {
	store := newMemoryStore()
	_, client := newRedis(t)
	svc := newTestService(t, store, client)

	sub, err := svc.CreateSubscription(principalCtx(), sampleInput())
	require.NoError(t, err)
	require.Equal(t, "2025-12-01", sub.NextOrderDate.Format(time.DateOnly))
	require.Equal(t, StatusActive, sub.Status)

	report, err := svc.GenerateDueOrders(context.Background(), time.Date(2025, 12, 1, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, report.Generated, 1)
	require.Equal(t, "2025-12-01", report.Generated[0].DueDate)

	generated := store.ordersFor(sub.ID)
	require.Len(t, generated, 1)
	require.Equal(t, orders.StatusPending, generated[0].Status)
	require.Equal(t, "25.00", generated[0].TotalAmount.StringFixed(2))
	require.Equal(t, sub.CustomerID, generated[0].CustomerID)

	stored, err := svc.GetSubscription(principalCtx(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, "2026-01-01", stored.NextOrderDate.Format(time.DateOnly))
	require.NotNil(t, stored.LastGeneratedFor)

	require.Len(t, store.notes, 1)
	require.Equal(t, shared.SystemActor, store.notes[0].Actor)
	require.Equal(t, audit.VisibilityInternal, store.notes[0].Visibility)
	require.Contains(t, store.notes[0].Note, sub.ID.String())

	report, err = svc.GenerateDueOrders(context.Background(), time.Date(2025, 12, 1, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Empty(t, report.Generated)
	require.Len(t, store.ordersFor(sub.ID), 1)
}

func TestWeeklySubscriptionStartsOnMatchingWeekday(t *testing.T) {
	store := newMemoryStore()
	_, client := newRedis(t)
	svc := newTestService(t, store, client)

	in := sampleInput()
	in.Schedule, in.BillingDay = ScheduleWeekly, 6
	sub, err := svc.CreateSubscription(principalCtx(), in)
	require.NoError(t, err)
	require.Equal(t, "2025-11-01", sub.NextOrderDate.Format(time.DateOnly))

	report, err := svc.GenerateDueOrders(context.Background(), day("2025-11-01"))
	require.NoError(t, err)
	require.Len(t, report.Generated, 1)

	stored, err := svc.GetSubscription(principalCtx(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-11-08", stored.NextOrderDate.Format(time.DateOnly))
}

func TestConcurrentGenerateCallsShareOneRun(t *testing.T) {
	store := newMemoryStore()
	_, client := newRedis(t)
	svc := newTestService(t, store, client)
	_, err := svc.CreateSubscription(principalCtx(), sampleInput())
	require.NoError(t, err)

	store.listEntered = make(chan struct{}, 2)
	store.listGate = make(chan struct{})

	reports := make(chan GenerationReport, 2)
	go func() {
		r, _ := svc.GenerateDueOrders(context.Background(), day("2025-12-01"))
		reports <- r
	}()
	<-store.listEntered
	go func() {
		r, _ := svc.GenerateDueOrders(context.Background(), day("2025-12-02"))
		reports <- r
	}()
	time.Sleep(50 * time.Millisecond)
	close(store.listGate)

	first, second := <-reports, <-reports
	require.Equal(t, int32(1), store.listCalls.Load())
	require.Len(t, first.Generated, 1)
	require.Equal(t, first, second)
}

func TestGenerateSkipsHeldLease(t *testing.T) {
	store := newMemoryStore()
	mr, client := newRedis(t)
	svc := newTestService(t, store, client)
	sub, err := svc.CreateSubscription(principalCtx(), sampleInput())
	require.NoError(t, err)

	require.NoError(t, mr.Set(shared.RecurringLeaseKey(sub.ID, sub.NextOrderDate), "other-replica"))
	report, err := svc.GenerateDueOrders(context.Background(), day("2025-12-01"))
	require.NoError(t, err)
	require.Empty(t, report.Generated)
	require.Equal(t, 1, report.Skipped)
	require.Empty(t, store.ordersFor(sub.ID))

	mr.Del(shared.RecurringLeaseKey(sub.ID, sub.NextOrderDate))
	report, err = svc.GenerateDueOrders(context.Background(), day("2025-12-01"))
	require.NoError(t, err)
	require.Len(t, report.Generated, 1)
	require.False(t, mr.Exists(shared.RecurringLeaseKey(sub.ID, day("2025-12-01"))), "lease released after run")
}

func TestGenerateAcrossReplicasCreatesOneOrder(t *testing.T) {
	store := newMemoryStore()
	_, client := newRedis(t)
	replicas := []*Service{newTestService(t, store, client), newTestService(t, store, client), newTestService(t, store, client)}
	sub, err := replicas[0].CreateSubscription(principalCtx(), sampleInput())
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, len(replicas)*3)
	for _, svc := range replicas {
		for range 3 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.GenerateDueOrders(context.Background(), day("2025-12-01"))
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Len(t, store.ordersFor(sub.ID), 1)
}

func TestGenerateIdempotencyKeyBlocksReplay(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, nil)
	sub, err := svc.CreateSubscription(principalCtx(), sampleInput())
	require.NoError(t, err)
	store.claimed[shared.RecurringIdempotencyKey(sub.ID, sub.NextOrderDate)] = struct{}{}

	report, err := svc.GenerateDueOrders(context.Background(), day("2025-12-01"))
	require.NoError(t, err)
	require.Equal(t, 1, report.Skipped)
	require.Empty(t, store.ordersFor(sub.ID))
}

func TestGenerateRollsBackOnFailure(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, nil)
	sub, err := svc.CreateSubscription(principalCtx(), sampleInput())
	require.NoError(t, err)
	store.failInsert = errors.New("insert failed")

	report, err := svc.GenerateDueOrders(context.Background(), day("2025-12-01"))
	require.Error(t, err)
	require.Equal(t, 1, report.Failed)
	stored, err := svc.GetSubscription(principalCtx(), sub.ID)
	require.NoError(t, err)
	require.Equal(t, "2025-12-01", stored.NextOrderDate.Format(time.DateOnly))
	require.Empty(t, store.claimed)
	require.Empty(t, store.notes)
}

func TestGenerateIgnoresPausedAndFuture(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, nil)
	paused, err := svc.CreateSubscription(principalCtx(), sampleInput())
	require.NoError(t, err)
	_, err = svc.SetStatus(principalCtx(), paused.ID, StatusPaused)
	require.NoError(t, err)
	future := sampleInput()
	future.BillingDay = 20
	_, err = svc.CreateSubscription(principalCtx(), future)
	require.NoError(t, err)

	report, err := svc.GenerateDueOrders(context.Background(), day("2025-12-01"))
	require.NoError(t, err)
	require.Empty(t, report.Generated)
	require.Empty(t, store.orders)
}

func TestCreateSubscriptionValidation(t *testing.T) {
	svc := newTestService(t, newMemoryStore(), nil)
	cases := map[string]func(*SubscriptionInput){
		"bad schedule":     func(in *SubscriptionInput) { in.Schedule = "daily" },
		"monthly day zero": func(in *SubscriptionInput) { in.BillingDay = 0 },
		"weekly day seven": func(in *SubscriptionInput) { in.Schedule, in.BillingDay = ScheduleWeekly, 7 },
		"no items":         func(in *SubscriptionInput) { in.Items = nil },
		"bad item":         func(in *SubscriptionInput) { in.Items[0].Quantity = 0 },
		"no customer":      func(in *SubscriptionInput) { in.CustomerID = uuid.Nil },
		"no start":         func(in *SubscriptionInput) { in.StartDate = time.Time{} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := sampleInput()
			mutate(&in)
			_, err := svc.CreateSubscription(principalCtx(), in)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
}

func TestSetStatusMoves(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, nil)
	sub, err := svc.CreateSubscription(principalCtx(), sampleInput())
	require.NoError(t, err)

	_, err = svc.SetStatus(principalCtx(), sub.ID, StatusActive)
	require.ErrorIs(t, err, shared.ErrValidation)

	paused, err := svc.SetStatus(principalCtx(), sub.ID, StatusPaused)
	require.NoError(t, err)
	require.Equal(t, StatusPaused, paused.Status)

	svc.WithClock(func() time.Time { return time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC) })
	resumed, err := svc.SetStatus(principalCtx(), sub.ID, StatusActive)
	require.NoError(t, err)
	require.Equal(t, "2026-03-01", resumed.NextOrderDate.Format(time.DateOnly), "missed occurrences are not backfilled")

	cancelled, err := svc.SetStatus(principalCtx(), sub.ID, StatusCancelled)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.SetStatus(principalCtx(), sub.ID, StatusActive)
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.SetStatus(principalCtx(), uuid.New(), StatusPaused)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListSubscriptionsPaginates(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(t, store, nil)
	for i := range 3 {
		svc.WithClock(func() time.Time { return time.Date(2025, 11, 1, i, 0, 0, 0, time.UTC) })
		_, err := svc.CreateSubscription(principalCtx(), sampleInput())
		require.NoError(t, err)
	}
	subs, page, err := svc.ListSubscriptions(principalCtx(), 2, 2)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	require.Equal(t, 3, page.Total)
	require.Equal(t, 2, page.TotalPages)

	other := shared.ContextWithPrincipal(context.Background(), shared.Principal{TenantID: uuid.New(), Actor: "x"})
	subs, _, err = svc.ListSubscriptions(other, 1, 20)
	require.NoError(t, err)
	require.NotNil(t, subs)
	require.Empty(t, subs)
}
