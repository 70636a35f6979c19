package analytics_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finkargo/tip-analytics/internal/analytics"
	"github.com/finkargo/tip-analytics/internal/core"
	"github.com/finkargo/tip-analytics/internal/providers"
)

type stubProvider struct {
	name     string
	priority int
	types    []core.DataType

	available   atomic.Bool
	fail        bool
	panics      bool
	delay       time.Duration
	data        any
	fetchCalls  atomic.Int32
	healthCalls atomic.Int32
}

func newStub(name string, priority int) *stubProvider {
	p := &stubProvider{name: name, priority: priority, data: &core.InventoryData{TotalProducts: priority}}
	p.available.Store(true)
	return p
}

func (p *stubProvider) Name() string  { return p.name }
func (p *stubProvider) Priority() int { return p.priority }

func (p *stubProvider) CanHandle(dt core.DataType) bool {
	if p.types == nil {
		return dt.Valid()
	}
	for _, t := range p.types {
		if t == dt {
			return true
		}
	}
	return false
}

func (p *stubProvider) IsAvailable(context.Context) bool {
	p.healthCalls.Add(1)
	return p.available.Load()
}

func (p *stubProvider) FetchData(ctx context.Context, _ string, _ core.DataType) core.Result {
	p.fetchCalls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}
	if p.panics {
		panic("provider exploded")
	}
	if p.fail {
		return core.Failure(p.name, "%s failed", p.name)
	}
	return core.Success(p.name, p.data)
}

func asProviders(stubs ...*stubProvider) []analytics.Provider {
	out := make([]analytics.Provider, len(stubs))
	for i, s := range stubs {
		out[i] = s
	}
	return out
}

func TestFetchWithFallback_PriorityOrdering(t *testing.T) {
	const n = 5
	for k := 1; k <= n; k++ {
		t.Run(fmt.Sprintf("provider_%d_succeeds", k), func(t *testing.T) {
			stubs := make([]*stubProvider, n)
			for i := range stubs {
				stubs[i] = newStub(fmt.Sprintf("p%d", i+1), i+1)
				stubs[i].fail = i+1 < k
			}
			// Registered out of order; the service sorts by priority.
			svc := analytics.NewService(asProviders(stubs[4], stubs[2], stubs[0], stubs[3], stubs[1]), analytics.Options{})

			res := svc.FetchWithFallback(context.Background(), "tenant-1", core.DataTypeInventory)

			require.True(t, res.Success, res.Error)
			assert.Equal(t, fmt.Sprintf("p%d", k), res.Provider)
			for i, s := range stubs {
				want := int32(0)
				if i+1 <= k {
					want = 1
				}
				assert.Equal(t, want, s.fetchCalls.Load(), "calls to %s", s.name)
			}

			health := svc.Snapshot()
			for i := 0; i < k-1; i++ {
				assert.Equal(t, core.ProviderDegraded, health.ProviderStatus[stubs[i].name])
			}
			assert.Equal(t, core.ProviderOnline, health.ProviderStatus[stubs[k-1].name])
		})
	}
}

func TestFetchWithFallback_AlwaysSucceedsWithFallback(t *testing.T) {
	failing := []*stubProvider{newStub("a", 1), newStub("b", 2), newStub("c", 3)}
	failing[0].fail = true
	failing[1].panics = true
	failing[2].fail = true

	list := asProviders(failing...)
	list = append(list, providers.NewFallbackProvider(providers.DefaultFallbackPriority))
	svc := analytics.NewService(list, analytics.Options{})

	for _, dt := range core.DataTypes {
		res := svc.FetchWithFallback(context.Background(), "tenant-1", dt)
		assert.True(t, res.Success, "data type %s: %s", dt, res.Error)
		assert.Equal(t, providers.FallbackProviderName, res.Provider)
		assert.True(t, res.FallbackUsed)
	}

	health := svc.Snapshot()
	assert.Equal(t, core.ProviderDegraded, health.ProviderStatus["a"])
	assert.Equal(t, core.ProviderOffline, health.ProviderStatus["b"])
}

func TestFetchWithFallback_Exhausted(t *testing.T) {
	a, b := newStub("a", 1), newStub("b", 2)
	a.fail, b.fail = true, true
	svc := analytics.NewService(asProviders(a, b), analytics.Options{})

	res := svc.FetchWithFallback(context.Background(), "t", core.DataTypeSales)
	assert.False(t, res.Success)
	assert.Nil(t, res.Data)
	assert.Contains(t, res.Error, "all providers failed")

	_, err := svc.GetSalesAnalytics(context.Background(), "t")
	assert.ErrorIs(t, err, analytics.ErrProvidersExhausted)
}

func TestFetchWithFallback_TimeoutMovesToNextProvider(t *testing.T) {
	slow := newStub("slow", 1)
	slow.delay = time.Second
	fast := newStub("fast", 2)

	svc := analytics.NewService(asProviders(slow, fast), analytics.Options{ProviderTimeout: 20 * time.Millisecond})

	start := time.Now()
	res := svc.FetchWithFallback(context.Background(), "t", core.DataTypeInventory)
	require.True(t, res.Success)
	assert.Equal(t, "fast", res.Provider)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, core.ProviderOffline, svc.Snapshot().ProviderStatus["slow"])
}

func TestFetchWithFallback_CancelledContext(t *testing.T) {
	a := newStub("a", 1)
	a.delay = time.Second
	b := newStub("b", 2)
	svc := analytics.NewService(asProviders(a, b), analytics.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := svc.FetchWithFallback(ctx, "t", core.DataTypeInventory)
	assert.False(t, res.Success)
	assert.Zero(t, b.fetchCalls.Load())
	assert.Equal(t, core.ProviderOffline, svc.Snapshot().ProviderStatus["a"], "untouched providers stay unchecked")
}

func TestHealthAggregationThresholds(t *testing.T) {
	for _, n := range []int{1, 3, 5, 7, 10} {
		// Smallest count reaching 80% and largest count below 40%.
		healthyAt := (8*n + 9) / 10
		criticalAt := (4*n - 1) / 10

		for online := 0; online <= n; online++ {
			stubs := make([]*stubProvider, n)
			for i := range stubs {
				stubs[i] = newStub(fmt.Sprintf("p%d", i), i)
				stubs[i].available.Store(i < online)
			}
			svc := analytics.NewService(asProviders(stubs...), analytics.Options{})
			got := svc.CheckHealth(context.Background()).OverallHealth

			switch {
			case online >= healthyAt:
				assert.Equal(t, core.HealthHealthy, got, "n=%d online=%d", n, online)
			case online <= criticalAt:
				assert.Equal(t, core.HealthCritical, got, "n=%d online=%d", n, online)
			default:
				assert.Equal(t, core.HealthDegraded, got, "n=%d online=%d", n, online)
			}
		}
	}
}

func TestAggregate_NoProviders(t *testing.T) {
	assert.Equal(t, core.HealthCritical, analytics.Aggregate(nil))

	svc := analytics.NewService(nil, analytics.Options{})
	h := svc.CheckHealth(context.Background())
	assert.Equal(t, core.HealthCritical, h.OverallHealth)
	assert.True(t, h.FallbackActive)
}

func TestFallbackActiveTracksPrimary(t *testing.T) {
	primary, second, third := newStub("primary", 0), newStub("second", 1), newStub("third", 2)
	svc := analytics.NewService(asProviders(third, second, primary), analytics.Options{})

	h := svc.CheckHealth(context.Background())
	assert.False(t, h.FallbackActive)

	primary.available.Store(false)
	h = svc.CheckHealth(context.Background())
	assert.True(t, h.FallbackActive)
	assert.Equal(t, core.HealthDegraded, h.OverallHealth)

	primary.available.Store(true)
	second.available.Store(false)
	third.available.Store(false)
	h = svc.CheckHealth(context.Background())
	assert.False(t, h.FallbackActive)
	assert.Equal(t, core.HealthCritical, h.OverallHealth)
}

func TestCheckHealth_PanickingAvailabilityCheckIsOffline(t *testing.T) {
	svc := analytics.NewService([]analytics.Provider{panickyProvider{}, newStub("ok", 1)}, analytics.Options{})
	h := svc.CheckHealth(context.Background())
	assert.Equal(t, core.ProviderOffline, h.ProviderStatus["panicky"])
	assert.Equal(t, core.ProviderOnline, h.ProviderStatus["ok"])
	assert.True(t, h.FallbackActive)
}

type panickyProvider struct{}

func (panickyProvider) Name() string { return "panicky" }

func (panickyProvider) Priority() int { return 0 }

func (panickyProvider) CanHandle(core.DataType) bool { return true }

func (panickyProvider) IsAvailable(context.Context) bool { panic("availability check exploded") }

func (panickyProvider) FetchData(context.Context, string, core.DataType) core.Result {
	return core.Failure("panicky", "unused")
}

func TestGetHealthStatus_ServesCachedSnapshotWithinInterval(t *testing.T) {
	p := newStub("p", 0)
	svc := analytics.NewService(asProviders(p), analytics.Options{HealthInterval: time.Hour})

	first := svc.GetHealthStatus(context.Background())
	second := svc.GetHealthStatus(context.Background())
	assert.Equal(t, int32(1), p.healthCalls.Load())
	assert.Equal(t, first.LastCheck, second.LastCheck)

	stale := analytics.NewService(asProviders(p), analytics.Options{HealthInterval: time.Millisecond})
	stale.GetHealthStatus(context.Background())
	time.Sleep(5 * time.Millisecond)
	stale.GetHealthStatus(context.Background())
	assert.Equal(t, int32(3), p.healthCalls.Load())
}

func TestStart_SweepsImmediatelyAndOnInterval(t *testing.T) {
	p := newStub("p", 0)
	svc := analytics.NewService(asProviders(p), analytics.Options{HealthInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return p.healthCalls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.Equal(t, core.HealthHealthy, svc.Snapshot().OverallHealth)
}

func TestAddAndRemoveProvider(t *testing.T) {
	a, c := newStub("a", 1), newStub("c", 3)
	svc := analytics.NewService(asProviders(c, a), analytics.Options{})

	require.NoError(t, svc.AddProvider(newStub("b", 2)))
	require.NoError(t, svc.AddProvider(newStub("z", 0)))
	assert.ErrorIs(t, svc.AddProvider(newStub("a", 9)), analytics.ErrDuplicateProvider)

	var names []string
	for _, info := range svc.Providers() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"z", "a", "b", "c"}, names)
	assert.True(t, svc.Providers()[0].Primary)

	res := svc.FetchWithFallback(context.Background(), "t", core.DataTypeInventory)
	assert.Equal(t, "z", res.Provider)

	assert.True(t, svc.RemoveProvider("z"))
	assert.False(t, svc.RemoveProvider("z"))
	res = svc.FetchWithFallback(context.Background(), "t", core.DataTypeInventory)
	assert.Equal(t, "a", res.Provider)
	_, ok := svc.Snapshot().ProviderStatus["z"]
	assert.False(t, ok)
}

func TestFetch_BackendAndCSVDownFallbackServes(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	backend, err := providers.NewBackendProvider(providers.HTTPConfig{BaseURL: down.URL}, 1, nil)
	require.NoError(t, err)
	csv, err := providers.NewCSVProvider(providers.CSVConfig{HTTPConfig: providers.HTTPConfig{BaseURL: down.URL}, Priority: 2})
	require.NoError(t, err)
	fallback := providers.NewFallbackProvider(10)

	svc := analytics.NewService([]analytics.Provider{backend, csv, fallback}, analytics.Options{})

	res := svc.FetchWithFallback(context.Background(), "tenant-1", core.DataTypeInventory)
	require.True(t, res.Success)
	assert.Equal(t, "FallbackProvider", res.Provider)
	assert.True(t, res.FallbackUsed)

	typed, err := svc.GetInventoryAnalytics(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "FallbackProvider", typed.Provider)
	assert.True(t, typed.FallbackUsed)
	assert.NotNil(t, typed.Data)
}

func TestUpload_SupplierCountMatchesDistinctVendors(t *testing.T) {
	realData := providers.NewRealDataProvider(nil, nil, nil)
	svc := analytics.NewService([]analytics.Provider{
		realData,
		providers.NewFallbackProvider(10),
	}, analytics.Options{})

	names := []string{"Acme", "Globex", "Initech", "Umbrella", "Stark", "Wayne", "Tyrell"}
	var b strings.Builder
	b.WriteString("sku,product,vendor,quantity,unit_cost,unit_price,units_sold,on_time,quality_score\n")
	distinct := map[string]bool{}
	for i := 0; i < 100; i++ {
		supplier := names[(i*3)%len(names)]
		distinct[supplier] = true
		fmt.Fprintf(&b, "SKU-%d,Item %d,%s,%d,4,9,%d,%t,%d\n", i, i, supplier, i%30, i%11, i%4 != 0, 70+i%30)
	}

	up := svc.UploadTabularData(context.Background(), "demo_org", b.String())
	require.True(t, up.Success, up.Message)
	assert.Equal(t, 100, up.RowsProcessed)
	assert.NotEmpty(t, up.UploadID)

	res, err := svc.GetSupplierAnalytics(context.Background(), "demo_org")
	require.NoError(t, err)
	assert.Equal(t, providers.RealDataProviderName, res.Provider)
	assert.False(t, res.FallbackUsed)
	assert.Len(t, res.Data, len(distinct))

	other, err := svc.GetSupplierAnalytics(context.Background(), "other_org")
	require.NoError(t, err)
	assert.Equal(t, providers.FallbackProviderName, other.Provider)
}

func TestFetch_UnknownDataTypeLeavesHealthUnchanged(t *testing.T) {
	svc := analytics.NewService([]analytics.Provider{
		newStub("a", 1),
		providers.NewFallbackProvider(10),
	}, analytics.Options{})
	svc.CheckHealth(context.Background())
	before := svc.Snapshot()

	res := svc.FetchWithFallback(context.Background(), "t", "unknown-type")
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no provider")
	assert.Equal(t, before, svc.Snapshot())
}

type uploadStub struct {
	*stubProvider
	accept      bool
	uploads     atomic.Int32
	invalidated atomic.Int32
}

func (u *uploadStub) UploadCSVData(context.Context, string, string) core.UploadResult {
	u.uploads.Add(1)
	if !u.accept {
		return core.UploadResult{Success: false, Message: "rejected"}
	}
	return core.UploadResult{Success: true, Message: "ok", RowsProcessed: 2}
}

func (u *uploadStub) Invalidate(context.Context, string) {
	u.invalidated.Add(1)
}

func TestUploadTabularData_ForwardsAfterLocalIngest(t *testing.T) {
	local := &uploadStub{stubProvider: newStub("local", 1), accept: true}
	remote := &uploadStub{stubProvider: newStub("remote", 2)}
	svc := analytics.NewService([]analytics.Provider{local, remote, newStub("plain", 3)}, analytics.Options{})

	res := svc.UploadTabularData(context.Background(), "t", "sku\nA\nB\n")
	require.True(t, res.Success, res.Message)
	assert.NotEmpty(t, res.UploadID)
	assert.Equal(t, 2, res.RowsProcessed)
	assert.Contains(t, res.Message, "local: ok")
	assert.Contains(t, res.Message, "remote: rejected")
	assert.Equal(t, int32(1), local.uploads.Load())
	assert.Equal(t, int32(1), remote.uploads.Load())
	assert.Equal(t, int32(1), local.invalidated.Load())
	assert.Equal(t, int32(1), remote.invalidated.Load())

	res = svc.UploadTabularData(context.Background(), "", "sku\nA\n")
	assert.False(t, res.Success)

	none := analytics.NewService(asProviders(newStub("plain", 1)), analytics.Options{})
	res = none.UploadTabularData(context.Background(), "t", "sku\nA\n")
	assert.False(t, res.Success)
	assert.Equal(t, analytics.ErrNoUploader.Error(), res.Message)
}

func TestUploadTabularData_LocalRejectIsNotForwarded(t *testing.T) {
	local := &uploadStub{stubProvider: newStub("local", 1)}
	remote := &uploadStub{stubProvider: newStub("remote", 2), accept: true}
	svc := analytics.NewService([]analytics.Provider{local, remote}, analytics.Options{})

	res := svc.UploadTabularData(context.Background(), "t", "sku\nA\n")
	assert.False(t, res.Success)
	assert.Empty(t, res.UploadID)
	assert.Equal(t, "rejected", res.Message)
	assert.Equal(t, int32(1), local.uploads.Load())
	assert.Zero(t, remote.uploads.Load())
	assert.Zero(t, local.invalidated.Load())
	assert.Zero(t, remote.invalidated.Load())
}

func TestValidateTabularData(t *testing.T) {
	svc := analytics.NewService([]analytics.Provider{providers.NewRealDataProvider(nil, nil, nil)}, analytics.Options{})
	v := svc.ValidateTabularData(context.Background(), "sku,supplier\nA,Acme\n")
	assert.True(t, v.Valid)
	assert.Equal(t, 1, v.ValidRows)

	none := analytics.NewService(nil, analytics.Options{})
	assert.False(t, none.ValidateTabularData(context.Background(), "sku\nA\n").Valid)
}

func TestGetAllAnalytics(t *testing.T) {
	svc := analytics.NewService([]analytics.Provider{providers.NewFallbackProvider(10)}, analytics.Options{})

	all, err := svc.GetAllAnalytics(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.False(t, all.AnyError())
	assert.True(t, all.FallbackUsed())
	assert.NotNil(t, all.Inventory.Data)
	assert.NotNil(t, all.Sales.Data)
	assert.NotEmpty(t, all.Suppliers.Data)
	assert.NotNil(t, all.CrossReference.Data)
}

func TestGetAllAnalytics_PartialFailure(t *testing.T) {
	inv := newStub("inventory-only", 1)
	inv.types = []core.DataType{core.DataTypeInventory}
	svc := analytics.NewService(asProviders(inv), analytics.Options{})

	all, err := svc.GetAllAnalytics(context.Background(), "t")
	require.Error(t, err)
	assert.True(t, all.AnyError())
	assert.Len(t, all.Errors, 3)
	assert.Equal(t, "inventory-only", all.Inventory.Provider)
	assert.Contains(t, all.Errors[core.DataTypeSales], "no provider")
}

func TestFetchWithFallback_WrongPayloadFallsThrough(t *testing.T) {
	bad := newStub("bad", 1)
	bad.data = "not inventory"
	good := newStub("good", 2)
	svc := analytics.NewService(asProviders(bad, good), analytics.Options{})

	res, err := svc.GetInventoryAnalytics(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, "good", res.Provider)
	assert.Equal(t, 1, int(bad.fetchCalls.Load()))
	assert.Equal(t, core.ProviderDegraded, svc.Snapshot().ProviderStatus["bad"])

	alone := analytics.NewService(asProviders(newStub("inventory", 1)), analytics.Options{})
	_, err = alone.GetMarketIntelligence(context.Background(), "t")
	assert.ErrorIs(t, err, analytics.ErrProvidersExhausted)
	assert.Equal(t, core.ProviderDegraded, alone.Snapshot().ProviderStatus["inventory"])
}
