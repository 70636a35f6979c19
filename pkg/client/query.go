package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/finkargo/tip-analytics/internal/core"
)

// QueryState is a snapshot of a Query.
type QueryState[T any] struct {
	Data         T
	Loading      bool
	Err          error
	LastFetch    time.Time
	FallbackUsed bool
	Provider     string
}

// Query tracks the latest result of one fetch function. A failed refetch
// keeps the previous data and records the error.
type Query[T any] struct {
	fetch func(context.Context) (Response[T], error)
	now   func() time.Time

	mu    sync.RWMutex
	state QueryState[T]
}

// NewQuery wraps fetch, typically a Client method value such as c.Inventory.
func NewQuery[T any](fetch func(context.Context) (Response[T], error)) *Query[T] {
	return &Query[T]{fetch: fetch, now: time.Now}
}

func (q *Query[T]) Refetch(ctx context.Context) error {
	q.mu.Lock()
	q.state.Loading = true
	q.mu.Unlock()

	res, err := q.fetch(ctx)

	q.mu.Lock()
	defer q.mu.Unlock()
	q.state.Loading = false
	if err != nil {
		q.state.Err = err
		return err
	}
	q.state.Data = res.Data
	q.state.Err = nil
	q.state.LastFetch = q.now()
	q.state.FallbackUsed = res.FallbackUsed
	q.state.Provider = res.Provider
	return nil
}

func (q *Query[T]) ClearError() {
	q.mu.Lock()
	q.state.Err = nil
	q.mu.Unlock()
}

func (q *Query[T]) State() QueryState[T] {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.state
}

// AllQueries groups the four core slices, each with its own state.
type AllQueries struct {
	Inventory      *Query[*core.InventoryData]
	Sales          *Query[*core.SalesData]
	Suppliers      *Query[[]core.SupplierData]
	CrossReference *Query[*core.CrossReferenceData]
}

func (c *Client) NewAllQueries() *AllQueries {
	return &AllQueries{
		Inventory:      NewQuery(c.Inventory),
		Sales:          NewQuery(c.Sales),
		Suppliers:      NewQuery(c.Suppliers),
		CrossReference: NewQuery(c.CrossReference),
	}
}

// Refetch refreshes all slices concurrently. One failing slice does not stop
// the others; the first error is returned.
func (a *AllQueries) Refetch(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return a.Inventory.Refetch(ctx) })
	g.Go(func() error { return a.Sales.Refetch(ctx) })
	g.Go(func() error { return a.Suppliers.Refetch(ctx) })
	g.Go(func() error { return a.CrossReference.Refetch(ctx) })
	return g.Wait()
}

// Loading is true while any slice is loading.
func (a *AllQueries) Loading() bool {
	return a.Inventory.State().Loading || a.Sales.State().Loading ||
		a.Suppliers.State().Loading || a.CrossReference.State().Loading
}

func (a *AllQueries) AnyError() bool {
	return a.Inventory.State().Err != nil || a.Sales.State().Err != nil ||
		a.Suppliers.State().Err != nil || a.CrossReference.State().Err != nil
}

func (a *AllQueries) ClearErrors() {
	a.Inventory.ClearError()
	a.Sales.ClearError()
	a.Suppliers.ClearError()
	a.CrossReference.ClearError()
}
