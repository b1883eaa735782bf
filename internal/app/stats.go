package app

import (
	"context"
	"time"

	"librarian/internal/cache"
	"librarian/pkg/domain"
)

const popularBooksLimit = 10

// Dashboard returns the aggregate counters for the dashboard,
// consulting the cache first.
func (a *App) Dashboard(ctx context.Context) (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	if a.cache.Get(ctx, cache.DashboardKey, &stats) {
		return stats, nil
	}
	totalBooks, availableBooks, err := a.store.CountBooks()
	if err != nil {
		return domain.DashboardStats{}, err
	}
	totalMembers, activeMembers, err := a.store.CountMembers()
	if err != nil {
		return domain.DashboardStats{}, err
	}
	totalLoans, activeLoans, err := a.store.CountLoans()
	if err != nil {
		return domain.DashboardStats{}, err
	}
	loans, err := a.store.ListLoans()
	if err != nil {
		return domain.DashboardStats{}, err
	}
	now := time.Now()
	overdue := 0
	for _, loan := range loans {
		if loan.Overdue(now) {
			overdue++
		}
	}
	stats = domain.DashboardStats{
		TotalBooks:     totalBooks,
		AvailableBooks: availableBooks,
		TotalMembers:   totalMembers,
		ActiveMembers:  activeMembers,
		TotalLoans:     totalLoans,
		ActiveLoans:    activeLoans,
		OverdueLoans:   overdue,
	}
	a.cache.Put(ctx, cache.DashboardKey, stats, 0)
	return stats, nil
}

// PopularBooks ranks books by loan count, consulting the cache first.
func (a *App) PopularBooks(ctx context.Context) ([]domain.BookLoanCount, error) {
	var ranking []domain.BookLoanCount
	if a.cache.Get(ctx, cache.PopularBooksKey, &ranking) {
		return ranking, nil
	}
	ranking, err := a.store.PopularBooks(popularBooksLimit)
	if err != nil {
		return nil, err
	}
	a.cache.Put(ctx, cache.PopularBooksKey, ranking, 0)
	return ranking, nil
}

// Health probes the persistent store and the cache backend.
func (a *App) Health(ctx context.Context) (dbOK, cacheOK bool) {
	_, _, err := a.store.CountBooks()
	dbOK = err == nil
	cacheOK = a.cache.Ping(ctx) == nil
	return dbOK, cacheOK
}

// CacheStats reports cache keyspace activity.
func (a *App) CacheStats(ctx context.Context) (cache.Stats, error) {
	return a.cache.Stats(ctx)
}
