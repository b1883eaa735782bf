package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"librarian/internal/cache"
	"librarian/pkg/domain"
	"librarian/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Cache       *cache.Cache
}

// App wires the persistent store and the cache behind the loan workflow
// and the entity CRUD operations. Read paths go through the cache;
// every successful mutation invalidates the affected namespaces before
// returning.
type App struct {
	store store.Store
	cache *cache.Cache
}

// New constructs the application. When cfg.Store is nil a Postgres
// store is opened from cfg.DatabaseURL.
func New(cfg Config) (*App, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	return &App{store: dataStore, cache: cfg.Cache}, nil
}

// CheckoutInput carries the caller-supplied fields of a checkout.
type CheckoutInput struct {
	BookID   string
	MemberID string
	DueAt    time.Time
	Notes    string
}

// Checkout creates an active loan for the book and marks it
// unavailable. The store applies both changes as one serialized unit of
// work per book, so concurrent checkouts of the same book cannot both
// succeed.
func (a *App) Checkout(ctx context.Context, in CheckoutInput) (domain.Loan, error) {
	if strings.TrimSpace(in.BookID) == "" {
		return domain.Loan{}, fmt.Errorf("%w: bookId is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.MemberID) == "" {
		return domain.Loan{}, fmt.Errorf("%w: memberId is required", ErrInvalidInput)
	}
	if in.DueAt.IsZero() {
		return domain.Loan{}, fmt.Errorf("%w: dueAt is required", ErrInvalidInput)
	}
	loan := domain.Loan{
		ID:       uuid.NewString(),
		BookID:   in.BookID,
		MemberID: in.MemberID,
		LoanedAt: time.Now().UTC(),
		DueAt:    in.DueAt.UTC(),
		Status:   domain.LoanActive,
		Notes:    in.Notes,
	}
	if err := a.store.Checkout(loan); err != nil {
		return domain.Loan{}, err
	}
	// Checkout mutates the book too, so both namespaces go.
	a.invalidate(ctx, cache.LoanPrefix, cache.BookPrefix)
	slog.Info("book checked out", "loan_id", loan.ID, "book_id", loan.BookID, "member_id", loan.MemberID)
	return loan, nil
}

// Return closes an active loan and marks its book available again.
func (a *App) Return(ctx context.Context, loanID string) (domain.Loan, error) {
	loan, err := a.store.Return(loanID, time.Now())
	if err != nil {
		return domain.Loan{}, err
	}
	a.invalidate(ctx, cache.LoanPrefix, cache.BookPrefix)
	slog.Info("book returned", "loan_id", loan.ID, "book_id", loan.BookID)
	return loan, nil
}

// GetLoan retrieves a loan by ID.
func (a *App) GetLoan(ctx context.Context, id string) (domain.Loan, bool, error) {
	return a.store.GetLoan(id)
}

// ListLoans returns all loans with book and member display fields,
// consulting the cache first.
func (a *App) ListLoans(ctx context.Context) ([]domain.LoanDetail, error) {
	var details []domain.LoanDetail
	if a.cache.Get(ctx, cache.LoansKey, &details) {
		return details, nil
	}
	details, err := a.loanDetails()
	if err != nil {
		return nil, err
	}
	a.cache.Put(ctx, cache.LoansKey, details, 0)
	return details, nil
}

// ListOverdueLoans returns open loans past their due timestamp.
// Overdue is recomputed against the current clock, never cached state.
func (a *App) ListOverdueLoans(ctx context.Context) ([]domain.LoanDetail, error) {
	details, err := a.ListLoans(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	overdue := make([]domain.LoanDetail, 0)
	for _, d := range details {
		if d.Loan.Overdue(now) {
			d.Overdue = true
			overdue = append(overdue, d)
		}
	}
	return overdue, nil
}

func (a *App) loanDetails() ([]domain.LoanDetail, error) {
	loans, err := a.store.ListLoans()
	if err != nil {
		return nil, err
	}
	books, err := a.store.ListBooks()
	if err != nil {
		return nil, err
	}
	members, err := a.store.ListMembers()
	if err != nil {
		return nil, err
	}
	titles := make(map[string]string, len(books))
	for _, b := range books {
		titles[b.ID] = b.Title
	}
	names := make(map[string]string, len(members))
	for _, m := range members {
		names[m.ID] = strings.TrimSpace(m.FirstName + " " + m.LastName)
	}
	now := time.Now()
	details := make([]domain.LoanDetail, 0, len(loans))
	for _, loan := range loans {
		details = append(details, domain.LoanDetail{
			Loan:       loan,
			BookTitle:  titles[loan.BookID],
			MemberName: names[loan.MemberID],
			Overdue:    loan.Overdue(now),
		})
	}
	return details, nil
}

// CreateBook validates and stores a new book.
func (a *App) CreateBook(ctx context.Context, b domain.Book) (domain.Book, error) {
	if strings.TrimSpace(b.Title) == "" {
		return domain.Book{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(b.Author) == "" {
		return domain.Book{}, fmt.Errorf("%w: author is required", ErrInvalidInput)
	}
	b.ID = uuid.NewString()
	b.Available = true
	b.CreatedAt = time.Now().UTC()
	if err := a.store.CreateBook(b); err != nil {
		return domain.Book{}, err
	}
	a.invalidate(ctx, cache.BookPrefix)
	slog.Info("book created", "book_id", b.ID, "title", b.Title)
	return b, nil
}

// GetBook retrieves a book by ID.
func (a *App) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	return a.store.GetBook(id)
}

// ListBooks returns all books, consulting the cache first.
func (a *App) ListBooks(ctx context.Context) ([]domain.Book, error) {
	var books []domain.Book
	if a.cache.Get(ctx, cache.BooksKey, &books) {
		return books, nil
	}
	books, err := a.store.ListBooks()
	if err != nil {
		return nil, err
	}
	a.cache.Put(ctx, cache.BooksKey, books, 0)
	return books, nil
}

// UpdateBook applies a partial update. Availability cannot be updated
// here; it changes only through Checkout and Return.
func (a *App) UpdateBook(ctx context.Context, id string, upd domain.BookUpdate) (domain.Book, bool, error) {
	book, ok, err := a.store.UpdateBook(id, upd)
	if err != nil || !ok {
		return domain.Book{}, ok, err
	}
	a.invalidate(ctx, cache.BookPrefix)
	slog.Info("book updated", "book_id", id)
	return book, true, nil
}

// DeleteBook removes a book; its loan history is kept.
func (a *App) DeleteBook(ctx context.Context, id string) (bool, error) {
	ok, err := a.store.DeleteBook(id)
	if err != nil || !ok {
		return ok, err
	}
	a.invalidate(ctx, cache.BookPrefix)
	slog.Info("book deleted", "book_id", id)
	return true, nil
}

// CreateMember validates and stores a new member.
func (a *App) CreateMember(ctx context.Context, m domain.Member) (domain.Member, error) {
	if strings.TrimSpace(m.FirstName) == "" {
		return domain.Member{}, fmt.Errorf("%w: firstName is required", ErrInvalidInput)
	}
	if strings.TrimSpace(m.LastName) == "" {
		return domain.Member{}, fmt.Errorf("%w: lastName is required", ErrInvalidInput)
	}
	if strings.TrimSpace(m.Email) == "" {
		return domain.Member{}, fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	m.ID = uuid.NewString()
	m.Active = true
	m.JoinedAt = time.Now().UTC()
	if err := a.store.CreateMember(m); err != nil {
		return domain.Member{}, err
	}
	a.invalidate(ctx, cache.MemberPrefix)
	slog.Info("member created", "member_id", m.ID)
	return m, nil
}

// GetMember retrieves a member by ID.
func (a *App) GetMember(ctx context.Context, id string) (domain.Member, bool, error) {
	return a.store.GetMember(id)
}

// ListMembers returns all members, consulting the cache first.
func (a *App) ListMembers(ctx context.Context) ([]domain.Member, error) {
	var members []domain.Member
	if a.cache.Get(ctx, cache.MembersKey, &members) {
		return members, nil
	}
	members, err := a.store.ListMembers()
	if err != nil {
		return nil, err
	}
	a.cache.Put(ctx, cache.MembersKey, members, 0)
	return members, nil
}

// UpdateMember applies a partial update.
func (a *App) UpdateMember(ctx context.Context, id string, upd domain.MemberUpdate) (domain.Member, bool, error) {
	member, ok, err := a.store.UpdateMember(id, upd)
	if err != nil || !ok {
		return domain.Member{}, ok, err
	}
	a.invalidate(ctx, cache.MemberPrefix)
	slog.Info("member updated", "member_id", id)
	return member, true, nil
}

// DeleteMember removes a member; their loan history is kept.
func (a *App) DeleteMember(ctx context.Context, id string) (bool, error) {
	ok, err := a.store.DeleteMember(id)
	if err != nil || !ok {
		return ok, err
	}
	a.invalidate(ctx, cache.MemberPrefix)
	slog.Info("member deleted", "member_id", id)
	return true, nil
}

// invalidate drops the given namespaces plus the stats namespace,
// before the mutation result is returned to the caller.
func (a *App) invalidate(ctx context.Context, prefixes ...string) {
	for _, prefix := range prefixes {
		a.cache.DeleteByPrefix(ctx, prefix)
	}
	a.cache.DeleteByPrefix(ctx, cache.StatsPrefix)
}
