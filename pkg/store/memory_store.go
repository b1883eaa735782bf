package store

import (
	"sort"
	"sync"
	"time"

	"librarian/pkg/domain"
)

// MemoryStore keeps records in-process. It implements the same
// transactional contract as GormStore by serializing Checkout and
// Return under one mutex, which is only valid within a single process;
// it exists for tests and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	books   map[string]domain.Book
	members map[string]domain.Member
	loans   map[string]domain.Loan
	order   []string // loan IDs in insertion order
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		books:   make(map[string]domain.Book),
		members: make(map[string]domain.Member),
		loans:   make(map[string]domain.Loan),
	}
}

// CreateBook stores a book record.
func (m *MemoryStore) CreateBook(b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[b.ID] = b
	return nil
}

// GetBook retrieves a book by ID.
func (m *MemoryStore) GetBook(id string) (domain.Book, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.books[id]
	return b, ok, nil
}

// ListBooks returns books ordered by creation time.
func (m *MemoryStore) ListBooks() ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Book, 0, len(m.books))
	for _, b := range m.books {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// UpdateBook applies the non-nil fields of upd.
func (m *MemoryStore) UpdateBook(id string, upd domain.BookUpdate) (domain.Book, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.books[id]
	if !ok {
		return domain.Book{}, false, nil
	}
	if upd.Title != nil {
		b.Title = *upd.Title
	}
	if upd.Author != nil {
		b.Author = *upd.Author
	}
	if upd.Publisher != nil {
		b.Publisher = *upd.Publisher
	}
	if upd.Year != nil {
		b.Year = *upd.Year
	}
	if upd.ISBN != nil {
		b.ISBN = *upd.ISBN
	}
	if upd.Pages != nil {
		b.Pages = *upd.Pages
	}
	if upd.Description != nil {
		b.Description = *upd.Description
	}
	m.books[id] = b
	return b, true, nil
}

// DeleteBook removes a book. Loan history is kept.
func (m *MemoryStore) DeleteBook(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.books[id]; !ok {
		return false, nil
	}
	delete(m.books, id)
	return true, nil
}

// CreateMember stores a member record.
func (m *MemoryStore) CreateMember(member domain.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ID] = member
	return nil
}

// GetMember retrieves a member by ID.
func (m *MemoryStore) GetMember(id string) (domain.Member, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	member, ok := m.members[id]
	return member, ok, nil
}

// ListMembers returns members ordered by join time.
func (m *MemoryStore) ListMembers() ([]domain.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Member, 0, len(m.members))
	for _, member := range m.members {
		res = append(res, member)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].JoinedAt.Before(res[j].JoinedAt) })
	return res, nil
}

// UpdateMember applies the non-nil fields of upd.
func (m *MemoryStore) UpdateMember(id string, upd domain.MemberUpdate) (domain.Member, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	member, ok := m.members[id]
	if !ok {
		return domain.Member{}, false, nil
	}
	if upd.FirstName != nil {
		member.FirstName = *upd.FirstName
	}
	if upd.LastName != nil {
		member.LastName = *upd.LastName
	}
	if upd.Email != nil {
		member.Email = *upd.Email
	}
	if upd.Phone != nil {
		member.Phone = *upd.Phone
	}
	if upd.Address != nil {
		member.Address = *upd.Address
	}
	if upd.Active != nil {
		member.Active = *upd.Active
	}
	m.members[id] = member
	return member, true, nil
}

// DeleteMember removes a member. Loan history is kept.
func (m *MemoryStore) DeleteMember(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.members[id]; !ok {
		return false, nil
	}
	delete(m.members, id)
	return true, nil
}

// Checkout creates the loan and flips the book to unavailable. The
// whole read-check-write sequence runs under the write lock.
func (m *MemoryStore) Checkout(loan domain.Loan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	book, ok := m.books[loan.BookID]
	if !ok {
		return ErrBookNotFound
	}
	if _, ok := m.members[loan.MemberID]; !ok {
		return ErrMemberNotFound
	}
	if !book.Available {
		return ErrBookUnavailable
	}
	for _, existing := range m.loans {
		if existing.BookID == loan.BookID && existing.Status == domain.LoanActive {
			return ErrBookAlreadyLoaned
		}
	}
	m.loans[loan.ID] = loan
	m.order = append(m.order, loan.ID)
	book.Available = false
	m.books[loan.BookID] = book
	return nil
}

// Return closes the loan and flips the book back to available.
func (m *MemoryStore) Return(loanID string, at time.Time) (domain.Loan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	loan, ok := m.loans[loanID]
	if !ok {
		return domain.Loan{}, ErrLoanNotFound
	}
	if loan.Status != domain.LoanActive {
		return domain.Loan{}, ErrLoanAlreadyReturned
	}
	at = at.UTC()
	loan.Status = domain.LoanReturned
	loan.ReturnedAt = &at
	m.loans[loanID] = loan
	if book, ok := m.books[loan.BookID]; ok {
		book.Available = true
		m.books[loan.BookID] = book
	}
	return loan, nil
}

// GetLoan retrieves a loan by ID.
func (m *MemoryStore) GetLoan(id string) (domain.Loan, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loan, ok := m.loans[id]
	return loan, ok, nil
}

// ListLoans returns loans newest first.
func (m *MemoryStore) ListLoans() ([]domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Loan, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if loan, ok := m.loans[m.order[i]]; ok {
			res = append(res, loan)
		}
	}
	return res, nil
}

// CountBooks returns total and available book counts.
func (m *MemoryStore) CountBooks() (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	available := 0
	for _, b := range m.books {
		if b.Available {
			available++
		}
	}
	return len(m.books), available, nil
}

// CountMembers returns total and active member counts.
func (m *MemoryStore) CountMembers() (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := 0
	for _, member := range m.members {
		if member.Active {
			active++
		}
	}
	return len(m.members), active, nil
}

// CountLoans returns total and active loan counts.
func (m *MemoryStore) CountLoans() (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	active := 0
	for _, loan := range m.loans {
		if loan.Status == domain.LoanActive {
			active++
		}
	}
	return len(m.loans), active, nil
}

// PopularBooks ranks books by loan count, most-loaned first.
func (m *MemoryStore) PopularBooks(limit int) ([]domain.BookLoanCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		limit = 10
	}
	counts := make(map[string]int)
	for _, loan := range m.loans {
		counts[loan.BookID]++
	}
	res := make([]domain.BookLoanCount, 0, len(counts))
	for bookID, count := range counts {
		// Loans of deleted books are skipped, matching the SQL join.
		b, ok := m.books[bookID]
		if !ok {
			continue
		}
		res = append(res, domain.BookLoanCount{BookID: bookID, Title: b.Title, LoanCount: count})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].LoanCount != res[j].LoanCount {
			return res[i].LoanCount > res[j].LoanCount
		}
		return res[i].BookID < res[j].BookID
	})
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
