package store

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"librarian/pkg/domain"
)

func seedMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	if err := m.CreateBook(domain.Book{ID: "b1", Title: "Dune", Author: "Herbert", Available: true, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create book: %v", err)
	}
	if err := m.CreateMember(domain.Member{ID: "m1", FirstName: "Paul", LastName: "Atreides", Email: "paul@example.com", Active: true, JoinedAt: time.Now()}); err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

func activeLoan(id string) domain.Loan {
	return domain.Loan{
		ID:       id,
		BookID:   "b1",
		MemberID: "m1",
		LoanedAt: time.Now(),
		DueAt:    time.Now().Add(time.Hour),
		Status:   domain.LoanActive,
	}
}

func TestMemoryStoreCheckoutGuards(t *testing.T) {
	m := seedMemoryStore(t)

	if err := m.Checkout(activeLoan("l1")); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	book, _, _ := m.GetBook("b1")
	if book.Available {
		t.Fatalf("book still available after checkout")
	}
	if err := m.Checkout(activeLoan("l2")); !errors.Is(err, ErrBookUnavailable) {
		t.Fatalf("checkout of loaned book err = %v, want ErrBookUnavailable", err)
	}

	missingBook := activeLoan("l3")
	missingBook.BookID = "nope"
	if err := m.Checkout(missingBook); !errors.Is(err, ErrBookNotFound) {
		t.Fatalf("unknown book err = %v, want ErrBookNotFound", err)
	}
	missingMember := activeLoan("l4")
	missingMember.MemberID = "nope"
	if err := m.Checkout(missingMember); !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("unknown member err = %v, want ErrMemberNotFound", err)
	}
}

func TestMemoryStoreActiveLoanGuardWithoutFlag(t *testing.T) {
	m := seedMemoryStore(t)
	if err := m.Checkout(activeLoan("l1")); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	// Force the flag out of sync; the active-loan scan must still refuse.
	b := m.books["b1"]
	b.Available = true
	m.books["b1"] = b
	if err := m.Checkout(activeLoan("l2")); !errors.Is(err, ErrBookAlreadyLoaned) {
		t.Fatalf("checkout err = %v, want ErrBookAlreadyLoaned", err)
	}
}

func TestMemoryStoreReturn(t *testing.T) {
	m := seedMemoryStore(t)
	if err := m.Checkout(activeLoan("l1")); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	loan, err := m.Return("l1", time.Now())
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if loan.Status != domain.LoanReturned || loan.ReturnedAt == nil {
		t.Fatalf("loan not closed: %+v", loan)
	}
	book, _, _ := m.GetBook("b1")
	if !book.Available {
		t.Fatalf("book not available after return")
	}

	if _, err := m.Return("l1", time.Now()); !errors.Is(err, ErrLoanAlreadyReturned) {
		t.Fatalf("second return err = %v, want ErrLoanAlreadyReturned", err)
	}
	if _, err := m.Return("nope", time.Now()); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("unknown loan err = %v, want ErrLoanNotFound", err)
	}
}

func TestMemoryStoreConcurrentCheckoutSingleWinner(t *testing.T) {
	m := seedMemoryStore(t)

	const attempts = 16
	start := make(chan struct{})
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = m.Checkout(activeLoan(fmt.Sprintf("l%d", i)))
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrBookUnavailable):
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("%d checkouts succeeded, want exactly 1", wins)
	}
	total, active, err := m.CountLoans()
	if err != nil {
		t.Fatalf("count loans: %v", err)
	}
	if total != 1 || active != 1 {
		t.Fatalf("loans = (%d total, %d active), want (1, 1)", total, active)
	}
}

func TestMemoryStoreUpdateBookCannotTouchAvailability(t *testing.T) {
	m := seedMemoryStore(t)
	if err := m.Checkout(activeLoan("l1")); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	title := "Dune Messiah"
	updated, ok, err := m.UpdateBook("b1", domain.BookUpdate{Title: &title})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	if updated.Available {
		t.Fatalf("update changed availability of a loaned book")
	}
	if updated.Title != "Dune Messiah" {
		t.Fatalf("title not applied: %+v", updated)
	}
}

func TestMemoryStoreListLoansNewestFirst(t *testing.T) {
	m := seedMemoryStore(t)
	if err := m.CreateBook(domain.Book{ID: "b2", Title: "Second", Author: "A", Available: true, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("create book: %v", err)
	}
	if err := m.Checkout(activeLoan("l1")); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	second := activeLoan("l2")
	second.BookID = "b2"
	if err := m.Checkout(second); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	loans, err := m.ListLoans()
	if err != nil {
		t.Fatalf("list loans: %v", err)
	}
	if len(loans) != 2 || loans[0].ID != "l2" || loans[1].ID != "l1" {
		t.Fatalf("unexpected order: %+v", loans)
	}
}

func TestMemoryStoreDeleteKeepsLoanHistory(t *testing.T) {
	m := seedMemoryStore(t)
	if err := m.Checkout(activeLoan("l1")); err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if ok, err := m.DeleteBook("b1"); err != nil || !ok {
		t.Fatalf("delete book: ok=%v err=%v", ok, err)
	}
	if _, ok, _ := m.GetLoan("l1"); !ok {
		t.Fatalf("loan history lost with the book")
	}
	// The ranking joins on live books, so the orphaned loan drops out.
	ranking, err := m.PopularBooks(10)
	if err != nil {
		t.Fatalf("popular books: %v", err)
	}
	if len(ranking) != 0 {
		t.Fatalf("ranking includes deleted book: %+v", ranking)
	}
}

func TestMemoryStoreCounts(t *testing.T) {
	m := seedMemoryStore(t)
	inactive := domain.Member{ID: "m2", FirstName: "Leto", LastName: "Atreides", Email: "leto@example.com", Active: false, JoinedAt: time.Now()}
	if err := m.CreateMember(inactive); err != nil {
		t.Fatalf("create member: %v", err)
	}
	if err := m.Checkout(activeLoan("l1")); err != nil {
		t.Fatalf("checkout: %v", err)
	}

	totalBooks, availableBooks, err := m.CountBooks()
	if err != nil || totalBooks != 1 || availableBooks != 0 {
		t.Fatalf("book counts = (%d, %d, %v), want (1, 0, nil)", totalBooks, availableBooks, err)
	}
	totalMembers, activeMembers, err := m.CountMembers()
	if err != nil || totalMembers != 2 || activeMembers != 1 {
		t.Fatalf("member counts = (%d, %d, %v), want (2, 1, nil)", totalMembers, activeMembers, err)
	}
	totalLoans, activeLoans, err := m.CountLoans()
	if err != nil || totalLoans != 1 || activeLoans != 1 {
		t.Fatalf("loan counts = (%d, %d, %v), want (1, 1, nil)", totalLoans, activeLoans, err)
	}
}
