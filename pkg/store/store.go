package store

import (
	"errors"
	"time"

	"librarian/pkg/domain"
)

// Workflow errors returned by Checkout and Return so callers can map
// each precondition failure to a distinct response.
var (
	ErrBookNotFound        = errors.New("book not found")
	ErrMemberNotFound      = errors.New("member not found")
	ErrBookUnavailable     = errors.New("book unavailable")
	ErrBookAlreadyLoaned   = errors.New("book already loaned")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrLoanAlreadyReturned = errors.New("loan already returned")
)

// Store defines persistence operations for books, members, and loans.
//
// Checkout and Return are transactional: the availability checks and the
// paired Loan/Book mutations are applied as one unit of work, serialized
// on the book row, so two concurrent checkouts of the same book yield
// exactly one success.
type Store interface {
	// books
	CreateBook(domain.Book) error
	GetBook(id string) (domain.Book, bool, error)
	ListBooks() ([]domain.Book, error)
	UpdateBook(id string, upd domain.BookUpdate) (domain.Book, bool, error)
	DeleteBook(id string) (bool, error)

	// members
	CreateMember(domain.Member) error
	GetMember(id string) (domain.Member, bool, error)
	ListMembers() ([]domain.Member, error)
	UpdateMember(id string, upd domain.MemberUpdate) (domain.Member, bool, error)
	DeleteMember(id string) (bool, error)

	// loans
	Checkout(loan domain.Loan) error
	Return(loanID string, at time.Time) (domain.Loan, error)
	GetLoan(id string) (domain.Loan, bool, error)
	ListLoans() ([]domain.Loan, error)

	// stats
	CountBooks() (total int, available int, err error)
	CountMembers() (total int, active int, err error)
	CountLoans() (total int, active int, err error)
	PopularBooks(limit int) ([]domain.BookLoanCount, error)
}
