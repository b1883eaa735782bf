package domain

import "time"

type LoanStatus string

const (
	LoanActive   LoanStatus = "active"
	LoanReturned LoanStatus = "returned"
)

type Book struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	Publisher   string    `json:"publisher,omitempty"`
	Year        int       `json:"year,omitempty"`
	ISBN        string    `json:"isbn,omitempty"`
	Pages       int       `json:"pages,omitempty"`
	Description string    `json:"description,omitempty"`
	Available   bool      `json:"available"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Member struct {
	ID        string    `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Address   string    `json:"address,omitempty"`
	Active    bool      `json:"active"`
	JoinedAt  time.Time `json:"joinedAt"`
}

type Loan struct {
	ID         string     `json:"id"`
	BookID     string     `json:"bookId"`
	MemberID   string     `json:"memberId"`
	LoanedAt   time.Time  `json:"loanedAt"`
	DueAt      time.Time  `json:"dueAt"`
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
	Status     LoanStatus `json:"status"`
	Notes      string     `json:"notes,omitempty"`
}

// Overdue reports whether the loan is past due and still open.
// Overdue is a derived reporting value, never a stored status.
func (l Loan) Overdue(now time.Time) bool {
	return l.Status == LoanActive && now.After(l.DueAt)
}

// LoanDetail is a loan enriched with display fields of the referenced
// book and member for listing responses.
type LoanDetail struct {
	Loan
	BookTitle  string `json:"bookTitle"`
	MemberName string `json:"memberName"`
	Overdue    bool   `json:"overdue"`
}

// BookUpdate is a partial update; nil fields are left untouched.
// Availability is deliberately absent: it changes only through
// checkout and return.
type BookUpdate struct {
	Title       *string `json:"title"`
	Author      *string `json:"author"`
	Publisher   *string `json:"publisher"`
	Year        *int    `json:"year"`
	ISBN        *string `json:"isbn"`
	Pages       *int    `json:"pages"`
	Description *string `json:"description"`
}

// MemberUpdate is a partial update; nil fields are left untouched.
type MemberUpdate struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Email     *string `json:"email"`
	Phone     *string `json:"phone"`
	Address   *string `json:"address"`
	Active    *bool   `json:"active"`
}

// DashboardStats is the aggregate snapshot served by the stats endpoints.
type DashboardStats struct {
	TotalBooks     int `json:"totalBooks"`
	AvailableBooks int `json:"availableBooks"`
	TotalMembers   int `json:"totalMembers"`
	ActiveMembers  int `json:"activeMembers"`
	TotalLoans     int `json:"totalLoans"`
	ActiveLoans    int `json:"activeLoans"`
	OverdueLoans   int `json:"overdueLoans"`
}

// BookLoanCount ranks a book by how often it has been loaned.
type BookLoanCount struct {
	BookID    string `json:"bookId"`
	Title     string `json:"title"`
	LoanCount int    `json:"loanCount"`
}
