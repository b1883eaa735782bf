package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"librarian/pkg/domain"
)

const migrateLockID int64 = 51245124

// GormStore implements Store using GORM + Postgres.
//
// Checkout and Return rely on row-level locking (SELECT ... FOR UPDATE on
// the book row), so the one-active-loan invariant holds even when several
// processes share the database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&BookModel{}, &MemberModel{}, &LoanModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateBook inserts a new book record.
func (s *GormStore) CreateBook(b domain.Book) error {
	model := bookToModel(b)
	return s.db.Create(&model).Error
}

// GetBook retrieves a book by ID.
func (s *GormStore) GetBook(id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// ListBooks returns all books ordered by created_at.
func (s *GormStore) ListBooks() ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res, nil
}

// UpdateBook applies the non-nil fields of upd. The available flag is
// not part of BookUpdate; it changes only through Checkout and Return.
func (s *GormStore) UpdateBook(id string, upd domain.BookUpdate) (domain.Book, bool, error) {
	updates := map[string]any{}
	if upd.Title != nil {
		updates["title"] = *upd.Title
	}
	if upd.Author != nil {
		updates["author"] = *upd.Author
	}
	if upd.Publisher != nil {
		updates["publisher"] = *upd.Publisher
	}
	if upd.Year != nil {
		updates["year"] = *upd.Year
	}
	if upd.ISBN != nil {
		updates["isbn"] = nullableString(*upd.ISBN)
	}
	if upd.Pages != nil {
		updates["pages"] = *upd.Pages
	}
	if upd.Description != nil {
		updates["description"] = *upd.Description
	}
	var model BookModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&BookModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// DeleteBook removes a book. Loan history is kept.
func (s *GormStore) DeleteBook(id string) (bool, error) {
	res := s.db.Delete(&BookModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CreateMember inserts a new member record.
func (s *GormStore) CreateMember(m domain.Member) error {
	model := memberToModel(m)
	return s.db.Create(&model).Error
}

// GetMember retrieves a member by ID.
func (s *GormStore) GetMember(id string) (domain.Member, bool, error) {
	var model MemberModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Member{}, false, nil
		}
		return domain.Member{}, false, err
	}
	return memberFromModel(model), true, nil
}

// ListMembers returns all members ordered by joined_at.
func (s *GormStore) ListMembers() ([]domain.Member, error) {
	var models []MemberModel
	if err := s.db.Order("joined_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Member, 0, len(models))
	for _, m := range models {
		res = append(res, memberFromModel(m))
	}
	return res, nil
}

// UpdateMember applies the non-nil fields of upd.
func (s *GormStore) UpdateMember(id string, upd domain.MemberUpdate) (domain.Member, bool, error) {
	updates := map[string]any{}
	if upd.FirstName != nil {
		updates["first_name"] = *upd.FirstName
	}
	if upd.LastName != nil {
		updates["last_name"] = *upd.LastName
	}
	if upd.Email != nil {
		updates["email"] = *upd.Email
	}
	if upd.Phone != nil {
		updates["phone"] = *upd.Phone
	}
	if upd.Address != nil {
		updates["address"] = *upd.Address
	}
	if upd.Active != nil {
		updates["active"] = *upd.Active
	}
	var model MemberModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&MemberModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Member{}, false, nil
		}
		return domain.Member{}, false, err
	}
	return memberFromModel(model), true, nil
}

// DeleteMember removes a member. Loan history is kept.
func (s *GormStore) DeleteMember(id string) (bool, error) {
	res := s.db.Delete(&MemberModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Checkout creates the loan and flips the book to unavailable in one
// transaction. The book row is locked first, so the availability check,
// the active-loan scan, and both writes are serialized per book.
func (s *GormStore) Checkout(loan domain.Loan) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var book BookModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&book, "id = ?", loan.BookID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBookNotFound
			}
			return err
		}
		var members int64
		if err := tx.Model(&MemberModel{}).Where("id = ?", loan.MemberID).Count(&members).Error; err != nil {
			return err
		}
		if members == 0 {
			return ErrMemberNotFound
		}
		if !book.Available {
			return ErrBookUnavailable
		}
		// Redundant with the available flag; kept as a second guard on
		// the same invariant.
		var active int64
		if err := tx.Model(&LoanModel{}).
			Where("book_id = ? AND status = ?", loan.BookID, string(domain.LoanActive)).
			Count(&active).Error; err != nil {
			return err
		}
		if active > 0 {
			return ErrBookAlreadyLoaned
		}
		model := loanToModel(loan)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&BookModel{}).Where("id = ?", loan.BookID).
			Update("available", false).Error
	})
}

// Return closes the loan and flips the book back to available in one
// transaction, locking the loan row and then the book row.
func (s *GormStore) Return(loanID string, at time.Time) (domain.Loan, error) {
	var out domain.Loan
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var loan LoanModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&loan, "id = ?", loanID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrLoanNotFound
			}
			return err
		}
		if loan.Status != string(domain.LoanActive) {
			return ErrLoanAlreadyReturned
		}
		at = at.UTC()
		if err := tx.Model(&LoanModel{}).Where("id = ?", loanID).
			Updates(map[string]any{
				"status":      string(domain.LoanReturned),
				"returned_at": at,
			}).Error; err != nil {
			return err
		}
		if err := tx.Model(&BookModel{}).Where("id = ?", loan.BookID).
			Update("available", true).Error; err != nil {
			return err
		}
		loan.Status = string(domain.LoanReturned)
		loan.ReturnedAt = &at
		out = loanFromModel(loan)
		return nil
	})
	if err != nil {
		return domain.Loan{}, err
	}
	return out, nil
}

// GetLoan retrieves a loan by ID.
func (s *GormStore) GetLoan(id string) (domain.Loan, bool, error) {
	var model LoanModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Loan{}, false, nil
		}
		return domain.Loan{}, false, err
	}
	return loanFromModel(model), true, nil
}

// ListLoans returns all loans, newest first.
func (s *GormStore) ListLoans() ([]domain.Loan, error) {
	var models []LoanModel
	if err := s.db.Order("loaned_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Loan, 0, len(models))
	for _, m := range models {
		res = append(res, loanFromModel(m))
	}
	return res, nil
}

// CountBooks returns total and available book counts.
func (s *GormStore) CountBooks() (int, int, error) {
	var total, available int64
	if err := s.db.Model(&BookModel{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.Model(&BookModel{}).Where("available").Count(&available).Error; err != nil {
		return 0, 0, err
	}
	return int(total), int(available), nil
}

// CountMembers returns total and active member counts.
func (s *GormStore) CountMembers() (int, int, error) {
	var total, active int64
	if err := s.db.Model(&MemberModel{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.Model(&MemberModel{}).Where("active").Count(&active).Error; err != nil {
		return 0, 0, err
	}
	return int(total), int(active), nil
}

// CountLoans returns total and active loan counts.
func (s *GormStore) CountLoans() (int, int, error) {
	var total, active int64
	if err := s.db.Model(&LoanModel{}).Count(&total).Error; err != nil {
		return 0, 0, err
	}
	if err := s.db.Model(&LoanModel{}).
		Where("status = ?", string(domain.LoanActive)).Count(&active).Error; err != nil {
		return 0, 0, err
	}
	return int(total), int(active), nil
}

// PopularBooks ranks books by loan count, most-loaned first.
func (s *GormStore) PopularBooks(limit int) ([]domain.BookLoanCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []domain.BookLoanCount
	if err := s.db.Model(&LoanModel{}).
		Select("loan_models.book_id AS book_id, book_models.title AS title, COUNT(*) AS loan_count").
		Joins("JOIN book_models ON book_models.id = loan_models.book_id").
		Group("loan_models.book_id, book_models.title").
		Order("loan_count DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ID:          b.ID,
		Title:       b.Title,
		Author:      b.Author,
		Publisher:   b.Publisher,
		Year:        b.Year,
		ISBN:        nullableString(b.ISBN),
		Pages:       b.Pages,
		Description: b.Description,
		Available:   b.Available,
		CreatedAt:   b.CreatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	isbn := ""
	if m.ISBN != nil {
		isbn = *m.ISBN
	}
	return domain.Book{
		ID:          m.ID,
		Title:       m.Title,
		Author:      m.Author,
		Publisher:   m.Publisher,
		Year:        m.Year,
		ISBN:        isbn,
		Pages:       m.Pages,
		Description: m.Description,
		Available:   m.Available,
		CreatedAt:   m.CreatedAt,
	}
}

func memberToModel(m domain.Member) MemberModel {
	return MemberModel{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		Phone:     m.Phone,
		Address:   m.Address,
		Active:    m.Active,
		JoinedAt:  m.JoinedAt,
	}
}

func memberFromModel(m MemberModel) domain.Member {
	return domain.Member{
		ID:        m.ID,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Email:     m.Email,
		Phone:     m.Phone,
		Address:   m.Address,
		Active:    m.Active,
		JoinedAt:  m.JoinedAt,
	}
}

func loanToModel(l domain.Loan) LoanModel {
	return LoanModel{
		ID:         l.ID,
		BookID:     l.BookID,
		MemberID:   l.MemberID,
		LoanedAt:   l.LoanedAt,
		DueAt:      l.DueAt,
		ReturnedAt: l.ReturnedAt,
		Status:     string(l.Status),
		Notes:      l.Notes,
	}
}

func loanFromModel(m LoanModel) domain.Loan {
	return domain.Loan{
		ID:         m.ID,
		BookID:     m.BookID,
		MemberID:   m.MemberID,
		LoanedAt:   m.LoanedAt,
		DueAt:      m.DueAt,
		ReturnedAt: m.ReturnedAt,
		Status:     domain.LoanStatus(m.Status),
		Notes:      m.Notes,
	}
}
