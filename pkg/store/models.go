package store

import "time"

// GORM models used for persistence.
type BookModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Author      string `gorm:"not null"`
	Publisher   string
	Year        int
	ISBN        *string `gorm:"uniqueIndex"`
	Pages       int
	Description string    `gorm:"type:text"`
	Available   bool      `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

type MemberModel struct {
	ID        string `gorm:"primaryKey"`
	FirstName string `gorm:"not null"`
	LastName  string `gorm:"not null"`
	Email     string `gorm:"uniqueIndex;not null"`
	Phone     string
	Address   string    `gorm:"type:text"`
	Active    bool      `gorm:"not null"`
	JoinedAt  time.Time `gorm:"not null"`
}

type LoanModel struct {
	ID         string    `gorm:"primaryKey"`
	BookID     string    `gorm:"not null;index"`
	MemberID   string    `gorm:"not null;index"`
	LoanedAt   time.Time `gorm:"not null"`
	DueAt      time.Time `gorm:"not null"`
	ReturnedAt *time.Time
	Status     string `gorm:"not null;index"`
	Notes      string `gorm:"type:text"`
}
