package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Book is a single entry of the collection.
type Book struct {
	bun.BaseModel `bun:"table:books,alias:b"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	Title     string    `bun:",notnull" json:"title"`
	Author    string    `bun:",notnull" json:"author"`
	Year      *int      `bun:"year" json:"year"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"-"`
	UpdatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp" json:"-"`
}
