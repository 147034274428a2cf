package pagination

import (
	"fmt"

	"gorm.io/gorm"
)

type Direction int

const (
	Newest Direction = iota
	Oldest
)

// Keyset orders by (column, id) and resumes strictly past the cursor row.
// column must be a trusted identifier, never user input.
func Keyset(column string, dir Direction, after *Cursor, limit int) func(*gorm.DB) *gorm.DB {
	cmp, order := "<", "DESC"
	if dir == Oldest {
		cmp, order = ">", "ASC"
	}
	return func(db *gorm.DB) *gorm.DB {
		if after != nil {
			db = db.Where(fmt.Sprintf("(%[1]s %[2]s ?) OR (%[1]s = ? AND id %[2]s ?)", column, cmp), after.At, after.At, after.ID)
		}
		return db.Order(column + " " + order).Order("id " + order).Limit(limit)
	}
}
