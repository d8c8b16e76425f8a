package database

import (
	"strings"

	"gorm.io/gorm"
)

// Quote quotes an identifier for the dialect of db.
func Quote(db *gorm.DB, name string) string {
	var sb strings.Builder
	db.Dialector.QuoteTo(&sb, name)
	return sb.String()
}

// QuoteAll quotes each identifier and joins them with ", ".
func QuoteAll(db *gorm.DB, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = Quote(db, n)
	}
	return strings.Join(quoted, ", ")
}
