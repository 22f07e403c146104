package db

import "gorm.io/gorm"

// ForUpdate returns the row-locking suffix for raw queries. SQLite has no
// FOR UPDATE clause; its single-writer model already serializes the
// read-then-write sections the lock protects elsewhere.
func ForUpdate(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil {
		return ""
	}
	switch tx.Dialector.Name() {
	case "sqlite", "sqlite3":
		return ""
	default:
		return " FOR UPDATE"
	}
}
