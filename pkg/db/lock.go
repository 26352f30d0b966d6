package db

import "gorm.io/gorm"

// ForUpdate returns the row-lock suffix for the connected dialect. SQLite
// serializes writers on its own and rejects the clause.
func ForUpdate(db *gorm.DB) string {
	if IsSQLite(db) {
		return ""
	}
	return " FOR UPDATE"
}

// ForUpdateSkipLocked is ForUpdate for queue-style claims where contended
// rows should be passed over instead of waited on.
func ForUpdateSkipLocked(db *gorm.DB) string {
	if IsSQLite(db) {
		return ""
	}
	return " FOR UPDATE SKIP LOCKED"
}

func IsSQLite(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == "sqlite"
}
