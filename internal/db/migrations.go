package db

import (
	"database/sql"
	"fmt"
)

type migration struct {
	version int
	name    string
	sql     string
}

var migrations = map[string][]migration{
	StoreUsers: {
		{
			version: 1,
			name:    "users_schema",
			sql: `
CREATE TABLE IF NOT EXISTS users (
  user_id INTEGER PRIMARY KEY,
  gender TEXT,
  age INTEGER,
  weight REAL,
  height REAL,
  activity TEXT,
  goal TEXT,
  daily_calories REAL,
  protein REAL,
  fat REAL,
  carbs REAL,
  language TEXT NOT NULL DEFAULT 'ru',
  day_end_time TEXT NOT NULL DEFAULT '00:00',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
		},
		{
			version: 2,
			name:    "user_timezone",
			sql: `
ALTER TABLE users ADD COLUMN timezone INTEGER NOT NULL DEFAULT 3;
`,
		},
	},
	StoreProducts: {
		{
			version: 1,
			name:    "products_schema",
			sql: `
CREATE TABLE IF NOT EXISTS products (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  kcal REAL NOT NULL,
  protein REAL NOT NULL,
  fat REAL NOT NULL,
  carbs REAL NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS product_aliases (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  product_id INTEGER NOT NULL,
  alias_name TEXT NOT NULL UNIQUE,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(product_id) REFERENCES products(id)
);

CREATE TABLE IF NOT EXISTS barcodes (
  barcode TEXT PRIMARY KEY,
  product_id INTEGER NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(product_id) REFERENCES products(id)
);

CREATE INDEX IF NOT EXISTS idx_products_name ON products(name);
CREATE INDEX IF NOT EXISTS idx_product_aliases_product_id ON product_aliases(product_id);
CREATE INDEX IF NOT EXISTS idx_barcodes_product_id ON barcodes(product_id);
`,
		},
	},
	StoreFoodLog: {
		{
			version: 1,
			name:    "food_log_schema",
			sql: `
CREATE TABLE IF NOT EXISTS food_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL,
  food_name TEXT NOT NULL,
  weight REAL NOT NULL CHECK(weight > 0),
  kcal REAL NOT NULL,
  protein REAL NOT NULL,
  fat REAL NOT NULL,
  carbs REAL NOT NULL,
  date TEXT NOT NULL,
  time TEXT NOT NULL,
  edit_code TEXT NOT NULL UNIQUE,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS daily_intake (
  user_id INTEGER NOT NULL,
  date TEXT NOT NULL,
  calories REAL NOT NULL DEFAULT 0,
  protein REAL NOT NULL DEFAULT 0,
  fat REAL NOT NULL DEFAULT 0,
  carbs REAL NOT NULL DEFAULT 0,
  PRIMARY KEY (user_id, date)
);

CREATE INDEX IF NOT EXISTS idx_food_log_user_date ON food_log(user_id, date);
CREATE INDEX IF NOT EXISTS idx_food_log_edit_code ON food_log(edit_code);
`,
		},
	},
}

// ApplyMigrations brings the given store's schema up to date. Safe to
// call repeatedly; already-applied versions are skipped.
func ApplyMigrations(sqldb *sql.DB, store string) error {
	set, ok := migrations[store]
	if !ok {
		return fmt.Errorf("unknown store %q", store)
	}
	if _, err := sqldb.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := sqldb.QueryRow(`SELECT MAX(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range set {
		if current.Valid && m.version <= int(current.Int64) {
			continue
		}
		tx, err := sqldb.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations(version, name) VALUES(?, ?)`, m.version, m.name); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d (%s): %w", m.version, m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d (%s): %w", m.version, m.name, err)
		}
	}
	return nil
}
