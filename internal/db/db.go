package db

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Logical store names. Each maps to its own SQLite file and pool.
const (
	StoreUsers    = "users"
	StoreProducts = "products"
	StoreFoodLog  = "food_log"
)

// Stores lists every logical store in migration order.
var Stores = []string{StoreUsers, StoreProducts, StoreFoodLog}

// Open returns a single-connection handle to the SQLite file at path.
// Capping at one connection keeps the per-connection pragmas in force
// for every statement issued through the handle; concurrency comes from
// pooling whole handles, not from database/sql's internal pool.
func Open(path string) (*sql.DB, error) {
	sqldb, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	if err := sqldb.Ping(); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}
	pragmas := []string{
		`PRAGMA foreign_keys = ON;`,
		`PRAGMA busy_timeout = 30000;`,
	}
	if path != ":memory:" {
		pragmas = append(pragmas,
			`PRAGMA journal_mode = WAL;`,
			`PRAGMA synchronous = NORMAL;`,
			`PRAGMA cache_size = 10000;`,
			`PRAGMA temp_store = MEMORY;`,
		)
	}
	for _, pragma := range pragmas {
		if _, err := sqldb.Exec(pragma); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("configure connection: %w", err)
		}
	}
	return sqldb, nil
}
