// Package catalog stores per-100g nutrition facts under canonical
// product names, with alias resolution, substring search, and barcode
// bindings, fronted by a bounded read cache.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/apkuzmin/nutro-bot/internal/db"
	"github.com/apkuzmin/nutro-bot/internal/model"
	"github.com/apkuzmin/nutro-bot/internal/pool"
	"github.com/apkuzmin/nutro-bot/internal/txn"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrAliasExists     = errors.New("alias already exists")
)

// cacheSize bounds the read cache; lookups are heavily repetitive
// (users log the same foods), so a small LRU covers most traffic.
const cacheSize = 100

type Store struct {
	pools *pool.Manager
	run   txn.Policy
	log   *logrus.Entry
	cache *lru.Cache[string, model.Facts]
}

func New(pools *pool.Manager, run txn.Policy, log *logrus.Logger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	cache, _ := lru.New[string, model.Facts](cacheSize)
	return &Store{
		pools: pools,
		run:   run,
		log:   log.WithField("component", "catalog"),
		cache: cache,
	}
}

// Lookup resolves a name to facts, checking the canonical table first
// and the alias table second. Hits are cached under the queried name.
func (s *Store) Lookup(ctx context.Context, name string) (model.Facts, error) {
	if facts, ok := s.cache.Get(name); ok {
		return facts, nil
	}
	var facts model.Facts
	err := s.pools.With(ctx, db.StoreProducts, func(h *sql.DB) error {
		err := h.QueryRowContext(ctx, `
SELECT kcal, protein, fat, carbs FROM products WHERE name = ?`, name).
			Scan(&facts.Kcal, &facts.Protein, &facts.Fat, &facts.Carbs)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup product %q: %w", name, err)
		}
		err = h.QueryRowContext(ctx, `
SELECT p.kcal, p.protein, p.fat, p.carbs
FROM product_aliases a
JOIN products p ON a.product_id = p.id
WHERE a.alias_name = ?`, name).
			Scan(&facts.Kcal, &facts.Protein, &facts.Fat, &facts.Carbs)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("product %q: %w", name, ErrProductNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup product alias %q: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return model.Facts{}, err
	}
	s.cache.Add(name, facts)
	return facts, nil
}

// Save upserts facts under the canonical name and drops the read cache.
// The whole cache goes because alias entries resolve to the same
// product row and would otherwise serve stale facts.
func (s *Store) Save(ctx context.Context, name string, facts model.Facts) error {
	err := s.pools.With(ctx, db.StoreProducts, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
INSERT INTO products (name, kcal, protein, fat, carbs)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
  kcal=excluded.kcal,
  protein=excluded.protein,
  fat=excluded.fat,
  carbs=excluded.carbs,
  updated_at=CURRENT_TIMESTAMP`,
				name, facts.Kcal, facts.Protein, facts.Fat, facts.Carbs)
			if err != nil {
				return fmt.Errorf("save product %q: %w", name, err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.cache.Purge()
	s.log.WithField("product", name).Debug("saved product facts")
	return nil
}

// Search returns up to limit canonical names whose name contains the
// query, backfilled with alias matches for products not already listed.
func (s *Store) Search(ctx context.Context, query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + query + "%"
	var names []string
	err := s.pools.With(ctx, db.StoreProducts, func(h *sql.DB) error {
		rows, err := h.QueryContext(ctx, `
SELECT name FROM products
WHERE name LIKE ?
ORDER BY name
LIMIT ?`, pattern, limit)
		if err != nil {
			return fmt.Errorf("search products %q: %w", query, err)
		}
		defer rows.Close()
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return fmt.Errorf("scan product name: %w", err)
			}
			names = append(names, name)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("search products %q: %w", query, err)
		}
		if len(names) >= limit {
			return nil
		}

		q := `
SELECT DISTINCT p.name
FROM product_aliases a
JOIN products p ON a.product_id = p.id
WHERE a.alias_name LIKE ?`
		args := []any{pattern}
		if len(names) > 0 {
			q += ` AND p.name NOT IN (?` + strings.Repeat(", ?", len(names)-1) + `)`
			for _, n := range names {
				args = append(args, n)
			}
		}
		q += `
ORDER BY p.name
LIMIT ?`
		args = append(args, limit-len(names))

		aliasRows, err := h.QueryContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("search product aliases %q: %w", query, err)
		}
		defer aliasRows.Close()
		for aliasRows.Next() {
			var name string
			if err := aliasRows.Scan(&name); err != nil {
				return fmt.Errorf("scan alias product name: %w", err)
			}
			names = append(names, name)
		}
		return aliasRows.Err()
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// AddAlias binds an alternate spelling to a canonical product.
func (s *Store) AddAlias(ctx context.Context, canonicalName, aliasName string) error {
	err := s.pools.With(ctx, db.StoreProducts, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			var productID int64
			err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE name = ?`, canonicalName).Scan(&productID)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("product %q: %w", canonicalName, ErrProductNotFound)
			}
			if err != nil {
				return fmt.Errorf("lookup product %q: %w", canonicalName, err)
			}

			var existing int64
			err = tx.QueryRowContext(ctx, `SELECT id FROM product_aliases WHERE alias_name = ?`, aliasName).Scan(&existing)
			if err == nil {
				return fmt.Errorf("alias %q: %w", aliasName, ErrAliasExists)
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("lookup alias %q: %w", aliasName, err)
			}

			if _, err := tx.ExecContext(ctx, `
INSERT INTO product_aliases (product_id, alias_name) VALUES (?, ?)`, productID, aliasName); err != nil {
				return fmt.Errorf("add alias %q for product %q: %w", aliasName, canonicalName, err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.cache.Purge()
	s.log.WithFields(logrus.Fields{"product": canonicalName, "alias": aliasName}).Debug("added alias")
	return nil
}

// ResolveBarcode returns the canonical name and facts bound to a
// barcode, or ErrProductNotFound.
func (s *Store) ResolveBarcode(ctx context.Context, barcode string) (string, model.Facts, error) {
	var (
		name  string
		facts model.Facts
	)
	err := s.pools.With(ctx, db.StoreProducts, func(h *sql.DB) error {
		err := h.QueryRowContext(ctx, `
SELECT p.name, p.kcal, p.protein, p.fat, p.carbs
FROM barcodes b
JOIN products p ON b.product_id = p.id
WHERE b.barcode = ?`, barcode).
			Scan(&name, &facts.Kcal, &facts.Protein, &facts.Fat, &facts.Carbs)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("barcode %q: %w", barcode, ErrProductNotFound)
		}
		if err != nil {
			return fmt.Errorf("resolve barcode %q: %w", barcode, err)
		}
		return nil
	})
	if err != nil {
		return "", model.Facts{}, err
	}
	return name, facts, nil
}

// BindBarcode associates a barcode with a canonical product,
// reassigning it if already bound.
func (s *Store) BindBarcode(ctx context.Context, barcode, canonicalName string) error {
	err := s.pools.With(ctx, db.StoreProducts, func(h *sql.DB) error {
		return s.run.Run(ctx, h, func(tx *sql.Tx) error {
			var productID int64
			err := tx.QueryRowContext(ctx, `SELECT id FROM products WHERE name = ?`, canonicalName).Scan(&productID)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("product %q: %w", canonicalName, ErrProductNotFound)
			}
			if err != nil {
				return fmt.Errorf("lookup product %q: %w", canonicalName, err)
			}
			_, err = tx.ExecContext(ctx, `
INSERT INTO barcodes (barcode, product_id)
VALUES (?, ?)
ON CONFLICT(barcode) DO UPDATE SET
  product_id=excluded.product_id,
  updated_at=CURRENT_TIMESTAMP`, barcode, productID)
			if err != nil {
				return fmt.Errorf("bind barcode %q to %q: %w", barcode, canonicalName, err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"barcode": barcode, "product": canonicalName}).Debug("bound barcode")
	return nil
}
