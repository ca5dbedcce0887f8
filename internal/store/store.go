// Package store owns the on-device catalog: an FTS-indexed products table, a
// variations table keyed by variation id with a parent-id index, a
// categories table, and the sync watermark. The database is a cache of the
// remote catalog, never a source of truth, so a schema-version mismatch in
// either direction resets it destructively.
package store

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/falconrep/catalog-mirror/internal/search"
	pkgerrors "github.com/falconrep/catalog-mirror/pkg/errors"
	"github.com/falconrep/catalog-mirror/pkg/logger"
)

// schemaVersion is persisted via PRAGMA user_version. Bumping it wipes and
// recreates all tables on next open.
const schemaVersion = 1

const watermarkKey = "last_sync"

const createProductsSQL = `CREATE VIRTUAL TABLE products USING fts4(
	name, price, wholesale_price, description, sku,
	web_image_urls, local_image_paths, product_type,
	cat_tokens, display_price, needs_img_sync, search_tokens
)`

const createVariationsSQL = `CREATE TABLE variations (
	var_id INTEGER PRIMARY KEY,
	parent_id INTEGER NOT NULL,
	price TEXT,
	attributes TEXT,
	web_image TEXT,
	local_image TEXT,
	needs_img_sync INTEGER NOT NULL DEFAULT 0
)`

const createCategoriesSQL = `CREATE TABLE categories (
	cat_id INTEGER PRIMARY KEY,
	name TEXT,
	slug TEXT,
	product_count INTEGER NOT NULL DEFAULT 0
)`

const createSyncStateSQL = `CREATE TABLE sync_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Store is the single shared mutable resource of the mirror. Writes are
// serialized behind a mutex; readers proceed concurrently under WAL.
type Store struct {
	db   *gorm.DB
	logg *logger.Logger

	mu sync.Mutex
}

// Open opens (or creates) the catalog database at the given DSN and ensures
// the schema matches the built-in version.
func Open(ctx context.Context, dsn string, logg *logger.Logger) (*Store, error) {
	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening catalog db: %w", err)
	}

	s := &Store{db: conn, logg: logg}
	if err := s.init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) init(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return fmt.Errorf("enabling wal: %w", err)
	}
	if err := db.Exec("PRAGMA busy_timeout=5000").Error; err != nil {
		return fmt.Errorf("setting busy timeout: %w", err)
	}

	var version int
	if err := db.Raw("PRAGMA user_version").Scan(&version).Error; err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}

	if version != 0 && s.logg != nil {
		s.logg.Warn(ctx, fmt.Sprintf("schema version %d != %d, resetting catalog", version, schemaVersion))
	}
	return s.reset(ctx)
}

// reset drops and recreates every table. Upgrades and downgrades are handled
// identically; the next sync repopulates from the server.
func (s *Store) reset(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS products",
		"DROP TABLE IF EXISTS variations",
		"DROP TABLE IF EXISTS categories",
		"DROP TABLE IF EXISTS sync_state",
		createProductsSQL,
		createVariationsSQL,
		"CREATE INDEX idx_variations_parent ON variations(parent_id)",
		createCategoriesSQL,
		createSyncStateSQL,
		fmt.Sprintf("PRAGMA user_version = %d", schemaVersion),
	} {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("resetting schema: %w", err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// productColumns is the explicit select list; FTS tables do not expose docid
// through "*".
const productColumns = `docid, name, price, wholesale_price, description, sku,
	web_image_urls, local_image_paths, product_type, cat_tokens,
	display_price, needs_img_sync, search_tokens`

type productRow struct {
	Docid           int64  `gorm:"column:docid"`
	Name            string `gorm:"column:name"`
	Price           string `gorm:"column:price"`
	WholesalePrice  string `gorm:"column:wholesale_price"`
	Description     string `gorm:"column:description"`
	SKU             string `gorm:"column:sku"`
	WebImageURLs    string `gorm:"column:web_image_urls"`
	LocalImagePaths string `gorm:"column:local_image_paths"`
	ProductType     string `gorm:"column:product_type"`
	CatTokens       string `gorm:"column:cat_tokens"`
	DisplayPrice    string `gorm:"column:display_price"`
	NeedsImgSync    string `gorm:"column:needs_img_sync"`
	SearchTokens    string `gorm:"column:search_tokens"`
}

func (r productRow) toProduct() Product {
	return Product{
		ID:              r.Docid,
		Name:            r.Name,
		SKU:             r.SKU,
		Price:           r.Price,
		WholesalePrice:  r.WholesalePrice,
		Description:     r.Description,
		Type:            r.ProductType,
		WebImageURLs:    splitPaths(r.WebImageURLs),
		LocalImagePaths: splitPaths(r.LocalImagePaths),
		CategoryTokens:  r.CatTokens,
		DisplayPrice:    r.DisplayPrice,
		NeedsImageSync:  r.NeedsImgSync == "1",
		SearchTokens:    r.SearchTokens,
	}
}

// UpsertProduct replaces the product row by id. Incoming empty local paths
// preserve the stored value so metadata-only syncs never erase materialized
// blobs, and the row is flagged for image sync.
func (s *Store) UpsertProduct(ctx context.Context, p ProductUpsert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := CleanPrice(p.Price)
	wholesale := WholesaleFromMeta(p.Meta)
	if wholesale == "" {
		wholesale = base
	}

	display := CleanPrice(p.DisplayPrice)
	if display == "" {
		display = wholesale
	}
	if display == "" {
		display = base
	}

	localPaths := joinPaths(p.LocalImagePaths)
	if localPaths == "" {
		var existing string
		err := s.db.WithContext(ctx).
			Raw("SELECT local_image_paths FROM products WHERE docid = ?", p.ID).
			Scan(&existing).Error
		if err != nil {
			return fmt.Errorf("reading existing local paths: %w", err)
		}
		localPaths = existing
	}

	tokens := search.IndexTokens(p.Name, p.SKU, p.CategoryTokens)

	return s.db.WithContext(ctx).Exec(
		`INSERT OR REPLACE INTO products
		 (docid, name, price, wholesale_price, description, sku,
		  web_image_urls, local_image_paths, product_type, cat_tokens,
		  display_price, needs_img_sync, search_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '1', ?)`,
		p.ID, p.Name, base, wholesale, p.Description, p.SKU,
		joinPaths(p.WebImageURLs), localPaths, p.Type, p.CategoryTokens,
		display, tokens,
	).Error
}

// UpsertVariation replaces the variation row by id, preserving a stored
// local image path when the incoming one is empty, and flags it for image
// sync.
func (s *Store) UpsertVariation(ctx context.Context, v Variation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.LocalImagePath == "" {
		var existing Variation
		err := s.db.WithContext(ctx).
			Where("var_id = ?", v.ID).
			Limit(1).
			Find(&existing).Error
		if err != nil {
			return fmt.Errorf("reading existing variation: %w", err)
		}
		v.LocalImagePath = existing.LocalImagePath
	}
	v.NeedsImageSync = true

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&v).Error
}

// UpsertCategory replaces the category row by id.
func (s *Store) UpsertCategory(ctx context.Context, c Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&c).Error
}

// UpdateLocalImagePaths writes back materialized product image paths without
// touching the image-sync flag. Going through UpsertProduct here would
// re-flag the row and loop the materializer forever.
func (s *Store) UpdateLocalImagePaths(ctx context.Context, productID int64, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Exec(
		"UPDATE products SET local_image_paths = ? WHERE docid = ?",
		joinPaths(paths), productID,
	).Error
}

// UpdateVariationImagePath writes back a variation's materialized image path
// without touching its image-sync flag.
func (s *Store) UpdateVariationImagePath(ctx context.Context, variationID int64, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).
		Model(&Variation{}).
		Where("var_id = ?", variationID).
		Update("local_image", path).Error
}

// MarkProductImageSynced clears the product's image-sync flag.
func (s *Store) MarkProductImageSynced(ctx context.Context, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Exec(
		"UPDATE products SET needs_img_sync = '0' WHERE docid = ?", productID,
	).Error
}

// MarkVariationImageSynced clears the variation's image-sync flag.
func (s *Store) MarkVariationImageSynced(ctx context.Context, variationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).
		Model(&Variation{}).
		Where("var_id = ?", variationID).
		Update("needs_img_sync", false).Error
}

// UpdateProductDisplayPrice sets the display price after a variable
// product's variations have been fetched.
func (s *Store) UpdateProductDisplayPrice(ctx context.Context, productID int64, display string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Exec(
		"UPDATE products SET display_price = ? WHERE docid = ?",
		display, productID,
	).Error
}

// GetProductByID loads one product, or CodeNotFound.
func (s *Store) GetProductByID(ctx context.Context, id int64) (*Product, error) {
	var rows []productRow
	err := s.db.WithContext(ctx).
		Raw("SELECT "+productColumns+" FROM products WHERE docid = ?", id).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "product %d not found", id)
	}
	p := rows[0].toProduct()
	return &p, nil
}

// ProductsNeedingImageSync lists products flagged for image materialization.
func (s *Store) ProductsNeedingImageSync(ctx context.Context) ([]Product, error) {
	var rows []productRow
	err := s.db.WithContext(ctx).
		Raw("SELECT " + productColumns + " FROM products WHERE needs_img_sync = '1'").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rowsToProducts(rows), nil
}

// VariationsNeedingImageSync lists variations flagged for materialization.
func (s *Store) VariationsNeedingImageSync(ctx context.Context) ([]Variation, error) {
	var vars []Variation
	err := s.db.WithContext(ctx).
		Where("needs_img_sync = ?", true).
		Find(&vars).Error
	return vars, err
}

// GetVariationsForProduct lists a product's variations.
func (s *Store) GetVariationsForProduct(ctx context.Context, parentID int64) ([]Variation, error) {
	var vars []Variation
	err := s.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("var_id").
		Find(&vars).Error
	return vars, err
}

// GetAllCategories lists categories ordered by display name.
func (s *Store) GetAllCategories(ctx context.Context) ([]Category, error) {
	var cats []Category
	err := s.db.WithContext(ctx).Order("name COLLATE NOCASE").Find(&cats).Error
	return cats, err
}

// DeleteCategoriesExcept removes categories whose id is not in keep.
// Callers gate this on a complete error-free server listing.
func (s *Store) DeleteCategoriesExcept(ctx context.Context, keep []int64) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.db.WithContext(ctx).
		Where("cat_id NOT IN ?", keep).
		Delete(&Category{})
	return res.RowsAffected, res.Error
}

// GetAllLocalProductIDs lists every mirrored product id.
func (s *Store) GetAllLocalProductIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.WithContext(ctx).
		Raw("SELECT docid FROM products").
		Scan(&ids).Error
	return ids, err
}

// DeleteProducts removes the given products and cascades to their
// variations in one transaction.
func (s *Store) DeleteProducts(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM products WHERE docid IN ?", ids).Error; err != nil {
			return err
		}
		return tx.Where("parent_id IN ?", ids).Delete(&Variation{}).Error
	})
}

// GetProductCount returns the number of mirrored products.
func (s *Store) GetProductCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM products").
		Scan(&count).Error
	return count, err
}

// GetOfflineReadyCount returns the number of products with at least one
// materialized image path. Readers still revalidate the blob on use.
func (s *Store) GetOfflineReadyCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM products WHERE local_image_paths != ''").
		Scan(&count).Error
	return count, err
}

// Watermark returns the last successful sync instant, or "" when none.
func (s *Store) Watermark(ctx context.Context) (string, error) {
	var states []syncState
	err := s.db.WithContext(ctx).
		Where("key = ?", watermarkKey).
		Find(&states).Error
	if err != nil {
		return "", err
	}
	if len(states) == 0 {
		return "", nil
	}
	return states[0].Value, nil
}

// SetWatermark persists the sync watermark.
func (s *Store) SetWatermark(ctx context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&syncState{Key: watermarkKey, Value: value}).Error
}

func rowsToProducts(rows []productRow) []Product {
	products := make([]Product, 0, len(rows))
	for _, r := range rows {
		products = append(products, r.toProduct())
	}
	return products
}
