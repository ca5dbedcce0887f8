package store

import "strings"

// pathSeparator joins ordered image URL / local path lists into a single
// column value. Kept stable so databases written by earlier releases still
// parse.
const pathSeparator = "###"

// Product is a mirrored catalog row. The local image paths are positionally
// parallel to the web URLs; a missing tail means those blobs have not been
// materialized yet.
type Product struct {
	ID              int64
	Name            string
	SKU             string
	Price           string
	WholesalePrice  string
	Description     string
	Type            string
	WebImageURLs    []string
	LocalImagePaths []string
	CategoryTokens  string
	DisplayPrice    string
	NeedsImageSync  bool
	SearchTokens    string
}

// FirstLocalImagePath returns the first materialized path, or "".
func (p Product) FirstLocalImagePath() string {
	if len(p.LocalImagePaths) == 0 {
		return ""
	}
	return p.LocalImagePaths[0]
}

// FirstWebImageURL returns the first remote image URL, or "".
func (p Product) FirstWebImageURL() string {
	if len(p.WebImageURLs) == 0 {
		return ""
	}
	return p.WebImageURLs[0]
}

// MetaEntry is one upstream metadata key/value pair carried into the
// wholesale-price scan.
type MetaEntry struct {
	Key   string
	Value any
}

// ProductUpsert is the write shape accepted by UpsertProduct. Local image
// paths are normally absent; when they are, the stored column value is
// preserved so a metadata-only sync never erases materialized paths.
type ProductUpsert struct {
	ID              int64
	Name            string
	SKU             string
	Price           string
	Description     string
	Type            string
	WebImageURLs    []string
	LocalImagePaths []string
	CategoryTokens  string
	DisplayPrice    string
	Meta            []MetaEntry
}

// Variation is a per-product variation row.
type Variation struct {
	ID             int64  `gorm:"column:var_id;primaryKey"`
	ParentID       int64  `gorm:"column:parent_id"`
	Price          string `gorm:"column:price"`
	Attributes     string `gorm:"column:attributes"`
	WebImageURL    string `gorm:"column:web_image"`
	LocalImagePath string `gorm:"column:local_image"`
	NeedsImageSync bool   `gorm:"column:needs_img_sync"`
}

func (Variation) TableName() string {
	return "variations"
}

// Category is a taxonomy row.
type Category struct {
	ID           int64  `gorm:"column:cat_id;primaryKey"`
	Name         string `gorm:"column:name"`
	Slug         string `gorm:"column:slug"`
	ProductCount int64  `gorm:"column:product_count"`
}

func (Category) TableName() string {
	return "categories"
}

type syncState struct {
	Key   string `gorm:"column:key;primaryKey"`
	Value string `gorm:"column:value"`
}

func (syncState) TableName() string {
	return "sync_state"
}

func joinPaths(paths []string) string {
	return strings.Join(paths, pathSeparator)
}

func splitPaths(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, pathSeparator)
}
