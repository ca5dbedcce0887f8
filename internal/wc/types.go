package wc

// Wire shapes for the remote catalog API. Only the fields the mirror
// consumes are decoded.

type Image struct {
	Src string `json:"src"`
}

// Meta is a loose key/value pair; upstream plugins store prices as strings
// or numbers, so Value stays untyped until the store resolves it.
type Meta struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

type CategoryRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Product struct {
	ID              int64         `json:"id"`
	Name            string        `json:"name"`
	SKU             string        `json:"sku"`
	Price           string        `json:"price"`
	Description     string        `json:"description"`
	Type            string        `json:"type"`
	DateModifiedGMT string        `json:"date_modified_gmt"`
	Images          []Image       `json:"images"`
	MetaData        []Meta        `json:"meta_data"`
	Categories      []CategoryRef `json:"categories"`
}

// ImageURLs returns the ordered product image sources.
func (p Product) ImageURLs() []string {
	urls := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		if img.Src != "" {
			urls = append(urls, img.Src)
		}
	}
	return urls
}

type Attribute struct {
	Name   string `json:"name"`
	Option string `json:"option"`
}

type Variation struct {
	ID         int64       `json:"id"`
	Price      string      `json:"price"`
	Attributes []Attribute `json:"attributes"`
	Image      *Image      `json:"image"`
	MetaData   []Meta      `json:"meta_data"`
}

// ImageURL returns the variation's single image source, if any.
func (v Variation) ImageURL() string {
	if v.Image == nil {
		return ""
	}
	return v.Image.Src
}

type Category struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int64  `json:"count"`
}

type productID struct {
	ID int64 `json:"id"`
}
