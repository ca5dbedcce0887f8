// Package wc is the read-only client for the upstream catalog API.
// Authentication is a consumer key/secret pair passed as query parameters on
// every request.
package wc

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-resty/resty/v2"

	"github.com/falconrep/catalog-mirror/pkg/config"
	pkgerrors "github.com/falconrep/catalog-mirror/pkg/errors"
)

// Page sizes per endpoint. Products use a smaller page so the modified-desc
// stop-on-cutoff scan stops without over-fetching a large page.
const (
	CategoryPageSize  = 100
	ProductPageSize   = 50
	VariationPageSize = 100
	IDPageSize        = 100
)

type Client struct {
	http   *resty.Client
	key    string
	secret string
}

func NewClient(cfg config.RemoteConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)

	return &Client{
		http:   httpClient,
		key:    cfg.ConsumerKey,
		secret: cfg.ConsumerSecret,
	}
}

func (c *Client) auth(req *resty.Request) *resty.Request {
	return req.SetQueryParams(map[string]string{
		"consumer_key":    c.key,
		"consumer_secret": c.secret,
	})
}

// Categories fetches one page of the category listing. hide_empty is false
// so a category whose last product was removed still gets its count updated.
func (c *Client) Categories(ctx context.Context, page int) ([]Category, error) {
	var out []Category
	resp, err := c.auth(c.http.R()).
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"per_page":   strconv.Itoa(CategoryPageSize),
			"page":       strconv.Itoa(page),
			"hide_empty": "false",
		}).
		SetResult(&out).
		Get("products/categories")
	if err := checkResponse(resp, err, "products/categories"); err != nil {
		return nil, err
	}
	return out, nil
}

// Products fetches one page of published products ordered newest-modified
// first, the ordering the stop-on-cutoff scan depends on.
func (c *Client) Products(ctx context.Context, page int) ([]Product, error) {
	var out []Product
	resp, err := c.auth(c.http.R()).
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"per_page": strconv.Itoa(ProductPageSize),
			"page":     strconv.Itoa(page),
			"status":   "publish",
			"orderby":  "modified",
			"order":    "desc",
		}).
		SetResult(&out).
		Get("products")
	if err := checkResponse(resp, err, "products"); err != nil {
		return nil, err
	}
	return out, nil
}

// ProductIDs fetches one page of the bare id listing used by zombie cleanup.
func (c *Client) ProductIDs(ctx context.Context, page int) ([]int64, error) {
	var out []productID
	resp, err := c.auth(c.http.R()).
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"per_page": strconv.Itoa(IDPageSize),
			"page":     strconv.Itoa(page),
			"status":   "publish",
			"fields":   "id",
		}).
		SetResult(&out).
		Get("products")
	if err := checkResponse(resp, err, "products?fields=id"); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(out))
	for _, item := range out {
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// Variations fetches the variation list of one product. Variation counts are
// small enough that a single max-size page suffices.
func (c *Client) Variations(ctx context.Context, productID int64) ([]Variation, error) {
	var out []Variation
	path := fmt.Sprintf("products/%d/variations", productID)
	resp, err := c.auth(c.http.R()).
		SetContext(ctx).
		SetQueryParam("per_page", strconv.Itoa(VariationPageSize)).
		SetResult(&out).
		Get(path)
	if err := checkResponse(resp, err, path); err != nil {
		return nil, err
	}
	return out, nil
}

func checkResponse(resp *resty.Response, err error, endpoint string) error {
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("requesting %s", endpoint))
	}
	if !resp.IsSuccess() {
		return pkgerrors.Newf(pkgerrors.CodeDependency, "catalog api %s returned %d", endpoint, resp.StatusCode())
	}
	return nil
}
