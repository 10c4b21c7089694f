// Package metadata fetches off-chain asset metadata documents.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// ErrInvalidDocument is returned when a response body is not a JSON object.
var ErrInvalidDocument = errors.New("invalid metadata document")

const maxDocumentSize = 1 << 20

// DefaultCacheSize is the number of documents a Fetcher keeps.
const DefaultCacheSize = 4096

// Attribute is one trait of a metadata document.
type Attribute struct {
	TraitType string
	Value     string
}

// Document is the subset of a metadata document used for display.
type Document struct {
	Name        string
	Symbol      string
	Image       string
	Description string
	Attributes  []Attribute
}

// Fetcher retrieves and caches metadata documents by URI.
type Fetcher struct {
	client *http.Client
	log    *zap.Logger
	cache  *lru.Cache[string, Document]
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*fetcherConfig)

type fetcherConfig struct {
	cacheSize int
}

// WithCacheSize overrides DefaultCacheSize.
func WithCacheSize(n int) FetcherOption {
	return func(c *fetcherConfig) {
		if n > 0 {
			c.cacheSize = n
		}
	}
}

// NewFetcher creates a Fetcher. client may be nil.
func NewFetcher(client *http.Client, log *zap.Logger, opts ...FetcherOption) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg := fetcherConfig{cacheSize: DefaultCacheSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	// lru.New fails only for a non-positive size.
	cache, _ := lru.New[string, Document](cfg.cacheSize)
	return &Fetcher{client: client, log: log.Named("metadata"), cache: cache}
}

// Fetch downloads the document at uri. Successful results are cached; the
// least recently used document is evicted once the cache is full.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (Document, error) {
	if doc, ok := f.cache.Get(uri); ok {
		return doc, nil
	}

	doc, err := f.fetch(ctx, uri)
	if err != nil {
		return Document{}, err
	}
	f.cache.Add(uri, doc)
	return doc, nil
}

// Cached returns the number of documents held.
func (f *Fetcher) Cached() int {
	return f.cache.Len()
}

func (f *Fetcher) fetch(ctx context.Context, uri string) (Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return Document{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Document{}, fmt.Errorf("get %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Document{}, fmt.Errorf("get %s: status %d", uri, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return Document{}, fmt.Errorf("read %s: %w", uri, err)
	}
	return Parse(body)
}

// Parse extracts a Document from raw JSON.
func Parse(body []byte) (Document, error) {
	if !gjson.ValidBytes(body) {
		return Document{}, ErrInvalidDocument
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return Document{}, ErrInvalidDocument
	}

	doc := Document{
		Name:        strings.TrimSpace(root.Get("name").String()),
		Symbol:      root.Get("symbol").String(),
		Image:       root.Get("image").String(),
		Description: root.Get("description").String(),
	}
	root.Get("attributes").ForEach(func(_, attr gjson.Result) bool {
		doc.Attributes = append(doc.Attributes, Attribute{
			TraitType: attr.Get("trait_type").String(),
			Value:     attr.Get("value").String(),
		})
		return true
	})
	return doc, nil
}

// DisplayName returns the document name at uri, or fallback when the
// document cannot be fetched, parsed or has no name.
func (f *Fetcher) DisplayName(ctx context.Context, uri, fallback string) string {
	if uri == "" {
		return fallback
	}
	doc, err := f.Fetch(ctx, uri)
	if err != nil {
		f.log.Debug("metadata unavailable", zap.String("uri", uri), zap.Error(err))
		return fallback
	}
	if doc.Name == "" {
		return fallback
	}
	return doc.Name
}
