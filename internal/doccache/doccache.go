// Package doccache keeps parsed and validated query documents keyed by their
// source text.
package doccache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/singleflight"

	"github.com/hanpama/querycost/internal/eventbus"
	"github.com/hanpama/querycost/internal/events"
	"github.com/hanpama/querycost/internal/language"
)

// DefaultMaxDocuments bounds the cache when no size is configured.
const DefaultMaxDocuments = 1000

// Cache loads documents through the validator once and serves later
// lookups of the same text from memory. Concurrent loads of the same text
// share one parse.
type Cache struct {
	schema *language.Schema
	docs   *ristretto.Cache[string, *language.QueryDocument]
	group  singleflight.Group
}

// New returns a cache validating against s. A nil s only parses documents.
func New(s *language.Schema, maxDocuments int64) (*Cache, error) {
	if maxDocuments <= 0 {
		maxDocuments = DefaultMaxDocuments
	}
	docs, err := ristretto.NewCache(&ristretto.Config[string, *language.QueryDocument]{
		NumCounters: maxDocuments * 10,
		MaxCost:     maxDocuments,
		BufferItems: 64,
		Cost: func(*language.QueryDocument) int64 {
			return 1
		},
	})
	if err != nil {
		return nil, fmt.Errorf("doccache: %w", err)
	}
	return &Cache{schema: s, docs: docs}, nil
}

// Load returns the document for query. Parse and validation failures are
// not cached.
func (c *Cache) Load(ctx context.Context, query string) (*language.QueryDocument, error) {
	if doc, ok := c.docs.Get(query); ok {
		eventbus.Publish(ctx, events.DocumentLookup{Hit: true})
		return doc, nil
	}
	eventbus.Publish(ctx, events.DocumentLookup{Hit: false})

	v, err, _ := c.group.Do(query, func() (any, error) {
		doc, err := c.parse(query)
		if err != nil {
			return nil, err
		}
		c.docs.Set(query, doc, 1)
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*language.QueryDocument), nil
}

func (c *Cache) parse(query string) (*language.QueryDocument, error) {
	if c.schema == nil {
		return language.ParseQuery(query)
	}
	return language.LoadQuery(c.schema, query)
}

// Wait blocks until pending writes are visible to Load.
func (c *Cache) Wait() { c.docs.Wait() }

func (c *Cache) Close() { c.docs.Close() }
