// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import (
	"regexp"
	"sync"

	"github.com/luxfi/container"
)

const patternCacheSize = 32

// patternCache memoizes compiled ClearPattern expressions so repeated bulk
// clears with the same pattern do not recompile.
type patternCache struct {
	mu  sync.Mutex
	lru container.Cache[string, *regexp.Regexp]
}

func newPatternCache() *patternCache {
	return &patternCache{
		lru: container.NewLRUCache[string, *regexp.Regexp](patternCacheSize),
	}
}

func (p *patternCache) compile(pattern string) (*regexp.Regexp, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if re, ok := p.lru.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	p.lru.Put(pattern, re)
	return re, nil
}
