// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package resultcache

import "sort"

// invalidationIndex keeps two reverse indices, tag to key set and dependency
// to key set, in lockstep with the entry store. Every key listed under a tag
// or dependency must reference a live entry carrying it, and vice versa, so
// all updates happen inside the same critical section as the store mutation.
// Callers hold the cache mutex.
type invalidationIndex struct {
	byTag map[string]map[string]struct{}
	byDep map[string]map[string]struct{}
}

func newInvalidationIndex() *invalidationIndex {
	return &invalidationIndex{
		byTag: make(map[string]map[string]struct{}),
		byDep: make(map[string]map[string]struct{}),
	}
}

func (ix *invalidationIndex) add(key string, tags, deps []string) {
	for _, t := range tags {
		set := ix.byTag[t]
		if set == nil {
			set = make(map[string]struct{})
			ix.byTag[t] = set
		}
		set[key] = struct{}{}
	}
	for _, d := range deps {
		set := ix.byDep[d]
		if set == nil {
			set = make(map[string]struct{})
			ix.byDep[d] = set
		}
		set[key] = struct{}{}
	}
}

// remove drops a key's old generation from both indices. Empty sets are
// deleted so the index never accumulates dead labels.
func (ix *invalidationIndex) remove(key string, tags, deps []string) {
	for _, t := range tags {
		if set := ix.byTag[t]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(ix.byTag, t)
			}
		}
	}
	for _, d := range deps {
		if set := ix.byDep[d]; set != nil {
			delete(set, key)
			if len(set) == 0 {
				delete(ix.byDep, d)
			}
		}
	}
}

func (ix *invalidationIndex) keysForTag(tag string) []string {
	return sortedKeys(ix.byTag[tag])
}

func (ix *invalidationIndex) keysForDependency(dep string) []string {
	return sortedKeys(ix.byDep[dep])
}

func (ix *invalidationIndex) clear() {
	ix.byTag = make(map[string]map[string]struct{})
	ix.byDep = make(map[string]map[string]struct{})
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
