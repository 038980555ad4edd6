// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package planner

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// indexCacheSize bounds the number of parsed indices kept in memory.
const indexCacheSize = 128

// indexCache memoizes parsed index structures, keyed by backend kind,
// object key and object version.  A changed object version naturally evicts
// through key rotation and the LRU bound.
type indexCache struct {
	entries *lru.Cache[string, interface{}]
}

func newIndexCache() *indexCache {
	entries, err := lru.New[string, interface{}](indexCacheSize)
	if err != nil {
		// lru.New only fails for non-positive sizes.
		panic(err)
	}
	return &indexCache{entries: entries}
}

func cacheKey(backend, key, version string) string {
	return fmt.Sprintf("%s\x00%s\x00%s", backend, key, version)
}

func (c *indexCache) get(key string) (interface{}, bool) {
	return c.entries.Get(key)
}

func (c *indexCache) add(key string, value interface{}) {
	c.entries.Add(key, value)
}
