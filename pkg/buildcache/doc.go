// Package buildcache implements BuildCache: a content-hash
// keyed cache of build-instruction results, persisted as cache.json
// plus {layer_id}.tar blobs, evicting the oldest entry first once the
// configured size budget would be exceeded.
package buildcache
