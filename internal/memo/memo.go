// Package memo memoizes a function through the cluster cache: repeated
// calls with the same arguments are served from cache instead of
// recomputed, keyed by a fingerprint of the call's arguments rather than
// the arguments themselves.
package memo

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/geocache/geocache/internal/codec"
	"github.com/geocache/geocache/internal/registry"
)

// Key derives the cache key for a memoized call: funcName, two dashes,
// then the hex MD5 digest of the call's arguments. Both keyword names
// and values are folded into the digest; folding only names would let
// two calls differing solely in a keyword's value collide on the same
// cache entry.
func Key(funcName string, args []any, kwargs map[string]any) string {
	var sb strings.Builder
	for _, a := range args {
		sb.WriteString(fmt.Sprint(a))
	}

	names := make([]string, 0, len(kwargs))
	for k := range kwargs {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		sb.WriteString(k)
		sb.WriteString(fmt.Sprint(kwargs[k]))
	}

	digest := md5.Sum([]byte(sb.String()))
	return fmt.Sprintf("%s--%s", funcName, hex.EncodeToString(digest[:]))
}

// Memoize runs compute and caches its result under the fingerprint of
// (funcName, args, kwargs) in region's cluster client, for expirySeconds.
// A subsequent call with the same fingerprint is served from the cache
// without invoking compute.
//
// Go has no native keyword-argument syntax, so args/kwargs here are
// supplied explicitly by the caller rather than captured from a real
// call site; callers that don't use keyword-style parameters can pass a
// nil kwargs map.
func Memoize[T any](reg *registry.Registry, funcName, region string, expirySeconds int, args []any, kwargs map[string]any, compute func() (T, error)) (T, error) {
	var zero T

	key := Key(funcName, args, kwargs)
	c := reg.GetOrCreate(region)

	if hit, raw := c.Get(region, key); hit {
		var out T
		if err := codec.Decode(raw, &out); err == nil {
			return out, nil
		}
		// Stored value no longer matches T (e.g. the function's return
		// shape changed); fall through and recompute.
	}

	val, err := compute()
	if err != nil {
		return zero, err
	}

	data, err := codec.Encode(val)
	if err != nil {
		return zero, fmt.Errorf("memo: result of %s not cacheable: %w", funcName, err)
	}
	c.Put(region, key, data, expirySeconds)

	return val, nil
}
