package fetchcore

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"
)

// RequestKey derives the deduplication key for a logical request. Parameter
// maps are canonicalized (keys sorted recursively) before hashing, so
// identical requests with differently ordered parameters collapse to the
// same key.
func RequestKey(method, resource string, params map[string]any) string {
	h := fnv.New64a()
	h.Write([]byte(method))
	h.Write([]byte{':'})
	h.Write([]byte(resource))
	if len(params) > 0 {
		h.Write([]byte{':'})
		h.Write(canonicalParams(params))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// CacheKey derives the cache key for a logical request within a namespace.
func CacheKey(namespace, method, resource string, params map[string]any) string {
	return namespace + ":" + RequestKey(method, resource, params)
}

// canonicalParams produces a deterministic JSON representation of the
// parameters. Maps are sorted by key; encoding failures for exotic values
// fall back to fmt formatting so a key is always produced.
func canonicalParams(params map[string]any) []byte {
	out, err := canonicalize(params)
	if err != nil {
		return fmt.Appendf(nil, "%v", params)
	}
	return out
}

func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}

	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		return canonicalizeSlice(val)
	default:
		return json.Marshal(v)
	}
}

func canonicalizeMap(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := []byte("{")
	for i, k := range keys {
		if i > 0 {
			result = append(result, ',')
		}

		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		result = append(result, keyBytes...)
		result = append(result, ':')

		valBytes, err := canonicalize(m[k])
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, '}')

	return result, nil
}

func canonicalizeSlice(s []any) ([]byte, error) {
	result := []byte("[")
	for i, v := range s {
		if i > 0 {
			result = append(result, ',')
		}

		valBytes, err := canonicalize(v)
		if err != nil {
			return nil, err
		}
		result = append(result, valBytes...)
	}
	result = append(result, ']')

	return result, nil
}
