package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
)

// MaxKeyLength is the longest key kept as is; longer keys are re-hashed under
// "prefix:hash:" so prefix patterns still match them.
const MaxKeyLength = 250

// Identifiable is implemented by records that should contribute only their
// id to a cache key, so keys stay stable across reloads of the same row.
type Identifiable interface {
	CacheID() string
}

// GenerateKey derives "prefix:md5(json(args)+json(kwargs))". kwargs are
// encoded with sorted keys, so their order never changes the key.
func GenerateKey(prefix string, args []any, kwargs map[string]any) (string, error) {
	normArgs := make([]any, 0, len(args))
	for _, arg := range args {
		normArgs = append(normArgs, keyValue(arg))
	}
	normKwargs := make(map[string]any, len(kwargs))
	for name, arg := range kwargs {
		normKwargs[name] = keyValue(arg)
	}

	argsJSON, err := json.Marshal(normArgs)
	if err != nil {
		return "", fmt.Errorf("cache: encode key args: %w", err)
	}
	kwargsJSON, err := json.Marshal(normKwargs)
	if err != nil {
		return "", fmt.Errorf("cache: encode key kwargs: %w", err)
	}

	key := prefix + ":" + md5Hex(string(argsJSON)+string(kwargsJSON))
	if len(key) > MaxKeyLength {
		key = prefix + ":hash:" + md5Hex(key)
	}
	return key, nil
}

// Key is GenerateKey without keyword arguments.
func Key(prefix string, args ...any) (string, error) {
	return GenerateKey(prefix, args, nil)
}

// ResponseKey identifies a cached HTTP response. When userID is set the key
// carries a "user_id:<id>:" segment so ClearUserCache can find it.
func ResponseKey(prefix, path string, query url.Values, userID string) (string, error) {
	if userID != "" {
		prefix = prefix + ":" + userSegment(userID)
	}
	return GenerateKey(prefix, []any{path, canonicalQuery(query)}, nil)
}

func userSegment(userID string) string {
	return "user_id:" + userID
}

func canonicalQuery(query url.Values) []string {
	pairs := make([]string, 0, len(query))
	for name, values := range query {
		for _, v := range values {
			pairs = append(pairs, url.QueryEscape(name)+"="+url.QueryEscape(v))
		}
	}
	sort.Strings(pairs)
	return pairs
}

func keyValue(arg any) any {
	if id, ok := arg.(Identifiable); ok {
		return id.CacheID()
	}
	return arg
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
