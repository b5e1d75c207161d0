package catalog

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/zeebo/xxh3"
)

// SchemaHash computes the content hash of an input schema used for change
// detection, per spec section 4.2: the canonical-JSON serialization of
// inputSchema with keys sorted at every object level, hashed with xxh3
// (grounded on alexandrem-coral's go.mod dependency on zeebo/xxh3 — chosen
// here over stdlib crypto hashes because xxh3 is the pack's own pick for
// fast, non-cryptographic content hashing of arbitrary JSON payloads).
func SchemaHash(schema json.RawMessage) (string, error) {
	canon, err := canonicalize(schema)
	if err != nil {
		return "", fmt.Errorf("canonicalize schema: %w", err)
	}
	sum := xxh3.Hash(canon)
	return fmt.Sprintf("%016x", sum), nil
}

// canonicalize re-encodes arbitrary JSON with object keys sorted at every
// level, so two structurally-equal schemas with differently-ordered keys
// hash identically.
func canonicalize(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(sortValue(v))
}

// sortValue recursively rebuilds v so maps are emitted with sorted keys;
// json.Marshal already sorts map[string]interface{} keys, but we rebuild
// explicitly through orderedMap to make the intent (and the invariant)
// explicit rather than relying on an implementation detail of encoding/json.
func sortValue(v interface{}) interface{} {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(orderedMap, 0, len(keys))
		for _, k := range keys {
			out = append(out, kv{k, sortValue(vv[k])})
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			out[i] = sortValue(e)
		}
		return out
	default:
		return vv
	}
}

type kv struct {
	Key   string
	Value interface{}
}

// orderedMap marshals as a JSON object preserving insertion order, which
// sortValue has already sorted by key.
type orderedMap []kv

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, pair := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(pair.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(pair.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}
