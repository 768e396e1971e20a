// Package safety implements the Safety Kernel: the set of checks every step
// must pass before and during dispatch, independent of which step family is
// being executed (spec §6.2).
package safety

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// IdempotencyKey computes the canonical dedup key for an execution request:
// a SHA-256 digest of the canonicalized plan JSON, salted with the tenant
// and actor so the same plan submitted by a different actor or tenant never
// collides. Canonicalization sorts object keys recursively so semantically
// identical JSON always hashes the same regardless of field order —
// grounded on the teacher's canonical-JSON signing shape, minus the HMAC
// step this package has no signing key for.
func IdempotencyKey(tenantID, actorID string, planJSON []byte) (string, error) {
	var v any
	if err := json.Unmarshal(planJSON, &v); err != nil {
		return "", err
	}
	canonical, err := canonicalize(v)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(actorID))
	h.Write([]byte{0})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalize re-marshals v with object keys sorted at every nesting level,
// producing a byte-stable representation for hashing.
func canonicalize(v any) ([]byte, error) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf []byte
		buf = append(buf, '{')
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := canonicalize(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []any:
		var buf []byte
		buf = append(buf, '[')
		for i, e := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			eb, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			buf = append(buf, eb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(t)
	}
}
