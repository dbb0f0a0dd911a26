package store

import (
	"fmt"
	"reflect"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IndexDrift describes an expected index the collection does not carry as specified.
// Existing is nil when no index with the same name or key exists.
type IndexDrift struct {
	Expected IndexSpec
	Existing bson.D
}

func (d IndexDrift) String() string {
	if d.Existing == nil {
		return fmt.Sprintf("missing index %s", d.Expected)
	}

	return fmt.Sprintf("index %s differs from existing %s", d.Expected, extJSON(d.Existing))
}

// ReconcileIndexes compares expected indexes against the collection's
// listIndexes output. It never fails; every expected index without an exact
// counterpart is reported as drift. The "ns" field and numeric widths are ignored.
func ReconcileIndexes(expected []IndexSpec, existing []bson.D) []IndexDrift {
	normalized := make([]map[string]any, len(existing))
	for i, doc := range existing {
		normalized[i] = normalizeIndexDocument(doc)
	}

	var drifts []IndexDrift

	for _, spec := range expected {
		want := normalizeIndexDocument(spec.Document())

		matched := false
		for _, have := range normalized {
			if indexDocumentsEqual(want, have) {
				matched = true
				break
			}
		}

		if matched {
			continue
		}

		drifts = append(drifts, IndexDrift{Expected: spec, Existing: closestIndex(want, existing, normalized)})
	}

	return drifts
}

// closestIndex returns the existing index with the same name, else the same key.
func closestIndex(want map[string]any, existing []bson.D, normalized []map[string]any) bson.D {
	for i, have := range normalized {
		if have["name"] == want["name"] {
			return existing[i]
		}
	}

	for i, have := range normalized {
		if have["key"] == want["key"] {
			return existing[i]
		}
	}

	return nil
}

func indexDocumentsEqual(want, have map[string]any) bool {
	if len(want) != len(have) {
		return false
	}

	for key, value := range want {
		other, ok := have[key]
		if !ok {
			return false
		}

		// The server fills every collation default in; compare only what was asked for
		if key == "collation" {
			if !subsetEqual(value, other) {
				return false
			}

			continue
		}

		if !reflect.DeepEqual(value, other) {
			return false
		}
	}

	return true
}

func subsetEqual(want, have any) bool {
	wantDoc, ok := want.(map[string]any)
	if !ok {
		return reflect.DeepEqual(want, have)
	}

	haveDoc, ok := have.(map[string]any)
	if !ok {
		return false
	}

	for key, value := range wantDoc {
		if !reflect.DeepEqual(value, haveDoc[key]) {
			return false
		}
	}

	return true
}

// normalizeIndexDocument drops "ns", renders the ordered key as "f:1,g:-1"
// and turns documents into maps and numbers into float64.
func normalizeIndexDocument(doc bson.D) map[string]any {
	out := make(map[string]any, len(doc))

	for _, elem := range doc {
		switch elem.Key {
		case "ns":
			continue
		case "key":
			out["key"] = keySignature(elem.Value)
		default:
			out[elem.Key] = normalizeValue(elem.Value)
		}
	}

	return out
}

func keySignature(v any) string {
	var parts []string

	switch key := v.(type) {
	case bson.D:
		for _, elem := range key {
			parts = append(parts, fmt.Sprintf("%s:%v", elem.Key, normalizeValue(elem.Value)))
		}
	case bson.M:
		// Unordered input cannot be compared by position
		return fmt.Sprintf("%v", normalizeValue(key))
	default:
		return fmt.Sprintf("%v", v)
	}

	return strings.Join(parts, ",")
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case int32:
		return float64(value)
	case int64:
		return float64(value)
	case int:
		return float64(value)
	case float32:
		return float64(value)
	case bson.D:
		m := make(map[string]any, len(value))
		for _, elem := range value {
			m[elem.Key] = normalizeValue(elem.Value)
		}

		return m
	case bson.M:
		m := make(map[string]any, len(value))
		for k, elem := range value {
			m[k] = normalizeValue(elem)
		}

		return m
	case bson.A:
		out := make([]any, len(value))
		for i, elem := range value {
			out[i] = normalizeValue(elem)
		}

		return out
	case primitive.Decimal128:
		return value.String()
	default:
		return v
	}
}
