package dispatch

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// normalizeValue maps driver-specific values onto the JSON-friendly
// primitives the wire contract allows. Timestamps become RFC 3339 strings.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case nil, bool, string, int, int32, int64, float32, float64:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case []byte:
		return string(val)
	case primitive.DateTime:
		return val.Time().UTC().Format(time.RFC3339)
	case primitive.ObjectID:
		return val.Hex()
	case primitive.Decimal128:
		return val.String()
	case primitive.A:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case primitive.M:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	default:
		return fmt.Sprint(val)
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}
