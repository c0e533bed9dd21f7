package repository

import (
	"encoding/json"
	"time"

	"duotime/internal/store"
)

// Helpers for reading store records. Both backends return plain values or
// nil, but accept pointers on write.

func str(r store.Record, k string) string {
	switch v := r[k].(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

func strPtr(r store.Record, k string) *string {
	switch v := r[k].(type) {
	case string:
		return &v
	case *string:
		return v
	}
	return nil
}

func boolean(r store.Record, k string) bool {
	b, _ := r[k].(bool)
	return b
}

func timestamp(r store.Record, k string) time.Time {
	switch v := r[k].(type) {
	case time.Time:
		return v.UTC()
	case *time.Time:
		if v != nil {
			return v.UTC()
		}
	}
	return time.Time{}
}

func object(r store.Record, k string) map[string]any {
	switch v := r[k].(type) {
	case map[string]any:
		return v
	case []byte:
		var m map[string]any
		if json.Unmarshal(v, &m) == nil {
			return m
		}
	case string:
		var m map[string]any
		if json.Unmarshal([]byte(v), &m) == nil {
			return m
		}
	}
	return nil
}

// nullable turns an optional string into a record value.
func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
