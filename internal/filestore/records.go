package filestore

import (
	"encoding/json"

	"github.com/yanizio/loungebot/internal/metrics"
)

// Records is a JSON object of key → T that tolerates entries which fail to
// decode.  Such entries are counted as malformed, hidden from Items, and
// written back byte for byte on the next save.
type Records[T any] struct {
	Items  map[string]*T
	broken map[string]json.RawMessage
}

// NewRecords returns an empty set.
func NewRecords[T any]() Records[T] {
	return Records[T]{Items: make(map[string]*T)}
}

// Has reports whether key is present, decodable or not.
func (r *Records[T]) Has(key string) bool {
	if _, ok := r.Items[key]; ok {
		return true
	}
	_, ok := r.broken[key]
	return ok
}

// Malformed reports whether key is present but failed to decode.  Callers
// must not create a fresh entry under such a key.
func (r *Records[T]) Malformed(key string) bool {
	_, ok := r.broken[key]
	return ok
}

// Broken returns the number of undecodable entries.
func (r *Records[T]) Broken() int { return len(r.broken) }

func (r *Records[T]) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	r.Items = make(map[string]*T, len(raw))
	r.broken = nil
	for k, msg := range raw {
		v := new(T)
		if err := json.Unmarshal(msg, v); err != nil {
			if r.broken == nil {
				r.broken = make(map[string]json.RawMessage)
			}
			r.broken[k] = msg
			metrics.MalformedRecordsTotal.Inc()
			continue
		}
		r.Items[k] = v
	}
	return nil
}

func (r Records[T]) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Items)+len(r.broken))
	for k, msg := range r.broken {
		out[k] = msg
	}
	for k, v := range r.Items {
		out[k] = v
	}
	return json.Marshal(out)
}
