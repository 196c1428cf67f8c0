package store

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/KevoDB/ordstream/pkg/index"
)

// ErrInvalidFields is returned when user fields cannot be stored
var ErrInvalidFields = errors.New("invalid document fields")

// NormalizeFields validates user field names and returns a copy of fields with
// every value in canonical index form. Names starting with "_" are reserved
// for system fields.
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for name, v := range fields {
		if name == "" {
			return nil, fmt.Errorf("%w: empty field name", ErrInvalidFields)
		}
		if strings.HasPrefix(name, "_") {
			return nil, fmt.Errorf("%w: field %q is reserved", ErrInvalidFields, name)
		}
		nv, err := index.Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("%w: field %q: %v", ErrInvalidFields, name, err)
		}
		out[name] = nv
	}
	return out, nil
}

// ApplyPatch returns a copy of doc with patch merged in. A nil value removes the field.
func ApplyPatch(doc *Document, patch map[string]any) *Document {
	out := doc.Clone()
	for k, v := range patch {
		if v == nil {
			delete(out.Fields, k)
			continue
		}
		out.Fields[k] = v
	}
	return out
}

// Clock hands out strictly increasing creation times in milliseconds since the epoch
type Clock struct {
	mu   sync.Mutex
	last float64
	now  func() time.Time
}

// NewClock creates a clock reading the wall time
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// Next returns a creation time greater than every previous one
func (c *Clock) Next() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := float64(c.now().UnixNano()) / float64(time.Millisecond)
	if t <= c.last {
		t = math.Nextafter(c.last, math.Inf(1))
	}
	c.last = t
	return t
}

// Observe advances the clock past a creation time loaded from storage
func (c *Clock) Observe(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.last {
		c.last = t
	}
}
