package activitymap

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/goliatone/go-allowlist"
)

// Sink writes every activity event as one normalized JSON line.
type Sink struct {
	mu   sync.Mutex
	enc  *json.Encoder
	opts []Option
}

var _ allowlist.ActivitySink = (*Sink)(nil)

// NewSink creates a sink writing to w.
func NewSink(w io.Writer, opts ...Option) *Sink {
	return &Sink{enc: json.NewEncoder(w), opts: opts}
}

// Record implements allowlist.ActivitySink.
func (s *Sink) Record(_ context.Context, event allowlist.ActivityEvent) error {
	record := Normalize(event, s.opts...)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(record)
}
