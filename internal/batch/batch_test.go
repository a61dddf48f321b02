package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	err     error
	batches [][]Record
	mu      sync.Mutex
}

func (s *memSink) WriteBatch(_ context.Context, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Record(nil), records...))
	return s.err
}

func (s *memSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

type observation struct {
	err  error
	rows int
}

type memObserver struct {
	seen []observation
	mu   sync.Mutex
}

func (o *memObserver) ObserveBatchWrite(rows int, _ time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seen = append(o.seen, observation{rows: rows, err: err})
}

func TestBatcher_FlushOnSize(t *testing.T) {
	sink := &memSink{}
	obs := &memObserver{}
	b := New(sink, obs, Config{Size: 3, Interval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- b.Run(ctx) }()

	for i := range 7 {
		require.True(t, b.Add(Record{UserID: uint64(i)}))
	}
	assert.Eventually(t, func() bool { return sink.total() >= 6 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 7, sink.total(), "shutdown drains the remainder")
	require.Len(t, sink.batches, 3)
	assert.Len(t, sink.batches[0], 3)
	assert.Len(t, sink.batches[2], 1)
	assert.Equal(t, uint64(6), sink.batches[2][0].UserID)
	assert.Len(t, obs.seen, 3)
}

func TestBatcher_FlushOnInterval(t *testing.T) {
	sink := &memSink{}
	b := New(sink, nil, Config{Size: 100, Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	b.Add(Record{UserID: 1})
	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestBatcher_DropsWhenFull(t *testing.T) {
	b := New(&memSink{}, nil, Config{QueueSize: 2})
	assert.True(t, b.Add(Record{}))
	assert.True(t, b.Add(Record{}))
	assert.False(t, b.Add(Record{}))
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestBatcher_SinkErrorIsObserved(t *testing.T) {
	sink := &memSink{err: errors.New("db down")}
	obs := &memObserver{}
	b := New(sink, obs, Config{Size: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- b.Run(ctx) }()

	b.Add(Record{})
	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.seen, 1)
	assert.Equal(t, 1, obs.seen[0].rows)
	assert.Error(t, obs.seen[0].err)
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.WriteBatch(context.Background(), []Record{{Uploaded: 1}, {Downloaded: 2}}))
}
