package arbiter

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"
)

// Sink receives the external commands produced by every drain cycle.
type Sink interface {
	Send(ctx context.Context, commands []string) error
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ctx context.Context, commands []string) error

func (f SinkFunc) Send(ctx context.Context, commands []string) error {
	return f(ctx, commands)
}

// ChannelSink queues commands for an embedding host to consume.
type ChannelSink chan string

func (s ChannelSink) Send(ctx context.Context, commands []string) error {
	for _, cmd := range commands {
		select {
		case s <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// WriterSink writes one command per line, e.g. to stdout or to the
// external command file of a monitoring host.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

func (s *WriterSink) Send(_ context.Context, commands []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bw := bufio.NewWriter(s.w)
	for _, cmd := range commands {
		if _, err := bw.WriteString(cmd + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// MultiSink hands every batch to each of its sinks.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, commands []string) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, commands); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
