package arbiter

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	subjects []string
	messages []string
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	if p.err != nil {
		return p.err
	}
	p.subjects = append(p.subjects, subject)
	p.messages = append(p.messages, string(data))
	return nil
}

func TestWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	require.NoError(t, sink.Send(context.Background(), []string{"[1] a", "[2] b"}))
	require.NoError(t, sink.Send(context.Background(), nil))
	require.Equal(t, "[1] a\n[2] b\n", buf.String())
}

func TestChannelSink(t *testing.T) {
	sink := make(ChannelSink, 1)
	require.NoError(t, sink.Send(context.Background(), []string{"one"}))
	require.Equal(t, "one", <-sink)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink <- "full"
	require.True(t, errors.Is(sink.Send(ctx, []string{"two"}), context.Canceled))
}

func TestMultiSink(t *testing.T) {
	boom := errors.New("boom")
	var buf bytes.Buffer
	var got []string
	sink := MultiSink{
		SinkFunc(func(_ context.Context, commands []string) error {
			got = append(got, commands...)
			return nil
		}),
		SinkFunc(func(context.Context, []string) error { return boom }),
		NewWriterSink(&buf),
	}

	err := sink.Send(context.Background(), []string{"x"})
	require.True(t, errors.Is(err, boom))
	require.Equal(t, []string{"x"}, got)
	require.Equal(t, "x\n", buf.String())
}

func TestNATSSink(t *testing.T) {
	_, err := NewNATSSink(&fakePublisher{}, "")
	require.Error(t, err)

	pub := &fakePublisher{}
	sink, err := NewNATSSink(pub, "carbon.commands")
	if err != nil {
		t.Fatal(err)
	}
	require.NoError(t, sink.Send(context.Background(), []string{"a", "b"}))
	require.Equal(t, []string{"carbon.commands", "carbon.commands"}, pub.subjects)
	require.Equal(t, []string{"a", "b"}, pub.messages)
	require.NoError(t, sink.Close())

	pub.err = errors.New("no responders")
	require.True(t, errors.Is(sink.Send(context.Background(), []string{"c"}), pub.err))
}
