package arbiter

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

var errEmptySubject = errors.New("nats sink: empty subject")

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each command as one message on a subject.
type NATSSink struct {
	pub     Publisher
	subject string
	conn    *nats.Conn
}

func NewNATSSink(pub Publisher, subject string) (*NATSSink, error) {
	if subject == "" {
		return nil, errEmptySubject
	}
	return &NATSSink{pub: pub, subject: subject}, nil
}

// ConnectNATS dials url and returns a sink owning the connection.
func ConnectNATS(url, subject string) (*NATSSink, error) {
	if subject == "" {
		return nil, errEmptySubject
	}
	nc, err := nats.Connect(url, nats.Name("carbonreceiver"))
	if err != nil {
		return nil, fmt.Errorf("nats sink: connect %s: %w", url, err)
	}
	return &NATSSink{pub: nc, subject: subject, conn: nc}, nil
}

func (s *NATSSink) Send(ctx context.Context, commands []string) error {
	for _, cmd := range commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.pub.Publish(s.subject, []byte(cmd)); err != nil {
			return fmt.Errorf("nats sink: publish %s: %w", s.subject, err)
		}
	}
	return nil
}

// Close drains the connection opened by ConnectNATS.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
