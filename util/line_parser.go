package util

import (
	"bytes"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"carbonreceiver/core"
)

var (
	ErrDecode = errors.New("decode line")
	ErrNaming = errors.New("decompose metric name")
)

// DecodeError reports a plaintext line that could not be decoded.
type DecodeError struct {
	Line   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode line %q: %s", e.Line, e.Reason)
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

// NamingError reports a metric name that does not follow
// host.plugin[-instance].type[-instance].
type NamingError struct {
	Name   string
	Reason string
}

func (e *NamingError) Error() string {
	return fmt.Sprintf("metric name %q: %s", e.Name, e.Reason)
}

func (e *NamingError) Unwrap() error {
	return ErrNaming
}

// DecodeLine parses `<metric_name> <value> [<timestamp>]`. A value
// containing a dot is a float64, anything else must be an int64. When the
// timestamp is missing, now is used.
func DecodeLine(line []byte, now time.Time) (*core.Point, error) {
	fields := strings.Fields(string(line))
	if len(fields) < 2 {
		return nil, &DecodeError{Line: string(line), Reason: "expected at least 2 fields"}
	}

	var (
		value interface{}
		err   error
	)
	if strings.Contains(fields[1], ".") {
		value, err = strconv.ParseFloat(fields[1], 64)
	} else {
		value, err = strconv.ParseInt(fields[1], 10, 64)
	}
	if err != nil {
		return nil, &DecodeError{Line: string(line), Reason: "invalid value " + strconv.Quote(fields[1])}
	}

	timestamp := core.UnixFloat(now)
	if len(fields) >= 3 {
		timestamp, err = strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, &DecodeError{Line: string(line), Reason: "invalid timestamp " + strconv.Quote(fields[2])}
		}
	}

	return &core.Point{
		Metric:    fields[0],
		Value:     value,
		Timestamp: timestamp,
	}, nil
}

// DecomposeIdentity splits a metric name into its collectd identity.
func DecomposeIdentity(name string) (*core.Identity, error) {
	segments := strings.Split(name, ".")
	if len(segments) != 3 {
		return nil, &NamingError{Name: name, Reason: fmt.Sprintf("expected 3 dot-separated segments, got %d", len(segments))}
	}

	id := &core.Identity{Host: segments[0]}
	id.Plugin, id.PluginInstance = splitInstance(segments[1])
	id.Type, id.TypeInstance = splitInstance(segments[2])

	if id.Host == "" || id.Plugin == "" || id.Type == "" {
		return nil, &NamingError{Name: name, Reason: "empty host, plugin or type"}
	}
	return id, nil
}

func splitInstance(segment string) (string, string) {
	if i := strings.IndexByte(segment, '-'); i >= 0 {
		return segment[:i], segment[i+1:]
	}
	return segment, ""
}

// Decode yields one point or one decode error per non-blank line of buf.
func Decode(buf []byte, now time.Time) iter.Seq2[*core.Point, error] {
	return func(yield func(*core.Point, error) bool) {
		for _, line := range bytes.Split(buf, []byte("\n")) {
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			if !yield(DecodeLine(line, now)) {
				return
			}
		}
	}
}

// Interpret attaches an identity to every decoded point. Errors from
// points are passed through, so consumers see every failed record and can
// skip it.
func Interpret(points iter.Seq2[*core.Point, error]) iter.Seq2[*core.Update, error] {
	return func(yield func(*core.Update, error) bool) {
		for pt, err := range points {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			id, err := DecomposeIdentity(pt.Metric)
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			if !yield(&core.Update{Identity: id, Point: pt}, nil) {
				return
			}
		}
	}
}
