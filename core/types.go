package core

import (
	"math"
	"strings"
	"time"
)

// Point is one decoded plaintext line. Value holds an int64 or a float64
// depending on the lexical form of the value field.
type Point struct {
	Metric    string      `json:"metric"`
	Value     interface{} `json:"value"`
	Timestamp float64     `json:"timestamp"`
}

// Time returns the point timestamp as a time.Time.
func (p *Point) Time() time.Time {
	return FloatTime(p.Timestamp)
}

// Identity is the collectd naming decomposition of a metric name:
// host.plugin[-plugin_instance].type[-type_instance]
type Identity struct {
	Host           string `json:"host"`
	Plugin         string `json:"plugin"`
	PluginInstance string `json:"pluginInstance,omitempty"`
	Type           string `json:"type"`
	TypeInstance   string `json:"typeInstance,omitempty"`
}

func (id *Identity) Source() string {
	b := &strings.Builder{}
	b.WriteString(id.Host)
	for _, part := range []string{id.Plugin, id.PluginInstance, id.Type, id.TypeInstance} {
		if part != "" {
			b.WriteString("/")
			b.WriteString(part)
		}
	}
	return b.String()
}

// Update is a point together with its decomposed identity.
type Update struct {
	Identity *Identity
	Point    *Point
}

type MetricPoint struct {
	Raw         interface{}
	Value       interface{}
	SourceTime  time.Time
	ReceiptTime time.Time
}

// FloatTime converts fractional unix seconds to a time.Time.
func FloatTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// UnixFloat converts t to fractional unix seconds.
func UnixFloat(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// Command is an archived external command.
type Command struct {
	ID        int64  `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Host      string `json:"host"`
	Service   string `json:"service"`
	Command   string `json:"command"`
}
