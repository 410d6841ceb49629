package aggregators

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"carbonreceiver/core"

	log "github.com/sirupsen/logrus"
)

const (
	// DefaultWarmupIntervals is how many intervals a new element waits
	// before its first emission, so a complete first data set can arrive.
	DefaultWarmupIntervals = 2
	// DefaultEvictIntervals is how many intervals a metric series may go
	// without updates before it is purged.
	DefaultEvictIntervals = 3
	// DebounceThreshold is the minimum source time distance between two
	// accepted readings of one metric.
	DebounceThreshold = time.Second
)

// Element collects the metrics of one host/service pair until they are
// emitted as a single PROCESS_SERVICE_OUTPUT command.
type Element struct {
	Host              string
	ServiceDescriptor string
	Interval          time.Duration
	Metrics           map[string]core.MetricPoints
	LastSent          time.Time
}

// NewElement creates an element whose first emission is delayed by
// warmup intervals after created.
func NewElement(host, serviceDescriptor string, interval time.Duration, warmup int, created time.Time) *Element {
	if interval < time.Second {
		interval = time.Second
	}
	return &Element{
		Host:              host,
		ServiceDescriptor: serviceDescriptor,
		Interval:          interval,
		Metrics:           map[string]core.MetricPoints{},
		LastSent:          created.Add(time.Duration(warmup) * interval),
	}
}

func (e *Element) String() string {
	return e.Host + "." + e.ServiceDescriptor
}

// Key identifies the element within an aggregator.
func (e *Element) Key() string {
	return elementKey(e.Host, e.ServiceDescriptor)
}

func elementKey(host, serviceDescriptor string) string {
	return host + ";" + serviceDescriptor
}

// AddPoint records values of metric read at sourceTime. The first reading
// of a metric is stored as is. Later readings are paired index by index
// with the stored entries, up to the shorter of the two: a pair whose
// reading is less than DebounceThreshold newer than the stored entry is
// dropped, and the accepted pairs become the new series. When nothing is
// accepted the stored series is kept. Reports whether anything was stored.
func (e *Element) AddPoint(metric string, values []interface{}, sourceTime, now time.Time) bool {
	if len(values) == 0 {
		return false
	}

	old, ok := e.Metrics[metric]
	if !ok {
		log.Infof("%s : New perfdata: %s : %v", e, metric, values)
		pts := make(core.MetricPoints, 0, len(values))
		for _, v := range values {
			pts = append(pts, &core.MetricPoint{
				Raw:         v,
				Value:       v,
				SourceTime:  sourceTime,
				ReceiptTime: now,
			})
		}
		e.Metrics[metric] = pts
		return true
	}

	n := min(len(old), len(values))
	pts := make(core.MetricPoints, 0, n)
	for i := 0; i < n; i++ {
		if sourceTime.Sub(old[i].SourceTime) < DebounceThreshold {
			continue
		}
		pts = append(pts, &core.MetricPoint{
			Raw:         values[i],
			Value:       values[i],
			SourceTime:  sourceTime,
			ReceiptTime: now,
		})
	}
	if len(pts) == 0 {
		return false
	}
	e.Metrics[metric] = pts
	return true
}

// LastUpdate is the most recent receipt time over all series.
func (e *Element) LastUpdate() time.Time {
	var last time.Time
	for _, pts := range e.Metrics {
		if t := pts.Latest(); t.After(last) {
			last = t
		}
	}
	return last
}

// LastFullUpdate is the oldest of the per-series latest receipt times,
// i.e. the last time every series of the element had been refreshed.
func (e *Element) LastFullUpdate() time.Time {
	var (
		oldest time.Time
		first  = true
	)
	for _, pts := range e.Metrics {
		if t := pts.Latest(); first || t.Before(oldest) {
			oldest = t
			first = false
		}
	}
	return oldest
}

// IsReady reports whether the element has data received after its last
// emission and at least one interval has passed since that emission.
func (e *Element) IsReady(now time.Time) bool {
	return len(e.Metrics) > 0 &&
		e.LastUpdate().After(e.LastSent) &&
		now.After(e.LastSent.Add(e.Interval))
}

// FormatCommand renders the element as an external command and marks it
// sent. It returns false when the element is not ready.
func (e *Element) FormatCommand(now time.Time) (string, bool) {
	if !e.IsReady(now) {
		return "", false
	}

	names := make([]string, 0, len(e.Metrics))
	for name := range e.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var (
		perfData []string
		maxTime  time.Time
	)
	for _, name := range names {
		pts := e.Metrics[name]
		for i, pt := range pts {
			label := name
			if len(pts) > 1 {
				label = fmt.Sprintf("%s_%d", name, i)
			}
			perfData = append(perfData, label+"="+formatValue(pt.Value))
			if pt.ReceiptTime.After(maxTime) {
				maxTime = pt.ReceiptTime
			}
		}
	}

	e.LastSent = now
	return fmt.Sprintf("[%d] PROCESS_SERVICE_OUTPUT;%s;%s;Carbon|%s",
		maxTime.Unix(), e.Host, e.ServiceDescriptor, strings.Join(perfData, " ")), true
}

func formatValue(v interface{}) string {
	switch v1 := v.(type) {
	case float64:
		return fmt.Sprintf("%f", v1)
	case float32:
		return fmt.Sprintf("%f", v1)
	case int:
		return fmt.Sprintf("%d", v1)
	case int32:
		return fmt.Sprintf("%d", v1)
	case int64:
		return fmt.Sprintf("%d", v1)
	default:
		return fmt.Sprintf("%v", v1)
	}
}

// Evict drops every series whose latest reading is older than
// intervals × Interval and returns the dropped metric names.
func (e *Element) Evict(now time.Time, intervals int) []string {
	deadline := now.Add(-time.Duration(intervals) * e.Interval)
	var purged []string
	for name, pts := range e.Metrics {
		if pts.Latest().Before(deadline) {
			delete(e.Metrics, name)
			purged = append(purged, name)
			log.Infof("%s %s: %d*interval without data, purged.", e, name, intervals)
		}
	}
	sort.Strings(purged)
	return purged
}
