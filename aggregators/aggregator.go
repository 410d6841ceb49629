package aggregators

import (
	"regexp"
	"sort"
	"time"

	"carbonreceiver/core"
	"carbonreceiver/util"

	log "github.com/sirupsen/logrus"
)

const DefaultInterval = 10 * time.Second

var unsafeDescriptorRe = regexp.MustCompile("[`~!$%^&*\"|'<>?,()=]+")

type Options struct {
	Interval time.Duration
	// GroupedPlugins lists plugins whose instance is folded into the
	// metric name instead of the service descriptor.
	GroupedPlugins []string
	// Dedicated selects a real mutex, for ingestion from another goroutine.
	Dedicated       bool
	WarmupIntervals int
	EvictIntervals  int
	Clock           util.Clock
}

// Aggregator maps host/service pairs to elements.
type Aggregator struct {
	interval        time.Duration
	grouped         map[string]bool
	warmupIntervals int
	evictIntervals  int
	clock           util.Clock
	lock            Locker
	elements        map[string]*Element
}

func New(opts Options) *Aggregator {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Interval < time.Second {
		opts.Interval = time.Second
	}
	if opts.WarmupIntervals <= 0 {
		opts.WarmupIntervals = DefaultWarmupIntervals
	}
	if opts.EvictIntervals <= 0 {
		opts.EvictIntervals = DefaultEvictIntervals
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock()
	}
	grouped := map[string]bool{}
	for _, p := range opts.GroupedPlugins {
		grouped[p] = true
	}
	return &Aggregator{
		interval:        opts.Interval,
		grouped:         grouped,
		warmupIntervals: opts.WarmupIntervals,
		evictIntervals:  opts.EvictIntervals,
		clock:           opts.Clock,
		lock:            NewLocker(opts.Dedicated),
		elements:        map[string]*Element{},
	}
}

// ServiceDescriptor derives the service name of id: the plugin, suffixed
// with -instance unless the plugin is grouped. Unsafe characters are
// replaced with underscores.
func (a *Aggregator) ServiceDescriptor(id *core.Identity) string {
	res := id.Plugin
	if !a.grouped[id.Plugin] && id.PluginInstance != "" {
		res += "-" + id.PluginInstance
	}
	return unsafeDescriptorRe.ReplaceAllString(res, "_")
}

// MetricName derives the metric label of id within its element.
func (a *Aggregator) MetricName(id *core.Identity) string {
	res := id.Type
	if a.grouped[id.Plugin] && id.PluginInstance != "" {
		res += "-" + id.PluginInstance
	}
	if id.TypeInstance != "" {
		res += "-" + id.TypeInstance
	}
	return res
}

// Ingest adds a decoded point to the element it belongs to.
func (a *Aggregator) Ingest(update *core.Update) bool {
	return a.IngestValues(update.Identity, []interface{}{update.Point.Value}, update.Point.Time())
}

// IngestValues adds one reading of possibly several values, creating the
// element on first use.
func (a *Aggregator) IngestValues(id *core.Identity, values []interface{}, sourceTime time.Time) bool {
	desc := a.ServiceDescriptor(id)
	metric := a.MetricName(id)
	key := elementKey(id.Host, desc)

	a.lock.Lock()
	defer a.lock.Unlock()

	now := a.clock.Now()
	elem, ok := a.elements[key]
	if !ok {
		elem = NewElement(id.Host, desc, a.interval, a.warmupIntervals, now)
		a.elements[key] = elem
		log.Infof("Created %s ; interval=%s", elem, elem.Interval)
	}
	return elem.AddPoint(metric, values, sourceTime, now)
}

// Drain formats every ready element, in element key order.
func (a *Aggregator) Drain() []string {
	a.lock.Lock()
	defer a.lock.Unlock()

	now := a.clock.Now()
	var commands []string
	for _, key := range a.sortedKeys() {
		if cmd, ok := a.elements[key].FormatCommand(now); ok {
			commands = append(commands, cmd)
		}
	}
	return commands
}

// Evict purges stale series and then elements left without any. It
// returns the number of purged series and elements.
func (a *Aggregator) Evict() (int, int) {
	a.lock.Lock()
	defer a.lock.Unlock()

	var (
		now     = a.clock.Now()
		metrics int
		todel   []string
	)
	for key, elem := range a.elements {
		metrics += len(elem.Evict(now, a.evictIntervals))
		if len(elem.Metrics) == 0 {
			todel = append(todel, key)
		}
	}
	for _, key := range todel {
		log.Infof("%s : not anymore updated > purged.", a.elements[key])
		delete(a.elements, key)
	}
	return metrics, len(todel)
}

func (a *Aggregator) Len() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return len(a.elements)
}

// ElementStatus is a read-only view of an element.
type ElementStatus struct {
	Host           string    `json:"host"`
	Service        string    `json:"service"`
	Interval       float64   `json:"interval"`
	LastSent       time.Time `json:"lastSent"`
	LastUpdate     time.Time `json:"lastUpdate"`
	LastFullUpdate time.Time `json:"lastFullUpdate"`
	Metrics        []string  `json:"metrics"`
	Ready          bool      `json:"ready"`
}

// Snapshot returns the status of every element in element key order.
func (a *Aggregator) Snapshot() []*ElementStatus {
	a.lock.Lock()
	defer a.lock.Unlock()

	now := a.clock.Now()
	statuses := make([]*ElementStatus, 0, len(a.elements))
	for _, key := range a.sortedKeys() {
		elem := a.elements[key]
		metrics := make([]string, 0, len(elem.Metrics))
		for name := range elem.Metrics {
			metrics = append(metrics, name)
		}
		sort.Strings(metrics)
		statuses = append(statuses, &ElementStatus{
			Host:           elem.Host,
			Service:        elem.ServiceDescriptor,
			Interval:       elem.Interval.Seconds(),
			LastSent:       elem.LastSent,
			LastUpdate:     elem.LastUpdate(),
			LastFullUpdate: elem.LastFullUpdate(),
			Metrics:        metrics,
			Ready:          elem.IsReady(now),
		})
	}
	return statuses
}

func (a *Aggregator) sortedKeys() []string {
	keys := make([]string, 0, len(a.elements))
	for key := range a.elements {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
