package core

import "time"

// MetricPoints is the series stored for one metric name of an element,
// one entry per value index.
type MetricPoints []*MetricPoint

// Latest returns the most recent receipt time of the series.
func (p MetricPoints) Latest() time.Time {
	var latest time.Time
	for _, pt := range p {
		if pt.ReceiptTime.After(latest) {
			latest = pt.ReceiptTime
		}
	}
	return latest
}
