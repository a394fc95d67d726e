package metrics

import (
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tastythames/sshscan/internal/cache"
)

// Collector renders the cached scan results on every scrape. Label names are
// the union of inventory labels over all targets, so it registers unchecked.
type Collector struct {
	cache cache.Cache
	now   func() time.Time
}

var _ prometheus.Collector = (*Collector)(nil)

func NewCollector(c cache.Cache) *Collector {
	return &Collector{cache: c, now: time.Now}
}

func (c *Collector) Describe(chan<- *prometheus.Desc) {}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.cache.Snapshot()
	if len(snap) == 0 {
		return
	}
	now := c.now()

	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	labelNames := labelUnion(snap)
	descs := map[string]*prometheus.Desc{}
	desc := func(name, help string) *prometheus.Desc {
		d, ok := descs[name]
		if !ok {
			d = prometheus.NewDesc(name, help, labelNames, nil)
			descs[name] = d
		}
		return d
	}

	for _, key := range keys {
		res := snap[key]
		lv := labelValues(key, res.Labels, labelNames)

		up, errFlag := 1.0, 0.0
		if res.Err != nil {
			up, errFlag = 0, 1
		}
		ch <- prometheus.MustNewConstMetric(desc(MetricTargetUp, "1 if last SSH scrape succeeded."), prometheus.GaugeValue, up, lv...)
		ch <- prometheus.MustNewConstMetric(desc(MetricTargetError, "1 if last scrape returned error."), prometheus.GaugeValue, errFlag, lv...)
		ch <- prometheus.MustNewConstMetric(desc(MetricCacheAgeSeconds, "Age of cached result per target."), prometheus.GaugeValue, now.Sub(res.At).Seconds(), lv...)
		ch <- prometheus.MustNewConstMetric(desc(MetricLastScrapeTs, "Unix timestamp of last scrape."), prometheus.GaugeValue, float64(res.At.UnixNano())/1e9, lv...)

		for name, val := range res.Values {
			def, ok := valueDefs[name]
			if !ok {
				continue
			}
			ch <- prometheus.MustNewConstMetric(desc(def.name, def.help), def.kind, val, lv...)
		}
	}
}

// labelUnion returns "target" followed by every other label name, sorted.
func labelUnion(snap map[string]cache.Result) []string {
	seen := map[string]bool{"target": true}
	var names []string
	for _, res := range snap {
		for k := range res.Labels {
			n := sanitizeLabel(k)
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	sort.Strings(names)
	return append([]string{"target"}, names...)
}

func labelValues(key string, labels map[string]string, names []string) []string {
	byName := make(map[string]string, len(labels))
	for k, v := range labels {
		byName[sanitizeLabel(k)] = v
	}
	byName["target"] = key

	out := make([]string, len(names))
	for i, n := range names {
		out[i] = byName[n]
	}
	return out
}

// sanitizeLabel maps an inventory label key onto [a-zA-Z_][a-zA-Z0-9_]*.
func sanitizeLabel(k string) string {
	var b strings.Builder
	for i, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			if i == 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	s := b.String()
	if strings.HasPrefix(s, "__") {
		// reserved for internal use
		s = "label" + s
	}
	return s
}
