// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package metercacher

import "github.com/prometheus/client_golang/prometheus"

var (
	hitLabels  = prometheus.Labels{"result": "hit"}
	missLabels = prometheus.Labels{"result": "miss"}
)

type cacheMetrics struct {
	getCount  *prometheus.CounterVec
	getTime   *prometheus.CounterVec
	setCount  prometheus.Counter
	setTime   prometheus.Counter
	entries   prometheus.Gauge
	sizeBytes prometheus.Gauge
	evictions prometheus.Gauge
}

func newMetrics(namespace string, reg prometheus.Registerer) (*cacheMetrics, error) {
	m := &cacheMetrics{
		getCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "get_count",
			Help:      "number of get calls by result",
		}, []string{"result"}),
		getTime: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "get_time",
			Help:      "cumulative seconds spent in get calls by result",
		}, []string{"result"}),
		setCount: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "set_count",
			Help:      "number of set calls",
		}),
		setTime: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "set_time",
			Help:      "cumulative seconds spent in set calls",
		}),
		entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "current number of entries",
		}),
		sizeBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "size_bytes",
			Help:      "approximate serialized size of all entries",
		}),
		evictions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "evictions",
			Help:      "total entries removed by eviction sweeps",
		}),
	}
	for _, collector := range []prometheus.Collector{
		m.getCount,
		m.getTime,
		m.setCount,
		m.setTime,
		m.entries,
		m.sizeBytes,
		m.evictions,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}
	return m, nil
}
