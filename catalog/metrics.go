// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package catalog

import "github.com/prometheus/client_golang/prometheus"

var (
	Registry = prometheus.NewRegistry()

	writesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coldb",
		Subsystem: "catalog",
		Name:      "writes_total",
		Help:      "Number of write jobs applied to the catalog, successful or not.",
	})

	writeBatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "coldb",
		Subsystem: "catalog",
		Name:      "write_batch_size",
		Help:      "Number of write jobs merged into a single published version.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	collectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coldb",
		Subsystem: "catalog",
		Name:      "collections",
		Help:      "Number of committed collections in the latest published version.",
	})

	dropPendingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "coldb",
		Subsystem: "catalog",
		Name:      "drop_pending_collections",
		Help:      "Number of collections currently tracked as drop-pending.",
	})

	reapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "coldb",
		Subsystem: "catalog",
		Name:      "reaped_total",
		Help:      "Number of drop-pending entries released by the reaper.",
	})
)

func init() {
	Registry.MustRegister(writesTotal, writeBatchSize, collectionsGauge, dropPendingGauge, reapedTotal)
}
