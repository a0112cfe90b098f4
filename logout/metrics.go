/*
 * Copyright 2020 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package logout

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of an Engine.
type Metrics struct {
	requests   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
}

// NewMetrics creates Metrics and registers them with the provided registerer.
// If reg is nil, the metrics are not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klogout",
			Subsystem: "endsession",
			Name:      "requests_total",
			Help:      "Total number of end session operations by phase and result.",
		}, []string{"phase", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klogout",
			Subsystem: "endsession",
			Name:      "deliveries_total",
			Help:      "Total number of logout notification deliveries by channel and result.",
		}, []string{"channel", "result"}),
	}

	if reg != nil {
		reg.MustRegister(m.requests, m.deliveries)
	}

	return m
}
