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

package introspection

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters of an Introspector.
type Metrics struct {
	answers *prometheus.CounterVec
}

// NewMetrics creates Metrics and registers them with the provided registerer.
// If reg is nil, the metrics are not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "klogout",
			Subsystem: "introspection",
			Name:      "answers_total",
			Help:      "Total number of introspection answers by result.",
		}, []string{"result"}),
	}

	if reg != nil {
		reg.MustRegister(m.answers)
	}

	return m
}
