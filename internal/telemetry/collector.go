// Copyright (C) 2026 erx-fd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Registry is the process-wide Prometheus registry. It carries only the
// metrics named below; it is never registered with prometheus.DefaultRegisterer
// so that importing this package never has global side effects on other
// registries.
var Registry = prometheus.NewRegistry()

var (
	// VauDecryptDuration times the ECIES inbound decrypt.
	VauDecryptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "erxfd_vau_decrypt_seconds",
		Help:    "Duration of VAU inbound ECIES decryption.",
		Buckets: prometheus.DefBuckets,
	})
	// VauEncryptDuration times the AES-GCM outbound response encrypt.
	VauEncryptDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "erxfd_vau_encrypt_seconds",
		Help:    "Duration of VAU outbound AES-GCM encryption.",
		Buckets: prometheus.DefBuckets,
	})
	// VauRequestsTotal counts processed VAU requests by outcome.
	VauRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erxfd_vau_requests_total",
		Help: "Total VAU requests processed, labeled by outcome.",
	}, []string{"outcome"})

	// PkiRefreshTotal counts background refresh attempts per artefact.
	PkiRefreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erxfd_pki_refresh_total",
		Help: "PKI trust-material refresh attempts, labeled by artefact and outcome.",
	}, []string{"artefact", "outcome"})
	// PkiSnapshotAge reports the age of the currently-installed snapshot.
	PkiSnapshotAge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "erxfd_pki_snapshot_age_seconds",
		Help: "Age in seconds of the currently installed trust snapshot.",
	}, []string{"artefact"})

	// TaskTransitionsTotal counts workflow transitions by operation and outcome.
	TaskTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erxfd_task_transitions_total",
		Help: "Prescription workflow transitions, labeled by operation and outcome.",
	}, []string{"operation", "outcome"})

	// CommunicationsTotal counts Communication create/read/delete operations.
	CommunicationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "erxfd_communications_total",
		Help: "Communication operations, labeled by kind and outcome.",
	}, []string{"kind", "outcome"})
)

func init() {
	Registry.MustRegister(
		VauDecryptDuration,
		VauEncryptDuration,
		VauRequestsTotal,
		PkiRefreshTotal,
		PkiSnapshotAge,
		TaskTransitionsTotal,
		CommunicationsTotal,
	)
}
