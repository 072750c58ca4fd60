package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcam_frames_delivered_total",
		Help: "Frames delivered to stream destinations.",
	})
	framesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcam_frames_skipped_total",
		Help: "Frames the device captured that were overwritten before being copied.",
	})
	waitTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcam_wait_timeouts_total",
		Help: "Frame waits that timed out.",
	})
	sessionFaults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dcam_session_faults_total",
		Help: "Sessions ended by an error, by error kind.",
	}, []string{"kind"})
	sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dcam_sessions_active",
		Help: "Acquisition loops currently running.",
	})
)
