package metrics

import (
	"github.com/armon/go-metrics"
	"github.com/armon/go-metrics/prometheus"
)

var (
	CachedCertificates   = []string{"cache_certificates"}
	CachedPaths          = []string{"cache_paths"}
	SchedulerPending     = []string{"scheduler_pending_tasks"}
	SchedulerRunning     = []string{"scheduler_running_tasks"}
	BackendRefreshes     = []string{"backend_refreshes"}
	BackendRefreshErrors = []string{"backend_refresh_errors"}
	DecodeSkipped        = []string{"certificate_decode_skipped"}
	NotificationsSent    = []string{"notifications_sent"}
	NotificationFailures = []string{"notification_failures"}
)

// Registry is the process-wide metric sink.
var Registry metrics.MetricSink

func init() {
	sink, err := prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
		GaugeDefinitions: []prometheus.GaugeDefinition{{
			Name: CachedCertificates,
			Help: "The number of distinct certificates currently held in the catalog",
		}, {
			Name: CachedPaths,
			Help: "The number of backend paths currently tracked across all cached certificates",
		}, {
			Name: SchedulerPending,
			Help: "The number of scheduler jobs queued but not yet running",
		}, {
			Name: SchedulerRunning,
			Help: "The number of scheduler jobs currently running",
		}},
		CounterDefinitions: []prometheus.CounterDefinition{{
			Name: BackendRefreshes,
			Help: "The total number of backend refreshes performed, segmented by backend",
		}, {
			Name: BackendRefreshErrors,
			Help: "The total number of backend refreshes that returned an error, segmented by backend and error kind",
		}, {
			Name: DecodeSkipped,
			Help: "The total number of PEM blocks discarded during decode, segmented by backend",
		}, {
			Name: NotificationsSent,
			Help: "The total number of notification messages sent, segmented by sink",
		}, {
			Name: NotificationFailures,
			Help: "The total number of notification messages that failed to send, segmented by sink",
		}},
	})
	if err != nil {
		panic(err)
	}
	Registry = sink
}
