// Package metrics exposes Prometheus collectors for document operations.
package metrics

import (
	"github.com/docmanager/backend/internal/revision"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DocMetrics holds all Prometheus metrics for the document manager.
type DocMetrics struct {
	UploadsTotal       *prometheus.CounterVec // docmanager_uploads_total{disposition}
	ArchivedFilesTotal prometheus.Counter     // docmanager_archived_files_total
	UploadBytesTotal   prometheus.Counter     // docmanager_upload_bytes_total
	DownloadBytesTotal prometheus.Counter     // docmanager_download_bytes_total
	LoginsTotal        *prometheus.CounterVec // docmanager_logins_total{result}
	UploadJobsTotal    *prometheus.CounterVec // docmanager_upload_jobs_total{status}
}

// New registers the metrics with registry. A nil registry uses the default registerer.
func New(registry prometheus.Registerer) *DocMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)
	return &DocMetrics{
		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docmanager_uploads_total",
			Help: "Upload attempts by resolver disposition",
		}, []string{"disposition"}),

		ArchivedFilesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmanager_archived_files_total",
			Help: "Files moved to archive subfolders by newer revisions",
		}),

		UploadBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmanager_upload_bytes_total",
			Help: "Bytes written by accepted uploads",
		}),

		DownloadBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "docmanager_download_bytes_total",
			Help: "Bytes served by downloads",
		}),

		LoginsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docmanager_logins_total",
			Help: "Login attempts by result",
		}, []string{"result"}),

		UploadJobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docmanager_upload_jobs_total",
			Help: "Finished chunked upload jobs by final status",
		}, []string{"status"}),
	}
}

// ObserveDisposition implements revision.Observer.
func (m *DocMetrics) ObserveDisposition(d revision.Disposition) {
	m.UploadsTotal.WithLabelValues(string(d)).Inc()
}

// ObserveArchived implements revision.Observer.
func (m *DocMetrics) ObserveArchived(n int) {
	m.ArchivedFilesTotal.Add(float64(n))
}

// ObserveUploadBytes implements revision.Observer.
func (m *DocMetrics) ObserveUploadBytes(n int64) {
	m.UploadBytesTotal.Add(float64(n))
}

// ObserveDownload counts bytes served to a client.
func (m *DocMetrics) ObserveDownload(n int64) {
	m.DownloadBytesTotal.Add(float64(n))
}

// ObserveLogin counts a login attempt; result is "allowed" or "denied".
func (m *DocMetrics) ObserveLogin(result string) {
	m.LoginsTotal.WithLabelValues(result).Inc()
}

// ObserveJob counts a finished upload job.
func (m *DocMetrics) ObserveJob(status string) {
	m.UploadJobsTotal.WithLabelValues(status).Inc()
}

var _ revision.Observer = (*DocMetrics)(nil)
