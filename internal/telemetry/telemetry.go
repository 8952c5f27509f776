// Package telemetry reports pipeline runs to InfluxDB.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement is the InfluxDB measurement name for run reports.
const Measurement = "pipeline_run"

// Report summarizes one pipeline run.
type Report struct {
	RunID      string
	Outcome    string // "ok" or the error code
	Stage      string // last stage entered
	Language   string
	AudioBytes int
	Audio      time.Duration
	Transcribe time.Duration
	Extract    time.Duration
	Tasks      int
	At         time.Time
}

// Recorder receives run reports.
type Recorder interface {
	Record(ctx context.Context, r Report) error
}

// Influx writes reports as points with a blocking write API.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

var _ Recorder = (*Influx)(nil)

// NewInflux connects to InfluxDB and checks its health. A failing health
// status is logged, not fatal.
func NewInflux(ctx context.Context, url, token, org, bucket string) (*Influx, error) {
	client := influxdb2.NewClient(url, token)

	health, err := client.Health(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to influxdb: %w", err)
	}
	if health.Status != "pass" {
		slog.Warn("influxdb health check", "status", health.Status)
	}
	slog.Info("telemetry enabled", "url", url, "org", org, "bucket", bucket)

	return &Influx{client: client, writeAPI: client.WriteAPIBlocking(org, bucket)}, nil
}

func (i *Influx) Record(ctx context.Context, r Report) error {
	if err := i.writeAPI.WritePoint(ctx, Point(r)); err != nil {
		return fmt.Errorf("write run report: %w", err)
	}
	return nil
}

// Close releases the client.
func (i *Influx) Close() {
	i.client.Close()
}

// Point converts a report. Outcome, stage and language are tags; everything
// measured is a field.
func Point(r Report) *write.Point {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	tags := map[string]string{
		"outcome": r.Outcome,
		"stage":   r.Stage,
	}
	if r.Language != "" {
		tags["language"] = r.Language
	}
	return influxdb2.NewPoint(Measurement, tags, map[string]any{
		"run_id":        r.RunID,
		"audio_bytes":   r.AudioBytes,
		"audio_ms":      r.Audio.Milliseconds(),
		"transcribe_ms": r.Transcribe.Milliseconds(),
		"extract_ms":    r.Extract.Milliseconds(),
		"tasks":         r.Tasks,
	}, at)
}
