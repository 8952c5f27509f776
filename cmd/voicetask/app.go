package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GriffinCanCode/voicetask/internal/archive"
	"github.com/GriffinCanCode/voicetask/internal/audio"
	"github.com/GriffinCanCode/voicetask/internal/capture"
	"github.com/GriffinCanCode/voicetask/internal/config"
	"github.com/GriffinCanCode/voicetask/internal/extract"
	"github.com/GriffinCanCode/voicetask/internal/inference"
	"github.com/GriffinCanCode/voicetask/internal/orchestrator"
	"github.com/GriffinCanCode/voicetask/internal/persist"
	"github.com/GriffinCanCode/voicetask/internal/resilience"
	"github.com/GriffinCanCode/voicetask/internal/session"
	"github.com/GriffinCanCode/voicetask/internal/telemetry"
	"github.com/GriffinCanCode/voicetask/internal/transcribe"
)

// openKV opens the configured storage backend.
func openKV(ctx context.Context, cfg *config.Config) (persist.KV, error) {
	switch cfg.StorageBackend {
	case config.StorageFile:
		return persist.NewFileKV(cfg.StateFile)
	case config.StorageMongo:
		return persist.NewMongoKV(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.MongoCollection)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func openSession(ctx context.Context, cfg *config.Config) (*session.Session, error) {
	kv, err := openKV(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	sess, err := session.Init(ctx, kv)
	if err != nil {
		_ = kv.Close(ctx)
		return nil, err
	}
	return sess, nil
}

// pipeline owns everything a recording needs. close releases it in reverse
// order of acquisition.
type pipeline struct {
	orch    *orchestrator.Orchestrator
	closers []func()
}

func (p *pipeline) close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
}

func openPipeline(ctx context.Context, cfg *config.Config, sess *session.Session) (*pipeline, error) {
	p := &pipeline{}

	rt, err := audio.NewRuntime(cfg.ExcludedDevices)
	if err != nil {
		return nil, err
	}
	p.closers = append(p.closers, func() { _ = rt.Close() })

	negotiator := capture.NewNegotiator(rt, capture.Config{
		Constraints: capture.Constraints{
			EchoCancellation: true,
			NoiseSuppression: true,
			AutoGainControl:  true,
			SampleRate:       cfg.SampleRate,
			ChannelCount:     cfg.ChannelCount,
		},
		BitsPerSecond: cfg.AudioBitrate,
		FlushInterval: cfg.FlushInterval,
		MaxDuration:   cfg.MaxRecording,
	}).WithHook(func(from, to capture.State) {
		slog.Debug("capture state", "from", from.String(), "to", to.String())
	})

	api := inference.New(inference.Config{
		BaseURL: cfg.OpenAIBaseURL,
		Breaker: resilience.Config{
			Threshold:    cfg.BreakerThreshold,
			ResetTimeout: cfg.BreakerResetTimeout,
		},
	})

	oc := orchestrator.Config{
		Capture:      negotiator,
		Transcriber:  transcribe.New(api, cfg.TranscribeModel, cfg.TranscribePrompt),
		Extractor:    extract.New(api, cfg.ExtractModel, cfg.ExtractTemperature),
		Session:      sess,
		StallTimeout: cfg.StallTimeout,
	}

	if cfg.TelemetryEnabled() {
		influx, err := telemetry.NewInflux(ctx, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		if err != nil {
			slog.Warn("telemetry disabled", "url", cfg.InfluxURL, "error", err)
		} else {
			oc.Telemetry = influx
			p.closers = append(p.closers, influx.Close)
		}
	}
	if cfg.ArchiveEnabled() {
		s3, err := archive.NewS3(ctx, archive.Config{
			Bucket:          cfg.ArchiveBucket,
			Region:          cfg.ArchiveRegion,
			Endpoint:        cfg.ArchiveEndpoint,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
		})
		if err != nil {
			slog.Warn("recording archive disabled", "bucket", cfg.ArchiveBucket, "error", err)
		} else {
			oc.Archive = s3
		}
	}

	p.orch = orchestrator.New(oc)
	// Background runs and uploads finish before the recorders are torn down.
	p.closers = append(p.closers, p.orch.Close)
	return p, nil
}
