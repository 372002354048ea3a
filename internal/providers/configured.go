package providers

import (
	"context"
	"log/slog"
	"time"

	"speechflow/internal/config"
	"speechflow/internal/pipeline"
)

// NewConfiguredRunners builds the provider client and the runners for every
// provider-backed stage kind from cfg.
func NewConfiguredRunners(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*BASClient, map[pipeline.Kind]pipeline.Runner, error) {
	client := NewBASClient(NewHTTPClient(cfg.ProviderTimeout()))

	var uploader Uploader = ProviderUploader{Client: client}
	if cfg.Upload.Backend == "s3" {
		s3, err := NewS3Uploader(ctx, S3Options{
			Endpoint:  cfg.Upload.Endpoint,
			Bucket:    cfg.Upload.Bucket,
			Region:    cfg.Upload.Region,
			AccessKey: cfg.Upload.AccessKey,
			SecretKey: cfg.Upload.SecretKey,
			UseSSL:    cfg.Upload.UseSSL,
			Expiry:    time.Duration(cfg.Upload.URLExpiryHours) * time.Hour,
		})
		if err != nil {
			return nil, nil, err
		}
		uploader = s3
	}

	runners := map[pipeline.Kind]pipeline.Runner{
		pipeline.KindUpload:          UploadRunner{Uploader: uploader, Logger: logger},
		pipeline.KindASR:             ASRRunner{Client: client, Logger: logger},
		pipeline.KindForcedAlignment: AlignmentRunner{Client: client, Logger: logger},
	}
	return client, runners, nil
}
