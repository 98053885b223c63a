package app

import (
	"fmt"

	"go.uber.org/zap"

	"din/internal/artifact"
	"din/internal/gateway/config"
)

func newArtifactS3StoreFactory(cfg *config.Config, logger *zap.Logger) func() (artifact.Store, error) {
	return func() (artifact.Store, error) {
		s3Cfg := artifact.S3Config{
			Endpoint:  cfg.Artifact.Endpoint,
			Region:    cfg.Artifact.Region,
			AccessKey: cfg.Artifact.AccessKey,
			SecretKey: cfg.Artifact.SecretKey,
			Bucket:    cfg.Artifact.Bucket,
			UseSSL:    cfg.Artifact.UseSSL,
			URLExpiry: cfg.Artifact.URLExpiry,
		}
		s3Store, err := artifact.NewS3Store(s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact s3 store: %w", err)
		}
		logger.Info("artifact store: s3", zap.String("bucket", s3Cfg.Bucket), zap.String("endpoint", s3Cfg.Endpoint))
		return artifact.NewCachedStore(s3Store, artifact.DefaultCacheConfig()), nil
	}
}

// chooseArtifactStore uses S3 when its settings are complete, then a local
// directory when one is configured, and process memory otherwise.
func chooseArtifactStore(
	cfg *config.Config,
	logger *zap.Logger,
	s3Factory func() (artifact.Store, error),
) (artifact.Store, error) {
	if cfg.Artifact.CanUseS3() {
		return s3Factory()
	}
	if cfg.Artifact.Enabled {
		logger.Warn("artifact store: s3 config incomplete, using fallback")
	}
	if dir := cfg.Artifact.Dir; dir != "" {
		logger.Info("artifact store: disk", zap.String("dir", dir))
		return artifact.NewDiskStore(dir), nil
	}
	logger.Info("artifact store: in-memory")
	return artifact.NewMemoryStore(), nil
}
