package app

import (
	"strings"

	"github.com/uconnect/uconnect/internal/media"
)

// LocalStoreConfig converts MediaConfig into the disk-backed store parameters.
func (c MediaConfig) LocalStoreConfig() media.LocalConfig {
	return media.LocalConfig{
		UploadDir:     c.UploadDir,
		QuarantineDir: c.QuarantineDir,
		PublicPrefix:  c.PublicPrefix,
	}
}

// S3StoreConfig converts MediaConfig into the S3-backed store parameters.
func (c MediaConfig) S3StoreConfig() media.S3Config {
	return media.S3Config{
		Bucket:           strings.TrimSpace(c.S3.Bucket),
		Region:           c.S3.Region,
		Endpoint:         strings.TrimSpace(c.S3.Endpoint),
		AccessKey:        c.S3.AccessKey,
		SecretKey:        c.S3.SecretKey,
		UsePathStyle:     c.S3.UsePathStyle,
		Prefix:           c.S3.Prefix,
		QuarantinePrefix: c.S3.QuarantinePrefix,
		PublicPrefix:     c.PublicPrefix,
	}
}
