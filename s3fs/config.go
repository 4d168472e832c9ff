package s3fs

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Config describes the bucket region a backend serves.
type Config struct {
	// Endpoint is the S3 server address, like "play.min.io:9000".
	Endpoint string

	// Bucket is the bucket name. Required; the bucket must already exist.
	Bucket string

	// Prefix confines the backend to keys under the given prefix, so
	// several backends can share one bucket without seeing each other.
	Prefix string

	// AccessKey and SecretKey authenticate against the endpoint.
	AccessKey string
	SecretKey string

	// UseSSL enables TLS for the connection.
	UseSSL bool

	// Client, when set, is used as-is and the connection fields above are
	// ignored. Backends sharing one client exchange files server-side.
	Client *minio.Client
}

func (c *Config) validate() error {
	if c.Bucket == "" {
		return errors.New("bucket is required")
	}
	if c.Client != nil {
		return nil
	}
	if c.Endpoint == "" {
		return errors.New("endpoint is required when client is not provided")
	}
	if c.AccessKey == "" {
		return errors.New("access key is required when client is not provided")
	}
	if c.SecretKey == "" {
		return errors.New("secret key is required when client is not provided")
	}
	return nil
}

// New returns a backend for one bucket, or one key prefix within a bucket,
// on an S3-compatible server.
func New(cfg Config) (*FS, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := cfg.Client
	endpoint := cfg.Endpoint
	if client == nil {
		var err error
		client, err = minio.New(cfg.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
			Secure: cfg.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("creating s3 client: %w", err)
		}
	} else if u := client.EndpointURL(); u != nil {
		endpoint = u.Host
	}

	return &FS{
		client:   client,
		endpoint: endpoint,
		bucket:   cfg.Bucket,
		prefix:   normalizePrefix(cfg.Prefix),
	}, nil
}

// normalizePrefix reduces a configured prefix to clean "a/b" form, without
// leading or trailing separators.
func normalizePrefix(prefix string) string {
	return strings.Trim(path.Clean("/"+prefix), "/")
}
