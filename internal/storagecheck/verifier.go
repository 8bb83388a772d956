// Package storagecheck verifies custom S3-compatible storage credentials
// before a storage config is created with them.
package storagecheck

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/oklog/ulid/v2"
)

type Config struct {
	// Endpoint is a host[:port] or an http(s) URL. Empty means AWS S3.
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	// Probe also writes and removes a marker object under Prefix.
	Probe bool
}

type Result struct {
	Bucket   string
	Endpoint string
	Secure   bool
	Probed   bool
	Latency  time.Duration
}

type Verifier struct {
	client *minio.Client
	cfg    Config
	host   string
	secure bool
}

func New(cfg Config) (*Verifier, error) {
	host, secure, err := parseEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("s3 access key and secret key are required")
	}
	cfg.Bucket = strings.TrimSpace(cfg.Bucket)
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	cfg.Region = strings.TrimSpace(cfg.Region)
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init s3 client: %w", err)
	}
	return &Verifier{client: client, cfg: cfg, host: host, secure: secure}, nil
}

// Verify checks that the bucket exists and is reachable with the given
// credentials. It never creates the bucket.
func (v *Verifier) Verify(ctx context.Context) (*Result, error) {
	if v == nil || v.client == nil {
		return nil, fmt.Errorf("verifier is nil")
	}
	start := time.Now()
	exists, err := v.client.BucketExists(ctx, v.cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", v.cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %s does not exist", v.cfg.Bucket)
	}
	res := &Result{Bucket: v.cfg.Bucket, Endpoint: v.host, Secure: v.secure}
	if v.cfg.Probe {
		if err := v.probe(ctx); err != nil {
			return nil, err
		}
		res.Probed = true
	}
	res.Latency = time.Since(start)
	glog.V(1).Infof("storagecheck: bucket ok bucket=%s endpoint=%s probed=%t latency=%s", res.Bucket, res.Endpoint, res.Probed, res.Latency)
	return res, nil
}

func (v *Verifier) probe(ctx context.Context) error {
	key := path.Join(strings.Trim(v.cfg.Prefix, "/"), ".owconsole-probe-"+ulid.Make().String())
	content := []byte("ok")
	if _, err := v.client.PutObject(ctx, v.cfg.Bucket, key, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "text/plain",
	}); err != nil {
		return fmt.Errorf("write probe object: %w", err)
	}
	if err := v.client.RemoveObject(ctx, v.cfg.Bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove probe object %s: %w", key, err)
	}
	return nil
}

// parseEndpoint accepts "host:port", "http://host" or "https://host".
func parseEndpoint(raw string) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "s3.amazonaws.com", true, nil
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimRight(raw, "/"), true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("endpoint %q has no host", raw)
	}
	if u.Path != "" && u.Path != "/" {
		return "", false, fmt.Errorf("endpoint %q must not have a path", raw)
	}
	switch u.Scheme {
	case "https":
		return u.Host, true, nil
	case "http":
		return u.Host, false, nil
	default:
		return "", false, fmt.Errorf("endpoint scheme %q is not supported", u.Scheme)
	}
}
