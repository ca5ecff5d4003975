package manifest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/localdb"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/retry"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// SupportedVersion is the manifest format this build understands.
const SupportedVersion = 1

const (
	defaultMaxManifestBytes = 4 << 20
	defaultMaxDumpBytes     = 2 << 30
)

// Options tunes a Client.
type Options struct {
	HTTPClient       *http.Client
	Retry            retry.Policy
	MaxManifestBytes int64
	MaxDumpBytes     int64
	Logger           *zap.Logger
}

// Client downloads manifests and dumps. Both are untrusted input.
type Client struct {
	http             *http.Client
	policy           retry.Policy
	maxManifestBytes int64
	maxDumpBytes     int64
	logger           *zap.Logger
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Minute}
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		policy = retry.Exponential(3, 500*time.Millisecond, 5*time.Second)
	}
	if policy.ShouldRetry == nil {
		policy = policy.WithShouldRetry(retry.IsTransient)
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy.Logger == nil {
		policy = policy.WithLogger(logger)
	}
	maxManifest := opts.MaxManifestBytes
	if maxManifest <= 0 {
		maxManifest = defaultMaxManifestBytes
	}
	maxDump := opts.MaxDumpBytes
	if maxDump <= 0 {
		maxDump = defaultMaxDumpBytes
	}
	return &Client{
		http:             httpClient,
		policy:           policy,
		maxManifestBytes: maxManifest,
		maxDumpBytes:     maxDump,
		logger:           logger,
	}
}

// Fetch downloads and parses the manifest at url and checks its versions.
func (c *Client) Fetch(ctx context.Context, url string) (*model.Manifest, error) {
	body, err := retry.Do(ctx, c.policy.Named("fetch manifest"), func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, url, c.maxManifestBytes)
	})
	if err != nil {
		return nil, syncerr.Manifest("fetch manifest "+url, err)
	}
	m, err := Parse(body)
	if err != nil {
		return nil, err
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	return m, nil
}

// Parse decodes a YAML manifest.
func Parse(data []byte) (*model.Manifest, error) {
	var m model.Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, syncerr.Manifest("parse manifest", err)
	}
	return &m, nil
}

// Validate rejects manifests built for another format or schema version.
func Validate(m *model.Manifest) error {
	if m.ManifestVersion != SupportedVersion {
		return syncerr.Manifest("validate manifest", fmt.Errorf("unsupported manifest_version %d, want %d", m.ManifestVersion, SupportedVersion))
	}
	if m.DBSchemaVersion != localdb.SchemaVersion {
		return syncerr.Manifest("validate manifest", fmt.Errorf("unsupported db_schema_version %d, want %d", m.DBSchemaVersion, localdb.SchemaVersion))
	}
	return nil
}

// DownloadDump fetches a gzip-compressed SQL dump and returns it decompressed.
func (c *Client) DownloadDump(ctx context.Context, url string) (string, error) {
	compressed, err := retry.Do(ctx, c.policy.Named("download dump"), func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, url, c.maxDumpBytes)
	})
	if err != nil {
		return "", syncerr.Manifest("download dump "+url, err)
	}

	started := time.Now()
	dump, err := Decompress(compressed, c.maxDumpBytes)
	if err != nil {
		return "", err
	}
	c.logger.Info("dump downloaded",
		zap.String("url", url),
		zap.Int("compressed_bytes", len(compressed)),
		zap.Int("bytes", len(dump)),
		zap.Duration("decompress", time.Since(started)),
	)
	return dump, nil
}

// Decompress gunzips data, refusing output larger than limit.
func Decompress(data []byte, limit int64) (string, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return "", syncerr.Manifest("open gzip dump", err)
	}
	defer reader.Close()

	out, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return "", syncerr.Manifest("decompress dump", err)
	}
	if int64(len(out)) > limit {
		return "", syncerr.Manifest("decompress dump", fmt.Errorf("dump exceeds %d bytes", limit))
	}
	return string(out), nil
}

func (c *Client) get(ctx context.Context, url string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, syncerr.Config("build request", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, syncerr.Transport("GET "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		statusErr := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, syncerr.Transport("GET "+url, statusErr)
		}
		return nil, syncerr.Manifest("GET "+url, statusErr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, syncerr.Transport("read "+url, err)
	}
	if int64(len(body)) > limit {
		return nil, syncerr.Manifest("read "+url, fmt.Errorf("body exceeds %d bytes", limit))
	}
	return body, nil
}
