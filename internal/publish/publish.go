// Package publish uploads completed builds to S3.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/vango-dev/devpack/internal/compiler"
	"github.com/vango-dev/devpack/internal/config"
	"github.com/vango-dev/devpack/internal/errors"
	"github.com/vango-dev/devpack/internal/ipc"
)

// ObjectPutter is the part of the S3 client the publisher uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// AssetSource provides a platform's cached build output.
type AssetSource interface {
	Assets(platform string) []compiler.AssetSummary
	GetAsset(ctx context.Context, platform, name string) (*compiler.Asset, error)
}

// Options configures a Publisher.
type Options struct {
	Client ObjectPutter
	Source AssetSource
	Bucket string
	Prefix string

	// Timeout bounds the upload of one build. Zero means one minute.
	Timeout time.Duration

	Logger *slog.Logger
}

type job struct {
	platform string
	hash     string
}

// Publisher uploads each completed build under
// <prefix>/<platform>/<hash>/<asset>. Hot-update artifacts are skipped.
type Publisher struct {
	client  ObjectPutter
	source  AssetSource
	bucket  string
	prefix  string
	timeout time.Duration
	logger  *slog.Logger

	jobs     chan job
	done     chan struct{}
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// New creates a Publisher and starts its upload loop.
func New(opts Options) *Publisher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Publisher{
		client:  opts.Client,
		source:  opts.Source,
		bucket:  opts.Bucket,
		prefix:  strings.Trim(opts.Prefix, "/"),
		timeout: timeout,
		logger:  logger.With("component", "Publish"),
		jobs:    make(chan job, 16),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go p.loop()
	return p
}

// NewS3 creates a Publisher backed by an S3 client built from the default
// AWS credential chain.
func NewS3(ctx context.Context, cfg config.PublishConfig, source AssetSource, logger *slog.Logger) (*Publisher, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.New("E120").WithDetail("failed to load AWS config").Wrap(err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = &endpoint })
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}

	return New(Options{
		Client: s3.NewFromConfig(awsCfg, s3Opts...),
		Source: source,
		Bucket: cfg.Bucket,
		Prefix: cfg.Prefix,
		Logger: logger,
	}), nil
}

// Listener queues an upload for every completed build.
func (p *Publisher) Listener() compiler.Listener {
	return compiler.ListenerFuncs{
		BuildDone: func(platform string, stats *ipc.Stats) {
			if stats == nil {
				return
			}
			select {
			case p.jobs <- job{platform: platform, hash: stats.Hash}:
			case <-p.ctx.Done():
			default:
				p.logger.Warn("upload queue full, skipping build", "platform", platform, "hash", stats.Hash)
			}
		},
	}
}

// Close stops the upload loop, abandoning any in-flight upload.
func (p *Publisher) Close() {
	p.stopOnce.Do(func() {
		p.cancel()
		<-p.done
	})
}

func (p *Publisher) loop() {
	defer close(p.done)
	for {
		select {
		case <-p.ctx.Done():
			return
		case j := <-p.jobs:
			n, err := p.publish(j)
			if err != nil {
				p.logger.Error("publish failed", "platform", j.platform, "hash", j.hash, "err", err)
				continue
			}
			p.logger.Info("build published", "platform", j.platform, "hash", j.hash, "objects", n)
		}
	}
}

// publish uploads one build. Assets replaced by a newer build before they
// were read are skipped.
func (p *Publisher) publish(j job) (int, error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	uploaded := 0
	for _, summary := range p.source.Assets(j.platform) {
		a, err := p.source.GetAsset(ctx, j.platform, summary.Name)
		if err != nil {
			if errors.IsCode(err, "E202") {
				continue
			}
			return uploaded, err
		}
		if a.IsHMR() {
			continue
		}
		key := p.Key(j.platform, j.hash, a.Name)
		_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(a.Data),
			ContentType: aws.String(contentType(a.Name)),
			Metadata: map[string]string{
				"platform":   j.platform,
				"build-hash": j.hash,
			},
		})
		if err != nil {
			return uploaded, fmt.Errorf("put %s: %w", key, err)
		}
		uploaded++
	}
	return uploaded, nil
}

// Key returns the object key of an asset.
func (p *Publisher) Key(platform, hash, name string) string {
	return path.Join(p.prefix, platform, hash, strings.TrimPrefix(name, "/"))
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".bundle") {
		return "application/javascript"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}
