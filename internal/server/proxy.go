package server

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vango-dev/devpack/internal/errors"
	"github.com/vango-dev/devpack/internal/telemetry"
)

type proxyTargetKey struct{}

// proxyTarget is the worker a request is forwarded to.
type proxyTarget struct {
	platform string
	port     int
}

// newProxy builds the reverse proxy shared by every platform. The target is
// carried in the request context.
func newProxy(logger *slog.Logger, readyTimeout time.Duration) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			t := pr.In.Context().Value(proxyTargetKey{}).(proxyTarget)
			pr.SetURL(&url.URL{Scheme: "http", Host: net.JoinHostPort("127.0.0.1", strconv.Itoa(t.port))})
			pr.Out.Host = pr.In.Host
			pr.SetXForwarded()
		},
		Transport: &retryTransport{
			base:         http.DefaultTransport,
			readyTimeout: readyTimeout,
		},
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			t, _ := r.Context().Value(proxyTargetKey{}).(proxyTarget)
			writeError(w, r, logger, errors.New("E206").
				WithPlatform(t.platform).
				WithDetailf("%s %s could not be forwarded to the worker on port %d", r.Method, r.URL.Path, t.port).
				Wrap(err))
		},
	}
}

// retryTransport retries requests whose connection was refused, which
// happens while a freshly spawned worker is still binding its port.
type retryTransport struct {
	base         http.RoundTripper
	readyTimeout time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil && req.Body != http.NoBody {
		data, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		body = data
	}

	ctx, span := telemetry.StartSpan(req.Context(), "proxy.forward", "",
		attribute.String("http.method", req.Method),
		attribute.String("http.target", req.URL.Path))
	attempts := 0
	var b backoff.BackOff = &backoff.StopBackOff{}
	if t.readyTimeout > 0 {
		b = backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(50*time.Millisecond),
			backoff.WithMaxInterval(time.Second),
			backoff.WithMaxElapsedTime(t.readyTimeout),
		)
	}
	resp, err := backoff.RetryNotifyWithData(func() (*http.Response, error) {
		attempts++
		out := req.Clone(ctx)
		if body != nil {
			out.Body = io.NopCloser(bytes.NewReader(body))
			out.ContentLength = int64(len(body))
		}
		resp, err := t.base.RoundTrip(out)
		if err != nil && !isConnRefused(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}, backoff.WithContext(b, ctx), nil)
	span.SetAttributes(attribute.Int("devpack.attempts", attempts))
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("after %d attempts: %w", attempts, err)
	}
	return resp, nil
}

func isConnRefused(err error) bool {
	return stderrors.Is(err, syscall.ECONNREFUSED)
}

func withProxyTarget(ctx context.Context, t proxyTarget) context.Context {
	return context.WithValue(ctx, proxyTargetKey{}, t)
}
