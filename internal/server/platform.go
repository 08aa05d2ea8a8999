package server

import (
	"bytes"
	"context"
	"mime"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/vango-dev/devpack/internal/errors"
)

// platformRequest is a request resolved to a platform.
type platformRequest struct {
	platform string
	// asset is the request path relative to the platform's output.
	asset string
}

// resolvePlatform picks the platform from the "platform" query parameter,
// else from the first of at least two path segments when that segment is a
// known platform.
func (s *Server) resolvePlatform(r *http.Request) (platformRequest, error) {
	p := strings.TrimPrefix(r.URL.Path, "/")
	if q := r.URL.Query().Get("platform"); q != "" {
		if !s.cfg.AllowsPlatform(q) {
			return platformRequest{}, errors.New("E203").WithDetailf("unknown platform %q", q)
		}
		return platformRequest{platform: q, asset: p}, nil
	}
	first, rest, ok := strings.Cut(p, "/")
	if ok && rest != "" && s.cfg.AllowsPlatform(first) && slices.Contains(s.cfg.KnownPlatforms(), first) {
		return platformRequest{platform: first, asset: rest}, nil
	}
	return platformRequest{}, errors.New("E203").
		WithDetailf("%s names no platform", r.URL.Path).
		WithSuggestion("Add ?platform=<name> or request /<platform>/<file>")
}

// isAssetPath reports whether a path names a compiled artifact.
func isAssetPath(p string) bool {
	switch {
	case strings.HasSuffix(p, ".bundle"),
		strings.HasSuffix(p, ".map"),
		strings.HasSuffix(p, ".hot-update.js"),
		strings.HasSuffix(p, ".hot-update.json"):
		return true
	}
	return path.Ext(p) != ""
}

func contentType(name string) string {
	if strings.HasSuffix(name, ".bundle") {
		return "text/javascript; charset=utf-8"
	}
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	return "text/plain; charset=utf-8"
}

// handlePlatform serves every request not answered locally.
func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	pr, err := s.resolvePlatform(r)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	if r.Method == http.MethodPost && pr.asset == "symbolicate" {
		s.symbolicate(w, r, pr.platform)
		return
	}
	if err := s.compiler.EnsureRunning(r.Context(), pr.platform); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && isAssetPath(pr.asset) {
		s.serveAsset(w, r, pr)
		return
	}
	s.forward(w, r, pr.platform)
}

func (s *Server) serveAsset(w http.ResponseWriter, r *http.Request, pr platformRequest) {
	a, err := s.compiler.GetAsset(r.Context(), pr.platform, pr.asset)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	w.Header().Set("Content-Type", contentType(a.Name))
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, path.Base(a.Name), time.Time{}, bytes.NewReader(a.Data))
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, platform string) {
	port, ok := s.compiler.Port(platform)
	if !ok {
		writeError(w, r, s.logger, errors.New("E206").WithPlatform(platform).WithDetail("the worker is not running"))
		return
	}
	ctx := withProxyTarget(r.Context(), proxyTarget{platform: platform, port: port})
	if timeout := s.cfg.ForwardTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	s.proxy.ServeHTTP(w, r.WithContext(ctx))
}
