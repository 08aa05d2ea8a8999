package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/vango-dev/devpack/internal/compiler"
	"github.com/vango-dev/devpack/internal/errors"
	"github.com/vango-dev/devpack/internal/symbolicate"
)

const maxSymbolicateBody = 10 << 20

func (s *Server) handleSymbolicate(w http.ResponseWriter, r *http.Request) {
	s.symbolicate(w, r, "")
}

// symbolicate answers a symbolication request. The platform is inferred
// from the stack, else taken from the route.
func (s *Server) symbolicate(w http.ResponseWriter, r *http.Request, routePlatform string) {
	var req symbolicate.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSymbolicateBody)).Decode(&req); err != nil {
		writeError(w, r, s.logger, errors.New("E204").
			WithDetail("request body is not a {\"stack\": [...]} object").
			Wrap(err))
		return
	}

	platform, ok := symbolicate.InferPlatform(req.Stack)
	if !ok && routePlatform != "" {
		platform, ok = routePlatform, true
	}
	if !ok {
		writeError(w, r, s.logger, errors.New("E203").WithDetail("cannot infer platform from stack trace"))
		return
	}
	if !s.cfg.AllowsPlatform(platform) {
		writeError(w, r, s.logger, errors.New("E203").WithDetailf("unknown platform %q", platform))
		return
	}
	if err := s.compiler.EnsureRunning(r.Context(), platform); err != nil {
		writeError(w, r, s.logger, err)
		return
	}

	res, err := s.symbolicator.Symbolicate(r.Context(), req.Stack)
	if err != nil {
		writeError(w, r, s.logger, errors.New("E205").WithPlatform(platform).Wrap(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// sourceProvider feeds the symbolicator from the compiler's cache and the
// project root.
type sourceProvider struct {
	compiler *compiler.Compiler
	root     string
}

// FetchSourceMap implements symbolicate.SourceProvider.
func (p *sourceProvider) FetchSourceMap(ctx context.Context, rawURL string) ([]byte, error) {
	platform, ok := symbolicate.PlatformFromURL(rawURL)
	if !ok {
		return nil, fmt.Errorf("no platform in %s", rawURL)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	name := strings.TrimPrefix(u.Path, "/")
	if first, rest, ok := strings.Cut(name, "/"); ok && first == platform && u.Query().Get("platform") == "" {
		name = rest
	}
	m, err := p.compiler.GetSourceMapFor(ctx, platform, name)
	if err != nil {
		return nil, err
	}
	return m.Data, nil
}

// FetchSourceFile implements symbolicate.SourceProvider. Files outside the
// project root are refused.
func (p *sourceProvider) FetchSourceFile(_ context.Context, file string) ([]byte, error) {
	rel := filepath.FromSlash(symbolicate.SourcePath(file))
	full := filepath.Join(p.root, rel)
	if r, err := filepath.Rel(p.root, full); err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s is outside the project root", file)
	}
	return os.ReadFile(full)
}
