package publish

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/devpack/internal/compiler"
	"github.com/vango-dev/devpack/internal/errors"
	"github.com/vango-dev/devpack/internal/ipc"
)

type putRecord struct {
	bucket, key, contentType, body string
	metadata                       map[string]string
}

type fakePutter struct {
	mu   sync.Mutex
	puts []putRecord
	fail bool
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("access denied")
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.puts = append(f.puts, putRecord{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		body:        string(body),
		metadata:    in.Metadata,
	})
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakePutter) records() []putRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]putRecord(nil), f.puts...)
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}

type fakeSource map[string][]ipc.Asset

func (s fakeSource) Assets(platform string) []compiler.AssetSummary {
	var out []compiler.AssetSummary
	for _, a := range s[platform] {
		out = append(out, compiler.AssetSummary{Name: a.Name, Size: len(a.Data)})
	}
	return out
}

func (s fakeSource) GetAsset(_ context.Context, platform, name string) (*compiler.Asset, error) {
	for _, a := range s[platform] {
		if a.Name == name {
			a := a
			return &a, nil
		}
	}
	return nil, errors.New("E202")
}

func TestPublishesBuild(t *testing.T) {
	putter := &fakePutter{}
	source := fakeSource{"ios": {
		{Name: "index.bundle", Data: []byte("code")},
		{Name: "index.bundle.map", Data: []byte("{}")},
		{Name: "main.1.hot-update.js", Data: []byte("hot")},
		{Name: "assets/logo.png", Data: []byte("png")},
	}}
	p := New(Options{Client: putter, Source: source, Bucket: "builds", Prefix: "/dev/"})
	t.Cleanup(p.Close)

	p.Listener().OnBuildDone("ios", &ipc.Stats{Hash: "abc123"})

	require.Eventually(t, func() bool { return len(putter.records()) == 3 }, 2*time.Second, 10*time.Millisecond)
	puts := putter.records()
	assert.Equal(t, "dev/ios/abc123/assets/logo.png", puts[0].key)
	assert.Equal(t, "image/png", puts[0].contentType)
	assert.Equal(t, "dev/ios/abc123/index.bundle", puts[1].key)
	assert.Equal(t, "application/javascript", puts[1].contentType)
	assert.Equal(t, "code", puts[1].body)
	assert.Equal(t, "builds", puts[1].bucket)
	assert.Equal(t, "abc123", puts[1].metadata["build-hash"])
	assert.Equal(t, "dev/ios/abc123/index.bundle.map", puts[2].key)
}

func TestPublishFailureKeepsLoopAlive(t *testing.T) {
	putter := &fakePutter{fail: true}
	source := fakeSource{"android": {{Name: "index.bundle", Data: []byte("x")}}}
	p := New(Options{Client: putter, Source: source, Bucket: "b"})
	t.Cleanup(p.Close)

	l := p.Listener()
	l.OnBuildDone("android", &ipc.Stats{Hash: "1"})
	l.OnBuildDone("android", nil)

	putter.mu.Lock()
	putter.fail = false
	putter.mu.Unlock()
	l.OnBuildDone("android", &ipc.Stats{Hash: "2"})

	require.Eventually(t, func() bool {
		for _, r := range putter.records() {
			if r.key == "android/2/index.bundle" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestKey(t *testing.T) {
	p := &Publisher{prefix: ""}
	assert.Equal(t, "ios/h/index.bundle", p.Key("ios", "h", "/index.bundle"))
	p.prefix = "team/app"
	assert.Equal(t, "team/app/ios/h/a/b.js", p.Key("ios", "h", "a/b.js"))
}

func TestCloseIsIdempotent(t *testing.T) {
	p := New(Options{Client: &fakePutter{}, Source: fakeSource{}})
	p.Close()
	p.Close()
	p.Listener().OnBuildDone("ios", &ipc.Stats{Hash: "x"})
}
