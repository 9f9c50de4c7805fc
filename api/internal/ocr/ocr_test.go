package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	name  string
	text  string
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Extract(ctx context.Context, _ []byte) (string, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type mapCache struct {
	mu  sync.Mutex
	m   map[string]string
	err error
}

func (c *mapCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", false, c.err
	}
	v, ok := c.m[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if c.m == nil {
		c.m = map[string]string{}
	}
	c.m[key] = text
	return nil
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestEnginesRegistry(t *testing.T) {
	tess := &fakeEngine{name: "tesseract"}
	yc := &fakeEngine{name: "yandex"}
	engs := NewEngines("tesseract", tess, yc, nil)

	assert.Equal(t, []string{"tesseract", "yandex"}, engs.Names())

	e, err := engs.GetEngine("")
	require.NoError(t, err)
	assert.Same(t, tess, e)

	e, err = engs.GetEngine("  Yandex ")
	require.NoError(t, err)
	assert.Same(t, yc, e)

	_, err = engs.GetEngine("abbyy")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tesseract, yandex")
}

func TestManagerPerChat(t *testing.T) {
	engs := NewEngines("tesseract", &fakeEngine{name: "tesseract"}, &fakeEngine{name: "gemini"})
	m := NewManager(engs)

	assert.Equal(t, "tesseract", m.Get(42).Name())

	e, err := m.Set(42, "gemini")
	require.NoError(t, err)
	assert.Equal(t, "gemini", e.Name())
	assert.Equal(t, "gemini", m.Get(42).Name())
	assert.Equal(t, "tesseract", m.Get(7).Name())

	_, err = m.Set(42, "nope")
	assert.Error(t, err)
	assert.Equal(t, "gemini", m.Get(42).Name())
}

func TestDecode(t *testing.T) {
	img, format, err := Decode(pngBytes(t, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 3, img.Bounds().Dx())

	_, _, err = Decode(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)
	assert.True(t, IsFailure(err))

	_, _, err = Decode([]byte("plain text, not pixels"))
	require.Error(t, err)
	assert.True(t, IsFailure(err))
	assert.Contains(t, err.Error(), "cannot identify image file")
}

func TestSniffReadsHeaderOnly(t *testing.T) {
	full := pngBytes(t, 3, 2)
	truncated := full[:len(full)-12] // IHDR intact, IEND gone

	format, err := Sniff(truncated)
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	_, _, err = Decode(truncated)
	require.Error(t, err)
	assert.True(t, IsFailure(err))

	_, err = Sniff(nil)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestExtractText(t *testing.T) {
	ctx := context.Background()
	img := pngBytes(t, 4, 4)

	txt, err := ExtractText(ctx, &fakeEngine{name: "fake", text: "Earth is round\n\f"}, img)
	require.NoError(t, err)
	assert.Equal(t, "Earth is round\n\f", txt)

	boom := errors.New("engine exploded")
	_, err = ExtractText(ctx, &fakeEngine{name: "fake", err: boom}, img)
	require.Error(t, err)
	assert.True(t, IsFailure(err))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "fake: engine exploded", err.Error())

	eng := &fakeEngine{name: "fake"}
	_, err = ExtractText(ctx, eng, []byte("junk"))
	assert.True(t, IsFailure(err))
	assert.Zero(t, eng.calls.Load(), "engine must not see undecodable input")

	_, err = ExtractText(ctx, nil, img)
	assert.True(t, IsFailure(err))
}

func TestFailKeepsExistingFailure(t *testing.T) {
	assert.NoError(t, Fail("x", nil))
	inner := &Failure{Engine: "tesseract", Err: errors.New("bad")}
	assert.Same(t, inner, Fail("cached", inner))
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	img := pngBytes(t, 2, 2)
	eng := &fakeEngine{name: "tesseract", text: "hello"}
	cache := &mapCache{}
	c := NewCached(eng, cache)

	for i := 0; i < 3; i++ {
		txt, err := c.Extract(ctx, img)
		require.NoError(t, err)
		assert.Equal(t, "hello", txt)
	}
	assert.EqualValues(t, 1, eng.calls.Load())
	assert.Equal(t, "hello", cache.m[CacheKey("tesseract", img)])
	assert.Equal(t, "tesseract", c.Name())
}

func TestCachedIgnoresCacheErrors(t *testing.T) {
	eng := &fakeEngine{name: "tesseract", text: "hello"}
	c := NewCached(eng, &mapCache{err: errors.New("redis down")})

	txt, err := c.Extract(context.Background(), pngBytes(t, 2, 2))
	require.NoError(t, err)
	assert.Equal(t, "hello", txt)
}

func TestCachedDoesNotStoreErrors(t *testing.T) {
	cache := &mapCache{}
	c := NewCached(&fakeEngine{name: "tesseract", err: errors.New("nope")}, cache)
	_, err := c.Extract(context.Background(), pngBytes(t, 2, 2))
	assert.Error(t, err)
	assert.Empty(t, cache.m)
}

func TestLimited(t *testing.T) {
	eng := &fakeEngine{name: "tesseract", text: "ok", block: make(chan struct{})}
	l := NewLimited(eng, 1)

	done := make(chan error, 1)
	go func() {
		_, err := l.Extract(context.Background(), nil)
		done <- err
	}()
	require.Eventually(t, func() bool { return eng.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	// the single slot is taken, so a second caller waits until its ctx ends
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.Extract(ctx, nil)
	require.Error(t, err)
	assert.True(t, IsFailure(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(eng.block)
	require.NoError(t, <-done)
}

func TestImageHashStable(t *testing.T) {
	a := ImageHash([]byte("abc"))
	assert.Len(t, a, 64)
	assert.Equal(t, a, ImageHash([]byte("abc")))
	assert.NotEqual(t, a, ImageHash([]byte("abd")))
	assert.Equal(t, "ocr:yandex:"+a, CacheKey("yandex", []byte("abc")))
}
