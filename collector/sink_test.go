package collector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ctolnik/session-agent/credentials"
	"github.com/ctolnik/session-agent/httpclient"
	"github.com/ctolnik/session-agent/zapctx"
)

type received struct {
	path    string
	auth    string
	appName string
}

type fakeCollector struct {
	mu     sync.Mutex
	events []received
	status int
	block  chan struct{}
}

func (f *fakeCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if f.block != nil {
		<-f.block
	}
	var body activityPayload
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.events = append(f.events, received{path: r.URL.Path, auth: r.Header.Get("Authorization"), appName: body.AppName})
	status := f.status
	f.mu.Unlock()

	if status != 0 {
		w.WriteHeader(status)
	}
}

func (f *fakeCollector) all() []received {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]received(nil), f.events...)
}

func newSink(t *testing.T, h http.Handler, tokens credentials.Source) *HTTPSink {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHTTPSink(httpclient.NewClient(httpclient.Config{ServerURL: srv.URL}), tokens)
}

func TestSendPostsToVerbEndpoint(t *testing.T) {
	fc := &fakeCollector{}
	sink := newSink(t, fc, credentials.Static("tok"))
	ctx := zapctx.WithLogger(t.Context(), zap.NewNop())

	sink.Send(ctx, Event{Kind: KindStart, AppName: "chrome"})
	require.NoError(t, sink.Wait(ctx))
	sink.Send(ctx, Event{Kind: KindEnd, AppName: "chrome"})
	require.NoError(t, sink.Wait(ctx))

	assert.Equal(t, []received{
		{path: "/sessionForegroundApp/start", auth: "Bearer tok", appName: "chrome"},
		{path: "/sessionForegroundApp/end", auth: "Bearer tok", appName: "chrome"},
	}, fc.all())
}

func TestSendDoesNotBlockOnNetwork(t *testing.T) {
	fc := &fakeCollector{block: make(chan struct{})}
	sink := newSink(t, fc, credentials.Static("tok"))
	ctx := zapctx.WithLogger(t.Context(), zap.NewNop())

	start := time.Now()
	sink.Send(ctx, Event{Kind: KindStart, AppName: "slack"})
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Error(t, sink.Wait(waitCtx))

	close(fc.block)
	require.NoError(t, sink.Wait(ctx))
	assert.Len(t, fc.all(), 1)
}

func TestSendSurvivesCallerCancellation(t *testing.T) {
	fc := &fakeCollector{block: make(chan struct{})}
	sink := newSink(t, fc, credentials.Static("tok"))

	ctx, cancel := context.WithCancel(zapctx.WithLogger(t.Context(), zap.NewNop()))
	sink.Send(ctx, Event{Kind: KindEnd, AppName: "code"})
	cancel()
	close(fc.block)

	require.NoError(t, sink.Wait(t.Context()))
	assert.Len(t, fc.all(), 1)
}

func TestSendWithoutTokenSkipsCall(t *testing.T) {
	fc := &fakeCollector{}
	sink := newSink(t, fc, credentials.Static(""))
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := zapctx.WithLogger(t.Context(), zap.New(core))

	sink.Send(ctx, Event{Kind: KindStart, AppName: "chrome"})
	require.NoError(t, sink.Wait(ctx))

	assert.Empty(t, fc.all())
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.DebugLevel).FilterMessageSnippet("no token").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestSendFailureIsLogged(t *testing.T) {
	fc := &fakeCollector{status: http.StatusUnauthorized}
	sink := newSink(t, fc, credentials.Static("expired"))
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := zapctx.WithLogger(t.Context(), zap.New(core))

	sink.Send(ctx, Event{Kind: KindStart, AppName: "chrome"})
	require.NoError(t, sink.Wait(ctx))

	warns := logs.FilterLevelExact(zapcore.WarnLevel).All()
	require.Len(t, warns, 1)
	assert.Equal(t, "activity event not delivered", warns[0].Message)
}

func TestSinkFunc(t *testing.T) {
	var got []Event
	var s Sink = SinkFunc(func(_ context.Context, ev Event) { got = append(got, ev) })
	s.Send(t.Context(), Event{Kind: KindStart, AppName: "idle"})
	assert.Equal(t, []Event{{Kind: KindStart, AppName: "idle"}}, got)
}

func TestUploadScreenshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("\x89PNG fake"), 0o600))

	var (
		mu       sync.Mutex
		field    string
		filename string
		ctype    string
		content  []byte
		auth     string
	)
	srv := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/screenshots/upload", r.URL.Path)
		mr, err := r.MultipartReader()
		if !assert.NoError(t, err) {
			return
		}
		part, err := mr.NextPart()
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(part)

		mu.Lock()
		defer mu.Unlock()
		field, filename, ctype, content = part.FormName(), part.FileName(), part.Header.Get("Content-Type"), data
		auth = r.Header.Get("Authorization")

		_, err = mr.NextPart()
		assert.ErrorIs(t, err, io.EOF)
	})

	sink := newSink(t, srv, credentials.Static("tok"))
	ctx := zapctx.WithLogger(t.Context(), zap.NewNop())
	require.NoError(t, sink.UploadScreenshot(ctx, path))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "image", field)
	assert.Equal(t, "screenshot.png", filename)
	assert.Equal(t, "image/png", ctype)
	assert.Equal(t, []byte("\x89PNG fake"), content)
	assert.Equal(t, "Bearer tok", auth)
}

func TestUploadScreenshotErrors(t *testing.T) {
	ctx := zapctx.WithLogger(t.Context(), zap.NewNop())

	sink := newSink(t, http.NotFoundHandler(), credentials.Static(""))
	assert.ErrorIs(t, sink.UploadScreenshot(ctx, "whatever.png"), credentials.ErrNoToken)

	sink = newSink(t, http.NotFoundHandler(), credentials.Static("tok"))
	assert.ErrorContains(t, sink.UploadScreenshot(ctx, filepath.Join(t.TempDir(), "missing.png")), "failed to open screenshot")

	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, os.WriteFile(path, []byte("png"), 0o600))
	err := sink.UploadScreenshot(ctx, path)
	assert.ErrorContains(t, err, "client error 404")
	// the pipeline adds the upload context
	assert.NotContains(t, err.Error(), "upload screenshot")
}
