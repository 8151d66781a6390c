package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-relay/internal/cloudlink"
	"github.com/blockedby/channel-relay/internal/files"
	"github.com/blockedby/channel-relay/internal/message"
	"github.com/blockedby/channel-relay/internal/metrics"
)

// fakeCloud resolves links and writes files without any network.
type fakeCloud struct {
	mu       sync.Mutex
	healthy  bool
	failIDs  map[string]bool
	inFlight int
	maxSeen  int
	calls    []string
}

func (f *fakeCloud) HealthCheck(context.Context) bool { return f.healthy }

func (f *fakeCloud) GetLink(_ context.Context, fileID string, _ cloudlink.Options) (*cloudlink.Link, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fileID)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()

	if f.failIDs[fileID] {
		return nil, errors.New("file not found or link expired")
	}
	return &cloudlink.Link{URL: "https://cdn.example/" + fileID}, nil
}

func (f *fakeCloud) DownloadDirect(_ context.Context, _, destPath string, _ cloudlink.DownloadOptions) (int64, error) {
	if err := os.WriteFile(destPath, []byte("data"), 0o644); err != nil {
		return 0, err
	}
	return 4, nil
}

// fakeLocal serves the direct-retrieval route.
type fakeLocal struct {
	mu      sync.Mutex
	failIDs map[string]bool
	calls   []string
	empty   bool
}

func (f *fakeLocal) FileLink(_ context.Context, fileID string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fileID)
	f.mu.Unlock()
	if f.failIDs[fileID] {
		return "", errors.New("file unavailable")
	}
	return "https://api.example/" + fileID, nil
}

func (f *fakeLocal) Download(_ context.Context, _, dest string, _ int64) (int64, error) {
	if f.empty {
		if err := os.WriteFile(dest, nil, 0o644); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if err := os.WriteFile(dest, []byte("local"), 0o644); err != nil {
		return 0, err
	}
	return 5, nil
}

func newTestDownloader(t *testing.T, cloud *fakeCloud, local *fakeLocal, cfg Config) *Downloader {
	t.Helper()
	fm := files.NewManager(t.TempDir(), zerolog.Nop())
	if cfg.BatchPause == 0 {
		cfg.BatchPause = time.Millisecond
	}
	var cr CloudResolver
	if cloud != nil {
		cr = cloud
	}
	return New(cr, local, fm, metrics.Nop(), cfg, zerolog.Nop())
}

func msgWith(atts ...message.Attachment) *message.Inbound {
	return &message.Inbound{ChannelKey: "news", MessageID: 42, Text: "caption text", Attachments: atts}
}

func TestProcess_CloudRoute(t *testing.T) {
	cloud := &fakeCloud{healthy: true}
	d := newTestDownloader(t, cloud, &fakeLocal{}, Config{CloudEnabled: true})

	res := d.Process(context.Background(), "news", msgWith(
		message.Attachment{Kind: message.KindImage, FileID: "img-1", FileName: "a.jpg"},
	))

	assert.True(t, res.Success)
	assert.Equal(t, RouteCloud, res.Route)
	require.Len(t, res.Node, 2)
	assert.Equal(t, message.SegText, res.Node[0].Kind)
	assert.Equal(t, message.SegImage, res.Node[1].Kind)
	assert.Len(t, res.Files, 1)
	assert.Equal(t, int64(4), res.Bytes)
}

func TestDecide(t *testing.T) {
	big := message.Attachment{Kind: message.KindVideo, FileID: "v", Size: 200}

	tests := []struct {
		name string
		cfg  Config
		chg  func(*fakeCloud)
		msg  *message.Inbound
		want Route
	}{
		{"cloud disabled", Config{}, nil, msgWith(), RouteLocal},
		{"cloud healthy", Config{CloudEnabled: true}, nil, msgWith(), RouteCloud},
		{"cloud unhealthy", Config{CloudEnabled: true}, func(c *fakeCloud) { c.healthy = false }, msgWith(), RouteLocal},
		{"over cloud ceiling", Config{CloudEnabled: true, CloudMaxSize: 100}, nil, msgWith(big), RouteLocal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cloud := &fakeCloud{healthy: true}
			if tt.chg != nil {
				tt.chg(cloud)
			}
			d := newTestDownloader(t, cloud, &fakeLocal{}, tt.cfg)
			assert.Equal(t, tt.want, d.decide(context.Background(), tt.msg))
		})
	}
}

func TestProcess_FallbackToLocal(t *testing.T) {
	cloud := &fakeCloud{healthy: true, failIDs: map[string]bool{"img-1": true}}
	local := &fakeLocal{}
	d := newTestDownloader(t, cloud, local, Config{CloudEnabled: true, FallbackLocal: true})

	res := d.Process(context.Background(), "news", msgWith(
		message.Attachment{Kind: message.KindImage, FileID: "img-1", FileName: "a.jpg"},
	))

	assert.True(t, res.Success)
	assert.Equal(t, RouteLocal, res.Route)
	assert.Equal(t, []string{"img-1"}, local.calls)
}

func TestProcess_NoFallbackWhenDisabled(t *testing.T) {
	cloud := &fakeCloud{healthy: true, failIDs: map[string]bool{"img-1": true}}
	local := &fakeLocal{}
	d := newTestDownloader(t, cloud, local, Config{CloudEnabled: true})

	res := d.Process(context.Background(), "news", msgWith(
		message.Attachment{Kind: message.KindImage, FileID: "img-1", FileName: "a.jpg"},
	))

	assert.False(t, res.Success)
	assert.Equal(t, RouteCloud, res.Route)
	assert.Empty(t, local.calls)
}

func TestProcess_PerTaskFailureIsolation(t *testing.T) {
	cloud := &fakeCloud{healthy: true, failIDs: map[string]bool{"img-2": true}}
	d := newTestDownloader(t, cloud, &fakeLocal{}, Config{CloudEnabled: true})

	res := d.Process(context.Background(), "news", msgWith(
		message.Attachment{Kind: message.KindImage, FileID: "img-1", FileName: "a.jpg"},
		message.Attachment{Kind: message.KindImage, FileID: "img-2", FileName: "b.jpg"},
		message.Attachment{Kind: message.KindImage, FileID: "img-3", FileName: "c.jpg"},
	))

	assert.False(t, res.Success)
	require.Len(t, res.Node, 4) // text + 2 files + 1 placeholder
	assert.Len(t, res.Files, 2)

	var placeholders int
	for _, seg := range res.Node[1:] {
		if seg.Kind == message.SegText {
			placeholders++
			assert.Contains(t, seg.Text, "could not be downloaded")
		}
	}
	assert.Equal(t, 1, placeholders)
}

func TestProcess_ConcurrencyBound(t *testing.T) {
	cloud := &fakeCloud{healthy: true}
	d := newTestDownloader(t, cloud, &fakeLocal{}, Config{CloudEnabled: true, Concurrency: 3})

	atts := make([]message.Attachment, 8)
	for i := range atts {
		atts[i] = message.Attachment{Kind: message.KindImage, FileID: fmt.Sprintf("img-%d", i), FileName: fmt.Sprintf("%d.jpg", i)}
	}
	res := d.Process(context.Background(), "news", msgWith(atts...))

	assert.True(t, res.Success)
	assert.LessOrEqual(t, cloud.maxSeen, 3)
	assert.Len(t, cloud.calls, 8)
}

func TestProcess_PriorityOrder(t *testing.T) {
	cloud := &fakeCloud{healthy: true}
	d := newTestDownloader(t, cloud, &fakeLocal{}, Config{CloudEnabled: true, Concurrency: 1})

	d.Process(context.Background(), "news", msgWith(
		message.Attachment{Kind: message.KindAudio, FileID: "aud", FileName: "a.mp3"},
		message.Attachment{Kind: message.KindImage, FileID: "img", FileName: "b.jpg"},
		message.Attachment{Kind: message.KindVideo, FileID: "vid", FileName: "c.mp4"},
	))

	// video before normal before audio
	assert.Equal(t, []string{"vid", "img", "aud"}, cloud.calls)
}

func TestProcess_SizeCapSkipsAttachment(t *testing.T) {
	cloud := &fakeCloud{healthy: true}
	d := newTestDownloader(t, cloud, &fakeLocal{}, Config{CloudEnabled: true, MaxFileSize: 100})

	res := d.Process(context.Background(), "news", msgWith(
		message.Attachment{Kind: message.KindImage, FileID: "small", FileName: "a.jpg", Size: 50},
		message.Attachment{Kind: message.KindVideo, FileID: "huge", FileName: "b.mp4", Size: 1000},
	))

	assert.True(t, res.Success)
	assert.Equal(t, []string{"small"}, cloud.calls)
	assert.Len(t, res.Files, 1)
}

func TestProcess_EmptyDownloadIsFailure(t *testing.T) {
	local := &fakeLocal{empty: true}
	d := newTestDownloader(t, nil, local, Config{})

	res := d.Process(context.Background(), "news", msgWith(
		message.Attachment{Kind: message.KindImage, FileID: "img-1", FileName: "a.jpg"},
	))

	assert.False(t, res.Success)
	assert.Empty(t, res.Files)
	// the zero-byte file must not survive
	fm := files.NewManager(d.files.Root(), zerolog.Nop())
	dir, err := fm.ChannelDir("news")
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcess_TextOnlyMessage(t *testing.T) {
	d := newTestDownloader(t, nil, &fakeLocal{}, Config{})

	res := d.Process(context.Background(), "news", msgWith())

	assert.True(t, res.Success)
	require.Len(t, res.Node, 1)
	assert.Equal(t, "caption text", res.Node[0].Text)
}

func TestProcess_AllFailedYieldsPlaceholderNode(t *testing.T) {
	local := &fakeLocal{failIDs: map[string]bool{"img-1": true}}
	d := newTestDownloader(t, nil, local, Config{})

	msg := &message.Inbound{ChannelKey: "news", MessageID: 7, Attachments: []message.Attachment{
		{Kind: message.KindImage, FileID: "img-1"},
	}}
	res := d.Process(context.Background(), "news", msg)

	assert.False(t, res.Success)
	require.NotEmpty(t, res.Node)
	assert.Contains(t, res.Node[0].Text, "could not be downloaded")
}

func TestSortByPriority_StableWithinClass(t *testing.T) {
	tasks := []Task{
		{FileID: "a", Priority: PriorityNormal},
		{FileID: "b", Priority: PriorityVideo},
		{FileID: "c", Priority: PriorityNormal},
		{FileID: "d", Priority: PriorityAudio},
		{FileID: "e", Priority: PriorityVideo},
	}
	sortByPriority(tasks)

	order := make([]string, len(tasks))
	for i, tk := range tasks {
		order[i] = tk.FileID
	}
	assert.Equal(t, []string{"b", "e", "a", "c", "d"}, order)
}

func TestPlaceholder(t *testing.T) {
	assert.Equal(t, `[video "movie.mp4" could not be downloaded]`, placeholder(message.KindVideo, "movie.mp4"))
	assert.Equal(t, "[image could not be downloaded]", placeholder(message.KindImage, "image"))
	assert.Equal(t, "[audio could not be downloaded]", placeholder(message.KindAudio, ""))
}
