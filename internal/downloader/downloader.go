// Package downloader orchestrates per-message attachment downloads: it
// decides between the cloud link-resolution route and direct retrieval,
// executes tasks in prioritized bounded-concurrency batches and assembles
// the deliverable node.
//
// State machine per message: Decide -> Create Tasks -> Execute -> Assemble.
package downloader

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockedby/channel-relay/internal/cloudlink"
	"github.com/blockedby/channel-relay/internal/files"
	"github.com/blockedby/channel-relay/internal/message"
	"github.com/blockedby/channel-relay/internal/metrics"
)

// defaultBatchPause separates concurrent batches to avoid bursting the
// remote service.
const defaultBatchPause = time.Second

// Route names the download path chosen for a message.
type Route string

const (
	RouteCloud Route = "cloud"
	RouteLocal Route = "local"
)

// CloudResolver is the subset of the link-resolution client the downloader
// needs.
type CloudResolver interface {
	HealthCheck(ctx context.Context) bool
	GetLink(ctx context.Context, fileID string, opts cloudlink.Options) (*cloudlink.Link, error)
	DownloadDirect(ctx context.Context, url, destPath string, opts cloudlink.DownloadOptions) (int64, error)
}

// LocalFetcher retrieves files directly from the source platform.
type LocalFetcher interface {
	FileLink(ctx context.Context, fileID string) (string, error)
	Download(ctx context.Context, url, dest string, maxSize int64) (int64, error)
}

// Config tunes the downloader.
type Config struct {
	CloudEnabled  bool
	CloudMaxSize  int64 // largest attachment allowed on the cloud route
	MaxFileSize   int64 // per-attachment byte cap on any route
	Concurrency   int   // concurrent tasks per batch, default 3
	FallbackLocal bool  // re-run failed cloud messages through the local route
	BatchPause    time.Duration
}

// Result is the per-message outcome. The pipeline never propagates an
// error out of Process: failures degrade to placeholder text segments.
type Result struct {
	Success bool
	Node    message.Node
	Files   []string // on-disk paths for cleanup accounting
	Bytes   int64
	Elapsed time.Duration
	Route   Route
}

// Downloader routes and executes attachment downloads for one channel set.
type Downloader struct {
	cloud   CloudResolver
	local   LocalFetcher
	files   *files.Manager
	metrics *metrics.Metrics
	cfg     Config
	log     zerolog.Logger
}

// New creates a downloader. cloud may be nil when the cloud route is
// disabled.
func New(cloud CloudResolver, local LocalFetcher, fm *files.Manager, m *metrics.Metrics, cfg Config, log zerolog.Logger) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = defaultBatchPause
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Downloader{cloud: cloud, local: local, files: fm, metrics: m, cfg: cfg, log: log}
}

// Process downloads one message's attachments and assembles its node. It
// never returns an error: any failure surfaces as a placeholder segment or
// a failed Result.
func (d *Downloader) Process(ctx context.Context, channelKey string, msg *message.Inbound) Result {
	start := time.Now()

	route := d.decide(ctx, msg)
	res := d.run(ctx, route, channelKey, msg)

	// fallback: re-run the whole message through the local route
	if !res.Success && route == RouteCloud && d.cfg.FallbackLocal {
		d.log.Warn().
			Str("chat", channelKey).
			Int64("message_id", msg.MessageID).
			Msg("cloud route failed, falling back to local download")
		res = d.run(ctx, RouteLocal, channelKey, msg)
		route = RouteLocal
	}

	res.Elapsed = time.Since(start)
	res.Route = route
	d.metrics.DownloadDuration.Observe(res.Elapsed.Seconds())
	return res
}

// decide picks the route once per message: cloud only when enabled,
// currently healthy and the largest attachment fits the cloud ceiling.
func (d *Downloader) decide(ctx context.Context, msg *message.Inbound) Route {
	if !d.cfg.CloudEnabled || d.cloud == nil {
		return RouteLocal
	}
	if d.cfg.CloudMaxSize > 0 && msg.LargestAttachment() > d.cfg.CloudMaxSize {
		return RouteLocal
	}
	if !d.cloud.HealthCheck(ctx) {
		return RouteLocal
	}
	return RouteCloud
}

type taskOutcome struct {
	task    Task
	path    string
	written int64
	err     error
}

func (d *Downloader) run(ctx context.Context, route Route, channelKey string, msg *message.Inbound) Result {
	tasks, skipped, err := d.createTasks(channelKey, msg)
	if err != nil {
		d.log.Error().Err(err).Str("chat", channelKey).Msg("task creation failed")
		return Result{
			Success: false,
			Node:    message.Node{message.Text(placeholderForMessage(msg))},
		}
	}
	for _, sk := range skipped {
		d.log.Info().
			Str("chat", channelKey).
			Str("file", sk.Display).
			Int64("size", sk.Expected).
			Msg("attachment over size cap, skipped")
	}

	outcomes := d.execute(ctx, route, tasks)
	return d.assemble(msg, outcomes)
}

// createTasks builds one task per attachment. Attachments over the size cap
// are skipped per-attachment, never failing the message.
func (d *Downloader) createTasks(channelKey string, msg *message.Inbound) (tasks, skipped []Task, err error) {
	for i, a := range msg.Attachments {
		name := a.FileName
		if name == "" {
			name = fmt.Sprintf("%d_%d_%s", msg.MessageID, i, defaultExt(a.Kind))
		}
		dest, derr := d.files.DestPath(channelKey, name)
		if derr != nil {
			return nil, nil, derr
		}
		t := newTask(a, dest)
		if d.cfg.MaxFileSize > 0 && a.Size > d.cfg.MaxFileSize {
			skipped = append(skipped, t)
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, skipped, nil
}

// execute runs tasks highest priority first in fixed-size concurrent
// batches. A batch always waits for all of its tasks; one failure never
// cancels siblings. A short pause separates batches.
func (d *Downloader) execute(ctx context.Context, route Route, tasks []Task) []taskOutcome {
	sortByPriority(tasks)

	outcomes := make([]taskOutcome, len(tasks))
	for batchStart := 0; batchStart < len(tasks); batchStart += d.cfg.Concurrency {
		end := batchStart + d.cfg.Concurrency
		if end > len(tasks) {
			end = len(tasks)
		}

		var wg sync.WaitGroup
		for i := batchStart; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				outcomes[idx] = d.runTask(ctx, route, tasks[idx])
			}(i)
		}
		wg.Wait()

		if end < len(tasks) {
			select {
			case <-time.After(d.cfg.BatchPause):
			case <-ctx.Done():
			}
		}
	}
	return outcomes
}

// runTask resolves a link, downloads and validates one attachment.
func (d *Downloader) runTask(ctx context.Context, route Route, t Task) taskOutcome {
	out := taskOutcome{task: t}

	var written int64
	var err error
	switch route {
	case RouteCloud:
		written, err = d.runCloudTask(ctx, t)
	default:
		written, err = d.runLocalTask(ctx, t)
	}
	if err == nil && written == 0 {
		os.Remove(t.Dest)
		err = fmt.Errorf("downloaded file is empty: %s", t.Display)
	}

	if err != nil {
		out.err = err
		d.metrics.DownloadsTotal.WithLabelValues(string(route), "error").Inc()
		d.log.Warn().Err(err).
			Str("route", string(route)).
			Str("file", t.Display).
			Msg("download task failed")
		return out
	}

	out.path = t.Dest
	out.written = written
	d.metrics.DownloadsTotal.WithLabelValues(string(route), "success").Inc()
	d.metrics.DownloadBytes.Add(float64(written))
	return out
}

func (d *Downloader) runCloudTask(ctx context.Context, t Task) (int64, error) {
	link, err := d.cloud.GetLink(ctx, t.FileID, cloudlink.Options{})
	if err != nil {
		return 0, err
	}
	size := t.Expected
	if link.FileSize > 0 {
		size = link.FileSize
	}
	return d.cloud.DownloadDirect(ctx, link.URL, t.Dest, cloudlink.DownloadOptions{
		MaxSize:  d.cfg.MaxFileSize,
		Expected: size,
		Progress: d.progressFor(t),
	})
}

func (d *Downloader) runLocalTask(ctx context.Context, t Task) (int64, error) {
	url, err := d.local.FileLink(ctx, t.FileID)
	if err != nil {
		return 0, err
	}
	return d.local.Download(ctx, url, t.Dest, d.cfg.MaxFileSize)
}

// progressFor logs throttled progress for large files.
func (d *Downloader) progressFor(t Task) cloudlink.Progress {
	return func(written, total int64) {
		d.log.Debug().
			Str("file", t.Display).
			Int64("written", written).
			Int64("total", total).
			Msg("download progress")
	}
}

// assemble combines text, successfully downloaded attachments and failure
// placeholders into the deliverable node. Size-capped attachments were
// skipped upstream and produce neither segments nor cleanup entries.
func (d *Downloader) assemble(msg *message.Inbound, outcomes []taskOutcome) Result {
	res := Result{Success: true}

	if text := messageText(msg); text != "" {
		res.Node = append(res.Node, message.Text(text))
	}
	for _, o := range outcomes {
		if o.err != nil {
			res.Success = false
			res.Node = append(res.Node, message.Text(placeholder(o.task.Kind, o.task.Display)))
			continue
		}
		res.Node = append(res.Node, files.Segment(o.path))
		res.Files = append(res.Files, o.path)
		res.Bytes += o.written
	}
	if len(res.Node) == 0 {
		res.Node = message.Node{message.Text(placeholderForMessage(msg))}
		res.Success = false
	}
	return res
}

func messageText(msg *message.Inbound) string {
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}

func placeholderForMessage(msg *message.Inbound) string {
	if len(msg.Attachments) > 0 {
		return placeholder(msg.Attachments[0].Kind, "")
	}
	return "[message unavailable]"
}

func defaultExt(kind message.AttachmentKind) string {
	switch kind {
	case message.KindImage:
		return "photo.jpg"
	case message.KindVideo:
		return "video.mp4"
	case message.KindAudio:
		return "audio.mp3"
	default:
		return "file.bin"
	}
}
