package engine

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"torrentd/internal/domain"
)

// Options configures the anacrolix-backed adapter.
type Options struct {
	DataDir         string
	ListenPort      int
	Seed            bool
	MaxDownloadRate int64 // bytes/sec, 0 means unlimited
	MaxUploadRate   int64 // bytes/sec, 0 means unlimited
	Trackers        []string
	BoostConns      int
	SeedConns       int
	Logger          *logrus.Logger
}

// Client wraps a shared anacrolix torrent client and implements Adapter.
type Client struct {
	opts   Options
	client *torrent.Client
	log    *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Adapter = (*Client)(nil)

// jobHandle is the concrete Handle produced by this adapter. The torrent
// pointer is nil while the job is paused; src keeps enough to rebuild it.
type jobHandle struct {
	mu         sync.Mutex
	t          *torrent.Torrent
	src        Source
	sequential bool
	paused     bool

	last     Status // retained counters, served while paused
	prevDown int64
	prevUp   int64
	prevAt   time.Time
}

func NewClient(opts Options) (*Client, error) {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.BoostConns <= 0 {
		opts.BoostConns = 300
	}
	if opts.SeedConns <= 0 {
		opts.SeedConns = 400
	}
	if len(opts.Trackers) == 0 {
		opts.Trackers = DefaultTrackers()
	}

	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = opts.DataDir
	cfg.NoUpload = false
	cfg.Seed = opts.Seed
	if opts.ListenPort > 0 {
		cfg.ListenPort = opts.ListenPort
	}
	if opts.MaxDownloadRate > 0 {
		cfg.DownloadRateLimiter = newRateLimiter(opts.MaxDownloadRate)
	}
	if opts.MaxUploadRate > 0 {
		cfg.UploadRateLimiter = newRateLimiter(opts.MaxUploadRate)
	}

	cl, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:   opts,
		client: cl,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
	c.log.Infof("torrent engine started, data dir: %s", opts.DataDir)
	return c, nil
}

// Close stops metadata waiters and shuts the torrent client down.
func (c *Client) Close() {
	c.cancel()
	c.wg.Wait()
	c.client.Close()
	c.log.Info("torrent engine stopped")
}

// newRateLimiter builds a limiter with a one second burst, floored at the
// 16 KiB chunk size so single chunks never stall.
func newRateLimiter(bytesPerSec int64) *rate.Limiter {
	burst := int(bytesPerSec)
	if burst < 16<<10 {
		burst = 16 << 10
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

func (c *Client) CreateJob(ctx context.Context, src Source, sequential bool) (Handle, error) {
	t, err := c.addTorrent(src)
	if err != nil {
		return nil, err
	}

	h := &jobHandle{
		t:          t,
		src:        src,
		sequential: sequential,
		last: Status{
			State: domain.JobStateChecking,
			Name:  domain.NamePending,
		},
	}

	c.wg.Add(1)
	go c.awaitMetadata(t, h)
	return h, nil
}

// addTorrent attaches a source to the shared client. Magnets and bare info
// hashes resolve metadata from the swarm; file and URL sources carry it.
func (c *Client) addTorrent(src Source) (*torrent.Torrent, error) {
	switch src.Kind {
	case SourceMagnet:
		t, err := c.client.AddMagnet(src.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: add magnet: %v", domain.ErrEngineRejected, err)
		}
		return t, nil
	case SourceFile, SourceURL:
		mi, err := metainfo.Load(bytes.NewReader(src.Metainfo))
		if err != nil {
			return nil, fmt.Errorf("%w: parse metainfo: %v", domain.ErrEngineRejected, err)
		}
		spec, err := torrent.TorrentSpecFromMetaInfoErr(mi)
		if err != nil {
			return nil, fmt.Errorf("%w: build torrent spec: %v", domain.ErrEngineRejected, err)
		}
		t, _, err := c.client.AddTorrentSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: add torrent: %v", domain.ErrEngineRejected, err)
		}
		return t, nil
	case SourceInfoHash:
		t, _, err := c.client.AddTorrentSpec(&torrent.TorrentSpec{
			InfoHash:    metainfo.NewHashFromHex(src.Value),
			DisplayName: src.Value,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: add info hash: %v", domain.ErrEngineRejected, err)
		}
		return t, nil
	}
	return nil, fmt.Errorf("%w: unsupported source kind %q", domain.ErrInvalidInput, src.Kind)
}

// awaitMetadata blocks until the torrent resolves its info dict, then
// starts the download. For file sources the info is already present and
// GotInfo is closed immediately.
func (c *Client) awaitMetadata(t *torrent.Torrent, h *jobHandle) {
	defer c.wg.Done()

	select {
	case <-c.ctx.Done():
		return
	case <-t.GotInfo():
	}

	h.mu.Lock()
	if h.t != t {
		// Dropped or rebuilt while we waited.
		h.mu.Unlock()
		return
	}
	sequential := h.sequential
	h.mu.Unlock()

	t.DownloadAll()
	if sequential {
		applySequential(t)
	}
	c.log.WithField("name", t.Name()).Info("metadata resolved, download started")
}

// applySequential approximates in-order delivery with a descending file
// priority ladder. The engine has no single sequential switch.
func applySequential(t *torrent.Torrent) {
	for i, f := range t.Files() {
		switch i {
		case 0:
			f.SetPriority(torrent.PiecePriorityNow)
		case 1:
			f.SetPriority(torrent.PiecePriorityHigh)
		default:
			f.SetPriority(torrent.PiecePriorityNormal)
		}
	}
}

func (c *Client) DestroyJob(handle Handle, deletePayload bool) error {
	h, err := c.own(handle)
	if err != nil {
		return err
	}

	h.mu.Lock()
	t := h.t
	h.t = nil
	h.paused = false
	name := h.last.Name
	h.mu.Unlock()

	if t != nil {
		if info := t.Info(); info != nil {
			name = info.BestName()
		}
		t.Drop()
	}

	if deletePayload {
		if err := c.removePayload(name); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrEngineRejected, err)
		}
	}
	return nil
}

// removePayload deletes the job's content directory or file under the
// data dir. The containment check refuses names that escape it.
func (c *Client) removePayload(name string) error {
	if name == "" || name == domain.NamePending {
		return nil
	}
	root := filepath.Clean(c.opts.DataDir)
	target := filepath.Join(root, name)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("refusing to remove %q outside data dir", target)
	}
	if err := os.RemoveAll(target); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove payload: %w", err)
	}
	return nil
}

// SetPaused drops the torrent from the client on pause and rebuilds it
// from the retained source on resume. Counters observed before the pause
// keep being served by ReadStatus in the meantime.
func (c *Client) SetPaused(handle Handle, paused bool) error {
	h, err := c.own(handle)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.paused == paused {
		return nil
	}

	if paused {
		if h.t != nil {
			if st, err := c.sampleLocked(h); err == nil {
				h.last = st
			}
			h.t.Drop()
			h.t = nil
		}
		h.paused = true
		h.last.State = domain.JobStatePaused
		h.last.DownloadRate = 0
		h.last.UploadRate = 0
		return nil
	}

	t, err := c.addTorrent(h.src)
	if err != nil {
		return err
	}
	h.t = t
	h.paused = false
	// Invalidate the rate baseline; the re-added torrent re-verifies its
	// data and the first diff would otherwise show as a burst.
	h.prevAt = time.Time{}
	h.prevDown = 0
	h.prevUp = 0

	c.wg.Add(1)
	go c.awaitMetadata(t, h)
	return nil
}

func (c *Client) ReadStatus(handle Handle) (Status, error) {
	h, err := c.own(handle)
	if err != nil {
		return Status{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.paused {
		return h.last, nil
	}
	if h.t == nil {
		return Status{}, fmt.Errorf("%w: torrent handle detached", domain.ErrEngineUnavailable)
	}

	st, err := c.sampleLocked(h)
	if err != nil {
		return Status{}, err
	}
	h.last = st
	return st, nil
}

// sampleLocked reads counters off the live torrent and derives rates from
// the byte delta since the previous sample. Caller holds h.mu.
func (c *Client) sampleLocked(h *jobHandle) (Status, error) {
	t := h.t
	stats := t.Stats()
	completed := t.BytesCompleted()
	uploaded := stats.BytesWrittenData.Int64()

	now := time.Now()
	var downRate, upRate int64
	if !h.prevAt.IsZero() {
		if elapsed := now.Sub(h.prevAt).Seconds(); elapsed > 0 {
			downRate = int64(float64(completed-h.prevDown) / elapsed)
			upRate = int64(float64(uploaded-h.prevUp) / elapsed)
			if downRate < 0 {
				downRate = 0
			}
			if upRate < 0 {
				upRate = 0
			}
		}
	}
	h.prevDown = completed
	h.prevUp = uploaded
	h.prevAt = now

	st := Status{
		State:        domain.JobStateChecking,
		Name:         domain.NamePending,
		DownloadRate: downRate,
		UploadRate:   upRate,
		Downloaded:   completed,
		Uploaded:     uploaded,
		Peers:        stats.ActivePeers,
		Seeds:        stats.ConnectedSeeders,
		Ratio:        Ratio(uploaded, completed),
	}

	info := t.Info()
	if info == nil {
		return st, nil
	}

	st.Name = info.BestName()
	st.TotalSize = info.TotalLength()
	st.Progress = ClampProgress(float64(completed) / float64(st.TotalSize))
	if t.BytesMissing() == 0 {
		st.Progress = 1
		if c.opts.Seed {
			st.State = domain.JobStateSeeding
		} else {
			st.State = domain.JobStateCompleted
		}
	} else {
		st.State = domain.JobStateDownloading
	}
	return st, nil
}

func (c *Client) ApplyProfile(handle Handle, profile Profile) error {
	h, err := c.own(handle)
	if err != nil {
		return err
	}

	h.mu.Lock()
	t := h.t
	h.mu.Unlock()
	if t == nil {
		return fmt.Errorf("%w: job is not active", domain.ErrEngineRejected)
	}

	switch profile {
	case ProfileBoost:
		c.announceTrackers(t)
		t.SetMaxEstablishedConns(c.opts.BoostConns)
	case ProfileSuperSeed:
		// Fresh announce wave so the completed copy is discoverable
		// right away.
		c.announceTrackers(t)
		t.SetMaxEstablishedConns(c.opts.SeedConns)
	default:
		return fmt.Errorf("%w: unknown profile %q", domain.ErrInvalidInput, profile)
	}
	return nil
}

func (c *Client) announceTrackers(t *torrent.Torrent) {
	for _, tracker := range c.opts.Trackers {
		t.AddTrackers([][]string{{tracker}})
	}
}

func (c *Client) own(handle Handle) (*jobHandle, error) {
	h, ok := handle.(*jobHandle)
	if !ok || h == nil {
		return nil, fmt.Errorf("%w: foreign job handle", domain.ErrEngineRejected)
	}
	return h, nil
}

// DefaultTrackers returns the announce list used when no trackers are
// configured.
func DefaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://open.tracker.cl:1337/announce",
		"udp://9.rarbg.com:2810/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://exodus.desync.com:6969/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
		"udp://tracker.dler.org:6969/announce",
	}
}
