package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"torrentd/internal/domain"
	"torrentd/internal/engine"
	"torrentd/internal/repository"
)

// Notifier receives out-of-band broadcast requests after successful
// management operations. The hub implements it.
type Notifier interface {
	BroadcastNow()
}

// AddRequest carries a new job's locator and options. FileData is used
// when Source is empty.
type AddRequest struct {
	Source     string
	FileData   []byte
	Sequential bool
}

// entry pairs a job's engine handle with its last published record.
type entry struct {
	handle engine.Handle
	job    domain.Job
}

// Registry owns the authoritative job set. All management operations and
// all sampling go through it; snapshots are taken atomically with respect
// to mutation.
type Registry struct {
	eng   engine.Adapter
	fetch *engine.Fetcher
	store repository.JobStore
	log   *logrus.Logger

	mu           sync.Mutex
	jobs         map[string]*entry
	order        []string
	latest       []domain.Job
	sampled      bool
	readFailures uint64

	notifier Notifier
}

// New builds a registry. fetch may be nil to disable URL sources; store
// may be nil to disable persistence.
func New(eng engine.Adapter, fetch *engine.Fetcher, store repository.JobStore, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.New()
	}
	return &Registry{
		eng:   eng,
		fetch: fetch,
		store: store,
		log:   log,
		jobs:  make(map[string]*entry),
	}
}

// SetNotifier wires the out-of-band broadcast hook. The hub is built
// after the registry, so main binds this late.
func (r *Registry) SetNotifier(n Notifier) {
	r.mu.Lock()
	r.notifier = n
	r.mu.Unlock()
}

func (r *Registry) notify() {
	r.mu.Lock()
	n := r.notifier
	r.mu.Unlock()
	if n != nil {
		n.BroadcastNow()
	}
}

// Add validates the source, attaches it to the engine, and starts
// tracking it under a fresh id. The boost profile is applied right away.
func (r *Registry) Add(ctx context.Context, req AddRequest) (domain.Job, error) {
	src, err := r.resolveSource(ctx, req)
	if err != nil {
		return domain.Job{}, err
	}

	handle, err := r.eng.CreateJob(ctx, src, req.Sequential)
	if err != nil {
		return domain.Job{}, err
	}

	job := domain.Job{
		ID:         uuid.NewString(),
		Name:       domain.NamePending,
		State:      domain.JobStateChecking,
		ETA:        -1,
		Sequential: req.Sequential,
		AddedAt:    time.Now().UTC(),
	}

	r.mu.Lock()
	r.jobs[job.ID] = &entry{handle: handle, job: job}
	r.order = append(r.order, job.ID)
	r.mu.Unlock()

	if err := r.Tune(ctx, job.ID, engine.ProfileBoost); err != nil {
		r.log.WithField("job_id", job.ID).Warnf("boost profile: %v", err)
	}
	r.persist(ctx, job, src)
	r.notify()

	r.log.WithField("job_id", job.ID).Infof("job added (%s source)", src.Kind)
	return job, nil
}

// resolveSource turns an AddRequest into a validated engine source,
// fetching .torrent content for URL locators.
func (r *Registry) resolveSource(ctx context.Context, req AddRequest) (engine.Source, error) {
	if len(req.FileData) > 0 {
		return engine.SourceFromBytes(req.FileData)
	}

	src, err := engine.ParseSource(req.Source)
	if err != nil {
		return engine.Source{}, err
	}
	if src.Kind != engine.SourceURL {
		return src, nil
	}

	if r.fetch == nil {
		return engine.Source{}, fmt.Errorf("%w: URL sources are not enabled", domain.ErrInvalidInput)
	}
	data, err := r.fetch.Fetch(ctx, src.Value)
	if err != nil {
		return engine.Source{}, err
	}
	fetched, err := engine.SourceFromBytes(data)
	if err != nil {
		return engine.Source{}, err
	}
	// Keep the original locator so the row can be traced to its URL.
	fetched.Kind = engine.SourceURL
	fetched.Value = src.Value
	return fetched, nil
}

// Remove stops tracking the job. Engine-side teardown failures are logged
// but do not keep the record alive; only an unknown id is an error.
func (r *Registry) Remove(ctx context.Context, id string, deletePayload bool) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	delete(r.jobs, id)
	for i, jid := range r.order {
		if jid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	if err := r.eng.DestroyJob(e.handle, deletePayload); err != nil {
		r.log.WithField("job_id", id).Warnf("destroy job: %v", err)
	}
	if r.store != nil {
		if err := r.store.Delete(ctx, id); err != nil {
			r.log.WithField("job_id", id).Warnf("delete job row: %v", err)
		}
	}
	r.notify()

	r.log.WithField("job_id", id).Info("job removed")
	return nil
}

func (r *Registry) Pause(ctx context.Context, id string) error {
	return r.setPaused(ctx, id, true)
}

func (r *Registry) Resume(ctx context.Context, id string) error {
	return r.setPaused(ctx, id, false)
}

// setPaused forwards intent to the engine. The record's state is left
// untouched; the next sample reflects engine truth.
func (r *Registry) setPaused(ctx context.Context, id string, paused bool) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	handle := e.handle
	r.mu.Unlock()

	if err := r.eng.SetPaused(handle, paused); err != nil {
		return err
	}

	if r.store != nil {
		if err := r.store.SetPaused(ctx, id, paused); err != nil {
			r.log.WithField("job_id", id).Warnf("persist paused flag: %v", err)
		}
	}
	r.notify()

	r.log.WithField("job_id", id).Infof("job paused=%t", paused)
	return nil
}

// Tune applies a named profile to a job. Engine rejection is logged and
// swallowed; tuning is best effort and never fails a management flow.
func (r *Registry) Tune(ctx context.Context, id string, profile engine.Profile) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	handle := e.handle
	r.mu.Unlock()

	if err := r.eng.ApplyProfile(handle, profile); err != nil {
		r.log.WithField("job_id", id).Warnf("apply %s profile: %v", profile, err)
	}
	return nil
}

// Get returns the last published record for one job.
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return e.job, nil
}

// Count reports how many jobs are tracked.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Snapshot samples every job in insertion order and returns the fresh
// list. A failed read keeps that job's previous record so one bad job
// never hides the others. Completion is detected here: the first sample
// showing a finished, seeding torrent flips the super-seeding latch and
// applies the seed profile exactly once.
func (r *Registry) Snapshot() []domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Job, 0, len(r.order))
	for _, id := range r.order {
		e := r.jobs[id]
		st, err := r.eng.ReadStatus(e.handle)
		if err != nil {
			r.readFailures++
			r.log.WithField("job_id", id).Warnf("read status: %v", err)
			out = append(out, e.job)
			continue
		}
		r.applySampleLocked(e, st)
		out = append(out, e.job)
	}

	r.latest = out
	r.sampled = true
	return out
}

// applySampleLocked folds one engine sample into the job record. A sample
// from a torrent that has not (re)resolved its metadata carries no name or
// sizes; those fields keep their previous values so a restart does not
// blank out restored records. Caller holds r.mu.
func (r *Registry) applySampleLocked(e *entry, st engine.Status) {
	prev := e.job.State

	e.job.State = st.State
	e.job.DownloadRate = st.DownloadRate
	e.job.UploadRate = st.UploadRate
	e.job.NumPeers = st.Peers
	e.job.NumSeeds = st.Seeds

	if st.Name != domain.NamePending {
		e.job.Name = st.Name
	}
	if st.TotalSize > 0 || e.job.TotalSize == 0 {
		e.job.Progress = st.Progress
		e.job.TotalSize = st.TotalSize
		e.job.Downloaded = st.Downloaded
		e.job.Ratio = st.Ratio
		e.job.ETA = engine.ETA(st.TotalSize, st.Downloaded, st.DownloadRate)
	} else {
		e.job.ETA = -1
	}

	if e.job.SuperSeeding {
		// Latched; later samples never unlatch, even if progress dips.
		return
	}
	if prev == domain.JobStateCompleted || prev == domain.JobStateSeeding {
		return
	}
	if st.Progress >= 1.0 && st.State == domain.JobStateSeeding {
		e.job.SuperSeeding = true
		if err := r.eng.ApplyProfile(e.handle, engine.ProfileSuperSeed); err != nil {
			r.log.WithField("job_id", e.job.ID).Warnf("apply %s profile: %v", engine.ProfileSuperSeed, err)
		}
		if r.store != nil {
			if err := r.store.SetSuperSeeding(context.Background(), e.job.ID, true); err != nil {
				r.log.WithField("job_id", e.job.ID).Warnf("persist super-seeding latch: %v", err)
			}
		}
		r.log.WithField("job_id", e.job.ID).Info("download complete, super-seeding enabled")
	}
}

// Latest returns the most recent snapshot without touching the engine,
// computing one only if nothing has been sampled yet.
func (r *Registry) Latest() []domain.Job {
	r.mu.Lock()
	if r.sampled {
		out := r.latest
		r.mu.Unlock()
		return out
	}
	r.mu.Unlock()
	return r.Snapshot()
}

// Rehydrate re-creates engine jobs for rows persisted by a previous run,
// preserving their ids, options, and insertion order. A row that cannot
// be rebuilt is logged and skipped.
func (r *Registry) Rehydrate(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	rows, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list persisted jobs: %w", err)
	}

	restored := 0
	for _, row := range rows {
		if err := r.rehydrateRow(ctx, row); err != nil {
			r.log.WithField("job_id", row.ID).Warnf("rehydrate: %v", err)
			continue
		}
		restored++
	}
	if restored > 0 {
		r.log.Infof("rehydrated %d job(s)", restored)
	}
	return nil
}

func (r *Registry) rehydrateRow(ctx context.Context, row repository.JobRow) error {
	src, err := rowSource(row)
	if err != nil {
		return err
	}

	handle, err := r.eng.CreateJob(ctx, src, row.Sequential)
	if err != nil {
		return err
	}
	if row.Paused {
		if err := r.eng.SetPaused(handle, true); err != nil {
			r.log.WithField("job_id", row.ID).Warnf("re-pause: %v", err)
		}
	}

	name := row.Name
	if name == "" {
		name = domain.NamePending
	}
	job := domain.Job{
		ID:           row.ID,
		Name:         name,
		State:        domain.JobStateChecking,
		Progress:     row.Progress,
		TotalSize:    row.TotalSize,
		Downloaded:   row.Downloaded,
		ETA:          -1,
		SuperSeeding: row.SuperSeeding,
		Sequential:   row.Sequential,
		AddedAt:      row.AddedAt,
	}

	r.mu.Lock()
	r.jobs[job.ID] = &entry{handle: handle, job: job}
	r.order = append(r.order, job.ID)
	r.mu.Unlock()

	if !row.Paused {
		if err := r.Tune(ctx, job.ID, engine.ProfileBoost); err != nil {
			r.log.WithField("job_id", job.ID).Warnf("boost profile: %v", err)
		}
	}
	return nil
}

// rowSource rebuilds the engine source from a persisted row, preferring
// stored metainfo over re-fetching anything.
func rowSource(row repository.JobRow) (engine.Source, error) {
	if len(row.Metainfo) > 0 {
		src, err := engine.SourceFromBytes(row.Metainfo)
		if err != nil {
			return engine.Source{}, err
		}
		src.Kind = engine.SourceKind(row.SourceKind)
		src.Value = row.Source
		return src, nil
	}
	return engine.ParseSource(row.Source)
}

// persist writes the initial row for a new job. Failures are logged, not
// surfaced; a job that cannot be persisted still runs.
func (r *Registry) persist(ctx context.Context, job domain.Job, src engine.Source) {
	if r.store == nil {
		return
	}
	row := repository.JobRow{
		ID:           job.ID,
		SourceKind:   string(src.Kind),
		Source:       src.Value,
		Metainfo:     src.Metainfo,
		Name:         job.Name,
		Sequential:   job.Sequential,
		SuperSeeding: job.SuperSeeding,
		State:        string(job.State),
		Progress:     job.Progress,
		TotalSize:    job.TotalSize,
		Downloaded:   job.Downloaded,
		AddedAt:      job.AddedAt,
	}
	if err := r.store.Save(ctx, row); err != nil {
		r.log.WithField("job_id", job.ID).Warnf("persist job: %v", err)
	}
}

// Close writes a final sample for each tracked job so the next run starts
// from recent numbers. Engine shutdown is owned by main.
func (r *Registry) Close(ctx context.Context) {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	jobs := make([]domain.Job, 0, len(r.order))
	for _, id := range r.order {
		jobs = append(jobs, r.jobs[id].job)
	}
	r.mu.Unlock()

	for _, j := range jobs {
		if err := r.store.UpdateSample(ctx, j.ID, string(j.State), j.Name, j.Progress, j.TotalSize, j.Downloaded); err != nil {
			r.log.WithField("job_id", j.ID).Warnf("persist final sample: %v", err)
		}
	}
}
