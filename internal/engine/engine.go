package engine

import (
	"context"

	"torrentd/internal/domain"
)

// Handle is an opaque reference to one job inside the engine. The registry
// stores it and hands it back on later calls; nothing else inspects it.
type Handle interface{}

// Profile names a tuning preset applied to a job.
type Profile string

const (
	// ProfileBoost is applied at creation: an extra tracker wave and a
	// raised connection cap to speed up swarm entry.
	ProfileBoost Profile = "boost"

	// ProfileSuperSeed is applied once when a job first reaches full
	// progress: a fresh announce wave and a higher connection cap for
	// the seeding phase.
	ProfileSuperSeed Profile = "super-seed"
)

// Status is one sample of engine truth for a job.
type Status struct {
	State        domain.JobState
	Name         string
	Progress     float64
	DownloadRate int64
	UploadRate   int64
	TotalSize    int64
	Downloaded   int64
	Uploaded     int64
	Peers        int
	Seeds        int
	Ratio        float64
}

// Adapter is the narrow engine surface the registry consumes. The real
// implementation wraps anacrolix/torrent; tests substitute fakes.
type Adapter interface {
	// CreateJob attaches a validated source to the engine and returns a
	// handle for it. Metadata resolution continues in the background.
	CreateJob(ctx context.Context, src Source, sequential bool) (Handle, error)

	// DestroyJob detaches the job and, when asked, removes its payload
	// from disk.
	DestroyJob(h Handle, deletePayload bool) error

	// SetPaused halts or restarts transfer activity for the job. Paused
	// jobs keep serving their last observed counters from ReadStatus.
	SetPaused(h Handle, paused bool) error

	// ReadStatus reports current engine counters for the job. It must
	// not block on network activity.
	ReadStatus(h Handle) (Status, error)

	// ApplyProfile applies a named tuning preset to the job.
	ApplyProfile(h Handle, profile Profile) error
}
