package domain

import "time"

// JobState is the lifecycle state of a tracked download.
type JobState string

const (
	JobStateChecking    JobState = "checking"
	JobStateDownloading JobState = "downloading"
	JobStateSeeding     JobState = "seeding"
	JobStatePaused      JobState = "paused"
	JobStateCompleted   JobState = "completed"
	JobStateError       JobState = "error"
)

// NamePending is the placeholder shown until the engine resolves metadata.
const NamePending = "metadata pending"

// Job is the point-in-time record of one tracked download. The json tags
// define the wire contract; push frames and REST responses marshal this
// struct directly so both channels always agree on shape.
type Job struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	State        JobState  `json:"state"`
	Progress     float64   `json:"progress"`
	DownloadRate int64     `json:"download_rate"`
	UploadRate   int64     `json:"upload_rate"`
	TotalSize    int64     `json:"total_size"`
	Downloaded   int64     `json:"downloaded"`
	NumPeers     int       `json:"num_peers"`
	NumSeeds     int       `json:"num_seeds"`
	Ratio        float64   `json:"ratio"`
	ETA          int64     `json:"eta"`
	SuperSeeding bool      `json:"super_seeding_enabled"`
	Sequential   bool      `json:"sequential"`
	AddedAt      time.Time `json:"added_at"`
}

// PushMessageUpdate is the only frame type sent to push subscribers.
const PushMessageUpdate = "update"

// PushMessage is one push frame: a full replacement of the job list,
// never a delta.
type PushMessage struct {
	Type     string `json:"type"`
	Torrents []Job  `json:"torrents"`
}
