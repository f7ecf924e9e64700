package domain

const (
	BagStatusComplete = "complete"
	BagStatusPartial  = "partial"
	BagStatusFailed   = "failed"
	BagStatusEmpty    = "empty"
)

// SourceObject is one source image discovered under a bag.
type SourceObject struct {
	Key       string `json:"key"`
	Bag       string `json:"bag"`
	Stem      string `json:"stem"`
	Extension string `json:"extension"`
}

// ManifestEntry records the outcome for a single source file. A non-empty
// Error marks the file as failed.
type ManifestEntry struct {
	SourceKey string   `json:"source_key"`
	Filename  string   `json:"filename,omitempty"`
	LocalPath string   `json:"local_path,omitempty"`
	RemoteKey string   `json:"remote_key,omitempty"`
	Format    string   `json:"format"`
	Filter    string   `json:"filter,omitempty"`
	Scale     *float64 `json:"scale,omitempty"`
	Crop      *Crop    `json:"crop,omitempty"`
	Width     int      `json:"width,omitempty"`
	Height    int      `json:"height,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (e ManifestEntry) Failed() bool {
	return e.Error != ""
}

type BagResult struct {
	Bag          string          `json:"bag"`
	Status       string          `json:"status"`
	Error        string          `json:"error,omitempty"`
	CatalogError string          `json:"catalog_error,omitempty"`
	Entries      []ManifestEntry `json:"entries"`
}

// Succeeded counts the entries that produced a derivative.
func (b BagResult) Succeeded() int {
	n := 0
	for _, entry := range b.Entries {
		if !entry.Failed() {
			n++
		}
	}
	return n
}

// TaskResult is returned to the task framework. An empty DestBucket means
// nothing was published remotely.
type TaskResult struct {
	TaskID     string      `json:"task_id"`
	Tag        string      `json:"tag"`
	Bags       []string    `json:"bags"`
	LocalRef   string      `json:"local_ref"`
	DestBucket string      `json:"dest_bucket,omitempty"`
	DestPrefix string      `json:"dest_prefix,omitempty"`
	Results    []BagResult `json:"results"`
}

// Complete reports whether every bag finished without file or catalog
// errors. Bags with no sources count as complete.
func (r TaskResult) Complete() bool {
	for _, bag := range r.Results {
		if bag.CatalogError != "" {
			return false
		}
		if bag.Status != BagStatusComplete && bag.Status != BagStatusEmpty {
			return false
		}
	}
	return true
}
