package domain

import "time"

// CatalogRecord is the external metadata document for a bag.
type CatalogRecord struct {
	ID          string                     `json:"_id,omitempty"`
	Bag         string                     `json:"bag"`
	Department  string                     `json:"department,omitempty"`
	Project     string                     `json:"project,omitempty"`
	Locations   Locations                  `json:"locations"`
	Derivatives map[string][]ManifestEntry `json:"derivatives"`
	UpdatedAt   time.Time                  `json:"updated_at,omitempty"`
}

type Locations struct {
	S3      S3Location   `json:"s3"`
	NAS     PathLocation `json:"nas"`
	NorFile PathLocation `json:"norfile"`
}

type S3Location struct {
	Exists bool   `json:"exists"`
	Bucket string `json:"bucket,omitempty"`
	Key    string `json:"key,omitempty"`
}

type PathLocation struct {
	Exists   bool   `json:"exists"`
	Location string `json:"location,omitempty"`
}

// Origin seeds a new catalog record.
type Origin struct {
	Department string
	Project    string
	Locations  Locations
}
