package models

// Chunk is a labeled slice of a source file prepared for embedding.
// Text carries the provenance header followed by the chunk body.
type Chunk struct {
	Path      string `json:"path"`
	Label     string `json:"label"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Text      string `json:"text"`
}

// QueryResult is a single ranked retrieval hit. Distance is the cosine
// distance to the query vector; smaller is closer.
type QueryResult struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Distance float64 `json:"distance"`
}

// IngestResult summarizes one ingestion run.
type IngestResult struct {
	Repository   string `json:"canonical_github_url"`
	Collection   string `json:"collection"`
	FilesScanned int    `json:"files_scanned"`
	FilesSkipped int    `json:"files_skipped"`
	Chunks       int    `json:"chunks"`
	Stored       int    `json:"stored"`
}
