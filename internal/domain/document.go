package domain

import "time"

type FileType string

const (
	FileTypeImage FileType = "image"
	FileTypePDF   FileType = "pdf"
)

func (t FileType) Valid() bool {
	return t == FileTypeImage || t == FileTypePDF
}

type DocumentStatus string

const (
	StatusUploading            DocumentStatus = "uploading"
	StatusProcessingExtraction DocumentStatus = "processing_extraction"
	StatusProcessingSummary    DocumentStatus = "processing_summary"
	StatusCompleted            DocumentStatus = "completed"
	StatusFailed               DocumentStatus = "failed"
)

// statusRank orders the forward path; failed sits outside it.
var statusRank = map[DocumentStatus]int{
	StatusUploading:            0,
	StatusProcessingExtraction: 1,
	StatusProcessingSummary:    2,
	StatusCompleted:            3,
}

func (s DocumentStatus) Valid() bool {
	if s == StatusFailed {
		return true
	}
	_, ok := statusRank[s]
	return ok
}

func (s DocumentStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a document may move from one status to another.
// The path only moves one step forward at a time and failed is reachable from
// any non-terminal status. Terminal statuses accept nothing.
func CanTransition(from, to DocumentStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return statusRank[to] == statusRank[from]+1
}

// Supersedes reports whether a snapshot in status s may replace a snapshot in
// status current. Snapshots never move backwards and a terminal snapshot is
// only replaced by the same status.
func (s DocumentStatus) Supersedes(current DocumentStatus) bool {
	if !s.Valid() || !current.Valid() {
		return true
	}
	if current.IsTerminal() {
		return s == current
	}
	if s == StatusFailed {
		return true
	}
	return statusRank[s] >= statusRank[current]
}

// Document is the lifecycle record of one uploaded file.
type Document struct {
	ID            string
	OwnerID       string
	DisplayName   string
	FileType      FileType
	Status        DocumentStatus
	ExtractedText string
	Summary       string
	ErrorMessage  string
	SourceURI     string
	PageCount     int
	SizeBytes     int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (d *Document) HasSummary() bool {
	return d != nil && d.Summary != ""
}

// Clone returns a copy safe to hand across goroutines.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	clone := *d
	return &clone
}

// Update is a status transition plus the fields written alongside it.
// Empty strings leave the stored value untouched.
type Update struct {
	Status        DocumentStatus
	ExtractedText string
	Summary       string
	ErrorMessage  string
	SourceURI     string
}

// Apply writes the update onto doc. Write-once fields keep their first value.
func (u Update) Apply(doc *Document, now time.Time) {
	doc.Status = u.Status
	if u.ExtractedText != "" && doc.ExtractedText == "" {
		doc.ExtractedText = u.ExtractedText
	}
	if u.Summary != "" && doc.Summary == "" {
		doc.Summary = u.Summary
	}
	if u.ErrorMessage != "" {
		doc.ErrorMessage = u.ErrorMessage
	}
	if u.SourceURI != "" && doc.SourceURI == "" {
		doc.SourceURI = u.SourceURI
	}
	doc.UpdatedAt = now
}
