// Package export renders compliance reports: the document's paragraphs with
// every outstanding issue, as standalone HTML or as PDF via headless Chrome.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format.
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatHTML Format = "html"
)

// Request contains parameters for an export operation.
type Request struct {
	DocumentID    string
	Format        Format
	IncludeIssues bool
}

// ReportParagraph is one paragraph with the issues attached to it.
type ReportParagraph struct {
	ID     string
	Index  int
	Text   string
	Issues []ReportIssue
}

// ReportIssue is one finding shown in the report.
type ReportIssue struct {
	ID       string
	Severity string
	Category string
	Message  string
	HasFix   bool
}

// Report is the assembled input to rendering.
type Report struct {
	DocumentID    string
	Title         string
	Version       int
	SaveStatus    string
	GeneratedAt   time.Time
	Paragraphs    []ReportParagraph
	DocumentWide  []ReportIssue
	CriticalCount int
	MajorCount    int
	MinorCount    int
}

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrUnsupportedFormat indicates an unknown export format was requested.
	ErrUnsupportedFormat = errors.New("export format unsupported")
)
