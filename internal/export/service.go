package export

import (
	"fmt"
	"time"

	"redline/api/internal/document"
	"redline/api/internal/issue"
)

// Service assembles compliance reports from document snapshots.
type Service struct{}

func NewService() *Service {
	return &Service{}
}

// BuildReport groups a snapshot's issues by paragraph and tallies severities.
// Issues without a paragraph id land in the document-wide section.
func BuildReport(snap document.Snapshot, saveStatus string, includeIssues bool) Report {
	report := Report{
		DocumentID:  snap.DocumentID,
		Title:       snap.Title,
		Version:     snap.Version,
		SaveStatus:  saveStatus,
		GeneratedAt: time.Now(),
	}

	byParagraph := make(map[string][]ReportIssue)
	if includeIssues {
		for _, is := range snap.Issues {
			ri := ReportIssue{
				ID:       is.ID,
				Severity: string(is.Severity),
				Category: is.Category,
				Message:  is.Message,
				HasFix:   is.HasFix,
			}
			switch is.Severity {
			case issue.SeverityCritical:
				report.CriticalCount++
			case issue.SeverityMajor:
				report.MajorCount++
			case issue.SeverityMinor:
				report.MinorCount++
			}
			if is.ParagraphID == "" {
				report.DocumentWide = append(report.DocumentWide, ri)
				continue
			}
			byParagraph[is.ParagraphID] = append(byParagraph[is.ParagraphID], ri)
		}
	}

	for _, p := range snap.Paragraphs {
		report.Paragraphs = append(report.Paragraphs, ReportParagraph{
			ID:     p.ID,
			Index:  p.Index,
			Text:   p.Text,
			Issues: byParagraph[p.ID],
		})
	}
	return report
}

// Export renders the snapshot as a compliance report in the requested
// format.
func (s *Service) Export(snap document.Snapshot, saveStatus string, req Request) (*Result, error) {
	report := BuildReport(snap, saveStatus, req.IncludeIssues)

	html, err := RenderReportHTML(report)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	switch req.Format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(snap.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(html, snap.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
}
