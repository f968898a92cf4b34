package analysis

import (
	"strings"

	"github.com/jonathan/prism/internal/intake"
)

// RouteInput carries the hints routing considers.
type RouteInput struct {
	JobType            intake.JobType
	InvestmentCategory string
	Filename           string
	MIMEType           string
}

// Route picks the effective analysis type for a job. Explicit job
// types win; otherwise the filename and MIME type decide. Images
// default to OCR unless the name marks them as a scanned deed.
func Route(in RouteInput) string {
	filename := strings.ToLower(in.Filename)

	switch {
	case in.JobType == intake.JobValuation || in.InvestmentCategory == "land":
		return TypeLandAnalysis
	case in.JobType == intake.JobOCR:
		return TypeOCR
	case in.JobType == intake.JobSummarization:
		return TypeSummarization
	case strings.Contains(filename, "contract"):
		return TypeContractExtract
	case strings.Contains(filename, "receipt") || strings.Contains(filename, "recibo"):
		return TypeReceiptExtract
	}

	if strings.HasPrefix(in.MIMEType, "image/") {
		for _, marker := range []string{"deed", "escritura", "matricula"} {
			if strings.Contains(filename, marker) {
				return TypeDocumentAnalysis
			}
		}
		return TypeOCR
	}

	return TypeDocumentAnalysis
}
