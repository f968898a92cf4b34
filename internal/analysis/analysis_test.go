package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/prism/internal/intake"
)

func TestRoute(t *testing.T) {
	cases := []struct {
		name string
		in   RouteInput
		want string
	}{
		{"valuation job", RouteInput{JobType: intake.JobValuation}, TypeLandAnalysis},
		{"land category", RouteInput{JobType: intake.JobDocumentAnalysis, InvestmentCategory: "land"}, TypeLandAnalysis},
		{"ocr job", RouteInput{JobType: intake.JobOCR, Filename: "contract.pdf"}, TypeOCR},
		{"summarization job", RouteInput{JobType: intake.JobSummarization}, TypeSummarization},
		{"contract filename", RouteInput{JobType: intake.JobDocumentAnalysis, Filename: "Land_Contract_2024.pdf"}, TypeContractExtract},
		{"receipt filename", RouteInput{JobType: intake.JobDocumentAnalysis, Filename: "recibo-042.jpg"}, TypeReceiptExtract},
		{"plain image defaults to ocr", RouteInput{JobType: intake.JobDocumentAnalysis, Filename: "scan001.jpg", MIMEType: "image/jpeg"}, TypeOCR},
		{"deed image stays document analysis", RouteInput{JobType: intake.JobDocumentAnalysis, Filename: "escritura_lote4.jpg", MIMEType: "image/jpeg"}, TypeDocumentAnalysis},
		{"pdf defaults to document analysis", RouteInput{JobType: intake.JobDocumentAnalysis, Filename: "statement.pdf", MIMEType: "application/pdf"}, TypeDocumentAnalysis},
		{"custom job defaults to document analysis", RouteInput{JobType: intake.JobCustom}, TypeDocumentAnalysis},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Route(tc.in))
		})
	}
}

func TestPromptFor(t *testing.T) {
	assert.Equal(t, "analyze the thing", PromptFor(TypeOCR, "analyze the thing"))
	assert.Contains(t, PromptFor(TypeLandAnalysis, ""), "Zoning")
	// Unknown types fall back to the general prompt.
	assert.Equal(t, PromptFor(TypeDocumentAnalysis, ""), PromptFor("nonsense", ""))
}

func TestParseStructuredJSONBlock(t *testing.T) {
	text := "Here is the extraction:\n```json\n{\"vendor\": \"ACME\", \"total\": 99.5}\n```\nDone."
	structured, _, _, _ := ParseStructured(text)
	assert.Equal(t, "ACME", structured["vendor"])
}

func TestParseStructuredBareJSON(t *testing.T) {
	structured, _, _, _ := ParseStructured(`{"parties": ["A", "B"]}`)
	require.Contains(t, structured, "parties")
}

func TestParseStructuredProse(t *testing.T) {
	text := "Purchase Price: $150,000\nSigning Date: 12/05/2024\nSeller: Maria Souza\nAlso paid R$ 2.500 in fees on 2024-05-12."
	structured, entities, dates, amounts := ParseStructured(text)

	assert.Empty(t, structured)
	assert.Equal(t, "Maria Souza", entities["Seller"])

	found, ok := amounts["amounts_found"].([]string)
	require.True(t, ok)
	assert.Len(t, found, 2)

	foundDates, ok := dates["dates_found"].([]string)
	require.True(t, ok)
	assert.Contains(t, foundDates, "12/05/2024")
	assert.Contains(t, foundDates, "2024-05-12")
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, "short", Summarize("  short  ", 100))

	long := "First sentence about the deal. Second sentence with more detail that runs past the limit entirely."
	s := Summarize(long, 40)
	assert.Equal(t, "First sentence about the deal.", s)
}

func TestQualityFlags(t *testing.T) {
	assert.Equal(t, []string{"no_structured_data"}, QualityFlags(TypeContractExtract, nil))

	flags := QualityFlags(TypeContractExtract, map[string]any{"total": 10})
	assert.NotEmpty(t, flags)

	assert.Empty(t, QualityFlags(TypeContractExtract, map[string]any{
		"parties": []any{map[string]any{"name": "A"}},
	}))

	// Types without a schema only get the emptiness check.
	assert.Empty(t, QualityFlags(TypeOCR, map[string]any{"text": "hi"}))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("")
	assert.Error(t, err)

	r.Register(stubProvider{name: "gemini"})
	r.Register(stubProvider{name: "openai"})

	p, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "gemini", p.Name())

	p, err = r.Get("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = r.Get("claude")
	assert.Error(t, err)

	assert.Equal(t, []string{"gemini", "openai"}, r.Names())
}

func TestRetryableClassification(t *testing.T) {
	for _, kind := range []ErrorKind{KindTimeout, KindRateLimited, KindAuth, KindMalformed} {
		err := &ProviderError{Provider: "gemini", Kind: kind, Err: context.DeadlineExceeded}
		assert.True(t, Retryable(err), "kind %s", kind)
	}
	assert.False(t, Retryable(&ProviderError{Provider: "gemini", Kind: KindInvalidInput}))
	assert.True(t, Retryable(context.DeadlineExceeded))
}

type stubProvider struct{ name string }

func (s stubProvider) Name() string { return s.name }
func (s stubProvider) Analyze(context.Context, Input) (*Output, error) {
	return &Output{RawText: "ok"}, nil
}
