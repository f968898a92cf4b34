package analysis

// Analysis type names. These name prompts, not job types: routing
// maps a job plus file hints onto one of these.
const (
	TypeDocumentAnalysis = "document_analysis"
	TypeLandAnalysis     = "land_analysis"
	TypeContractExtract  = "contract_extraction"
	TypeReceiptExtract   = "receipt_extraction"
	TypeOCR              = "ocr"
	TypeSummarization    = "summarization"
)

var analysisPrompts = map[string]string{
	TypeDocumentAnalysis: `Analyze this investment document thoroughly. Extract:
1. Document type and purpose
2. Key dates (signing, expiration, etc.)
3. Financial amounts mentioned (purchase price, fees, taxes)
4. Parties involved (buyers, sellers, witnesses)
5. Property/Investment details (location, size, description)
6. Important clauses or conditions
7. Risk factors or red flags

Provide your analysis in a structured format.`,

	TypeLandAnalysis: `Analyze this land-related document. Extract:
1. Exact location (address, city, state, coordinates if available)
2. Land area (in m², hectares, or other units)
3. Zoning information (residential, commercial, agricultural, etc.)
4. Purchase/sale price and currency
5. Ownership details
6. Any restrictions, liens, or encumbrances
7. Soil quality or agricultural potential (if applicable)
8. Access to infrastructure (roads, water, electricity)

Provide specific measurements and values with confidence scores.`,

	TypeContractExtract: `Extract all contract terms from this document:
1. Contract parties and their details
2. Object of the contract
3. Financial terms (price, payment schedule, penalties)
4. Timeline and deadlines
5. Obligations of each party
6. Termination conditions
7. Dispute resolution clauses

Output as structured data with exact quotes where relevant.`,

	TypeReceiptExtract: `Extract receipt information:
1. Vendor/merchant name
2. Date and time of transaction
3. Items/services purchased
4. Total amount and currency
5. Payment method
6. Tax/VAT information
7. Receipt number or reference

Format as structured financial data.`,

	TypeOCR: `Perform OCR on this image/document and extract all visible text.
Maintain the original structure and formatting as much as possible.
Identify sections, headers, and key-value pairs.`,

	TypeSummarization: `Summarize this document in at most 500 words.
Lead with what the document is and who it concerns, then cover the key
financial figures, dates and obligations. Plain prose, no headings.`,
}

// PromptFor returns the prompt text for an analysis type, preferring
// the custom prompt when given. Unknown types fall back to the general
// document analysis prompt.
func PromptFor(analysisType, custom string) string {
	if custom != "" {
		return custom
	}
	if p, ok := analysisPrompts[analysisType]; ok {
		return p
	}
	return analysisPrompts[TypeDocumentAnalysis]
}
