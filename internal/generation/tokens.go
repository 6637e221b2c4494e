package generation

// Token estimation fallback, used only when the provider reports no
// usage metadata. These are rough heuristics, not exact counts.
const (
	averageTokensPerPage = 258
	charsPerPage         = 1800
)

// EstimateInputTokens approximates prompt tokens from a page count, or
// from the input length when no page count is known.
func EstimateInputTokens(pages, inputLen int) int {
	if pages <= 0 {
		pages = inputLen / charsPerPage
		if inputLen%charsPerPage != 0 || pages == 0 {
			pages++
		}
	}
	return pages * averageTokensPerPage
}

// EstimateOutputTokens approximates output tokens as ceil(len/4).
func EstimateOutputTokens(outputLen int) int {
	return (outputLen + 3) / 4
}
