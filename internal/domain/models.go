package domain

// Supported source media types.
const (
	MediaTypePDF  = "application/pdf"
	MediaTypePNG  = "image/png"
	MediaTypeJPEG = "image/jpeg"
)

// SupportedMediaType reports whether mt can be ingested.
func SupportedMediaType(mt string) bool {
	switch mt {
	case MediaTypePDF, MediaTypePNG, MediaTypeJPEG:
		return true
	}
	return false
}

// PageUnit is one rasterized page of a source document. Units live only
// in memory between the splitter and the page workers; they are never
// persisted.
type PageUnit struct {
	PageNumber int
	Image      []byte
	MediaType  string
}

// PageText is the normalized OCR output for a single page. An empty
// Text is a valid result for a blank page.
type PageText struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}
