package paperless

import "strings"

// Document is the subset of a Paperless-ngx document the retitler needs
type Document struct {
	ID               int    `json:"id"`
	Title            string `json:"title"`
	Content          string `json:"content"`
	Created          string `json:"created"`
	OriginalFileName string `json:"original_file_name"`
	OriginalMIMEType string `json:"original_mime_type"`
	MIMEType         string `json:"mime_type"`
	MediaType        string `json:"media_type"`
}

// DeclaredMIMEType returns the first MIME type present on the document
// itself, lower-cased
func (d Document) DeclaredMIMEType() string {
	for _, v := range []string{d.OriginalMIMEType, d.MIMEType, d.MediaType} {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			return v
		}
	}
	return ""
}

// Filter narrows a document listing by creation date (YYYY-MM-DD, exclusive)
type Filter struct {
	NewerThan string
	OlderThan string
	PageSize  int
}

// documentPage is one page of /api/documents/
type documentPage struct {
	Count    int        `json:"count"`
	Next     *string    `json:"next"`
	Previous *string    `json:"previous"`
	Results  []Document `json:"results"`
}

// Metadata is the subset of /api/documents/{id}/metadata/ used for MIME probing
type Metadata struct {
	OriginalMIMEType string `json:"original_mime_type"`
	OriginalFilename string `json:"original_filename"`
	MediaFilename    string `json:"media_filename"`
}

type titlePatch struct {
	Title string `json:"title"`
}
