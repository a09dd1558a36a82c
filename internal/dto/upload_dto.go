package dto

// UploadResponse describes a stored attachment.
type UploadResponse struct {
	URL       string `json:"url"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
	Kind      string `json:"kind"`
	Checksum  string `json:"checksum"`
	FileName  string `json:"file_name"`
}
