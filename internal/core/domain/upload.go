package domain

// UploadRequest is one image submission. It is consumed by a single Submit call.
type UploadRequest struct {
	Image      []byte
	FileName   string
	MimeType   string
	Credential string
}
