package llm

// Image is a generated image reference.
type Image struct {
	ImageURL ImageURL `json:"image_url"`
}

// NewImage wraps a URL or data URI as an Image.
func NewImage(url string) Image {
	return Image{ImageURL: ImageURL{URL: url}}
}

// Result is the normalized outcome of one generation call.
//
// A provider that declines the request (bad key, quota, safety block) yields
// a Result with Error set and Content empty, so callers must check both.
type Result struct {
	Content string  `json:"content"`
	Error   string  `json:"error,omitempty"`
	Images  []Image `json:"images,omitempty"`
}

// Failed reports whether the provider returned an error.
func (r *Result) Failed() bool {
	return r.Error != ""
}
