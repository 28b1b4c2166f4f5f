// Package upload validates user-selected files before any network call or
// disk write. Validation is a pure function over file metadata so the same
// gate runs client-side (pre-flight) and server-side (multipart handler).
package upload

// Rejection reasons returned by Gate.Check.
const (
	ReasonUnsupportedType = "unsupported_type"
	ReasonTooLarge        = "too_large"
	ReasonEmptySelection  = "empty_selection"
)

// DefaultMaxSize is the upload size ceiling: 10 MiB.
const DefaultMaxSize = 10 << 20

// DefaultAcceptedTypes covers the document formats the extraction backend
// understands.
var DefaultAcceptedTypes = []string{
	"application/pdf",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"image/png",
	"image/jpeg",
}

// FileInfo is the metadata Gate validates. It deliberately excludes content:
// the gate must be cheap enough to run before reading a single byte.
type FileInfo struct {
	Name        string
	Size        int64
	ContentType string
}

// Result is the outcome of a gate check. Reason is empty when Valid.
type Result struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// Gate holds the accepted MIME set and size ceiling. The zero value is not
// usable; construct with NewGate.
type Gate struct {
	accepted map[string]bool
	maxSize  int64
}

// NewGate builds a gate. Empty acceptedTypes falls back to
// DefaultAcceptedTypes; non-positive maxSize falls back to DefaultMaxSize.
func NewGate(acceptedTypes []string, maxSize int64) *Gate {
	if len(acceptedTypes) == 0 {
		acceptedTypes = DefaultAcceptedTypes
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	accepted := make(map[string]bool, len(acceptedTypes))
	for _, t := range acceptedTypes {
		accepted[t] = true
	}
	return &Gate{accepted: accepted, maxSize: maxSize}
}

// Check validates file metadata. An empty file is rejected with
// empty_selection, distinct from too_large.
func (g *Gate) Check(f FileInfo) Result {
	if f.Size == 0 {
		return Result{Reason: ReasonEmptySelection}
	}
	if !g.accepted[f.ContentType] {
		return Result{Reason: ReasonUnsupportedType}
	}
	if f.Size > g.maxSize {
		return Result{Reason: ReasonTooLarge}
	}
	return Result{Valid: true}
}
