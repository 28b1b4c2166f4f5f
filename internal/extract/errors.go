package extract

import "errors"

var (
	ErrProviderUnavailable = errors.New("extraction provider unavailable")
	ErrExtractionTimeout   = errors.New("extraction timeout")
	ErrUnreadableDocument  = errors.New("document could not be parsed")
)
