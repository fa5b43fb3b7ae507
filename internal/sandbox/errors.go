package sandbox

import "fmt"

// PathError reports a path that failed sandbox validation.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("path %q rejected: %s", e.Path, e.Reason)
}

// URLError reports a URL that failed sandbox validation.
type URLError struct {
	URL    string
	Reason string
}

func (e *URLError) Error() string {
	return fmt.Sprintf("url %q rejected: %s", e.URL, e.Reason)
}
