package harvest

import (
	"fmt"
	"regexp"
	"strings"
)

// providerIDPattern matches "-<digits>" optionally followed by one lowercase
// letter and a path separator, e.g. ".../dr-jane-doe-48213/" or "-48213a/".
var providerIDPattern = regexp.MustCompile(`-(\d+)[a-z]?/`)

// ExtractProviderID returns the trailing numeric identifier embedded in a
// resource URL. When several segments match, the last one wins.
func ExtractProviderID(rawURL string) (string, bool) {
	matches := providerIDPattern.FindAllStringSubmatch(rawURL, -1)
	if len(matches) == 0 {
		return "", false
	}
	return matches[len(matches)-1][1], true
}

// NewTask validates rawURL and builds a task ready for dispatch.
func NewTask(rawURL string) (Task, error) {
	rawURL = strings.TrimSpace(rawURL)
	id, ok := ExtractProviderID(rawURL)
	if !ok {
		return Task{URL: rawURL}, fmt.Errorf("%w: %s", ErrUnparseableURL, rawURL)
	}
	return Task{URL: rawURL, ProviderID: id}, nil
}
