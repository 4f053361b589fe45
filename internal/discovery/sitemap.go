package discovery

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// SitemapNamespace is the XML namespace of <loc> elements.
const SitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// ParseSitemap returns the text of every <loc> element in the sitemap
// namespace, at any depth, in document order. The whole document must be
// well-formed.
func ParseSitemap(body []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	var (
		locs    []string
		sawRoot bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse sitemap: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if start.Name.Space != SitemapNamespace || start.Name.Local != "loc" {
			continue
		}
		var loc string
		if err := dec.DecodeElement(&loc, &start); err != nil {
			return nil, fmt.Errorf("parse sitemap loc: %w", err)
		}
		if loc = strings.TrimSpace(loc); loc != "" {
			locs = append(locs, loc)
		}
	}
	if !sawRoot {
		return nil, fmt.Errorf("parse sitemap: no root element")
	}
	return locs, nil
}
