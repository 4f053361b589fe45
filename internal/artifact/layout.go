// Package artifact owns the on-disk layout of harvested artifacts: raw
// document snapshots under html_data/ and raw structured records under
// raw_data/. The normalization stage reads raw_data/ as its sole input.
package artifact

import (
	"crypto/sha1" // #nosec G505 -- used for short filename digests, not security.
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
)

// Directory names inside the output root.
const (
	DocumentDir = "html_data"
	RecordDir   = "raw_data"

	documentExt     = ".html"
	maxDocumentBase = 200
)

// nonWordChars matches everything outside letters, digits, '_', '-', '.' and space.
var nonWordChars = regexp.MustCompile(`[^\p{L}\p{N}_\-. ]`)

// SanitizeURL turns a URL into a filesystem-safe basename by replacing every
// non-word character with '_'. Names that would exceed filesystem limits are
// truncated and suffixed with a digest of the full URL.
func SanitizeURL(rawURL string) string {
	name := nonWordChars.ReplaceAllString(rawURL, "_")
	if len(name) <= maxDocumentBase {
		return name
	}
	sum := sha1.Sum([]byte(rawURL)) // #nosec G401 -- naming only.
	digest := hex.EncodeToString(sum[:])[:16]
	cut := maxDocumentBase - len(digest) - 1
	// Back off to a rune boundary.
	for cut > 0 && !isRuneStart(name[cut]) {
		cut--
	}
	return name[:cut] + "_" + digest
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// DocumentPath returns the relative path of the document snapshot for rawURL.
func DocumentPath(rawURL string) string {
	return path.Join(DocumentDir, SanitizeURL(rawURL)+documentExt)
}

// RecordPath returns the relative path of the structured record for id.
func RecordPath(providerID string) string {
	return path.Join(RecordDir, fmt.Sprintf("provider_%s.json", providerID))
}
