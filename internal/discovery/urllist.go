package discovery

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// URLListFile is the candidate list written once discovery completes.
const URLListFile = "all_urls.txt"

const maxURLLineBytes = 1 << 20

// ReadURLList reads one URL per line, skipping blank lines.
func ReadURLList(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxURLLineBytes)
	var urls []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url list: %w", err)
	}
	return urls, nil
}

// EncodeURLList renders urls one per line with a trailing newline.
func EncodeURLList(urls []string) []byte {
	var buf bytes.Buffer
	for _, u := range urls {
		buf.WriteString(u)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
