package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
	"time"
)

// StateFile holds the page-walk checkpoint.
const StateFile = "progress.json"

// StateStore is the slice of a blob store discovery needs for its files.
type StateStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	DeleteObject(ctx context.Context, path string) error
}

// walkState records, per resource type, the <loc> lists of the pages already
// fetched and whether the sitemap has been exhausted.
type walkState struct {
	Types map[string]*typeProgress `json:"types"`
}

type typeProgress struct {
	Pages     [][]string `json:"pages"`
	Done      bool       `json:"done"`
	Stop      string     `json:"stop,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func newWalkState() *walkState {
	return &walkState{Types: make(map[string]*typeProgress)}
}

func (s *walkState) progress(resourceType string) *typeProgress {
	p, ok := s.Types[resourceType]
	if !ok || p == nil {
		p = &typeProgress{}
		s.Types[resourceType] = p
	}
	return p
}

// restartFinished drops the saved pages of every type whose sitemap was
// exhausted, so it is walked again from page 0. Unfinished types keep their
// pages and resume where they stopped.
func (s *walkState) restartFinished() []string {
	var restarted []string
	for resourceType, p := range s.Types {
		if p != nil && p.Done {
			delete(s.Types, resourceType)
			restarted = append(restarted, resourceType)
		}
	}
	sort.Strings(restarted)
	return restarted
}

func loadWalkState(ctx context.Context, store StateStore) (*walkState, error) {
	raw, err := store.GetObject(ctx, StateFile)
	if errors.Is(err, fs.ErrNotExist) {
		return newWalkState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", StateFile, err)
	}
	state := newWalkState()
	if err := json.Unmarshal(raw, state); err != nil {
		return nil, fmt.Errorf("decode %s: %w", StateFile, err)
	}
	if state.Types == nil {
		state.Types = make(map[string]*typeProgress)
	}
	return state, nil
}

func saveWalkState(ctx context.Context, store StateStore, state *walkState) error {
	raw, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", StateFile, err)
	}
	if _, err := store.PutObject(ctx, StateFile, "application/json", bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("save %s: %w", StateFile, err)
	}
	return nil
}
