// Riley CMS is a self-hosted headless content service.
// Copyright (C) 2026  Riley CMS Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package content

import (
	"fmt"
	"sync"
	"sync/atomic"

	"rileycms/internal/config"
)

// Store owns the current content Index and swaps it wholesale on reload.
// Readers take an immutable snapshot that stays valid across later swaps;
// reloads serialize so at most one filesystem walk runs at a time.
type Store struct {
	cfg config.ContentConfig

	reloadMu sync.Mutex
	idx      atomic.Pointer[Index]
}

// NewStore loads the initial index from disk.
func NewStore(cfg config.ContentConfig) (*Store, error) {
	idx, err := Load(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load content: %w", err)
	}
	s := &Store{cfg: cfg}
	s.idx.Store(idx)
	return s, nil
}

// Snapshot returns the current index. The returned value is never mutated;
// a concurrent Reload publishes a fresh Index instead.
func (s *Store) Snapshot() *Index {
	return s.idx.Load()
}

// Reload re-walks the content tree and atomically publishes the new index.
// On failure the previous index stays in place.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	idx, err := Load(s.cfg)
	if err != nil {
		return fmt.Errorf("failed to reload content: %w", err)
	}
	s.idx.Store(idx)
	return nil
}

// ETag returns the entity tag of the current snapshot.
func (s *Store) ETag() string {
	return s.Snapshot().ETag()
}
