package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// embeddingFeature is the reserved feature name for a unit's
// embedding. Nothing in this module reads it: the staging buffer's
// merge-on resolution does not consult embeddings.
const embeddingFeature = "meta:embedding"

// vecTable returns the name of the per-unit-type vec0 virtual table
// used to hold previously-imported embeddings for that type.
func vecTable(unitType string) string {
	return "vec_" + unitType
}

// EnsureVecTable creates the vec0 virtual table backing nearest-
// neighbor tie-break for unitType if it does not already exist. dim is
// the embedding's fixed dimensionality; callers must be consistent
// about it per unit type.
func (s *Store) EnsureVecTable(unitType string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(unit_id INTEGER PRIMARY KEY, embedding FLOAT[%d])`,
		vecTable(unitType), dim,
	)
	if _, err := s.conn().Exec(q); err != nil {
		return fmt.Errorf("store: ensure vec table for %s: %w", unitType, err)
	}
	return nil
}

// IndexEmbedding records id's embedding for later nearest-neighbor
// lookups against other units of the same type.
func (s *Store) IndexEmbedding(unitType string, id int64, embedding []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	enc, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("store: encode embedding for unit %d: %w", id, err)
	}
	_, err = s.conn().Exec(
		fmt.Sprintf(`INSERT OR REPLACE INTO %s(unit_id, embedding) VALUES (?, ?)`, vecTable(unitType)),
		id, string(enc),
	)
	if err != nil {
		return fmt.Errorf("store: index embedding for unit %d: %w", id, err)
	}
	return nil
}

// NearestCandidate narrows candidates to the single id whose indexed
// embedding is closest (by L2 distance) to query. Returns ok=false if
// none of candidates has an indexed embedding. The staging buffer does
// not call it; its merge-on resolution keeps the first remaining
// candidate.
func (s *Store) NearestCandidate(unitType string, query []float32, candidates []int64) (id int64, ok bool, err error) {
	if len(candidates) == 0 {
		return 0, false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	enc, err := json.Marshal(query)
	if err != nil {
		return 0, false, fmt.Errorf("store: encode query embedding: %w", err)
	}
	placeholders := make([]any, 0, len(candidates)+1)
	q := fmt.Sprintf(
		`SELECT unit_id FROM %s WHERE unit_id IN (`, vecTable(unitType),
	)
	for i, c := range candidates {
		if i > 0 {
			q += ","
		}
		q += "?"
		placeholders = append(placeholders, c)
	}
	q += `) AND embedding MATCH ? ORDER BY distance LIMIT 1`
	placeholders = append(placeholders, string(enc))

	var winner int64
	row := s.conn().QueryRow(q, placeholders...)
	switch err := row.Scan(&winner); err {
	case nil:
		return winner, true, nil
	case sql.ErrNoRows:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("store: nearest candidate for %s: %w", unitType, err)
	}
}
