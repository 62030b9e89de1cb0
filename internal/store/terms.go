package store

import (
	"context"

	"github.com/cockroachdb/errors"

	"vocab-ingest/internal/models"
)

// UpsertTerm inserts a term keyed by (source, uri) or touches its updated_at.
// The xmax = 0 check distinguishes a fresh insert from a conflict update.
func (s *Store) UpsertTerm(ctx context.Context, sourceID, uri string) (int64, bool, error) {
	var (
		id       int64
		inserted bool
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO terms (source_id, uri) VALUES ($1, $2)
		ON CONFLICT (source_id, uri) DO UPDATE SET updated_at = NOW()
		RETURNING id, (xmax = 0) AS inserted
	`, sourceID, uri).Scan(&id, &inserted)
	if err != nil {
		return 0, false, errors.Wrap(err, "upsert term")
	}
	return id, inserted, nil
}

// InsertTermField inserts a term field if its natural key is new. Existing
// rows are returned untouched so downstream translations are preserved.
func (s *Store) InsertTermField(ctx context.Context, termID int64, fieldURI string, role models.FieldRole, value string) (int64, bool, error) {
	var (
		id       int64
		inserted bool
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO term_fields (term_id, field_uri, field_role, original_value)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (term_id, field_uri, original_value) DO UPDATE SET field_role = EXCLUDED.field_role
		RETURNING id, (xmax = 0) AS inserted
	`, termID, fieldURI, role, value).Scan(&id, &inserted)
	if err != nil {
		return 0, false, errors.Wrap(err, "insert term field")
	}
	return id, inserted, nil
}

// InsertTranslation records an original-language value for a translatable
// field. Conflicts are ignored: community translations always win over
// re-ingested originals.
func (s *Store) InsertTranslation(ctx context.Context, termFieldID int64, language, value string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO translations (term_field_id, language, value, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (term_field_id, language) DO NOTHING
	`, termFieldID, language, value, models.TranslationStatusOriginal)
	if err != nil {
		return false, errors.Wrap(err, "insert translation")
	}
	return tag.RowsAffected() == 1, nil
}

// CountTermFieldsForSource returns the number of term_fields rows under a
// source. Used by operators to verify sync idempotence.
func (s *Store) CountTermFieldsForSource(ctx context.Context, sourceID string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM term_fields tf
		JOIN terms t ON t.id = tf.term_id
		WHERE t.source_id = $1
	`, sourceID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count term fields")
	}
	return n, nil
}
