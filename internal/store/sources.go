package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
)

const sourceColumns = `source_id::text, source_path, source_type, graph_name, label_field_uri, reference_field_uris, translatable_field_uris, translation_config, created_at`

// CreateSourceParams collects inputs required to insert a source.
type CreateSourceParams struct {
	Path      string
	Type      models.SourceType
	GraphName string
}

// CreateSource inserts a source row.
func (s *Store) CreateSource(ctx context.Context, p CreateSourceParams) (models.Source, error) {
	if p.Path == "" {
		return models.Source{}, faults.Validationf("source_path is required")
	}
	if !models.ValidSourceType(p.Type) {
		return models.Source{}, faults.Validationf("unknown source type %q", p.Type)
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sources (source_id, source_path, source_type, graph_name, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
	`, id, p.Path, p.Type, p.GraphName, now)
	if err != nil {
		return models.Source{}, errors.Wrap(err, "insert source")
	}
	return models.Source{
		ID:        id,
		Path:      p.Path,
		Type:      p.Type,
		GraphName: emptyToNil(p.GraphName),
		CreatedAt: now,
	}, nil
}

// GetSource fetches a source by id.
func (s *Store) GetSource(ctx context.Context, id string) (*models.Source, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+sourceColumns+` FROM sources WHERE source_id = $1`, id)
	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, faults.NotFoundf("source %s not found", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan source")
	}
	return &src, nil
}

// ListSources returns all sources, newest first.
func (s *Store) ListSources(ctx context.Context) ([]models.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list sources")
	}
	defer rows.Close()
	var out []models.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan source")
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// SourceConfig is the admin-wizard predicate-role configuration of a source.
type SourceConfig struct {
	LabelFieldURI         string         `json:"label_field_uri"`
	ReferenceFieldURIs    []string       `json:"reference_field_uris"`
	TranslatableFieldURIs []string       `json:"translatable_field_uris"`
	TranslationConfig     map[string]any `json:"translation_config"`
}

// UpdateSourceConfig replaces the translation configuration of a source.
func (s *Store) UpdateSourceConfig(ctx context.Context, id string, cfg SourceConfig) error {
	refs, err := json.Marshal(cfg.ReferenceFieldURIs)
	if err != nil {
		return errors.Wrap(err, "marshal reference fields")
	}
	trans, err := json.Marshal(cfg.TranslatableFieldURIs)
	if err != nil {
		return errors.Wrap(err, "marshal translatable fields")
	}
	var tcJSON []byte
	if cfg.TranslationConfig != nil {
		if tcJSON, err = json.Marshal(cfg.TranslationConfig); err != nil {
			return errors.Wrap(err, "marshal translation config")
		}
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE sources SET
			label_field_uri = NULLIF($2, ''),
			reference_field_uris = $3,
			translatable_field_uris = $4,
			translation_config = COALESCE($5::jsonb, translation_config)
		WHERE source_id = $1
	`, id, cfg.LabelFieldURI, refs, trans, tcJSON)
	if err != nil {
		return errors.Wrap(err, "update source config")
	}
	if tag.RowsAffected() == 0 {
		return faults.NotFoundf("source %s not found", id)
	}
	return nil
}

func scanSource(row pgx.Row) (models.Source, error) {
	var (
		src       models.Source
		graphName pgtype.Text
		labelURI  pgtype.Text
		refsJSON  []byte
		transJSON []byte
		tcJSON    []byte
	)
	if err := row.Scan(&src.ID, &src.Path, &src.Type, &graphName, &labelURI, &refsJSON, &transJSON, &tcJSON, &src.CreatedAt); err != nil {
		return models.Source{}, err
	}
	src.GraphName = textPtr(graphName)
	src.LabelFieldURI = textPtr(labelURI)
	if len(refsJSON) > 0 {
		if err := json.Unmarshal(refsJSON, &src.ReferenceFieldURIs); err != nil {
			return models.Source{}, errors.Wrap(err, "unmarshal reference fields")
		}
	}
	if len(transJSON) > 0 {
		if err := json.Unmarshal(transJSON, &src.TranslatableFieldURIs); err != nil {
			return models.Source{}, errors.Wrap(err, "unmarshal translatable fields")
		}
	}
	if len(tcJSON) > 0 {
		if err := json.Unmarshal(tcJSON, &src.TranslationConfig); err != nil {
			return models.Source{}, errors.Wrap(err, "unmarshal translation config")
		}
	}
	return src, nil
}
