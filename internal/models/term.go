package models

import "time"

// Term is one controlled-vocabulary concept, addressed by its URI within a source.
type Term struct {
	ID        int64     `json:"id"`
	SourceID  string    `json:"source_id"`
	URI       string    `json:"uri"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TermField is one harvested predicate value of a term. The
// (term, field_uri, original_value) triple is the natural key: re-ingesting
// unchanged source data never duplicates rows.
type TermField struct {
	ID            int64     `json:"id"`
	TermID        int64     `json:"term_id"`
	FieldURI      string    `json:"field_uri"`
	FieldRole     FieldRole `json:"field_role"`
	OriginalValue string    `json:"original_value"`
}

// Translation is one language variant of a translatable term field. Values
// loaded straight from the source carry status "original".
type Translation struct {
	ID          int64  `json:"id"`
	TermFieldID int64  `json:"term_field_id"`
	Language    string `json:"language"`
	Value       string `json:"value"`
	Status      string `json:"status"`
}

// TranslationStatusOriginal marks values ingested verbatim from the source.
const TranslationStatusOriginal = "original"
