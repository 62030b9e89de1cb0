package models

import "time"

// SourceType distinguishes continuously-fed LDES sources from one-shot file uploads.
type SourceType string

const (
	SourceLDES       SourceType = "LDES"
	SourceStaticFile SourceType = "Static_file"
)

// ValidSourceType reports whether t names a known source type.
func ValidSourceType(t SourceType) bool {
	return t == SourceLDES || t == SourceStaticFile
}

// FieldRole classifies an RDF predicate for a source's translation configuration.
type FieldRole string

const (
	RoleLabel        FieldRole = "label"
	RoleReference    FieldRole = "reference"
	RoleTranslatable FieldRole = "translatable"
)

// Source is the persisted configuration of one ingestion source.
type Source struct {
	ID                    string         `json:"source_id"`
	Path                  string         `json:"source_path"`
	Type                  SourceType     `json:"source_type"`
	GraphName             *string        `json:"graph_name,omitempty"`
	LabelFieldURI         *string        `json:"label_field_uri,omitempty"`
	ReferenceFieldURIs    []string       `json:"reference_field_uris,omitempty"`
	TranslatableFieldURIs []string       `json:"translatable_field_uris,omitempty"`
	TranslationConfig     map[string]any `json:"translation_config,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
}

// RDFType returns the RDF class the translation configuration is scoped to,
// or empty if none has been configured yet.
func (s *Source) RDFType() string {
	if s == nil || s.TranslationConfig == nil {
		return ""
	}
	if v, ok := s.TranslationConfig["rdf_type"].(string); ok {
		return v
	}
	return ""
}

// Graph returns the source's named graph, falling back to a graph derived
// from the source id so every source stays isolated in the triple store.
func (s *Source) Graph() string {
	if s.GraphName != nil && *s.GraphName != "" {
		return *s.GraphName
	}
	return "urn:vocab-ingest:source:" + s.ID
}

// FieldRoles flattens the configured predicate URIs into a uri -> role map.
// The label field wins over duplicate reference/translatable entries.
func (s *Source) FieldRoles() map[string]FieldRole {
	roles := make(map[string]FieldRole)
	for _, uri := range s.ReferenceFieldURIs {
		roles[uri] = RoleReference
	}
	for _, uri := range s.TranslatableFieldURIs {
		roles[uri] = RoleTranslatable
	}
	if s.LabelFieldURI != nil && *s.LabelFieldURI != "" {
		roles[*s.LabelFieldURI] = RoleLabel
	}
	return roles
}
