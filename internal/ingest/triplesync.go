package ingest

import (
	"context"
	"fmt"

	"github.com/knakk/rdf"

	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
	"vocab-ingest/internal/triplestore"
)

// TriplestoreSyncHandler projects the source's named graph into the
// relational term tables. It selects every subject of the configured RDF
// class and pulls the configured field predicates, so the relational side
// always mirrors the graph for the fields translators care about.
type TriplestoreSyncHandler struct {
	sparql    *triplestore.Client
	terms     TermStore
	batchSize int
}

// NewTriplestoreSyncHandler wires the handler; batchSize bounds each SELECT page.
func NewTriplestoreSyncHandler(sparql *triplestore.Client, terms TermStore, batchSize int) *TriplestoreSyncHandler {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &TriplestoreSyncHandler{sparql: sparql, terms: terms, batchSize: batchSize}
}

func (h *TriplestoreSyncHandler) Type() models.TaskType { return models.TypeTriplestoreSync }

func (h *TriplestoreSyncHandler) Run(ctx context.Context, task models.Task, source *models.Source, sink progress.Sink) (progress.Summary, error) {
	var summary progress.Summary
	if source == nil {
		return summary, faults.Validationf("triplestore_sync task %s has no source", task.ID)
	}
	rdfType := source.RDFType()
	if rdfType == "" {
		return summary, faults.Validationf("source %s has no rdf_type configured, set the translation configuration first", source.ID)
	}
	fields := harvestFieldsFor(source)
	if len(source.FieldRoles()) == 0 {
		return summary, faults.Validationf("source %s has no field roles configured, set the translation configuration first", source.ID)
	}

	graph := source.Graph()
	total, err := h.countSubjects(ctx, graph, rdfType)
	if err != nil {
		return summary, err
	}
	sink.Info(fmt.Sprintf("syncing %d terms of <%s> from graph %s", total, rdfType, graph))

	termIDs := make(map[string]int64)
	for offset := 0; offset < total; offset += h.batchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := h.sparql.Select(ctx, h.pageQuery(graph, rdfType, fields, offset))
		if err != nil {
			return summary, err
		}
		if err := applySolutions(ctx, h.terms, source.ID, fields, res.Solutions(), termIDs, &summary); err != nil {
			return summary, err
		}
		sink.Progress(fmt.Sprintf("synced %d of %d terms", len(termIDs), total), map[string]any{
			"done":  len(termIDs),
			"total": total,
		})
	}
	return summary, nil
}

func (h *TriplestoreSyncHandler) countSubjects(ctx context.Context, graph, rdfType string) (int, error) {
	query := "SELECT (COUNT(DISTINCT ?term) AS ?count) WHERE { GRAPH <" + graph + "> { ?term a <" + rdfType + "> . } }"
	return selectCount(ctx, h.sparql, query)
}

func (h *TriplestoreSyncHandler) pageQuery(graph, rdfType string, fields []harvestField, offset int) string {
	q := "SELECT DISTINCT ?term"
	for _, f := range fields {
		q += " ?" + f.Var
	}
	q += " WHERE { GRAPH <" + graph + "> {\n  ?term a <" + rdfType + "> .\n"
	for _, f := range fields {
		q += "  OPTIONAL { ?term <" + f.URI + "> ?" + f.Var + " . }\n"
	}
	q += fmt.Sprintf("} } ORDER BY ?term LIMIT %d OFFSET %d", h.batchSize, offset)
	return q
}

// applySolutions upserts the term rows for one page of SELECT solutions.
// termIDs caches ids across pages so repeated rows for a term (one per field
// value) upsert it only once per run.
func applySolutions(ctx context.Context, terms TermStore, sourceID string, fields []harvestField, sols []map[string]rdf.Term, termIDs map[string]int64, summary *progress.Summary) error {
	for _, sol := range sols {
		term, ok := sol["term"]
		if !ok {
			continue
		}
		uri := term.String()
		termID, cached := termIDs[uri]
		if !cached {
			id, inserted, err := terms.UpsertTerm(ctx, sourceID, uri)
			if err != nil {
				return err
			}
			termID = id
			termIDs[uri] = id
			if inserted {
				summary.TermsInserted++
			} else {
				summary.TermsUpdated++
			}
		}
		for _, f := range fields {
			val, ok := sol[f.Var]
			if !ok {
				continue
			}
			fieldID, inserted, err := terms.InsertTermField(ctx, termID, f.URI, f.Role, val.String())
			if err != nil {
				return err
			}
			if inserted {
				summary.FieldsInserted++
			}
			if f.Role == models.RoleTranslatable {
				if lit, ok := val.(rdf.Literal); ok && lit.Lang() != "" {
					if _, err := terms.InsertTranslation(ctx, fieldID, lit.Lang(), lit.String()); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}
