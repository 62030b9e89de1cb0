package ingest

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"vocab-ingest/internal/faults"
	"vocab-ingest/internal/models"
	"vocab-ingest/internal/progress"
	"vocab-ingest/internal/triplestore"
)

// harvestField is one predicate harvested per term, bound to a stable query
// variable so paging stays deterministic.
type harvestField struct {
	URI  string
	Role models.FieldRole
	Var  string
}

// Default SKOS predicate set, used when the source has no field roles
// configured yet.
var defaultHarvestFields = []harvestField{
	{URI: "http://www.w3.org/2004/02/skos/core#prefLabel", Role: models.RoleLabel, Var: "f0"},
	{URI: "http://www.w3.org/2004/02/skos/core#altLabel", Role: models.RoleTranslatable, Var: "f1"},
	{URI: "http://www.w3.org/2004/02/skos/core#definition", Role: models.RoleTranslatable, Var: "f2"},
	{URI: "http://www.w3.org/2004/02/skos/core#notation", Role: models.RoleReference, Var: "f3"},
	{URI: "http://www.w3.org/2004/02/skos/core#broader", Role: models.RoleReference, Var: "f4"},
	{URI: "http://www.w3.org/2004/02/skos/core#narrower", Role: models.RoleReference, Var: "f5"},
	{URI: "http://www.w3.org/2004/02/skos/core#related", Role: models.RoleReference, Var: "f6"},
}

// HarvestHandler pulls every member of a SKOS collection out of the triple
// store in fixed-size pages and upserts terms, fields and original-language
// translations. Re-running a harvest converges on the same rows.
type HarvestHandler struct {
	sparql    *triplestore.Client
	terms     TermStore
	batchSize int
}

// NewHarvestHandler wires the handler; batchSize bounds each SELECT page.
func NewHarvestHandler(sparql *triplestore.Client, terms TermStore, batchSize int) *HarvestHandler {
	if batchSize <= 0 {
		batchSize = 1000
	}
	return &HarvestHandler{sparql: sparql, terms: terms, batchSize: batchSize}
}

func (h *HarvestHandler) Type() models.TaskType { return models.TypeHarvest }

func (h *HarvestHandler) Run(ctx context.Context, task models.Task, source *models.Source, sink progress.Sink) (progress.Summary, error) {
	var summary progress.Summary
	if source == nil {
		return summary, faults.Validationf("harvest task %s has no source", task.ID)
	}

	fields := harvestFieldsFor(source)
	total, err := h.countMembers(ctx, source.Path)
	if err != nil {
		return summary, err
	}
	sink.Info(fmt.Sprintf("harvesting %d terms from %s", total, source.Path))

	// Multi-OPTIONAL pages repeat a term once per field value; cache ids so
	// each term is upserted once per run.
	termIDs := make(map[string]int64)
	for offset := 0; offset < total; offset += h.batchSize {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := h.sparql.Select(ctx, h.pageQuery(source.Path, fields, offset))
		if err != nil {
			return summary, err
		}
		if err := applySolutions(ctx, h.terms, source.ID, fields, res.Solutions(), termIDs, &summary); err != nil {
			return summary, err
		}
		sink.Progress(fmt.Sprintf("harvested %d of %d terms", len(termIDs), total), map[string]any{
			"done":  len(termIDs),
			"total": total,
		})
	}
	return summary, nil
}

func (h *HarvestHandler) countMembers(ctx context.Context, collection string) (int, error) {
	query := "PREFIX skos: <http://www.w3.org/2004/02/skos/core#>\n" +
		"SELECT (COUNT(DISTINCT ?term) AS ?count) WHERE { <" + collection + "> skos:member ?term . }"
	return selectCount(ctx, h.sparql, query)
}

// selectCount runs a single-row COUNT query and extracts the ?count binding.
func selectCount(ctx context.Context, client *triplestore.Client, query string) (int, error) {
	res, err := client.Select(ctx, query)
	if err != nil {
		return 0, err
	}
	sols := res.Solutions()
	if len(sols) == 0 {
		return 0, nil
	}
	count, ok := sols[0]["count"]
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(count.String())
	if err != nil {
		return 0, faults.Externalf("triple store returned non-numeric count %q", count.String())
	}
	return n, nil
}

func (h *HarvestHandler) pageQuery(collection string, fields []harvestField, offset int) string {
	q := "PREFIX skos: <http://www.w3.org/2004/02/skos/core#>\nSELECT DISTINCT ?term"
	for _, f := range fields {
		q += " ?" + f.Var
	}
	q += " WHERE {\n  <" + collection + "> skos:member ?term .\n"
	for _, f := range fields {
		q += "  OPTIONAL { ?term <" + f.URI + "> ?" + f.Var + " . }\n"
	}
	q += fmt.Sprintf("} ORDER BY ?term LIMIT %d OFFSET %d", h.batchSize, offset)
	return q
}

// harvestFieldsFor maps the source's configured roles onto query variables,
// falling back to the SKOS defaults for unconfigured sources.
func harvestFieldsFor(source *models.Source) []harvestField {
	roles := source.FieldRoles()
	if len(roles) == 0 {
		return defaultHarvestFields
	}
	uris := make([]string, 0, len(roles))
	for uri := range roles {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	fields := make([]harvestField, 0, len(uris))
	for i, uri := range uris {
		fields = append(fields, harvestField{URI: uri, Role: roles[uri], Var: fmt.Sprintf("f%d", i)})
	}
	return fields
}
