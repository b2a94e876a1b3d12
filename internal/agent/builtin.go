package agent

import (
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dusk-indust/conductor/internal/fault"
	"github.com/dusk-indust/conductor/internal/orchestrator"
)

// The reference agents below keep the pipeline runnable end to end. They
// work only on what the session already carries and never reach external
// data sources.

// item is one line of a takeoff as it moves between stages.
type item struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Unit        string  `json:"unit,omitempty"`
	Trade       string  `json:"trade,omitempty"`
	Source      string  `json:"source,omitempty"`
}

type sheet struct {
	Source  string     `json:"source,omitempty"`
	SheetID string     `json:"sheetId,omitempty"`
	URL     string     `json:"url,omitempty"`
	Header  []string   `json:"header"`
	Rows    [][]string `json:"rows"`
}

// ---------------------------------------------------------------------------
// fetch-sheet
// ---------------------------------------------------------------------------

// FetchSheet collects the sheet reference found by the classifier and any
// comma-separated table pasted as text.
func FetchSheet(_ context.Context, input map[string]any, state orchestrator.WorkflowState) (map[string]any, error) {
	inputs, err := inputsOf(input[orchestrator.KeyInput])
	if err != nil {
		return nil, fault.Validation(orchestrator.StageFetchSheet, err)
	}

	var out sheet
	if src, ok := state.Classification["source"].(string); ok {
		out.Source = src
	}
	if id, ok := state.Classification["sheetId"].(string); ok {
		out.SheetID = id
	}
	if u, ok := state.Classification["url"].(string); ok {
		out.URL = u
	}

	for _, in := range inputs {
		if in.Kind == orchestrator.InputFile && out.URL == "" {
			out.URL = in.Content
		}
		if in.Kind != orchestrator.InputText && in.Kind != "" {
			continue
		}
		header, rows := parseTable(in.Content)
		if len(header) == 0 {
			continue
		}
		if out.Header == nil {
			out.Header = header
		}
		out.Rows = append(out.Rows, rows...)
	}

	if out.URL == "" && out.Header == nil {
		return nil, fault.Validationf(orchestrator.StageFetchSheet, "no sheet reference or tabular text in input")
	}
	if out.Header == nil {
		out.Header = []string{}
		out.Rows = [][]string{}
	}

	var data map[string]any
	if err := redecode(out, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// parseTable reads comma-separated lines. The first line with more than one
// column becomes the header.
func parseTable(text string) ([]string, [][]string) {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.Count(line, ",") > 0 {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return nil, nil
	}

	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil || len(records) < 2 {
		return nil, nil
	}
	return records[0], records[1:]
}

// ---------------------------------------------------------------------------
// normalize-rows
// ---------------------------------------------------------------------------

var columnSynonyms = map[string][]string{
	"description": {"description", "item", "name", "scope", "desc"},
	"quantity":    {"quantity", "qty", "count", "amount"},
	"unit":        {"unit", "uom", "units"},
}

// NormalizeRows maps sheet columns onto description, quantity and unit.
func NormalizeRows(_ context.Context, input map[string]any, _ orchestrator.WorkflowState) (map[string]any, error) {
	raw, err := dataOf(input, orchestrator.StageFetchSheet)
	if err != nil {
		return nil, fault.Validation(orchestrator.StageNormalizeRows, err)
	}
	var sh sheet
	if err := redecode(raw, &sh); err != nil {
		return nil, fault.Validation(orchestrator.StageNormalizeRows, err)
	}

	mapping := make(map[string]int)
	for i, col := range sh.Header {
		name := strings.ToLower(strings.TrimSpace(col))
		for field, synonyms := range columnSynonyms {
			if _, done := mapping[field]; done {
				continue
			}
			for _, s := range synonyms {
				if name == s {
					mapping[field] = i
					break
				}
			}
		}
	}
	if _, ok := mapping["description"]; !ok && len(sh.Header) > 0 {
		mapping["description"] = 0
	}

	items := []item{}
	skipped := 0
	for _, row := range sh.Rows {
		it, ok := rowItem(row, mapping)
		if !ok {
			skipped++
			continue
		}
		it.Source = sh.Source
		items = append(items, it)
	}

	columns := make(map[string]any, len(mapping))
	for field, i := range mapping {
		columns[field] = sh.Header[i]
	}
	return map[string]any{
		"records": itemsData(items),
		"columns": columns,
		"skipped": skipped,
	}, nil
}

func rowItem(row []string, mapping map[string]int) (item, bool) {
	cell := func(field string) string {
		i, ok := mapping[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	it := item{Description: cell("description"), Unit: cell("unit"), Quantity: 1}
	if it.Description == "" {
		return item{}, false
	}
	if q := cell("quantity"); q != "" {
		v, err := strconv.ParseFloat(strings.ReplaceAll(q, ",", ""), 64)
		if err != nil {
			return item{}, false
		}
		it.Quantity = v
	}
	return it, true
}

// ---------------------------------------------------------------------------
// extract-documents
// ---------------------------------------------------------------------------

// ExtractDocuments lists the attached files as takeoff candidates.
func ExtractDocuments(_ context.Context, input map[string]any, _ orchestrator.WorkflowState) (map[string]any, error) {
	inputs, err := inputsOf(input[orchestrator.KeyInput])
	if err != nil {
		return nil, fault.Validation(orchestrator.StageExtractDocuments, err)
	}

	files := []any{}
	for _, in := range inputs {
		if in.Kind != orchestrator.InputFile {
			continue
		}
		name := in.Name
		if name == "" {
			name = in.Content
		}
		files = append(files, map[string]any{"name": name, "ref": in.Content, "mediaType": in.MediaType})
	}
	if len(files) == 0 {
		return nil, fault.Validationf(orchestrator.StageExtractDocuments, "no files attached")
	}
	return map[string]any{"files": files}, nil
}

// ---------------------------------------------------------------------------
// classify-trades
// ---------------------------------------------------------------------------

var tradeKeywords = []struct {
	trade string
	words []string
}{
	{"concrete", []string{"concrete", "slab", "footing", "rebar", "formwork"}},
	{"electrical", []string{"electrical", "conduit", "wire", "panel", "lighting", "outlet"}},
	{"plumbing", []string{"plumbing", "pipe", "fixture", "valve", "drain"}},
	{"mechanical", []string{"hvac", "duct", "mechanical", "diffuser"}},
	{"drywall", []string{"drywall", "gypsum", "stud", "partition"}},
	{"finishes", []string{"paint", "tile", "carpet", "ceiling", "flooring"}},
}

// ClassifyTrades assigns a trade to every record or selected file.
func ClassifyTrades(_ context.Context, input map[string]any, state orchestrator.WorkflowState) (map[string]any, error) {
	var items []item

	switch {
	case input[orchestrator.StageNormalizeRows] != nil:
		raw, err := dataOf(input, orchestrator.StageNormalizeRows)
		if err != nil {
			return nil, fault.Validation(orchestrator.StageClassifyTrades, err)
		}
		if err := redecode(raw["records"], &items); err != nil {
			return nil, fault.Validation(orchestrator.StageClassifyTrades, err)
		}
	case input[orchestrator.StageExtractDocuments] != nil:
		raw, err := dataOf(input, orchestrator.StageExtractDocuments)
		if err != nil {
			return nil, fault.Validation(orchestrator.StageClassifyTrades, err)
		}
		var files []struct {
			Name string `json:"name"`
		}
		if err := redecode(raw["files"], &files); err != nil {
			return nil, fault.Validation(orchestrator.StageClassifyTrades, err)
		}
		selected := selectedFiles(state)
		for _, f := range files {
			if selected != nil && !selected[f.Name] {
				continue
			}
			items = append(items, item{Description: f.Name, Quantity: 1, Unit: "sheet"})
		}
	default:
		return nil, fault.Validationf(orchestrator.StageClassifyTrades, "nothing to classify")
	}

	for i := range items {
		items[i].Trade = tradeOf(items[i].Description)
	}
	return map[string]any{"items": itemsData(items)}, nil
}

// selectedFiles returns the files picked at the extract-documents
// checkpoint, or nil when every file stays in.
func selectedFiles(state orchestrator.WorkflowState) map[string]bool {
	v, ok := state.Lookup(orchestrator.DecisionKey(orchestrator.StageExtractDocuments))
	if !ok {
		return nil
	}
	var resp orchestrator.Response
	if err := redecode(v, &resp); err != nil || resp.Action != orchestrator.ActionSelect {
		return nil
	}
	var names []string
	if err := redecode(resp.Data["files"], &names); err != nil {
		return nil
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func tradeOf(description string) string {
	lower := strings.ToLower(description)
	for _, t := range tradeKeywords {
		for _, w := range t.words {
			if strings.Contains(lower, w) {
				return t.trade
			}
		}
	}
	return "general"
}

// ---------------------------------------------------------------------------
// compute-takeoff
// ---------------------------------------------------------------------------

// ComputeTakeoff totals quantities per trade. When classification was
// skipped it works on the normalized records directly.
func ComputeTakeoff(_ context.Context, input map[string]any, _ orchestrator.WorkflowState) (map[string]any, error) {
	var items []item
	switch {
	case input[orchestrator.StageClassifyTrades] != nil:
		raw, err := dataOf(input, orchestrator.StageClassifyTrades)
		if err != nil {
			return nil, fault.Validation(orchestrator.StageComputeTakeoff, err)
		}
		if err := redecode(raw["items"], &items); err != nil {
			return nil, fault.Validation(orchestrator.StageComputeTakeoff, err)
		}
	case input[orchestrator.StageNormalizeRows] != nil:
		raw, err := dataOf(input, orchestrator.StageNormalizeRows)
		if err != nil {
			return nil, fault.Validation(orchestrator.StageComputeTakeoff, err)
		}
		if err := redecode(raw["records"], &items); err != nil {
			return nil, fault.Validation(orchestrator.StageComputeTakeoff, err)
		}
	default:
		return nil, fault.Validationf(orchestrator.StageComputeTakeoff, "no items to total")
	}

	type total struct {
		Trade    string  `json:"trade"`
		Items    int     `json:"items"`
		Quantity float64 `json:"quantity"`
	}
	byTrade := make(map[string]*total)
	for _, it := range items {
		trade := it.Trade
		if trade == "" {
			trade = "unclassified"
		}
		t, ok := byTrade[trade]
		if !ok {
			t = &total{Trade: trade}
			byTrade[trade] = t
		}
		t.Items++
		t.Quantity += it.Quantity
	}

	trades := make([]total, 0, len(byTrade))
	for _, t := range byTrade {
		trades = append(trades, *t)
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].Trade < trades[j].Trade })

	var data []any
	if err := redecode(trades, &data); err != nil {
		return nil, err
	}
	return map[string]any{"trades": data, "totalItems": len(items)}, nil
}

// ---------------------------------------------------------------------------
// summarize
// ---------------------------------------------------------------------------

// Summarize renders the takeoff totals as one line of text.
func Summarize(_ context.Context, input map[string]any, _ orchestrator.WorkflowState) (map[string]any, error) {
	raw, err := dataOf(input, orchestrator.StageComputeTakeoff)
	if err != nil {
		return nil, fault.Validation(orchestrator.StageSummarize, err)
	}
	var trades []struct {
		Trade    string  `json:"trade"`
		Items    int     `json:"items"`
		Quantity float64 `json:"quantity"`
	}
	if err := redecode(raw["trades"], &trades); err != nil {
		return nil, fault.Validation(orchestrator.StageSummarize, err)
	}

	parts := make([]string, 0, len(trades))
	count := 0
	for _, t := range trades {
		parts = append(parts, fmt.Sprintf("%s (%d)", t.Trade, t.Items))
		count += t.Items
	}
	summary := fmt.Sprintf("%d items across %d trades", count, len(trades))
	if len(parts) > 0 {
		summary += ": " + strings.Join(parts, ", ")
	}
	return map[string]any{"summary": summary}, nil
}

// ---------------------------------------------------------------------------
// lookup / clarify
// ---------------------------------------------------------------------------

// Lookup echoes the question back with the terms a pricing source would be
// queried with.
func Lookup(_ context.Context, input map[string]any, _ orchestrator.WorkflowState) (map[string]any, error) {
	inputs, err := inputsOf(input[orchestrator.KeyInput])
	if err != nil {
		return nil, fault.Validation(orchestrator.StageLookup, err)
	}
	query := questionText(inputs)
	if query == "" {
		return nil, fault.Validationf(orchestrator.StageLookup, "empty question")
	}
	terms := []string{}
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, "?.,!")
		if len(w) > 3 {
			terms = append(terms, w)
		}
	}
	return map[string]any{"query": query, "terms": terms}, nil
}

// Clarify asks the user for something the classifier can route.
func Clarify(_ context.Context, input map[string]any, state orchestrator.WorkflowState) (map[string]any, error) {
	inputs, err := inputsOf(input[orchestrator.KeyInput])
	if err != nil {
		return nil, fault.Validation(orchestrator.StageClarify, err)
	}
	return map[string]any{
		"question": "Share a spreadsheet link, attach drawings, or ask about a specific item price.",
		"received": questionText(inputs),
		"intent":   string(state.Intent),
	}, nil
}

func questionText(inputs []orchestrator.Input) string {
	var parts []string
	for _, in := range inputs {
		if in.Kind == orchestrator.InputText || in.Kind == "" {
			if s := strings.TrimSpace(in.Content); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

func itemsData(items []item) []any {
	out := make([]any, 0, len(items))
	for _, it := range items {
		m := map[string]any{"description": it.Description, "quantity": it.Quantity}
		if it.Unit != "" {
			m["unit"] = it.Unit
		}
		if it.Trade != "" {
			m["trade"] = it.Trade
		}
		if it.Source != "" {
			m["source"] = it.Source
		}
		out = append(out, m)
	}
	return out
}
