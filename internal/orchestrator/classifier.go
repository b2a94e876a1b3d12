package orchestrator

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Classification is the classifier's verdict on a session's input.
type Classification struct {
	Intent     Intent         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	// Rule names the deterministic rule that matched, or "scorer"/"default".
	Rule string `json:"rule"`
}

// Classifier assigns an intent to raw input. Implementations never fail;
// when nothing matches they return IntentGeneralInquiry with confidence 0.
type Classifier interface {
	Classify(ctx context.Context, inputs []Input) Classification
}

// Scorer is the probabilistic fallback consulted when no rule matches.
type Scorer interface {
	Score(ctx context.Context, text string) (Intent, float64, error)
}

// Rule is a deterministic intent match on a single input.
type Rule struct {
	Name   string
	Intent Intent
	Match  func(in Input) (map[string]any, bool)
}

// Compile-time check.
var _ Classifier = (*RuleClassifier)(nil)

// RuleClassifier applies deterministic rules in order and only falls back
// to its Scorer when none of them match. A rule match always wins over the
// scorer, whatever the scorer would have said.
type RuleClassifier struct {
	rules         []Rule
	scorer        Scorer
	minConfidence float64
}

// NewRuleClassifier creates a classifier with the default rule set. scorer
// may be nil, in which case unmatched input gets the default intent.
func NewRuleClassifier(scorer Scorer, minConfidence float64) *RuleClassifier {
	return &RuleClassifier{
		rules:         DefaultRules(),
		scorer:        scorer,
		minConfidence: minConfidence,
	}
}

// WithRules replaces the rule set.
func (c *RuleClassifier) WithRules(rules ...Rule) *RuleClassifier {
	c.rules = rules
	return c
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(ctx context.Context, inputs []Input) Classification {
	for _, rule := range c.rules {
		for _, in := range inputs {
			meta, ok := rule.Match(in)
			if !ok {
				continue
			}
			return Classification{
				Intent:     rule.Intent,
				Confidence: 1,
				Metadata:   meta,
				Rule:       rule.Name,
			}
		}
	}

	if c.scorer != nil {
		if intent, conf, ok := c.score(ctx, joinText(inputs)); ok {
			return Classification{
				Intent:     intent,
				Confidence: conf,
				Rule:       "scorer",
			}
		}
	}

	return Classification{Intent: IntentGeneralInquiry, Confidence: 0, Rule: "default"}
}

// score runs the scorer, treating errors, panics, empty intents and low
// confidence as "no verdict".
func (c *RuleClassifier) score(ctx context.Context, text string) (intent Intent, conf float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			intent, conf, ok = "", 0, false
		}
	}()

	if strings.TrimSpace(text) == "" {
		return "", 0, false
	}
	intent, conf, err := c.scorer.Score(ctx, text)
	if err != nil || intent == "" || conf < c.minConfidence {
		return "", 0, false
	}
	if conf > 1 {
		conf = 1
	}
	return intent, conf, true
}

func joinText(inputs []Input) string {
	var parts []string
	for _, in := range inputs {
		if in.Kind == InputText || in.Kind == "" {
			parts = append(parts, in.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// ---------------------------------------------------------------------------
// Default rules
// ---------------------------------------------------------------------------

var (
	googleSheetRe = regexp.MustCompile(`https?://docs\.google\.com/spreadsheets/d/([A-Za-z0-9_-]+)`)
	smartsheetRe  = regexp.MustCompile(`https?://app\.smartsheet\.com/(?:sheets|b/home\?lx=)/?([A-Za-z0-9]+)`)
	airtableRe    = regexp.MustCompile(`https?://airtable\.com/(app[A-Za-z0-9]+)`)
	gidRe         = regexp.MustCompile(`[#&?]gid=(\d+)`)
)

var (
	spreadsheetExts = map[string]bool{".csv": true, ".xlsx": true, ".xls": true, ".ods": true}
	drawingExts     = map[string]bool{".pdf": true, ".dwg": true, ".dxf": true, ".tif": true, ".tiff": true}
)

// DefaultRules returns the deterministic rules in priority order: known
// data-source URLs first, then file attachments by extension.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "google-sheets-url", Intent: IntentSpreadsheetImport, Match: matchGoogleSheet},
		{Name: "smartsheet-url", Intent: IntentSpreadsheetImport, Match: matchURL(smartsheetRe, "smartsheet")},
		{Name: "airtable-url", Intent: IntentSpreadsheetImport, Match: matchURL(airtableRe, "airtable")},
		{Name: "spreadsheet-file", Intent: IntentSpreadsheetImport, Match: matchFileExt(spreadsheetExts)},
		{Name: "drawing-file", Intent: IntentDocumentTakeoff, Match: matchFileExt(drawingExts)},
	}
}

func matchGoogleSheet(in Input) (map[string]any, bool) {
	m := googleSheetRe.FindStringSubmatch(in.Content)
	if m == nil {
		return nil, false
	}
	meta := map[string]any{
		"source":  "google-sheets",
		"sheetId": m[1],
		"url":     m[0],
	}
	if g := gidRe.FindStringSubmatch(in.Content); g != nil {
		meta["gid"] = g[1]
	}
	return meta, true
}

func matchURL(re *regexp.Regexp, source string) func(Input) (map[string]any, bool) {
	return func(in Input) (map[string]any, bool) {
		m := re.FindStringSubmatch(in.Content)
		if m == nil {
			return nil, false
		}
		return map[string]any{"source": source, "sheetId": m[1], "url": m[0]}, true
	}
}

func matchFileExt(exts map[string]bool) func(Input) (map[string]any, bool) {
	return func(in Input) (map[string]any, bool) {
		if in.Kind != InputFile {
			return nil, false
		}
		name := in.Name
		if name == "" {
			name = in.Content
		}
		if u, err := url.Parse(name); err == nil && u.Path != "" {
			name = u.Path
		}
		ext := strings.ToLower(path.Ext(name))
		if !exts[ext] {
			return nil, false
		}
		return map[string]any{"file": path.Base(name), "extension": ext}, true
	}
}

// ---------------------------------------------------------------------------
// Keyword scorer
// ---------------------------------------------------------------------------

// Compile-time check.
var _ Scorer = (*KeywordScorer)(nil)

// KeywordScorer is a heuristic Scorer: the intent whose keywords cover the
// largest share of hits wins, with that share as confidence. Keywords match
// whole words only, and a phrase tolerates any run of whitespace.
type KeywordScorer struct {
	keywords map[Intent][]*regexp.Regexp
}

var defaultKeywords = map[Intent][]string{
	IntentDocumentTakeoff: {
		"takeoff", "take-off", "quantity", "quantities", "drawing", "drawings",
		"blueprint", "plans", "square feet", "linear feet", "sheet set",
	},
	IntentSpreadsheetImport: {
		"spreadsheet", "rows", "columns", "csv", "workbook",
	},
	IntentSimpleLookup: {
		"what is", "how much", "price of", "cost of", "lookup", "look up", "unit cost",
	},
}

// NewKeywordScorer creates a scorer with the default vocabulary.
func NewKeywordScorer() *KeywordScorer {
	k := &KeywordScorer{keywords: make(map[Intent][]*regexp.Regexp, len(defaultKeywords))}
	for intent, words := range defaultKeywords {
		for _, w := range words {
			k.keywords[intent] = append(k.keywords[intent], keywordPattern(w))
		}
	}
	return k
}

func keywordPattern(word string) *regexp.Regexp {
	parts := strings.Fields(strings.ToLower(word))
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`\b` + strings.Join(parts, `\s+`) + `\b`)
}

// Score implements Scorer.
func (k *KeywordScorer) Score(_ context.Context, text string) (Intent, float64, error) {
	lower := strings.ToLower(text)

	hits := make(map[Intent]int, len(k.keywords))
	total := 0
	for intent, patterns := range k.keywords {
		for _, re := range patterns {
			if n := len(re.FindAllStringIndex(lower, -1)); n > 0 {
				hits[intent] += n
				total += n
			}
		}
	}
	if total == 0 {
		return "", 0, fmt.Errorf("keyword scorer: no keywords matched")
	}

	var best Intent
	bestHits := 0
	for _, intent := range []Intent{IntentDocumentTakeoff, IntentSpreadsheetImport, IntentSimpleLookup} {
		if hits[intent] > bestHits {
			best, bestHits = intent, hits[intent]
		}
	}
	return best, float64(bestHits) / float64(total), nil
}
