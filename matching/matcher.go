package matching

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/durvesh-thorat/RETRIVA/llm"
	"github.com/durvesh-thorat/RETRIVA/metrics"
	"github.com/durvesh-thorat/RETRIVA/models"
	"github.com/durvesh-thorat/RETRIVA/parser"
)

const (
	// lexical pre-check: above this similarity on both title and
	// description two reports are treated as the same item outright
	similarityPinThreshold = 0.9
	pinnedConfidence       = 99
	pinnedExplanation      = "The two reports are textually near-identical, so they almost certainly describe the same item."

	localEstimateNote = "Estimated locally from report attributes because the comparison service was unavailable."

	// dates reported within this window count as temporally close
	temporalWindow = 7 * 24 * time.Hour

	maxImageBytes = 4 << 20
)

const extractPrompt = `You are the intake assistant for a campus lost-and-found service.
You receive one photo of an item. Describe the item for the report form.

Rules:
* Output a single, valid JSON object and nothing else. No markdown fences, no prose.
* "category" must be exactly one of: Electronics, Accessories, Documents, Clothing, Keys, Bags, Books, Other.
* "tags" are 3-8 short lowercase keywords a student would search for.
* Use "" for any field you cannot determine from the photo.

Schema:
{
  "title": "<short item headline, e.g. 'Black iPhone 13'>",
  "category": "<category>",
  "tags": ["<keyword>", "..."],
  "color": "<dominant color>",
  "brand": "<visible brand name>",
  "condition": "<new | good | worn | damaged>",
  "distinguishing_features": "<one sentence on marks, stickers, engravings>"
}`

const comparePrompt = `You are the match reviewer for a campus lost-and-found service.
You receive two item reports (and their photos when available): one lost, one found, or any pair a user asked to compare. Judge whether they describe the same physical item.

Rules:
* Output a single, valid JSON object and nothing else. No markdown fences, no prose.
* "confidence" is an integer 0-100: 0 means certainly different items, 100 means certainly the same item.
* List concrete, observable points in "similarities" and "differences"; never invent details that are not in the reports or photos.

Schema:
{
  "confidence": <0-100>,
  "explanation": "<2-3 sentences justifying the confidence>",
  "similarities": ["<point>", "..."],
  "differences": ["<point>", "..."]
}`

const candidatesPrompt = `You are the match finder for a campus lost-and-found service.
You receive a source item report and a list of candidate reports of the opposite kind (lost vs found). Pick the candidates that plausibly describe the same physical item as the source.

Rules:
* Output a single, valid JSON object and nothing else. No markdown fences, no prose.
* Only use candidate ids from the provided list. Never invent ids.
* "confidence" is an integer 0-100; omit candidates below 30 entirely.
* Order matches from most to least likely.

Schema:
{
  "matches": [
    {"id": "<candidate id>", "confidence": <0-100>, "reason": "<one sentence>"}
  ]
}`

// CascadeClient is the slice of the model cascade the matcher needs.
type CascadeClient interface {
	Execute(req llm.Request) (string, error)
}

// Matcher composes the model cascade, the response coercion layer and the
// local similarity heuristic into the three match operations. Every
// operation returns a usable result; model failures degrade to local
// estimates instead of propagating.
type Matcher struct {
	cascade       CascadeClient
	http          *http.Client
	maxCandidates int
	minScore      int
}

func NewMatcher(cascade CascadeClient, maxCandidates, minScore int, imageFetchTimeout time.Duration) *Matcher {
	return &Matcher{
		cascade:       cascade,
		http:          &http.Client{Timeout: imageFetchTimeout},
		maxCandidates: maxCandidates,
		minScore:      minScore,
	}
}

// ExtractAttributes asks the cascade to describe a photographed item. There
// is no local way to describe an unseen image, so on failure it returns
// empty attributes and the report form falls back to manual entry.
func (m *Matcher) ExtractAttributes(image []byte) models.ExtractedAttributes {
	timer := time.Now()
	defer func() {
		metrics.MatchDurationSeconds.WithLabelValues("extract").Observe(time.Since(timer).Seconds())
	}()

	raw, err := m.cascade.Execute(llm.Request{
		System: extractPrompt,
		Prompt: "Describe the item in the photo for the report form.",
		Images: [][]byte{image},
	})
	if err != nil {
		log.Warnf("attribute extraction degraded to manual entry: %v", err)
		metrics.MatchOperationsTotal.WithLabelValues("extract", "degraded").Inc()
		return models.ExtractedAttributes{}
	}

	obj := parser.ParseObject(raw)
	if len(obj) == 0 {
		log.Warn("attribute extraction returned no parseable JSON, degrading to manual entry")
		metrics.MatchOperationsTotal.WithLabelValues("extract", "degraded").Inc()
		return models.ExtractedAttributes{}
	}

	attrs := models.ExtractedAttributes{
		Title:                  parser.StringField(obj, "title"),
		Category:               parser.StringField(obj, "category"),
		Tags:                   parser.StringSliceField(obj, "tags"),
		Color:                  parser.StringField(obj, "color"),
		Brand:                  parser.StringField(obj, "brand"),
		Condition:              parser.StringField(obj, "condition"),
		DistinguishingFeatures: parser.StringField(obj, "distinguishing_features"),
	}
	if !models.ValidCategory(attrs.Category) {
		attrs.Category = models.CategoryOther
	}

	metrics.MatchOperationsTotal.WithLabelValues("extract", "cascade").Inc()
	return attrs
}

// FindCandidates ranks the open reports that plausibly match source. The
// candidate set is pre-filtered locally, then the cascade picks and scores
// matches; if the cascade is down the similarity heuristic ranks them
// instead.
func (m *Matcher) FindCandidates(source *models.ItemReport, openReports []*models.ItemReport) []models.MatchCandidate {
	timer := time.Now()
	defer func() {
		metrics.MatchDurationSeconds.WithLabelValues("find_candidates").Observe(time.Since(timer).Seconds())
	}()

	candidates := m.filterCandidates(source, openReports)
	if len(candidates) == 0 {
		return []models.MatchCandidate{}
	}

	raw, err := m.cascade.Execute(llm.Request{
		System: candidatesPrompt,
		Prompt: buildCandidatesPayload(source, candidates),
	})
	if err == nil {
		if matches, ok := parseMatches(raw, candidates); ok {
			metrics.MatchOperationsTotal.WithLabelValues("find_candidates", "cascade").Inc()
			return matches
		}
		log.Warn("match response had no usable matches field, falling back to local scoring")
	} else {
		log.Warnf("match cascade unavailable, falling back to local scoring: %v", err)
	}

	metrics.MatchOperationsTotal.WithLabelValues("find_candidates", "heuristic").Inc()
	return m.heuristicCandidates(source, candidates)
}

// filterCandidates applies the local pre-filter: opposite type, still open,
// not the source itself, not the same reporter. When the source has a
// specific category and at least one candidate shares it, the set narrows
// to that category to keep the prompt focused. The final set is capped to
// bound prompt size.
func (m *Matcher) filterCandidates(source *models.ItemReport, openReports []*models.ItemReport) []*models.ItemReport {
	var filtered []*models.ItemReport
	for _, r := range openReports {
		if r == nil || r.ID == source.ID || r.ReporterID == source.ReporterID {
			continue
		}
		if r.Type == source.Type || r.Status != models.ReportStatusOpen {
			continue
		}
		filtered = append(filtered, r)
	}

	if source.Category != models.CategoryOther {
		var narrowed []*models.ItemReport
		for _, r := range filtered {
			if r.Category == source.Category {
				narrowed = append(narrowed, r)
			}
		}
		if len(narrowed) > 0 {
			filtered = narrowed
		}
	}

	if m.maxCandidates > 0 && len(filtered) > m.maxCandidates {
		filtered = filtered[:m.maxCandidates]
	}
	return filtered
}

func (m *Matcher) heuristicCandidates(source *models.ItemReport, candidates []*models.ItemReport) []models.MatchCandidate {
	matches := make([]models.MatchCandidate, 0, len(candidates))
	for _, c := range candidates {
		score := Score(source, c)
		if score < m.minScore {
			continue
		}
		reason := "Same category"
		if shared := SharedKeywords(source, c); len(shared) > 0 {
			reason = "Shared keywords: " + strings.Join(shared, ", ")
		}
		matches = append(matches, models.MatchCandidate{
			ID:         c.ID,
			Confidence: score,
			Reason:     reason,
		})
	}
	sortMatches(matches)
	return matches
}

// parseMatches coerces a cascade response into candidates, dropping any id
// the model invented. ok is false when the response carries no matches
// field at all, which callers treat the same as a cascade failure.
func parseMatches(raw string, candidates []*models.ItemReport) ([]models.MatchCandidate, bool) {
	obj := parser.ParseObject(raw)
	value, present := obj["matches"]
	if !present {
		return nil, false
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}

	items, _ := value.([]any)
	matches := make([]models.MatchCandidate, 0, len(items))
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id := parser.StringField(entry, "id")
		if !known[id] {
			continue
		}
		matches = append(matches, models.MatchCandidate{
			ID:         id,
			Confidence: parser.NormalizeConfidence(entry["confidence"], parser.CandidateConfidenceFallback),
			Reason:     parser.StringField(entry, "reason"),
		})
	}
	sortMatches(matches)
	return matches, true
}

// sortMatches orders by confidence descending, preserving input order on
// ties.
func sortMatches(matches []models.MatchCandidate) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Confidence > matches[j].Confidence
	})
}

// CompareItems judges whether two reports describe the same item. Reports
// that are textually near-identical short-circuit to a pinned verdict so a
// wandering model judgment can never contradict obvious identity.
func (m *Matcher) CompareItems(a, b *models.ItemReport) models.ComparisonResult {
	timer := time.Now()
	defer func() {
		metrics.MatchDurationSeconds.WithLabelValues("compare").Observe(time.Since(timer).Seconds())
	}()

	if LexicalSimilarity(a.Title, b.Title) >= similarityPinThreshold &&
		LexicalSimilarity(a.Description, b.Description) >= similarityPinThreshold {
		metrics.MatchOperationsTotal.WithLabelValues("compare", "pinned").Inc()
		return models.ComparisonResult{
			Confidence:   pinnedConfidence,
			Explanation:  pinnedExplanation,
			Similarities: []string{"Nearly identical titles", "Nearly identical descriptions"},
			Differences:  []string{},
		}
	}

	req := llm.Request{
		System: comparePrompt,
		Prompt: buildComparePayload(a, b),
	}
	if img := m.fetchImage(a.PrimaryImageURL()); img != nil {
		req.Images = append(req.Images, img)
	}
	if img := m.fetchImage(b.PrimaryImageURL()); img != nil {
		req.Images = append(req.Images, img)
	}

	raw, err := m.cascade.Execute(req)
	if err == nil {
		if obj := parser.ParseObject(raw); len(obj) > 0 {
			metrics.MatchOperationsTotal.WithLabelValues("compare", "cascade").Inc()
			return models.ComparisonResult{
				Confidence:   parser.NormalizeConfidence(obj["confidence"], parser.ComparisonConfidenceFallback),
				Explanation:  parser.StringField(obj, "explanation"),
				Similarities: parser.StringSliceField(obj, "similarities"),
				Differences:  parser.StringSliceField(obj, "differences"),
			}
		}
		log.Warn("comparison response had no parseable JSON, falling back to local estimate")
	} else {
		log.Warnf("comparison cascade unavailable, falling back to local estimate: %v", err)
	}

	metrics.MatchOperationsTotal.WithLabelValues("compare", "heuristic").Inc()
	return m.localComparison(a, b)
}

// localComparison builds a ComparisonResult from report attributes alone:
// category agreement, keyword overlap and temporal proximity each add
// weight. The explanation always flags the result as an estimate.
func (m *Matcher) localComparison(a, b *models.ItemReport) models.ComparisonResult {
	confidence := 0
	similarities := []string{}
	differences := []string{}

	if a.Category == b.Category {
		confidence += 40
		similarities = append(similarities, "Same category: "+a.Category)
	} else {
		differences = append(differences, fmt.Sprintf("Different categories: %s vs %s", a.Category, b.Category))
	}

	if shared := SharedKeywords(a, b); len(shared) > 0 {
		confidence += keywordScore * len(shared)
		similarities = append(similarities, "Shared keywords: "+strings.Join(shared, ", "))
	} else {
		differences = append(differences, "No overlapping keywords in titles or tags")
	}

	if reportedClose(a.DateText, b.DateText) {
		confidence += 10
		similarities = append(similarities, "Reported within a week of each other")
	}

	if confidence > maxScore {
		confidence = maxScore
	}
	return models.ComparisonResult{
		Confidence:   confidence,
		Explanation:  localEstimateNote,
		Similarities: similarities,
		Differences:  differences,
	}
}

// reportedClose parses the free-text date fields and reports whether both
// parse and fall within the temporal window. Dates are user-typed, so any
// unparseable value simply contributes no signal.
func reportedClose(a, b string) bool {
	ta, okA := parseReportDate(a)
	tb, okB := parseReportDate(b)
	if !okA || !okB {
		return false
	}
	gap := ta.Sub(tb)
	if gap < 0 {
		gap = -gap
	}
	return gap <= temporalWindow
}

func parseReportDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", "02/01/2006", "January 2, 2006", "Jan 2, 2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// fetchImage resolves a report image URL to raw bytes for a vision prompt.
// The upload boundary may hand back a data URI instead of a remote URL, so
// both are accepted. Failures are logged and skipped, comparisons work
// text-only.
func (m *Matcher) fetchImage(url string) []byte {
	if url == "" {
		return nil
	}

	if strings.HasPrefix(url, "data:") {
		idx := strings.IndexByte(url, ',')
		if idx < 0 {
			return nil
		}
		data, err := base64.StdEncoding.DecodeString(url[idx+1:])
		if err != nil {
			log.Warnf("failed to decode data URI image: %v", err)
			return nil
		}
		return data
	}

	resp, err := m.http.Get(url)
	if err != nil {
		log.Warnf("failed to fetch report image: %v", err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warnf("report image fetch returned status %d", resp.StatusCode)
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes))
	if err != nil {
		log.Warnf("failed to read report image: %v", err)
		return nil
	}
	return data
}

// promptReport is the trimmed report view embedded in prompts.
type promptReport struct {
	ID       string   `json:"id,omitempty"`
	Type     string   `json:"type"`
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Desc     string   `json:"description,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Location string   `json:"location,omitempty"`
	Date     string   `json:"date,omitempty"`
}

func toPromptReport(r *models.ItemReport, withID bool) promptReport {
	p := promptReport{
		Type:     string(r.Type),
		Category: r.Category,
		Title:    r.Title,
		Desc:     r.Description,
		Tags:     r.Tags,
		Location: r.Location,
		Date:     r.DateText,
	}
	if withID {
		p.ID = r.ID
	}
	return p
}

func buildComparePayload(a, b *models.ItemReport) string {
	payload, err := json.Marshal(map[string]any{
		"item_a": toPromptReport(a, false),
		"item_b": toPromptReport(b, false),
	})
	if err != nil {
		return ""
	}
	return "Compare these two reports:\n" + string(payload)
}

func buildCandidatesPayload(source *models.ItemReport, candidates []*models.ItemReport) string {
	views := make([]promptReport, 0, len(candidates))
	for _, c := range candidates {
		views = append(views, toPromptReport(c, true))
	}
	payload, err := json.Marshal(map[string]any{
		"source":     toPromptReport(source, false),
		"candidates": views,
	})
	if err != nil {
		return ""
	}
	return "Find matches for the source among the candidates:\n" + string(payload)
}
