package matching

import (
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/durvesh-thorat/RETRIVA/llm"
	"github.com/durvesh-thorat/RETRIVA/models"
)

// fakeCascade returns one scripted response and records the prompts it saw.
type fakeCascade struct {
	mu       sync.Mutex
	calls    int
	prompts  []string
	response string
	err      error
}

func (f *fakeCascade) Execute(req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	return f.response, f.err
}

func (f *fakeCascade) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeCascade) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func newTestMatcher(cascade CascadeClient) *Matcher {
	return NewMatcher(cascade, 20, 40, time.Second)
}

func openReport(id, reporterID string, rt models.ReportType, category, title string) *models.ItemReport {
	return &models.ItemReport{
		ID:         id,
		ReporterID: reporterID,
		Type:       rt,
		Status:     models.ReportStatusOpen,
		Category:   category,
		Title:      title,
	}
}

func TestFindCandidatesLocalFallback(t *testing.T) {
	cascade := &fakeCascade{err: llm.ErrExhausted}
	matcher := newTestMatcher(cascade)

	source := openReport("src", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	candidates := []*models.ItemReport{
		openReport("c1", "u2", models.ReportTypeFound, models.CategoryElectronics, "iPhone found near library"),
		openReport("c2", "u3", models.ReportTypeFound, models.CategoryAccessories, "Black iPhone case"),
	}

	matches := matcher.FindCandidates(source, candidates)
	if len(matches) != 1 {
		t.Fatalf("FindCandidates returned %d matches, want 1: %+v", len(matches), matches)
	}
	if matches[0].ID != "c1" {
		t.Errorf("match ID = %q, want c1", matches[0].ID)
	}
	if matches[0].Confidence != 55 {
		t.Errorf("match confidence = %d, want 55", matches[0].Confidence)
	}
}

func TestFindCandidatesUsesCascadeResponse(t *testing.T) {
	cascade := &fakeCascade{
		response: `{"matches":[{"id":"c2","confidence":"85%","reason":"same brand and color"},{"id":"ghost","confidence":70}]}`,
	}
	matcher := newTestMatcher(cascade)

	source := openReport("src", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	candidates := []*models.ItemReport{
		openReport("c1", "u2", models.ReportTypeFound, models.CategoryElectronics, "Silver laptop"),
		openReport("c2", "u3", models.ReportTypeFound, models.CategoryElectronics, "Phone at front desk"),
	}

	matches := matcher.FindCandidates(source, candidates)
	if len(matches) != 1 {
		t.Fatalf("FindCandidates returned %d matches, want 1 (invented id dropped): %+v", len(matches), matches)
	}
	if matches[0].ID != "c2" || matches[0].Confidence != 85 {
		t.Errorf("match = %+v, want id c2 confidence 85", matches[0])
	}
	if matches[0].Reason != "same brand and color" {
		t.Errorf("match reason = %q, want %q", matches[0].Reason, "same brand and color")
	}
}

func TestFindCandidatesPreFilter(t *testing.T) {
	cascade := &fakeCascade{err: llm.ErrExhausted}
	matcher := newTestMatcher(cascade)

	source := openReport("src", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")

	sameType := openReport("same-type", "u2", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	sameReporter := openReport("same-reporter", "u1", models.ReportTypeFound, models.CategoryElectronics, "Black iPhone 13")
	resolved := openReport("resolved", "u3", models.ReportTypeFound, models.CategoryElectronics, "Black iPhone 13")
	resolved.Status = models.ReportStatusResolved

	matches := matcher.FindCandidates(source, []*models.ItemReport{sameType, sameReporter, resolved, source})
	if len(matches) != 0 {
		t.Errorf("FindCandidates returned %d matches, want 0: %+v", len(matches), matches)
	}
	// nothing survived the pre-filter, so no model call should happen
	if cascade.callCount() != 0 {
		t.Errorf("cascade called %d times, want 0", cascade.callCount())
	}
}

func TestFindCandidatesCategoryNarrowing(t *testing.T) {
	cascade := &fakeCascade{
		response: `{"matches":[{"id":"books","confidence":90}]}`,
	}
	matcher := newTestMatcher(cascade)

	source := openReport("src", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	candidates := []*models.ItemReport{
		openReport("books", "u2", models.ReportTypeFound, models.CategoryBooks, "Calculus textbook"),
		openReport("elec", "u3", models.ReportTypeFound, models.CategoryElectronics, "Phone at front desk"),
	}

	// one candidate shares the category, so the set narrows and the model's
	// out-of-set answer is dropped
	matches := matcher.FindCandidates(source, candidates)
	if len(matches) != 0 {
		t.Errorf("narrowed FindCandidates returned %+v, want none", matches)
	}
	if prompt := cascade.lastPrompt(); strings.Contains(prompt, `"books"`) {
		t.Error("narrowed prompt still contains the other-category candidate")
	}
}

func TestFindCandidatesNarrowingNeedsOneCandidate(t *testing.T) {
	cascade := &fakeCascade{
		response: `{"matches":[{"id":"books","confidence":75,"reason":"matching engraving"}]}`,
	}
	matcher := newTestMatcher(cascade)

	source := openReport("src", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	candidates := []*models.ItemReport{
		openReport("books", "u2", models.ReportTypeFound, models.CategoryBooks, "Phone tucked inside a textbook"),
	}

	// no candidate shares the category, so the full set goes to the model
	matches := matcher.FindCandidates(source, candidates)
	if len(matches) != 1 || matches[0].ID != "books" {
		t.Errorf("FindCandidates = %+v, want the books candidate", matches)
	}
}

func TestFindCandidatesSortedStable(t *testing.T) {
	cascade := &fakeCascade{
		response: `{"matches":[{"id":"a","confidence":70},{"id":"b","confidence":90},{"id":"c","confidence":70}]}`,
	}
	matcher := newTestMatcher(cascade)

	source := openReport("src", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	candidates := []*models.ItemReport{
		openReport("a", "u2", models.ReportTypeFound, models.CategoryElectronics, "Phone one"),
		openReport("b", "u3", models.ReportTypeFound, models.CategoryElectronics, "Phone two"),
		openReport("c", "u4", models.ReportTypeFound, models.CategoryElectronics, "Phone three"),
	}

	matches := matcher.FindCandidates(source, candidates)
	var ids []string
	for _, m := range matches {
		ids = append(ids, m.ID)
	}
	if !reflect.DeepEqual(ids, []string{"b", "a", "c"}) {
		t.Errorf("match order = %v, want [b a c] (descending, ties stable)", ids)
	}
}

func TestFindCandidatesCapsCandidateSet(t *testing.T) {
	cascade := &fakeCascade{err: llm.ErrExhausted}
	matcher := NewMatcher(cascade, 2, 40, time.Second)

	source := openReport("src", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	candidates := []*models.ItemReport{
		openReport("c1", "u2", models.ReportTypeFound, models.CategoryElectronics, "Silver calculator"),
		openReport("c2", "u3", models.ReportTypeFound, models.CategoryElectronics, "Charging brick"),
		openReport("c3", "u4", models.ReportTypeFound, models.CategoryElectronics, "Black iPhone 13"),
	}

	// c3 would be the best match but falls outside the capped set
	matches := matcher.FindCandidates(source, candidates)
	for _, m := range matches {
		if m.ID == "c3" {
			t.Errorf("capped FindCandidates still returned c3: %+v", matches)
		}
	}
}

func TestFindCandidatesEmptyMatchesIsNotFallback(t *testing.T) {
	cascade := &fakeCascade{response: `{"matches":[]}`}
	matcher := newTestMatcher(cascade)

	source := openReport("src", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	candidates := []*models.ItemReport{
		// would score 55 under the local heuristic
		openReport("c1", "u2", models.ReportTypeFound, models.CategoryElectronics, "iPhone found near library"),
	}

	// the model explicitly said "no matches"; that answer stands
	matches := matcher.FindCandidates(source, candidates)
	if len(matches) != 0 {
		t.Errorf("FindCandidates = %+v, want none", matches)
	}
}

func TestCompareItemsPinnedOnIdenticalText(t *testing.T) {
	cascade := &fakeCascade{response: `{"confidence": 10, "explanation": "different items"}`}
	matcher := newTestMatcher(cascade)

	a := openReport("a", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	a.Description = "Lost near the gym entrance"
	b := openReport("b", "u2", models.ReportTypeFound, models.CategoryElectronics, "Black iPhone 13")
	b.Description = "Lost near the gym entrance"

	result := matcher.CompareItems(a, b)
	if result.Confidence != 99 {
		t.Errorf("pinned confidence = %d, want 99", result.Confidence)
	}
	if result.Explanation != pinnedExplanation {
		t.Errorf("pinned explanation = %q, want the fixed text", result.Explanation)
	}
	if cascade.callCount() != 0 {
		t.Errorf("cascade called %d times for a pinned comparison, want 0", cascade.callCount())
	}
}

func TestCompareItemsParsesCascadeResponse(t *testing.T) {
	cascade := &fakeCascade{
		response: "Here is my assessment:\n```json\n{\"confidence\": \"0.8\", \"explanation\": \"Same model and color.\", \"similarities\": [\"color\"], \"differences\": []}\n```",
	}
	matcher := newTestMatcher(cascade)

	a := openReport("a", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	b := openReport("b", "u2", models.ReportTypeFound, models.CategoryElectronics, "Phone at front desk")

	result := matcher.CompareItems(a, b)
	if result.Confidence != 80 {
		t.Errorf("confidence = %d, want 80 (fraction coerced)", result.Confidence)
	}
	if result.Explanation != "Same model and color." {
		t.Errorf("explanation = %q", result.Explanation)
	}
	if !reflect.DeepEqual(result.Similarities, []string{"color"}) {
		t.Errorf("similarities = %v, want [color]", result.Similarities)
	}
}

func TestCompareItemsLocalFallback(t *testing.T) {
	cascade := &fakeCascade{err: llm.ErrExhausted}
	matcher := newTestMatcher(cascade)

	a := openReport("a", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	a.DateText = "2026-08-10"
	b := openReport("b", "u2", models.ReportTypeFound, models.CategoryElectronics, "iPhone found near library")
	b.DateText = "2026-08-12"

	result := matcher.CompareItems(a, b)
	// category 40 + one shared keyword 15 + temporal proximity 10
	if result.Confidence != 65 {
		t.Errorf("local confidence = %d, want 65", result.Confidence)
	}
	if result.Explanation != localEstimateNote {
		t.Errorf("explanation = %q, want the local estimate note", result.Explanation)
	}
	if len(result.Similarities) != 3 {
		t.Errorf("similarities = %v, want 3 entries", result.Similarities)
	}
}

func TestExtractAttributesParsesResponse(t *testing.T) {
	cascade := &fakeCascade{
		response: "```json\n{\"title\":\"Blue JanSport backpack\",\"category\":\"Gadgets\",\"tags\":[\"backpack\",\"blue\"],\"color\":\"blue\",\"brand\":\"JanSport\",\"condition\":\"worn\",\"distinguishing_features\":\"Broken zipper on the front pocket\"}\n```",
	}
	matcher := newTestMatcher(cascade)

	attrs := matcher.ExtractAttributes([]byte{0xff, 0xd8})
	if attrs.Title != "Blue JanSport backpack" {
		t.Errorf("title = %q", attrs.Title)
	}
	// unknown category collapses to Other
	if attrs.Category != models.CategoryOther {
		t.Errorf("category = %q, want Other", attrs.Category)
	}
	if !reflect.DeepEqual(attrs.Tags, []string{"backpack", "blue"}) {
		t.Errorf("tags = %v", attrs.Tags)
	}
	if attrs.Condition != "worn" {
		t.Errorf("condition = %q, want worn", attrs.Condition)
	}
}

func TestExtractAttributesDegradedOnFailure(t *testing.T) {
	cascade := &fakeCascade{err: llm.ErrExhausted}
	matcher := newTestMatcher(cascade)

	attrs := matcher.ExtractAttributes([]byte{0xff, 0xd8})
	if !reflect.DeepEqual(attrs, models.ExtractedAttributes{}) {
		t.Errorf("degraded attributes = %+v, want zero value", attrs)
	}
}

func TestSignatureTracksOpenReportState(t *testing.T) {
	now := time.Now()
	r1 := openReport("r1", "u1", models.ReportTypeLost, models.CategoryElectronics, "Black iPhone 13")
	r1.CreatedAt = now
	r2 := openReport("r2", "u2", models.ReportTypeFound, models.CategoryElectronics, "Phone at front desk")
	r2.CreatedAt = now.Add(time.Minute)

	base := Signature("u1", []*models.ItemReport{r1, r2})
	if again := Signature("u1", []*models.ItemReport{r1, r2}); again != base {
		t.Errorf("signature not stable: %q vs %q", base, again)
	}

	r3 := openReport("r3", "u3", models.ReportTypeFound, models.CategoryKeys, "Key ring")
	r3.CreatedAt = now.Add(2 * time.Minute)
	if grown := Signature("u1", []*models.ItemReport{r1, r2, r3}); grown == base {
		t.Error("signature unchanged after a new report appeared")
	}
	if shrunk := Signature("u1", []*models.ItemReport{r2}); shrunk == base {
		t.Error("signature unchanged after the reporter's report resolved")
	}
}
