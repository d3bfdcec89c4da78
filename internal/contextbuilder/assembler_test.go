package contextbuilder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sopdesk/backend/internal/index"
	"github.com/sopdesk/backend/internal/search"
	"github.com/sopdesk/backend/internal/storage/models"
	"github.com/sopdesk/backend/internal/wiki"
)

type fakeSource struct {
	pages    map[string]*wiki.Page
	fetchErr error
}

func (f *fakeSource) ListPages(_ context.Context, _ string) ([]wiki.Page, error) {
	return nil, nil
}

func (f *fakeSource) GetPageByID(_ context.Context, id string) (*wiki.Page, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	page, ok := f.pages[id]
	if !ok {
		return nil, wiki.ErrPageNotFound
	}
	return page, nil
}

func indexedRefundDoc(now time.Time) *models.ProcedureDocument {
	return &models.ProcedureDocument{
		ID:           "p1",
		Title:        "Refund SOP",
		CleanContent: "How to process a refund. 1. Verify the claim. 2. Issue the refund and contact a supervisor.",
		Sections: []models.Section{
			{Title: "Main Content", Content: "Refund steps.", OrderIndex: 0},
		},
		Category:     models.CategoryReturns,
		Keywords:     []string{"refund"},
		Version:      1,
		LastModified: now.Add(-10 * 24 * time.Hour),
	}
}

func testAssembler(source *fakeSource, docs ...*models.ProcedureDocument) *Assembler {
	store := index.NewStore()
	store.Publish(docs, time.Now())
	engine := search.NewEngine(store, nil, 0.6)
	return NewAssembler(engine, source)
}

func TestBuildContext_SubstitutesNewerVersion(t *testing.T) {
	now := time.Now()
	source := &fakeSource{pages: map[string]*wiki.Page{
		"p1": {
			ID:    "p1",
			Title: "Refund SOP",
			RawBody: "<h2>Steps</h2><p>1. Updated refund flow with new approval limits. " +
				"Contact the returns supervisor before issuing anything.</p>",
			Version:        2,
			LastModifiedAt: now,
		},
	}}
	assembler := testAssembler(source, indexedRefundDoc(now))

	enhanced := assembler.BuildContext(context.Background(), "I want a refund", "", "")

	if len(enhanced.Results) == 0 {
		t.Fatal("expected results for a refund query")
	}
	doc := enhanced.Results[0].Document
	if doc.Version != 2 {
		t.Errorf("expected the live version substituted, got version %d", doc.Version)
	}
	if doc.CleanContent == "" || doc.CleanContent == indexedRefundDoc(now).CleanContent {
		t.Error("expected re-extracted content from the live page")
	}
}

func TestBuildContext_SameVersionKeepsIndexedCopy(t *testing.T) {
	now := time.Now()
	indexed := indexedRefundDoc(now)
	source := &fakeSource{pages: map[string]*wiki.Page{
		"p1": {
			ID:             "p1",
			Title:          "Refund SOP",
			RawBody:        "<p>anything</p>",
			Version:        1,
			LastModifiedAt: now,
		},
	}}
	assembler := testAssembler(source, indexed)

	enhanced := assembler.BuildContext(context.Background(), "I want a refund", "", "")

	if len(enhanced.Results) == 0 {
		t.Fatal("expected results")
	}
	if enhanced.Results[0].Document != indexed {
		t.Error("same source version must keep the indexed document")
	}
}

func TestBuildContext_FetchFailureFallsBackToCache(t *testing.T) {
	now := time.Now()
	indexed := indexedRefundDoc(now)
	source := &fakeSource{fetchErr: errors.New("source timeout")}
	assembler := testAssembler(source, indexed)

	enhanced := assembler.BuildContext(context.Background(), "I want a refund", "", "")

	if len(enhanced.Results) == 0 {
		t.Fatal("expected the cached result despite the fetch failure")
	}
	if enhanced.Results[0].Document != indexed {
		t.Error("fetch failure must fall back to the indexed copy")
	}
}

func TestBuildContextWithConfidence_AttachesMetrics(t *testing.T) {
	now := time.Now()
	assembler := testAssembler(&fakeSource{}, indexedRefundDoc(now))

	enhanced := assembler.BuildContextWithConfidence(
		context.Background(), "How do I process a refund for a damaged item?", "customer sent photos", "high")

	if enhanced.Confidence == nil {
		t.Fatal("expected confidence metrics")
	}
	if enhanced.Confidence.SOPRelevance <= 0 {
		t.Errorf("expected positive relevance confidence, got %.2f", enhanced.Confidence.SOPRelevance)
	}
	if enhanced.Confidence.ContentFreshness != 1.0 {
		t.Errorf("a 10-day-old document is fresh, got %.2f", enhanced.Confidence.ContentFreshness)
	}
	if enhanced.Confidence.QueryClarity != 1.0 {
		t.Errorf("clear query with notes and priority should max clarity, got %.2f",
			enhanced.Confidence.QueryClarity)
	}
}

func TestRelevanceConfidence(t *testing.T) {
	if got := relevanceConfidence(nil); got != 0 {
		t.Errorf("no results must score 0, got %.2f", got)
	}

	results := []search.RelevantResult{
		{RelevanceScore: 0.9},
		{RelevanceScore: 0.5},
	}
	// Mean 0.7 plus 0.1 for a strong hit.
	if got := relevanceConfidence(results); got < 0.799 || got > 0.801 {
		t.Errorf("expected 0.8, got %.4f", got)
	}

	breadth := []search.RelevantResult{
		{RelevanceScore: 0.5},
		{RelevanceScore: 0.5},
		{RelevanceScore: 0.5},
	}
	// Mean 0.5 plus 0.05 for breadth.
	if got := relevanceConfidence(breadth); got < 0.549 || got > 0.551 {
		t.Errorf("expected 0.55, got %.4f", got)
	}

	capped := []search.RelevantResult{
		{RelevanceScore: 0.95},
		{RelevanceScore: 0.95},
		{RelevanceScore: 0.95},
	}
	if got := relevanceConfidence(capped); got != 1.0 {
		t.Errorf("confidence must cap at 1.0, got %.4f", got)
	}
}

func TestFreshnessConfidence(t *testing.T) {
	now := time.Now()
	results := []search.RelevantResult{
		{Document: &models.ProcedureDocument{LastModified: now.Add(-10 * 24 * time.Hour)}},
		{Document: &models.ProcedureDocument{LastModified: now.Add(-60 * 24 * time.Hour)}},
		{Document: &models.ProcedureDocument{LastModified: now.Add(-200 * 24 * time.Hour)}},
	}

	// (1.0 + 0.7 + 0.4) / 3.
	got := freshnessConfidence(results, now)
	if got < 0.699 || got > 0.701 {
		t.Errorf("expected 0.7, got %.4f", got)
	}

	if got := freshnessConfidence(nil, now); got != 0 {
		t.Errorf("no results must score 0, got %.4f", got)
	}
}

func TestQueryClarity(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		notes    string
		priority string
		want     float64
	}{
		{"bare short low-priority query", "hi", "", "low", 0.5},
		{"question word only", "refund", "", "low", 0.65},
		{"everything", "How do I process a refund for a damaged item", "customer sent photos", "urgent", 1.0},
		{"length and priority", "please check the delayed delivery status today", "", "", 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := queryClarity(tt.query, tt.notes, tt.priority)
			if got < tt.want-0.001 || got > tt.want+0.001 {
				t.Errorf("queryClarity(%q) = %.4f, want %.4f", tt.query, got, tt.want)
			}
		})
	}
}

func TestValidateContextQuality(t *testing.T) {
	assembler := &Assembler{}
	now := time.Now()

	t.Run("empty context invalid", func(t *testing.T) {
		validation := assembler.ValidateContextQuality(&EnhancedContext{})
		if validation.IsValid {
			t.Error("empty context must be invalid")
		}
		if len(validation.Issues) != len(validation.Recommendations) {
			t.Error("each issue needs a matching recommendation")
		}
	})

	t.Run("low mean relevance flagged", func(t *testing.T) {
		validation := assembler.ValidateContextQuality(&EnhancedContext{
			Results: []search.RelevantResult{
				{Document: &models.ProcedureDocument{LastModified: now}, RelevanceScore: 0.1},
				{Document: &models.ProcedureDocument{LastModified: now}, RelevanceScore: 0.2},
			},
		})
		if validation.IsValid {
			t.Error("mean relevance below threshold must be invalid")
		}
	})

	t.Run("outdated document flagged", func(t *testing.T) {
		validation := assembler.ValidateContextQuality(&EnhancedContext{
			Results: []search.RelevantResult{
				{
					Document:       &models.ProcedureDocument{Title: "Old SOP", LastModified: now.Add(-400 * 24 * time.Hour)},
					RelevanceScore: 0.9,
				},
			},
		})
		if validation.IsValid {
			t.Error("an outdated grounding document must invalidate the context")
		}
	})

	t.Run("healthy context valid", func(t *testing.T) {
		validation := assembler.ValidateContextQuality(&EnhancedContext{
			Results: []search.RelevantResult{
				{Document: &models.ProcedureDocument{LastModified: now}, RelevanceScore: 0.8},
			},
		})
		if !validation.IsValid {
			t.Errorf("expected valid context, issues: %v", validation.Issues)
		}
	})
}

func TestRemapSections(t *testing.T) {
	fresh := &models.ProcedureDocument{
		Sections: []models.Section{
			{Title: "Purpose", Content: "new purpose"},
			{Title: "Steps", Content: "new steps"},
		},
	}

	t.Run("matching titles carry over", func(t *testing.T) {
		remapped := remapSections([]models.Section{{Title: "Steps", Content: "old steps"}}, fresh)
		if len(remapped) != 1 || remapped[0].Content != "new steps" {
			t.Errorf("expected the fresh Steps section, got %+v", remapped)
		}
	})

	t.Run("no survivors fall back to leading sections", func(t *testing.T) {
		remapped := remapSections([]models.Section{{Title: "Removed"}}, fresh)
		if len(remapped) != 1 || remapped[0].Title != "Purpose" {
			t.Errorf("expected the leading fresh section, got %+v", remapped)
		}
	})

	t.Run("no matched sections takes everything", func(t *testing.T) {
		remapped := remapSections(nil, fresh)
		if len(remapped) != 2 {
			t.Errorf("expected all fresh sections, got %d", len(remapped))
		}
	})
}

func TestGenerateSummary(t *testing.T) {
	assembler := &Assembler{}
	enhanced := &EnhancedContext{
		Query: "refund",
		Results: []search.RelevantResult{
			{
				Document:       &models.ProcedureDocument{Title: "Refund SOP", Category: models.CategoryReturns},
				RelevanceScore: 0.9,
				Reasoning:      "category match",
			},
		},
	}

	summary := assembler.GenerateSummary(enhanced)
	if summary == "" {
		t.Fatal("expected a summary")
	}
	for _, fragment := range []string{"refund", "Refund SOP", "category match"} {
		if !strings.Contains(summary, fragment) {
			t.Errorf("summary missing %q: %s", fragment, summary)
		}
	}
}
