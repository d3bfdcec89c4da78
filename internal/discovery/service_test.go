package discovery

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/sopdesk/backend/internal/index"
	"github.com/sopdesk/backend/internal/storage/models"
	"github.com/sopdesk/backend/internal/wiki"
)

const procedureBody = "<h2>Purpose</h2><p>Handling the request end to end for the support team.</p>" +
	"<h2>Steps</h2><p>1. Verify the claim details. 2. Resolve the request and contact a supervisor if blocked.</p>"

type fakeSource struct {
	pages   []wiki.Page
	listErr error
}

func (f *fakeSource) ListPages(_ context.Context, _ string) ([]wiki.Page, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.pages, nil
}

func (f *fakeSource) GetPageByID(_ context.Context, id string) (*wiki.Page, error) {
	for i := range f.pages {
		if f.pages[i].ID == id {
			page := f.pages[i]
			return &page, nil
		}
	}
	return nil, wiki.ErrPageNotFound
}

type recordingPersister struct {
	savedDocs [][]*models.ProcedureDocument
	savedRuns []*models.SyncRun
}

func (p *recordingPersister) SaveDocuments(docs []*models.ProcedureDocument) error {
	p.savedDocs = append(p.savedDocs, docs)
	return nil
}

func (p *recordingPersister) SaveSyncRun(run *models.SyncRun) error {
	p.savedRuns = append(p.savedRuns, run)
	return nil
}

type recordingInvalidator struct {
	calls int
}

func (r *recordingInvalidator) InvalidateSearchResults(_ context.Context) error {
	r.calls++
	return nil
}

func testPage(id, title string, version int, modified time.Time) wiki.Page {
	return wiki.Page{
		ID:             id,
		Title:          title,
		RawBody:        procedureBody,
		Version:        version,
		LastModifiedAt: modified,
	}
}

func newTestService(source Source, store *index.Store) *Service {
	return NewService(source, "SUPPORT", store, nil, nil, 5, 0)
}

func TestDiscoverAll_IndexesProceduralPagesOnly(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	source := &fakeSource{pages: []wiki.Page{
		testPage("p1", "Refund SOP", 1, modified),
		testPage("p2", "Shipping Procedure", 1, modified),
		testPage("p3", "Team Lunch Menu", 1, modified),
	}}
	store := index.NewStore()
	service := newTestService(source, store)

	docs, err := service.DiscoverAll(context.Background())
	if err != nil {
		t.Fatalf("DiscoverAll failed: %v", err)
	}

	if len(docs) != 2 {
		t.Fatalf("expected 2 procedural documents, got %d", len(docs))
	}
	snap := store.Load()
	if snap.Len() != 2 {
		t.Errorf("expected 2 documents in index, got %d", snap.Len())
	}
	if _, ok := snap.Get("p3"); ok {
		t.Error("non-procedural page should not be indexed")
	}

	// Sorted by (category, title): returns before shipping.
	if docs[0].ID != "p1" || docs[1].ID != "p2" {
		t.Errorf("unexpected order: %s, %s", docs[0].ID, docs[1].ID)
	}
	if docs[0].Category != models.CategoryReturns {
		t.Errorf("expected returns category, got %q", docs[0].Category)
	}
	if len(docs[0].Sections) < 2 {
		t.Errorf("expected extracted sections, got %d", len(docs[0].Sections))
	}
	if len(docs[0].Keywords) == 0 {
		t.Error("expected extracted keywords")
	}
}

func TestDiscoverAll_Idempotent(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	source := &fakeSource{pages: []wiki.Page{
		testPage("p1", "Refund SOP", 1, modified),
		testPage("p2", "Billing Policy", 1, modified),
	}}
	service := newTestService(source, index.NewStore())

	first, err := service.DiscoverAll(context.Background())
	if err != nil {
		t.Fatalf("first discovery failed: %v", err)
	}
	second, err := service.DiscoverAll(context.Background())
	if err != nil {
		t.Fatalf("second discovery failed: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Error("repeated discovery over an unchanged source must produce identical documents")
	}
}

func TestDiscoverAll_PageFailureDoesNotAbort(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	broken := testPage("p2", "Broken SOP", 1, modified)
	broken.RawBody = ""

	source := &fakeSource{pages: []wiki.Page{
		testPage("p1", "Refund SOP", 1, modified),
		broken,
	}}
	service := newTestService(source, index.NewStore())

	docs, err := service.DiscoverAll(context.Background())
	if err != nil {
		t.Fatalf("DiscoverAll failed: %v", err)
	}

	if len(docs) != 1 || docs[0].ID != "p1" {
		t.Fatalf("expected the healthy page indexed, got %d docs", len(docs))
	}

	run := service.LastRun()
	if run == nil {
		t.Fatal("expected a recorded sync run")
	}
	if len(run.Result.Errors) != 1 || run.Result.Errors[0].PageID != "p2" {
		t.Errorf("expected one sync error for p2, got %+v", run.Result.Errors)
	}
}

func TestDiscoverAll_SourceFailure(t *testing.T) {
	source := &fakeSource{listErr: errors.New("connection refused")}
	store := index.NewStore()
	service := newTestService(source, store)

	if _, err := service.DiscoverAll(context.Background()); err == nil {
		t.Fatal("expected source failure to propagate")
	}
	if store.Load().Len() != 0 {
		t.Error("failed discovery must not touch the index")
	}
	if service.LastRun() != nil {
		t.Error("failed discovery must not record a run")
	}
}

func TestDiscoverAll_ProcessesAllBatches(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	var pages []wiki.Page
	for i := 0; i < 12; i++ {
		pages = append(pages, testPage(fmt.Sprintf("p%d", i), fmt.Sprintf("Refund SOP %d", i), 1, modified))
	}
	service := newTestService(&fakeSource{pages: pages}, index.NewStore())

	docs, err := service.DiscoverAll(context.Background())
	if err != nil {
		t.Fatalf("DiscoverAll failed: %v", err)
	}
	if len(docs) != 12 {
		t.Errorf("expected all 12 pages across batches, got %d", len(docs))
	}
}

func TestDiscoverAll_PersistsAndInvalidates(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	source := &fakeSource{pages: []wiki.Page{testPage("p1", "Refund SOP", 1, modified)}}
	persister := &recordingPersister{}
	invalidator := &recordingInvalidator{}
	service := NewService(source, "SUPPORT", index.NewStore(), persister, invalidator, 5, 0)

	if _, err := service.DiscoverAll(context.Background()); err != nil {
		t.Fatalf("DiscoverAll failed: %v", err)
	}

	if len(persister.savedDocs) != 1 || len(persister.savedDocs[0]) != 1 {
		t.Errorf("expected documents mirrored once, got %d calls", len(persister.savedDocs))
	}
	if len(persister.savedRuns) != 1 || !persister.savedRuns[0].Full {
		t.Errorf("expected one full sync run persisted, got %+v", persister.savedRuns)
	}
	if invalidator.calls != 1 {
		t.Errorf("expected search cache invalidated once, got %d", invalidator.calls)
	}
}

func TestIncrementalSync_AddUpdateRemove(t *testing.T) {
	before := time.Now().Add(-2 * time.Hour)
	after := time.Now().Add(time.Hour)

	source := &fakeSource{pages: []wiki.Page{
		testPage("p1", "Refund SOP", 1, before),
		testPage("p2", "Shipping Procedure", 1, before),
		testPage("p3", "Account Recovery SOP", 1, before),
	}}
	store := index.NewStore()
	service := newTestService(source, store)

	if _, err := service.DiscoverAll(context.Background()); err != nil {
		t.Fatalf("initial discovery failed: %v", err)
	}
	lastSync := store.Load().LastSync()
	untouched, _ := store.Load().Get("p3")

	// p1 edited, p2 deleted, p4 created; p3 untouched.
	source.pages = []wiki.Page{
		testPage("p1", "Refund SOP", 2, after),
		testPage("p3", "Account Recovery SOP", 1, before),
		testPage("p4", "Billing Dispute SOP", 1, after),
	}

	result, err := service.IncrementalSync(context.Background(), lastSync)
	if err != nil {
		t.Fatalf("IncrementalSync failed: %v", err)
	}

	if result.Added != 1 || result.Updated != 1 || result.Removed != 1 {
		t.Errorf("expected added=1 updated=1 removed=1, got %+v", result)
	}
	if result.Total != 3 {
		t.Errorf("expected 3 documents total, got %d", result.Total)
	}

	snap := store.Load()
	if _, ok := snap.Get("p2"); ok {
		t.Error("deleted page should be dropped from the index")
	}
	if updated, _ := snap.Get("p1"); updated == nil || updated.Version != 2 {
		t.Errorf("expected p1 re-extracted at version 2, got %+v", updated)
	}
	if _, ok := snap.Get("p4"); !ok {
		t.Error("new page should be indexed")
	}

	// Untouched documents carry over without re-extraction.
	if kept, _ := snap.Get("p3"); kept != untouched {
		t.Error("untouched document must be the identical indexed object")
	}
}

func TestIncrementalSync_SkipsOutOfOrderVersion(t *testing.T) {
	before := time.Now().Add(-2 * time.Hour)
	after := time.Now().Add(time.Hour)

	source := &fakeSource{pages: []wiki.Page{testPage("p1", "Refund SOP", 3, before)}}
	store := index.NewStore()
	service := newTestService(source, store)

	if _, err := service.DiscoverAll(context.Background()); err != nil {
		t.Fatalf("initial discovery failed: %v", err)
	}
	lastSync := store.Load().LastSync()

	// A stale listing claims an older version with a newer timestamp.
	source.pages = []wiki.Page{testPage("p1", "Refund SOP", 2, after)}

	result, err := service.IncrementalSync(context.Background(), lastSync)
	if err != nil {
		t.Fatalf("IncrementalSync failed: %v", err)
	}

	if result.Updated != 0 {
		t.Errorf("out-of-order version must not count as an update, got %d", result.Updated)
	}
	doc, _ := store.Load().Get("p1")
	if doc.Version != 3 {
		t.Errorf("indexed version must stay at 3, got %d", doc.Version)
	}
}

func TestIncrementalSync_ZeroLastSyncRebuildsEverything(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	source := &fakeSource{pages: []wiki.Page{
		testPage("p1", "Refund SOP", 1, modified),
		testPage("p2", "Shipping Procedure", 1, modified),
	}}
	store := index.NewStore()
	service := newTestService(source, store)

	result, err := service.IncrementalSync(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("IncrementalSync failed: %v", err)
	}

	if result.Added != 2 || result.Total != 2 {
		t.Errorf("zero last sync should extract every page, got %+v", result)
	}
}

func TestIncrementalSync_SourceFailureKeepsIndex(t *testing.T) {
	modified := time.Now().Add(-time.Hour)
	source := &fakeSource{pages: []wiki.Page{testPage("p1", "Refund SOP", 1, modified)}}
	store := index.NewStore()
	service := newTestService(source, store)

	if _, err := service.DiscoverAll(context.Background()); err != nil {
		t.Fatalf("initial discovery failed: %v", err)
	}

	source.listErr = errors.New("503 from source")
	if _, err := service.IncrementalSync(context.Background(), store.Load().LastSync()); err == nil {
		t.Fatal("expected source failure to propagate")
	}
	if store.Load().Len() != 1 {
		t.Error("failed sync must leave the previous snapshot serving")
	}
}

func TestExtractDocument_NonProcedural(t *testing.T) {
	doc, err := ExtractDocument(testPage("p1", "Team Lunch Menu", 1, time.Now()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc != nil {
		t.Errorf("non-procedural page must extract to nil, got %+v", doc)
	}
}

func TestExtractDocument_EmptyBody(t *testing.T) {
	page := testPage("p1", "Refund SOP", 1, time.Now())
	page.RawBody = "<p>   </p>"

	if _, err := ExtractDocument(page); err == nil {
		t.Error("expected an error for a page with no extractable content")
	}
}
