package store

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/schema"
)

const storeSchema = `
metadata_fields: [status, owner]
sources:
  Task:
    fields: [title, content, status, owner, modified]
`

func testSchema(t *testing.T, yaml string) *schema.Schema {
	t.Helper()
	s, err := schema.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return s
}

// openStore is a test helper that opens a store and closes it on cleanup
func openStore(t *testing.T, dir string) *Store {
	t.Helper()
	st, err := Open(dir, testSchema(t, storeSchema), Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Logf("Warning: Close failed: %v", err)
		}
	})
	return st
}

func doc(id, title, content, status string) domain.Document {
	d := domain.NewDocument("Task", id)
	d.Text["title"] = title
	d.Text["content"] = content
	d.Metadata["status"] = status
	d.Metadata["owner"] = "Alice@Example.com"
	d.Modified = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	return *d
}

func docs(items ...domain.Document) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		for _, d := range items {
			if !yield(d, nil) {
				return
			}
		}
	}
}

func term(field, value string) query.Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}

func ids(c *Candidates) map[string]bool {
	out := make(map[string]bool, len(c.Hits))
	for _, h := range c.Hits {
		out[h.SourceID] = true
	}
	return out
}

func sampleDocs() []domain.Document {
	return []domain.Document{
		doc("T1", "Deploy pipeline", "Run the deploy pipeline nightly", "Open"),
		doc("T2", "Write docs", "Document the API", "Closed"),
		doc("T3", "Fix login", "Users cannot log in", "In Progress"),
	}
}

func TestStore_RebuildAndQuery(t *testing.T) {
	st := openStore(t, t.TempDir())

	if st.Exists() {
		t.Fatal("Expected no index before the first rebuild")
	}
	if _, err := st.Query(context.Background(), term("content", "deploy"), QueryOptions{}); !errors.Is(err, ErrIndexMissing) {
		t.Fatalf("Query before rebuild error = %v, want ErrIndexMissing", err)
	}

	stats, err := st.Rebuild(context.Background(), docs(sampleDocs()...))
	if err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if stats.Documents != 3 {
		t.Errorf("Documents = %d, want 3", stats.Documents)
	}
	if stats.Batches != 2 {
		t.Errorf("Batches = %d, want 2", stats.Batches)
	}
	if !st.Exists() {
		t.Fatal("Expected index to exist after rebuild")
	}

	c, err := st.Query(context.Background(), term("content", "deploy"), QueryOptions{Highlight: true})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(c.Hits) != 1 {
		t.Fatalf("Expected 1 hit, got %d", len(c.Hits))
	}

	hit := c.Hits[0]
	if hit.SourceType != "Task" || hit.SourceID != "T1" {
		t.Errorf("Hit identity = %s/%s, want Task/T1", hit.SourceType, hit.SourceID)
	}
	if hit.Text["title"] != "Deploy pipeline" {
		t.Errorf("Title = %q", hit.Text["title"])
	}
	if hit.Metadata["status"] != "Open" {
		t.Errorf("Status = %q", hit.Metadata["status"])
	}
	if !hit.Modified.Equal(time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Modified = %v", hit.Modified)
	}
	if hit.BaseScore <= 0 {
		t.Errorf("BaseScore = %f, want > 0", hit.BaseScore)
	}
	if len(hit.Fragments["content"]) == 0 {
		t.Error("Expected highlighted content fragments")
	}
}

func TestStore_TextIsFoldedAndLowercased(t *testing.T) {
	st := openStore(t, t.TempDir())
	d := doc("T1", "Café déploiement", "Crème brûlée", "Open")
	if _, err := st.Rebuild(context.Background(), docs(d)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	terms := st.Analyzer().Terms("Café DÉPLOIEMENT")
	if len(terms) != 2 || terms[0] != "cafe" || terms[1] != "deploiement" {
		t.Fatalf("Terms = %v, want [cafe deploiement]", terms)
	}

	c, err := st.Query(context.Background(), term("title", "deploiement"), QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(c.Hits) != 1 {
		t.Errorf("Expected folded term to match, got %d hits", len(c.Hits))
	}
}

func TestStore_Filters(t *testing.T) {
	st := openStore(t, t.TempDir())
	if _, err := st.Rebuild(context.Background(), docs(sampleDocs()...)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	all := bleve.NewMatchAllQuery()

	tests := []struct {
		name    string
		filters domain.Filters
		want    []string
	}{
		{"none", nil, []string{"T1", "T2", "T3"}},
		{"eq", domain.Filters{"status": domain.Eq("Open")}, []string{"T1"}},
		{"in", domain.Filters{"status": domain.In("Open", "In Progress")}, []string{"T1", "T3"}},
		{"empty in", domain.Filters{"status": domain.In()}, nil},
		{"like substring", domain.Filters{"owner": domain.Like("example")}, []string{"T1", "T2", "T3"}},
		{"like wildcard", domain.Filters{"status": domain.Like("in%")}, []string{"T3"}},
		{"like no match", domain.Filters{"owner": domain.Like("bob")}, nil},
		{"source type", domain.Filters{domain.FieldSourceType: domain.Eq("Task"), "status": domain.Eq("Closed")}, []string{"T2"}},
		{"modified day", domain.Filters{domain.FieldModified: domain.Eq("2025-01-02")}, []string{"T1", "T2", "T3"}},
		{"modified timestamp", domain.Filters{domain.FieldModified: domain.Eq("2025-01-02T00:00:00Z")}, []string{"T1", "T2", "T3"}},
		{"modified other day", domain.Filters{domain.FieldModified: domain.In("2025-01-01", "2025-01-03")}, nil},
		{"modified unparseable", domain.Filters{domain.FieldModified: domain.Eq("soon")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := st.Query(context.Background(), all, QueryOptions{}, tt.filters)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			got := ids(c)
			if len(got) != len(tt.want) {
				t.Fatalf("Got %v, want %v", got, tt.want)
			}
			for _, id := range tt.want {
				if !got[id] {
					t.Errorf("Expected %s in results %v", id, got)
				}
			}
		})
	}
}

func TestStore_UpsertAndDelete(t *testing.T) {
	st := openStore(t, t.TempDir())
	ctx := context.Background()

	d := doc("T9", "Unique zebra", "zebra content", "Open")
	if err := st.Upsert(ctx, &d); !errors.Is(err, ErrIndexMissing) {
		t.Fatalf("Upsert before rebuild error = %v, want ErrIndexMissing", err)
	}

	if _, err := st.Rebuild(ctx, docs(sampleDocs()...)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if err := st.Upsert(ctx, &d); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	c, err := st.Query(ctx, term("content", "zebra"), QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(c.Hits) != 1 || c.Hits[0].SourceID != "T9" {
		t.Fatalf("Expected T9 after upsert, got %v", ids(c))
	}

	// Upsert replaces in place
	d.Text["content"] = "giraffe content"
	if err := st.Upsert(ctx, &d); err != nil {
		t.Fatalf("Second upsert failed: %v", err)
	}
	c, _ = st.Query(ctx, term("content", "zebra"), QueryOptions{})
	if len(c.Hits) != 0 {
		t.Errorf("Expected old content to be gone, got %v", ids(c))
	}
	count, _ := st.DocCount()
	if count != 4 {
		t.Errorf("DocCount = %d, want 4", count)
	}

	if err := st.Delete(ctx, "Task", "T9"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := st.Delete(ctx, "Task", "T9"); err != nil {
		t.Errorf("Deleting an absent document should be a no-op, got %v", err)
	}
	count, _ = st.DocCount()
	if count != 3 {
		t.Errorf("DocCount after delete = %d, want 3", count)
	}
}

func TestStore_FailedRebuildKeepsLiveIndex(t *testing.T) {
	dir := t.TempDir()
	st := openStore(t, dir)
	ctx := context.Background()

	if _, err := st.Rebuild(ctx, docs(sampleDocs()...)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	live := st.State().Generation

	failing := func(yield func(domain.Document, error) bool) {
		if !yield(doc("T7", "Partial", "partial only", "Open"), nil) {
			return
		}
		yield(domain.Document{}, errors.New("source unavailable"))
	}
	if _, err := st.Rebuild(ctx, failing); err == nil {
		t.Fatal("Expected rebuild to fail")
	}

	if st.State().Generation != live {
		t.Errorf("Generation = %d, want %d", st.State().Generation, live)
	}
	count, err := st.DocCount()
	if err != nil || count != 3 {
		t.Errorf("DocCount = %d (%v), want 3", count, err)
	}
	if _, err := os.Stat(st.generationPath(live + 1)); !os.IsNotExist(err) {
		t.Error("Expected aborted generation to be removed")
	}
}

func TestStore_RebuildSwapsGeneration(t *testing.T) {
	dir := t.TempDir()
	st := openStore(t, dir)
	ctx := context.Background()

	if _, err := st.Rebuild(ctx, docs(sampleDocs()...)); err != nil {
		t.Fatalf("First rebuild failed: %v", err)
	}
	first := st.State().Generation

	if _, err := st.Rebuild(ctx, docs(sampleDocs()[:1]...)); err != nil {
		t.Fatalf("Second rebuild failed: %v", err)
	}
	second := st.State().Generation
	if second <= first {
		t.Errorf("Generation did not advance: %d -> %d", first, second)
	}
	if _, err := os.Stat(st.generationPath(first)); !os.IsNotExist(err) {
		t.Error("Expected previous generation to be removed")
	}
	count, _ := st.DocCount()
	if count != 1 {
		t.Errorf("DocCount = %d, want 1", count)
	}
}

func TestStore_SwapDoesNotWaitForRunningQueries(t *testing.T) {
	dir := t.TempDir()
	st := openStore(t, dir)
	ctx := context.Background()

	if _, err := st.Rebuild(ctx, docs(sampleDocs()...)); err != nil {
		t.Fatalf("First rebuild failed: %v", err)
	}
	first := st.State().Generation

	// Hold a reader on the first generation as a long running query would
	old, err := st.acquire()
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := st.Rebuild(ctx, docs(sampleDocs()[:1]...))
		done <- err
	}()

	deadline := time.Now().Add(5 * time.Second)
	for st.State().Generation == first {
		if time.Now().After(deadline) {
			t.Fatal("Timed out waiting for the new generation to go live")
		}
		time.Sleep(5 * time.Millisecond)
	}

	c, err := st.Query(ctx, bleve.NewMatchAllQuery(), QueryOptions{})
	if err != nil {
		t.Fatalf("Query on new generation failed: %v", err)
	}
	if len(c.Hits) != 1 {
		t.Errorf("Expected 1 hit from the new generation, got %d", len(c.Hits))
	}

	select {
	case <-done:
		t.Fatal("Previous generation was retired while a query was still reading it")
	case <-time.After(50 * time.Millisecond):
	}
	if _, err := old.index.DocCount(); err != nil {
		t.Errorf("Previous generation should stay open for its reader: %v", err)
	}

	old.readers.Done()
	if err := <-done; err != nil {
		t.Fatalf("Second rebuild failed: %v", err)
	}
	if _, err := os.Stat(st.generationPath(first)); !os.IsNotExist(err) {
		t.Error("Expected previous generation to be removed after its reader finished")
	}
}

func TestStore_WritesDuringRebuildAreReplayed(t *testing.T) {
	st := openStore(t, t.TempDir())
	ctx := context.Background()
	if _, err := st.Rebuild(ctx, docs(sampleDocs()...)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	late := doc("T8", "Late arrival", "written while rebuilding", "Open")
	seq := func(yield func(domain.Document, error) bool) {
		for _, d := range sampleDocs() {
			if !yield(d, nil) {
				return
			}
		}
		if err := st.Upsert(ctx, &late); err != nil {
			t.Errorf("Upsert during rebuild failed: %v", err)
		}
		if err := st.Delete(ctx, "Task", "T2"); err != nil {
			t.Errorf("Delete during rebuild failed: %v", err)
		}
	}
	if _, err := st.Rebuild(ctx, seq); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	c, err := st.Query(ctx, bleve.NewMatchAllQuery(), QueryOptions{})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	got := ids(c)
	if !got["T8"] {
		t.Error("Expected write made during rebuild to survive the swap")
	}
	if got["T2"] {
		t.Error("Expected delete made during rebuild to survive the swap")
	}
}

func TestStore_ReopenAndSchemaChange(t *testing.T) {
	dir := t.TempDir()
	s := testSchema(t, storeSchema)

	st, err := Open(dir, s, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := st.Rebuild(context.Background(), docs(sampleDocs()...)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := Open(dir, s, Options{})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if !reopened.Exists() {
		t.Error("Expected index to exist after reopen")
	}
	_ = reopened.Close()

	changed := testSchema(t, `
metadata_fields: [status, owner, project]
sources:
  Task:
    fields: [title, content, status, owner, project]
`)
	different, err := Open(dir, changed, Options{})
	if err != nil {
		t.Fatalf("Open with changed schema failed: %v", err)
	}
	defer func() { _ = different.Close() }()
	if different.Exists() {
		t.Error("Expected index built from another schema to be treated as missing")
	}
}

func TestStore_Drop(t *testing.T) {
	dir := t.TempDir()
	st := openStore(t, dir)
	if _, err := st.Rebuild(context.Background(), docs(sampleDocs()...)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if err := st.Drop(); err != nil {
		t.Fatalf("Drop failed: %v", err)
	}
	if st.Exists() {
		t.Error("Expected no index after drop")
	}
	if _, err := os.Stat(filepath.Join(dir, ManifestFilename)); !os.IsNotExist(err) {
		t.Error("Expected manifest to be removed")
	}
}

func TestStore_QueryHonoursContext(t *testing.T) {
	st := openStore(t, t.TempDir())
	if _, err := st.Rebuild(context.Background(), docs(sampleDocs()...)); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := st.Query(ctx, bleve.NewMatchAllQuery(), QueryOptions{}); err == nil {
		t.Error("Expected canceled context to fail the query")
	}
}
