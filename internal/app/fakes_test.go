package app

import (
	"context"
	"sync"

	"github.com/sha1n/relic-search/internal/auth"
	"github.com/sha1n/relic-search/internal/domain"
	"github.com/sha1n/relic-search/internal/extract"
	"github.com/sha1n/relic-search/internal/search"
)

// fakeEngine is an in-memory Engine recording its calls.
type fakeEngine struct {
	mu sync.Mutex

	searchResp *search.Response
	searchErr  error
	buildErr   error
	ensureErr  error
	ensureOK   bool
	indexErr   error
	outcome    extract.Outcome
	removeErr  error
	status     search.Status

	lastRequest   search.Request
	lastPrincipal string
	builds        int
	ensures       int
	indexed       []string
	removed       []string
	closed        bool
}

func (f *fakeEngine) Search(ctx context.Context, req search.Request) (*search.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRequest = req
	f.lastPrincipal = auth.Principal(ctx)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if f.searchResp != nil {
		return f.searchResp, nil
	}
	return &search.Response{Results: []domain.Result{}}, nil
}

func (f *fakeEngine) Status() search.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeEngine) BuildIndex(ctx context.Context) (*search.BuildReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builds++
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	return &search.BuildReport{Generation: uint64(f.builds), Documents: 3}, nil
}

func (f *fakeEngine) EnsureIndex(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return f.ensureOK, f.ensureErr
}

func (f *fakeEngine) IndexDoc(ctx context.Context, sourceType, id string) (extract.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = append(f.indexed, sourceType+"/"+id)
	return f.outcome, f.indexErr
}

func (f *fakeEngine) RemoveDoc(ctx context.Context, sourceType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, sourceType+"/"+id)
	return f.removeErr
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEngine) counts() (builds, ensures int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.builds, f.ensures
}
