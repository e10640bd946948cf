package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
	"github.com/GemeenteUtrecht/dowc/internal/drcclient"
	"github.com/GemeenteUtrecht/dowc/internal/repository"
	"github.com/GemeenteUtrecht/dowc/internal/storage/filestore"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testLogger — логгер, не загрязняющий вывод тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockDRC — mock клиента Documenten API с подменяемыми функциями
// и счётчиками вызовов.
type mockDRC struct {
	mu sync.Mutex

	getDocumentFn func(ctx context.Context, drcURL string) (*model.Document, error)
	getContentFn  func(ctx context.Context, contentURL string) (io.ReadCloser, error)
	lockFn        func(ctx context.Context, drcURL string) (string, error)
	unlockFn      func(ctx context.Context, drcURL, lock string) (*model.Document, error)
	updateFn      func(ctx context.Context, drcURL string, payload drcclient.UpdatePayload) (*model.Document, error)

	lockCalls   int
	unlockCalls int
	updateCalls int
}

func (m *mockDRC) GetDocument(ctx context.Context, drcURL string) (*model.Document, error) {
	if m.getDocumentFn != nil {
		return m.getDocumentFn(ctx, drcURL)
	}
	return &model.Document{
		URL:        drcURL,
		Filename:   "report.docx",
		ContentRef: drcURL + "/download",
		Version:    1,
	}, nil
}

func (m *mockDRC) GetDocumentContent(ctx context.Context, contentURL string) (io.ReadCloser, error) {
	if m.getContentFn != nil {
		return m.getContentFn(ctx, contentURL)
	}
	return io.NopCloser(strings.NewReader("содержимое документа")), nil
}

func (m *mockDRC) LockDocument(ctx context.Context, drcURL string) (string, error) {
	m.mu.Lock()
	m.lockCalls++
	m.mu.Unlock()
	if m.lockFn != nil {
		return m.lockFn(ctx, drcURL)
	}
	return "lock-token-1", nil
}

func (m *mockDRC) UnlockDocument(ctx context.Context, drcURL, lock string) (*model.Document, error) {
	m.mu.Lock()
	m.unlockCalls++
	m.mu.Unlock()
	if m.unlockFn != nil {
		return m.unlockFn(ctx, drcURL, lock)
	}
	return &model.Document{
		URL:      drcURL,
		Filename: "report.docx",
		Version:  2,
	}, nil
}

func (m *mockDRC) UpdateDocument(ctx context.Context, drcURL string, payload drcclient.UpdatePayload) (*model.Document, error) {
	m.mu.Lock()
	m.updateCalls++
	m.mu.Unlock()
	if m.updateFn != nil {
		return m.updateFn(ctx, drcURL, payload)
	}
	return &model.Document{
		URL:      drcURL,
		Filename: payload.Bestandsnaam,
		Version:  2,
	}, nil
}

func (m *mockDRC) calls() (lock, unlock, update int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lockCalls, m.unlockCalls, m.updateCalls
}

// fakeRepo — in-memory реализация DocumentFileRepository для unit-тестов.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*model.DocumentFile

	// deleteErr, если задан, возвращается из Delete вместо удаления
	// (инъекция отказа БД)
	deleteErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*model.DocumentFile)}
}

func (r *fakeRepo) Create(_ context.Context, df *model.DocumentFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if df.Purpose == constants.PurposeWrite {
		for _, existing := range r.records {
			if existing.Purpose == constants.PurposeWrite && existing.UnversionedURL == df.UnversionedURL {
				return fmt.Errorf("%w: документ уже выдан на редактирование", repository.ErrConflict)
			}
		}
	}
	df.CreatedAt = time.Now()
	cp := *df
	r.records[df.UUID] = &cp
	return nil
}

func (r *fakeRepo) GetByUUID(_ context.Context, uuid string) (*model.DocumentFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	df, ok := r.records[uuid]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *df
	return &cp, nil
}

func (r *fakeRepo) FindWriteByUnversionedURL(_ context.Context, unversionedURL string) (*model.DocumentFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, df := range r.records {
		if df.Purpose == constants.PurposeWrite && df.UnversionedURL == unversionedURL {
			cp := *df
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) matches(df *model.DocumentFile, f repository.DocumentFileFilters) bool {
	if f.Owner != nil && df.Owner != *f.Owner {
		return false
	}
	if f.Purpose != nil && string(df.Purpose) != *f.Purpose {
		return false
	}
	if f.UnversionedURL != nil && df.UnversionedURL != *f.UnversionedURL {
		return false
	}
	if f.ErrorOnly != nil && df.Error != *f.ErrorOnly {
		return false
	}
	return true
}

func (r *fakeRepo) List(_ context.Context, filters repository.DocumentFileFilters, limit, offset int) ([]*model.DocumentFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.DocumentFile
	for _, df := range r.records {
		if r.matches(df, filters) {
			cp := *df
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UUID < result[j].UUID })
	if offset >= len(result) {
		return nil, nil
	}
	result = result[offset:]
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *fakeRepo) Count(_ context.Context, filters repository.DocumentFileFilters) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, df := range r.records {
		if r.matches(df, filters) {
			count++
		}
	}
	return count, nil
}

func (r *fakeRepo) ListWritePending(_ context.Context) ([]*model.DocumentFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*model.DocumentFile
	for _, df := range r.records {
		if df.Purpose == constants.PurposeWrite && !df.SafeForDeletion && !df.Error {
			cp := *df
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r *fakeRepo) ListByUnversionedURLs(_ context.Context, urls []string) ([]*model.DocumentFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		set[u] = struct{}{}
	}
	var result []*model.DocumentFile
	for _, df := range r.records {
		if _, ok := set[df.UnversionedURL]; ok {
			cp := *df
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (r *fakeRepo) UpdateFilename(_ context.Context, uuid, filename string, changedName bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	df, ok := r.records[uuid]
	if !ok {
		return repository.ErrNotFound
	}
	df.Filename = filename
	df.ChangedName = changedName
	return nil
}

func (r *fakeRepo) MarkSafeForDeletion(_ context.Context, uuids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range uuids {
		if df, ok := r.records[id]; ok {
			df.SafeForDeletion = true
			df.Lock = ""
			df.Error = false
			df.ErrorMessage = ""
		}
	}
	return nil
}

func (r *fakeRepo) MarkError(_ context.Context, uuids []string, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range uuids {
		if df, ok := r.records[id]; ok {
			df.Error = true
			df.ErrorMessage = message
		}
	}
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, uuid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	df, ok := r.records[uuid]
	if !ok {
		return repository.ErrNotFound
	}
	if r.deleteErr != nil {
		return r.deleteErr
	}
	if df.Purpose == constants.PurposeWrite && !df.SafeForDeletion {
		return repository.ErrDeletionProtected
	}
	delete(r.records, uuid)
	return nil
}

func (r *fakeRepo) CountByPurpose(_ context.Context) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int)
	for _, df := range r.records {
		counts[string(df.Purpose)]++
	}
	return counts, nil
}

// newTestService создаёт DocumentFileService с fake-репозиторием,
// mock-клиентом DRC и реальным filestore во временной директории.
func newTestService(t *testing.T, drc *mockDRC) (*DocumentFileService, *fakeRepo, *filestore.FileStore) {
	t.Helper()

	store, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}

	repo := newFakeRepo()
	svc := NewDocumentFileService(repo, store, drc, testSecret, testLogger())
	return svc, repo, store
}
