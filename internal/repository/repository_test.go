package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/GemeenteUtrecht/dowc/internal/config"
	"github.com/GemeenteUtrecht/dowc/internal/database"
	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
)

// setupTestDB запускает PostgreSQL контейнер, применяет миграции.
// Возвращает pgxpool.Pool с очисткой через t.Cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgres:17-alpine",
		postgres.WithDatabase("dowc_test"),
		postgres.WithUsername("dowc"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostgreSQL контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	// Настраиваем env для config.Load()
	t.Setenv("DOWC_DB_HOST", host)
	t.Setenv("DOWC_DB_PORT", port.Port())
	t.Setenv("DOWC_DB_NAME", "dowc_test")
	t.Setenv("DOWC_DB_USER", "dowc")
	t.Setenv("DOWC_DB_PASSWORD", "test-password")
	t.Setenv("DOWC_DB_SSL_MODE", "disable")
	t.Setenv("DOWC_JWKS_URL", "http://localhost:8080/jwks")
	t.Setenv("DOWC_DRC_URL", "http://localhost:8081/api/v1")
	t.Setenv("DOWC_DRC_CLIENT_ID", "test")
	t.Setenv("DOWC_DRC_CLIENT_SECRET", "test")
	t.Setenv("DOWC_SECRET_KEY", "0123456789abcdef0123456789abcdef")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))

	// Применяем миграции
	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Ошибка миграций: %v", err)
	}

	// Подключаемся
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Ошибка подключения: %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newTestDocumentFile возвращает заполненную write-запись для тестов.
func newTestDocumentFile(owner, drcURL string) *model.DocumentFile {
	return &model.DocumentFile{
		UUID:           uuid.New().String(),
		DRCURL:         drcURL,
		UnversionedURL: model.StripVersion(drcURL),
		Purpose:        constants.PurposeWrite,
		Owner:          owner,
		OwnerFullName:  "Test User",
		Lock:           "lock-token-abc",
		DocumentPath:   "public/aaaa/test.docx",
		OriginalPath:   "protected/aaaa/test.docx",
		Filename:       "test.docx",
		InfoURL:        "https://zaken.example.com/zaak/1",
	}
}

func TestDocumentFileCRUD(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDocumentFileRepository(pool)

	df := newTestDocumentFile("alice", "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/123?versie=2")

	// Create
	if err := repo.Create(ctx, df); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if df.CreatedAt.IsZero() {
		t.Error("CreatedAt не установлен")
	}

	// GetByUUID
	got, err := repo.GetByUUID(ctx, df.UUID)
	if err != nil {
		t.Fatalf("GetByUUID() ошибка: %v", err)
	}
	if got.Filename != "test.docx" {
		t.Errorf("Filename = %q, хотели %q", got.Filename, "test.docx")
	}
	if got.Purpose != constants.PurposeWrite {
		t.Errorf("Purpose = %q, хотели %q", got.Purpose, constants.PurposeWrite)
	}
	if got.Lock != "lock-token-abc" {
		t.Errorf("Lock = %q, хотели %q", got.Lock, "lock-token-abc")
	}
	if got.UnversionedURL != "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/123" {
		t.Errorf("UnversionedURL = %q: параметр versie не убран", got.UnversionedURL)
	}

	// FindWriteByUnversionedURL
	got2, err := repo.FindWriteByUnversionedURL(ctx, df.UnversionedURL)
	if err != nil {
		t.Fatalf("FindWriteByUnversionedURL() ошибка: %v", err)
	}
	if got2.UUID != df.UUID {
		t.Errorf("UUID = %q, хотели %q", got2.UUID, df.UUID)
	}

	// UpdateFilename
	if err := repo.UpdateFilename(ctx, df.UUID, "renamed.docx", true); err != nil {
		t.Fatalf("UpdateFilename() ошибка: %v", err)
	}
	got3, _ := repo.GetByUUID(ctx, df.UUID)
	if got3.Filename != "renamed.docx" || !got3.ChangedName {
		t.Errorf("После UpdateFilename: Filename=%q, ChangedName=%v", got3.Filename, got3.ChangedName)
	}

	// Delete защищён: write-запись ещё заблокирована
	err = repo.Delete(ctx, df.UUID)
	if !errors.Is(err, ErrDeletionProtected) {
		t.Errorf("Delete() заблокированной записи: ожидали ErrDeletionProtected, получили: %v", err)
	}

	// MarkSafeForDeletion + Delete
	if err := repo.MarkSafeForDeletion(ctx, []string{df.UUID}); err != nil {
		t.Fatalf("MarkSafeForDeletion() ошибка: %v", err)
	}
	got4, _ := repo.GetByUUID(ctx, df.UUID)
	if !got4.SafeForDeletion || got4.Lock != "" {
		t.Errorf("После MarkSafeForDeletion: SafeForDeletion=%v, Lock=%q", got4.SafeForDeletion, got4.Lock)
	}
	if err := repo.Delete(ctx, df.UUID); err != nil {
		t.Fatalf("Delete() ошибка: %v", err)
	}
	_, err = repo.GetByUUID(ctx, df.UUID)
	if err != ErrNotFound {
		t.Errorf("После Delete ожидали ErrNotFound, получили: %v", err)
	}
}

func TestDocumentFileSingleWriter(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDocumentFileRepository(pool)

	drcURL := "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/sw-1"

	first := newTestDocumentFile("alice", drcURL)
	if err := repo.Create(ctx, first); err != nil {
		t.Fatalf("Create() первой write-записи: %v", err)
	}

	// Вторая write-запись на тот же документ — конфликт
	second := newTestDocumentFile("bob", drcURL)
	err := repo.Create(ctx, second)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Create() второй write-записи: ожидали ErrConflict, получили: %v", err)
	}

	// read-запись на тот же документ допустима
	reader := newTestDocumentFile("bob", drcURL)
	reader.Purpose = constants.PurposeRead
	reader.Lock = ""
	reader.OriginalPath = ""
	if err := repo.Create(ctx, reader); err != nil {
		t.Errorf("Create() read-записи: %v", err)
	}
}

func TestDocumentFileListAndCount(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDocumentFileRepository(pool)

	aliceDoc := newTestDocumentFile("alice", "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/l-1")
	bobDoc := newTestDocumentFile("bob", "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/l-2")
	bobRead := newTestDocumentFile("bob", "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/l-3")
	bobRead.Purpose = constants.PurposeRead
	bobRead.Lock = ""

	for _, df := range []*model.DocumentFile{aliceDoc, bobDoc, bobRead} {
		if err := repo.Create(ctx, df); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}

	// Фильтр по владельцу
	owner := "bob"
	list, err := repo.List(ctx, DocumentFileFilters{Owner: &owner}, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("List(owner=bob) вернул %d записей, хотели 2", len(list))
	}

	// Фильтр по purpose
	purpose := string(constants.PurposeRead)
	count, err := repo.Count(ctx, DocumentFileFilters{Purpose: &purpose})
	if err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 1 {
		t.Errorf("Count(purpose=read) = %d, хотели 1", count)
	}

	// CountByPurpose
	byPurpose, err := repo.CountByPurpose(ctx)
	if err != nil {
		t.Fatalf("CountByPurpose() ошибка: %v", err)
	}
	if byPurpose["write"] != 2 || byPurpose["read"] != 1 {
		t.Errorf("CountByPurpose = %v, хотели write=2, read=1", byPurpose)
	}

	// ListByUnversionedURLs
	urls := []string{aliceDoc.UnversionedURL, bobRead.UnversionedURL}
	byURL, err := repo.ListByUnversionedURLs(ctx, urls)
	if err != nil {
		t.Fatalf("ListByUnversionedURLs() ошибка: %v", err)
	}
	if len(byURL) != 2 {
		t.Errorf("ListByUnversionedURLs() вернул %d записей, хотели 2", len(byURL))
	}
}

func TestDocumentFilePendingAndErrors(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	repo := NewDocumentFileRepository(pool)

	pending := newTestDocumentFile("alice", "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/p-1")
	done := newTestDocumentFile("alice", "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/p-2")
	reader := newTestDocumentFile("alice", "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/p-3")
	reader.Purpose = constants.PurposeRead
	reader.Lock = ""

	for _, df := range []*model.DocumentFile{pending, done, reader} {
		if err := repo.Create(ctx, df); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}
	if err := repo.MarkSafeForDeletion(ctx, []string{done.UUID}); err != nil {
		t.Fatalf("MarkSafeForDeletion() ошибка: %v", err)
	}

	// Только незавершённая write-запись
	list, err := repo.ListWritePending(ctx)
	if err != nil {
		t.Fatalf("ListWritePending() ошибка: %v", err)
	}
	if len(list) != 1 || list[0].UUID != pending.UUID {
		t.Errorf("ListWritePending() вернул %d записей, хотели только %s", len(list), pending.UUID)
	}

	// MarkError выводит запись из кандидатов обхода
	if err := repo.MarkError(ctx, []string{pending.UUID}, constants.ErrMsgDocumentNotUpdated); err != nil {
		t.Fatalf("MarkError() ошибка: %v", err)
	}
	got, _ := repo.GetByUUID(ctx, pending.UUID)
	if !got.Error || got.ErrorMessage != constants.ErrMsgDocumentNotUpdated {
		t.Errorf("После MarkError: Error=%v, ErrorMessage=%q", got.Error, got.ErrorMessage)
	}

	list2, err := repo.ListWritePending(ctx)
	if err != nil {
		t.Fatalf("ListWritePending() повторный ошибка: %v", err)
	}
	if len(list2) != 0 {
		t.Errorf("ListWritePending() после MarkError вернул %d записей, хотели 0", len(list2))
	}

	// Фильтр ErrorOnly
	errorOnly := true
	errList, err := repo.List(ctx, DocumentFileFilters{ErrorOnly: &errorOnly}, 10, 0)
	if err != nil {
		t.Fatalf("List(ErrorOnly) ошибка: %v", err)
	}
	if len(errList) != 1 {
		t.Errorf("List(ErrorOnly) вернул %d записей, хотели 1", len(errList))
	}
}

func TestTxRunnerRollback(t *testing.T) {
	pool := setupTestDB(t)
	ctx := context.Background()
	runner := NewTxRunner(pool)

	df := newTestDocumentFile("alice", "https://drc.example.com/api/v1/enkelvoudiginformatieobjecten/tx-1")

	wantErr := errors.New("искусственная ошибка")
	err := runner.RunInTx(ctx, func(tx pgx.Tx) error {
		repo := NewDocumentFileRepository(tx)
		if err := repo.Create(ctx, df); err != nil {
			return err
		}
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("RunInTx() вернул %v, хотели искусственную ошибку", err)
	}

	// Запись не должна существовать после отката
	repo := NewDocumentFileRepository(pool)
	_, err = repo.GetByUUID(ctx, df.UUID)
	if err != ErrNotFound {
		t.Errorf("После отката ожидали ErrNotFound, получили: %v", err)
	}
}
