package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
)

// DocumentFileRepository — интерфейс CRUD для таблицы document_files.
type DocumentFileRepository interface {
	// Create создаёт новую запись checkout'а.
	// Для purpose=write частичный уникальный индекс по unversioned_url
	// гарантирует single-writer: при конфликте возвращается ErrConflict.
	Create(ctx context.Context, df *model.DocumentFile) error
	// GetByUUID возвращает запись по UUID.
	GetByUUID(ctx context.Context, uuid string) (*model.DocumentFile, error)
	// FindWriteByUnversionedURL возвращает write-запись для документа.
	FindWriteByUnversionedURL(ctx context.Context, unversionedURL string) (*model.DocumentFile, error)
	// List возвращает список записей с фильтрацией.
	List(ctx context.Context, filters DocumentFileFilters, limit, offset int) ([]*model.DocumentFile, error)
	// Count возвращает количество записей с фильтрацией.
	Count(ctx context.Context, filters DocumentFileFilters) (int, error)
	// ListWritePending возвращает write-записи с незавершёнными
	// обязательствами (кандидаты bulk check-in).
	ListWritePending(ctx context.Context) ([]*model.DocumentFile, error)
	// ListByUnversionedURLs возвращает все записи для набора документов.
	ListByUnversionedURLs(ctx context.Context, urls []string) ([]*model.DocumentFile, error)
	// UpdateFilename обновляет имя файла и флаг переименования.
	UpdateFilename(ctx context.Context, uuid, filename string, changedName bool) error
	// MarkSafeForDeletion помечает записи как безопасные для удаления
	// (update и unlock выполнены, блокировка снята).
	MarkSafeForDeletion(ctx context.Context, uuids []string) error
	// MarkError помечает записи терминальной ошибкой.
	MarkError(ctx context.Context, uuids []string, message string) error
	// Delete удаляет запись. Write-запись с невыполненными обязательствами
	// защищена: возвращается ErrDeletionProtected.
	Delete(ctx context.Context, uuid string) error
	// CountByPurpose возвращает количество записей по каждому purpose.
	CountByPurpose(ctx context.Context) (map[string]int, error)
}

// DocumentFileFilters — фильтры для списка записей.
type DocumentFileFilters struct {
	Owner          *string
	Purpose        *string
	UnversionedURL *string
	ErrorOnly      *bool
}

// documentFileRepo — реализация DocumentFileRepository.
type documentFileRepo struct {
	db DBTX
}

// NewDocumentFileRepository создаёт репозиторий записей checkout'ов.
func NewDocumentFileRepository(db DBTX) DocumentFileRepository {
	return &documentFileRepo{db: db}
}

const documentFileColumns = `uuid, drc_url, unversioned_url, purpose, owner, owner_full_name,
		lock_token, document_path, original_path, filename, changed_name,
		safe_for_deletion, info_url, error, error_message, created_at`

// scanDocumentFile сканирует строку в модель (порядок — documentFileColumns).
func scanDocumentFile(row pgx.Row) (*model.DocumentFile, error) {
	df := &model.DocumentFile{}
	err := row.Scan(
		&df.UUID, &df.DRCURL, &df.UnversionedURL, &df.Purpose, &df.Owner, &df.OwnerFullName,
		&df.Lock, &df.DocumentPath, &df.OriginalPath, &df.Filename, &df.ChangedName,
		&df.SafeForDeletion, &df.InfoURL, &df.Error, &df.ErrorMessage, &df.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return df, nil
}

func (r *documentFileRepo) Create(ctx context.Context, df *model.DocumentFile) error {
	query := `
		INSERT INTO document_files (uuid, drc_url, unversioned_url, purpose, owner, owner_full_name,
			lock_token, document_path, original_path, filename, changed_name,
			safe_for_deletion, info_url, error, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query,
		df.UUID, df.DRCURL, df.UnversionedURL, df.Purpose, df.Owner, df.OwnerFullName,
		df.Lock, df.DocumentPath, df.OriginalPath, df.Filename, df.ChangedName,
		df.SafeForDeletion, df.InfoURL, df.Error, df.ErrorMessage,
	).Scan(&df.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: документ уже выдан на редактирование", ErrConflict)
		}
		return fmt.Errorf("ошибка создания записи checkout: %w", err)
	}
	return nil
}

func (r *documentFileRepo) GetByUUID(ctx context.Context, uuid string) (*model.DocumentFile, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM document_files
		WHERE uuid = $1`, documentFileColumns)

	df, err := scanDocumentFile(r.db.QueryRow(ctx, query, uuid))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи checkout: %w", err)
	}
	return df, nil
}

func (r *documentFileRepo) FindWriteByUnversionedURL(ctx context.Context, unversionedURL string) (*model.DocumentFile, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM document_files
		WHERE unversioned_url = $1 AND purpose = 'write'`, documentFileColumns)

	df, err := scanDocumentFile(r.db.QueryRow(ctx, query, unversionedURL))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска write-записи: %w", err)
	}
	return df, nil
}

// buildDocumentFileWhere строит WHERE-условие и аргументы для фильтрации.
func buildDocumentFileWhere(filters DocumentFileFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if filters.Owner != nil {
		conditions = append(conditions, fmt.Sprintf("owner = $%d", argNum))
		args = append(args, *filters.Owner)
		argNum++
	}
	if filters.Purpose != nil {
		conditions = append(conditions, fmt.Sprintf("purpose = $%d", argNum))
		args = append(args, *filters.Purpose)
		argNum++
	}
	if filters.UnversionedURL != nil {
		conditions = append(conditions, fmt.Sprintf("unversioned_url = $%d", argNum))
		args = append(args, *filters.UnversionedURL)
		argNum++
	}
	if filters.ErrorOnly != nil {
		conditions = append(conditions, fmt.Sprintf("error = $%d", argNum))
		args = append(args, *filters.ErrorOnly)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

func (r *documentFileRepo) List(ctx context.Context, filters DocumentFileFilters, limit, offset int) ([]*model.DocumentFile, error) {
	where, args := buildDocumentFileWhere(filters, 1)
	argNum := len(args) + 1

	query := fmt.Sprintf(`
		SELECT %s
		FROM document_files
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, documentFileColumns, where, argNum, argNum+1)

	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка записей: %w", err)
	}
	defer rows.Close()

	var result []*model.DocumentFile
	for rows.Next() {
		df, err := scanDocumentFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, df)
	}
	return result, rows.Err()
}

func (r *documentFileRepo) Count(ctx context.Context, filters DocumentFileFilters) (int, error) {
	where, args := buildDocumentFileWhere(filters, 1)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM document_files %s`, where)

	var count int
	err := r.db.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей: %w", err)
	}
	return count, nil
}

func (r *documentFileRepo) ListWritePending(ctx context.Context) ([]*model.DocumentFile, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM document_files
		WHERE purpose = 'write' AND safe_for_deletion = false AND error = false
		ORDER BY created_at`, documentFileColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения незавершённых write-записей: %w", err)
	}
	defer rows.Close()

	var result []*model.DocumentFile
	for rows.Next() {
		df, err := scanDocumentFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, df)
	}
	return result, rows.Err()
}

func (r *documentFileRepo) ListByUnversionedURLs(ctx context.Context, urls []string) ([]*model.DocumentFile, error) {
	if len(urls) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM document_files
		WHERE unversioned_url = ANY($1)
		ORDER BY created_at`, documentFileColumns)

	rows, err := r.db.Query(ctx, query, urls)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения записей по документам: %w", err)
	}
	defer rows.Close()

	var result []*model.DocumentFile
	for rows.Next() {
		df, err := scanDocumentFile(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи: %w", err)
		}
		result = append(result, df)
	}
	return result, rows.Err()
}

func (r *documentFileRepo) UpdateFilename(ctx context.Context, uuid, filename string, changedName bool) error {
	query := `
		UPDATE document_files
		SET filename = $2, changed_name = $3
		WHERE uuid = $1`

	tag, err := r.db.Exec(ctx, query, uuid, filename, changedName)
	if err != nil {
		return fmt.Errorf("ошибка обновления имени файла: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *documentFileRepo) MarkSafeForDeletion(ctx context.Context, uuids []string) error {
	if len(uuids) == 0 {
		return nil
	}

	query := `
		UPDATE document_files
		SET safe_for_deletion = true, lock_token = '', error = false, error_message = ''
		WHERE uuid = ANY($1)`

	if _, err := r.db.Exec(ctx, query, uuids); err != nil {
		return fmt.Errorf("ошибка пометки записей безопасными для удаления: %w", err)
	}
	return nil
}

func (r *documentFileRepo) MarkError(ctx context.Context, uuids []string, message string) error {
	if len(uuids) == 0 {
		return nil
	}

	query := `
		UPDATE document_files
		SET error = true, error_message = $2
		WHERE uuid = ANY($1)`

	if _, err := r.db.Exec(ctx, query, uuids, message); err != nil {
		return fmt.Errorf("ошибка пометки записей ошибкой: %w", err)
	}
	return nil
}

func (r *documentFileRepo) Delete(ctx context.Context, uuid string) error {
	query := `
		DELETE FROM document_files
		WHERE uuid = $1 AND (purpose != 'write' OR safe_for_deletion = true)`

	tag, err := r.db.Exec(ctx, query, uuid)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// различаем отсутствие записи и deletion protection
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM document_files WHERE uuid = $1)`, uuid).Scan(&exists); err != nil {
			return fmt.Errorf("ошибка проверки записи: %w", err)
		}
		if exists {
			return ErrDeletionProtected
		}
		return ErrNotFound
	}
	return nil
}

func (r *documentFileRepo) CountByPurpose(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT purpose, COUNT(*)
		FROM document_files
		GROUP BY purpose`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта записей по purpose: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var purpose string
		var count int
		if err := rows.Scan(&purpose, &count); err != nil {
			return nil, fmt.Errorf("ошибка сканирования подсчёта: %w", err)
		}
		result[purpose] = count
	}
	return result, rows.Err()
}
