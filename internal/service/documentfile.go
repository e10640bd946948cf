// Пакет service — бизнес-логика DoWC.
// documentfile.go — жизненный цикл checkout'ов: выдача документа на
// чтение/редактирование, check-in локальных изменений, переименование,
// принудительное удаление.
package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
	"github.com/GemeenteUtrecht/dowc/internal/drcclient"
	"github.com/GemeenteUtrecht/dowc/internal/repository"
	"github.com/GemeenteUtrecht/dowc/internal/storage/filestore"
	"github.com/GemeenteUtrecht/dowc/internal/storage/userpath"
)

// Prometheus-метрики жизненного цикла checkout'ов.
var (
	checkoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dowc_checkouts_total",
		Help: "Общее количество запросов checkout (по purpose и статусу).",
	}, []string{"purpose", "status"})

	checkinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dowc_checkins_total",
		Help: "Общее количество check-in (по результату: updated, unchanged, error).",
	}, []string{"result"})

	checkinDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dowc_checkin_duration_seconds",
		Help:    "Длительность check-in (diff, update, unlock, очистка).",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dowc_checkout_rollbacks_total",
		Help: "Количество компенсирующих откатов незавершённых checkout'ов.",
	})
)

// DRCClient — операции Documenten API, используемые сервисами.
// Реализуется drcclient.Client; в тестах подменяется mock'ом.
type DRCClient interface {
	GetDocument(ctx context.Context, drcURL string) (*model.Document, error)
	GetDocumentContent(ctx context.Context, contentURL string) (io.ReadCloser, error)
	LockDocument(ctx context.Context, drcURL string) (string, error)
	UnlockDocument(ctx context.Context, drcURL, lock string) (*model.Document, error)
	UpdateDocument(ctx context.Context, drcURL string, payload drcclient.UpdatePayload) (*model.Document, error)
}

// CheckoutParams — параметры выдачи документа.
type CheckoutParams struct {
	// DRCURL — URL документа в Documenten API (может содержать versie)
	DRCURL string
	// Purpose — назначение: read, write, download
	Purpose constants.Purpose
	// InfoURL — происхождение использования (для уведомлений и статуса)
	InfoURL string
	// Owner — username запрашивающего пользователя
	Owner string
	// OwnerFullName — полное имя (поле auteur при update)
	OwnerFullName string
}

// DocumentFileService — движок жизненного цикла checkout'ов.
type DocumentFileService struct {
	repo      repository.DocumentFileRepository
	store     *filestore.FileStore
	drc       DRCClient
	secretKey string
	logger    *slog.Logger
}

// NewDocumentFileService создаёт сервис жизненного цикла checkout'ов.
func NewDocumentFileService(
	repo repository.DocumentFileRepository,
	store *filestore.FileStore,
	drc DRCClient,
	secretKey string,
	logger *slog.Logger,
) *DocumentFileService {
	return &DocumentFileService{
		repo:      repo,
		store:     store,
		drc:       drc,
		secretKey: secretKey,
		logger:    logger.With(slog.String("component", "documentfile_service")),
	}
}

// Checkout выдаёт документ пользователю: для purpose=write блокирует его
// в Documenten API, скачивает содержимое в рабочую и оригинальную копии,
// создаёт запись в БД.
//
// Порядок важен: сначала блокировка (single-writer со стороны Documenten API),
// затем скачивание, затем запись. Любая ошибка после блокировки компенсируется:
// best-effort unlock + удаление скачанных blobs.
func (s *DocumentFileService) Checkout(ctx context.Context, params CheckoutParams) (*model.DocumentFile, error) {
	if !params.Purpose.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPurpose, params.Purpose)
	}

	unversionedURL := model.StripVersion(params.DRCURL)

	// Single-writer: проверяем существующую write-запись до обращения к DRC
	if params.Purpose == constants.PurposeWrite {
		existing, err := s.repo.FindWriteByUnversionedURL(ctx, unversionedURL)
		if err == nil {
			checkoutsTotal.WithLabelValues(string(params.Purpose), "conflict").Inc()
			return nil, &ConflictError{
				UUID:      existing.UUID,
				Owner:     existing.Owner,
				SameOwner: existing.Owner == params.Owner,
			}
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("проверка существующей write-записи: %w", err)
		}
	}

	// Блокировка документа (только write)
	lock := ""
	if params.Purpose == constants.PurposeWrite {
		var err error
		lock, err = s.drc.LockDocument(ctx, unversionedURL)
		if err != nil {
			checkoutsTotal.WithLabelValues(string(params.Purpose), "lock_failed").Inc()
			return nil, s.mapRemoteError("блокировка документа", err)
		}
	}

	df, err := s.fetchAndStore(ctx, params, unversionedURL, lock)
	if err != nil {
		// Компенсация: снимаем блокировку, убираем скачанные blobs
		s.rollbackCheckout(ctx, unversionedURL, lock, df)
		checkoutsTotal.WithLabelValues(string(params.Purpose), "error").Inc()
		return nil, err
	}

	if err := s.repo.Create(ctx, df); err != nil {
		s.rollbackCheckout(ctx, unversionedURL, lock, df)
		if errors.Is(err, repository.ErrConflict) {
			// Гонка: вторая write-запись успела создаться между проверкой и insert
			checkoutsTotal.WithLabelValues(string(params.Purpose), "conflict").Inc()
			if existing, ferr := s.repo.FindWriteByUnversionedURL(ctx, unversionedURL); ferr == nil {
				return nil, &ConflictError{
					UUID:      existing.UUID,
					Owner:     existing.Owner,
					SameOwner: existing.Owner == params.Owner,
				}
			}
			return nil, &ConflictError{Owner: "", SameOwner: false}
		}
		checkoutsTotal.WithLabelValues(string(params.Purpose), "error").Inc()
		return nil, fmt.Errorf("создание записи checkout: %w", err)
	}

	checkoutsTotal.WithLabelValues(string(params.Purpose), "success").Inc()
	s.logger.Info("Документ выдан",
		slog.String("uuid", df.UUID),
		slog.String("purpose", string(df.Purpose)),
		slog.String("owner", df.Owner),
		slog.String("filename", df.Filename),
	)

	return df, nil
}

// fetchAndStore скачивает документ из DRC и сохраняет blobs.
// Возвращает заполненную (ещё не сохранённую в БД) запись.
// При ошибке возвращает частично заполненную запись для компенсации.
func (s *DocumentFileService) fetchAndStore(
	ctx context.Context,
	params CheckoutParams,
	unversionedURL, lock string,
) (*model.DocumentFile, error) {
	df := &model.DocumentFile{
		UUID:           uuid.New().String(),
		DRCURL:         params.DRCURL,
		UnversionedURL: unversionedURL,
		Purpose:        params.Purpose,
		Owner:          params.Owner,
		OwnerFullName:  params.OwnerFullName,
		Lock:           lock,
		InfoURL:        params.InfoURL,
	}

	doc, err := s.drc.GetDocument(ctx, params.DRCURL)
	if err != nil {
		return df, s.mapRemoteError("получение метаданных документа", err)
	}
	df.Filename = doc.Filename

	content, err := s.drc.GetDocumentContent(ctx, doc.ContentRef)
	if err != nil {
		return df, s.mapRemoteError("скачивание содержимого документа", err)
	}
	defer content.Close()

	// Рабочая копия: public/{hash}/{uuid записи}/{имя файла}.
	// UUID в пути исключает коллизии одноимённых файлов одного пользователя.
	userFolder := userpath.Folder(s.secretKey, params.Owner, constants.SubfolderPublic)
	df.DocumentPath = path.Join(userFolder, df.UUID, doc.Filename)

	if _, err := s.store.Save(df.DocumentPath, content); err != nil {
		return df, fmt.Errorf("сохранение рабочей копии: %w", err)
	}

	// Оригинальная копия (базис для diff) — только write
	if params.Purpose == constants.PurposeWrite {
		protectedFolder := userpath.Folder(s.secretKey, params.Owner, constants.SubfolderProtected)
		df.OriginalPath = path.Join(protectedFolder, df.UUID, doc.Filename)

		src, err := s.store.Open(df.DocumentPath)
		if err != nil {
			return df, fmt.Errorf("чтение рабочей копии для оригинала: %w", err)
		}
		_, err = s.store.Save(df.OriginalPath, src)
		src.Close()
		if err != nil {
			return df, fmt.Errorf("сохранение оригинальной копии: %w", err)
		}
	}

	return df, nil
}

// rollbackCheckout компенсирует незавершённый checkout: best-effort снятие
// блокировки и удаление скачанных blobs. Ошибки компенсации только логируются:
// документ с неснятой блокировкой подберёт sweeper или оператор.
func (s *DocumentFileService) rollbackCheckout(ctx context.Context, unversionedURL, lock string, df *model.DocumentFile) {
	rollbacksTotal.Inc()

	if lock != "" {
		if _, err := s.drc.UnlockDocument(ctx, unversionedURL, lock); err != nil {
			s.logger.Error("Компенсация checkout: снять блокировку не удалось, документ остаётся заблокированным",
				slog.String("unversioned_url", unversionedURL),
				slog.String("lock", lock),
				slog.String("error", err.Error()),
			)
		}
	}

	if df != nil {
		s.cleanupBlobs(df)
	}
}

// CheckIn выполняет check-in записи: сверяет рабочую копию с оригиналом,
// при изменениях обновляет документ в Documenten API, снимает блокировку,
// удаляет запись и blobs.
//
// Политика при отказе update: блокировка НЕ снимается, запись помечается
// терминальной ошибкой. Повтор — явный (повторный check-in или sweep).
//
// owner — username вызывающего; пустая строка пропускает проверку владения
// (sweeper, операторские вызовы).
// Для read/download-записей возвращает (nil, nil): документ не менялся.
func (s *DocumentFileService) CheckIn(ctx context.Context, recordUUID, owner string) (*model.Document, error) {
	start := time.Now()

	df, err := s.getOwned(ctx, recordUUID, owner)
	if err != nil {
		return nil, err
	}

	if df.Purpose != constants.PurposeWrite {
		if err := s.deleteRecord(ctx, df); err != nil {
			return nil, err
		}
		checkinsTotal.WithLabelValues("unchanged").Inc()
		return nil, nil
	}

	payload, err := s.buildUpdatePayload(df)
	if err != nil {
		return nil, err
	}

	updated := payload != nil
	if updated {
		if _, err := s.drc.UpdateDocument(ctx, df.UnversionedURL, *payload); err != nil {
			s.markTerminal(ctx, df.UUID, constants.ErrMsgDocumentNotUpdated, err)
			checkinsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("%w: %s", ErrUpdateFailed, err)
		}
	}

	doc, err := s.drc.UnlockDocument(ctx, df.UnversionedURL, df.Lock)
	if err != nil {
		s.markTerminal(ctx, df.UUID, constants.ErrMsgDocumentNotUnlocked, err)
		checkinsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s", ErrUnlockFailed, err)
	}

	// Обязательства выполнены: запись можно удалять
	if err := s.repo.MarkSafeForDeletion(ctx, []string{df.UUID}); err != nil {
		return nil, err
	}
	df.SafeForDeletion = true

	if err := s.deleteRecord(ctx, df); err != nil {
		return nil, err
	}

	result := "unchanged"
	if updated {
		result = "updated"
	}
	checkinsTotal.WithLabelValues(result).Inc()
	checkinDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("Check-in завершён",
		slog.String("uuid", df.UUID),
		slog.String("owner", df.Owner),
		slog.Bool("updated", updated),
		slog.Int("version", doc.Version),
	)

	return doc, nil
}

// buildUpdatePayload сверяет рабочую копию с оригиналом.
// Изменение — различие размера, содержимого или локальное переименование.
// Возвращает nil, если документ не менялся.
func (s *DocumentFileService) buildUpdatePayload(df *model.DocumentFile) (*drcclient.UpdatePayload, error) {
	original, err := s.store.Read(df.OriginalPath)
	if err != nil {
		return nil, fmt.Errorf("чтение оригинальной копии: %w", err)
	}
	edited, err := s.store.Read(df.DocumentPath)
	if err != nil {
		return nil, fmt.Errorf("чтение рабочей копии: %w", err)
	}

	sizeChanged := len(original) != len(edited)
	contentChanged := !bytes.Equal(original, edited)

	if !sizeChanged && !contentChanged && !df.ChangedName {
		return nil, nil
	}

	return &drcclient.UpdatePayload{
		Auteur:         df.OwnerFullName,
		Bestandsnaam:   df.Filename,
		Bestandsomvang: int64(len(edited)),
		Inhoud:         base64.StdEncoding.EncodeToString(edited),
		Lock:           df.Lock,
	}, nil
}

// UpdateFilename фиксирует локальное переименование рабочей копии.
// Переименование само по себе считается изменением при check-in.
func (s *DocumentFileService) UpdateFilename(ctx context.Context, recordUUID, owner, filename string) (*model.DocumentFile, error) {
	if filename == "" {
		return nil, fmt.Errorf("пустое имя файла")
	}

	df, err := s.getOwned(ctx, recordUUID, owner)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateFilename(ctx, df.UUID, filename, true); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	df.Filename = filename
	df.ChangedName = true

	s.logger.Debug("Файл переименован",
		slog.String("uuid", df.UUID),
		slog.String("filename", filename),
	)

	return df, nil
}

// ForceDelete принудительно удаляет запись: снимает блокировку в
// Documenten API (без учёта локальных изменений — они теряются),
// затем удаляет запись и blobs.
func (s *DocumentFileService) ForceDelete(ctx context.Context, recordUUID string) error {
	df, err := s.getOwned(ctx, recordUUID, "")
	if err != nil {
		return err
	}

	if df.Purpose == constants.PurposeWrite && !df.SafeForDeletion {
		if _, err := s.drc.UnlockDocument(ctx, df.UnversionedURL, df.Lock); err != nil {
			s.markTerminal(ctx, df.UUID, constants.ErrMsgDocumentNotUnlocked, err)
			return fmt.Errorf("%w: %s", ErrUnlockFailed, err)
		}
		if err := s.repo.MarkSafeForDeletion(ctx, []string{df.UUID}); err != nil {
			return err
		}
		df.SafeForDeletion = true
	}

	if err := s.deleteRecord(ctx, df); err != nil {
		return err
	}

	s.logger.Warn("Запись удалена принудительно",
		slog.String("uuid", df.UUID),
		slog.String("owner", df.Owner),
	)

	return nil
}

// Get возвращает запись по UUID с проверкой владения.
func (s *DocumentFileService) Get(ctx context.Context, recordUUID, owner string) (*model.DocumentFile, error) {
	return s.getOwned(ctx, recordUUID, owner)
}

// List возвращает записи пользователя с фильтрацией и общее количество.
func (s *DocumentFileService) List(
	ctx context.Context,
	filters repository.DocumentFileFilters,
	limit, offset int,
) ([]*model.DocumentFile, int, error) {
	list, err := s.repo.List(ctx, filters, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	count, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	return list, count, nil
}

// getOwned возвращает запись с проверкой владения.
// Пустой owner пропускает проверку.
func (s *DocumentFileService) getOwned(ctx context.Context, recordUUID, owner string) (*model.DocumentFile, error) {
	df, err := s.repo.GetByUUID(ctx, recordUUID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if owner != "" && df.Owner != owner {
		return nil, ErrForbidden
	}
	return df, nil
}

// deleteRecord удаляет запись из БД и её blobs.
// Deletion protection контролируется и здесь, и в репозитории.
func (s *DocumentFileService) deleteRecord(ctx context.Context, df *model.DocumentFile) error {
	if !df.Deletable() {
		return ErrDeletionProtected
	}

	if err := s.repo.Delete(ctx, df.UUID); err != nil {
		switch {
		case errors.Is(err, repository.ErrDeletionProtected):
			return ErrDeletionProtected
		case errors.Is(err, repository.ErrNotFound):
			return ErrNotFound
		}
		return err
	}

	s.cleanupBlobs(df)
	return nil
}

// cleanupBlobs удаляет рабочую и оригинальную копии из blob-хранилища.
// Ошибки только логируются: осиротевший blob не нарушает инварианты.
func (s *DocumentFileService) cleanupBlobs(df *model.DocumentFile) {
	for _, p := range []string{df.DocumentPath, df.OriginalPath} {
		if p == "" {
			continue
		}
		if err := s.store.Delete(p); err != nil {
			s.logger.Error("Ошибка удаления blob",
				slog.String("uuid", df.UUID),
				slog.String("path", p),
				slog.String("error", err.Error()),
			)
		}
	}
}

// markTerminal помечает запись терминальной ошибкой.
func (s *DocumentFileService) markTerminal(ctx context.Context, recordUUID, message string, cause error) {
	s.logger.Error(message,
		slog.String("uuid", recordUUID),
		slog.String("error", cause.Error()),
	)
	if err := s.repo.MarkError(ctx, []string{recordUUID}, message); err != nil {
		s.logger.Error("Ошибка сохранения терминальной ошибки записи",
			slog.String("uuid", recordUUID),
			slog.String("error", err.Error()),
		)
	}
}

// mapRemoteError маппит ошибку клиента DRC в таксономию сервисного слоя.
// Транспортные ошибки и 5xx → ErrRemoteUnavailable; 4xx прокидываются как есть
// (например, 400 при попытке заблокировать уже заблокированный документ).
func (s *DocumentFileService) mapRemoteError(op string, err error) error {
	var statusErr *drcclient.StatusError
	if errors.As(err, &statusErr) && statusErr.Code < 500 {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %s", op, ErrRemoteUnavailable, err)
}
