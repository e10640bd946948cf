package service

import (
	"context"
	"log/slog"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
	"github.com/GemeenteUtrecht/dowc/internal/repository"
)

// DocumentStatus — статус одного документа, открытого на редактирование.
type DocumentStatus struct {
	// Document — unversioned URL документа в Documenten API
	Document string
	// UUID — идентификатор write-записи
	UUID string
	// Owner — username владельца checkout'а
	Owner string
	// OwnerFullName — полное имя владельца
	OwnerFullName string
	// Filename — текущее имя файла
	Filename string
	// InfoURL — происхождение использования
	InfoURL string
	// Version — версия документа в Documenten API (0, если метаданные недоступны)
	Version int
	// Error — запись в терминальной ошибке
	Error bool
}

// StatusService — bulk-запрос статуса: какие из документов открыты
// на редактирование. Метаданные Documenten API берутся через LRU-кэш,
// чтобы не создавать на каждый запрос шквал обращений к DRC.
type StatusService struct {
	repo   repository.DocumentFileRepository
	drc    DRCClient
	cache  *CacheService
	logger *slog.Logger
}

// NewStatusService создаёт сервис bulk-статуса.
func NewStatusService(
	repo repository.DocumentFileRepository,
	drc DRCClient,
	cache *CacheService,
	logger *slog.Logger,
) *StatusService {
	return &StatusService{
		repo:   repo,
		drc:    drc,
		cache:  cache,
		logger: logger.With(slog.String("component", "status_service")),
	}
}

// OpenDocuments возвращает статусы документов из urls, открытых на
// редактирование. Документы без write-записи в ответ не попадают.
// Параметр versie в переданных URL игнорируется.
func (s *StatusService) OpenDocuments(ctx context.Context, urls []string) ([]DocumentStatus, error) {
	unversioned := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		stripped := model.StripVersion(u)
		if _, ok := seen[stripped]; ok {
			continue
		}
		seen[stripped] = struct{}{}
		unversioned = append(unversioned, stripped)
	}

	records, err := s.repo.ListByUnversionedURLs(ctx, unversioned)
	if err != nil {
		return nil, err
	}

	statuses := make([]DocumentStatus, 0, len(records))
	for _, df := range records {
		if df.Purpose != constants.PurposeWrite {
			continue
		}

		status := DocumentStatus{
			Document:      df.UnversionedURL,
			UUID:          df.UUID,
			Owner:         df.Owner,
			OwnerFullName: df.OwnerFullName,
			Filename:      df.Filename,
			InfoURL:       df.InfoURL,
			Error:         df.Error,
		}

		if doc := s.getDocument(ctx, df.UnversionedURL); doc != nil {
			status.Version = doc.Version
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// getDocument возвращает метаданные документа через кэш.
// Недоступность Documenten API не срывает запрос статуса: метаданные
// опциональны, ошибка только логируется.
func (s *StatusService) getDocument(ctx context.Context, unversionedURL string) *model.Document {
	if doc, ok := s.cache.Get(unversionedURL); ok {
		return doc
	}

	doc, err := s.drc.GetDocument(ctx, unversionedURL)
	if err != nil {
		s.logger.Warn("Метаданные документа недоступны",
			slog.String("unversioned_url", unversionedURL),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.cache.Set(unversionedURL, doc)
	return doc
}
