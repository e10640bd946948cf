// documentfiles.go — обработчики жизненного цикла checkout'ов:
//
//	POST   /api/v1/documenten          — выдать документ (checkout)
//	GET    /api/v1/documenten          — список собственных checkout'ов
//	GET    /api/v1/documenten/{uuid}   — одна запись
//	PATCH  /api/v1/documenten/{uuid}   — переименование рабочей копии
//	DELETE /api/v1/documenten/{uuid}   — check-in (?force=true — принудительно, оператор)
//	POST   /api/v1/documenten/status   — bulk-статус документов
//	POST   /api/v1/sweep               — ручной запуск sweep-цикла (оператор)
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	apierrors "github.com/GemeenteUtrecht/dowc/internal/api/errors"
	"github.com/GemeenteUtrecht/dowc/internal/api/middleware"
	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
	"github.com/GemeenteUtrecht/dowc/internal/repository"
	"github.com/GemeenteUtrecht/dowc/internal/service"
)

// checkoutRequest — тело POST /api/v1/documenten.
type checkoutRequest struct {
	// DRCURL — URL документа в Documenten API (может содержать versie)
	DRCURL string `json:"drc_url"`
	// Purpose — назначение: read, write, download
	Purpose string `json:"purpose"`
	// InfoURL — происхождение использования (опционально)
	InfoURL string `json:"info_url,omitempty"`
}

// renameRequest — тело PATCH /api/v1/documenten/{uuid}.
type renameRequest struct {
	Filename string `json:"filename"`
}

// statusRequest — тело POST /api/v1/documenten/status.
type statusRequest struct {
	Documents []string `json:"documents"`
}

// documentFileResponse — представление записи checkout'а в API.
type documentFileResponse struct {
	UUID           string `json:"uuid"`
	DRCURL         string `json:"drc_url"`
	UnversionedURL string `json:"unversioned_url"`
	Purpose        string `json:"purpose"`
	MagicURL       string `json:"magic_url"`
	Owner          string `json:"owner"`
	Filename       string `json:"filename"`
	ChangedName    bool   `json:"changed_name"`
	InfoURL        string `json:"info_url,omitempty"`
	Error          bool   `json:"error"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// checkinResponse — результат check-in.
type checkinResponse struct {
	// DocumentURL — versioned URL итоговой версии документа
	// (пустой для read/download-записей)
	DocumentURL string `json:"document_url,omitempty"`
	// Version — итоговая версия документа
	Version int `json:"version,omitempty"`
	// Updated — изменения были отправлены в Documenten API
	Updated bool `json:"updated"`
}

// listResponse — страница списка записей.
type listResponse struct {
	Items []documentFileResponse `json:"items"`
	Total int                    `json:"total"`
}

// statusItemResponse — статус одного открытого документа.
type statusItemResponse struct {
	Document string `json:"document"`
	UUID     string `json:"uuid"`
	Owner    string `json:"owner"`
	FullName string `json:"owner_full_name"`
	Filename string `json:"filename"`
	InfoURL  string `json:"info_url,omitempty"`
	Version  int    `json:"version,omitempty"`
	Error    bool   `json:"error"`
}

// sweepResponse — итоги ручного sweep-цикла.
type sweepResponse struct {
	ReadDeleted  int    `json:"read_deleted"`
	WriteDeleted int    `json:"write_deleted"`
	Errors       int    `json:"errors"`
	Pending      int    `json:"pending"`
	Duration     string `json:"duration"`
}

func (h *APIHandler) toResponse(df *model.DocumentFile) documentFileResponse {
	return documentFileResponse{
		UUID:           df.UUID,
		DRCURL:         df.DRCURL,
		UnversionedURL: df.UnversionedURL,
		Purpose:        string(df.Purpose),
		MagicURL:       h.magicURL.Build(df),
		Owner:          df.Owner,
		Filename:       df.Filename,
		ChangedName:    df.ChangedName,
		InfoURL:        df.InfoURL,
		Error:          df.Error,
		ErrorMessage:   df.ErrorMessage,
		CreatedAt:      df.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// CreateDocumentFile — POST /api/v1/documenten.
// Выдаёт документ пользователю: write блокирует документ в Documenten API.
func (h *APIHandler) CreateDocumentFile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if req.DRCURL == "" {
		apierrors.ValidationError(w, "Поле drc_url обязательно")
		return
	}
	if req.Purpose == "" {
		apierrors.ValidationError(w, "Поле purpose обязательно")
		return
	}

	df, err := h.documents.Checkout(r.Context(), service.CheckoutParams{
		DRCURL:        req.DRCURL,
		Purpose:       constants.Purpose(req.Purpose),
		InfoURL:       req.InfoURL,
		Owner:         user.Username,
		OwnerFullName: user.FullName,
	})
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, h.toResponse(df))
}

// writeCheckoutError маппит ошибки checkout в HTTP-ответы.
// Повторный checkout владельца — 409; документ, занятый другим
// пользователем — 400 с указанием владельца блокировки.
func (h *APIHandler) writeCheckoutError(w http.ResponseWriter, err error) {
	var conflict *service.ConflictError
	switch {
	case errors.As(err, &conflict):
		if conflict.SameOwner {
			apierrors.Conflict(w, conflict.Error())
			return
		}
		apierrors.ValidationError(w, conflict.Error())
	case errors.Is(err, service.ErrInvalidPurpose):
		apierrors.ValidationError(w, "Недопустимое значение purpose: допустимые read, write, download")
	case errors.Is(err, service.ErrRemoteUnavailable):
		apierrors.DRCUnavailable(w, "Documenten API недоступен")
	default:
		h.logger.Error("Ошибка checkout",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при выдаче документа")
	}
}

// ListDocumentFiles — GET /api/v1/documenten.
// Пользователь видит только собственные записи; оператор при ?all=true — все.
// Параметры: purpose, limit, offset, all.
func (h *APIHandler) ListDocumentFiles(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
		return
	}

	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, offset = paginationDefaults(limit, offset)

	filters := repository.DocumentFileFilters{}
	if !(user.Admin && q.Get("all") == "true") {
		owner := user.Username
		filters.Owner = &owner
	}
	if p := q.Get("purpose"); p != "" {
		if !constants.Purpose(p).Valid() {
			apierrors.ValidationError(w, "Недопустимое значение purpose")
			return
		}
		filters.Purpose = &p
	}

	items, total, err := h.documents.List(r.Context(), filters, limit, offset)
	if err != nil {
		h.logger.Error("Ошибка списка записей",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при получении списка")
		return
	}

	resp := listResponse{
		Items: make([]documentFileResponse, 0, len(items)),
		Total: total,
	}
	for _, df := range items {
		resp.Items = append(resp.Items, h.toResponse(df))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetDocumentFile — GET /api/v1/documenten/{uuid}.
func (h *APIHandler) GetDocumentFile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
		return
	}

	recordUUID, ok := h.recordUUID(w, r)
	if !ok {
		return
	}

	// Оператор видит любую запись
	owner := user.Username
	if user.Admin {
		owner = ""
	}

	df, err := h.documents.Get(r.Context(), recordUUID, owner)
	if err != nil {
		h.writeRecordError(w, err, recordUUID)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(df))
}

// UpdateDocumentFile — PATCH /api/v1/documenten/{uuid}.
// Фиксирует переименование рабочей копии.
func (h *APIHandler) UpdateDocumentFile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
		return
	}

	recordUUID, ok := h.recordUUID(w, r)
	if !ok {
		return
	}

	var req renameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if req.Filename == "" {
		apierrors.ValidationError(w, "Поле filename обязательно")
		return
	}

	df, err := h.documents.UpdateFilename(r.Context(), recordUUID, user.Username, req.Filename)
	if err != nil {
		h.writeRecordError(w, err, recordUUID)
		return
	}

	writeJSON(w, http.StatusOK, h.toResponse(df))
}

// DeleteDocumentFile — DELETE /api/v1/documenten/{uuid}.
// Выполняет check-in: изменения отправляются в Documenten API, блокировка
// снимается, запись удаляется. С ?force=true (только оператор) запись
// удаляется без отправки изменений.
func (h *APIHandler) DeleteDocumentFile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w, "Отсутствует пользователь в контексте")
		return
	}

	recordUUID, ok := h.recordUUID(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("force") == "true" {
		if !user.Admin {
			apierrors.Forbidden(w, "Принудительное удаление доступно только оператору")
			return
		}
		if err := h.documents.ForceDelete(r.Context(), recordUUID); err != nil {
			h.writeRecordError(w, err, recordUUID)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	owner := user.Username
	if user.Admin {
		owner = ""
	}

	doc, err := h.documents.CheckIn(r.Context(), recordUUID, owner)
	if err != nil {
		h.writeRecordError(w, err, recordUUID)
		return
	}

	resp := checkinResponse{}
	if doc != nil {
		resp.DocumentURL = doc.VersionedURL()
		resp.Version = doc.Version
		resp.Updated = true
	}

	writeJSON(w, http.StatusOK, resp)
}

// DocumentsStatus — POST /api/v1/documenten/status.
// Bulk-статус: какие из переданных документов открыты на редактирование.
func (h *APIHandler) DocumentsStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON в теле запроса")
		return
	}
	if len(req.Documents) == 0 {
		apierrors.ValidationError(w, "Поле documents не должно быть пустым")
		return
	}

	statuses, err := h.status.OpenDocuments(r.Context(), req.Documents)
	if err != nil {
		h.logger.Error("Ошибка bulk-статуса",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка при получении статуса документов")
		return
	}

	resp := make([]statusItemResponse, 0, len(statuses))
	for _, s := range statuses {
		resp = append(resp, statusItemResponse{
			Document: s.Document,
			UUID:     s.UUID,
			Owner:    s.Owner,
			FullName: s.OwnerFullName,
			Filename: s.Filename,
			InfoURL:  s.InfoURL,
			Version:  s.Version,
			Error:    s.Error,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// RunSweep — POST /api/v1/sweep. Ручной запуск sweep-цикла (оператор).
func (h *APIHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.RunOnce(r.Context())
	if err != nil {
		h.logger.Error("Ошибка ручного sweep-цикла",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка sweep-цикла")
		return
	}

	writeJSON(w, http.StatusOK, sweepResponse{
		ReadDeleted:  result.ReadDeleted,
		WriteDeleted: result.WriteDeleted,
		Errors:       result.Errors,
		Pending:      result.Pending,
		Duration:     result.Duration.String(),
	})
}

// recordUUID извлекает и валидирует UUID записи из пути.
func (h *APIHandler) recordUUID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "uuid")
	if _, err := uuid.Parse(raw); err != nil {
		apierrors.ValidationError(w, "Некорректный UUID записи")
		return "", false
	}
	return raw, true
}

// writeRecordError маппит ошибки операций над записью в HTTP-ответы.
func (h *APIHandler) writeRecordError(w http.ResponseWriter, err error, recordUUID string) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, "Запись не найдена")
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, "Запись принадлежит другому пользователю")
	case errors.Is(err, service.ErrUpdateFailed):
		apierrors.UpdateFailed(w, "Documenten API отклонил обновление документа; блокировка не снята, запись помечена ошибкой")
	case errors.Is(err, service.ErrUnlockFailed):
		apierrors.UpdateFailed(w, "Documenten API отклонил разблокировку документа; запись помечена ошибкой")
	case errors.Is(err, service.ErrRemoteUnavailable):
		apierrors.DRCUnavailable(w, "Documenten API недоступен")
	default:
		h.logger.Error("Ошибка операции над записью",
			slog.String("uuid", recordUUID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}
