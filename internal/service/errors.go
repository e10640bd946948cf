// errors.go — таксономия ошибок сервисного слоя.
// Обработчики API маппят эти ошибки на HTTP-статусы, не заглядывая
// в детали репозитория или клиента Documenten API.
package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound — запись checkout не найдена.
	ErrNotFound = errors.New("запись checkout не найдена")
	// ErrForbidden — запись принадлежит другому пользователю.
	ErrForbidden = errors.New("запись принадлежит другому пользователю")
	// ErrInvalidPurpose — недопустимое назначение checkout'а.
	ErrInvalidPurpose = errors.New("недопустимое назначение checkout")
	// ErrRemoteUnavailable — Documenten API недоступен.
	ErrRemoteUnavailable = errors.New("Documenten API недоступен")
	// ErrUpdateFailed — Documenten API отклонил обновление документа.
	// Блокировка НЕ снимается: требуется вмешательство или повторный sweep.
	ErrUpdateFailed = errors.New("обновление документа отклонено Documenten API")
	// ErrUnlockFailed — Documenten API отклонил снятие блокировки.
	ErrUnlockFailed = errors.New("снятие блокировки отклонено Documenten API")
	// ErrDeletionProtected — write-запись ещё владеет блокировкой.
	ErrDeletionProtected = errors.New("запись защищена от удаления")
)

// ConflictError — для документа уже существует write-запись.
// SameOwner отличает повторный запрос владельца (идемпотентный 409)
// от попытки второго пользователя (ошибка с указанием владельца).
type ConflictError struct {
	// UUID — идентификатор существующей write-записи
	UUID string
	// Owner — username владельца существующей записи
	Owner string
	// SameOwner — запрос пришёл от того же пользователя
	SameOwner bool
}

func (e *ConflictError) Error() string {
	if e.SameOwner {
		return fmt.Sprintf("документ уже выдан вам на редактирование (запись %s)", e.UUID)
	}
	// Owner может быть пуст: гонка при создании записи, когда повторное
	// чтение конкурирующей записи не удалось
	if e.Owner == "" {
		return "документ уже редактируется другим пользователем"
	}
	return fmt.Sprintf("документ уже редактируется пользователем %s", e.Owner)
}
