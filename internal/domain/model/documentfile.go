// Пакет model — доменные модели DoWC.
// DocumentFile — маппинг таблицы document_files: один checkout документа
// из Documenten API в локальное blob-хранилище.
package model

import (
	"net/url"
	"time"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
)

// DocumentFile — запись одного checkout'а документа.
// Запись с purpose=write владеет блокировкой документа в Documenten API:
// пока lock не снят, запись нельзя удалять (deletion protection).
type DocumentFile struct {
	// UUID — уникальный идентификатор записи (генерируется при создании)
	UUID string
	// DRCURL — канонический URL документа в Documenten API.
	// Может содержать query-параметр versie.
	DRCURL string
	// UnversionedURL — DRCURL без параметра versie.
	// Идентичность документа для single-writer инварианта.
	UnversionedURL string
	// Purpose — назначение checkout'а: read, write, download.
	// Неизменяемо после создания.
	Purpose constants.Purpose
	// Owner — username пользователя, запросившего документ
	Owner string
	// OwnerFullName — полное имя пользователя (поле auteur в update payload)
	OwnerFullName string
	// Lock — opaque-токен блокировки от Documenten API.
	// Непустой тогда и только тогда, когда purpose=write и блокировка не снята.
	Lock string
	// DocumentPath — относительный путь рабочей копии в blob-хранилище (public)
	DocumentPath string
	// OriginalPath — относительный путь оригинальной копии (protected).
	// Заполняется только при purpose=write, после создания не изменяется —
	// это базис для diff при check-in.
	OriginalPath string
	// Filename — последнее известное имя файла в Documenten API
	Filename string
	// ChangedName — рабочая копия была переименована локально (WebDAV rename)
	ChangedName bool
	// SafeForDeletion — обязательства перед Documenten API (update, unlock)
	// выполнены, запись можно удалять
	SafeForDeletion bool
	// InfoURL — ссылка на происхождение использования документа (для уведомлений)
	InfoURL string
	// Error — терминальная ошибка update/unlock, запись требует вмешательства
	Error bool
	// ErrorMessage — сообщение терминальной ошибки
	ErrorMessage string
	// CreatedAt — время создания записи
	CreatedAt time.Time
}

// Deletable сообщает, можно ли удалять запись: read/download-записи удаляются
// всегда, write-запись — только после снятия блокировки в Documenten API.
func (df *DocumentFile) Deletable() bool {
	return df.Purpose != constants.PurposeWrite || df.SafeForDeletion
}

// StripVersion убирает из URL документа query-параметр versie.
// Возвращает исходную строку, если URL не парсится.
func StripVersion(drcURL string) string {
	u, err := url.Parse(drcURL)
	if err != nil {
		return drcURL
	}
	q := u.Query()
	q.Del("versie")
	u.RawQuery = q.Encode()
	return u.String()
}
