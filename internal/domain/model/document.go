// document.go — представление документа Documenten API (DRC).
package model

import (
	"strconv"
	"strings"
	"time"
)

// Document — метаданные документа в Documenten API.
// JSON-теги соответствуют полям enkelvoudiginformatieobject.
type Document struct {
	// URL — канонический URL документа
	URL string `json:"url"`
	// Identificatie — функциональный идентификатор документа
	Identificatie string `json:"identificatie"`
	// Filename — имя файла (bestandsnaam)
	Filename string `json:"bestandsnaam"`
	// Size — размер файла в байтах (bestandsomvang)
	Size int64 `json:"bestandsomvang"`
	// ContentRef — URL содержимого документа (inhoud)
	ContentRef string `json:"inhoud"`
	// Version — номер версии документа (versie)
	Version int `json:"versie"`
	// Author — автор последнего изменения (auteur)
	Author string `json:"auteur"`
	// Locked — документ заблокирован в Documenten API
	Locked bool `json:"locked"`
	// BeginRegistratie — время регистрации текущей версии
	BeginRegistratie time.Time `json:"beginRegistratie"`
}

// VersionedURL возвращает URL документа с параметром versie.
// Используется в ответе check-in, чтобы потребитель знал итоговую версию.
func (d *Document) VersionedURL() string {
	if d.Version == 0 {
		return d.URL
	}
	sep := "?"
	if strings.Contains(d.URL, "?") {
		sep = "&"
	}
	return d.URL + sep + "versie=" + strconv.Itoa(d.Version)
}
