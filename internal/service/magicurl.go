package service

import (
	"fmt"
	"path"
	"strings"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
	"github.com/GemeenteUtrecht/dowc/internal/tokens"
)

// MagicURLBuilder строит magic URL для открытия рабочей копии документа
// в MS Office через WebDAV. URL содержит подписанный токен: WebDAV-слой
// проверяет его без обращения к БД.
type MagicURLBuilder struct {
	// baseURL — внешний базовый URL WebDAV-слоя (без завершающего /)
	baseURL string
	tokens  *tokens.Generator
}

// NewMagicURLBuilder создаёт билдер magic URL.
func NewMagicURLBuilder(baseURL string, gen *tokens.Generator) *MagicURLBuilder {
	return &MagicURLBuilder{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  gen,
	}
}

// Build возвращает magic URL записи.
//
// Для расширений из ExtensionHandler URL имеет форму
// "{scheme}:{команда}|u|{url}": scheme выбирает Office-приложение,
// команда — ofv (open for view) для read/download и ofe (open for edit)
// для write. Для прочих расширений возвращается голый URL (открытие
// в браузере).
func (b *MagicURLBuilder) Build(df *model.DocumentFile) string {
	token := b.tokens.MakeToken(df.Owner, df.UUID)

	rawURL := fmt.Sprintf("%s/%s/%s/%s/%s",
		b.baseURL, df.UUID, token, df.Purpose, df.DocumentPath)

	scheme, ok := constants.ExtensionHandler[strings.ToLower(path.Ext(df.Filename))]
	if !ok {
		return rawURL
	}

	command := "ofv"
	if df.Purpose == constants.PurposeWrite {
		command = "ofe"
	}

	return fmt.Sprintf("%s:%s|u|%s", scheme, command, rawURL)
}
