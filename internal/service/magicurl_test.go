package service

import (
	"strings"
	"testing"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
	"github.com/GemeenteUtrecht/dowc/internal/tokens"
)

func newTestBuilder() *MagicURLBuilder {
	gen := tokens.New(testSecret, 7)
	return NewMagicURLBuilder("https://dowc.example.com/webdav/", gen)
}

func TestMagicURL_WriteOfficeDocument(t *testing.T) {
	b := newTestBuilder()

	df := &model.DocumentFile{
		UUID:         "11111111-2222-3333-4444-555555555555",
		Purpose:      constants.PurposeWrite,
		Owner:        "jdoe",
		Filename:     "report.docx",
		DocumentPath: "a1b2c3/public/11111111-2222-3333-4444-555555555555/report.docx",
	}

	got := b.Build(df)

	if !strings.HasPrefix(got, "ms-word:ofe|u|https://dowc.example.com/webdav/") {
		t.Errorf("префикс magic URL: хотели ms-word:ofe|u|..., получили %q", got)
	}
	if !strings.Contains(got, "/"+df.UUID+"/") {
		t.Errorf("URL не содержит UUID записи: %q", got)
	}
	if !strings.Contains(got, "/write/") {
		t.Errorf("URL не содержит purpose: %q", got)
	}
	if !strings.HasSuffix(got, df.DocumentPath) {
		t.Errorf("URL не заканчивается путём рабочей копии: %q", got)
	}
}

func TestMagicURL_ReadUsesViewCommand(t *testing.T) {
	b := newTestBuilder()

	df := &model.DocumentFile{
		UUID:         "11111111-2222-3333-4444-555555555555",
		Purpose:      constants.PurposeRead,
		Owner:        "jdoe",
		Filename:     "sheet.xlsx",
		DocumentPath: "a1b2c3/public/11111111-2222-3333-4444-555555555555/sheet.xlsx",
	}

	got := b.Build(df)
	if !strings.HasPrefix(got, "ms-excel:ofv|u|") {
		t.Errorf("префикс: хотели ms-excel:ofv|u|..., получили %q", got)
	}
}

func TestMagicURL_UnknownExtensionIsBare(t *testing.T) {
	b := newTestBuilder()

	df := &model.DocumentFile{
		UUID:         "11111111-2222-3333-4444-555555555555",
		Purpose:      constants.PurposeRead,
		Owner:        "jdoe",
		Filename:     "scan.pdf",
		DocumentPath: "a1b2c3/public/11111111-2222-3333-4444-555555555555/scan.pdf",
	}

	got := b.Build(df)
	if !strings.HasPrefix(got, "https://dowc.example.com/webdav/") {
		t.Errorf("для неизвестного расширения хотели голый URL, получили %q", got)
	}
	if strings.Contains(got, "|u|") {
		t.Errorf("для неизвестного расширения URL не должен содержать Office-команду: %q", got)
	}
}

func TestMagicURL_TokenIsValid(t *testing.T) {
	gen := tokens.New(testSecret, 7)
	b := NewMagicURLBuilder("https://dowc.example.com/webdav", gen)

	df := &model.DocumentFile{
		UUID:         "11111111-2222-3333-4444-555555555555",
		Purpose:      constants.PurposeWrite,
		Owner:        "jdoe",
		Filename:     "report.docx",
		DocumentPath: "a1b2c3/public/11111111-2222-3333-4444-555555555555/report.docx",
	}

	got := b.Build(df)

	// Токен — третий сегмент после базового URL
	tail := strings.TrimPrefix(got, "ms-word:ofe|u|https://dowc.example.com/webdav/")
	parts := strings.SplitN(tail, "/", 3)
	if len(parts) < 3 {
		t.Fatalf("не удалось выделить токен из URL: %q", got)
	}
	token := parts[1]

	if !gen.CheckToken(df.Owner, df.UUID, token) {
		t.Errorf("токен из magic URL не прошёл проверку: %q", token)
	}
	if gen.CheckToken("asmith", df.UUID, token) {
		t.Error("токен прошёл проверку для чужого пользователя")
	}
}
