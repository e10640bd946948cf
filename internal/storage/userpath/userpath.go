// Пакет userpath — детерминированный вывод пользовательских путей
// в blob-хранилище. Путь — односторонняя функция от username (keyed HMAC):
// по одному пути нельзя угадать папку другого пользователя, но повторные
// checkout'ы одного пользователя попадают в одно дерево.
//
// WebDAV-слой использует те же функции для валидации путей запросов:
// запрос, не начинающийся с public-папки самого пользователя, отклоняется.
package userpath

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
)

// ParentFolder возвращает корневую папку пользователя: hex-дайджест
// HMAC-SHA256(secret, username), прореженный каждым четвёртым символом.
// Функция чистая: без состояния и побочных эффектов.
func ParentFolder(secret, username string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(username))
	digest := hex.EncodeToString(mac.Sum(nil))

	// Каждый четвёртый символ дайджеста: 64 hex → 16 символов.
	// Достаточно против перебора, короче для файловой системы.
	var b strings.Builder
	for i := 0; i < len(digest); i += 4 {
		b.WriteByte(digest[i])
	}
	return b.String()
}

// Folder возвращает относительный путь подпапки пользователя
// (public или protected).
func Folder(secret, username string, subfolder constants.Subfolder) string {
	return path.Join(ParentFolder(secret, username), string(subfolder))
}

// FilePath возвращает относительный путь файла в подпапке пользователя.
func FilePath(secret, username string, subfolder constants.Subfolder, filename string) string {
	return path.Join(Folder(secret, username, subfolder), filename)
}

// IsOwnedPublicPath проверяет, что relPath лежит внутри public-папки
// пользователя username. Используется WebDAV-слоем для ограничения traversal.
func IsOwnedPublicPath(secret, username, relPath string) bool {
	prefix := Folder(secret, username, constants.SubfolderPublic) + "/"
	return strings.HasPrefix(path.Clean(relPath), prefix) ||
		path.Clean(relPath) == Folder(secret, username, constants.SubfolderPublic)
}
