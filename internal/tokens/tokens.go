// Пакет tokens — доступ-токены документов для magic URL.
// Токен привязан к пользователю и UUID записи, содержит день выпуска
// (base36) и HMAC-подпись. Не одноразовый: действует DOWC_TOKEN_TIMEOUT_DAYS
// дней с точностью до суток.
package tokens

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// keySalt — соль деривации ключа подписи (отделяет токены от других
// применений секретного ключа).
const keySalt = "dowc.tokens.DocumentTokenGenerator"

// Точка отсчёта дней в метке времени токена.
var epoch = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Generator выпускает и проверяет доступ-токены документов.
type Generator struct {
	secret      string
	timeoutDays int

	// для подмены текущего времени в тестах
	now func() time.Time
}

// New создаёт генератор доступ-токенов.
// secret — секретный ключ сервиса, timeoutDays — срок жизни токена в днях.
func New(secret string, timeoutDays int) *Generator {
	return &Generator{
		secret:      secret,
		timeoutDays: timeoutDays,
		now:         time.Now,
	}
}

// MakeToken возвращает токен доступа к документу для пользователя.
// Формат: {день_base36}-{hex-подпись}.
func (g *Generator) MakeToken(username, uuid string) string {
	return g.makeTokenWithTimestamp(username, g.numDays(g.now()), uuid)
}

// CheckToken проверяет токен для пользователя и UUID записи.
// Сравнение подписи — constant-time. Метка времени округлена до суток:
// timeoutDays=1 означает «минимум 1 день, максимум 2».
func (g *Generator) CheckToken(username, uuid, token string) bool {
	if username == "" || uuid == "" || token == "" {
		return false
	}

	tsB36, _, ok := strings.Cut(token, "-")
	if !ok {
		return false
	}

	ts, err := strconv.ParseInt(tsB36, 36, 64)
	if err != nil {
		return false
	}

	// Подпись покрывает пользователя, UUID и метку времени
	expected := g.makeTokenWithTimestamp(username, int(ts), uuid)
	if !hmac.Equal([]byte(expected), []byte(token)) {
		return false
	}

	// Срок жизни
	if g.numDays(g.now())-int(ts) > g.timeoutDays {
		return false
	}

	return true
}

// makeTokenWithTimestamp формирует токен для заданного дня.
func (g *Generator) makeTokenWithTimestamp(username string, timestamp int, uuid string) string {
	tsB36 := strconv.FormatInt(int64(timestamp), 36)

	mac := hmac.New(sha256.New, g.signingKey())
	mac.Write([]byte(username + strconv.Itoa(timestamp) + uuid))
	digest := hex.EncodeToString(mac.Sum(nil))

	// Каждый второй символ — укорачивает URL без потери стойкости подписи
	var b strings.Builder
	for i := 0; i < len(digest); i += 2 {
		b.WriteByte(digest[i])
	}

	return tsB36 + "-" + b.String()
}

// signingKey выводит ключ подписи из соли и секрета.
func (g *Generator) signingKey() []byte {
	sum := sha256.Sum256([]byte(keySalt + g.secret))
	return sum[:]
}

// numDays возвращает количество дней с точки отсчёта.
func (g *Generator) numDays(t time.Time) int {
	return int(t.UTC().Sub(epoch).Hours() / 24)
}
