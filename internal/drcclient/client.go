// Пакет drcclient — HTTP-клиент для Documenten API (DRC).
// Авторизация — локально подписанный ZGW client-credentials JWT (HS256),
// токен кэшируется до истечения. Поддерживает TLS с кастомным CA.
package drcclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
)

// Срок жизни локально выпущенного ZGW-токена.
const tokenLifetime = 1 * time.Hour

// StatusError — ответ Documenten API с неожиданным HTTP-статусом.
type StatusError struct {
	// Code — HTTP-статус ответа
	Code int
	// Body — тело ответа (для диагностики)
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Documenten API вернул статус %d: %s", e.Code, e.Body)
}

// UpdatePayload — тело PATCH-запроса обновления документа.
// Поля — wire-формат Documenten API (ZGW, нидерландские имена).
type UpdatePayload struct {
	// Auteur — автор изменения (полное имя пользователя)
	Auteur string `json:"auteur"`
	// Bestandsnaam — имя файла
	Bestandsnaam string `json:"bestandsnaam,omitempty"`
	// Bestandsomvang — размер файла в байтах
	Bestandsomvang int64 `json:"bestandsomvang"`
	// Inhoud — содержимое файла, base64
	Inhoud string `json:"inhoud"`
	// Lock — токен блокировки, под которой выполняется обновление
	Lock string `json:"lock"`
}

// tokenInfo — закэшированный ZGW-токен с временем истечения.
type tokenInfo struct {
	accessToken string
	expiresAt   time.Time
}

// Client — HTTP-клиент для Documenten API.
type Client struct {
	httpClient   *http.Client
	drcURL       string
	clientID     string
	clientSecret string //nolint:gosec // G101: поле структуры, не содержит секрет напрямую
	logger       *slog.Logger

	// Кэш ZGW-токена (thread-safe)
	mu    sync.RWMutex
	token *tokenInfo
}

// New создаёт клиент Documenten API.
// drcURL — базовый URL API (например, https://drc.example.com/api/v1).
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(
	drcURL string,
	caCertPath string,
	timeout time.Duration,
	clientID string,
	clientSecret string,
	logger *slog.Logger,
) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата DRC: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат DRC добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		httpClient:   httpClient,
		drcURL:       strings.TrimRight(drcURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		logger:       logger.With(slog.String("component", "drc_client")),
	}, nil
}

// BaseURL возвращает базовый URL Documenten API (для health-проверок).
func (c *Client) BaseURL() string {
	return c.drcURL
}

// GetDocument запрашивает метаданные документа.
// GET {drcURL документа}
func (c *Client) GetDocument(ctx context.Context, drcURL string) (*model.Document, error) {
	resp, err := c.do(ctx, http.MethodGet, drcURL, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var doc model.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("декодирование метаданных документа: %w", err)
	}
	return &doc, nil
}

// GetDocumentContent выполняет streaming-загрузку содержимого документа.
// contentURL — ссылка на содержимое из метаданных (поле inhoud).
// Вызывающий код ОБЯЗАН закрыть возвращённый ReadCloser.
func (c *Client) GetDocumentContent(ctx context.Context, contentURL string) (io.ReadCloser, error) {
	resp, err := c.do(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError(resp)
	}

	// Не закрываем resp.Body — вызывающий код отвечает за это (streaming)
	return resp.Body, nil
}

// LockDocument устанавливает блокировку документа.
// POST {drcURL документа}/lock
// Возвращает opaque-токен блокировки.
func (c *Client) LockDocument(ctx context.Context, drcURL string) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, strings.TrimRight(drcURL, "/")+"/lock", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp)
	}

	var lockResp struct {
		Lock string `json:"lock"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&lockResp); err != nil {
		return "", fmt.Errorf("декодирование ответа lock: %w", err)
	}
	if lockResp.Lock == "" {
		return "", fmt.Errorf("пустой lock в ответе Documenten API")
	}
	return lockResp.Lock, nil
}

// UnlockDocument снимает блокировку документа.
// POST {drcURL документа}/unlock, ожидается 204;
// затем GET для получения актуальных метаданных (новая versie).
func (c *Client) UnlockDocument(ctx context.Context, drcURL, lock string) (*model.Document, error) {
	body := map[string]string{"lock": lock}
	resp, err := c.do(ctx, http.MethodPost, strings.TrimRight(drcURL, "/")+"/unlock", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return nil, statusError(resp)
	}

	return c.GetDocument(ctx, drcURL)
}

// UpdateDocument обновляет содержимое и метаданные документа под блокировкой.
// PATCH {drcURL документа}
// Возвращает обновлённые метаданные (новая versie).
func (c *Client) UpdateDocument(ctx context.Context, drcURL string, payload UpdatePayload) (*model.Document, error) {
	resp, err := c.do(ctx, http.MethodPatch, drcURL, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp)
	}

	var doc model.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("декодирование ответа update: %w", err)
	}
	return &doc, nil
}

// do выполняет HTTP-запрос к Documenten API с ZGW-токеном.
// body != nil сериализуется в JSON.
func (c *Client) do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s %s: %w", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.getToken()
	if err != nil {
		return nil, fmt.Errorf("получение ZGW-токена: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req) //nolint:gosec // G704: URL из конфигурации DRC
	if err != nil {
		return nil, fmt.Errorf("запрос %s %s: %w", method, url, err)
	}
	return resp, nil
}

// getToken возвращает ZGW-токен для авторизации запросов.
// Использует кэш: если токен ещё валиден (exp - 30s), возвращает закэшированный.
// Иначе подписывает новый HS256 JWT секретом клиента.
func (c *Client) getToken() (string, error) {
	// Проверяем кэш (read lock)
	c.mu.RLock()
	if c.token != nil && time.Now().Before(c.token.expiresAt) {
		token := c.token.accessToken
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	// Подписываем новый токен (write lock)
	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check после получения write lock
	if c.token != nil && time.Now().Before(c.token.expiresAt) {
		return c.token.accessToken, nil
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":       c.clientID,
		"iat":       now.Unix(),
		"client_id": c.clientID,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tok.Header["client_identifier"] = c.clientID

	signed, err := tok.SignedString([]byte(c.clientSecret))
	if err != nil {
		return "", fmt.Errorf("подпись ZGW-токена: %w", err)
	}

	c.token = &tokenInfo{
		accessToken: signed,
		expiresAt:   now.Add(tokenLifetime - 30*time.Second),
	}

	c.logger.Debug("ZGW-токен выпущен",
		slog.String("client_id", c.clientID),
	)

	return signed, nil
}

// statusError формирует StatusError из ответа с неожиданным статусом.
func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{Code: resp.StatusCode, Body: string(body)}
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA-сертификатом.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}
