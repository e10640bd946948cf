// CacheService — LRU-кэш метаданных документов Documenten API с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dowc_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш метаданных документов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dowc_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша метаданных документов.",
	})
)

// CacheService — LRU-кэш метаданных документов с автоматическим TTL.
// Ключ — unversioned URL документа. Снимает нагрузку с Documenten API
// при bulk-запросах статуса.
type CacheService struct {
	cache *expirable.LRU[string, *model.Document]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// maxSize — максимальное количество записей в кэше.
// ttl — время жизни записи после добавления.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.Document](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает метаданные документа из кэша по unversioned URL.
// Возвращает (документ, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(unversionedURL string) (*model.Document, bool) {
	val, ok := c.cache.Get(unversionedURL)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет метаданные в кэше.
func (c *CacheService) Set(unversionedURL string, doc *model.Document) {
	c.cache.Add(unversionedURL, doc)
}

// Delete удаляет запись из кэша (инвалидация после update/unlock).
func (c *CacheService) Delete(unversionedURL string) {
	c.cache.Remove(unversionedURL)
}
