package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
	"github.com/GemeenteUtrecht/dowc/internal/notify"
	"github.com/GemeenteUtrecht/dowc/internal/repository"
)

// Prometheus-метрики sweep-циклов.
var (
	sweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dowc_sweep_runs_total",
		Help: "Количество sweep-циклов по статусу (success, error).",
	}, []string{"status"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dowc_sweep_duration_seconds",
		Help:    "Длительность sweep-цикла.",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})

	sweepReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dowc_sweep_reclaimed_total",
		Help: "Количество записей, убранных sweep-циклами (по purpose).",
	}, []string{"purpose"})

	documentFilesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dowc_document_files",
		Help: "Текущее количество записей checkout'ов по purpose.",
	}, []string{"purpose"})
)

// SweepResult — итоги одного sweep-цикла.
type SweepResult struct {
	// ReadDeleted — удалено read/download-записей
	ReadDeleted int
	// WriteDeleted — write-записей возвращено в Documenten API и удалено
	WriteDeleted int
	// Errors — write-записей, check-in которых в этом цикле не удался
	Errors int
	// Pending — записей с терминальной ошибкой, ожидающих вмешательства
	Pending int
	// Duration — длительность цикла
	Duration time.Duration
}

// SweeperService — периодическая bulk-сверка checkout'ов.
// Read/download-записи временные и удаляются безусловно; write-записи
// проходят полный check-in (diff, update, unlock) с уведомлением владельца.
// Записи с терминальной ошибкой пропускаются до вмешательства оператора.
type SweeperService struct {
	svc      *DocumentFileService
	repo     repository.DocumentFileRepository
	notifier notify.Notifier
	logger   *slog.Logger

	// interval — период между sweep-циклами
	interval time.Duration
	// concurrency — лимит параллельных check-in write-записей
	concurrency int

	// mu защищает от параллельных запусков RunOnce
	// (ticker и ручной запуск через API)
	mu sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewSweeperService создаёт сервис периодической сверки.
func NewSweeperService(
	svc *DocumentFileService,
	repo repository.DocumentFileRepository,
	notifier notify.Notifier,
	interval time.Duration,
	concurrency int,
	logger *slog.Logger,
) *SweeperService {
	if concurrency < 1 {
		concurrency = 1
	}
	return &SweeperService{
		svc:         svc,
		repo:        repo,
		notifier:    notifier,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger.With(slog.String("component", "sweeper")),
		stopCh:      make(chan struct{}),
	}
}

// Start запускает периодические sweep-циклы в фоне.
// Первый цикл выполняется сразу, не дожидаясь интервала.
// При interval <= 0 периодические циклы отключены: остаётся только
// ручной запуск через RunOnce.
func (s *SweeperService) Start() {
	if s.interval <= 0 {
		s.logger.Info("Периодические sweep-циклы отключены, доступен только ручной запуск")
		return
	}

	s.wg.Add(1)
	go s.run()

	s.logger.Info("Sweeper запущен",
		slog.Duration("interval", s.interval),
		slog.Int("concurrency", s.concurrency),
	)
}

// Stop останавливает периодические циклы и дожидается завершения текущего.
func (s *SweeperService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("Sweeper остановлен")
}

func (s *SweeperService) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Первый проход сразу после старта
	s.sweep()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *SweeperService) sweep() {
	ctx := context.Background()
	result, err := s.RunOnce(ctx)
	if err != nil {
		sweepRunsTotal.WithLabelValues("error").Inc()
		s.logger.Error("Sweep-цикл завершился с ошибкой",
			slog.String("error", err.Error()),
		)
		return
	}

	sweepRunsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Sweep-цикл завершён",
		slog.Int("read_deleted", result.ReadDeleted),
		slog.Int("write_deleted", result.WriteDeleted),
		slog.Int("errors", result.Errors),
		slog.Int("pending", result.Pending),
		slog.Duration("duration", result.Duration),
	)
}

// RunOnce выполняет один sweep-цикл. Безопасен для параллельного вызова:
// второй вызов дождётся завершения первого.
//
// Отказ check-in одной записи не прерывает цикл: запись помечена ошибкой,
// остальные обрабатываются дальше.
func (s *SweeperService) RunOnce(ctx context.Context) (*SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	if err := s.sweepTransient(ctx, result); err != nil {
		return nil, err
	}
	if err := s.sweepWrite(ctx, result); err != nil {
		return nil, err
	}

	errorOnly := true
	pending, err := s.repo.Count(ctx, repository.DocumentFileFilters{ErrorOnly: &errorOnly})
	if err != nil {
		return nil, err
	}
	result.Pending = pending

	s.updateGauges(ctx)

	result.Duration = time.Since(start)
	sweepDuration.Observe(result.Duration.Seconds())
	return result, nil
}

// sweepTransient удаляет все read- и download-записи: это временные копии,
// не несущие обязательств перед Documenten API.
func (s *SweeperService) sweepTransient(ctx context.Context, result *SweepResult) error {
	for _, purpose := range []constants.Purpose{constants.PurposeRead, constants.PurposeDownload} {
		p := string(purpose)
		// Записи с неудавшимся удалением остаются в выборке:
		// offset смещается за них, иначе цикл зацикливается на одном батче.
		offset := 0
		for {
			batch, err := s.repo.List(ctx, repository.DocumentFileFilters{Purpose: &p}, 200, offset)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}
			for _, df := range batch {
				if _, err := s.svc.CheckIn(ctx, df.UUID, ""); err != nil {
					s.logger.Error("Ошибка удаления временной записи",
						slog.String("uuid", df.UUID),
						slog.String("purpose", p),
						slog.String("error", err.Error()),
					)
					offset++
					continue
				}
				result.ReadDeleted++
				sweepReclaimed.WithLabelValues(p).Inc()
			}
			if len(batch) < 200 {
				break
			}
		}
	}
	return nil
}

// sweepWrite выполняет check-in всех write-записей без терминальной ошибки.
// Check-in записей независимы и выполняются параллельно с лимитом.
func (s *SweeperService) sweepWrite(ctx context.Context, result *SweepResult) error {
	pending, err := s.repo.ListWritePending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, df := range pending {
		df := df
		g.Go(func() error {
			_, err := s.svc.CheckIn(gctx, df.UUID, "")

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Запись уже помечена ошибкой внутри CheckIn
				result.Errors++
				return nil
			}
			result.WriteDeleted++
			sweepReclaimed.WithLabelValues(string(constants.PurposeWrite)).Inc()

			s.notifier.Notify(gctx, notify.Notification{
				Owner:    df.Owner,
				Filename: df.Filename,
				InfoURL:  df.InfoURL,
			})
			return nil
		})
	}

	return g.Wait()
}

// updateGauges обновляет gauge количества записей по purpose.
func (s *SweeperService) updateGauges(ctx context.Context) {
	counts, err := s.repo.CountByPurpose(ctx)
	if err != nil {
		s.logger.Error("Ошибка подсчёта записей по purpose",
			slog.String("error", err.Error()),
		)
		return
	}
	for _, purpose := range []constants.Purpose{constants.PurposeRead, constants.PurposeWrite, constants.PurposeDownload} {
		documentFilesGauge.WithLabelValues(string(purpose)).Set(float64(counts[string(purpose)]))
	}
}
