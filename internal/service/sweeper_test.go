package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/GemeenteUtrecht/dowc/internal/domain/constants"
	"github.com/GemeenteUtrecht/dowc/internal/domain/model"
	"github.com/GemeenteUtrecht/dowc/internal/drcclient"
	"github.com/GemeenteUtrecht/dowc/internal/notify"
)

// recordingNotifier запоминает отправленные уведомления.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
}

func (n *recordingNotifier) notifications() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.sent...)
}

func newTestSweeper(t *testing.T, drc *mockDRC) (*SweeperService, *DocumentFileService, *fakeRepo, *recordingNotifier) {
	t.Helper()
	svc, repo, _ := newTestService(t, drc)
	notifier := &recordingNotifier{}
	sweeper := NewSweeperService(svc, repo, notifier, time.Hour, 2, testLogger())
	return sweeper, svc, repo, notifier
}

func TestSweeper_RunOnce(t *testing.T) {
	drc := &mockDRC{}
	sweeper, svc, repo, notifier := newTestSweeper(t, drc)
	ctx := context.Background()

	// Две временные записи и одна write
	readParams := checkoutParams(constants.PurposeRead)
	if _, err := svc.Checkout(ctx, readParams); err != nil {
		t.Fatalf("Checkout read: %v", err)
	}

	dlParams := checkoutParams(constants.PurposeDownload)
	dlParams.DRCURL = testDRCURL + "-second"
	if _, err := svc.Checkout(ctx, dlParams); err != nil {
		t.Fatalf("Checkout download: %v", err)
	}

	writeParams := checkoutParams(constants.PurposeWrite)
	writeParams.DRCURL = testDRCURL + "-third"
	if _, err := svc.Checkout(ctx, writeParams); err != nil {
		t.Fatalf("Checkout write: %v", err)
	}

	result, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if result.ReadDeleted != 2 {
		t.Errorf("ReadDeleted: хотели 2, получили %d", result.ReadDeleted)
	}
	if result.WriteDeleted != 1 {
		t.Errorf("WriteDeleted: хотели 1, получили %d", result.WriteDeleted)
	}
	if result.Errors != 0 {
		t.Errorf("Errors: хотели 0, получили %d", result.Errors)
	}

	// Все записи убраны
	count, _ := repo.Count(ctx, filtersAll())
	if count != 0 {
		t.Errorf("записей после sweep: хотели 0, получили %d", count)
	}

	// Владелец write-записи уведомлён
	sent := notifier.notifications()
	if len(sent) != 1 {
		t.Fatalf("уведомлений: хотели 1, получили %d", len(sent))
	}
	if sent[0].Owner != "jdoe" {
		t.Errorf("Owner уведомления: хотели %q, получили %q", "jdoe", sent[0].Owner)
	}
	if sent[0].InfoURL != writeParams.InfoURL {
		t.Errorf("InfoURL уведомления: хотели %q, получили %q", writeParams.InfoURL, sent[0].InfoURL)
	}
}

func TestSweeper_PartialFailureIsolated(t *testing.T) {
	// Update первого документа отказывает, второй проходит
	drc := &mockDRC{
		updateFn: func(_ context.Context, drcURL string, payload drcclient.UpdatePayload) (*model.Document, error) {
			if strings.Contains(drcURL, "broken") {
				return nil, errors.New("internal error")
			}
			return &model.Document{URL: drcURL, Version: 2}, nil
		},
	}
	sweeper, svc, repo, notifier := newTestSweeper(t, drc)
	ctx := context.Background()

	brokenParams := checkoutParams(constants.PurposeWrite)
	brokenParams.DRCURL = testDRCURL + "-broken"
	broken, err := svc.Checkout(ctx, brokenParams)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	okParams := checkoutParams(constants.PurposeWrite)
	okParams.DRCURL = testDRCURL + "-ok"
	okDF, err := svc.Checkout(ctx, okParams)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	// Меняем содержимое обеих рабочих копий, чтобы пошёл update
	store := svc.store
	for _, df := range []*model.DocumentFile{broken, okDF} {
		if _, err := store.Save(df.DocumentPath, strings.NewReader("правки")); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	result, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if result.WriteDeleted != 1 {
		t.Errorf("WriteDeleted: хотели 1, получили %d", result.WriteDeleted)
	}
	if result.Errors != 1 {
		t.Errorf("Errors: хотели 1, получили %d", result.Errors)
	}
	if result.Pending != 1 {
		t.Errorf("Pending: хотели 1, получили %d", result.Pending)
	}

	// Проблемная запись помечена ошибкой и сохранена
	got, err := repo.GetByUUID(ctx, broken.UUID)
	if err != nil {
		t.Fatalf("проблемная запись пропала: %v", err)
	}
	if !got.Error {
		t.Error("Error: хотели true, получили false")
	}

	// Уведомление только по успешной записи
	if sent := notifier.notifications(); len(sent) != 1 {
		t.Errorf("уведомлений: хотели 1, получили %d", len(sent))
	}
}

func TestSweeper_SkipsErroredRecords(t *testing.T) {
	drc := &mockDRC{}
	sweeper, svc, repo, _ := newTestSweeper(t, drc)
	ctx := context.Background()

	df, err := svc.Checkout(ctx, checkoutParams(constants.PurposeWrite))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := repo.MarkError(ctx, []string{df.UUID}, constants.ErrMsgDocumentNotUpdated); err != nil {
		t.Fatalf("MarkError: %v", err)
	}

	result, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if result.WriteDeleted != 0 {
		t.Errorf("WriteDeleted: хотели 0, получили %d", result.WriteDeleted)
	}
	if result.Pending != 1 {
		t.Errorf("Pending: хотели 1, получили %d", result.Pending)
	}

	// Запись с терминальной ошибкой не трогается
	if _, err := repo.GetByUUID(ctx, df.UUID); err != nil {
		t.Errorf("запись с терминальной ошибкой удалена: %v", err)
	}
	_, unlock, _ := drc.calls()
	if unlock != 0 {
		t.Errorf("UnlockDocument для error-записи: хотели 0 вызовов, получили %d", unlock)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	drc := &mockDRC{}
	sweeper, _, _, _ := newTestSweeper(t, drc)

	sweeper.Start()
	// Первый цикл выполняется сразу; даём ему время
	time.Sleep(100 * time.Millisecond)
	sweeper.Stop()
}

func TestSweeper_DisabledWhenIntervalZero(t *testing.T) {
	drc := &mockDRC{}
	svc, repo, _ := newTestService(t, drc)
	sweeper := NewSweeperService(svc, repo, &recordingNotifier{}, 0, 1, testLogger())
	ctx := context.Background()

	// Нулевой интервал отключает периодические циклы: Start/Stop
	// не запускают ticker и не роняют процесс
	sweeper.Start()
	sweeper.Stop()

	// Ручной запуск при этом остаётся доступным
	if _, err := svc.Checkout(ctx, checkoutParams(constants.PurposeRead)); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	result, err := sweeper.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if result.ReadDeleted != 1 {
		t.Errorf("ReadDeleted: хотели 1, получили %d", result.ReadDeleted)
	}
}

func TestSweeper_TransientFailuresDoNotStall(t *testing.T) {
	drc := &mockDRC{}
	sweeper, _, repo, _ := newTestSweeper(t, drc)
	ctx := context.Background()

	// Больше одного батча (200) read-записей, удаление которых отказывает:
	// цикл обязан пройти мимо них, а не крутиться на первом батче
	for i := 0; i < 201; i++ {
		df := &model.DocumentFile{
			UUID:           uuid.New().String(),
			Purpose:        constants.PurposeRead,
			Owner:          "jdoe",
			DRCURL:         fmt.Sprintf("%s-%03d", testDRCURL, i),
			UnversionedURL: fmt.Sprintf("%s-%03d", testDRCURL, i),
			Filename:       "report.docx",
		}
		if err := repo.Create(ctx, df); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	repo.deleteErr = errors.New("отказ БД")

	done := make(chan struct{})
	var result *SweepResult
	var runErr error
	go func() {
		result, runErr = sweeper.RunOnce(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("RunOnce не завершился: цикл застрял на неудаляемых записях")
	}

	if runErr != nil {
		t.Fatalf("RunOnce: %v", runErr)
	}
	if result.ReadDeleted != 0 {
		t.Errorf("ReadDeleted: хотели 0, получили %d", result.ReadDeleted)
	}

	count, _ := repo.Count(ctx, filtersAll())
	if count != 201 {
		t.Errorf("записей после цикла: хотели 201, получили %d", count)
	}
}
