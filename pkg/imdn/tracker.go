package imdn

import (
	"fmt"
	"sync"

	"github.com/arzzra/rcs_stack/pkg/dialog"
)

// MessageStore внешнее хранилище статусов доставки по идентификатору
// сообщения
type MessageStore interface {
	SetStatus(messageID string, status Status) error
	Status(messageID string) (Status, bool)
}

// статусы упорядочены: sent < delivered < displayed
var statusRank = map[Status]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusDisplayed: 2,
}

// Tracker применяет обновления статуса доставки.
//
// Обновление принимается только строго вперед по последовательности
// sent < delivered < displayed. Статус failed принимается безусловно и
// является терминальным: после него обновления не применяются.
type Tracker struct {
	mu     sync.Mutex
	store  MessageStore
	logger dialog.StructuredLogger
}

// NewTracker создает трекер поверх хранилища
func NewTracker(store MessageStore, logger dialog.StructuredLogger) *Tracker {
	if logger == nil {
		logger = dialog.NoopLogger{}
	}
	return &Tracker{store: store, logger: logger.WithComponent("imdn")}
}

// Apply применяет обновление статуса. Возвращает true, когда статус
// записан в хранилище; false, когда обновление отклонено как не
// продвигающее последовательность.
func (t *Tracker) Apply(messageID string, status Status) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current, known := t.store.Status(messageID)
	if known && current == StatusFailed {
		t.logger.Debug("update after terminal failed ignored",
			dialog.F("message_id", messageID),
			dialog.F("status", string(status)))
		return false, nil
	}

	if status == StatusFailed {
		if err := t.store.SetStatus(messageID, status); err != nil {
			return false, fmt.Errorf("persist failed status: %w", err)
		}
		return true, nil
	}

	rank, valid := statusRank[status]
	if !valid {
		return false, fmt.Errorf("unknown delivery status %q", status)
	}
	if known {
		if currentRank, ok := statusRank[current]; ok && rank <= currentRank {
			t.logger.Debug("non-forward update ignored",
				dialog.F("message_id", messageID),
				dialog.F("current", string(current)),
				dialog.F("status", string(status)))
			return false, nil
		}
	}

	if err := t.store.SetStatus(messageID, status); err != nil {
		return false, fmt.Errorf("persist status: %w", err)
	}
	return true, nil
}
