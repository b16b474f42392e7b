package chat

import (
	"context"
	"errors"
	"time"

	"github.com/arzzra/rcs_stack/pkg/cpim"
	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/imdn"
	"github.com/arzzra/rcs_stack/pkg/msrp"
)

// pendingReport учет отправленного по медиаплоскости отчета: по нему
// при ошибке передачи отчет повторяется по сигнальному плану с
// исходным идентификатором сообщения
type pendingReport struct {
	messageID string
	status    imdn.Status
}

// autoDeliveredReport немедленный отчет о доставке входящего
// сообщения. Отправка выполняется в очереди сессии, чтобы не
// блокировать обратный вызов медиатранспорта. Сессия отложенных
// отчетов store-and-forward сама отчетов не отправляет.
func (s *Session) autoDeliveredReport(contact string, msgID string) {
	if s.variant == StoreForwardNotifications {
		return
	}
	s.enqueue(func(ctx context.Context) {
		if err := s.SendDeliveryReport(ctx, msgID, imdn.StatusDelivered); err != nil {
			s.logger.Warn("отчет о доставке не отправлен",
				dialog.F("contact", contact), dialog.F("message_id", msgID),
				dialog.F("error", err.Error()))
		}
	})
}

// SendDeliveryReport отправляет отчет о статусе сообщения по
// медиаплоскости; при отказе транспорта тот же отчет уходит по
// сигнальному плану.
func (s *Session) SendDeliveryReport(ctx context.Context, msgID string, status imdn.Status) error {
	doc := imdn.Build(msgID, status, time.Now())
	content := cpim.Build(cpim.Opts{
		From:        cpim.AnonymousURI,
		To:          cpim.AnonymousURI,
		ContentType: imdn.MimeType,
		Body:        doc,
	})

	chunkType := msrp.ChunkOtherReport
	switch status {
	case imdn.StatusDelivered:
		chunkType = msrp.ChunkDeliveredReport
	case imdn.StatusDisplayed:
		chunkType = msrp.ChunkDisplayedReport
	}

	chunkID := dialog.GenerateMessageID()
	s.rememberReport(chunkID, msgID, status)

	if err := s.msrpMgr.SendChunk(chunkID, cpim.MimeType, content, chunkType); err != nil {
		s.forgetReport(chunkID)
		s.logger.Info("отчет уходит по сигнальному плану",
			dialog.F("message_id", msgID), dialog.F("status", string(status)))
		return s.fallbackReport(ctx, msgID, status)
	}
	return nil
}

// SendDisplayReport отправляет отчет о прочтении. Вызывается
// потребителем, когда сообщение фактически показано пользователю.
func (s *Session) SendDisplayReport(ctx context.Context, msgID string) error {
	return s.SendDeliveryReport(ctx, msgID, imdn.StatusDisplayed)
}

func (s *Session) fallbackReport(ctx context.Context, msgID string, status imdn.Status) error {
	if s.cfg.Fallback == nil {
		return dialog.NewChatError(dialog.ErrUnexpectedException, "no signaling fallback configured")
	}
	return s.cfg.Fallback.SendDeliveryStatus(ctx, s.cfg.Remote, msgID, status)
}

func (s *Session) rememberReport(chunkID, msgID string, status imdn.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingReports == nil {
		s.pendingReports = make(map[string]pendingReport)
	}
	s.pendingReports[chunkID] = pendingReport{messageID: msgID, status: status}
}

func (s *Session) forgetReport(chunkID string) (pendingReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rep, ok := s.pendingReports[chunkID]
	if ok {
		delete(s.pendingReports, chunkID)
	}
	return rep, ok
}

// TransferError обрабатывает ошибку передачи чанка.
//
// Сначала судьба затронутого сообщения: неудавшийся отчет повторяется
// по сигнальному плану, неудавшееся пользовательское сообщение
// получает статус failed. Затем судьба самой медиасессии: транзиентные
// ошибки таймаута и размера оставляют сессию жить, остальные требуют
// ее сноса.
func (s *Session) TransferError(messageID string, err error, chunkType msrp.ChunkType) {
	if s.interrupted.Load() {
		return
	}
	s.logger.Warn("ошибка передачи чанка",
		dialog.F("message_id", messageID),
		dialog.F("chunk_type", chunkType.String()),
		dialog.F("error", err.Error()))

	switch chunkType {
	case msrp.ChunkDeliveredReport, msrp.ChunkDisplayedReport, msrp.ChunkOtherReport:
		// Повтор по сигнальному плану уходит через очередь сессии:
		// обратный вызов транспорта не должен ждать SIP транзакцию
		if rep, ok := s.forgetReport(messageID); ok {
			s.enqueue(func(ctx context.Context) {
				if ferr := s.fallbackReport(ctx, rep.messageID, rep.status); ferr != nil {
					s.logger.Error("резервная отправка отчета не удалась",
						dialog.F("message_id", rep.messageID), dialog.F("error", ferr.Error()))
				}
			})
		}
	case msrp.ChunkTextMessage:
		if messageID != "" {
			s.bus.emit(Event{Type: EventDeliveryUpdated, SessionID: s.id, Delivery: &DeliveryUpdate{
				MessageID: messageID,
				Status:    imdn.StatusFailed,
			}})
		}
	default:
		// Пустые чанки и события набора не требуют реакции
	}

	var statusErr *msrp.StatusError
	if errors.As(err, &statusErr) && statusErr.Transient() {
		s.emitError(dialog.NewChatError(dialog.ErrMediaSessionBroken, err.Error()))
		return
	}
	s.emitError(dialog.NewChatError(dialog.ErrMediaSessionFailed, err.Error()))
	s.abortSession(AbortBySystem, "media session failed")
}
