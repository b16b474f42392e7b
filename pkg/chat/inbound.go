package chat

import (
	"strings"
	"time"

	"github.com/arzzra/rcs_stack/pkg/cpim"
	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/fthttp"
	"github.com/arzzra/rcs_stack/pkg/geoloc"
	"github.com/arzzra/rcs_stack/pkg/imdn"
)

// DataTransferred чанк подтвержден удаленной стороной
func (s *Session) DataTransferred(messageID string) {
	s.logger.Debug("чанк подтвержден", dialog.F("message_id", messageID))
	s.activity.touch()
	s.forgetReport(messageID)
}

// TransferProgress прогресс передачи не используется чатом
func (s *Session) TransferProgress(current, total int64) {}

// TransferAborted передача прервана удаленной стороной
func (s *Session) TransferAborted() {
	s.logger.Debug("передача прервана удаленной стороной")
}

// DataReceived принимает входящий чанк и ветвит обработку по MIME
// типу: событие набора, голый текст или конверт message/cpim.
func (s *Session) DataReceived(messageID string, data []byte, mimeType string) {
	s.activity.touch()

	if len(data) == 0 {
		s.logger.Debug("пустой чанк пропущен")
		return
	}

	switch {
	case strings.EqualFold(mimeType, ComposingMimeType):
		if err := s.composing.receive(s.remoteContact, data); err != nil {
			s.logger.Warn("некорректный документ isComposing", dialog.F("error", err.Error()))
		}
	case strings.EqualFold(mimeType, "text/plain"):
		// Голый текст не несет метаданных доставки
		s.receiveText(s.remoteContact, string(data), messageID, false, time.Now(), "")
	case strings.EqualFold(mimeType, cpim.MimeType):
		s.receiveEnvelope(messageID, data)
	default:
		s.logger.Debug("неподдерживаемый тип контента", dialog.F("mime", mimeType))
	}
}

// receiveEnvelope разбирает конверт и ветвит по внутреннему типу.
// Некорректный конверт журналируется и отбрасывается без завершения
// сессии.
func (s *Session) receiveEnvelope(msrpMessageID string, data []byte) {
	msg, err := cpim.Parse(data)
	if err != nil {
		s.logger.Warn("некорректный конверт, сообщение отброшено", dialog.F("error", err.Error()))
		return
	}

	msgID := msg.MessageID()
	if msgID == "" {
		msgID = msrpMessageID
	}
	from := msg.From()
	if from == "" || strings.Contains(from, "anonymous") {
		from = s.remoteContact
	}
	date, ok := msg.DateTime()
	if !ok {
		date = time.Now()
	}

	// Приглашение передачи файла всегда подтверждается отчетом о
	// доставке; иначе отчет отправляется по явному запросу отправителя
	isFileTransfer := strings.EqualFold(msg.ContentType, fthttp.MimeType)
	if isFileTransfer || msg.DeliveryRequested() {
		s.autoDeliveredReport(from, msgID)
	}
	displayRequested := msg.DisplayRequested()

	switch {
	case isFileTransfer:
		info, err := fthttp.Parse(msg.Body)
		if err != nil {
			s.logger.Warn("некорректный документ передачи файла", dialog.F("error", err.Error()))
			return
		}
		s.receiveFileTransfer(from, msgID, info)
	case strings.EqualFold(msg.ContentType, "text/plain"):
		s.receiveText(from, string(msg.Body), msgID, displayRequested, date, "")
		if displayRequested && s.cfg.Settings.DisplayedNotificationActivated {
			s.cfg.Store.MarkDisplayRequested(msgID)
		}
	case strings.EqualFold(msg.ContentType, ComposingMimeType):
		if err := s.composing.receive(from, msg.Body); err != nil {
			s.logger.Warn("некорректный документ isComposing", dialog.F("error", err.Error()))
		}
	case strings.EqualFold(msg.ContentType, imdn.MimeType):
		s.receiveDeliveryStatus(from, msg.Body)
	case strings.EqualFold(msg.ContentType, geoloc.MimeType):
		s.receiveGeoloc(from, msgID, msg.Body, date)
	default:
		s.logger.Debug("неподдерживаемый тип внутри конверта", dialog.F("mime", msg.ContentType))
	}
}

// receiveText доставляет текстовое сообщение слушателям.
//
// Повтор пары (беседа, сообщение) сбрасывает состояние набора, но
// событие не публикуется.
func (s *Session) receiveText(contact, text, msgID string, displayRequested bool, date time.Time, displayName string) {
	s.composing.reset(contact)

	if !s.cfg.Store.IsNewMessage(s.contributionID, msgID) {
		s.logger.Debug("повтор сообщения подавлен", dialog.F("message_id", msgID))
		return
	}
	if s.cfg.Registry != nil {
		s.cfg.Registry.CountMessage("in")
	}
	s.bus.emit(Event{Type: EventMessageReceived, SessionID: s.id, Message: &InstantMessage{
		MessageID:        msgID,
		Contact:          contact,
		Text:             text,
		DisplayRequested: displayRequested,
		Date:             date,
		DisplayName:      displayName,
	}})
}

// receiveGeoloc доставляет геопозицию слушателям
func (s *Session) receiveGeoloc(contact, msgID string, doc []byte, date time.Time) {
	s.composing.reset(contact)

	g, err := geoloc.Parse(doc)
	if err != nil {
		s.logger.Warn("некорректный документ геопозиции", dialog.F("error", err.Error()))
		return
	}
	s.bus.emit(Event{Type: EventGeolocReceived, SessionID: s.id, Geoloc: &GeolocMessage{
		MessageID: msgID,
		Contact:   contact,
		Geoloc:    *g,
		Date:      date,
	}})
}

// receiveDeliveryStatus применяет отчет о доставке и уведомляет
// слушателей при фактическом продвижении статуса
func (s *Session) receiveDeliveryStatus(contact string, doc []byte) {
	report, err := imdn.Parse(doc)
	if err != nil {
		s.logger.Warn("некорректный отчет о доставке", dialog.F("error", err.Error()))
		return
	}
	applied, err := s.tracker.Apply(report.MessageID, report.Status)
	if err != nil {
		s.logger.Warn("отчет о доставке отклонен", dialog.F("error", err.Error()))
		return
	}
	if !applied {
		return
	}
	s.bus.emit(Event{Type: EventDeliveryUpdated, SessionID: s.id, Delivery: &DeliveryUpdate{
		MessageID: report.MessageID,
		Status:    report.Status,
		Contact:   contact,
	}})
}

// receiveFileTransfer обрабатывает приглашение передачи файла.
// Заблокированный отправитель, превышение размера или числа
// одновременных передач отбрасывают приглашение молча, без ответа
// в протоколе.
func (s *Session) receiveFileTransfer(contact, msgID string, info *fthttp.Info) {
	if s.cfg.Contacts != nil && s.cfg.Contacts.IsBlocked(contact) {
		s.logger.Debug("отправитель заблокирован, приглашение отброшено",
			dialog.F("contact", contact))
		return
	}
	if max := s.cfg.Settings.MaxFileTransferSize; max > 0 && info.Size > max {
		s.logger.Debug("файл превышает лимит, приглашение отброшено",
			dialog.F("size", info.Size), dialog.F("max", max))
		return
	}
	if max := s.cfg.Settings.MaxFileTransferSessions; max > 0 && s.cfg.Registry != nil &&
		s.cfg.Registry.FileTransferCount() > max {
		s.logger.Debug("достигнут лимит одновременных передач, приглашение отброшено")
		return
	}

	// Занятое место счетчика передач возвращается через
	// CompleteFileTransfer или при завершении сессии
	if s.cfg.Registry != nil {
		s.cfg.Registry.AddFileTransfer()
		s.mu.Lock()
		s.ftSlots++
		s.mu.Unlock()
	}
	s.bus.emit(Event{Type: EventFileTransferInvite, SessionID: s.id, Invite: &FileTransferInvite{
		MessageID: msgID,
		Contact:   contact,
		Info:      info,
	}})
}
