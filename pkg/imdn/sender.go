package imdn

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_stack/pkg/cpim"
	"github.com/arzzra/rcs_stack/pkg/dialog"
)

// Sender отправляет отчеты о доставке по сигнальному плану (MESSAGE вне
// диалога). Используется как резервный путь, когда отправка отчета по
// медиаплоскости невозможна.
type Sender struct {
	tr     dialog.SignalingTransport
	local  sip.Uri
	logger dialog.StructuredLogger
}

// NewSender создает отправителя отчетов
func NewSender(tr dialog.SignalingTransport, local sip.Uri, logger dialog.StructuredLogger) *Sender {
	if logger == nil {
		logger = dialog.NoopLogger{}
	}
	return &Sender{tr: tr, local: local, logger: logger.WithComponent("imdn")}
}

// SendDeliveryStatus строит отчет о доставке, оборачивает его в конверт
// message/cpim и отправляет запросом MESSAGE на адрес удаленной стороны.
// Неуспешный финальный ответ возвращается ошибкой.
func (s *Sender) SendDeliveryStatus(ctx context.Context, remote sip.Uri, messageID string, status Status) error {
	doc := Build(messageID, status, time.Now())
	body := cpim.Build(cpim.Opts{
		From:        cpim.AnonymousURI,
		To:          cpim.AnonymousURI,
		ContentType: MimeType,
		Body:        doc,
	})

	path := dialog.NewDialogPath(dialog.PathConfig{
		CallID:      dialog.GenerateCallID(),
		Target:      remote,
		LocalParty:  s.local,
		RemoteParty: remote,
	})
	req := path.BuildInitialRequest(sip.MESSAGE)
	ct := sip.ContentTypeHeader(cpim.MimeType)
	req.AppendHeader(&ct)
	req.SetBody(body)

	s.logger.Debug("sending delivery status over signaling plane",
		dialog.F("message_id", messageID),
		dialog.F("status", string(status)))

	tx, err := s.tr.Request(ctx, req)
	if err != nil {
		return fmt.Errorf("send delivery status: %w", err)
	}

	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return fmt.Errorf("delivery status transaction closed")
			}
			if res.StatusCode < 200 {
				continue
			}
			if res.StatusCode >= 300 {
				return fmt.Errorf("delivery status rejected: %d %s", res.StatusCode, res.Reason)
			}
			return nil
		case <-tx.Done():
			return fmt.Errorf("no response for delivery status")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
