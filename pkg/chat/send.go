package chat

import (
	"github.com/arzzra/rcs_stack/pkg/cpim"
	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/geoloc"
	"github.com/arzzra/rcs_stack/pkg/imdn"
	"github.com/arzzra/rcs_stack/pkg/msrp"
)

// SendTextMessage отправляет текстовое сообщение и возвращает его
// идентификатор. При включенных отчетах о доставке текст оборачивается
// в конверт с заголовками запроса отчетов.
func (s *Session) SendTextMessage(text string) (string, error) {
	msgID := dialog.GenerateMessageID()

	var data []byte
	mime := "text/plain"
	if s.cfg.Settings.IMDNActivated {
		data = cpim.Build(cpim.Opts{
			From:         s.cfg.LocalParty.String(),
			To:           s.cfg.Remote.String(),
			MessageID:    msgID,
			Dispositions: []string{cpim.PositiveDelivery, cpim.Display},
			ContentType:  "text/plain",
			Body:         []byte(text),
		})
		mime = cpim.MimeType
	} else {
		data = []byte(text)
	}

	if err := s.msrpMgr.SendChunk(msgID, mime, data, msrp.ChunkTextMessage); err != nil {
		return msgID, err
	}
	if s.cfg.Settings.IMDNActivated {
		_ = s.cfg.Store.SetStatus(msgID, imdn.StatusSent)
	}
	if s.cfg.Registry != nil {
		s.cfg.Registry.CountMessage("out")
	}
	return msgID, nil
}

// SendGeoloc отправляет геопозицию в конверте
func (s *Session) SendGeoloc(g geoloc.Geoloc) (string, error) {
	msgID := dialog.GenerateMessageID()

	opts := cpim.Opts{
		From:        s.cfg.LocalParty.String(),
		To:          s.cfg.Remote.String(),
		ContentType: geoloc.MimeType,
		Body:        geoloc.Build(g),
	}
	if s.cfg.Settings.IMDNActivated {
		opts.MessageID = msgID
		opts.Dispositions = []string{cpim.PositiveDelivery, cpim.Display}
	}

	if err := s.msrpMgr.SendChunk(msgID, cpim.MimeType, cpim.Build(opts), msrp.ChunkTextMessage); err != nil {
		return msgID, err
	}
	if s.cfg.Settings.IMDNActivated {
		_ = s.cfg.Store.SetStatus(msgID, imdn.StatusSent)
	}
	if s.cfg.Registry != nil {
		s.cfg.Registry.CountMessage("out")
	}
	return msgID, nil
}

// SendComposingStatus отправляет состояние набора текста
func (s *Session) SendComposingStatus(active bool) error {
	doc := buildIsComposing(active, s.cfg.Settings.ComposingIdleTimeout)
	return s.msrpMgr.SendChunk(dialog.GenerateMessageID(), ComposingMimeType, doc, msrp.ChunkComposing)
}
