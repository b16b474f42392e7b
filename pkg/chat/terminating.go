package chat

import (
	"context"
	"time"

	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/msrp"
)

// answerResult исход ожидания ответа пользователя
type answerResult int

const (
	answerAccepted answerResult = iota
	answerRejected
	answerTimeout
	answerCancelled
)

// runTerminating обрабатывает входящее приглашение: автоприем либо
// 180 и ожидание ответа, согласование транспорта в ответном SDP,
// 200 OK и ожидание ACK.
func (s *Session) runTerminating(ctx context.Context) error {
	s.logger.Info("установление входящей сессии", dialog.F("variant", s.variant.String()))

	if s.tx == nil {
		return dialog.NewChatError(dialog.ErrUnexpectedException, "no server transaction")
	}

	if s.autoAcceptEnabled() || s.inviteCarriesFileTransfer() {
		s.logger.Debug("автоматический прием приглашения")
	} else {
		if err := s.path.RespondRinging(s.tx); err != nil {
			return dialog.WrapChatError(dialog.ErrSessionInitiationFailed, err)
		}
		switch s.waitAnswer(ctx) {
		case answerRejected:
			_ = s.path.RespondDecline(s.tx)
			s.bus.emit(Event{Type: EventSessionAborted, SessionID: s.id, Reason: AbortByUser})
			s.cleanup()
			return nil
		case answerTimeout:
			_ = s.path.RespondBusy(s.tx)
			s.bus.emit(Event{Type: EventSessionAborted, SessionID: s.id, Reason: AbortByTimeout})
			s.cleanup()
			return nil
		case answerCancelled:
			// Молчаливый выход: транспорт закрывается, событий нет
			_ = s.path.Cancel()
			s.cleanup()
			return nil
		}
	}

	remote := s.path.RemoteContent()
	if remote == nil {
		_ = s.path.RespondUnsupportedMedia(s.tx)
		return dialog.NewChatError(dialog.ErrUnsupportedMediaType, "INVITE carries no SDP")
	}
	offer, err := msrp.ParseRemoteOffer(remote.Content)
	if err != nil {
		_ = s.path.RespondUnsupportedMedia(s.tx)
		return dialog.WrapChatError(dialog.ErrUnsupportedMediaType, err)
	}

	localSetup := msrp.AnswerSetup(offer.Setup, s.cfg.Settings.BehindNAT)
	localPort := msrp.PortForSetup(localSetup, s.cfg.LocalMsrpPort)
	s.logger.Debug("согласование setup",
		dialog.F("remote", offer.Setup), dialog.F("local", localSetup))

	sdp, err := msrp.BuildChatSDP(msrp.ChatSDPOpts{
		LocalIP:      s.cfg.LocalIP,
		Port:         localPort,
		Path:         s.msrpMgr.LocalEndpoint().Path,
		Setup:        localSetup,
		AcceptTypes:  s.acceptTypes,
		WrappedTypes: s.wrappedTypes,
		Direction:    "sendrecv",
	})
	if err != nil {
		return err
	}
	s.path.SetLocalContent(&dialog.Body{ContentType: "application/sdp", Content: []byte(sdp)})

	if s.interrupted.Load() {
		s.cleanup()
		return nil
	}

	// Пассивная роль слушает до ответа; пустой чанк отправляется даже
	// в пассивном режиме, чтобы активная сторона прошла NAT
	if localSetup == "passive" {
		if err := s.msrpMgr.Open(ctx, msrp.RolePassive, offer.Endpoint); err != nil {
			return dialog.WrapChatError(dialog.ErrMediaSessionFailed, err)
		}
		if err := s.msrpMgr.SendEmptyChunk(); err != nil {
			s.logger.Warn("пустой чанк не отправлен", dialog.F("error", err.Error()))
		}
	}

	if err := s.path.Accept(ctx, s.tx, dialog.AcceptOpts{
		FeatureTags: s.cfg.FeatureTags,
		AckTimeout:  s.cfg.Settings.AckTimeout,
	}); err != nil {
		// Таймаут ACK не повторяется: установление провалено
		return err
	}

	if localSetup == "active" {
		if err := s.msrpMgr.Open(ctx, msrp.RoleActive, offer.Endpoint); err != nil {
			return dialog.WrapChatError(dialog.ErrMediaSessionFailed, err)
		}
		if err := s.msrpMgr.SendEmptyChunk(); err != nil {
			s.logger.Warn("пустой чанк не отправлен", dialog.F("error", err.Error()))
		}
	}

	s.onEstablished(ctx)
	return nil
}

func (s *Session) autoAcceptEnabled() bool {
	switch {
	case s.variant.IsStoreAndForward():
		return true
	case s.variant.IsGroup():
		return s.cfg.Settings.AutoAcceptGroupChat
	default:
		return s.cfg.Settings.AutoAcceptChat
	}
}

// waitAnswer блокирует до ответа пользователя, CANCEL удаленной
// стороны, отмены контекста или таймаута
func (s *Session) waitAnswer(ctx context.Context) answerResult {
	timeout := s.cfg.Settings.AnswerTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case accepted := <-s.answerCh:
		if accepted {
			return answerAccepted
		}
		return answerRejected
	case <-s.tx.Cancels():
		return answerCancelled
	case <-ctx.Done():
		return answerCancelled
	case <-timer.C:
		return answerTimeout
	}
}
