package chat

import (
	"context"
	"strings"

	"github.com/arzzra/rcs_stack/pkg/cpim"
	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/fthttp"
	"github.com/arzzra/rcs_stack/pkg/imdn"
	"github.com/arzzra/rcs_stack/pkg/msrp"
)

// runOriginating устанавливает исходящую сессию: предложение setup,
// SDP с параметрами транспорта, первое сообщение в multipart теле,
// INVITE и открытие медиаплоскости после финального ответа.
func (s *Session) runOriginating(ctx context.Context) error {
	s.logger.Info("установление исходящей сессии", dialog.F("variant", s.variant.String()))

	localSetup := msrp.OfferSetup(s.cfg.Settings.BehindNAT)
	localPort := msrp.PortForSetup(localSetup, s.cfg.LocalMsrpPort)

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

	sdpBody := dialog.Body{ContentType: "application/sdp", Content: []byte(sdp)}
	body := sdpBody
	if s.cfg.FirstMessage != "" || len(s.cfg.FileTransferInfo) > 0 {
		cpimPart := s.buildFirstMessagePart()
		body = dialog.BuildMultipartBody(sdpBody, cpimPart)
	}
	s.path.SetLocalContent(&body)

	_, err = s.path.SendInvite(ctx, s.cfg.Transport, dialog.InviteOpts{
		FeatureTags:    s.cfg.FeatureTags,
		AcceptContact:  s.acceptContactTags(),
		Subject:        s.cfg.Subject,
		ContributionID: s.contributionID,
		Authorizer:     s.cfg.Auth,
	})
	if err != nil {
		return err
	}

	remote := s.path.RemoteContent()
	if remote == nil {
		return dialog.NewChatError(dialog.ErrSessionInitiationFailed, "final response carries no SDP")
	}
	offer, err := msrp.ParseRemoteOffer(remote.Content)
	if err != nil {
		return dialog.WrapChatError(dialog.ErrUnsupportedMediaType, err)
	}

	// Роль берется противоположной к setup из ответа: предложенный
	// actpass оставляет выбор за отвечающей стороной
	role := msrp.RoleFromSetup(msrp.AnswerSetup(offer.Setup, s.cfg.Settings.BehindNAT))
	if err := s.msrpMgr.Open(ctx, role, offer.Endpoint); err != nil {
		return dialog.WrapChatError(dialog.ErrMediaSessionFailed, err)
	}
	if err := s.msrpMgr.SendEmptyChunk(); err != nil {
		s.logger.Warn("пустой чанк не отправлен", dialog.F("error", err.Error()))
	}

	s.onEstablished(ctx)
	return nil
}

// buildFirstMessagePart собирает CPIM часть multipart тела INVITE.
// Заголовки отчетов о доставке добавляются, когда они включены в
// настройках либо приглашение несет передачу файла.
func (s *Session) buildFirstMessagePart() dialog.Body {
	withIMDN := s.cfg.Settings.IMDNActivated || len(s.cfg.FileTransferInfo) > 0

	opts := cpim.Opts{
		From: s.cfg.LocalParty.String(),
		To:   s.cfg.Remote.String(),
	}
	if len(s.cfg.FileTransferInfo) > 0 {
		opts.ContentType = fthttp.MimeType
		opts.Body = s.cfg.FileTransferInfo
	} else {
		opts.ContentType = "text/plain"
		opts.Body = []byte(s.cfg.FirstMessage)
	}
	if withIMDN {
		opts.MessageID = dialog.GenerateMessageID()
		opts.Dispositions = []string{cpim.PositiveDelivery, cpim.Display}
		_ = s.cfg.Store.SetStatus(opts.MessageID, imdn.StatusSent)
	}
	return dialog.Body{ContentType: cpim.MimeType, Content: cpim.Build(opts)}
}

// acceptContactTags теги Accept-Contact заголовка исходящего INVITE
func (s *Session) acceptContactTags() []string {
	if len(s.cfg.FeatureTags) == 0 {
		return nil
	}
	return []string{"*;" + strings.Join(s.cfg.FeatureTags, ";")}
}
