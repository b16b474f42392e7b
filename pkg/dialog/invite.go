package dialog

import (
	"context"
	"fmt"
	"time"

	"github.com/emiago/sipgo/sip"
)

// SIP коды ответов, участвующие в сценариях установления сессии
const (
	StatusRinging                = 180
	StatusOK                     = 200
	StatusUnauthorized           = 401
	StatusProxyAuthRequired      = 407
	StatusUnsupportedMediaType   = 415
	StatusTemporarilyUnavailable = 480
	StatusBusyHere               = 486
	StatusRequestTerminated      = 487
	StatusServiceUnavailable     = 503
	StatusDecline                = 603
)

// InviteOpts параметры исходящего приглашения
type InviteOpts struct {
	// FeatureTags теги возможностей, добавляемые в Contact заголовок
	FeatureTags []string
	// AcceptContact теги для Accept-Contact заголовка
	AcceptContact []string
	// Subject тема сессии (групповой чат)
	Subject string
	// ContributionID идентификатор беседы
	ContributionID string
	// ContactURI локальный Contact
	ContactURI string
	// Authorizer прикрепляет авторизацию; nil эквивалентен NoAuth
	Authorizer Authorizer
	// OnProvisional вызывается на каждый предварительный ответ (180)
	OnProvisional func(res *sip.Response)
}

// BuildInvite создает INVITE запрос с заголовками диалога и локальным
// контентом из диалогового пути
func (p *DialogPath) BuildInvite(opts InviteOpts) *sip.Request {
	req := p.BuildInitialRequest(sip.INVITE)

	contact := opts.ContactURI
	if contact == "" {
		localParty := p.LocalParty()
		contact = localParty.String()
	}
	contactValue := fmt.Sprintf("<%s>", contact)
	for _, tag := range opts.FeatureTags {
		contactValue += ";" + tag
	}
	req.AppendHeader(sip.NewHeader("Contact", contactValue))

	for _, tag := range opts.AcceptContact {
		req.AppendHeader(sip.NewHeader("Accept-Contact", "*;"+tag))
	}
	if opts.Subject != "" {
		req.AppendHeader(sip.NewHeader("Subject", opts.Subject))
	}
	if opts.ContributionID != "" {
		req.AppendHeader(sip.NewHeader("Contribution-ID", opts.ContributionID))
	}

	if body := p.LocalContent(); body != nil {
		ct := sip.ContentTypeHeader(body.ContentType)
		req.AppendHeader(&ct)
		req.SetBody(body.Content)
	}

	return req
}

// SendInvite отправляет INVITE и ожидает финальный ответ.
//
// Предварительные ответы (1xx) фиксируют удаленный тег и передаются в
// OnProvisional. По финальному ответу:
//   - 2xx: диалог переходит в SignalingEstablished, отправляется ACK,
//     затем SessionEstablished; возвращается ответ пира
//   - 480/486/603: ошибка session-initiation-declined с причиной пира
//   - 487: ошибка session-initiation-cancelled
//   - прочие: ошибка session-initiation-failed
//
// Отмена контекста прерывает ожидание; вызывающая сторона обязана
// выполнить очистку транспорта самостоятельно.
func (p *DialogPath) SendInvite(ctx context.Context, tr SignalingTransport, opts InviteOpts) (*sip.Response, error) {
	invite := p.BuildInvite(opts)

	auth := opts.Authorizer
	if auth == nil {
		auth = NoAuth{}
	}
	if err := auth.SetAuthorization(invite); err != nil {
		return nil, WrapChatError(ErrUnexpectedException, err)
	}

	p.SetInvite(invite)

	tx, err := tr.Request(ctx, invite)
	if err != nil {
		return nil, WrapChatError(ErrSessionInitiationFailed, err)
	}

	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, NewChatError(ErrSessionInitiationFailed, "transaction closed without response")
			}
			if res.StatusCode < 200 {
				if toTag, ok := res.To().Params.Get("tag"); ok {
					p.SetRemoteTag(toTag)
				}
				if opts.OnProvisional != nil {
					opts.OnProvisional(res)
				}
				continue
			}
			return p.handleInviteFinal(ctx, tr, invite, res)

		case <-tx.Done():
			return nil, NewChatError(ErrSessionInitiationFailed, "no response received")

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *DialogPath) handleInviteFinal(ctx context.Context, tr SignalingTransport, invite *sip.Request, res *sip.Response) (*sip.Response, error) {
	switch {
	case res.StatusCode >= 200 && res.StatusCode < 300:
		if toTag, ok := res.To().Params.Get("tag"); ok {
			p.SetRemoteTag(toTag)
		}
		if ct := res.ContentType(); ct != nil && len(res.Body()) > 0 {
			p.SetRemoteContent(&Body{ContentType: ct.Value(), Content: res.Body()})
		}
		if err := p.SigEstablished(); err != nil {
			return nil, WrapChatError(ErrUnexpectedException, err)
		}
		if err := p.sendAck(ctx, tr, invite, res); err != nil {
			return nil, WrapChatError(ErrSessionInitiationFailed, err)
		}
		if err := p.SessionEstablished(); err != nil {
			return nil, WrapChatError(ErrUnexpectedException, err)
		}
		return res, nil

	case res.StatusCode == StatusTemporarilyUnavailable,
		res.StatusCode == StatusBusyHere,
		res.StatusCode == StatusDecline:
		_ = p.Terminate()
		return nil, NewChatErrorFromResponse(ErrSessionInitiationDeclined, res.StatusCode, res.Reason)

	case res.StatusCode == StatusRequestTerminated:
		_ = p.Cancel()
		return nil, NewChatErrorFromResponse(ErrSessionInitiationCancelled, res.StatusCode, res.Reason)

	default:
		_ = p.Terminate()
		return nil, NewChatErrorFromResponse(ErrSessionInitiationFailed, res.StatusCode, res.Reason)
	}
}

// sendAck подтверждает 2xx ответ. ACK на 2xx идет вне INVITE транзакции
// с тем же CSeq номером, что и INVITE.
func (p *DialogPath) sendAck(ctx context.Context, tr SignalingTransport, invite *sip.Request, res *sip.Response) error {
	ack := sip.NewRequest(sip.ACK, p.Target())
	ack.AppendHeader(invite.From())

	to := &sip.ToHeader{
		Address: p.RemoteParty(),
		Params:  sip.NewParams(),
	}
	if tag := p.RemoteTag(); tag != "" {
		to.Params = to.Params.Add("tag", tag)
	}
	ack.AppendHeader(to)

	callID := sip.CallIDHeader(p.CallID())
	ack.AppendHeader(&callID)
	ack.AppendHeader(&sip.CSeqHeader{
		SeqNo:      invite.CSeq().SeqNo,
		MethodName: sip.ACK,
	})
	return tr.Send(ctx, ack)
}

// SendCancel отменяет исходящее приглашение до получения финального ответа
func (p *DialogPath) SendCancel(ctx context.Context, tr SignalingTransport) error {
	invite := p.Invite()
	if invite == nil {
		return fmt.Errorf("no INVITE to cancel")
	}
	cancel := sip.NewRequest(sip.CANCEL, p.Target())
	cancel.AppendHeader(invite.From())
	cancel.AppendHeader(invite.To())
	callID := sip.CallIDHeader(p.CallID())
	cancel.AppendHeader(&callID)
	cancel.AppendHeader(&sip.CSeqHeader{
		SeqNo:      invite.CSeq().SeqNo,
		MethodName: sip.CANCEL,
	})

	if _, err := tr.Request(ctx, cancel); err != nil {
		return err
	}
	return p.Cancel()
}

// SendBye завершает установленную сессию
func (p *DialogPath) SendBye(ctx context.Context, tr SignalingTransport) error {
	if p.State() != StateSessionEstablished {
		return fmt.Errorf("BYE allowed only for established session, state=%s", p.State())
	}
	bye := p.BuildRequest(sip.BYE)

	tx, err := tr.Request(ctx, bye)
	if err != nil {
		return err
	}

	defer func() { _ = p.Terminate() }()
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return nil
			}
			if res.StatusCode < 200 {
				continue
			}
			return nil
		case <-tx.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// BuildResponse создает ответ на запрос с локальным тегом диалога
func (p *DialogPath) BuildResponse(req *sip.Request, statusCode int, reason string, body *Body) *sip.Response {
	var content []byte
	if body != nil {
		content = body.Content
	}
	res := sip.NewResponseFromRequest(req, statusCode, reason, content)
	if to := res.To(); to != nil {
		if _, has := to.Params.Get("tag"); !has {
			to.Params.Add("tag", p.LocalTag())
		}
	}
	if body != nil {
		ct := sip.ContentTypeHeader(body.ContentType)
		res.AppendHeader(&ct)
	}
	return res
}

// RespondRinging отправляет предварительный ответ 180 Ringing
func (p *DialogPath) RespondRinging(tx ServerTx) error {
	invite := p.Invite()
	if invite == nil {
		return fmt.Errorf("no stored INVITE")
	}
	return tx.Respond(p.BuildResponse(invite, StatusRinging, "Ringing", nil))
}

// RespondBusy отвечает 486 Busy Here (таймаут ответа пользователя)
func (p *DialogPath) RespondBusy(tx ServerTx) error {
	invite := p.Invite()
	if invite == nil {
		return fmt.Errorf("no stored INVITE")
	}
	defer func() { _ = p.Terminate() }()
	return tx.Respond(p.BuildResponse(invite, StatusBusyHere, "Busy Here", nil))
}

// RespondDecline отвечает 603 Decline (отказ пользователя)
func (p *DialogPath) RespondDecline(tx ServerTx) error {
	invite := p.Invite()
	if invite == nil {
		return fmt.Errorf("no stored INVITE")
	}
	defer func() { _ = p.Terminate() }()
	return tx.Respond(p.BuildResponse(invite, StatusDecline, "Decline", nil))
}

// RespondUnsupportedMedia отвечает 415 Unsupported Media Type
func (p *DialogPath) RespondUnsupportedMedia(tx ServerTx) error {
	invite := p.Invite()
	if invite == nil {
		return fmt.Errorf("no stored INVITE")
	}
	defer func() { _ = p.Terminate() }()
	return tx.Respond(p.BuildResponse(invite, StatusUnsupportedMediaType, "Unsupported Media Type", nil))
}

// AcceptOpts параметры финального 200 OK ответа
type AcceptOpts struct {
	FeatureTags   []string
	AcceptContact []string
	ContactURI    string
	// AckTimeout максимальное ожидание ACK; сессия считается
	// неустановленной по его истечении и не повторяется
	AckTimeout time.Duration
}

// Accept отправляет 200 OK с локальным контентом и ожидает ACK.
//
// Диалог переходит в SignalingEstablished сразу после отправки ответа
// и в SessionEstablished только после получения ACK. Таймаут ожидания
// ACK является жесткой ошибкой установления, повтор не выполняется.
func (p *DialogPath) Accept(ctx context.Context, tx ServerTx, opts AcceptOpts) error {
	invite := p.Invite()
	if invite == nil {
		return NewChatError(ErrUnexpectedException, "no stored INVITE")
	}

	res := p.BuildResponse(invite, StatusOK, "OK", p.LocalContent())

	contact := opts.ContactURI
	if contact == "" {
		localParty := p.LocalParty()
		contact = localParty.String()
	}
	contactValue := fmt.Sprintf("<%s>", contact)
	for _, tag := range opts.FeatureTags {
		contactValue += ";" + tag
	}
	res.AppendHeader(sip.NewHeader("Contact", contactValue))

	if err := tx.Respond(res); err != nil {
		return WrapChatError(ErrSessionInitiationFailed, err)
	}
	if err := p.SigEstablished(); err != nil {
		return WrapChatError(ErrUnexpectedException, err)
	}

	ackTimeout := opts.AckTimeout
	if ackTimeout <= 0 {
		ackTimeout = 30 * time.Second
	}
	timer := time.NewTimer(ackTimeout)
	defer timer.Stop()

	select {
	case <-tx.Acks():
		if err := p.SessionEstablished(); err != nil {
			return WrapChatError(ErrUnexpectedException, err)
		}
		return nil
	case <-timer.C:
		_ = p.Terminate()
		return NewChatError(ErrSessionInitiationFailed, "no ACK received for INVITE")
	case <-ctx.Done():
		return ctx.Err()
	}
}
