package dialog

import (
	"context"
	"fmt"
	"strings"

	"github.com/emiago/sipgo/sip"
)

// ReferResult итог REFER операции
type ReferResult struct {
	StatusCode int
	Reason     string
}

// Accepted сообщает, что пир принял REFER (2xx)
func (r ReferResult) Accepted() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// BuildRefer создает REFER запрос на одного адресата.
// Счетчик CSeq диалога увеличивается на 1.
func (p *DialogPath) BuildRefer(referTo string) *sip.Request {
	req := p.BuildRequest(sip.REFER)
	req.AppendHeader(sip.NewHeader("Refer-To", fmt.Sprintf("<%s>", referTo)))
	req.AppendHeader(sip.NewHeader("Event", "refer"))
	return req
}

// BuildReferList создает REFER на список адресатов через
// recipient-list (multiple REFER). Тело содержит resource-lists документ.
func (p *DialogPath) BuildReferList(referTargets []string) *sip.Request {
	req := p.BuildRequest(sip.REFER)
	req.AppendHeader(sip.NewHeader("Refer-To", "<cid:attached-list@local>"))
	req.AppendHeader(sip.NewHeader("Require", "recipient-list-invite"))
	req.AppendHeader(sip.NewHeader("Event", "refer"))

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\r\n")
	sb.WriteString(`<resource-lists xmlns="urn:ietf:params:xml:ns:resource-lists">` + "\r\n")
	sb.WriteString("<list>\r\n")
	for _, target := range referTargets {
		sb.WriteString(fmt.Sprintf("<entry uri=%q/>\r\n", target))
	}
	sb.WriteString("</list>\r\n")
	sb.WriteString("</resource-lists>")

	body := sb.String()
	req.AppendHeader(sip.NewHeader("Content-Type", "application/resource-lists+xml"))
	req.AppendHeader(sip.NewHeader("Content-Disposition", "recipient-list"))
	req.SetBody([]byte(body))
	return req
}

// SendRefer отправляет REFER и ожидает финальный ответ.
//
// На 407 Proxy Authentication Required запрос повторяется ровно один
// раз с Proxy-Authorization, построенным из challenge (новый CSeq).
// Любой другой не-2xx финальный ответ возвращается вызывающему как
// ReferResult с причиной пира.
func (p *DialogPath) SendRefer(ctx context.Context, tr SignalingTransport, auth Authorizer, build func() *sip.Request) (ReferResult, error) {
	if auth == nil {
		auth = NoAuth{}
	}

	res, err := p.transactRefer(ctx, tr, build())
	if err != nil {
		return ReferResult{}, err
	}

	if res.StatusCode == StatusProxyAuthRequired {
		// Единственный повтор с учетными данными
		if err := auth.ReadProxyChallenge(res); err != nil {
			return ReferResult{}, fmt.Errorf("read proxy challenge: %w", err)
		}
		retry := build()
		if err := auth.SetProxyAuthorization(retry); err != nil {
			return ReferResult{}, fmt.Errorf("set proxy authorization: %w", err)
		}
		res, err = p.transactRefer(ctx, tr, retry)
		if err != nil {
			return ReferResult{}, err
		}
	}

	return ReferResult{StatusCode: res.StatusCode, Reason: res.Reason}, nil
}

func (p *DialogPath) transactRefer(ctx context.Context, tr SignalingTransport, req *sip.Request) (*sip.Response, error) {
	tx, err := tr.Request(ctx, req)
	if err != nil {
		return nil, err
	}
	for {
		select {
		case res, ok := <-tx.Responses():
			if !ok {
				return nil, fmt.Errorf("REFER transaction closed without response")
			}
			if res.StatusCode < 200 {
				continue
			}
			return res, nil
		case <-tx.Done():
			return nil, fmt.Errorf("no response received for REFER")
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
