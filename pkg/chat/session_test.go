package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_stack/pkg/cpim"
	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/geoloc"
	"github.com/arzzra/rcs_stack/pkg/imdn"
	"github.com/arzzra/rcs_stack/pkg/msrp"
)

func TestVariantPredicates(t *testing.T) {
	assert.True(t, GroupOriginating.IsGroup())
	assert.True(t, GroupTerminating.IsGroup())
	assert.False(t, One2OneOriginating.IsGroup())

	assert.True(t, StoreForwardMessages.IsStoreAndForward())
	assert.True(t, StoreForwardNotifications.IsStoreAndForward())
	assert.False(t, GroupTerminating.IsStoreAndForward())

	assert.True(t, One2OneOriginating.IsOriginating())
	assert.True(t, GroupOriginating.IsOriginating())
	assert.False(t, One2OneTerminating.IsOriginating())
}

func TestOriginatingSessionEstablishes(t *testing.T) {
	mt := &fakeMsrp{}
	store := newMemStore()
	sig := &fakeSignaling{
		script: func(req *sip.Request, tx *fakeClientTx) {
			tx.responses <- respondTo(req, 180, "Ringing", nil)
			tx.responses <- respondTo(req, 200, "OK",
				&dialog.Body{ContentType: "application/sdp", Content: answerSDP(t, "passive")})
		},
	}

	cfg := newTestConfig(One2OneOriginating, sig, mt, store)
	cfg.FirstMessage = "hello"
	cfg.Settings.IMDNActivated = true

	s := NewOriginatingSession(cfg)
	events := s.Events()
	s.Start(context.Background())

	waitEvent(t, events, EventSessionStarted)
	assert.True(t, s.IsEstablished())
	assert.NotEmpty(t, s.ContributionID())

	// Ответ passive делает локальную сторону активной
	assert.True(t, mt.isOpen())
	assert.Equal(t, msrp.RoleActive, mt.openRole)
	assert.GreaterOrEqual(t, mt.emptyCount(), 1)

	// Первое сообщение уходит в multipart теле INVITE конвертом с
	// запросом отчетов о доставке
	reqs := sig.sentRequests()
	require.Len(t, reqs, 1)
	invite := reqs[0]
	assert.Equal(t, sip.INVITE, invite.Method)
	require.NotNil(t, invite.GetHeader("Contribution-ID"))

	ct := invite.ContentType()
	require.NotNil(t, ct)
	require.True(t, dialog.IsMultipart(ct.Value()))

	parts, err := dialog.ParseMultipartBody(dialog.Body{ContentType: ct.Value(), Content: invite.Body()})
	require.NoError(t, err)
	_, hasSDP := dialog.FindPart(parts, "application/sdp")
	assert.True(t, hasSDP)

	cpimPart, hasCPIM := dialog.FindPart(parts, cpim.MimeType)
	require.True(t, hasCPIM)
	msg, err := cpim.Parse(cpimPart.Content)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(msg.Body))
	require.NotEmpty(t, msg.MessageID())
	assert.True(t, msg.DeliveryRequested())
	assert.True(t, msg.DisplayRequested())

	status, ok := store.Status(msg.MessageID())
	require.True(t, ok)
	assert.Equal(t, imdn.StatusSent, status)

	// Штатное завершение отправляет BYE и закрывает транспорт
	require.NoError(t, s.Terminate(context.Background()))
	waitEvent(t, events, EventSessionTerminated)
	assert.False(t, mt.isOpen())

	var sawBye bool
	for _, req := range sig.sentRequests() {
		if req.Method == sip.BYE {
			sawBye = true
		}
	}
	assert.True(t, sawBye)
}

// TestTerminateWhileRingingSendsCancel проверяет отмену исходящего
// приглашения до финального ответа: на проводе уходит CANCEL в рамках
// той же транзакции, диалог попадает в Cancelled, сессия завершается
// без ошибок
func TestTerminateWhileRingingSendsCancel(t *testing.T) {
	mt := &fakeMsrp{}
	type pendingInvite struct {
		req *sip.Request
		tx  *fakeClientTx
	}
	invited := make(chan pendingInvite, 1)
	sig := &fakeSignaling{
		script: func(req *sip.Request, tx *fakeClientTx) {
			switch req.Method {
			case sip.INVITE:
				tx.responses <- respondTo(req, 180, "Ringing", nil)
				invited <- pendingInvite{req: req, tx: tx}
			case sip.CANCEL:
				// Отмененное приглашение добивается финальным 487
				inv := <-invited
				inv.tx.responses <- respondTo(inv.req, 487, "Request Terminated", nil)
			}
		},
	}

	s := NewOriginatingSession(newTestConfig(One2OneOriginating, sig, mt, newMemStore()))
	events := s.Events()
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sig.sentRequests()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.NotEmpty(t, sig.sentRequests(), "приглашение не отправлено")

	require.NoError(t, s.Terminate(context.Background()))
	waitEvent(t, events, EventSessionTerminated)

	reqs := sig.sentRequests()
	require.Len(t, reqs, 2)
	invite, cancel := reqs[0], reqs[1]
	assert.Equal(t, sip.INVITE, invite.Method)
	assert.Equal(t, sip.CANCEL, cancel.Method)
	assert.Equal(t, invite.CSeq().SeqNo, cancel.CSeq().SeqNo)
	assert.Equal(t, invite.CallID().Value(), cancel.CallID().Value())

	assert.Equal(t, dialog.StateCancelled, s.DialogPath().State())
	assert.False(t, mt.isOpen())
	expectNoEvent(t, events, EventError, 100*time.Millisecond)
}

func TestOriginatingWithoutFirstMessageSendsBareSDP(t *testing.T) {
	mt := &fakeMsrp{}
	sig := &fakeSignaling{
		script: func(req *sip.Request, tx *fakeClientTx) {
			tx.responses <- respondTo(req, 200, "OK",
				&dialog.Body{ContentType: "application/sdp", Content: answerSDP(t, "active")})
		},
	}

	cfg := newTestConfig(One2OneOriginating, sig, mt, newMemStore())
	s := NewOriginatingSession(cfg)
	events := s.Events()
	s.Start(context.Background())

	waitEvent(t, events, EventSessionStarted)

	// Ответ active делает локальную сторону пассивной
	assert.Equal(t, msrp.RolePassive, mt.openRole)

	reqs := sig.sentRequests()
	require.Len(t, reqs, 1)
	ct := reqs[0].ContentType()
	require.NotNil(t, ct)
	assert.Equal(t, "application/sdp", ct.Value())
}

func TestOriginatingDeclinedByPeer(t *testing.T) {
	mt := &fakeMsrp{}
	sig := &fakeSignaling{
		script: func(req *sip.Request, tx *fakeClientTx) {
			tx.responses <- respondTo(req, 603, "Decline", nil)
		},
	}

	s := NewOriginatingSession(newTestConfig(One2OneOriginating, sig, mt, newMemStore()))
	events := s.Events()
	s.Start(context.Background())

	ev := waitEvent(t, events, EventError)
	var chatErr *dialog.ChatError
	require.True(t, errors.As(ev.Err, &chatErr))
	assert.True(t, chatErr.IsDeclined())
	assert.Equal(t, 603, chatErr.StatusCode)

	assert.False(t, mt.isOpen())
	assert.False(t, s.IsEstablished())
}

func TestOriginatingFinalWithoutSDPFails(t *testing.T) {
	mt := &fakeMsrp{}
	sig := &fakeSignaling{
		script: func(req *sip.Request, tx *fakeClientTx) {
			tx.responses <- respondTo(req, 200, "OK", nil)
		},
	}

	s := NewOriginatingSession(newTestConfig(One2OneOriginating, sig, mt, newMemStore()))
	events := s.Events()
	s.Start(context.Background())

	ev := waitEvent(t, events, EventError)
	var chatErr *dialog.ChatError
	require.True(t, errors.As(ev.Err, &chatErr))
	assert.Equal(t, dialog.ErrSessionInitiationFailed, chatErr.Code)
	assert.False(t, mt.isOpen())
}

func TestSendTextMessageWithReports(t *testing.T) {
	mt := &fakeMsrp{}
	store := newMemStore()
	cfg := newTestConfig(One2OneOriginating, &fakeSignaling{}, mt, store)
	cfg.Settings.IMDNActivated = true
	s := newEstablishedSession(t, cfg)

	msgID, err := s.SendTextMessage("как дела")
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	chunks := mt.sentChunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, cpim.MimeType, chunks[0].mimeType)
	assert.Equal(t, msrp.ChunkTextMessage, chunks[0].chunkType)

	msg, err := cpim.Parse(chunks[0].data)
	require.NoError(t, err)
	assert.Equal(t, msgID, msg.MessageID())
	assert.Equal(t, "как дела", string(msg.Body))
	assert.True(t, msg.DeliveryRequested())
	assert.True(t, msg.DisplayRequested())

	status, ok := store.Status(msgID)
	require.True(t, ok)
	assert.Equal(t, imdn.StatusSent, status)
}

func TestSendTextMessageWithoutReports(t *testing.T) {
	mt := &fakeMsrp{}
	store := newMemStore()
	cfg := newTestConfig(One2OneOriginating, &fakeSignaling{}, mt, store)
	cfg.Settings.IMDNActivated = false
	s := newEstablishedSession(t, cfg)

	msgID, err := s.SendTextMessage("plain")
	require.NoError(t, err)

	chunks := mt.sentChunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, "text/plain", chunks[0].mimeType)
	assert.Equal(t, []byte("plain"), chunks[0].data)

	_, ok := store.Status(msgID)
	assert.False(t, ok)
}

func TestSendTextMessageTransportError(t *testing.T) {
	mt := &fakeMsrp{sendErr: errors.New("connection reset")}
	store := newMemStore()
	cfg := newTestConfig(One2OneOriginating, &fakeSignaling{}, mt, store)
	s := newEstablishedSession(t, cfg)

	msgID, err := s.SendTextMessage("lost")
	require.Error(t, err)

	// Статус sent не фиксируется при отказе транспорта
	_, ok := store.Status(msgID)
	assert.False(t, ok)
}

func TestSendGeoloc(t *testing.T) {
	mt := &fakeMsrp{}
	cfg := newTestConfig(One2OneOriginating, &fakeSignaling{}, mt, newMemStore())
	cfg.Settings.IMDNActivated = true
	s := newEstablishedSession(t, cfg)

	msgID, err := s.SendGeoloc(geoloc.Geoloc{Label: "office", Latitude: 55.75, Longitude: 37.61})
	require.NoError(t, err)

	chunks := mt.sentChunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, cpim.MimeType, chunks[0].mimeType)

	msg, err := cpim.Parse(chunks[0].data)
	require.NoError(t, err)
	assert.Equal(t, geoloc.MimeType, msg.ContentType)
	assert.Equal(t, msgID, msg.MessageID())

	g, err := geoloc.Parse(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, "office", g.Label)
	assert.InDelta(t, 55.75, g.Latitude, 0.0001)
}

func TestSendComposingStatus(t *testing.T) {
	mt := &fakeMsrp{}
	cfg := newTestConfig(One2OneOriginating, &fakeSignaling{}, mt, newMemStore())
	s := newEstablishedSession(t, cfg)

	require.NoError(t, s.SendComposingStatus(true))

	chunks := mt.sentChunks()
	require.Len(t, chunks, 1)
	assert.Equal(t, ComposingMimeType, chunks[0].mimeType)
	assert.Equal(t, msrp.ChunkComposing, chunks[0].chunkType)

	active, _, err := parseIsComposing(chunks[0].data)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestTerminateBeforeEstablishmentClosesTransport(t *testing.T) {
	mt := &fakeMsrp{}
	cfg := newTestConfig(One2OneOriginating, &fakeSignaling{}, mt, newMemStore())
	s := newEstablishedSession(t, cfg)
	events := s.Events()

	require.NoError(t, s.Terminate(context.Background()))
	waitEvent(t, events, EventSessionTerminated)
	assert.False(t, mt.isOpen())

	// Повторное завершение без эффекта
	require.NoError(t, s.Terminate(context.Background()))
}
