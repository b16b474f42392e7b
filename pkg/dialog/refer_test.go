package dialog

import (
	"context"
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockAuthorizer считает обращения и помечает запросы учетными данными
type mockAuthorizer struct {
	challenges int
	authorized int
}

func (m *mockAuthorizer) SetAuthorization(*sip.Request) error { return nil }

func (m *mockAuthorizer) ReadProxyChallenge(*sip.Response) error {
	m.challenges++
	return nil
}

func (m *mockAuthorizer) SetProxyAuthorization(req *sip.Request) error {
	m.authorized++
	req.AppendHeader(sip.NewHeader("Proxy-Authorization", "Digest username=\"alice\""))
	return nil
}

func establishedPath(t *testing.T) *DialogPath {
	t.Helper()
	p := newTestPath()
	require.NoError(t, p.SigEstablished())
	require.NoError(t, p.SessionEstablished())
	return p
}

func TestSendReferAccepted(t *testing.T) {
	p := establishedPath(t)
	tr := &mockTransport{
		script: func(req *sip.Request, tx *mockClientTx) {
			tx.responses <- buildTestResponse(req, 202, "Accepted", nil, "")
		},
	}

	result, err := p.SendRefer(context.Background(), tr, nil, func() *sip.Request {
		return p.BuildRefer("sip:carol@example.com")
	})
	require.NoError(t, err)
	assert.True(t, result.Accepted())

	reqs := tr.sentRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, sip.REFER, reqs[0].Method)
	assert.Equal(t, "<sip:carol@example.com>", reqs[0].GetHeader("Refer-To").Value())
	assert.Equal(t, "refer", reqs[0].GetHeader("Event").Value())
}

// TestSendReferProxyAuthRetry проверяет, что на 407 запрос повторяется
// ровно один раз с Proxy-Authorization и новым CSeq
func TestSendReferProxyAuthRetry(t *testing.T) {
	p := establishedPath(t)

	attempt := 0
	tr := &mockTransport{
		script: func(req *sip.Request, tx *mockClientTx) {
			attempt++
			if attempt == 1 {
				tx.responses <- buildTestResponse(req, StatusProxyAuthRequired, "Proxy Authentication Required", nil, "")
			} else {
				tx.responses <- buildTestResponse(req, 202, "Accepted", nil, "")
			}
		},
	}

	auth := &mockAuthorizer{}
	result, err := p.SendRefer(context.Background(), tr, auth, func() *sip.Request {
		return p.BuildRefer("sip:carol@example.com")
	})
	require.NoError(t, err)
	assert.True(t, result.Accepted())
	assert.Equal(t, 1, auth.challenges)
	assert.Equal(t, 1, auth.authorized)

	reqs := tr.sentRequests()
	require.Len(t, reqs, 2)

	// Повтор несет учетные данные и следующий номер последовательности
	assert.Nil(t, reqs[0].GetHeader("Proxy-Authorization"))
	require.NotNil(t, reqs[1].GetHeader("Proxy-Authorization"))
	assert.Equal(t, reqs[0].CSeq().SeqNo+1, reqs[1].CSeq().SeqNo)
}

// TestSendReferProxyAuthSingleRetry проверяет, что повторный 407 не
// вызывает второй попытки
func TestSendReferProxyAuthSingleRetry(t *testing.T) {
	p := establishedPath(t)
	tr := &mockTransport{
		script: func(req *sip.Request, tx *mockClientTx) {
			tx.responses <- buildTestResponse(req, StatusProxyAuthRequired, "Proxy Authentication Required", nil, "")
		},
	}

	auth := &mockAuthorizer{}
	result, err := p.SendRefer(context.Background(), tr, auth, func() *sip.Request {
		return p.BuildRefer("sip:carol@example.com")
	})
	require.NoError(t, err)
	assert.False(t, result.Accepted())
	assert.Equal(t, StatusProxyAuthRequired, result.StatusCode)
	assert.Len(t, tr.sentRequests(), 2)
}

func TestSendReferRejected(t *testing.T) {
	p := establishedPath(t)
	tr := &mockTransport{
		script: func(req *sip.Request, tx *mockClientTx) {
			tx.responses <- buildTestResponse(req, 403, "Forbidden", nil, "")
		},
	}

	result, err := p.SendRefer(context.Background(), tr, nil, func() *sip.Request {
		return p.BuildRefer("sip:carol@example.com")
	})
	require.NoError(t, err)
	assert.False(t, result.Accepted())
	assert.Equal(t, 403, result.StatusCode)
	assert.Equal(t, "Forbidden", result.Reason)
	assert.Len(t, tr.sentRequests(), 1)
}

func TestBuildReferList(t *testing.T) {
	p := establishedPath(t)
	req := p.BuildReferList([]string{"sip:carol@example.com", "sip:dave@example.com"})

	assert.Equal(t, sip.REFER, req.Method)
	assert.Equal(t, "<cid:attached-list@local>", req.GetHeader("Refer-To").Value())
	assert.Equal(t, "recipient-list-invite", req.GetHeader("Require").Value())
	assert.Equal(t, "recipient-list", req.GetHeader("Content-Disposition").Value())
	assert.Equal(t, "application/resource-lists+xml", req.GetHeader("Content-Type").Value())

	body := string(req.Body())
	assert.Contains(t, body, `<entry uri="sip:carol@example.com"/>`)
	assert.Contains(t, body, `<entry uri="sip:dave@example.com"/>`)
	assert.Contains(t, body, `urn:ietf:params:xml:ns:resource-lists`)
}

// TestReferCSeqNeverRepeats проверяет монотонный рост счетчика при
// серии REFER на одном диалоге
func TestReferCSeqNeverRepeats(t *testing.T) {
	p := establishedPath(t)
	tr := &mockTransport{
		script: func(req *sip.Request, tx *mockClientTx) {
			tx.responses <- buildTestResponse(req, 202, "Accepted", nil, "")
		},
	}

	for i := 0; i < 5; i++ {
		_, err := p.SendRefer(context.Background(), tr, nil, func() *sip.Request {
			return p.BuildRefer("sip:carol@example.com")
		})
		require.NoError(t, err)
	}

	reqs := tr.sentRequests()
	require.Len(t, reqs, 5)
	for i := 1; i < len(reqs); i++ {
		assert.Equal(t, reqs[i-1].CSeq().SeqNo+1, reqs[i].CSeq().SeqNo)
	}
}
