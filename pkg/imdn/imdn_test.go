package imdn

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rcs_stack/pkg/cpim"
	"github.com/arzzra/rcs_stack/pkg/dialog"
)

// TestParseDisplayReport разбирает отчет о прочтении с шумными
// переводами строк между элементами
func TestParseDisplayReport(t *testing.T) {
	xml := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<imdn xmlns="urn:ietf:params:xml:ns:imdn">` +
		`<message-id>34jk324j</message-id>` +
		`<datetime>2008-04-04T12:16:49-05:00</datetime>` +
		"<display-notification>\r\n" +
		"<status>\r\n" +
		"<displayed/>\r\n" +
		"</status>\r\n" +
		"</display-notification>\r\n" +
		`</imdn>`

	doc, err := Parse([]byte(xml))
	require.NoError(t, err)
	assert.Equal(t, "34jk324j", doc.MessageID)
	assert.Equal(t, StatusDisplayed, doc.Status)
	assert.Equal(t, 2008, doc.DateTime.Year())
}

func TestBuildParseRoundTrip(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	for _, status := range []Status{StatusDelivered, StatusDisplayed, StatusFailed} {
		data := Build("msg-7", status, ts)
		doc, err := Parse(data)
		require.NoError(t, err)
		assert.Equal(t, "msg-7", doc.MessageID)
		assert.Equal(t, status, doc.Status)
		assert.True(t, ts.Equal(doc.DateTime))
	}
}

func TestBuildNotificationElement(t *testing.T) {
	delivered := string(Build("m", StatusDelivered, time.Now()))
	assert.Contains(t, delivered, "<delivery-notification>")
	assert.Contains(t, delivered, "<delivered/>")

	displayed := string(Build("m", StatusDisplayed, time.Now()))
	assert.Contains(t, displayed, "<display-notification>")
	assert.Contains(t, displayed, "<displayed/>")
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`<imdn xmlns="urn:ietf:params:xml:ns:imdn"><message-id>x</message-id></imdn>`))
	assert.Error(t, err, "missing status")

	_, err = Parse([]byte(`<imdn><delivery-notification><status><delivered/></status></delivery-notification></imdn>`))
	assert.Error(t, err, "missing message-id")
}

// memStore хранилище статусов в памяти для тестов
type memStore struct {
	mu       sync.Mutex
	statuses map[string]Status
}

func newMemStore() *memStore {
	return &memStore{statuses: make(map[string]Status)}
}

func (s *memStore) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[id] = status
	return nil
}

func (s *memStore) Status(id string) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[id]
	return st, ok
}

// TestTrackerForwardOnly проверяет, что порядок применения не влияет на
// итог: delivered затем displayed применяются оба, обратный порядок
// отклоняет второй
func TestTrackerForwardOnly(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store, nil)

	applied, err := tracker.Apply("m1", StatusDelivered)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = tracker.Apply("m1", StatusDisplayed)
	require.NoError(t, err)
	assert.True(t, applied)

	// Обратный порядок: displayed уже зафиксирован, delivered отклонен
	store2 := newMemStore()
	tracker2 := NewTracker(store2, nil)

	applied, err = tracker2.Apply("m2", StatusDisplayed)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = tracker2.Apply("m2", StatusDelivered)
	require.NoError(t, err)
	assert.False(t, applied)

	st, _ := store2.Status("m2")
	assert.Equal(t, StatusDisplayed, st)
}

func TestTrackerRepeatRejected(t *testing.T) {
	tracker := NewTracker(newMemStore(), nil)

	applied, err := tracker.Apply("m1", StatusDelivered)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = tracker.Apply("m1", StatusDelivered)
	require.NoError(t, err)
	assert.False(t, applied)
}

// TestTrackerFailedTerminal проверяет, что failed принимается всегда и
// блокирует дальнейшие обновления
func TestTrackerFailedTerminal(t *testing.T) {
	store := newMemStore()
	tracker := NewTracker(store, nil)

	applied, err := tracker.Apply("m1", StatusDisplayed)
	require.NoError(t, err)
	assert.True(t, applied)

	// failed применяется даже после displayed
	applied, err = tracker.Apply("m1", StatusFailed)
	require.NoError(t, err)
	assert.True(t, applied)

	// после failed ничего не применяется
	applied, err = tracker.Apply("m1", StatusDelivered)
	require.NoError(t, err)
	assert.False(t, applied)

	st, _ := store.Status("m1")
	assert.Equal(t, StatusFailed, st)
}

func TestTrackerUnknownStatus(t *testing.T) {
	tracker := NewTracker(newMemStore(), nil)
	_, err := tracker.Apply("m1", Status("bogus"))
	assert.Error(t, err)
}

// senderTransport мок сигнального транспорта для отправителя отчетов
type senderTransport struct {
	mu       sync.Mutex
	requests []*sip.Request
	status   int
}

func (m *senderTransport) Request(_ context.Context, req *sip.Request) (dialog.ClientTx, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	status := m.status
	m.mu.Unlock()

	responses := make(chan *sip.Response, 1)
	responses <- sip.NewResponseFromRequest(req, status, "", nil)
	return &senderTx{responses: responses, done: make(chan struct{})}, nil
}

func (m *senderTransport) Send(context.Context, *sip.Request) error { return nil }

type senderTx struct {
	responses chan *sip.Response
	done      chan struct{}
}

func (t *senderTx) Responses() <-chan *sip.Response { return t.responses }
func (t *senderTx) Done() <-chan struct{}           { return t.done }

func TestSenderDeliveryStatus(t *testing.T) {
	tr := &senderTransport{status: 200}

	var local sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@example.com", &local))
	var remote sip.Uri
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &remote))

	sender := NewSender(tr, local, nil)
	err := sender.SendDeliveryStatus(context.Background(), remote, "msg-9", StatusDelivered)
	require.NoError(t, err)

	require.Len(t, tr.requests, 1)
	req := tr.requests[0]
	assert.Equal(t, sip.MESSAGE, req.Method)
	assert.Equal(t, cpim.MimeType, req.ContentType().Value())

	// Конверт содержит документ отчета
	msg, err := cpim.Parse(req.Body())
	require.NoError(t, err)
	assert.Equal(t, MimeType, msg.ContentType)

	doc, err := Parse(msg.Body)
	require.NoError(t, err)
	assert.Equal(t, "msg-9", doc.MessageID)
	assert.Equal(t, StatusDelivered, doc.Status)
}

func TestSenderRejected(t *testing.T) {
	tr := &senderTransport{status: 403}

	var local, remote sip.Uri
	require.NoError(t, sip.ParseUri("sip:alice@example.com", &local))
	require.NoError(t, sip.ParseUri("sip:bob@example.com", &remote))

	sender := NewSender(tr, local, nil)
	err := sender.SendDeliveryStatus(context.Background(), remote, "msg-9", StatusDelivered)
	assert.Error(t, err)
}
