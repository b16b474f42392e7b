package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/imdn"
	"github.com/arzzra/rcs_stack/pkg/msrp"
)

// fakeClientTx подставная клиентская транзакция
type fakeClientTx struct {
	responses chan *sip.Response
	done      chan struct{}
}

func newFakeClientTx() *fakeClientTx {
	return &fakeClientTx{
		responses: make(chan *sip.Response, 4),
		done:      make(chan struct{}),
	}
}

func (f *fakeClientTx) Responses() <-chan *sip.Response { return f.responses }
func (f *fakeClientTx) Done() <-chan struct{}           { return f.done }

// fakeSignaling собирает отправленные запросы и выдает ответы по сценарию
type fakeSignaling struct {
	mu       sync.Mutex
	requests []*sip.Request
	acks     []*sip.Request

	script func(req *sip.Request, tx *fakeClientTx)
}

func (f *fakeSignaling) Request(_ context.Context, req *sip.Request) (dialog.ClientTx, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	script := f.script
	f.mu.Unlock()

	tx := newFakeClientTx()
	if script != nil {
		script(req, tx)
	}
	return tx, nil
}

func (f *fakeSignaling) Send(_ context.Context, req *sip.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Method == sip.ACK {
		f.acks = append(f.acks, req)
	} else {
		f.requests = append(f.requests, req)
	}
	return nil
}

func (f *fakeSignaling) sentRequests() []*sip.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*sip.Request(nil), f.requests...)
}

// fakeServerTx подставная серверная транзакция
type fakeServerTx struct {
	mu        sync.Mutex
	responses []*sip.Response
	acks      chan *sip.Request
	cancels   chan *sip.Request
	done      chan struct{}
}

func newFakeServerTx() *fakeServerTx {
	return &fakeServerTx{
		acks:    make(chan *sip.Request, 1),
		cancels: make(chan *sip.Request, 1),
		done:    make(chan struct{}),
	}
}

func (f *fakeServerTx) Respond(res *sip.Response) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, res)
	return nil
}

func (f *fakeServerTx) Acks() <-chan *sip.Request    { return f.acks }
func (f *fakeServerTx) Cancels() <-chan *sip.Request { return f.cancels }
func (f *fakeServerTx) Done() <-chan struct{}        { return f.done }

func (f *fakeServerTx) sentResponses() []*sip.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*sip.Response(nil), f.responses...)
}

// waitResponses ожидает появления n ответов в транзакции
func (f *fakeServerTx) waitResponses(t *testing.T, n int) []*sip.Response {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if res := f.sentResponses(); len(res) >= n {
			return res
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("не дождались %d ответов", n)
	return nil
}

// sentChunk отправленный чанк медиатранспорта
type sentChunk struct {
	messageID string
	mimeType  string
	data      []byte
	chunkType msrp.ChunkType
}

// fakeMsrp подставной медиатранспорт
type fakeMsrp struct {
	mu        sync.Mutex
	opened    bool
	openRole  msrp.Role
	openCount int
	closed    bool
	chunks    []sentChunk
	empties   int
	sendErr   error
}

func (f *fakeMsrp) Open(_ context.Context, role msrp.Role, _, _ msrp.Endpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = true
	f.openRole = role
	f.openCount++
	return nil
}

func (f *fakeMsrp) SendChunk(messageID, mimeType string, data []byte, chunkType msrp.ChunkType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.chunks = append(f.chunks, sentChunk{
		messageID: messageID,
		mimeType:  mimeType,
		data:      append([]byte(nil), data...),
		chunkType: chunkType,
	})
	return nil
}

func (f *fakeMsrp) SendEmptyChunk() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.empties++
	return nil
}

func (f *fakeMsrp) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeMsrp) sentChunks() []sentChunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentChunk(nil), f.chunks...)
}

func (f *fakeMsrp) isOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened && !f.closed
}

func (f *fakeMsrp) emptyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.empties
}

// memStore хранилище сообщений в памяти
type memStore struct {
	mu       sync.Mutex
	statuses map[string]imdn.Status
	seen     map[string]bool
	pending  map[string]bool
	known    map[string][]string
}

func newMemStore() *memStore {
	return &memStore{
		statuses: map[string]imdn.Status{},
		seen:     map[string]bool{},
		pending:  map[string]bool{},
		known:    map[string][]string{},
	}
}

func (s *memStore) SetStatus(messageID string, status imdn.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[messageID] = status
	return nil
}

func (s *memStore) Status(messageID string) (imdn.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[messageID]
	return st, ok
}

func (s *memStore) IsNewMessage(contributionID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contributionID + "/" + messageID
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	return true
}

func (s *memStore) MarkDisplayRequested(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[messageID] = true
}

func (s *memStore) displayRequested(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[messageID]
}

func (s *memStore) ConnectedParticipants(contributionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.known[contributionID]...)
}

// blockList подставной справочник контактов
type blockList struct {
	blocked map[string]bool
}

func (b *blockList) IsBlocked(contact string) bool {
	return b.blocked[contact]
}

// fakeFallback записывает отчеты, ушедшие по сигнальному плану
type fallbackCall struct {
	remote    sip.Uri
	messageID string
	status    imdn.Status
}

type fakeFallback struct {
	mu    sync.Mutex
	calls []fallbackCall
	err   error
}

func (f *fakeFallback) SendDeliveryStatus(_ context.Context, remote sip.Uri, messageID string, status imdn.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, fallbackCall{remote: remote, messageID: messageID, status: status})
	return nil
}

func (f *fakeFallback) sentCalls() []fallbackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fallbackCall(nil), f.calls...)
}

// testURI разбирает URI, паникуя при ошибке (только для тестов)
func testURI(raw string) sip.Uri {
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		panic(err)
	}
	return uri
}

// testSettings настройки с короткими таймаутами
func testSettings() Settings {
	s := DefaultSettings()
	s.AnswerTimeout = 200 * time.Millisecond
	s.AckTimeout = 200 * time.Millisecond
	s.InactivityTimeout = 0
	return s
}

// newTestConfig конфигурация сессии с подставными зависимостями
func newTestConfig(variant Variant, sig *fakeSignaling, mt *fakeMsrp, store *memStore) SessionConfig {
	return SessionConfig{
		Variant:       variant,
		LocalParty:    testURI("sip:alice@example.com"),
		Remote:        testURI("sip:bob@example.com"),
		LocalIP:       "192.168.1.50",
		LocalMsrpPort: 2855,
		Settings:      testSettings(),
		Transport:     sig,
		Msrp:          mt,
		Store:         store,
		Logger:        dialog.NoopLogger{},
	}
}

// answerSDP SDP ответ удаленной стороны с заданным setup
func answerSDP(t *testing.T, setup string) []byte {
	t.Helper()
	sdp, err := msrp.BuildChatSDP(msrp.ChatSDPOpts{
		LocalIP:     "198.51.100.7",
		Port:        2856,
		Path:        "msrp://198.51.100.7:2856/remote-sess;tcp",
		Setup:       setup,
		AcceptTypes: []string{"message/cpim"},
	})
	if err != nil {
		t.Fatalf("SDP не собран: %v", err)
	}
	return []byte(sdp)
}

// respondTo создает ответ на запрос с тегом удаленной стороны
func respondTo(req *sip.Request, statusCode int, reason string, body *dialog.Body) *sip.Response {
	var content []byte
	if body != nil {
		content = body.Content
	}
	res := sip.NewResponseFromRequest(req, statusCode, reason, content)
	res.To().Params.Add("tag", "peer-tag")
	if body != nil {
		ct := sip.ContentTypeHeader(body.ContentType)
		res.AppendHeader(&ct)
	}
	return res
}

// buildChatInvite создает входящий INVITE с заданным телом
func buildChatInvite(body *dialog.Body) *sip.Request {
	invite := sip.NewRequest(sip.INVITE, testURI("sip:alice@example.com"))
	from := &sip.FromHeader{Address: testURI("sip:bob@example.com"), Params: sip.NewParams()}
	from.Params = from.Params.Add("tag", "remote-tag-1")
	invite.AppendHeader(from)
	invite.AppendHeader(&sip.ToHeader{Address: testURI("sip:alice@example.com"), Params: sip.NewParams()})
	callID := sip.CallIDHeader(dialog.GenerateCallID())
	invite.AppendHeader(&callID)
	invite.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.INVITE})
	invite.AppendHeader(sip.NewHeader("Contribution-ID", "contrib-test-1"))
	if body != nil {
		ct := sip.ContentTypeHeader(body.ContentType)
		invite.AppendHeader(&ct)
		invite.SetBody(body.Content)
	}
	return invite
}

// newEstablishedSession сессия с открытым медиатранспортом, годная для
// проверок обмена без прогона сигнального установления
func newEstablishedSession(t *testing.T, cfg SessionConfig) *Session {
	t.Helper()
	s := NewOriginatingSession(cfg)
	if err := s.msrpMgr.Open(context.Background(), msrp.RoleActive,
		msrp.Endpoint{Host: "198.51.100.7", Port: 2856}); err != nil {
		t.Fatalf("транспорт не открыт: %v", err)
	}
	s.established.Store(true)
	return s
}

// waitEvent ожидает событие заданного типа, пропуская остальные
func waitEvent(t *testing.T, ch <-chan Event, et EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == et {
				return ev
			}
		case <-deadline:
			t.Fatalf("не дождались события %s", et)
		}
	}
}

// expectNoEvent убеждается, что событие заданного типа не приходит
func expectNoEvent(t *testing.T, ch <-chan Event, et EventType, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case ev := <-ch:
			if ev.Type == et {
				t.Fatalf("неожиданное событие %s", et)
			}
		case <-deadline:
			return
		}
	}
}
