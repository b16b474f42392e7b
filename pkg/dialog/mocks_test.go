package dialog

import (
	"context"
	"sync"

	"github.com/emiago/sipgo/sip"
)

// mockClientTx подставная клиентская транзакция
type mockClientTx struct {
	responses chan *sip.Response
	done      chan struct{}
}

func newMockClientTx() *mockClientTx {
	return &mockClientTx{
		responses: make(chan *sip.Response, 4),
		done:      make(chan struct{}),
	}
}

func (m *mockClientTx) Responses() <-chan *sip.Response { return m.responses }
func (m *mockClientTx) Done() <-chan struct{}           { return m.done }

// mockTransport собирает отправленные запросы и выдает подготовленные ответы
type mockTransport struct {
	mu       sync.Mutex
	requests []*sip.Request
	acks     []*sip.Request

	// script вызывается для каждого нового запроса и наполняет транзакцию
	script func(req *sip.Request, tx *mockClientTx)
}

func (m *mockTransport) Request(_ context.Context, req *sip.Request) (ClientTx, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	script := m.script
	m.mu.Unlock()

	tx := newMockClientTx()
	if script != nil {
		script(req, tx)
	}
	return tx, nil
}

func (m *mockTransport) Send(_ context.Context, req *sip.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Method == sip.ACK {
		m.acks = append(m.acks, req)
	} else {
		m.requests = append(m.requests, req)
	}
	return nil
}

func (m *mockTransport) sentRequests() []*sip.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sip.Request(nil), m.requests...)
}

func (m *mockTransport) sentAcks() []*sip.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sip.Request(nil), m.acks...)
}

// mockServerTx подставная серверная транзакция
type mockServerTx struct {
	mu        sync.Mutex
	responses []*sip.Response
	acks      chan *sip.Request
	cancels   chan *sip.Request
	done      chan struct{}
}

func newMockServerTx() *mockServerTx {
	return &mockServerTx{
		acks:    make(chan *sip.Request, 1),
		cancels: make(chan *sip.Request, 1),
		done:    make(chan struct{}),
	}
}

func (m *mockServerTx) Respond(res *sip.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, res)
	return nil
}

func (m *mockServerTx) Acks() <-chan *sip.Request    { return m.acks }
func (m *mockServerTx) Cancels() <-chan *sip.Request { return m.cancels }
func (m *mockServerTx) Done() <-chan struct{}        { return m.done }

func (m *mockServerTx) sentResponses() []*sip.Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*sip.Response(nil), m.responses...)
}

// testURI разбирает URI, паникуя при ошибке (только для тестов)
func testURI(raw string) sip.Uri {
	var uri sip.Uri
	if err := sip.ParseUri(raw, &uri); err != nil {
		panic(err)
	}
	return uri
}

// newTestPath создает диалоговый путь для тестов
func newTestPath() *DialogPath {
	return NewDialogPath(PathConfig{
		CallID:      GenerateCallID(),
		Target:      testURI("sip:bob@example.com"),
		LocalParty:  testURI("sip:alice@example.com"),
		RemoteParty: testURI("sip:bob@example.com"),
	})
}
