package dialog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
)

// StackConfig конфигурация SIP стека
type StackConfig struct {
	// Hostname имя хоста для User-Agent и Via заголовков
	Hostname string
	// ListenAddr адрес прослушивания host:port
	ListenAddr string
	// Network транспорт прослушивания (udp/tcp/tls); по умолчанию udp
	Network string
	Logger  StructuredLogger
}

// InviteHandler обработчик нового входящего INVITE. Вызывается вне
// существующих диалогов; обработчик владеет транзакцией и обязан
// ответить на нее.
type InviteHandler func(invite *sip.Request, tx ServerTx)

// ByeHandler обработчик входящего BYE. Ответ 200 OK отправляется
// стеком до вызова обработчика.
type ByeHandler func(bye *sip.Request)

// RequestHandler обработчик запроса вне диалога (OPTIONS, MESSAGE).
// Возврат nil означает ответ 200 OK.
type RequestHandler func(req *sip.Request) *sip.Response

// Stack реализация сигнального транспорта поверх sipgo: клиентские
// транзакции для исходящих запросов и диспетчеризация входящих
// запросов по обработчикам.
//
// Stack реализует SignalingTransport; сессии используют его, не зная
// о нижележащем стеке.
type Stack struct {
	ua     *sipgo.UserAgent
	client *sipgo.Client
	server *sipgo.Server

	cfg    StackConfig
	logger StructuredLogger

	mu sync.Mutex
	// pending незавершенные входящие INVITE транзакции по Call-ID;
	// используется для маршрутизации ACK и CANCEL
	pending map[string]*inboundTx
	closed  bool

	onInvite  InviteHandler
	onBye     ByeHandler
	onMessage RequestHandler
	onOptions RequestHandler
}

// inboundTx серверная транзакция входящего INVITE. ACK на 2xx и CANCEL
// приходят отдельными запросами вне транзакции sipgo, стек доставляет
// их в каналы транзакции по Call-ID.
type inboundTx struct {
	invite *sip.Request
	tx     sip.ServerTransaction

	acks    chan *sip.Request
	cancels chan *sip.Request
}

func newInboundTx(invite *sip.Request, tx sip.ServerTransaction) *inboundTx {
	return &inboundTx{
		invite:  invite,
		tx:      tx,
		acks:    make(chan *sip.Request, 1),
		cancels: make(chan *sip.Request, 1),
	}
}

func (t *inboundTx) Respond(res *sip.Response) error { return t.tx.Respond(res) }
func (t *inboundTx) Acks() <-chan *sip.Request       { return t.acks }
func (t *inboundTx) Cancels() <-chan *sip.Request    { return t.cancels }
func (t *inboundTx) Done() <-chan struct{}           { return t.tx.Done() }

func (t *inboundTx) pushAck(req *sip.Request) {
	select {
	case t.acks <- req:
	default:
	}
}

func (t *inboundTx) pushCancel(req *sip.Request) {
	select {
	case t.cancels <- req:
	default:
	}
}

// NewStack создает стек: user agent, клиент и сервер sipgo с
// зарегистрированными обработчиками входящих запросов
func NewStack(cfg StackConfig) (*Stack, error) {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = NoopLogger{}
	}

	ua, err := sipgo.NewUA(sipgo.WithUserAgentHostname(cfg.Hostname))
	if err != nil {
		return nil, fmt.Errorf("create user agent: %w", err)
	}
	client, err := sipgo.NewClient(ua, sipgo.WithClientHostname(cfg.Hostname))
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, fmt.Errorf("create server: %w", err)
	}

	s := &Stack{
		ua:      ua,
		client:  client,
		server:  server,
		cfg:     cfg,
		logger:  logger.WithComponent("stack"),
		pending: make(map[string]*inboundTx),
	}

	server.OnInvite(s.handleInvite)
	server.OnAck(s.handleAck)
	server.OnCancel(s.handleCancel)
	server.OnBye(s.handleBye)
	server.OnOptions(s.handleOptions)
	server.OnMessage(s.handleMessage)

	return s, nil
}

// OnInvite устанавливает обработчик входящих приглашений
func (s *Stack) OnInvite(h InviteHandler) { s.onInvite = h }

// OnBye устанавливает обработчик входящих BYE
func (s *Stack) OnBye(h ByeHandler) { s.onBye = h }

// OnMessage устанавливает обработчик входящих MESSAGE
func (s *Stack) OnMessage(h RequestHandler) { s.onMessage = h }

// OnOptions устанавливает обработчик входящих OPTIONS
func (s *Stack) OnOptions(h RequestHandler) { s.onOptions = h }

// Listen запускает прослушивание входящих соединений. Блокирует до
// отмены контекста или ошибки транспорта.
func (s *Stack) Listen(ctx context.Context) error {
	network := s.cfg.Network
	if network == "" {
		network = "udp"
	}
	s.logger.Info("запуск SIP стека",
		F("network", network), F("address", s.cfg.ListenAddr))
	return s.server.ListenAndServe(ctx, network, s.cfg.ListenAddr)
}

// Close останавливает стек и закрывает транспортный слой
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return errors.Join(s.server.Close(), s.client.Close(), s.ua.Close())
}

// Request отправляет запрос и открывает клиентскую транзакцию.
// Возвращаемая транзакция sipgo удовлетворяет ClientTx напрямую.
func (s *Stack) Request(ctx context.Context, req *sip.Request) (ClientTx, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, fmt.Errorf("stack is closed")
	}
	s.mu.Unlock()

	tx, err := s.client.TransactionRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Method, err)
	}
	return tx, nil
}

// Send отправляет запрос вне транзакции (ACK на 2xx)
func (s *Stack) Send(_ context.Context, req *sip.Request) error {
	return s.client.WriteRequest(req)
}

func (s *Stack) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callID := req.CallID()
	if callID == nil {
		_ = tx.Respond(sip.NewResponseFromRequest(req, 400, "Bad Request", nil))
		return
	}
	handler := s.onInvite
	if handler == nil {
		s.logger.Warn("обработчик INVITE не установлен", F("call_id", callID.Value()))
		_ = tx.Respond(sip.NewResponseFromRequest(req, 480, "Temporarily Unavailable", nil))
		return
	}

	itx := newInboundTx(req, tx)
	s.mu.Lock()
	s.pending[callID.Value()] = itx
	s.mu.Unlock()

	// ACK на не-2xx ответы доставляет сама транзакция sipgo; снятие с
	// учета по ее завершению
	go func() {
		for {
			select {
			case ack, ok := <-tx.Acks():
				if !ok {
					return
				}
				itx.pushAck(ack)
			case <-tx.Done():
				s.mu.Lock()
				if s.pending[callID.Value()] == itx {
					delete(s.pending, callID.Value())
				}
				s.mu.Unlock()
				return
			}
		}
	}()

	handler(req, itx)
}

func (s *Stack) handleAck(req *sip.Request, _ sip.ServerTransaction) {
	callID := req.CallID()
	if callID == nil {
		return
	}
	s.mu.Lock()
	itx := s.pending[callID.Value()]
	s.mu.Unlock()
	if itx != nil {
		itx.pushAck(req)
	}
}

func (s *Stack) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))

	callID := req.CallID()
	if callID == nil {
		return
	}
	s.mu.Lock()
	itx := s.pending[callID.Value()]
	s.mu.Unlock()
	if itx == nil {
		return
	}

	// Отмененное приглашение получает 487 до уведомления сессии
	_ = itx.Respond(sip.NewResponseFromRequest(itx.invite, StatusRequestTerminated, "Request Terminated", nil))
	itx.pushCancel(req)
}

func (s *Stack) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	_ = tx.Respond(sip.NewResponseFromRequest(req, 200, "OK", nil))
	if s.onBye != nil {
		s.onBye(req)
	}
}

func (s *Stack) handleOptions(req *sip.Request, tx sip.ServerTransaction) {
	s.respondWith(req, tx, s.onOptions)
}

func (s *Stack) handleMessage(req *sip.Request, tx sip.ServerTransaction) {
	s.respondWith(req, tx, s.onMessage)
}

func (s *Stack) respondWith(req *sip.Request, tx sip.ServerTransaction, handler RequestHandler) {
	var res *sip.Response
	if handler != nil {
		res = handler(req)
	}
	if res == nil {
		res = sip.NewResponseFromRequest(req, 200, "OK", nil)
	}
	if err := tx.Respond(res); err != nil {
		s.logger.Error("ответ не отправлен",
			F("method", req.Method.String()), F("error", err.Error()))
	}
}
