package dialog

import (
	"context"

	"github.com/emiago/sipgo/sip"
)

// ClientTx клиентская транзакция: канал ответов и сигнал завершения.
// Интерфейс совпадает с подмножеством sip.ClientTransaction из sipgo,
// что позволяет подставлять реальную транзакцию без адаптера.
type ClientTx interface {
	Responses() <-chan *sip.Response
	Done() <-chan struct{}
}

// ServerTx серверная транзакция входящего запроса
type ServerTx interface {
	// Respond отправляет ответ в рамках транзакции
	Respond(res *sip.Response) error
	// Acks канал ACK запросов на финальный ответ
	Acks() <-chan *sip.Request
	// Cancels канал CANCEL запросов
	Cancels() <-chan *sip.Request
	Done() <-chan struct{}
}

// SignalingTransport примитив отправки сигнальных сообщений.
// Реальная реализация оборачивает SIP стек (sipgo); тесты используют мок.
type SignalingTransport interface {
	// Request отправляет запрос и открывает клиентскую транзакцию
	Request(ctx context.Context, req *sip.Request) (ClientTx, error)
	// Send отправляет запрос вне транзакции (ACK)
	Send(ctx context.Context, req *sip.Request) error
}

// Authorizer прикрепляет заголовок авторизации к исходящему запросу.
// Реализация владеет учетными данными и состоянием challenge.
type Authorizer interface {
	// SetAuthorization добавляет Authorization заголовок
	SetAuthorization(req *sip.Request) error
	// ReadProxyChallenge разбирает Proxy-Authenticate из 407 ответа
	ReadProxyChallenge(res *sip.Response) error
	// SetProxyAuthorization добавляет Proxy-Authorization заголовок
	SetProxyAuthorization(req *sip.Request) error
}

// NoAuth пустой Authorizer для развертываний без аутентификации
type NoAuth struct{}

func (NoAuth) SetAuthorization(*sip.Request) error      { return nil }
func (NoAuth) ReadProxyChallenge(*sip.Response) error   { return nil }
func (NoAuth) SetProxyAuthorization(*sip.Request) error { return nil }
