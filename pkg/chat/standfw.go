package chat

import (
	"context"
	"strings"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_stack/pkg/dialog"
)

// StoreForwardManager принимает сессии store-and-forward сервиса:
// доставку отложенных сообщений и доставку отложенных отчетов.
type StoreForwardManager struct {
	deps   SessionConfig
	logger dialog.StructuredLogger
}

// NewStoreForwardManager создает менеджер. deps несет общие
// зависимости создаваемых сессий; вариант и удаленная сторона
// выставляются по каждому приглашению.
func NewStoreForwardManager(deps SessionConfig) *StoreForwardManager {
	logger := deps.Logger
	if logger == nil {
		logger = dialog.NoopLogger{}
	}
	return &StoreForwardManager{deps: deps, logger: logger.WithComponent("standfw")}
}

// IsServiceInvite сообщает, что приглашение пришло от
// store-and-forward сервиса
func (m *StoreForwardManager) IsServiceInvite(invite *sip.Request) bool {
	prefix := m.deps.Settings.StoreForwardURI
	if prefix == "" {
		prefix = "rcse-standfw@"
	}
	if from := invite.From(); from != nil {
		return strings.Contains(from.Address.String(), prefix)
	}
	return false
}

// ReceiveStoredMessages принимает и запускает сессию доставки
// отложенных сообщений. Удаленная сторона сервиса анонимна: адреса
// отправителей берутся из конвертов сообщений.
func (m *StoreForwardManager) ReceiveStoredMessages(ctx context.Context, invite *sip.Request, tx dialog.ServerTx) (*Session, error) {
	m.logger.Debug("прием отложенных сообщений")
	return m.receive(ctx, invite, tx, StoreForwardMessages)
}

// ReceiveStoredNotifications принимает и запускает сессию доставки
// отложенных отчетов. Такая сессия сама отчеты о доставке не шлет.
func (m *StoreForwardManager) ReceiveStoredNotifications(ctx context.Context, invite *sip.Request, tx dialog.ServerTx) (*Session, error) {
	m.logger.Debug("прием отложенных отчетов")
	return m.receive(ctx, invite, tx, StoreForwardNotifications)
}

func (m *StoreForwardManager) receive(ctx context.Context, invite *sip.Request, tx dialog.ServerTx, variant Variant) (*Session, error) {
	cfg := m.deps
	cfg.Variant = variant
	if from := invite.From(); from != nil {
		cfg.Remote = from.Address
	}

	session, err := NewTerminatingSession(cfg, invite, tx)
	if err != nil {
		return nil, err
	}
	session.Start(ctx)
	return session, nil
}
