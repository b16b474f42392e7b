package msrp

import (
	"context"
	"fmt"
	"sync"

	"github.com/arzzra/rcs_stack/pkg/dialog"
)

// Manager владеет транспортом одной сессии чата.
//
// Инвариант: в любой момент открыт не более чем один транспорт; перед
// открытием нового предыдущий обязан быть закрыт.
type Manager struct {
	mu sync.Mutex

	localIP   string
	localPort int
	sessionID string

	transport Transport
	open      bool

	logger dialog.StructuredLogger
}

// NewManager создает менеджер транспорта с локальной точкой подключения
func NewManager(localIP string, localPort int, transport Transport, logger dialog.StructuredLogger) *Manager {
	if logger == nil {
		logger = dialog.NoopLogger{}
	}
	return &Manager{
		localIP:   localIP,
		localPort: localPort,
		sessionID: dialog.GenerateMessageID(),
		transport: transport,
		logger:    logger.WithComponent("msrp"),
	}
}

// LocalEndpoint возвращает локальную точку подключения с path URI сессии
func (m *Manager) LocalEndpoint() Endpoint {
	return Endpoint{
		Host: m.localIP,
		Port: m.localPort,
		Path: fmt.Sprintf("msrp://%s:%d/%s;tcp", m.localIP, m.localPort, m.sessionID),
	}
}

// Open открывает транспорт в указанной роли. Повторное открытие без
// закрытия предыдущего запрещено.
func (m *Manager) Open(ctx context.Context, role Role, remote Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		return fmt.Errorf("transport already open, close it first")
	}
	if m.transport == nil {
		return fmt.Errorf("no transport configured")
	}

	if err := m.transport.Open(ctx, role, m.LocalEndpoint(), remote); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	m.open = true
	m.logger.Info("transport opened",
		dialog.F("role", role.String()),
		dialog.F("remote", remote.Path))
	return nil
}

// IsOpen сообщает, открыт ли транспорт
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// SendChunk отправляет сообщение одним логическим чанком
func (m *Manager) SendChunk(messageID, mimeType string, data []byte, chunkType ChunkType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return fmt.Errorf("transport not open")
	}
	return m.transport.SendChunk(messageID, mimeType, data, chunkType)
}

// SendEmptyChunk отправляет пустой чанк для прохождения NAT
func (m *Manager) SendEmptyChunk() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return fmt.Errorf("transport not open")
	}
	return m.transport.SendEmptyChunk()
}

// Close закрывает транспорт; повторное закрытие без эффекта
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.open {
		return nil
	}
	m.open = false
	if err := m.transport.Close(); err != nil {
		return fmt.Errorf("close transport: %w", err)
	}
	m.logger.Info("transport closed")
	return nil
}
