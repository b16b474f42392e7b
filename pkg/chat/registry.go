package chat

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry реестр живых сессий с поиском по идентификатору сессии и
// по идентификатору беседы. Все операции безопасны для конкурентного
// использования.
type Registry struct {
	sessions       sync.Map // session id -> *Session
	byContribution sync.Map // contribution id -> *Session
	byCallID       sync.Map // call id -> *Session

	ftSessions int64

	sessionsTotal  prometheus.Counter
	sessionsActive prometheus.Gauge
	messagesTotal  *prometheus.CounterVec
	ftActive       prometheus.Gauge
}

// NewRegistry создает реестр. reg nil регистрирует метрики в
// реестре Prometheus по умолчанию.
func NewRegistry(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Registry{
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "chat",
			Name:      "sessions_total",
			Help:      "Total number of chat sessions created",
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rcs",
			Subsystem: "chat",
			Name:      "sessions_active",
			Help:      "Number of currently registered chat sessions",
		}),
		messagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rcs",
			Subsystem: "chat",
			Name:      "messages_total",
			Help:      "Total number of chat messages by direction",
		}, []string{"direction"}),
		ftActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "rcs",
			Subsystem: "chat",
			Name:      "file_transfers_active",
			Help:      "Number of concurrent file transfer sessions",
		}),
	}
}

// Add регистрирует сессию
func (r *Registry) Add(s *Session) {
	r.sessions.Store(s.ID(), s)
	if id := s.ContributionID(); id != "" {
		r.byContribution.Store(id, s)
	}
	if id := s.DialogPath().CallID(); id != "" {
		r.byCallID.Store(id, s)
	}
	r.sessionsTotal.Inc()
	r.sessionsActive.Inc()
}

// Remove снимает сессию с учета
func (r *Registry) Remove(s *Session) {
	if _, loaded := r.sessions.LoadAndDelete(s.ID()); !loaded {
		return
	}
	if id := s.ContributionID(); id != "" {
		r.byContribution.Delete(id)
	}
	if id := s.DialogPath().CallID(); id != "" {
		r.byCallID.Delete(id)
	}
	r.sessionsActive.Dec()
}

// Get возвращает сессию по идентификатору
func (r *Registry) Get(sessionID string) (*Session, bool) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// GetByContribution возвращает сессию по идентификатору беседы
func (r *Registry) GetByContribution(contributionID string) (*Session, bool) {
	v, ok := r.byContribution.Load(contributionID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// GetByCallID возвращает сессию по Call-ID сигнального диалога;
// используется для маршрутизации входящих BYE
func (r *Registry) GetByCallID(callID string) (*Session, bool) {
	v, ok := r.byCallID.Load(callID)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Count число зарегистрированных сессий
func (r *Registry) Count() int {
	n := 0
	r.sessions.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// CountMessage учитывает сообщение в метриках
func (r *Registry) CountMessage(direction string) {
	r.messagesTotal.WithLabelValues(direction).Inc()
}

// FileTransferCount текущее число передач файлов
func (r *Registry) FileTransferCount() int {
	return int(atomic.LoadInt64(&r.ftSessions))
}

// AddFileTransfer учитывает начатую передачу файла
func (r *Registry) AddFileTransfer() {
	atomic.AddInt64(&r.ftSessions, 1)
	r.ftActive.Inc()
}

// ReleaseFileTransfer снимает передачу файла с учета
func (r *Registry) ReleaseFileTransfer() {
	if atomic.AddInt64(&r.ftSessions, -1) < 0 {
		atomic.StoreInt64(&r.ftSessions, 0)
	}
	r.ftActive.Dec()
}
