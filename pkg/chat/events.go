package chat

import (
	"time"

	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/fthttp"
	"github.com/arzzra/rcs_stack/pkg/geoloc"
	"github.com/arzzra/rcs_stack/pkg/imdn"
)

// EventType тип события сессии
type EventType int

const (
	// EventSessionStarted сессия установлена, медиаплоскость открыта
	EventSessionStarted EventType = iota
	// EventSessionAborted сессия прервана до или после установления
	EventSessionAborted
	// EventSessionTerminated сессия завершена штатно
	EventSessionTerminated
	// EventMessageReceived принято текстовое сообщение
	EventMessageReceived
	// EventGeolocReceived принята геопозиция
	EventGeolocReceived
	// EventComposing изменение состояния набора удаленной стороной
	EventComposing
	// EventDeliveryUpdated изменение статуса доставки сообщения
	EventDeliveryUpdated
	// EventFileTransferInvite входящее приглашение передачи файла
	EventFileTransferInvite
	// EventParticipantAdded участник добавлен в групповую сессию
	EventParticipantAdded
	// EventParticipantAddFailed добавление участника отклонено
	EventParticipantAddFailed
	// EventError ошибка сессии или медиаплоскости
	EventError
)

var eventTypeNames = map[EventType]string{
	EventSessionStarted:       "SessionStarted",
	EventSessionAborted:       "SessionAborted",
	EventSessionTerminated:    "SessionTerminated",
	EventMessageReceived:      "MessageReceived",
	EventGeolocReceived:       "GeolocReceived",
	EventComposing:            "Composing",
	EventDeliveryUpdated:      "DeliveryUpdated",
	EventFileTransferInvite:   "FileTransferInvite",
	EventParticipantAdded:     "ParticipantAdded",
	EventParticipantAddFailed: "ParticipantAddFailed",
	EventError:                "Error",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// AbortReason причина прерывания сессии
type AbortReason int

const (
	// AbortByUser пользователь отклонил или завершил сессию
	AbortByUser AbortReason = iota
	// AbortByTimeout истекло ожидание ответа
	AbortByTimeout
	// AbortByInactivity сессия завершена за неактивностью
	AbortByInactivity
	// AbortBySystem прерывание по внутренней ошибке
	AbortBySystem
)

var abortReasonNames = map[AbortReason]string{
	AbortByUser:       "user",
	AbortByTimeout:    "timeout",
	AbortByInactivity: "inactivity",
	AbortBySystem:     "system",
}

func (r AbortReason) String() string {
	if name, ok := abortReasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// InstantMessage принятое или отправленное сообщение
type InstantMessage struct {
	MessageID string
	Contact   string
	Text      string
	// DisplayRequested отправитель запросил отчет о прочтении
	DisplayRequested bool
	Date             time.Time
	DisplayName      string
}

// GeolocMessage принятая геопозиция
type GeolocMessage struct {
	MessageID string
	Contact   string
	Geoloc    geoloc.Geoloc
	Date      time.Time
}

// ComposingState состояние набора удаленной стороной
type ComposingState struct {
	Contact string
	Active  bool
}

// DeliveryUpdate изменение статуса доставки
type DeliveryUpdate struct {
	MessageID string
	Status    imdn.Status
	Contact   string
}

// FileTransferInvite входящее приглашение передачи файла по HTTP
type FileTransferInvite struct {
	MessageID string
	Contact   string
	Info      *fthttp.Info
}

// Event событие сессии. Заполнено поле, соответствующее типу.
type Event struct {
	Type      EventType
	SessionID string

	Reason      AbortReason
	Message     *InstantMessage
	Geoloc      *GeolocMessage
	Composing   *ComposingState
	Delivery    *DeliveryUpdate
	Invite      *FileTransferInvite
	Participant string
	// PeerReason текст причины от удаленной стороны
	PeerReason string
	Err        error
}

// размер буфера канала событий; переполнение не блокирует сессию
const eventBufferSize = 32

// eventBus канал событий одной сессии. Внутреннее состояние всегда
// обновляется до публикации события; публикация неблокирующая, при
// переполненном буфере событие теряется с записью в журнал.
type eventBus struct {
	ch     chan Event
	logger dialog.StructuredLogger
}

func newEventBus(logger dialog.StructuredLogger) *eventBus {
	return &eventBus{
		ch:     make(chan Event, eventBufferSize),
		logger: logger,
	}
}

func (b *eventBus) emit(ev Event) {
	select {
	case b.ch <- ev:
	default:
		b.logger.Warn("канал событий переполнен, событие потеряно",
			dialog.F("type", ev.Type.String()), dialog.F("session", ev.SessionID))
	}
}

func (b *eventBus) events() <-chan Event {
	return b.ch
}
