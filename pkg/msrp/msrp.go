// Package msrp определяет границу медиатранспорта чата: типы чанков,
// интерфейс транспорта, согласование ролей setup по RFC 4145 и
// построение/разбор SDP секции m=message.
//
// Само TCP/TLS соединение лежит ниже этой границы и потребляется через
// интерфейс Transport.
package msrp

import (
	"context"
	"fmt"
)

// ChunkType тип чанка данных
type ChunkType int

const (
	// ChunkTextMessage пользовательское сообщение
	ChunkTextMessage ChunkType = iota
	// ChunkDeliveredReport отчет о доставке
	ChunkDeliveredReport
	// ChunkDisplayedReport отчет о прочтении
	ChunkDisplayedReport
	// ChunkOtherReport прочий статусный отчет
	ChunkOtherReport
	// ChunkEmpty пустой чанк для прохождения NAT
	ChunkEmpty
	// ChunkComposing событие набора текста
	ChunkComposing
)

var chunkTypeNames = map[ChunkType]string{
	ChunkTextMessage:     "TextMessage",
	ChunkDeliveredReport: "DeliveredReport",
	ChunkDisplayedReport: "DisplayedReport",
	ChunkOtherReport:     "OtherReport",
	ChunkEmpty:           "Empty",
	ChunkComposing:       "Composing",
}

func (c ChunkType) String() string {
	if name, ok := chunkTypeNames[c]; ok {
		return name
	}
	return "Unknown"
}

// IsReport сообщает, что чанк несет статусный отчет, а не сообщение
func (c ChunkType) IsReport() bool {
	return c == ChunkDeliveredReport || c == ChunkDisplayedReport || c == ChunkOtherReport
}

// Role роль стороны при открытии соединения (RFC 4145)
type Role int

const (
	// RoleActive сторона сама открывает соединение
	RoleActive Role = iota
	// RolePassive сторона ждет входящее соединение
	RolePassive
)

func (r Role) String() string {
	if r == RoleActive {
		return "active"
	}
	return "passive"
}

// ActivePortSentinel порт 9 в SDP обозначает активный режим: реальный
// порт выберет сторона, открывающая соединение (RFC 4145)
const ActivePortSentinel = 9

// Endpoint точка подключения транспорта
type Endpoint struct {
	Host string
	Port int
	// Path URI сессии (a=path)
	Path string
}

// EventHandler принимает асинхронные события транспорта. Реализации не
// должны блокировать цикл обработки транспорта: длинная работа
// откладывается в собственную очередь.
type EventHandler interface {
	// DataTransferred чанк сообщения подтвержден удаленной стороной
	DataTransferred(messageID string)
	// DataReceived принят целый входящий чанк
	DataReceived(messageID string, data []byte, mimeType string)
	// TransferProgress прогресс передачи текущего сообщения
	TransferProgress(current, total int64)
	// TransferAborted передача прервана удаленной стороной
	TransferAborted()
	// TransferError ошибка передачи чанка
	TransferError(messageID string, err error, chunkType ChunkType)
}

// Transport транспорт чанков поверх TCP/TLS
type Transport interface {
	// Open устанавливает соединение: активная роль подключается к
	// удаленной точке, пассивная слушает локальную
	Open(ctx context.Context, role Role, local, remote Endpoint) error
	// SendChunk отправляет данные одним логическим сообщением
	SendChunk(messageID, mimeType string, data []byte, chunkType ChunkType) error
	// SendEmptyChunk отправляет пустой чанк для прохождения NAT
	SendEmptyChunk() error
	Close() error
}

// StatusError ошибка транспорта с кодом ответа удаленной стороны
type StatusError struct {
	Code int
	Text string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("msrp status %d %s", e.Code, e.Text)
}

// Transient сообщает, что ошибка транзиентна: передача текущего
// сообщения прекращается, но сессия может продолжать жить. Таковы
// ответы о проблемах таймаута и размера запроса.
func (e *StatusError) Transient() bool {
	return e.Code == 408 || e.Code == 413
}
