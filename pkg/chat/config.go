// Package chat реализует сессии обмена сообщениями поверх сигнального
// диалога и медиатранспорта: один-на-один, групповые и store-and-forward
// варианты с общим ядром.
package chat

import (
	"time"

	"github.com/arzzra/rcs_stack/pkg/imdn"
)

// Settings конфигурация поведения сессий
type Settings struct {
	// AutoAcceptChat автоматический прием приглашений один-на-один
	AutoAcceptChat bool
	// AutoAcceptGroupChat автоматический прием групповых приглашений
	AutoAcceptGroupChat bool
	// IMDNActivated отправка сообщений с запросом отчетов о доставке
	IMDNActivated bool
	// DisplayedNotificationActivated пометка входящих сообщений,
	// ожидающих отчета о прочтении
	DisplayedNotificationActivated bool
	// MaxFileTransferSize максимальный размер файла в байтах; 0 без лимита
	MaxFileTransferSize int
	// MaxFileTransferSessions максимум одновременных передач; 0 без лимита
	MaxFileTransferSessions int
	// BehindNAT влияет на выбор роли setup при согласовании транспорта
	BehindNAT bool

	// AnswerTimeout ожидание ответа пользователя на приглашение
	AnswerTimeout time.Duration
	// AckTimeout ожидание ACK на 200 OK
	AckTimeout time.Duration
	// InactivityTimeout простой сессии до принудительного завершения;
	// 0 отключает контроль
	InactivityTimeout time.Duration
	// ComposingIdleTimeout сброс состояния набора без явного idle
	ComposingIdleTimeout time.Duration

	// StoreForwardURI префикс адреса store-and-forward сервиса
	StoreForwardURI string
}

// DefaultSettings параметры по умолчанию
func DefaultSettings() Settings {
	return Settings{
		IMDNActivated:                  true,
		DisplayedNotificationActivated: true,
		AnswerTimeout:                  30 * time.Second,
		AckTimeout:                     15 * time.Second,
		InactivityTimeout:              5 * time.Minute,
		ComposingIdleTimeout:           15 * time.Second,
		StoreForwardURI:                "rcse-standfw@",
	}
}

// ContactManager справочник контактов: проверка блокировки
type ContactManager interface {
	// IsBlocked сообщает, заблокированы ли передачи от контакта
	IsBlocked(contact string) bool
}

// MessageStore хранилище сообщений и их статусов доставки.
// Расширяет хранилище статусов дедупликацией и состоянием беседы.
type MessageStore interface {
	imdn.MessageStore

	// IsNewMessage сообщает, что пара (беседа, сообщение) еще не
	// встречалась, и помечает ее как встреченную
	IsNewMessage(contributionID, messageID string) bool
	// MarkDisplayRequested помечает сообщение как ожидающее отчета
	// о прочтении
	MarkDisplayRequested(messageID string)
	// ConnectedParticipants участники беседы по данным хранилища
	ConnectedParticipants(contributionID string) []string
}
