package dialog

import (
	"errors"
	"fmt"
)

// ErrorCode коды ошибок сессии и медиаплоскости
type ErrorCode int

const (
	// ErrSessionInitiationDeclined пир отклонил приглашение (480/486/603)
	ErrSessionInitiationDeclined ErrorCode = iota + 100
	// ErrSessionInitiationFailed нет ответа или некорректный ответ на приглашение
	ErrSessionInitiationFailed
	// ErrSessionInitiationCancelled приглашение отменено до установления сессии
	ErrSessionInitiationCancelled
	// ErrUnexpectedException любая непредвиденная ошибка
	ErrUnexpectedException
	// ErrMediaSessionBroken транзиентная ошибка медиатранспорта: передача
	// текущего сообщения прекращается, но сессия продолжает жить
	ErrMediaSessionBroken
	// ErrMediaSessionFailed ошибка медиатранспорта, требующая сноса сессии
	ErrMediaSessionFailed
	// ErrUnsupportedMediaType несовместимый кодек/формат
	ErrUnsupportedMediaType
)

var errorCodeNames = map[ErrorCode]string{
	ErrSessionInitiationDeclined:  "SESSION_INITIATION_DECLINED",
	ErrSessionInitiationFailed:    "SESSION_INITIATION_FAILED",
	ErrSessionInitiationCancelled: "SESSION_INITIATION_CANCELLED",
	ErrUnexpectedException:        "UNEXPECTED_EXCEPTION",
	ErrMediaSessionBroken:         "MEDIA_SESSION_BROKEN",
	ErrMediaSessionFailed:         "MEDIA_SESSION_FAILED",
	ErrUnsupportedMediaType:       "UNSUPPORTED_MEDIA_TYPE",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(c))
}

// ChatError типизированная ошибка сессии с кодом и причиной от пира
type ChatError struct {
	Code   ErrorCode
	Reason string
	// StatusCode SIP код ответа, если ошибка вызвана ответом пира
	StatusCode int
	Wrapped    error
}

// NewChatError создает ошибку сессии
func NewChatError(code ErrorCode, reason string) *ChatError {
	return &ChatError{Code: code, Reason: reason}
}

// NewChatErrorFromResponse создает ошибку из финального ответа пира
func NewChatErrorFromResponse(code ErrorCode, statusCode int, reason string) *ChatError {
	return &ChatError{Code: code, Reason: reason, StatusCode: statusCode}
}

// WrapChatError оборачивает непредвиденную ошибку
func WrapChatError(code ErrorCode, err error) *ChatError {
	if err == nil {
		return &ChatError{Code: code}
	}
	return &ChatError{Code: code, Reason: err.Error(), Wrapped: err}
}

func (e *ChatError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return e.Code.String()
}

func (e *ChatError) Unwrap() error {
	return e.Wrapped
}

// Is позволяет сравнивать ошибки по коду через errors.Is
func (e *ChatError) Is(target error) bool {
	var other *ChatError
	if errors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// IsDeclined сообщает, что пир явно отклонил приглашение
func (e *ChatError) IsDeclined() bool {
	return e.Code == ErrSessionInitiationDeclined
}

// ParseError ошибка разбора входящего прикладного контента.
// Такие ошибки логируются, само сообщение отбрасывается без сноса сессии.
type ParseError struct {
	ContentType string
	Err         error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.ContentType, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// TimeoutError ошибка истечения ожидания сигнального события
type TimeoutError struct {
	Op string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout waiting for %s", e.Op)
}
