// Package cpim реализует конверт message/cpim: построение и разбор
// заголовков сообщения (From/To/DateTime, пространство имен imdn,
// идентификатор и запрошенные уведомления) вокруг вложенного контента.
package cpim

import (
	"fmt"
	"strings"
	"time"
)

// MimeType MIME тип конверта
const MimeType = "message/cpim"

// Заголовки конверта
const (
	HeaderFrom     = "From"
	HeaderTo       = "To"
	HeaderDateTime = "DateTime"
	HeaderNS       = "NS"

	// HeaderMessageID идентификатор сообщения в пространстве imdn
	HeaderMessageID = "imdn.Message-ID"
	// HeaderDispositionNotification запрошенные уведомления о доставке
	HeaderDispositionNotification = "imdn.Disposition-Notification"
)

// IMDNNamespace декларация пространства имен imdn
const IMDNNamespace = "imdn <urn:ietf:params:imdn>"

// Значения imdn.Disposition-Notification
const (
	PositiveDelivery = "positive-delivery"
	Display          = "display"
)

// AnonymousURI анонимный адрес для конвертов без раскрытия сторон
const AnonymousURI = "<sip:anonymous@anonymous.invalid>"

// Message разобранный конверт
type Message struct {
	headers     map[string]string
	ContentType string
	Body        []byte
}

// Header возвращает значение заголовка конверта (без учета регистра имени)
func (m *Message) Header(name string) string {
	return m.headers[strings.ToLower(name)]
}

// MessageID возвращает imdn.Message-ID
func (m *Message) MessageID() string {
	return m.Header(HeaderMessageID)
}

// From возвращает адрес отправителя
func (m *Message) From() string {
	return m.Header(HeaderFrom)
}

// DispositionNotification возвращает значение запрошенных уведомлений
func (m *Message) DispositionNotification() string {
	return m.Header(HeaderDispositionNotification)
}

// DeliveryRequested сообщает, что запрошено уведомление о доставке
func (m *Message) DeliveryRequested() bool {
	return strings.Contains(m.DispositionNotification(), PositiveDelivery)
}

// DisplayRequested сообщает, что запрошено уведомление о прочтении
func (m *Message) DisplayRequested() bool {
	return strings.Contains(m.DispositionNotification(), Display)
}

// DateTime возвращает разобранную метку времени конверта
func (m *Message) DateTime() (time.Time, bool) {
	raw := m.Header(HeaderDateTime)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Opts параметры построения конверта
type Opts struct {
	From string
	To   string
	// MessageID при непустом значении добавляет imdn.Message-ID и
	// декларацию пространства имен
	MessageID string
	// Dispositions значения imdn.Disposition-Notification
	Dispositions []string
	// Timestamp метка DateTime; нулевое значение берет текущее время
	Timestamp time.Time

	ContentType string
	Body        []byte
}

// Build собирает конверт message/cpim
func Build(opts Opts) []byte {
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var sb strings.Builder
	writeHeader(&sb, HeaderFrom, opts.From)
	writeHeader(&sb, HeaderTo, opts.To)
	if opts.MessageID != "" || len(opts.Dispositions) > 0 {
		writeHeader(&sb, HeaderNS, IMDNNamespace)
	}
	if opts.MessageID != "" {
		writeHeader(&sb, HeaderMessageID, opts.MessageID)
	}
	writeHeader(&sb, HeaderDateTime, ts.Format(time.RFC3339))
	if len(opts.Dispositions) > 0 {
		writeHeader(&sb, HeaderDispositionNotification, strings.Join(opts.Dispositions, ", "))
	}
	sb.WriteString("\r\n")

	writeHeader(&sb, "Content-Type", opts.ContentType)
	writeHeader(&sb, "Content-Length", fmt.Sprintf("%d", len(opts.Body)))
	sb.WriteString("\r\n")
	sb.Write(opts.Body)

	return []byte(sb.String())
}

func writeHeader(sb *strings.Builder, name, value string) {
	sb.WriteString(name)
	sb.WriteString(": ")
	sb.WriteString(value)
	sb.WriteString("\r\n")
}

// Parse разбирает конверт: заголовки сообщения, заголовки контента и тело
// разделены пустыми строками
func Parse(data []byte) (*Message, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	headerPart, rest, ok := strings.Cut(text, "\n\n")
	if !ok {
		return nil, fmt.Errorf("cpim: missing content part")
	}

	msg := &Message{headers: make(map[string]string)}
	if err := parseHeaders(headerPart, msg.headers); err != nil {
		return nil, err
	}

	contentHeaders := make(map[string]string)
	contentPart, body, ok := strings.Cut(rest, "\n\n")
	if !ok {
		// Конверт без тела: остаток только заголовки контента
		contentPart, body = rest, ""
	}
	if err := parseHeaders(contentPart, contentHeaders); err != nil {
		return nil, err
	}

	msg.ContentType = contentHeaders["content-type"]
	if msg.ContentType == "" {
		return nil, fmt.Errorf("cpim: missing Content-Type")
	}
	msg.Body = []byte(body)
	return msg, nil
}

func parseHeaders(part string, into map[string]string) error {
	for _, line := range strings.Split(part, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return fmt.Errorf("cpim: malformed header line %q", line)
		}
		into[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
	return nil
}
