// Package imdn реализует уведомления о доставке: XML документ отчета
// (delivered/displayed/failed), трекер статусов со строго прямыми
// переходами и отправку отчетов по сигнальному плану.
package imdn

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// MimeType MIME тип документа отчета о доставке
const MimeType = "message/imdn+xml"

// Namespace пространство имен документа
const Namespace = "urn:ietf:params:xml:ns:imdn"

// Status статус доставки сообщения
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusDisplayed Status = "displayed"
	StatusFailed    Status = "failed"
)

// Document разобранный отчет о доставке
type Document struct {
	MessageID string
	DateTime  time.Time
	Status    Status
}

// Build собирает XML документ отчета. Статусы displayed публикуются в
// элементе display-notification, остальные в delivery-notification.
func Build(messageID string, status Status, ts time.Time) []byte {
	notification := "delivery-notification"
	if status == StatusDisplayed {
		notification = "display-notification"
	}

	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\r\n")
	sb.WriteString(fmt.Sprintf(`<imdn xmlns=%q>`+"\r\n", Namespace))
	sb.WriteString(fmt.Sprintf("<message-id>%s</message-id>\r\n", messageID))
	sb.WriteString(fmt.Sprintf("<datetime>%s</datetime>\r\n", ts.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("<%s><status><%s/></status></%s>\r\n", notification, status, notification))
	sb.WriteString("</imdn>")
	return []byte(sb.String())
}

// Parse разбирает документ отчета: идентификатор сообщения и статус,
// определяемый именем пустого элемента внутри status
func Parse(data []byte) (*Document, error) {
	doc := &Document{}
	decoder := xml.NewDecoder(strings.NewReader(string(data)))

	var inStatus bool
	var current string
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "message-id", "datetime":
				current = t.Name.Local
			case "status":
				inStatus = true
			default:
				if inStatus && doc.Status == "" {
					doc.Status = Status(t.Name.Local)
				}
				current = ""
			}
		case xml.EndElement:
			if t.Name.Local == "status" {
				inStatus = false
			}
			current = ""
		case xml.CharData:
			value := strings.TrimSpace(string(t))
			if value == "" {
				break
			}
			switch current {
			case "message-id":
				doc.MessageID = value
			case "datetime":
				if parsed, err := time.Parse(time.RFC3339, value); err == nil {
					doc.DateTime = parsed
				}
			}
		}
	}

	if doc.MessageID == "" {
		return nil, fmt.Errorf("imdn: missing message-id")
	}
	if doc.Status == "" {
		return nil, fmt.Errorf("imdn: missing status")
	}
	return doc, nil
}
