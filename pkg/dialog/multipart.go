package dialog

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"strings"
)

// Multipart тело INVITE, несущее SDP и обернутое сообщение одновременно
const (
	// BoundaryTag метка границы multipart тела
	BoundaryTag = "boundary1"
	// MimeMultipart MIME тип смешанного тела с меткой границы
	MimeMultipart = "multipart/mixed;boundary=" + BoundaryTag

	boundaryDelimiter = "--"
	crlf              = "\r\n"
)

// BuildMultipartBody собирает multipart/mixed тело из набора частей.
// Части записываются в переданном порядке: сначала SDP, затем CPIM.
func BuildMultipartBody(parts ...Body) Body {
	var sb strings.Builder
	for _, part := range parts {
		sb.WriteString(boundaryDelimiter + BoundaryTag + crlf)
		sb.WriteString("Content-Type: " + part.ContentType + crlf)
		sb.WriteString(fmt.Sprintf("Content-Length: %d", len(part.Content)) + crlf)
		sb.WriteString(crlf)
		sb.Write(part.Content)
		sb.WriteString(crlf)
	}
	sb.WriteString(boundaryDelimiter + BoundaryTag + boundaryDelimiter)

	return Body{
		ContentType: MimeMultipart,
		Content:     []byte(sb.String()),
	}
}

// ParseMultipartBody разбирает multipart тело на части.
// Возвращает ошибку, если Content-Type не multipart или тело повреждено.
func ParseMultipartBody(body Body) ([]Body, error) {
	mediaType, params, err := mime.ParseMediaType(body.ContentType)
	if err != nil {
		return nil, fmt.Errorf("parse content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("not a multipart content: %s", mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, fmt.Errorf("multipart without boundary")
	}

	reader := multipart.NewReader(bytes.NewReader(body.Content), boundary)
	var parts []Body
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return nil, fmt.Errorf("read part body: %w", err)
		}
		parts = append(parts, Body{
			ContentType: part.Header.Get("Content-Type"),
			Content:     data,
		})
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty multipart body")
	}
	return parts, nil
}

// FindPart возвращает первую часть с указанным MIME типом
func FindPart(parts []Body, contentType string) (Body, bool) {
	for _, part := range parts {
		if strings.HasPrefix(strings.ToLower(part.ContentType), strings.ToLower(contentType)) {
			return part, true
		}
	}
	return Body{}, false
}

// IsMultipart сообщает, что тип контента является multipart
func IsMultipart(contentType string) bool {
	return strings.HasPrefix(strings.ToLower(contentType), "multipart/")
}
