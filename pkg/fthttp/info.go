// Package fthttp реализует передачу файлов по HTTP: документ описания
// файла (file-info), двухфазную загрузку на контент-сервер и скачивание
// с возобновлением по Range.
package fthttp

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MimeType MIME тип документа описания передачи файла
const MimeType = "application/vnd.gsma.rcs-ft-http+xml"

// Thumbnail описание миниатюры файла
type Thumbnail struct {
	Size        int
	ContentType string
	URL         string
	Validity    time.Time
}

// Info описание передаваемого файла: размер, тип, URL для скачивания
// и срок действия ссылки. Поле Thumbnail заполняется, если документ
// содержит описание миниатюры.
type Info struct {
	Size        int
	ContentType string
	URL         string
	Validity    time.Time
	Thumbnail   *Thumbnail
}

// Build собирает XML документ описания файла
func Build(info Info) []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\r\n")
	sb.WriteString("<file>\r\n")
	if t := info.Thumbnail; t != nil {
		sb.WriteString(`<file-info type="thumbnail">` + "\r\n")
		sb.WriteString(fmt.Sprintf("<file-size>%d</file-size>\r\n", t.Size))
		sb.WriteString(fmt.Sprintf("<content-type>%s</content-type>\r\n", t.ContentType))
		sb.WriteString(fmt.Sprintf(`<data url=%q until=%q/>`+"\r\n", t.URL, t.Validity.Format(time.RFC3339)))
		sb.WriteString("</file-info>\r\n")
	}
	sb.WriteString(`<file-info type="file">` + "\r\n")
	sb.WriteString(fmt.Sprintf("<file-size>%d</file-size>\r\n", info.Size))
	sb.WriteString(fmt.Sprintf("<content-type>%s</content-type>\r\n", info.ContentType))
	sb.WriteString(fmt.Sprintf(`<data url=%q until=%q/>`+"\r\n", info.URL, info.Validity.Format(time.RFC3339)))
	sb.WriteString("</file-info>\r\n")
	sb.WriteString("</file>")
	return []byte(sb.String())
}

// Parse разбирает XML документ описания файла. Документ без секции
// file-info type="file" считается некорректным.
func Parse(data []byte) (*Info, error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))

	var (
		info     Info
		thumb    *Thumbnail
		section  string // "file" | "thumbnail" | ""
		element  string
		haveFile bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			element = t.Name.Local
			switch t.Name.Local {
			case "file-info":
				section = attrValue(t, "type")
				if section == "thumbnail" {
					thumb = &Thumbnail{}
				}
			case "data":
				url := attrValue(t, "url")
				until, _ := time.Parse(time.RFC3339, attrValue(t, "until"))
				switch section {
				case "file":
					info.URL = url
					info.Validity = until
					haveFile = true
				case "thumbnail":
					if thumb != nil {
						thumb.URL = url
						thumb.Validity = until
					}
				}
			}
		case xml.EndElement:
			element = ""
			if t.Name.Local == "file-info" {
				section = ""
			}
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			switch element {
			case "file-size":
				size, err := strconv.Atoi(text)
				if err != nil {
					return nil, fmt.Errorf("fthttp: некорректный file-size %q", text)
				}
				if section == "thumbnail" && thumb != nil {
					thumb.Size = size
				} else if section == "file" {
					info.Size = size
				}
			case "content-type":
				if section == "thumbnail" && thumb != nil {
					thumb.ContentType = text
				} else if section == "file" {
					info.ContentType = text
				}
			}
		}
	}

	if !haveFile || info.URL == "" {
		return nil, fmt.Errorf("fthttp: документ не содержит описания файла")
	}
	info.Thumbnail = thumb
	return &info, nil
}

func attrValue(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}
