// Package geoloc реализует документ передачи геопозиции
// (rcspushlocation): координаты с меткой и сроком действия.
package geoloc

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MimeType MIME тип документа геопозиции
const MimeType = "application/vnd.gsma.rcspushlocation+xml"

// Namespace пространство имен документа
const Namespace = "urn:gsma:params:xml:ns:rcs:rcs:geolocation"

// Geoloc геопозиция с меткой и сроком действия
type Geoloc struct {
	Label     string
	Latitude  float64
	Longitude float64
	Altitude  float64
	Expiry    time.Time
}

// Build собирает документ геопозиции
func Build(g Geoloc) []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\r\n")
	sb.WriteString(fmt.Sprintf(`<rcsenvelope xmlns=%q>`+"\r\n", Namespace))
	sb.WriteString(fmt.Sprintf(`<rcspushlocation label=%q>`+"\r\n", g.Label))
	sb.WriteString(fmt.Sprintf("<pos>%s %s %s</pos>\r\n",
		formatCoord(g.Latitude), formatCoord(g.Longitude), formatCoord(g.Altitude)))
	if !g.Expiry.IsZero() {
		sb.WriteString(fmt.Sprintf("<expiry>%s</expiry>\r\n", g.Expiry.Format(time.RFC3339)))
	}
	sb.WriteString("</rcspushlocation>\r\n")
	sb.WriteString("</rcsenvelope>")
	return []byte(sb.String())
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Parse разбирает документ геопозиции
func Parse(data []byte) (*Geoloc, error) {
	g := &Geoloc{}
	decoder := xml.NewDecoder(strings.NewReader(string(data)))

	var current string
	var seenPos bool
	for {
		token, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := token.(type) {
		case xml.StartElement:
			current = t.Name.Local
			if t.Name.Local == "rcspushlocation" {
				for _, attr := range t.Attr {
					if attr.Name.Local == "label" {
						g.Label = attr.Value
					}
				}
			}
		case xml.EndElement:
			current = ""
		case xml.CharData:
			value := strings.TrimSpace(string(t))
			if value == "" {
				break
			}
			switch current {
			case "pos":
				fields := strings.Fields(value)
				if len(fields) < 2 {
					return nil, fmt.Errorf("geoloc: malformed pos %q", value)
				}
				var err error
				if g.Latitude, err = strconv.ParseFloat(fields[0], 64); err != nil {
					return nil, fmt.Errorf("geoloc: latitude: %w", err)
				}
				if g.Longitude, err = strconv.ParseFloat(fields[1], 64); err != nil {
					return nil, fmt.Errorf("geoloc: longitude: %w", err)
				}
				if len(fields) > 2 {
					g.Altitude, _ = strconv.ParseFloat(fields[2], 64)
				}
				seenPos = true
			case "expiry":
				if parsed, err := time.Parse(time.RFC3339, value); err == nil {
					g.Expiry = parsed
				}
			}
		}
	}

	if !seenPos {
		return nil, fmt.Errorf("geoloc: missing pos")
	}
	return g, nil
}
