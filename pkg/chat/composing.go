package chat

import (
	"encoding/xml"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ComposingMimeType MIME тип события набора текста
const ComposingMimeType = "application/im-iscomposing+xml"

const composingNamespace = "urn:ietf:params:xml:ns:im-iscomposing"

// buildIsComposing собирает документ состояния набора
func buildIsComposing(active bool, refresh time.Duration) []byte {
	state := "idle"
	if active {
		state = "active"
	}
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\r\n")
	sb.WriteString(fmt.Sprintf(`<isComposing xmlns=%q>`+"\r\n", composingNamespace))
	sb.WriteString(fmt.Sprintf("<state>%s</state>\r\n", state))
	sb.WriteString("<contenttype>text/plain</contenttype>\r\n")
	if active && refresh > 0 {
		sb.WriteString(fmt.Sprintf("<refresh>%d</refresh>\r\n", int(refresh.Seconds())))
	}
	sb.WriteString("</isComposing>")
	return []byte(sb.String())
}

// parseIsComposing извлекает состояние и интервал обновления
func parseIsComposing(data []byte) (active bool, refresh time.Duration, err error) {
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	var element string
	var sawState bool
	for {
		tok, terr := dec.Token()
		if terr != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			element = t.Name.Local
		case xml.EndElement:
			element = ""
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if text == "" {
				continue
			}
			switch element {
			case "state":
				sawState = true
				active = text == "active"
			case "refresh":
				var seconds int
				if _, serr := fmt.Sscanf(text, "%d", &seconds); serr == nil && seconds > 0 {
					refresh = time.Duration(seconds) * time.Second
				}
			}
		}
	}
	if !sawState {
		return false, 0, fmt.Errorf("chat: документ isComposing без state")
	}
	return active, refresh, nil
}

// composingTracker отслеживает состояние набора удаленной стороной.
//
// Активное состояние сбрасывается по явному idle, по приему сообщения
// или по истечении интервала обновления. Сброс публикуется событием
// только при фактической смене состояния.
type composingTracker struct {
	mu      sync.Mutex
	active  bool
	timer   *time.Timer
	timeout time.Duration
	notify  func(contact string, active bool)
}

func newComposingTracker(timeout time.Duration, notify func(contact string, active bool)) *composingTracker {
	return &composingTracker{timeout: timeout, notify: notify}
}

// receive обрабатывает документ isComposing от контакта
func (c *composingTracker) receive(contact string, data []byte) error {
	active, refresh, err := parseIsComposing(data)
	if err != nil {
		return err
	}
	if active && refresh == 0 {
		refresh = c.timeout
	}
	c.set(contact, active, refresh)
	return nil
}

// reset сбрасывает состояние набора (прием сообщения)
func (c *composingTracker) reset(contact string) {
	c.set(contact, false, 0)
}

func (c *composingTracker) set(contact string, active bool, refresh time.Duration) {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	changed := c.active != active
	c.active = active
	if active && refresh > 0 {
		c.timer = time.AfterFunc(refresh, func() {
			c.set(contact, false, 0)
		})
	}
	c.mu.Unlock()

	if changed && c.notify != nil {
		c.notify(contact, active)
	}
}

func (c *composingTracker) stop() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
}

// activityManager контролирует неактивность сессии: каждый полезный
// обмен по медиаплоскости продлевает срок жизни, простой дольше
// установленного таймаута завершает сессию.
type activityManager struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	expire  func()
	stopped bool
}

func newActivityManager(timeout time.Duration, expire func()) *activityManager {
	return &activityManager{timeout: timeout, expire: expire}
}

// start запускает контроль; таймаут 0 отключает его
func (a *activityManager) start() {
	if a.timeout <= 0 {
		return
	}
	a.touch()
}

// touch отмечает активность и перезапускает таймер
func (a *activityManager) touch() {
	if a.timeout <= 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(a.timeout, a.expire)
}

func (a *activityManager) stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopped = true
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
