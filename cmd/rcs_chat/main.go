package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_stack/pkg/capability"
	"github.com/arzzra/rcs_stack/pkg/chat"
	"github.com/arzzra/rcs_stack/pkg/cpim"
	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/imdn"
	"github.com/arzzra/rcs_stack/pkg/msrp"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:5060", "Listen address")
		username   = flag.String("user", "alice", "Username")
		domain     = flag.String("domain", "example.com", "Domain")
		mode       = flag.String("mode", "server", "Mode: server, client")
		target     = flag.String("target", "sip:bob@127.0.0.1:5061", "Target URI for outgoing chat")
		message    = flag.String("msg", "Привет из rcs_chat", "First message of outgoing chat")
		debug      = flag.Bool("debug", false, "Enable debug mode")
	)
	flag.Parse()

	if *debug {
		sip.SIPDebug = true
	}

	switch *mode {
	case "server":
		runServer(*listenAddr, *username, *domain)
	case "client":
		runClient(*listenAddr, *username, *domain, *target, *message)
	default:
		fmt.Printf("Неизвестный режим: %s\n", *mode)
		fmt.Println("Доступные режимы: server, client")
		os.Exit(1)
	}
}

// localCapabilities возможности тестового агента: чат, передача файлов
// по HTTP, геопозиция
func localCapabilities() capability.Capabilities {
	return capability.Capabilities{
		Chat:             true,
		FileTransfer:     true,
		FileTransferHTTP: true,
		GeolocationPush:  true,
	}
}

// runServer запускает терминирующую сторону: принимает приглашения чата,
// store-and-forward сессии, OPTIONS обмен возможностями и MESSAGE отчеты
func runServer(listenAddr, username, domain string) {
	log.Printf("Запуск RCS чат сервера: %s@%s на %s", username, domain, listenAddr)

	logger := dialog.NewDefaultLogger(dialog.LogLevelDebug)
	stack, err := dialog.NewStack(dialog.StackConfig{
		Hostname:   domain,
		ListenAddr: listenAddr,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("Ошибка создания сигнального стека: %v", err)
	}
	defer stack.Close()

	localIP := extractIP(listenAddr)
	caps := localCapabilities()
	tags := capability.BuildFeatureTags(caps, capability.NetworkWiFi)

	var local sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s", username, domain), &local); err != nil {
		log.Fatalf("Ошибка разбора локального адреса: %v", err)
	}

	registry := chat.NewRegistry(nil)
	deps := chat.SessionConfig{
		LocalParty:    local,
		LocalIP:       localIP,
		LocalMsrpPort: 2855,
		Settings:      serverSettings(),
		Transport:     stack,
		Msrp:          newEchoTransport(),
		Contacts:      allowAllContacts{},
		Store:         newMemStore(),
		Registry:      registry,
		Fallback:      imdn.NewSender(stack, local, logger),
		Logger:        logger,
	}
	deps.FeatureTags = tags
	standfw := chat.NewStoreForwardManager(deps)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stack.OnInvite(func(invite *sip.Request, tx dialog.ServerTx) {
		from := "<нет From>"
		if h := invite.From(); h != nil {
			from = h.Address.String()
		}
		log.Printf("=== ВХОДЯЩЕЕ ПРИГЛАШЕНИЕ ===")
		log.Printf("От: %s", from)
		log.Printf("Call-ID: %s", invite.CallID().Value())

		if standfw.IsServiceInvite(invite) {
			log.Printf("Приглашение store-and-forward сервиса")
			session, err := standfw.ReceiveStoredMessages(ctx, invite, tx)
			if err != nil {
				log.Printf("Ошибка приема отложенных сообщений: %v", err)
				return
			}
			go watchEvents(session)
			return
		}

		cfg := deps
		cfg.Variant = chat.One2OneTerminating
		cfg.Msrp = newEchoTransport()
		if h := invite.From(); h != nil {
			cfg.Remote = h.Address
		}
		session, err := chat.NewTerminatingSession(cfg, invite, tx)
		if err != nil {
			log.Printf("Ошибка приема приглашения: %v", err)
			return
		}
		go watchEvents(session)
		session.Start(ctx)
	})

	stack.OnBye(func(bye *sip.Request) {
		if session, ok := registry.GetByCallID(bye.CallID().Value()); ok {
			log.Printf("BYE для сессии %s", session.ID())
			session.TerminatedByRemote()
		}
	})

	stack.OnOptions(func(req *sip.Request) *sip.Response {
		log.Printf("OPTIONS от %s", req.From().Address.String())
		sdp, err := capability.BuildCapabilitySDP(localIP, caps, capability.NetworkWiFi, capability.DefaultRegistry())
		if err != nil {
			return sip.NewResponseFromRequest(req, 500, "Internal Server Error", nil)
		}
		res := sip.NewResponseFromRequest(req, 200, "OK", []byte(sdp))
		contact := fmt.Sprintf("<sip:%s@%s>;%s", username, listenAddr, strings.Join(tags, ";"))
		res.AppendHeader(sip.NewHeader("Contact", contact))
		res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
		return res
	})

	stack.OnMessage(func(req *sip.Request) *sip.Response {
		logPagerMessage(req)
		return nil
	})

	go func() {
		if err := stack.Listen(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("Ошибка сигнального стека: %v", err)
		}
	}()

	log.Printf("RCS чат сервер запущен на %s", listenAddr)
	log.Printf("Для тестирования запустите клиент:")
	log.Printf("  go run cmd/rcs_chat/main.go -mode=client -listen=127.0.0.1:5061 -target=sip:%s@%s", username, listenAddr)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	log.Printf("Завершение RCS чат сервера...")
}

// runClient запускает исходящую сессию чата с первым сообщением
func runClient(listenAddr, username, domain, target, message string) {
	log.Printf("Запуск RCS чат клиента: %s@%s на %s", username, domain, listenAddr)
	log.Printf("Цель: %s", target)

	logger := dialog.NewDefaultLogger(dialog.LogLevelDebug)
	stack, err := dialog.NewStack(dialog.StackConfig{
		Hostname:   domain,
		ListenAddr: listenAddr,
		Logger:     logger,
	})
	if err != nil {
		log.Fatalf("Ошибка создания сигнального стека: %v", err)
	}
	defer stack.Close()

	var local, remote sip.Uri
	if err := sip.ParseUri(fmt.Sprintf("sip:%s@%s", username, domain), &local); err != nil {
		log.Fatalf("Ошибка разбора локального адреса: %v", err)
	}
	if err := sip.ParseUri(target, &remote); err != nil {
		log.Fatalf("Ошибка разбора целевого адреса: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := stack.Listen(ctx); err != nil && ctx.Err() == nil {
			log.Fatalf("Ошибка сигнального стека: %v", err)
		}
	}()
	time.Sleep(500 * time.Millisecond)

	transport := newEchoTransport()
	cfg := chat.SessionConfig{
		Variant:       chat.One2OneOriginating,
		LocalParty:    local,
		Remote:        remote,
		FirstMessage:  message,
		FeatureTags:   capability.BuildFeatureTags(localCapabilities(), capability.NetworkWiFi),
		LocalIP:       extractIP(listenAddr),
		LocalMsrpPort: 2855,
		Settings:      chat.DefaultSettings(),
		Transport:     stack,
		Msrp:          transport,
		Contacts:      allowAllContacts{},
		Store:         newMemStore(),
		Registry:      chat.NewRegistry(nil),
		Fallback:      imdn.NewSender(stack, local, logger),
		Logger:        logger,
	}

	session := chat.NewOriginatingSession(cfg)
	transport.handler = session
	session.Start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for event := range session.Events() {
			logEvent(session, event)
			if event.Type == chat.EventSessionStarted {
				go holdAndTerminate(ctx, session)
			}
			if event.Type == chat.EventSessionTerminated || event.Type == chat.EventSessionAborted {
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(60 * time.Second):
		log.Printf("Тайм-аут ожидания, завершаем сессию")
		_ = session.Terminate(ctx)
	}

	log.Printf("Завершение RCS чат клиента...")
}

// holdAndTerminate держит установленную сессию, шлет статус набора и
// второе сообщение, затем завершает диалог
func holdAndTerminate(ctx context.Context, session *chat.Session) {
	log.Printf("Сессия установлена, держим 5 секунд...")
	time.Sleep(2 * time.Second)

	if err := session.SendComposingStatus(true); err != nil {
		log.Printf("Ошибка отправки статуса набора: %v", err)
	}
	time.Sleep(1 * time.Second)
	if msgID, err := session.SendTextMessage("Еще одно сообщение"); err != nil {
		log.Printf("Ошибка отправки сообщения: %v", err)
	} else {
		log.Printf("Сообщение отправлено: %s", msgID)
	}

	time.Sleep(2 * time.Second)
	log.Printf("Завершаем сессию...")
	if err := session.Terminate(ctx); err != nil {
		log.Printf("Ошибка завершения сессии: %v", err)
	}
}

// watchEvents печатает события сессии до ее завершения
func watchEvents(session *chat.Session) {
	for event := range session.Events() {
		logEvent(session, event)
		if event.Type == chat.EventSessionTerminated || event.Type == chat.EventSessionAborted {
			return
		}
	}
}

func logEvent(session *chat.Session, event chat.Event) {
	switch event.Type {
	case chat.EventSessionStarted:
		log.Printf("[%s] сессия установлена, беседа %s", session.ID(), session.ContributionID())
	case chat.EventSessionAborted:
		log.Printf("[%s] сессия прервана: %v %s", session.ID(), event.Reason, event.PeerReason)
	case chat.EventSessionTerminated:
		log.Printf("[%s] сессия завершена", session.ID())
	case chat.EventMessageReceived:
		log.Printf("[%s] сообщение %s от %s: %s", session.ID(),
			event.Message.MessageID, event.Message.Contact, event.Message.Text)
	case chat.EventGeolocReceived:
		log.Printf("[%s] геопозиция от %s", session.ID(), event.Geoloc.Contact)
	case chat.EventComposing:
		log.Printf("[%s] набор текста: %v", session.ID(), event.Composing.Active)
	case chat.EventDeliveryUpdated:
		log.Printf("[%s] статус доставки %s: %s", session.ID(),
			event.Delivery.MessageID, event.Delivery.Status)
	case chat.EventFileTransferInvite:
		log.Printf("[%s] приглашение передачи файла %s (%d байт)", session.ID(),
			event.Invite.Info.URL, event.Invite.Info.Size)
	case chat.EventError:
		log.Printf("[%s] ошибка: %v", session.ID(), event.Err)
	default:
		log.Printf("[%s] событие %s", session.ID(), event.Type)
	}
}

// logPagerMessage печатает отчет о доставке, пришедший вне сессии
func logPagerMessage(req *sip.Request) {
	msg, err := cpim.Parse(req.Body())
	if err != nil {
		log.Printf("MESSAGE с нечитаемым телом: %v", err)
		return
	}
	if msg.ContentType == imdn.MimeType {
		doc, err := imdn.Parse(msg.Body)
		if err != nil {
			log.Printf("MESSAGE с нечитаемым отчетом: %v", err)
			return
		}
		log.Printf("Отчет о доставке %s: %s", doc.MessageID, doc.Status)
		return
	}
	log.Printf("MESSAGE от %s: %s", msg.From(), string(msg.Body))
}

func serverSettings() chat.Settings {
	settings := chat.DefaultSettings()
	settings.AutoAcceptChat = true
	settings.AutoAcceptGroupChat = true
	return settings
}

// extractIP выделяет адрес хоста из listen адреса
func extractIP(listenAddr string) string {
	if idx := strings.LastIndex(listenAddr, ":"); idx > 0 {
		return listenAddr[:idx]
	}
	return listenAddr
}

// allowAllContacts справочник без блокировок
type allowAllContacts struct{}

func (allowAllContacts) IsBlocked(string) bool { return false }

// memStore хранилище сообщений в памяти процесса
type memStore struct {
	mu       sync.Mutex
	statuses map[string]imdn.Status
	seen     map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		statuses: make(map[string]imdn.Status),
		seen:     make(map[string]bool),
	}
}

func (s *memStore) SetStatus(messageID string, status imdn.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[messageID] = status
	return nil
}

func (s *memStore) Status(messageID string) (imdn.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[messageID]
	return status, ok
}

func (s *memStore) IsNewMessage(contributionID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := contributionID + "/" + messageID
	if s.seen[key] {
		return false
	}
	s.seen[key] = true
	return true
}

func (s *memStore) MarkDisplayRequested(messageID string) {}

func (s *memStore) ConnectedParticipants(contributionID string) []string { return nil }

// echoTransport транспорт медиаплоскости для сигнальных тестов: чанки
// печатаются в журнал, подтверждение доставки имитируется немедленно
type echoTransport struct {
	mu      sync.Mutex
	opened  bool
	handler msrp.EventHandler
}

func newEchoTransport() *echoTransport {
	return &echoTransport{}
}

func (t *echoTransport) Open(ctx context.Context, role msrp.Role, local, remote msrp.Endpoint) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened = true
	log.Printf("Медиатранспорт открыт: роль %s, удаленная точка %s:%d", role, remote.Host, remote.Port)
	return nil
}

func (t *echoTransport) SendChunk(messageID, mimeType string, data []byte, chunkType msrp.ChunkType) error {
	log.Printf("Чанк %s (%s, %d байт): %s", messageID, mimeType, len(data), chunkType)
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil && chunkType == msrp.ChunkTextMessage {
		go handler.DataTransferred(messageID)
	}
	return nil
}

func (t *echoTransport) SendEmptyChunk() error {
	log.Printf("Пустой чанк для прохождения NAT")
	return nil
}

func (t *echoTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened = false
	log.Printf("Медиатранспорт закрыт")
	return nil
}
