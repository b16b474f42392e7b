package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_stack/pkg/cpim"
	"github.com/arzzra/rcs_stack/pkg/dialog"
	"github.com/arzzra/rcs_stack/pkg/fthttp"
	"github.com/arzzra/rcs_stack/pkg/geoloc"
	"github.com/arzzra/rcs_stack/pkg/imdn"
	"github.com/arzzra/rcs_stack/pkg/msrp"
)

// Variant вид сессии. Поведенческие различия вариантов сведены к
// ветвлению по тегу вместо глубокой иерархии типов.
type Variant int

const (
	// One2OneOriginating исходящая сессия один-на-один
	One2OneOriginating Variant = iota
	// One2OneTerminating входящая сессия один-на-один
	One2OneTerminating
	// GroupOriginating исходящая групповая сессия
	GroupOriginating
	// GroupTerminating входящая групповая сессия, возможно rejoin
	GroupTerminating
	// StoreForwardMessages входящая сессия отложенных сообщений
	StoreForwardMessages
	// StoreForwardNotifications входящая сессия отложенных отчетов
	StoreForwardNotifications
)

var variantNames = map[Variant]string{
	One2OneOriginating:        "One2OneOriginating",
	One2OneTerminating:        "One2OneTerminating",
	GroupOriginating:          "GroupOriginating",
	GroupTerminating:          "GroupTerminating",
	StoreForwardMessages:      "StoreForwardMessages",
	StoreForwardNotifications: "StoreForwardNotifications",
}

func (v Variant) String() string {
	if name, ok := variantNames[v]; ok {
		return name
	}
	return "Unknown"
}

// IsGroup групповая сессия
func (v Variant) IsGroup() bool {
	return v == GroupOriginating || v == GroupTerminating
}

// IsStoreAndForward сессия store-and-forward сервиса
func (v Variant) IsStoreAndForward() bool {
	return v == StoreForwardMessages || v == StoreForwardNotifications
}

// IsOriginating сессия инициирована локальной стороной
func (v Variant) IsOriginating() bool {
	return v == One2OneOriginating || v == GroupOriginating
}

// ReportFallback резервный путь отправки отчетов о доставке по
// сигнальному плану. Реализуется imdn.Sender.
type ReportFallback interface {
	SendDeliveryStatus(ctx context.Context, remote sip.Uri, messageID string, status imdn.Status) error
}

// SessionConfig зависимости и параметры сессии
type SessionConfig struct {
	Variant    Variant
	LocalParty sip.Uri
	Remote     sip.Uri
	// Participants начальный список участников (групповая сессия)
	Participants []string
	Subject      string
	// FirstMessage первое сообщение исходящей сессии
	FirstMessage string
	// FileTransferInfo документ описания файла; непустое значение
	// делает исходящее приглашение приглашением передачи файла
	FileTransferInfo []byte
	// FeatureTags теги возможностей для Contact заголовка
	FeatureTags []string

	LocalIP string
	// LocalMsrpPort локальный порт медиатранспорта (пассивная роль)
	LocalMsrpPort int

	Settings Settings

	Transport dialog.SignalingTransport
	Auth      dialog.Authorizer
	Msrp      msrp.Transport
	Contacts  ContactManager
	Store     MessageStore
	Registry  *Registry
	Fallback  ReportFallback
	Logger    dialog.StructuredLogger
}

// Session сессия обмена сообщениями: сигнальный диалог, медиатранспорт,
// учет доставки и события для потребителя.
type Session struct {
	id      string
	variant Variant
	cfg     SessionConfig

	path      *dialog.DialogPath
	tx        dialog.ServerTx
	msrpMgr   *msrp.Manager
	tracker   *imdn.Tracker
	composing *composingTracker
	activity  *activityManager
	bus       *eventBus
	logger    dialog.StructuredLogger

	contributionID string
	remoteContact  string
	acceptTypes    []string
	wrappedTypes   []string

	// firstInbound CPIM часть из multipart INVITE входящей сессии;
	// обрабатывается после установления
	firstInbound *dialog.Body

	// tasks очередь отложенной работы, порожденной обратными вызовами
	// медиатранспорта; сами вызовы не должны блокироваться
	tasks     chan func(context.Context)
	stopTasks context.CancelFunc

	mu             sync.Mutex
	participants   []string
	pendingReports map[string]pendingReport
	ftSlots        int
	answerCh       chan bool
	cancelRun      context.CancelFunc
	interrupted    atomic.Bool
	established    atomic.Bool
	finished       atomic.Bool
}

// NewOriginatingSession создает исходящую сессию. Сессия не начинает
// сигнализацию до вызова Start.
func NewOriginatingSession(cfg SessionConfig) *Session {
	callID := dialog.GenerateCallID()
	path := dialog.NewDialogPath(dialog.PathConfig{
		CallID:      callID,
		Target:      cfg.Remote,
		LocalParty:  cfg.LocalParty,
		RemoteParty: cfg.Remote,
	})
	s := newSession(cfg, path)
	s.contributionID = dialog.ContributionID(callID)
	return s
}

// NewTerminatingSession создает входящую сессию из принятого INVITE.
// tx серверная транзакция, в рамках которой будут отправлены ответы.
func NewTerminatingSession(cfg SessionConfig, invite *sip.Request, tx dialog.ServerTx) (*Session, error) {
	path, err := dialog.NewDialogPathFromInvite(invite)
	if err != nil {
		return nil, err
	}
	s := newSession(cfg, path)
	s.tx = tx

	if h := invite.GetHeader("Contribution-ID"); h != nil {
		s.contributionID = h.Value()
	} else {
		s.contributionID = dialog.ContributionID(path.CallID())
	}
	if h := invite.GetHeader("Subject"); h != nil {
		s.cfg.Subject = h.Value()
	}

	// Multipart INVITE: SDP часть становится удаленным контентом,
	// CPIM часть откладывается до установления сессии
	if remote := path.RemoteContent(); remote != nil && dialog.IsMultipart(remote.ContentType) {
		parts, err := dialog.ParseMultipartBody(*remote)
		if err != nil {
			return nil, err
		}
		if sdpPart, ok := dialog.FindPart(parts, "application/sdp"); ok {
			path.SetRemoteContent(&sdpPart)
		}
		if cpimPart, ok := dialog.FindPart(parts, cpim.MimeType); ok {
			s.firstInbound = &cpimPart
		}
	}
	return s, nil
}

func newSession(cfg SessionConfig, path *dialog.DialogPath) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = dialog.NoopLogger{}
	}
	logger = logger.WithComponent("chat").WithCallID(path.CallID())

	s := &Session{
		id:            dialog.GenerateMessageID(),
		variant:       cfg.Variant,
		cfg:           cfg,
		path:          path,
		tracker:       imdn.NewTracker(cfg.Store, logger),
		bus:           newEventBus(logger),
		logger:        logger,
		remoteContact: cfg.Remote.String(),
		participants:  append([]string(nil), cfg.Participants...),
		answerCh:      make(chan bool, 1),
		acceptTypes:   []string{cpim.MimeType, ComposingMimeType, "text/plain"},
		wrappedTypes: []string{
			"text/plain", ComposingMimeType, imdn.MimeType, geoloc.MimeType, fthttp.MimeType,
		},
	}
	s.msrpMgr = msrp.NewManager(cfg.LocalIP, cfg.LocalMsrpPort, cfg.Msrp, logger)
	s.composing = newComposingTracker(cfg.Settings.ComposingIdleTimeout, func(contact string, active bool) {
		s.bus.emit(Event{Type: EventComposing, SessionID: s.id,
			Composing: &ComposingState{Contact: contact, Active: active}})
	})
	s.activity = newActivityManager(cfg.Settings.InactivityTimeout, func() {
		s.abortSession(AbortByInactivity, "inactivity timeout")
	})

	s.tasks = make(chan func(context.Context), taskBufferSize)
	taskCtx, stop := context.WithCancel(context.Background())
	s.stopTasks = stop
	go s.taskLoop(taskCtx)
	return s
}

// размер очереди отложенной работы медиаплоскости
const taskBufferSize = 32

// enqueue ставит работу в очередь сессии. Вызывается из обратных
// вызовов медиатранспорта, поэтому никогда не блокируется: при
// переполненной очереди работа теряется с записью в журнал.
func (s *Session) enqueue(task func(context.Context)) {
	select {
	case s.tasks <- task:
	default:
		s.logger.Warn("очередь работы сессии переполнена, задача потеряна")
	}
}

func (s *Session) taskLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.tasks:
			task(ctx)
		}
	}
}

// ID идентификатор сессии
func (s *Session) ID() string { return s.id }

// Variant вид сессии
func (s *Session) Variant() Variant { return s.variant }

// ContributionID идентификатор беседы
func (s *Session) ContributionID() string { return s.contributionID }

// Subject тема сессии
func (s *Session) Subject() string { return s.cfg.Subject }

// RemoteContact адрес удаленной стороны
func (s *Session) RemoteContact() string { return s.remoteContact }

// Participants текущий список участников
func (s *Session) Participants() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.participants...)
}

// DialogPath сигнальный диалог сессии
func (s *Session) DialogPath() *dialog.DialogPath { return s.path }

// Events канал событий сессии
func (s *Session) Events() <-chan Event { return s.bus.events() }

// IsEstablished сессия установлена и медиаплоскость открыта
func (s *Session) IsEstablished() bool { return s.established.Load() }

// Start запускает обработку сессии в отдельной горутине
func (s *Session) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel
	if s.cfg.Registry != nil {
		s.cfg.Registry.Add(s)
	}
	go s.run(runCtx)
}

func (s *Session) run(ctx context.Context) {
	var err error
	if s.variant.IsOriginating() {
		err = s.runOriginating(ctx)
	} else {
		err = s.runTerminating(ctx)
	}
	if err != nil {
		// Отмена контекста или локальное завершение обрывают
		// обработку молча, но ресурсы транспорта освобождаются
		// в любом случае
		if ctx.Err() != nil || s.interrupted.Load() {
			s.cleanup()
			return
		}
		s.logger.Error("сессия не установлена", dialog.F("error", err.Error()))
		s.emitError(err)
		s.cleanup()
	}
}

// AcceptInvitation принимает входящее приглашение
func (s *Session) AcceptInvitation() {
	select {
	case s.answerCh <- true:
	default:
	}
}

// RejectInvitation отклоняет входящее приглашение
func (s *Session) RejectInvitation() {
	select {
	case s.answerCh <- false:
	default:
	}
}

// Terminate завершает сессию: BYE при установленном диалоге, CANCEL
// для исходящего приглашения без финального ответа, закрытие
// медиатранспорта и снятие с учета
func (s *Session) Terminate(ctx context.Context) error {
	if !s.finished.CompareAndSwap(false, true) {
		return nil
	}
	s.interrupted.Store(true)

	sigErr := s.endDialog(ctx)
	s.teardown()
	s.bus.emit(Event{Type: EventSessionTerminated, SessionID: s.id})
	return sigErr
}

// endDialog завершает сигнальный диалог запросом, соответствующим
// его состоянию
func (s *Session) endDialog(ctx context.Context) error {
	switch {
	case s.path.IsSessionEstablished():
		return s.path.SendBye(ctx, s.cfg.Transport)
	case s.variant.IsOriginating() && s.path.Invite() != nil:
		if err := s.path.SendCancel(ctx, s.cfg.Transport); err != nil {
			_ = s.path.Terminate()
			return err
		}
		return nil
	default:
		return s.path.Terminate()
	}
}

// TerminatedByRemote завершает сессию по входящему BYE удаленной
// стороны. Ответ на сам BYE отправляет сигнальный стек.
func (s *Session) TerminatedByRemote() {
	if !s.finished.CompareAndSwap(false, true) {
		return
	}
	s.interrupted.Store(true)
	_ = s.path.Terminate()
	s.teardown()
	s.bus.emit(Event{Type: EventSessionTerminated, SessionID: s.id})
}

// abortSession прерывает сессию изнутри (неактивность, ошибка медиа)
func (s *Session) abortSession(reason AbortReason, text string) {
	if !s.finished.CompareAndSwap(false, true) {
		return
	}
	s.interrupted.Store(true)
	s.logger.Warn("сессия прервана", dialog.F("reason", text))

	_ = s.endDialog(context.Background())
	s.teardown()
	s.bus.emit(Event{Type: EventSessionAborted, SessionID: s.id, Reason: reason, PeerReason: text})
}

// cleanup освобождает ресурсы без отправки событий завершения;
// используется на путях, где сессия так и не была установлена
func (s *Session) cleanup() {
	s.teardown()
}

func (s *Session) teardown() {
	s.activity.stop()
	s.composing.stop()
	_ = s.msrpMgr.Close()
	s.releaseFileTransferSlots()
	if s.cfg.Registry != nil {
		s.cfg.Registry.Remove(s)
	}
	if s.cancelRun != nil {
		s.cancelRun()
	}
	if s.stopTasks != nil {
		s.stopTasks()
	}
}

// CompleteFileTransfer освобождает место входящей передачи файла после
// ее завершения потребителем. Оставшиеся места освобождаются при
// завершении сессии.
func (s *Session) CompleteFileTransfer() {
	s.mu.Lock()
	held := s.ftSlots > 0
	if held {
		s.ftSlots--
	}
	s.mu.Unlock()
	if held && s.cfg.Registry != nil {
		s.cfg.Registry.ReleaseFileTransfer()
	}
}

func (s *Session) releaseFileTransferSlots() {
	s.mu.Lock()
	held := s.ftSlots
	s.ftSlots = 0
	s.mu.Unlock()
	if s.cfg.Registry == nil {
		return
	}
	for i := 0; i < held; i++ {
		s.cfg.Registry.ReleaseFileTransfer()
	}
}

// onEstablished общий хвост установления: запуск контроля активности,
// событие и обработка отложенной CPIM части из multipart INVITE
func (s *Session) onEstablished(ctx context.Context) {
	s.established.Store(true)
	s.activity.start()
	s.bus.emit(Event{Type: EventSessionStarted, SessionID: s.id})

	if s.firstInbound != nil {
		part := *s.firstInbound
		s.firstInbound = nil
		s.DataReceived(dialog.GenerateMessageID(), part.Content, part.ContentType)
	}

	if s.variant == GroupTerminating {
		s.sweepMissingParticipants(ctx)
	}
}

func (s *Session) emitError(err error) {
	s.bus.emit(Event{Type: EventError, SessionID: s.id, Err: err})
}

// inviteCarriesFileTransfer сообщает, что тело INVITE несет приглашение
// передачи файла по HTTP
func (s *Session) inviteCarriesFileTransfer() bool {
	if s.firstInbound == nil {
		return false
	}
	msg, err := cpim.Parse(s.firstInbound.Content)
	if err != nil {
		return false
	}
	return strings.EqualFold(msg.ContentType, fthttp.MimeType)
}
