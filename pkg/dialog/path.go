package dialog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
)

// State состояние диалогового пути
type State int

const (
	// StateInitial диалог создан, приглашение еще не подтверждено
	StateInitial State = iota
	// StateSignalingEstablished отправлен/получен финальный 2xx ответ,
	// ожидается подтверждение (ACK)
	StateSignalingEstablished
	// StateSessionEstablished сессия установлена (ACK получен/отправлен)
	StateSessionEstablished
	// StateCancelled приглашение отменено до установления сессии (терминальное)
	StateCancelled
	// StateTerminated диалог завершен (терминальное)
	StateTerminated
)

var stateNames = map[State]string{
	StateInitial:              "Initial",
	StateSignalingEstablished: "SignalingEstablished",
	StateSessionEstablished:   "SessionEstablished",
	StateCancelled:            "Cancelled",
	StateTerminated:           "Terminated",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// имена событий FSM
const (
	evSigEstablished     = "sig_established"
	evSessionEstablished = "session_established"
	evCancel             = "cancel"
	evTerminate          = "terminate"
)

// Body контент тела сообщения с MIME типом
type Body struct {
	ContentType string
	Content     []byte
}

// StateChangeHandler обработчик смены состояния диалога
type StateChangeHandler func(old, new State)

// DialogPath транзакционное состояние одной сигнальной сессии.
//
// Содержит идентификаторы диалога, счетчик последовательности CSeq,
// набор маршрутов и согласованный локальный/удаленный контент.
// Мутации защищены мьютексом: инкременты CSeq конкурирующих REFER
// операций на одном диалоге сериализуются.
type DialogPath struct {
	mu sync.Mutex

	callID    string
	localTag  string
	remoteTag string

	// cseq увеличивается ровно на 1 при каждом запросе в рамках
	// диалога и никогда не сбрасывается
	cseq uint32

	target      sip.Uri
	localParty  sip.Uri
	remoteParty sip.Uri
	routeSet    []sip.Uri

	localContent  *Body
	remoteContent *Body

	// Сохраненный INVITE запрос (для терминирующей стороны)
	invite *sip.Request

	sm                 *fsm.FSM
	stateChangeHandler StateChangeHandler

	createdAt time.Time
}

// PathConfig параметры создания диалогового пути
type PathConfig struct {
	CallID      string
	Target      sip.Uri
	LocalParty  sip.Uri
	RemoteParty sip.Uri
	RouteSet    []sip.Uri
	// InitialCSeq начальное значение счетчика; первый запрос будет
	// отправлен с этим номером
	InitialCSeq uint32
}

// NewDialogPath создает диалоговый путь в состоянии Initial
func NewDialogPath(cfg PathConfig) *DialogPath {
	cseq := cfg.InitialCSeq
	if cseq == 0 {
		cseq = 1
	}
	p := &DialogPath{
		callID:      cfg.CallID,
		localTag:    GenerateTag(),
		cseq:        cseq,
		target:      cfg.Target,
		localParty:  cfg.LocalParty,
		remoteParty: cfg.RemoteParty,
		routeSet:    append([]sip.Uri(nil), cfg.RouteSet...),
		createdAt:   time.Now(),
	}
	p.initStateMachine()
	return p
}

// NewDialogPathFromInvite создает диалоговый путь терминирующей стороны
// из принятого INVITE запроса
func NewDialogPathFromInvite(invite *sip.Request) (*DialogPath, error) {
	if invite == nil {
		return nil, fmt.Errorf("nil INVITE request")
	}
	callIDHdr := invite.CallID()
	if callIDHdr == nil {
		return nil, fmt.Errorf("INVITE without Call-ID")
	}
	from := invite.From()
	to := invite.To()
	if from == nil || to == nil {
		return nil, fmt.Errorf("INVITE without From/To")
	}
	cseqHdr := invite.CSeq()
	if cseqHdr == nil {
		return nil, fmt.Errorf("INVITE without CSeq")
	}

	p := &DialogPath{
		callID:      callIDHdr.Value(),
		localTag:    GenerateTag(),
		cseq:        cseqHdr.SeqNo,
		target:      from.Address,
		localParty:  to.Address,
		remoteParty: from.Address,
		invite:      invite,
		createdAt:   time.Now(),
	}
	p.remoteTag, _ = from.Params.Get("tag")
	if ct := invite.ContentType(); ct != nil && len(invite.Body()) > 0 {
		p.remoteContent = &Body{ContentType: ct.Value(), Content: invite.Body()}
	}
	p.initStateMachine()
	return p, nil
}

func (p *DialogPath) initStateMachine() {
	p.sm = fsm.NewFSM(
		stateNames[StateInitial],
		fsm.Events{
			{Name: evSigEstablished, Src: []string{stateNames[StateInitial]}, Dst: stateNames[StateSignalingEstablished]},
			{Name: evSessionEstablished, Src: []string{stateNames[StateSignalingEstablished]}, Dst: stateNames[StateSessionEstablished]},
			{Name: evCancel, Src: []string{stateNames[StateInitial], stateNames[StateSignalingEstablished]}, Dst: stateNames[StateCancelled]},
			{Name: evTerminate, Src: []string{stateNames[StateInitial], stateNames[StateSignalingEstablished], stateNames[StateSessionEstablished]}, Dst: stateNames[StateTerminated]},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				p.handleStateChange(e)
			},
		},
	)
}

func (p *DialogPath) handleStateChange(e *fsm.Event) {
	handler := p.stateChangeHandler
	if handler != nil {
		handler(parseState(e.Src), parseState(e.Dst))
	}
}

func parseState(name string) State {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return StateInitial
}

// OnStateChange устанавливает обработчик смены состояния
func (p *DialogPath) OnStateChange(handler StateChangeHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stateChangeHandler = handler
}

// State возвращает текущее состояние диалога
func (p *DialogPath) State() State {
	return parseState(p.sm.Current())
}

// CallID возвращает Call-ID диалога
func (p *DialogPath) CallID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callID
}

// LocalTag возвращает локальный тег
func (p *DialogPath) LocalTag() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.localTag
}

// RemoteTag возвращает удаленный тег
func (p *DialogPath) RemoteTag() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteTag
}

// SetRemoteTag фиксирует тег удаленной стороны из ответа
func (p *DialogPath) SetRemoteTag(tag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if tag != "" {
		p.remoteTag = tag
	}
}

// Target возвращает URI назначения
func (p *DialogPath) Target() sip.Uri {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// LocalParty возвращает локальный URI
func (p *DialogPath) LocalParty() sip.Uri {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.localParty
}

// RemoteParty возвращает удаленный URI
func (p *DialogPath) RemoteParty() sip.Uri {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteParty
}

// RouteSet возвращает набор маршрутов
func (p *DialogPath) RouteSet() []sip.Uri {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sip.Uri(nil), p.routeSet...)
}

// CSeq возвращает текущее значение счетчика последовательности
func (p *DialogPath) CSeq() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cseq
}

// NextCSeq атомарно увеличивает счетчик и возвращает новое значение.
// Используется при повторных запросах в рамках диалога (REFER, BYE).
func (p *DialogPath) NextCSeq() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cseq++
	return p.cseq
}

// LocalContent возвращает локальный согласованный контент
func (p *DialogPath) LocalContent() *Body {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.localContent
}

// SetLocalContent устанавливает локальный контент (SDP или multipart)
func (p *DialogPath) SetLocalContent(b *Body) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.localContent = b
}

// RemoteContent возвращает удаленный согласованный контент
func (p *DialogPath) RemoteContent() *Body {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteContent
}

// SetRemoteContent устанавливает удаленный контент из ответа пира
func (p *DialogPath) SetRemoteContent(b *Body) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remoteContent = b
}

// Invite возвращает сохраненный INVITE запрос
func (p *DialogPath) Invite() *sip.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invite
}

// SetInvite сохраняет исходный INVITE запрос
func (p *DialogPath) SetInvite(req *sip.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invite = req
}

// SigEstablished переводит диалог в SignalingEstablished
func (p *DialogPath) SigEstablished() error {
	return p.sm.Event(context.Background(), evSigEstablished)
}

// SessionEstablished переводит диалог в SessionEstablished
func (p *DialogPath) SessionEstablished() error {
	return p.sm.Event(context.Background(), evSessionEstablished)
}

// Cancel переводит диалог в терминальное состояние Cancelled.
// Допустим только до установления сессии.
func (p *DialogPath) Cancel() error {
	return p.sm.Event(context.Background(), evCancel)
}

// Terminate переводит диалог в терминальное состояние Terminated
func (p *DialogPath) Terminate() error {
	if p.State() == StateTerminated || p.State() == StateCancelled {
		return nil
	}
	return p.sm.Event(context.Background(), evTerminate)
}

// IsTerminal сообщает, что диалог находится в терминальном состоянии
func (p *DialogPath) IsTerminal() bool {
	s := p.State()
	return s == StateTerminated || s == StateCancelled
}

// IsSessionEstablished сообщает, что сессия установлена
func (p *DialogPath) IsSessionEstablished() bool {
	return p.State() == StateSessionEstablished
}

// CreatedAt возвращает время создания диалога
func (p *DialogPath) CreatedAt() time.Time {
	return p.createdAt
}

// Fork создает новый диалоговый путь вне текущего диалога для
// out-of-dialog REFER: та же адресация, свежий Call-ID и счетчик.
// Родительский диалог не изменяется.
func (p *DialogPath) Fork() *DialogPath {
	p.mu.Lock()
	defer p.mu.Unlock()
	return NewDialogPath(PathConfig{
		CallID:      GenerateCallID(),
		Target:      p.target,
		LocalParty:  p.localParty,
		RemoteParty: p.remoteParty,
		RouteSet:    append([]sip.Uri(nil), p.routeSet...),
		InitialCSeq: 1,
	})
}

// BuildRequest создает запрос указанного метода с заголовками диалога.
// Счетчик CSeq увеличивается на 1 для каждого нового запроса.
func (p *DialogPath) BuildRequest(method sip.RequestMethod) *sip.Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cseq++
	return p.buildRequestLocked(method, p.cseq)
}

// BuildInitialRequest создает первый запрос диалога (INVITE) без
// инкремента счетчика: он отправляется с начальным значением CSeq.
func (p *DialogPath) BuildInitialRequest(method sip.RequestMethod) *sip.Request {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.buildRequestLocked(method, p.cseq)
}

func (p *DialogPath) buildRequestLocked(method sip.RequestMethod, seqNo uint32) *sip.Request {
	req := sip.NewRequest(method, p.target)

	from := &sip.FromHeader{
		Address: p.localParty,
		Params:  sip.NewParams(),
	}
	from.Params = from.Params.Add("tag", p.localTag)
	req.AppendHeader(from)

	to := &sip.ToHeader{
		Address: p.remoteParty,
		Params:  sip.NewParams(),
	}
	if p.remoteTag != "" {
		to.Params = to.Params.Add("tag", p.remoteTag)
	}
	req.AppendHeader(to)

	callID := sip.CallIDHeader(p.callID)
	req.AppendHeader(&callID)

	req.AppendHeader(&sip.CSeqHeader{
		SeqNo:      seqNo,
		MethodName: method,
	})

	for _, route := range p.routeSet {
		req.AppendHeader(&sip.RouteHeader{Address: route})
	}

	return req
}
