package chat

import (
	"context"
	"fmt"

	"github.com/emiago/sipgo/sip"

	"github.com/arzzra/rcs_stack/pkg/dialog"
)

// AddParticipant добавляет участника в групповую сессию запросом REFER
// в рамках существующего диалога. Challenge 407 повторяется ровно один
// раз с учетными данными; любой другой неуспешный финальный ответ
// публикуется как отказ добавления с причиной от пира.
func (s *Session) AddParticipant(ctx context.Context, participant string) error {
	if !s.variant.IsGroup() {
		return dialog.NewChatError(dialog.ErrUnexpectedException, "not a group session")
	}

	result, err := s.path.SendRefer(ctx, s.cfg.Transport, s.auth(), func() *sip.Request {
		return s.path.BuildRefer(participant)
	})
	if err != nil {
		return err
	}
	s.handleReferResult(participant, result)
	return nil
}

// AddParticipants добавляет список участников одним REFER с телом
// resource-lists
func (s *Session) AddParticipants(ctx context.Context, participants []string) error {
	if !s.variant.IsGroup() {
		return dialog.NewChatError(dialog.ErrUnexpectedException, "not a group session")
	}
	if len(participants) == 0 {
		return nil
	}

	result, err := s.path.SendRefer(ctx, s.cfg.Transport, s.auth(), func() *sip.Request {
		return s.path.BuildReferList(participants)
	})
	if err != nil {
		return err
	}
	for _, p := range participants {
		s.handleReferResult(p, result)
	}
	return nil
}

func (s *Session) handleReferResult(participant string, result dialog.ReferResult) {
	if result.Accepted() {
		s.mu.Lock()
		s.participants = append(s.participants, participant)
		s.mu.Unlock()
		s.bus.emit(Event{Type: EventParticipantAdded, SessionID: s.id, Participant: participant})
		return
	}
	s.logger.Warn("добавление участника отклонено",
		dialog.F("participant", participant),
		dialog.F("status", result.StatusCode), dialog.F("reason", result.Reason))
	s.bus.emit(Event{
		Type:        EventParticipantAddFailed,
		SessionID:   s.id,
		Participant: participant,
		PeerReason:  fmt.Sprintf("%d %s", result.StatusCode, result.Reason),
	})
}

func (s *Session) auth() dialog.Authorizer {
	if s.cfg.Auth != nil {
		return s.cfg.Auth
	}
	return dialog.NoAuth{}
}

// sweepMissingParticipants фоновая сверка участников после
// установления: участники беседы из хранилища, не попавшие в
// приглашение, добавляются заново. Задача живет внутри контекста
// сессии и гасится вместе с ним.
func (s *Session) sweepMissingParticipants(ctx context.Context) {
	if s.cfg.Store == nil {
		return
	}
	invited := make(map[string]struct{}, len(s.cfg.Participants))
	for _, p := range s.cfg.Participants {
		invited[p] = struct{}{}
	}

	go func() {
		known := s.cfg.Store.ConnectedParticipants(s.contributionID)
		var missing []string
		for _, p := range known {
			if _, ok := invited[p]; !ok {
				missing = append(missing, p)
			}
		}
		if len(missing) == 0 {
			return
		}
		if ctx.Err() != nil {
			return
		}
		s.logger.Debug("добавление отсутствующих участников", dialog.F("count", len(missing)))
		if err := s.AddParticipants(ctx, missing); err != nil {
			s.logger.Warn("сверка участников не удалась", dialog.F("error", err.Error()))
		}
	}()
}
