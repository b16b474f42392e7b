package dialog

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/hex"

	"github.com/google/uuid"
)

// GenerateCallID генерирует уникальный Call-ID
func GenerateCallID() string {
	return uuid.NewString()
}

// GenerateTag генерирует тег диалога (from-tag/to-tag)
func GenerateTag() string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// rand.Read из crypto/rand не возвращает ошибку на поддерживаемых
		// платформах; ветка оставлена для полноты
		return uuid.NewString()[:16]
	}
	return hex.EncodeToString(buf)
}

// GenerateMessageID генерирует идентификатор сообщения для IMDN
func GenerateMessageID() string {
	return uuid.NewString()
}

// GenerateTransferID генерирует идентификатор HTTP загрузки (tid)
func GenerateTransferID() string {
	return uuid.NewString()
}

// ContributionID выводит стабильный идентификатор беседы из Call-ID.
// Один и тот же Call-ID всегда дает один и тот же contribution-id,
// что сохраняет идентичность беседы при повторных приглашениях.
func ContributionID(callID string) string {
	sum := sha1.Sum([]byte(callID))
	return hex.EncodeToString(sum[:])
}
