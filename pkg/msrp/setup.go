package msrp

// OfferSetup выбирает значение атрибута setup для исходящего
// предложения. Сторона за NAT предлагает только активную роль, иначе
// выбор оставляется отвечающему.
func OfferSetup(behindNAT bool) string {
	if behindNAT {
		return "active"
	}
	return "actpass"
}

// AnswerSetup выбирает локальную роль в ответ на setup удаленного
// предложения: роли всегда противоположны. На actpass сторона за NAT
// берет активную роль.
func AnswerSetup(remoteSetup string, behindNAT bool) string {
	switch remoteSetup {
	case "active":
		return "passive"
	case "passive":
		return "active"
	default: // actpass или отсутствие атрибута
		if behindNAT {
			return "active"
		}
		return "passive"
	}
}

// RoleFromSetup переводит локальное значение setup в роль транспорта
func RoleFromSetup(setup string) Role {
	if setup == "active" {
		return RoleActive
	}
	return RolePassive
}

// PortForSetup возвращает порт для публикации в SDP: активная роль
// публикует сентинел 9, реальный порт не резервируется
func PortForSetup(setup string, localPort int) int {
	if setup == "active" {
		return ActivePortSentinel
	}
	return localPort
}
