package capability

import (
	"fmt"
	"strings"
)

// Feature теги обмена возможностями. Сервисы RCS-e агрегируются в один
// составной тег TagComposite со списком субидентификаторов; остальные
// теги публикуются индивидуально.
const (
	// TagComposite составной тег со списком RCS-e сервисов
	TagComposite = "+g.3gpp.iari-ref"
	// TagOMAIM тег OMA IM: подразумевает чат и передачу файлов сразу
	TagOMAIM = "+g.oma.sip-im"
	// TagVideoShare индивидуальный тег video share
	TagVideoShare = "+g.3gpp.cs-voice"

	// Субидентификаторы составного тега
	TagChat                  = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcse.im"
	TagFileTransfer          = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcse.ft"
	TagFileTransferHTTP      = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcse.fthttp"
	TagImageShare            = "urn%3Aurn-7%3A3gpp-application.ims.iari.gsma-is"
	TagPresenceDiscovery     = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcse.dp"
	TagSocialPresence        = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcse.sp"
	TagGeolocationPush       = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.geopush"
	TagFTThumbnail           = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.ftthumb"
	TagFTStoreForward        = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.ftstandfw"
	TagGroupChatStoreForward = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcs.fullsfgroupchat"

	// TagExtensionPrefix префикс субидентификаторов RCS расширений
	TagExtensionPrefix = "urn%3Aurn-7%3A3gpp-application.ims.iari.rcse.ext"

	// Теги IP звонков: возможность IP voice call подтверждается только
	// парой тегов из двух разных пространств имен
	TagIPVoiceCallRCSE = "+g.gsma.rcs.ipcall"
	TagIPVoiceCall3GPP = `+g.3gpp.icsi-ref="urn%3Aurn-7%3A3gpp-service.ims.icsi.mmtel"`
	TagIPVideoCall     = "+g.gsma.rcs.ipvideocall"

	// TagSIPAutomata тег автоматического агента (не человек)
	TagSIPAutomata = "+sip.automata"
)

// BuildFeatureTags строит упорядоченный список feature тегов по локальным
// возможностям и классу сети. Video share публикуется только при доступе
// не ниже 3G. Сервисы RCS-e собираются в составной тег.
func BuildFeatureTags(caps Capabilities, network NetworkClass) []string {
	var tags []string

	if caps.VideoShare && network >= Network3G {
		tags = append(tags, TagVideoShare)
	}

	var composite []string
	if caps.Chat {
		composite = append(composite, TagChat)
	}
	if caps.FileTransfer {
		composite = append(composite, TagFileTransfer)
	}
	if caps.FileTransferHTTP {
		composite = append(composite, TagFileTransferHTTP)
	}
	if caps.ImageShare {
		composite = append(composite, TagImageShare)
	}
	if caps.PresenceDiscovery {
		composite = append(composite, TagPresenceDiscovery)
	}
	if caps.SocialPresence {
		composite = append(composite, TagSocialPresence)
	}
	if caps.GeolocationPush {
		composite = append(composite, TagGeolocationPush)
	}
	if caps.FileTransferThumbnail {
		composite = append(composite, TagFTThumbnail)
	}
	if caps.FileTransferStoreForward {
		composite = append(composite, TagFTStoreForward)
	}
	if caps.GroupChatStoreForward {
		composite = append(composite, TagGroupChatStoreForward)
	}

	if caps.IPVoiceCall {
		tags = append(tags, TagIPVoiceCallRCSE, TagIPVoiceCall3GPP)
	}
	if caps.IPVideoCall {
		tags = append(tags, TagIPVideoCall)
	}
	if caps.SIPAutomata {
		tags = append(tags, TagSIPAutomata)
	}

	composite = append(composite, caps.Extensions...)
	if len(composite) > 0 {
		tags = append(tags, fmt.Sprintf("%s=%q", TagComposite, strings.Join(composite, ",")))
	}

	return tags
}

// SplitFeatureTags раскрывает составные теги: для тега вида
// +g.3gpp.iari-ref="a,b" в список попадают сам тег и каждый
// субидентификатор отдельно.
func SplitFeatureTags(tags []string) []string {
	var out []string
	for _, tag := range tags {
		out = append(out, tag)
		if !strings.HasPrefix(tag, TagComposite+"=") {
			continue
		}
		value := strings.TrimPrefix(tag, TagComposite+"=")
		value = strings.Trim(value, `"`)
		for _, sub := range strings.Split(value, ",") {
			if sub = strings.TrimSpace(sub); sub != "" {
				out = append(out, sub)
			}
		}
	}
	return out
}
