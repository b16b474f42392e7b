package capability

import (
	"strings"

	"github.com/pion/sdp/v3"
)

// ExtractCapabilities извлекает возможности удаленной стороны из списка
// feature тегов и, при наличии, из SDP тела. Принимает теги в том виде,
// в каком они пришли в заголовке: составные теги раскрываются на
// субидентификаторы внутри, отдельно вызывать SplitFeatureTags не нужно.
//
// Теги распознаются поиском подстроки: каждый распознанный тег ставит
// ровно один флаг. Возможность IP voice call подтверждается только когда
// в списке встретились оба тега разных пространств имен, в любом порядке;
// одиночный тег флаг не ставит. Идентификаторы расширений захватываются
// дословно по своему префиксу.
//
// SDP тело, если присутствует, пересекает предложение пира с локальными
// реестрами: video share снимается, когда ни один заявленный видеокодек
// не поддержан локально; image share снимается, когда не поддержан ни
// один заявленный формат.
func ExtractCapabilities(tags []string, sdpBody []byte, reg Registry) Capabilities {
	var caps Capabilities
	var ipCallRCSE, ipCall3GPP bool

	for _, tag := range SplitFeatureTags(tags) {
		switch {
		case strings.Contains(tag, TagVideoShare):
			caps.VideoShare = true
		case strings.Contains(tag, TagImageShare):
			caps.ImageShare = true
		case strings.Contains(tag, TagFileTransferHTTP):
			caps.FileTransferHTTP = true
		case strings.Contains(tag, TagFTThumbnail):
			caps.FileTransferThumbnail = true
		case strings.Contains(tag, TagFTStoreForward):
			caps.FileTransferStoreForward = true
		case strings.Contains(tag, TagGroupChatStoreForward):
			caps.GroupChatStoreForward = true
		case strings.Contains(tag, TagChat):
			caps.Chat = true
		case strings.Contains(tag, TagFileTransfer):
			caps.FileTransfer = true
		case strings.Contains(tag, TagOMAIM):
			// OMA IM подразумевает и чат, и передачу файлов
			caps.Chat = true
			caps.FileTransfer = true
		case strings.Contains(tag, TagPresenceDiscovery):
			caps.PresenceDiscovery = true
		case strings.Contains(tag, TagSocialPresence):
			caps.SocialPresence = true
		case strings.Contains(tag, TagGeolocationPush):
			caps.GeolocationPush = true
		case strings.Contains(tag, TagIPVideoCall):
			caps.IPVideoCall = true
		case strings.Contains(tag, TagIPVoiceCallRCSE):
			if ipCall3GPP {
				caps.IPVoiceCall = true
			}
			ipCallRCSE = true
		case strings.Contains(tag, TagIPVoiceCall3GPP):
			if ipCallRCSE {
				caps.IPVoiceCall = true
			}
			ipCall3GPP = true
		case strings.HasPrefix(tag, TagExtensionPrefix):
			if !caps.HasExtension(tag) {
				caps.Extensions = append(caps.Extensions, tag)
			}
		case strings.Contains(tag, TagSIPAutomata):
			caps.SIPAutomata = true
		}
	}

	if len(sdpBody) > 0 {
		intersectSDP(&caps, sdpBody, reg)
	}

	return caps
}

// intersectSDP снимает флаги video/image share, когда пересечение
// предложения пира с локальными реестрами пусто
func intersectSDP(caps *Capabilities, sdpBody []byte, reg Registry) {
	desc := &sdp.SessionDescription{}
	if err := desc.UnmarshalString(string(sdpBody)); err != nil {
		// Некорректный SDP не трогает флаги из тегов
		return
	}

	var videoCodecs, imageFormats []string
	for _, md := range desc.MediaDescriptions {
		switch md.MediaName.Media {
		case "video":
			for _, attr := range md.Attributes {
				if attr.Key != "rtpmap" {
					continue
				}
				codec := parseRtpmapCodec(attr.Value)
				if codec != "" && reg.IsCodecSupported(codec) {
					videoCodecs = append(videoCodecs, codec)
				}
			}
		case "message":
			for _, attr := range md.Attributes {
				if attr.Key != "accept-types" {
					continue
				}
				for _, fmtType := range strings.Fields(attr.Value) {
					if reg.IsFormatSupported(fmtType) {
						imageFormats = append(imageFormats, fmtType)
					}
				}
			}
		}
	}

	// Нет общего кодека или формата между сторонами
	if len(videoCodecs) == 0 {
		caps.VideoShare = false
	}
	if len(imageFormats) == 0 {
		caps.ImageShare = false
	}
}

// parseRtpmapCodec выделяет имя кодека из значения rtpmap вида
// "96 H263-2000/90000"
func parseRtpmapCodec(value string) string {
	fields := strings.Fields(value)
	if len(fields) < 2 {
		return ""
	}
	encoding := fields[1]
	if idx := strings.Index(encoding, "/"); idx != -1 {
		encoding = encoding[:idx]
	}
	return strings.ToLower(strings.TrimSpace(encoding))
}
