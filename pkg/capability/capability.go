package capability

// NetworkClass класс сетевого доступа. Часть сервисов (video share)
// требует доступ не ниже 3G.
type NetworkClass int

const (
	NetworkUnknown NetworkClass = iota
	Network2G
	Network3G
	Network3GPlus
	NetworkWiFi
)

var networkClassNames = map[NetworkClass]string{
	NetworkUnknown: "unknown",
	Network2G:      "2G",
	Network3G:      "3G",
	Network3GPlus:  "3G+",
	NetworkWiFi:    "WiFi",
}

func (n NetworkClass) String() string {
	if name, ok := networkClassNames[n]; ok {
		return name
	}
	return "unknown"
}

// Capabilities набор возможностей стороны обмена.
//
// Значение собирается целиком при построении или извлечении и далее не
// изменяется. Для обновления возможностей контакта создается новый набор.
type Capabilities struct {
	VideoShare               bool
	ImageShare               bool
	Chat                     bool
	FileTransfer             bool
	FileTransferHTTP         bool
	PresenceDiscovery        bool
	SocialPresence           bool
	GeolocationPush          bool
	FileTransferThumbnail    bool
	FileTransferStoreForward bool
	GroupChatStoreForward    bool
	IPVoiceCall              bool
	IPVideoCall              bool
	SIPAutomata              bool

	// Extensions идентификаторы RCS расширений, захваченные дословно
	Extensions []string
}

// HasExtension сообщает, заявлено ли расширение с данным идентификатором
func (c Capabilities) HasExtension(id string) bool {
	for _, ext := range c.Extensions {
		if ext == id {
			return true
		}
	}
	return false
}
