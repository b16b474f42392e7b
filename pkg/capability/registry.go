package capability

import "strings"

// GeolocEncoding MIME тип документа геолокации
const GeolocEncoding = "application/vnd.gsma.rcspushlocation+xml"

// VideoCodec описание видеокодека для capability SDP
type VideoCodec struct {
	Payload   uint8
	Name      string
	ClockRate int
}

// Registry локальные реестры поддерживаемых кодеков и форматов.
// Используется при пересечении с предложением удаленной стороны.
type Registry struct {
	VideoCodecs []VideoCodec
	// ImageFormats поддерживаемые MIME типы передачи изображений
	ImageFormats []string
	// MaxImageShareSize максимальный размер изображения в байтах,
	// публикуется в capability SDP как a=max-size
	MaxImageShareSize int
}

// DefaultRegistry реестр по умолчанию
func DefaultRegistry() Registry {
	return Registry{
		VideoCodecs: []VideoCodec{
			{Payload: 96, Name: "H263-2000", ClockRate: 90000},
			{Payload: 97, Name: "H264", ClockRate: 90000},
		},
		ImageFormats: []string{
			"image/jpeg",
			"image/png",
			"image/gif",
			"image/bmp",
		},
		MaxImageShareSize: 1024 * 1024,
	}
}

// IsCodecSupported проверяет наличие кодека в реестре (без учета регистра)
func (r Registry) IsCodecSupported(name string) bool {
	for _, c := range r.VideoCodecs {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// IsFormatSupported проверяет поддержку MIME типа (без учета регистра)
func (r Registry) IsFormatSupported(mime string) bool {
	for _, f := range r.ImageFormats {
		if strings.EqualFold(f, mime) {
			return true
		}
	}
	return false
}
