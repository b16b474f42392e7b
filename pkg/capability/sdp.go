package capability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// BuildCapabilitySDP строит SDP с локально поддерживаемыми кодеками и
// форматами для обмена возможностями.
//
// Секция m=video публикуется только когда video share разрешен и класс
// сети не ниже 3G. Секция m=message объединяет форматы изображений и,
// при поддержке геолокации, ее кодировку. Когда предложить нечего,
// возвращается пустая строка без ошибки.
func BuildCapabilitySDP(localIP string, caps Capabilities, network NetworkClass, reg Registry) (string, error) {
	video := caps.VideoShare && network >= Network3G
	image := caps.ImageShare
	geoloc := caps.GeolocationPush

	if !video && !image && !geoloc {
		return "", nil
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: localIP,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: localIP},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	if video {
		for _, codec := range reg.VideoCodecs {
			media := &sdp.MediaDescription{
				MediaName: sdp.MediaName{
					Media:   "video",
					Port:    sdp.RangedPort{Value: 0},
					Protos:  []string{"RTP", "AVP"},
					Formats: []string{strconv.Itoa(int(codec.Payload))},
				},
				Attributes: []sdp.Attribute{
					{Key: "rtpmap", Value: fmt.Sprintf("%d %s/%d", codec.Payload, codec.Name, codec.ClockRate)},
				},
			}
			desc.MediaDescriptions = append(desc.MediaDescriptions, media)
		}
	}

	if image || geoloc {
		var formats []string
		if image {
			formats = append(formats, reg.ImageFormats...)
		}
		if geoloc {
			formats = append(formats, GeolocEncoding)
		}

		media := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   "message",
				Port:    sdp.RangedPort{Value: 0},
				Protos:  []string{"TCP", "MSRP"},
				Formats: []string{"*"},
			},
			Attributes: []sdp.Attribute{
				{Key: "accept-types", Value: strings.Join(formats, " ")},
			},
		}
		if reg.MaxImageShareSize > 0 {
			media.Attributes = append(media.Attributes, sdp.Attribute{
				Key:   "max-size",
				Value: strconv.Itoa(reg.MaxImageShareSize),
			})
		}
		desc.MediaDescriptions = append(desc.MediaDescriptions, media)
	}

	data, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal capability SDP: %w", err)
	}
	return string(data), nil
}
