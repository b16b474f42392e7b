package msrp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// ChatSDPOpts параметры SDP секции чата
type ChatSDPOpts struct {
	LocalIP string
	// Port публикуемый порт; для активной роли передается
	// ActivePortSentinel
	Port int
	// Path локальный path URI транспорта
	Path string
	// Setup значение атрибута setup (active/passive/actpass)
	Setup string
	// AcceptTypes принимаемые MIME типы чанков
	AcceptTypes []string
	// WrappedTypes принимаемые типы внутри конверта
	WrappedTypes []string
	// Direction направление потока (sendrecv/sendonly/recvonly)
	Direction string
}

// BuildChatSDP строит SDP с единственной секцией m=message для сессии
// чата: путь транспорта, роль setup и принимаемые типы.
func BuildChatSDP(opts ChatSDPOpts) (string, error) {
	if opts.Path == "" {
		return "", fmt.Errorf("chat SDP requires transport path")
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: opts.LocalIP,
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: opts.LocalIP},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "message",
			Port:    sdp.RangedPort{Value: opts.Port},
			Protos:  []string{"TCP", "MSRP"},
			Formats: []string{"*"},
		},
	}
	if len(opts.AcceptTypes) > 0 {
		media.Attributes = append(media.Attributes, sdp.Attribute{
			Key: "accept-types", Value: strings.Join(opts.AcceptTypes, " "),
		})
	}
	if len(opts.WrappedTypes) > 0 {
		media.Attributes = append(media.Attributes, sdp.Attribute{
			Key: "accept-wrapped-types", Value: strings.Join(opts.WrappedTypes, " "),
		})
	}
	if opts.Setup != "" {
		media.Attributes = append(media.Attributes, sdp.Attribute{Key: "setup", Value: opts.Setup})
	}
	media.Attributes = append(media.Attributes, sdp.Attribute{Key: "path", Value: opts.Path})
	if opts.Direction != "" {
		media.Attributes = append(media.Attributes, sdp.Attribute{Key: opts.Direction})
	}
	desc.MediaDescriptions = append(desc.MediaDescriptions, media)

	data, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal chat SDP: %w", err)
	}
	return string(data), nil
}

// RemoteOffer разобранное предложение удаленной стороны
type RemoteOffer struct {
	Endpoint     Endpoint
	Setup        string
	AcceptTypes  []string
	WrappedTypes []string
}

// ParseRemoteOffer извлекает параметры транспорта из SDP удаленной
// стороны: адрес, порт, path, setup и принимаемые типы. Отсутствующий
// атрибут setup трактуется как passive.
func ParseRemoteOffer(sdpBody []byte) (*RemoteOffer, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.UnmarshalString(string(sdpBody)); err != nil {
		return nil, fmt.Errorf("parse remote SDP: %w", err)
	}

	var media *sdp.MediaDescription
	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media == "message" {
			media = md
			break
		}
	}
	if media == nil {
		return nil, fmt.Errorf("remote SDP has no message media")
	}

	offer := &RemoteOffer{Setup: "passive"}
	offer.Endpoint.Port = media.MediaName.Port.Value

	if media.ConnectionInformation != nil && media.ConnectionInformation.Address != nil {
		offer.Endpoint.Host = media.ConnectionInformation.Address.Address
	} else if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		offer.Endpoint.Host = desc.ConnectionInformation.Address.Address
	}

	for _, attr := range media.Attributes {
		switch attr.Key {
		case "path":
			offer.Endpoint.Path = attr.Value
		case "setup":
			offer.Setup = attr.Value
		case "accept-types":
			offer.AcceptTypes = strings.Fields(attr.Value)
		case "accept-wrapped-types":
			offer.WrappedTypes = strings.Fields(attr.Value)
		}
	}

	if offer.Endpoint.Path == "" {
		return nil, fmt.Errorf("remote SDP has no path attribute")
	}
	return offer, nil
}
