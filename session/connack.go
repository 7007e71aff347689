package session

import (
	"bytes"

	"github.com/glowmq/broker/codec/mqtt"
)

// ServerCapabilities carries the broker-wide values a CONNACK reports that
// do not live on a per-connection SessionConfig: the values are fixed by
// the broker's own configuration rather than negotiated per client.
type ServerCapabilities struct {
	MaximumQoS                    mqtt.QoS
	RetainAvailable               bool
	WildcardSubscriptionAvailable bool
	SubscriptionIDAvailable       bool
	SharedSubscriptionAvailable   bool
	MaximumPacketSize             uint32
	ServerKeepAlive               uint16 // 0 means "use the client's requested value"
	AssignedClientID              string // set only when the client sent an empty ClientID
}

// BuildConnack assembles a CONNACK packet reporting cfg's negotiated
// session alongside the broker's fixed capabilities, following the
// property set and fixed order spec.md's encoder section enumerates:
// session-expiry, receive-maximum, maximum-qos, retain-available,
// maximum-packet-size, assigned-client-id, then the optional properties.
// sessionPresent should be true only when clean-start was NOT honoured and
// prior session state was resumed - this implementation never resumes
// session state (see DESIGN.md), so callers pass false unless they have
// plugged in their own session persistence.
func BuildConnack(cfg *SessionConfig, caps ServerCapabilities, sessionPresent bool) *mqtt.ConnackPacket {
	pkt := &mqtt.ConnackPacket{
		FixedHeader:    mqtt.FixedHeader{Type: mqtt.CONNACK},
		SessionPresent: sessionPresent,
		ReasonCode:     mqtt.ReasonSuccess,
	}

	var props []mqtt.Property
	if cfg.SessionExpiryInterval != 0 {
		props = append(props, mqtt.Property{ID: mqtt.PropSessionExpiryInterval, Value: cfg.SessionExpiryInterval})
	}
	props = append(props, mqtt.Property{ID: mqtt.PropReceiveMaximum, Value: cfg.ReceiveMaximum})
	props = append(props, mqtt.Property{ID: mqtt.PropMaximumQoS, Value: byte(caps.MaximumQoS)})
	props = append(props, mqtt.Property{ID: mqtt.PropRetainAvailable, Value: boolByte(caps.RetainAvailable)})
	if caps.MaximumPacketSize != 0 {
		props = append(props, mqtt.Property{ID: mqtt.PropMaximumPacketSize, Value: caps.MaximumPacketSize})
	}
	if caps.AssignedClientID != "" {
		props = append(props, mqtt.Property{ID: mqtt.PropAssignedClientIdentifier, Value: caps.AssignedClientID})
	}
	if cfg.TopicAliasMaximum != 0 {
		props = append(props, mqtt.Property{ID: mqtt.PropTopicAliasMaximum, Value: cfg.TopicAliasMaximum})
	}
	props = append(props, mqtt.Property{ID: mqtt.PropWildcardSubscriptionAvailable, Value: boolByte(caps.WildcardSubscriptionAvailable)})
	props = append(props, mqtt.Property{ID: mqtt.PropSubscriptionIdentifierAvailable, Value: boolByte(caps.SubscriptionIDAvailable)})
	props = append(props, mqtt.Property{ID: mqtt.PropSharedSubscriptionAvailable, Value: boolByte(caps.SharedSubscriptionAvailable)})
	if caps.ServerKeepAlive != 0 {
		props = append(props, mqtt.Property{ID: mqtt.PropServerKeepAlive, Value: caps.ServerKeepAlive})
	}
	if cfg.AuthMethod != "" {
		props = append(props, mqtt.Property{ID: mqtt.PropAuthenticationMethod, Value: cfg.AuthMethod})
		if len(cfg.AuthData) > 0 {
			props = append(props, mqtt.Property{ID: mqtt.PropAuthenticationData, Value: cfg.AuthData})
		}
	}
	for _, up := range cfg.UserProperties {
		props = append(props, mqtt.Property{ID: mqtt.PropUserProperty, Value: up})
	}

	pkt.Properties = mqtt.Properties{Properties: props}
	return pkt
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// EncodeConnack encodes pkt's wire form into a fresh buffer and returns the
// encoded bytes. It wraps the packet's own Encode so broker
// code never has to reach into codec/mqtt's io.Writer-based API directly.
func EncodeConnack(pkt *mqtt.ConnackPacket) ([]byte, error) {
	var buf bytes.Buffer
	if err := pkt.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ShortFormConnack builds the 4-byte CONNACK used when a connection must
// be refused before a full SessionConfig exists to report properties
// against: control byte, remaining length 2, zero acknowledge flags, and
// the reason code. Per spec.md's error-handling design, this is only valid
// once the fixed header has already confirmed the packet is a well-formed
// CONNECT - any earlier failure closes the socket with no response at all.
func ShortFormConnack(reason mqtt.ReasonCode) []byte {
	return []byte{0x20, 0x02, 0x00, byte(reason)}
}
