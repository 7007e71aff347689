package session

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/glowmq/broker/codec/mqtt"
)

// WillConfig holds the Will message fields accumulated from a CONNECT
// packet's Will properties and payload fields, before the Will is handed
// off to the broker for eventual publication.
type WillConfig struct {
	DelayInterval         uint32
	PayloadFormatIndicator byte
	MessageExpiryInterval uint32
	ContentType           string
	ResponseTopic         string
	CorrelationData       []byte
	UserProperties        []mqtt.UTF8Pair

	Topic   string
	Payload []byte
	QoS     mqtt.QoS
	Retain  bool
}

// SessionConfig holds the connect-time configuration negotiated for a
// client session: everything a CONNECT packet's properties and payload can
// set, applied incrementally as the packet is decoded. It does not carry
// subscription state or QoS retransmission bookkeeping, and no other type
// in this package does either.
type SessionConfig struct {
	ClientID    string
	CleanStart  bool
	KeepAlive   uint16 // zero means no keep-alive timeout
	Username    string
	Password    []byte
	UsernameSet bool
	PasswordSet bool

	SessionExpiryInterval      uint32
	ReceiveMaximum             uint16
	MaximumPacketSize          uint32
	TopicAliasMaximum          uint16
	RequestResponseInformation bool
	RequestProblemInformation  bool
	UserProperties             []mqtt.UTF8Pair
	AuthMethod                 string
	AuthData                   []byte

	WillFlag bool
	Will     *WillConfig
}

// NewSessionConfig returns a SessionConfig with the MQTT 5.0 defaults for
// every property that may be omitted from a CONNECT packet.
func NewSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReceiveMaximum:             65535,
		RequestResponseInformation: false,
		RequestProblemInformation:  true,
	}
}

// InitWill allocates the Will sub-configuration. It must be called before
// ApplyWillProperty when the CONNECT flags carry WillFlag, mirroring the
// original client_config's lazily-allocated will_config member.
func (c *SessionConfig) InitWill() {
	c.WillFlag = true
	c.Will = &WillConfig{}
}

// ApplyProperty folds one top-level CONNECT property into the session
// configuration, rejecting values the protocol declares malformed.
func (c *SessionConfig) ApplyProperty(prop mqtt.Property) error {
	switch prop.ID {
	case mqtt.PropSessionExpiryInterval:
		c.SessionExpiryInterval = prop.Value.(uint32)
	case mqtt.PropReceiveMaximum:
		v := prop.Value.(uint16)
		if v == 0 {
			return mqtt.NewProtocolError(errors.New("receive maximum must not be zero"), "")
		}
		c.ReceiveMaximum = v
	case mqtt.PropMaximumPacketSize:
		v := prop.Value.(uint32)
		if v == 0 {
			return mqtt.NewProtocolError(errors.New("maximum packet size must not be zero"), "")
		}
		c.MaximumPacketSize = v
	case mqtt.PropTopicAliasMaximum:
		c.TopicAliasMaximum = prop.Value.(uint16)
	case mqtt.PropRequestResponseInformation:
		v := prop.Value.(byte)
		if v > 1 {
			return mqtt.NewProtocolError(errors.New("request response information must be 0 or 1"), "")
		}
		c.RequestResponseInformation = v == 1
	case mqtt.PropRequestProblemInformation:
		v := prop.Value.(byte)
		if v > 1 {
			return mqtt.NewProtocolError(errors.New("request problem information must be 0 or 1"), "")
		}
		c.RequestProblemInformation = v == 1
	case mqtt.PropUserProperty:
		c.UserProperties = append(c.UserProperties, prop.Value.(mqtt.UTF8Pair))
	case mqtt.PropAuthenticationMethod:
		c.AuthMethod = prop.Value.(string)
	case mqtt.PropAuthenticationData:
		if c.AuthMethod == "" {
			return mqtt.NewProtocolError(errors.New("authentication data without authentication method"), "")
		}
		c.AuthData = prop.Value.([]byte)
	default:
		return mqtt.NewProtocolError(mqtt.ErrPropertyNotAllowed, fmt.Sprintf("property 0x%02x not valid on CONNECT", byte(prop.ID)))
	}
	return nil
}

// ApplyWillProperty folds one Will property into the Will sub-configuration.
// Calling it before InitWill is a caller bug (mirrors the original's
// "shouldn't happen unless the will flag is not set" guard) and is reported
// as a malformed packet rather than panicking.
func (c *SessionConfig) ApplyWillProperty(prop mqtt.Property) error {
	if c.Will == nil {
		return mqtt.NewMalformedPacketError(errors.New("will property received without will flag set"), "")
	}

	switch prop.ID {
	case mqtt.PropWillDelayInterval:
		c.Will.DelayInterval = prop.Value.(uint32)
	case mqtt.PropPayloadFormatIndicator:
		v := prop.Value.(byte)
		if v > 1 {
			return mqtt.NewProtocolError(errors.New("payload format indicator must be 0 or 1"), "")
		}
		c.Will.PayloadFormatIndicator = v
	case mqtt.PropMessageExpiryInterval:
		c.Will.MessageExpiryInterval = prop.Value.(uint32)
	case mqtt.PropContentType:
		c.Will.ContentType = prop.Value.(string)
	case mqtt.PropResponseTopic:
		c.Will.ResponseTopic = prop.Value.(string)
	case mqtt.PropCorrelationData:
		c.Will.CorrelationData = prop.Value.([]byte)
	case mqtt.PropUserProperty:
		c.Will.UserProperties = append(c.Will.UserProperties, prop.Value.(mqtt.UTF8Pair))
	default:
		return mqtt.NewProtocolError(mqtt.ErrPropertyNotAllowed, fmt.Sprintf("property 0x%02x not valid on Will", byte(prop.ID)))
	}
	return nil
}

// ApplyPayload folds one CONNECT payload field (client ID, Will topic/payload,
// username, password) into the session configuration.
func (c *SessionConfig) ApplyPayload(field string, value any) error {
	switch field {
	case "ClientID":
		c.ClientID = value.(string)
	case "WillTopic":
		if c.Will == nil {
			return mqtt.NewMalformedPacketError(errors.New("will topic received without will flag set"), "")
		}
		c.Will.Topic = value.(string)
	case "WillPayload":
		if c.Will == nil {
			return mqtt.NewMalformedPacketError(errors.New("will payload received without will flag set"), "")
		}
		c.Will.Payload = value.([]byte)
	case "Username":
		c.Username = value.(string)
		c.UsernameSet = true
	case "Password":
		c.Password = value.([]byte)
		c.PasswordSet = true
	default:
		return mqtt.NewProtocolError(errors.New("unknown CONNECT payload field"), field)
	}
	return nil
}

// FromConnectPacket builds a SessionConfig by replaying a fully decoded
// ConnectPacket's properties and payload through the applier methods above,
// so the validation rules in ApplyProperty/ApplyWillProperty/ApplyPayload
// run uniformly regardless of whether the caller decoded field-by-field or
// all at once.
func FromConnectPacket(pkt *mqtt.ConnectPacket) (*SessionConfig, error) {
	cfg := NewSessionConfig()
	cfg.CleanStart = pkt.CleanStart
	cfg.KeepAlive = pkt.KeepAlive

	for _, prop := range pkt.Properties.Properties {
		if err := cfg.ApplyProperty(prop); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyPayload("ClientID", pkt.ClientID); err != nil {
		return nil, err
	}

	if pkt.WillFlag {
		cfg.InitWill()
		cfg.Will.QoS = pkt.WillQoS
		cfg.Will.Retain = pkt.WillRetain
		for _, prop := range pkt.WillProperties.Properties {
			if err := cfg.ApplyWillProperty(prop); err != nil {
				return nil, err
			}
		}
		if err := cfg.ApplyPayload("WillTopic", pkt.WillTopic); err != nil {
			return nil, err
		}
		if err := cfg.ApplyPayload("WillPayload", pkt.WillPayload); err != nil {
			return nil, err
		}
	}

	if pkt.UsernameFlag {
		if err := cfg.ApplyPayload("Username", pkt.Username); err != nil {
			return nil, err
		}
	}

	// Password is gated on PasswordFlag, matching the wire layout's own
	// flag rather than WillFlag - the original C++ decoder gated this field
	// on the will flag, which let a will-less CONNECT silently swallow or
	// misplace the password bytes.
	if pkt.PasswordFlag {
		if err := cfg.ApplyPayload("Password", pkt.Password); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}
