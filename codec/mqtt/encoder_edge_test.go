package mqtt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	MaxUTF8StringLen    = 65535
	MaxRealisticPayload = 65000
)

func TestEncodeConnectPacket_EdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		packet  *ConnectPacket
		wantErr bool
	}{
		{
			name: "empty client ID",
			packet: &ConnectPacket{
				ProtocolName:    "MQTT",
				ProtocolVersion: ProtocolVersion50,
				CleanStart:      true,
				KeepAlive:       60,
				ClientID:        "",
				Properties:      Properties{},
			},
			wantErr: false,
		},
		{
			name: "max client ID length",
			packet: &ConnectPacket{
				ProtocolName:    "MQTT",
				ProtocolVersion: ProtocolVersion50,
				CleanStart:      true,
				KeepAlive:       60,
				ClientID:        strings.Repeat("a", MaxUTF8StringLen),
				Properties:      Properties{},
			},
			wantErr: false,
		},
		{
			name: "zero keep alive",
			packet: &ConnectPacket{
				ProtocolName:    "MQTT",
				ProtocolVersion: ProtocolVersion50,
				CleanStart:      true,
				KeepAlive:       0,
				ClientID:        "test",
				Properties:      Properties{},
			},
			wantErr: false,
		},
		{
			name: "max keep alive",
			packet: &ConnectPacket{
				ProtocolName:    "MQTT",
				ProtocolVersion: ProtocolVersion50,
				CleanStart:      true,
				KeepAlive:       65535,
				ClientID:        "test",
				Properties:      Properties{},
			},
			wantErr: false,
		},
		{
			name: "will message with large payload",
			packet: &ConnectPacket{
				ProtocolName:    "MQTT",
				ProtocolVersion: ProtocolVersion50,
				CleanStart:      true,
				WillFlag:        true,
				WillQoS:         QoS2,
				WillRetain:      true,
				KeepAlive:       60,
				ClientID:        "test",
				WillTopic:       "will/topic",
				WillPayload:     make([]byte, MaxRealisticPayload),
				Properties:      Properties{},
				WillProperties:  Properties{},
			},
			wantErr: false,
		},
		{
			name: "will message with empty payload",
			packet: &ConnectPacket{
				ProtocolName:    "MQTT",
				ProtocolVersion: ProtocolVersion50,
				CleanStart:      true,
				WillFlag:        true,
				WillQoS:         QoS0,
				WillRetain:      false,
				KeepAlive:       60,
				ClientID:        "test",
				WillTopic:       "will/topic",
				WillPayload:     []byte{},
				Properties:      Properties{},
				WillProperties:  Properties{},
			},
			wantErr: false,
		},
		{
			name: "max username length",
			packet: &ConnectPacket{
				ProtocolName:    "MQTT",
				ProtocolVersion: ProtocolVersion50,
				CleanStart:      true,
				UsernameFlag:    true,
				KeepAlive:       60,
				ClientID:        "test",
				Username:        strings.Repeat("u", MaxUTF8StringLen),
				Properties:      Properties{},
			},
			wantErr: false,
		},
		{
			name: "large password length",
			packet: &ConnectPacket{
				ProtocolName:    "MQTT",
				ProtocolVersion: ProtocolVersion50,
				CleanStart:      true,
				UsernameFlag:    true,
				PasswordFlag:    true,
				KeepAlive:       60,
				ClientID:        "test",
				Username:        "user",
				Password:        bytes.Repeat([]byte{0xFF}, MaxRealisticPayload),
				Properties:      Properties{},
			},
			wantErr: false,
		},
		{
			name: "all flags enabled with max data",
			packet: &ConnectPacket{
				ProtocolName:    "MQTT",
				ProtocolVersion: ProtocolVersion50,
				CleanStart:      true,
				WillFlag:        true,
				WillQoS:         QoS2,
				WillRetain:      true,
				UsernameFlag:    true,
				PasswordFlag:    true,
				KeepAlive:       30000,
				ClientID:        strings.Repeat("c", 1000),
				WillTopic:       strings.Repeat("t", 1000),
				WillPayload:     bytes.Repeat([]byte("will"), 1000),
				Username:        strings.Repeat("u", 1000),
				Password:        bytes.Repeat([]byte{0xAB}, 1000),
				Properties:      Properties{},
				WillProperties:  Properties{},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := tt.packet.Encode(&buf)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Greater(t, buf.Len(), 0)

				fh, err := ParseFixedHeader(&buf)
				require.NoError(t, err)
				assert.Equal(t, CONNECT, fh.Type)
			}
		})
	}
}

func TestEncodeConnackPacket_EdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		packet  *ConnackPacket
		wantErr bool
	}{
		{
			name: "success without session",
			packet: &ConnackPacket{
				SessionPresent: false,
				ReasonCode:     ReasonSuccess,
				Properties:     Properties{},
			},
			wantErr: false,
		},
		{
			name: "success with session present",
			packet: &ConnackPacket{
				SessionPresent: true,
				ReasonCode:     ReasonSuccess,
				Properties:     Properties{},
			},
			wantErr: false,
		},
		{
			name: "error reason code (Banned)",
			packet: &ConnackPacket{
				SessionPresent: false,
				ReasonCode:     ReasonBanned,
				Properties:     Properties{},
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := tt.packet.Encode(&buf)

			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Greater(t, buf.Len(), 0)

				fh, err := ParseFixedHeader(&buf)
				require.NoError(t, err)
				assert.Equal(t, CONNACK, fh.Type)
			}
		})
	}
}
