package nexus

// Typed request/response messages for the nexus payload TLVs. Decoders
// start from a record with explicit defaults and assign by tag; unknown
// tags are skipped for forward compatibility.

// ClientPlatform is the platform string reported in HELLO
const ClientPlatform = "iPhone iPhone OS 17.4.1"

// Hello opens a session after the TCP connect. For federated accounts the
// bearer rides in an AUTHORIZE_REQUEST wrapped as a bytes field (tag 12);
// for native accounts it is the session token string at tag 4.
type Hello struct {
	ProtocolVersion     uint64
	UserID              string
	RequireConnected    bool
	SessionToken        string // Native accounts
	AttemptID           string // Fresh UUID per connect attempt
	Platform            string
	ClientType          uint64
	AuthorizeRequest    []byte // Federated accounts: encoded AuthorizeRequest
}

// Encode produces the HELLO payload
func (h Hello) Encode() []byte {
	w := &TLVWriter{}
	w.WriteVarintField(1, h.ProtocolVersion)
	w.WriteStringField(2, h.UserID)
	w.WriteBooleanField(3, h.RequireConnected)
	if h.SessionToken != "" {
		w.WriteStringField(4, h.SessionToken)
	}
	w.WriteStringField(6, h.AttemptID)
	w.WriteStringField(7, h.Platform)
	w.WriteVarintField(9, h.ClientType)
	if len(h.AuthorizeRequest) > 0 {
		w.WriteBytesField(12, h.AuthorizeRequest)
	}
	return w.Bytes()
}

// AuthorizeRequest re-authorizes a live socket after a token rotation or an
// AUTHORIZATION_FAILED error. Native sessions carry the session token at
// tag 1, federated sessions the bearer at tag 4.
type AuthorizeRequest struct {
	SessionToken string
	OliveToken   string
}

// Encode produces the AUTHORIZE_REQUEST payload
func (a AuthorizeRequest) Encode() []byte {
	w := &TLVWriter{}
	if a.SessionToken != "" {
		w.WriteStringField(1, a.SessionToken)
	}
	if a.OliveToken != "" {
		w.WriteStringField(4, a.OliveToken)
	}
	return w.Bytes()
}

// StartPlayback requests the camera's media channels
type StartPlayback struct {
	SessionRequestID uint64
	Profile          uint64
	OtherProfiles    []uint64
	ProfileNotFound  uint64
}

// Encode produces the START_PLAYBACK payload
func (s StartPlayback) Encode() []byte {
	w := &TLVWriter{}
	w.WriteVarintField(1, s.SessionRequestID)
	w.WriteVarintField(2, s.Profile)
	for _, p := range s.OtherProfiles {
		w.WriteVarintField(6, p)
	}
	w.WriteVarintField(7, s.ProfileNotFound)
	return w.Bytes()
}

// StopPlayback ends the session's playback
type StopPlayback struct {
	SessionID uint64
}

// Encode produces the STOP_PLAYBACK payload
func (s StopPlayback) Encode() []byte {
	w := &TLVWriter{}
	w.WriteVarintField(1, s.SessionID)
	return w.Bytes()
}

// AudioPayload carries one talkback chunk toward the camera speaker
type AudioPayload struct {
	Payload    []byte
	SessionID  uint64
	Codec      uint64
	SampleRate uint64
}

// Encode produces the AUDIO_PAYLOAD payload
func (a AudioPayload) Encode() []byte {
	w := &TLVWriter{}
	w.WriteBytesField(1, a.Payload)
	w.WriteVarintField(2, a.SessionID)
	w.WriteVarintField(3, a.Codec)
	w.WriteVarintField(4, a.SampleRate)
	return w.Bytes()
}

// ErrorResponse is an ERROR packet payload
type ErrorResponse struct {
	Code    uint64
	Message string
}

// DecodeErrorResponse parses an ERROR payload
func DecodeErrorResponse(payload []byte) (ErrorResponse, error) {
	var e ErrorResponse
	err := ConsumeFields(payload, func(f TLVField) error {
		switch f.Tag {
		case 1:
			e.Code = f.Varint
		case 2:
			e.Message = f.String()
		}
		return nil
	})
	return e, err
}

// ChannelDescriptor describes one media channel announced by PLAYBACK_BEGIN
type ChannelDescriptor struct {
	ChannelID  uint64
	CodecType  uint64
	SampleRate uint64
	StartTime  float64 // Seconds; multiplied by 1000 for the ms clock
	Profile    uint64
}

func decodeChannelDescriptor(payload []byte) (ChannelDescriptor, error) {
	var c ChannelDescriptor
	err := ConsumeFields(payload, func(f TLVField) error {
		switch f.Tag {
		case 1:
			c.ChannelID = f.Varint
		case 2:
			c.CodecType = f.Varint
		case 3:
			c.SampleRate = f.Varint
		case 5:
			c.StartTime = f.Double()
		case 8:
			c.Profile = f.Varint
		}
		return nil
	})
	return c, err
}

// PlaybackBegin is the server's answer to START_PLAYBACK
type PlaybackBegin struct {
	SessionID uint64
	Channels  []ChannelDescriptor
}

// DecodePlaybackBegin parses a PLAYBACK_BEGIN payload
func DecodePlaybackBegin(payload []byte) (PlaybackBegin, error) {
	var p PlaybackBegin
	err := ConsumeFields(payload, func(f TLVField) error {
		switch f.Tag {
		case 1:
			p.SessionID = f.Varint
		case 2:
			ch, err := decodeChannelDescriptor(f.Bytes)
			if err != nil {
				return err
			}
			p.Channels = append(p.Channels, ch)
		}
		return nil
	})
	return p, err
}

// PlaybackPacket is one timestamped media packet
type PlaybackPacket struct {
	SessionID      uint64
	ChannelID      uint64
	TimestampDelta int64 // Zig-zag signed, milliseconds
	Payload        []byte
}

// DecodePlaybackPacket parses a PLAYBACK_PACKET or LONG_PLAYBACK_PACKET payload
func DecodePlaybackPacket(payload []byte) (PlaybackPacket, error) {
	var p PlaybackPacket
	err := ConsumeFields(payload, func(f TLVField) error {
		switch f.Tag {
		case 1:
			p.SessionID = f.Varint
		case 2:
			p.ChannelID = f.Varint
		case 3:
			p.TimestampDelta = f.SVarint()
		case 4:
			p.Payload = f.Bytes
		}
		return nil
	})
	return p, err
}

// Encode produces a PLAYBACK_PACKET payload (used by the session tests)
func (p PlaybackPacket) Encode() []byte {
	w := &TLVWriter{}
	w.WriteVarintField(1, p.SessionID)
	w.WriteVarintField(2, p.ChannelID)
	w.WriteSVarintField(3, p.TimestampDelta)
	w.WriteBytesField(4, p.Payload)
	return w.Bytes()
}

// PlaybackEnd signals the end of a playback session
type PlaybackEnd struct {
	SessionID uint64
	Reason    uint64
}

// DecodePlaybackEnd parses a PLAYBACK_END payload
func DecodePlaybackEnd(payload []byte) (PlaybackEnd, error) {
	var p PlaybackEnd
	err := ConsumeFields(payload, func(f TLVField) error {
		switch f.Tag {
		case 1:
			p.SessionID = f.Varint
		case 2:
			p.Reason = f.Varint
		}
		return nil
	})
	return p, err
}

// Redirect tells the client to reconnect elsewhere
type Redirect struct {
	NewHost     string
	IsTranscode bool
}

// DecodeRedirect parses a REDIRECT payload
func DecodeRedirect(payload []byte) (Redirect, error) {
	var r Redirect
	err := ConsumeFields(payload, func(f TLVField) error {
		switch f.Tag {
		case 1:
			r.NewHost = f.String()
		case 2:
			r.IsTranscode = f.Bool()
		}
		return nil
	})
	return r, err
}

// TalkbackBegin announces the start of an uplink audio stream
type TalkbackBegin struct {
	UserID    string
	SessionID uint64
	DeviceID  string
}

// DecodeTalkbackBegin parses a TALKBACK_BEGIN payload
func DecodeTalkbackBegin(payload []byte) (TalkbackBegin, error) {
	var t TalkbackBegin
	err := ConsumeFields(payload, func(f TLVField) error {
		switch f.Tag {
		case 1:
			t.UserID = f.String()
		case 2:
			t.SessionID = f.Varint
		case 4:
			t.DeviceID = f.String()
		}
		return nil
	})
	return t, err
}
