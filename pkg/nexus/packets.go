// Package nexus implements the client side of the proprietary length-prefixed
// TLS streaming protocol used by the camera backends: frame codec, TLV
// payload messages, the per-camera session state machine and the multi
// consumer media fan-out.
package nexus

// Packet types on the wire. Numeric values are protocol contract.
const (
	PacketPing               uint8 = 1
	PacketHello              uint8 = 100
	PacketPingCamera         uint8 = 101
	PacketAudioPayload       uint8 = 102
	PacketStartPlayback      uint8 = 103
	PacketStopPlayback       uint8 = 104
	PacketClockSync          uint8 = 105
	PacketOK                 uint8 = 200
	PacketError              uint8 = 201
	PacketPlaybackBegin      uint8 = 202
	PacketPlaybackEnd        uint8 = 203
	PacketPlaybackPacket     uint8 = 204
	PacketLongPlaybackPacket uint8 = 205
	PacketClockSyncEcho      uint8 = 206
	PacketRedirect           uint8 = 207
	PacketTalkbackBegin      uint8 = 208
	PacketTalkbackEnd        uint8 = 209
	PacketAuthorizeRequest   uint8 = 212
)

// Codec identifiers carried in channel descriptors and audio payloads
const (
	CodecSpeex uint64 = 0
	CodecPCM   uint64 = 1
	CodecH264  uint64 = 2
	CodecAAC   uint64 = 3
	CodecOpus  uint64 = 4
	CodecMeta  uint64 = 5
	CodecH265  uint64 = 6
)

// Error codes carried by ERROR packets
const (
	ErrorCameraNotConnected uint64 = 1
	ErrorIllegalPacket      uint64 = 2
	ErrorAuthorizationFail  uint64 = 3
	ErrorNoTranscoder       uint64 = 4
	ErrorInternal           uint64 = 6
)

// Playback end reasons. Zero is a user-requested end; anything else is an
// error condition that warrants a reconnect.
const (
	PlaybackEndUserRequested uint64 = 0
	PlaybackEndSessionReset  uint64 = 1
	PlaybackEndNotConnected  uint64 = 2
	PlaybackEndTimeBackwards uint64 = 3
)

// Hello client types
const (
	ClientTypeWeb     uint64 = 1
	ClientTypeIOS     uint64 = 2
	ClientTypeAndroid uint64 = 3
)

// Playback profiles requested in START_PLAYBACK
const (
	ProfileAudioAAC       uint64 = 3
	ProfileAudioSpeex     uint64 = 4
	ProfileAudioOpus      uint64 = 5
	ProfileVideoH264_530  uint64 = 9
	ProfileVideoH264_100  uint64 = 10
	ProfileVideoH264_2MB  uint64 = 11
	ProfileAVProfileHD    uint64 = 13
)

// IsAudioCodec reports whether the codec id carries audio
func IsAudioCodec(codec uint64) bool {
	switch codec {
	case CodecAAC, CodecOpus, CodecSpeex:
		return true
	}
	return false
}

// IsVideoCodec reports whether the codec id carries video
func IsVideoCodec(codec uint64) bool {
	return codec == CodecH264 || codec == CodecH265
}
