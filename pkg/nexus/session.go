package nexus

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ethan/nest-nexus-bridge/pkg/logger"
	"github.com/ethan/nest-nexus-bridge/pkg/metrics"
)

const (
	// nexusPort is the TLS port the streaming backends listen on
	nexusPort = "1443"

	keepAliveInterval = 15 * time.Second
	stallTimeout      = 8 * time.Second
	reconnectDelay    = 1 * time.Second
	dialTimeout       = 10 * time.Second
	writeTimeout      = 5 * time.Second

	// outputInterval drives the cooperative consumer drain
	outputInterval = 10 * time.Millisecond

	// fallbackTick paces synthetic frames at 30fps
	fallbackTick = time.Second / 30
)

type sessionState int

const (
	stateDisconnected sessionState = iota
	stateConnecting
	stateHelloSent
	stateAuthorized
	statePlaying
	stateClosing
)

// String returns human-readable session state
func (s sessionState) String() string {
	switch s {
	case stateDisconnected:
		return "disconnected"
	case stateConnecting:
		return "connecting"
	case stateHelloSent:
		return "hello_sent"
	case stateAuthorized:
		return "authorized"
	case statePlaying:
		return "playing"
	case stateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// CameraState is the subset of device state the session reacts to
type CameraState struct {
	Online           bool
	StreamingEnabled bool
}

// SessionConfig configures one per-camera session
type SessionConfig struct {
	Host      string // Streaming host, without port
	DeviceID  string // Camera resource id
	UserID    string
	Federated bool          // Selects the hello bearer encoding
	Token     func() string // Current bearer for the owning connection
	Frames    *FallbackFrames
	Logger    *logger.Logger

	// Dial overrides the TLS dial, used by tests to point the session at a
	// scripted in-process peer
	Dial func(addr string) (net.Conn, error)

	// StallTimeout overrides the stall watchdog, used by tests. Zero means
	// the default.
	StallTimeout time.Duration
}

// channelState tracks one media channel's identity and clock
type channelState struct {
	id         uint64
	codec      uint64
	packetTime int64 // Milliseconds, advanced by each packet's delta
}

// Session is a client of the camera streaming backend. It owns exactly one
// socket, demultiplexes media packets to its consumers, and survives
// stalls, redirects and reauthorization.
type Session struct {
	cfg SessionConfig
	log *logger.Logger

	mu         sync.Mutex
	state      sessionState
	conn       net.Conn
	connGen    int
	authorized bool
	sessionID  uint64
	host       string
	pending    [][]byte // Encoded frames queued until authorization
	consumers  map[string]*Consumer
	buffer     rollingBuffer
	video      *channelState
	audio      *channelState
	camera     CameraState
	lastToken  string
	closed     bool

	lastPacketAt time.Time // Any playback packet, for stall detection
	lastVideoAt  time.Time // Real video frame, for fallback injection

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSession creates a session for one camera. The background ticks start
// immediately; the socket opens on the first consumer.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.Frames == nil {
		cfg.Frames, _ = LoadFallbackFrames("")
	}
	if cfg.StallTimeout == 0 {
		cfg.StallTimeout = stallTimeout
	}

	s := &Session{
		cfg:       cfg,
		log:       cfg.Logger.With("component", "nexus", "device", cfg.DeviceID),
		host:      cfg.Host,
		consumers: make(map[string]*Consumer),
		stop:      make(chan struct{}),
	}

	s.wg.Add(3)
	go s.outputLoop()
	go s.fallbackLoop()
	go s.keepAliveLoop()

	return s
}

// StartBuffer attaches the rolling-history consumer, opening the session if
// needed.
func (s *Session) StartBuffer() {
	s.addConsumer(newConsumer("buffer", ConsumerBuffer, nil, nil, nil))
}

// StartLive attaches a live viewer. The optional talkback source feeds the
// uplink audio path.
func (s *Session) StartLive(id string, videoSink, audioSink io.Writer, talkback io.Reader) {
	c := newConsumer(id, ConsumerLive, videoSink, audioSink, talkback)
	if talkback != nil {
		c.talkback = newTalkbackWriter(s.sendAsync, s.currentSessionID)
		go c.talkback.run(talkback)
	}
	s.addConsumer(c)
}

// StartRecord attaches a recording consumer seeded with the buffered history
func (s *Session) StartRecord(id string, videoSink, audioSink io.Writer) {
	c := newConsumer(id, ConsumerRecord, videoSink, audioSink, nil)
	c.seed(s.buffer.snapshot())
	s.addConsumer(c)
}

// StopLive detaches a live consumer
func (s *Session) StopLive(id string) {
	s.removeConsumer(id)
}

// StopRecord detaches a recording consumer
func (s *Session) StopRecord(id string) {
	s.removeConsumer(id)
}

// StopBuffer detaches the rolling-history consumer
func (s *Session) StopBuffer() {
	s.removeConsumer("buffer")
}

// Update reacts to device state changes: token rotation triggers a live
// reauthorize, online/streaming transitions open or close the socket.
func (s *Session) Update(state CameraState) {
	s.mu.Lock()
	prev := s.camera
	s.camera = state

	tokenChanged := false
	if s.authorized && s.cfg.Token != nil {
		if token := s.cfg.Token(); token != s.lastToken {
			s.lastToken = token
			tokenChanged = true
		}
	}
	s.mu.Unlock()

	if tokenChanged {
		s.log.Info("token rotated, reauthorizing session")
		s.sendAsync(PacketAuthorizeRequest, s.authorizePayload())
	}

	wasStreaming := prev.Online && prev.StreamingEnabled
	nowStreaming := state.Online && state.StreamingEnabled

	switch {
	case !wasStreaming && nowStreaming:
		s.maybeOpen()
	case wasStreaming && !nowStreaming:
		s.log.Info("camera no longer streamable, closing session",
			"online", state.Online, "streaming_enabled", state.StreamingEnabled)
		s.close(true, "camera_state")
	}
}

// Close tears the session down permanently
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	consumers := s.consumers
	s.consumers = make(map[string]*Consumer)
	s.mu.Unlock()

	for _, c := range consumers {
		if c.talkback != nil {
			c.talkback.shutdown()
		}
	}

	s.close(true, "shutdown")
	close(s.stop)
	s.wg.Wait()
}

func (s *Session) addConsumer(c *Consumer) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.consumers[c.ID] = c
	count := len(s.consumers)
	s.mu.Unlock()

	s.log.Info("consumer attached", "id", c.ID, "kind", c.Kind.String(), "consumers", count)
	s.maybeOpen()
}

func (s *Session) removeConsumer(id string) {
	s.mu.Lock()
	c, ok := s.consumers[id]
	if ok {
		delete(s.consumers, id)
	}
	remaining := len(s.consumers)
	s.mu.Unlock()

	if !ok {
		return
	}
	if c.talkback != nil {
		c.talkback.shutdown()
	}

	s.log.Info("consumer detached", "id", id, "kind", c.Kind.String(), "consumers", remaining)

	if remaining == 0 {
		s.close(true, "last_consumer")
	}
}

// maybeOpen dials when a session should be running and is not
func (s *Session) maybeOpen() {
	s.mu.Lock()
	shouldRun := !s.closed && len(s.consumers) > 0 &&
		s.camera.Online && s.camera.StreamingEnabled &&
		s.state == stateDisconnected
	if shouldRun {
		s.state = stateConnecting
	}
	s.mu.Unlock()

	if shouldRun {
		go s.connect()
	}
}

// connect dials the current host and runs the hello exchange
func (s *Session) connect() {
	s.mu.Lock()
	host := s.host
	gen := s.connGen
	s.mu.Unlock()

	addr := net.JoinHostPort(host, nexusPort)
	s.log.Info("connecting to streaming host", "addr", addr)

	dial := s.cfg.Dial
	if dial == nil {
		dial = func(addr string) (net.Conn, error) {
			dialer := &net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}
			serverName, _, _ := net.SplitHostPort(addr)
			return tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: serverName})
		}
	}

	conn, err := dial(addr)
	if err != nil {
		s.log.Warn("streaming connect failed", "addr", addr, "error", err)
		s.mu.Lock()
		stale := gen != s.connGen || s.closed
		if !stale {
			s.state = stateDisconnected
		}
		s.mu.Unlock()
		if !stale {
			s.scheduleReconnect()
		}
		return
	}

	s.mu.Lock()
	if gen != s.connGen || s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.state = stateHelloSent
	if s.cfg.Token != nil {
		s.lastToken = s.cfg.Token()
	}
	s.mu.Unlock()

	s.writeFrame(PacketHello, s.helloPayload())

	s.wg.Add(1)
	go s.readLoop(conn, gen)
}

// helloPayload builds the HELLO for the current token and account kind
func (s *Session) helloPayload() []byte {
	hello := Hello{
		ProtocolVersion: 3,
		UserID:          shortUserID(s.cfg.UserID),
		AttemptID:       uuid.NewString(),
		Platform:        ClientPlatform,
		ClientType:      ClientTypeIOS,
	}

	token := ""
	if s.cfg.Token != nil {
		token = s.cfg.Token()
	}
	if s.cfg.Federated {
		hello.AuthorizeRequest = AuthorizeRequest{OliveToken: token}.Encode()
	} else {
		hello.SessionToken = token
	}
	return hello.Encode()
}

// authorizePayload builds the AUTHORIZE_REQUEST for the current token
func (s *Session) authorizePayload() []byte {
	token := ""
	if s.cfg.Token != nil {
		token = s.cfg.Token()
	}
	if s.cfg.Federated {
		return AuthorizeRequest{OliveToken: token}.Encode()
	}
	return AuthorizeRequest{SessionToken: token}.Encode()
}

// readLoop decodes frames off one socket generation
func (s *Session) readLoop(conn net.Conn, gen int) {
	defer s.wg.Done()

	reader := &FrameReader{}
	buf := make([]byte, 16384)

	for {
		n, err := conn.Read(buf)
		if n > 0 {
			reader.Append(buf[:n])
			for {
				frame, ok := reader.Next()
				if !ok {
					break
				}
				metrics.FramesDecoded.WithLabelValues(fmt.Sprintf("%d", frame.Type)).Inc()
				s.log.DebugFramePacket(frame.Type, len(frame.Payload))
				s.handleFrame(frame, gen)
			}
		}
		if err != nil {
			s.mu.Lock()
			stale := gen != s.connGen || s.closed
			hasConsumers := len(s.consumers) > 0
			s.mu.Unlock()

			if stale {
				return
			}

			s.log.Info("streaming socket closed", "error", err)
			s.close(false, "socket_close")
			if hasConsumers {
				metrics.SessionReconnects.WithLabelValues("socket_close").Inc()
				s.scheduleReconnect()
			}
			return
		}
	}
}

// handleFrame dispatches one decoded frame
func (s *Session) handleFrame(frame Frame, gen int) {
	s.mu.Lock()
	if gen != s.connGen || s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	switch frame.Type {
	case PacketOK:
		s.onAuthorized()

	case PacketError:
		e, err := DecodeErrorResponse(frame.Payload)
		if err != nil {
			s.log.Warn("undecodable error packet", "error", err)
			return
		}
		if e.Code == ErrorAuthorizationFail {
			s.log.Info("authorization rejected, resending authorize request")
			s.writeFrame(PacketAuthorizeRequest, s.authorizePayload())
			return
		}
		s.log.Warn("stream error packet", "code", e.Code, "message", e.Message)

	case PacketPlaybackBegin:
		s.onPlaybackBegin(frame.Payload)

	case PacketPlaybackPacket, PacketLongPlaybackPacket:
		s.onPlaybackPacket(frame.Payload)

	case PacketPlaybackEnd:
		s.onPlaybackEnd(frame.Payload)

	case PacketRedirect:
		s.onRedirect(frame.Payload)

	case PacketTalkbackBegin:
		if tb, err := DecodeTalkbackBegin(frame.Payload); err == nil {
			s.log.DebugNexus("talkback begin", "session_id", tb.SessionID, "device", tb.DeviceID)
		}

	case PacketTalkbackEnd:
		s.log.DebugNexus("talkback end")

	case PacketPing:
		// Peer keep-alive, nothing to do

	default:
		s.log.DebugNexus("unhandled packet", "type", frame.Type, "size", len(frame.Payload))
	}
}

// onAuthorized flushes the pre-auth queue and starts playback
func (s *Session) onAuthorized() {
	s.mu.Lock()
	s.authorized = true
	s.state = stateAuthorized
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.log.Info("session authorized", "queued_messages", len(pending))

	// Queued messages flush in FIFO order before anything new
	for _, raw := range pending {
		s.writeRaw(raw)
	}

	start := StartPlayback{
		SessionRequestID: uint64(time.Now().UnixNano() & 0x7FFFFFFF),
		Profile:          ProfileAVProfileHD,
		OtherProfiles:    []uint64{ProfileVideoH264_2MB, ProfileAudioAAC},
		ProfileNotFound:  ProfileVideoH264_530,
	}
	s.writeFrame(PacketStartPlayback, start.Encode())
}

// onPlaybackBegin classifies the announced channels and arms the clocks
func (s *Session) onPlaybackBegin(payload []byte) {
	begin, err := DecodePlaybackBegin(payload)
	if err != nil {
		s.log.Warn("undecodable playback begin", "error", err)
		return
	}

	s.mu.Lock()
	s.sessionID = begin.SessionID
	s.state = statePlaying
	s.video = nil
	s.audio = nil
	for _, ch := range begin.Channels {
		cs := &channelState{
			id:         ch.ChannelID,
			codec:      ch.CodecType,
			packetTime: int64(ch.StartTime * 1000),
		}
		switch {
		case IsVideoCodec(ch.CodecType):
			s.video = cs
		case IsAudioCodec(ch.CodecType):
			s.audio = cs
		}
	}
	s.lastPacketAt = time.Now()
	hasVideo := s.video != nil
	hasAudio := s.audio != nil
	s.mu.Unlock()

	s.log.Info("playback begun",
		"session_id", begin.SessionID,
		"channels", len(begin.Channels),
		"has_video", hasVideo,
		"has_audio", hasAudio)
}

// onPlaybackPacket advances the channel clock and fans the frame out
func (s *Session) onPlaybackPacket(payload []byte) {
	pkt, err := DecodePlaybackPacket(payload)
	if err != nil {
		s.log.Warn("undecodable playback packet", "error", err)
		return
	}

	s.mu.Lock()
	var frame MediaFrame
	switch {
	case s.video != nil && pkt.ChannelID == s.video.id:
		s.video.packetTime += pkt.TimestampDelta
		frame = MediaFrame{Type: FrameVideo, Time: s.video.packetTime, Data: pkt.Payload}
		s.lastVideoAt = time.Now()
	case s.audio != nil && pkt.ChannelID == s.audio.id:
		s.audio.packetTime += pkt.TimestampDelta
		frame = MediaFrame{Type: FrameAudio, Time: s.audio.packetTime, Data: pkt.Payload}
	default:
		s.mu.Unlock()
		return
	}
	s.lastPacketAt = time.Now()
	consumers := s.consumerList()
	s.mu.Unlock()

	s.buffer.push(frame)
	for _, c := range consumers {
		c.push(frame)
	}
}

// onPlaybackEnd reconnects on abnormal reasons
func (s *Session) onPlaybackEnd(payload []byte) {
	end, err := DecodePlaybackEnd(payload)
	if err != nil {
		s.log.Warn("undecodable playback end", "error", err)
		return
	}

	s.mu.Lock()
	hasConsumers := len(s.consumers) > 0
	s.mu.Unlock()

	if end.Reason == PlaybackEndUserRequested && !hasConsumers {
		s.log.Info("playback ended", "reason", end.Reason)
		s.close(false, "playback_end")
		return
	}

	s.log.Warn("playback ended unexpectedly, reconnecting", "reason", end.Reason)
	metrics.SessionReconnects.WithLabelValues("playback_error").Inc()
	s.close(false, "playback_end")
	s.scheduleReconnect()
}

// onRedirect moves the session to the announced host
func (s *Session) onRedirect(payload []byte) {
	redirect, err := DecodeRedirect(payload)
	if err != nil {
		s.log.Warn("undecodable redirect", "error", err)
		return
	}
	if redirect.NewHost == "" {
		return
	}

	s.log.Info("redirected to new streaming host", "host", redirect.NewHost)
	s.mu.Lock()
	s.host = redirect.NewHost
	s.mu.Unlock()

	metrics.SessionReconnects.WithLabelValues("redirect").Inc()
	s.close(true, "redirect")
	s.scheduleReconnect()
}

// close tears down the socket. sendStop controls whether the peer is told
// playback is over; internal reconnects skip it.
func (s *Session) close(sendStop bool, cause string) {
	s.mu.Lock()
	conn := s.conn
	sessionID := s.sessionID
	s.conn = nil
	s.connGen++
	s.authorized = false
	s.sessionID = 0
	s.pending = nil
	s.video = nil
	s.audio = nil
	if s.state != stateDisconnected {
		s.state = stateClosing
	}
	s.mu.Unlock()

	if conn != nil {
		if sendStop && sessionID != 0 {
			stop := StopPlayback{SessionID: sessionID}
			if raw, err := EncodeFrame(PacketStopPlayback, stop.Encode()); err == nil {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				conn.Write(raw)
			}
		}
		conn.Close()
		s.log.DebugNexus("socket closed", "cause", cause, "sent_stop", sendStop)
	}

	s.buffer.reset()

	s.mu.Lock()
	s.state = stateDisconnected
	consumers := s.consumerList()
	s.mu.Unlock()

	// Consumers must realign on the next session's first SPS
	for _, c := range consumers {
		if c.Kind != ConsumerBuffer {
			c.mu.Lock()
			c.aligned = false
			c.mu.Unlock()
		}
	}
}

// scheduleReconnect reopens after a short delay
func (s *Session) scheduleReconnect() {
	time.AfterFunc(reconnectDelay, s.maybeOpen)
}

// outputLoop cooperatively drains every consumer queue at one cadence
func (s *Session) outputLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(outputInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			consumers := s.consumerList()
			s.mu.Unlock()

			for _, c := range consumers {
				if c.Kind == ConsumerBuffer {
					c.trim()
					continue
				}
				if err := c.write(); err != nil {
					s.log.Warn("consumer write failed, detaching", "id", c.ID, "error", err)
					s.removeConsumer(c.ID)
				}
			}
		}
	}
}

// fallbackLoop injects synthetic frames while no real video arrives, and
// doubles as the stall watchdog.
func (s *Session) fallbackLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(fallbackTick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.checkStall()
			s.injectFallback()
		}
	}
}

// checkStall reconnects when a playing session goes quiet for too long
func (s *Session) checkStall() {
	s.mu.Lock()
	stalled := s.state == statePlaying && time.Since(s.lastPacketAt) > s.cfg.StallTimeout
	s.mu.Unlock()

	if !stalled {
		return
	}

	s.log.Warn("no packets received, reconnecting", "stall_timeout", s.cfg.StallTimeout)
	metrics.SessionReconnects.WithLabelValues("stall").Inc()
	s.close(false, "stall")
	s.scheduleReconnect()
}

// injectFallback pushes one synthetic frame pair when the camera cannot
// deliver real video
func (s *Session) injectFallback() {
	s.mu.Lock()
	if s.closed || len(s.consumers) == 0 {
		s.mu.Unlock()
		return
	}

	sinceVideo := time.Since(s.lastVideoAt)
	if s.lastVideoAt.IsZero() {
		sinceVideo = time.Duration(fallbackIntervalMS) * time.Millisecond
	}
	if sinceVideo < time.Duration(fallbackIntervalMS)*time.Millisecond {
		s.mu.Unlock()
		return
	}

	var videoFrame []byte
	var kind string
	switch {
	case !s.camera.Online:
		videoFrame = s.cfg.Frames.Offline
		kind = "offline"
	case !s.camera.StreamingEnabled:
		videoFrame = s.cfg.Frames.Off
		kind = "off"
	default:
		// Online and enabled but not yet producing: show connecting
		videoFrame = s.cfg.Frames.Connecting
		kind = "connecting"
	}

	now := time.Now().UnixMilli()
	consumers := s.consumerList()
	s.mu.Unlock()

	metrics.FallbackFrames.WithLabelValues(kind).Inc()

	video := MediaFrame{Type: FrameVideo, Time: now, Data: videoFrame}
	audio := MediaFrame{Type: FrameAudio, Time: now, Data: AACAudioSilence}
	for _, c := range consumers {
		c.push(video)
		c.push(audio)
	}
}

// keepAliveLoop sends a zero-length PING while authorized
func (s *Session) keepAliveLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			authorized := s.authorized
			s.mu.Unlock()
			if authorized {
				s.writeFrame(PacketPing, nil)
			}
		}
	}
}

// consumerList snapshots the consumer set. Caller holds s.mu.
func (s *Session) consumerList() []*Consumer {
	out := make([]*Consumer, 0, len(s.consumers))
	for _, c := range s.consumers {
		out = append(out, c)
	}
	return out
}

// currentSessionID reads the live session id for the talkback writer
func (s *Session) currentSessionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// sendAsync queues or writes one message depending on authorization state
func (s *Session) sendAsync(packetType uint8, payload []byte) {
	s.writeFrame(packetType, payload)
}

// writeFrame encodes and sends one frame. Messages sent before the session
// is authorized are queued and flushed in order on OK, except the
// authorization handshake itself.
func (s *Session) writeFrame(packetType uint8, payload []byte) {
	raw, err := EncodeFrame(packetType, payload)
	if err != nil {
		s.log.Error("frame encode failed", "type", packetType, "error", err)
		return
	}

	s.mu.Lock()
	handshake := packetType == PacketHello || packetType == PacketAuthorizeRequest
	if !s.authorized && !handshake {
		s.pending = append(s.pending, raw)
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}
	s.writeRawTo(conn, raw)
}

// writeRaw sends pre-encoded bytes on the current socket
func (s *Session) writeRaw(raw []byte) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	s.writeRawTo(conn, raw)
}

func (s *Session) writeRawTo(conn net.Conn, raw []byte) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := conn.Write(raw); err != nil {
		s.log.DebugNexus("frame write failed", "error", err)
	}
}

// shortUserID strips the resource prefix from a user id, leaving the bare
// numeric id the hello expects
func shortUserID(userID string) string {
	const prefix = "USER_"
	if len(userID) > len(prefix) && userID[:len(prefix)] == prefix {
		return userID[len(prefix):]
	}
	return userID
}
