// Package voxcore is a voice channel driver: it joins an encrypted voice
// session, mixes any number of audio tracks in real time and streams the
// result as Opus over RTP.
//
// # Getting Started
//
// Credentials for a session come from the platform's main gateway. Hand
// them to Join, then play audio:
//
//	cfg, err := config.FromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	call, err := voxcore.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer call.Close()
//
//	err = call.Join(ctx, connection.Info{
//	    Endpoint:  "voice.example.com:443",
//	    GuildID:   guild,
//	    ChannelID: channel,
//	    UserID:    user,
//	    SessionID: sessionID,
//	    Token:     token,
//	})
//
//	handle, err := call.PlayFile("song.mp3")
//
// # Events
//
// Every subsystem publishes onto one bus. Subscribe with a filter to
// receive connection changes, speaking updates, inbound voice packets or
// mixer ticks:
//
//	call.Subscribe(events.OnKinds(events.KindDisconnect), func(ctx events.Context) events.Action {
//	    log.Printf("left: %v", ctx.(connection.Disconnected).Err)
//	    return events.Keep
//	})
//
// Per-track events (end, loop, timed callbacks) are attached through the
// track's handle with AddEvent.
//
// # Lifecycle
//
// A Call outlives its sessions: Leave disconnects but keeps the mixer and
// its tracks, so Join may be called again. Close tears everything down.
package voxcore
