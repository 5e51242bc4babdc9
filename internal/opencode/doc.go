// Package opencode is a client for the OpenCode agent server.
//
// It covers the small part of the server API the bot needs: prompting a
// session, replying to questions and permission requests, and reading
// session history, diffs and provider limits.
//
// # Events
//
// The server publishes a server-sent event stream per project directory.
// DecodeEvent turns one payload into a typed Event; handle it with a type
// switch:
//
//	switch e := ev.(type) {
//	case opencode.MessageUpdated:
//	    // e.Info
//	case opencode.PartUpdated:
//	    // e.Part
//	case opencode.Unknown:
//	    // unhandled type, or e.Err != nil for a malformed payload
//	}
//
// EventSource keeps a single subscription open across disconnects:
//
//	c, _ := opencode.New("http://localhost:4096", opencode.WithBasicAuth("", password))
//	src := opencode.NewEventSource(c)
//	go func() {
//	    if err := src.Subscribe(ctx, "/path/to/project", handle); err != nil {
//	        // only opencode.ErrNoStream ends up here
//	    }
//	}()
//	defer src.Stop()
package opencode
