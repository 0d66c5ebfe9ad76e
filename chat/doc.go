// Package chat connects to a live broadcast's chat and forwards its events.
//
// It provides:
//   - Session: the connection state machine. Connect opens a Provider handle
//     for a video and starts one polling goroutine; Disconnect tears it down.
//     Every connect mints a generation token and a polling loop stops as soon
//     as its token is no longer current, so a stale loop never forwards events
//     after a reconnect.
//   - Providers: YouTubeProvider polls the YouTube Data API live chat
//     endpoint; TwitchProvider buffers messages from Twitch IRC.
//   - Dispatcher: normalizes raw events into Messages, drops blacklisted
//     ones, fans accepted messages out to MessageSinks, and queues the text of
//     every non-System message for speech.
//
// Notifications (progress, warnings, disconnects) are plain strings sent to a
// Notifier; the controller republishes them as System messages.
package chat
