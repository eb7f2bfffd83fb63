// Package chat connects the vote coordinator to chat surfaces.
//
// Watcher polls the FACEIT chat room of every tracked match and turns
// !rehost, !cancel, !help and !status messages into coordinator calls.
// TwitchAnnouncer mirrors match events into a Twitch channel over IRC.
//
// Twitch credentials: the IRC client requires a bot username and an OAuth
// token with chat:edit scope. When TWITCH_OAUTH_TOKEN is not set the
// announcer is not started.
package chat
