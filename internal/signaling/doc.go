// Package signaling is the websocket gateway between browsers and the
// pairing service.
//
// Each text frame is a JSON envelope {"type": "<event>", "data": {...}}.
// Inbound join, block-user and leave-call events go to the pairing service;
// offer, answer, ice-candidate and chat-message events are forwarded to the
// named partner connection as-is, with the sender's connection id attached.
// Forwarding is best-effort: a partner that is no longer connected is simply
// skipped.
package signaling
