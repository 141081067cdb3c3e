// Package protocol implements the mushroom wire protocol.
//
// A client first bootstraps with a POST of a ConnectRequest and receives a
// ConnectResponse naming the transport and the session URL. After that every
// message is a JSON array whose first element is the message type:
//
//	[-1]                              disconnect
//	[0, lastMessageID]                heartbeat (lastMessageID may be null)
//	[1, messageID, method, data]      notification
//	[2, messageID, method, data]      request
//	[3, messageID, requestID, data]   response
//	[4, messageID, requestID, data]   error
//
// Over WebSocket each text frame carries one message. The poll transport
// exchanges batches: a JSON array of messages per HTTP body.
//
// Message IDs are assigned per direction and increase monotonically. Clients
// drop messages whose ID is not greater than the last one they processed, and
// report that ID back in heartbeats so the server can discard acknowledged
// messages.
package protocol
