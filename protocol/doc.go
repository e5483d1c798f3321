package protocol

// This package implements parsing and serialising for the protocol that
// tvgate uses to communicate with its client devices.
//
// This protocol aims to be
//
// - easy to implement
// - efficient to parse
// - be human readable
//
// Every wire unit is a Record. A Record is one CRLF-terminated line with
// three parts: a kind digit, a sequence token and a body.
//
// - `Request`  - kind 0. One side asks the other to do something.
// - `Response` - kind 1. The answer to a Request, carrying ok/fail.
// - `Approve`  - kind 2. Acknowledges a Response and ends the exchange.
//
// === General syntax
//
//   ```
//   record   := kind SP seq SP body CRLF
//   kind     := "0" | "1" | "2"
//   body     := command (SP arg)*              ; kind 0
//             | status SP command (SP arg)*    ; kind 1 and 2
//   status   := "ok" | "fail"
//   ```
//
// - lines are `\r\n` delimited
// - command names are case sensitive, lowercase ASCII
// - arguments use shell style quoting: unquoted tokens split on spaces,
//   double-quoted tokens may contain spaces, and a token may itself be a
//   JSON blob
//
// === Sequence tokens
//
// Either side can originate a Request, so both interleave freely on one
// connection. The seq token lets the receiver associate a Response with
// the right Request. The server treats seq as an opaque string; its own
// requests use a lowercase-hex counter, but requests injected from the
// external bus keep whatever seq the bus supplied.
//
// For example
//   ```
//     0 a1 client_ping\r\n
//     1 a1 ok client_ping {"timestamp":1}\r\n
//   ```
//
// Note: requests and their responses interleave with other exchanges, but
// a single record is atomic. You will never receive half of one record,
// then an entire other record, then the rest of the first.
//
// === Commands
//
// Client to server: client_ping, get_server_info, get_channels,
// get_runtime_channel_info, client_send_chat_message.
//
// Server to client: server_ping, who_are_you, get_client_info,
// server_send_chat_message.
//
// === Failure responses
//
//   ```
//     0 a2 get_channels\r\n
//     1 a2 fail get_channels <reason>\r\n
//   ```
//
// Where `<reason>` is a human readable string. The protocol does not
// enumerate reasons.
