package longpoll

import (
	"fmt"
	"net"
)

// Framing selects how events are written to a registered connection.
type Framing int

const (
	// FramingSSE writes text/event-stream frames via FormatEvent.
	FramingSSE Framing = iota
	// FramingChunked writes each event's Data as a raw HTTP/1.1 chunk,
	// for handlers that want bare server push without SSE semantics.
	FramingChunked
)

// Serve pumps events published to clientID directly onto conn until the
// client disconnects or the broker closes it, using the given framing.
// The caller hands over a net.Conn it already owns; the broker owns the
// connection's outbound writes from then on. The dispatch pipeline does not
// pass a request's connection to handlers, so conn comes from host code.
func (b *Broker) Serve(conn net.Conn, clientID string, framing Framing, bufferSize int) error {
	client := NewClient(clientID, bufferSize)
	if err := b.Register(client); err != nil {
		return err
	}
	defer b.Unregister(client)

	for {
		event, ok := <-client.Channel
		if !ok {
			return nil
		}

		var frame []byte
		switch framing {
		case FramingChunked:
			frame = chunkFrame([]byte(event.Data))
		default:
			frame = FormatEvent(event)
		}

		if _, err := conn.Write(frame); err != nil {
			return err
		}
	}
}

func chunkFrame(data []byte) []byte {
	return []byte(fmt.Sprintf("%x\r\n%s\r\n", len(data), data))
}
