package wire

// Ping is the keepalive frame sent while connected.
func Ping() Frame {
	return Frame{Type: TypePing}
}

// Pong answers a server ping and acknowledges a client ping.
func Pong() Frame {
	return Frame{Type: TypePong}
}
