package wire

// Frame types
const (
	TypeChatMessage  = "CHAT_MESSAGE"
	TypeTyping       = "TYPING"
	TypeNotification = "NOTIFICATION"
	TypePresence     = "PRESENCE"
	TypeError        = "ERROR"
	TypeRead         = "READ"
	TypePing         = "ping"
	TypePong         = "pong"
)

// Error codes that invalidate the session.
const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeTokenExpired = "TOKEN_EXPIRED"
	CodeInvalidToken = "INVALID_TOKEN"
)

type Direction uint8

const (
	Inbound Direction = 1 << iota
	Outbound
)

type TypeSpec struct {
	Direction Direction
	Heartbeat bool
}

var typeRegistry = map[string]TypeSpec{}

func init() {
	// Register all frame types
	RegisterType(TypeChatMessage, TypeSpec{Direction: Inbound | Outbound})
	RegisterType(TypeTyping, TypeSpec{Direction: Inbound | Outbound})
	RegisterType(TypeNotification, TypeSpec{Direction: Inbound})
	RegisterType(TypePresence, TypeSpec{Direction: Inbound})
	RegisterType(TypeError, TypeSpec{Direction: Inbound})
	RegisterType(TypeRead, TypeSpec{Direction: Outbound})
	RegisterType(TypePing, TypeSpec{Direction: Inbound | Outbound, Heartbeat: true})
	RegisterType(TypePong, TypeSpec{Direction: Inbound | Outbound, Heartbeat: true})
}

func RegisterType(name string, spec TypeSpec) {
	typeRegistry[name] = spec
}

func IsHeartbeat(name string) bool {
	spec, ok := typeRegistry[name]
	return ok && spec.Heartbeat
}

// AcceptsInbound reports whether frames of this type may arrive from the server.
func AcceptsInbound(name string) bool {
	spec, ok := typeRegistry[name]
	return ok && spec.Direction&Inbound != 0
}

func IsAuthCode(code string) bool {
	switch code {
	case CodeUnauthorized, CodeTokenExpired, CodeInvalidToken:
		return true
	}
	return false
}

// GetTypeRegistry returns the type registry for testing
func GetTypeRegistry() map[string]TypeSpec {
	return typeRegistry
}
