package proto

import "strconv"

// ConnectCode is the result of a broker connect attempt. Negative values are
// transport failures; positive values are refusals reported by the broker.
// ConnectPending is not a failure: the attempt is still running.
type ConnectCode int

const (
	ConnectPending                     ConnectCode = -3
	ConnectRefused                     ConnectCode = -2
	ConnectTimeout                     ConnectCode = -1
	ConnectSuccess                     ConnectCode = 0
	ConnectUnacceptableProtocolVersion ConnectCode = 1
	ConnectIdentifierRejected          ConnectCode = 2
	ConnectServerUnavailable           ConnectCode = 3
	ConnectBadUserNameOrPassword       ConnectCode = 4
	ConnectNotAuthorized               ConnectCode = 5
)

func (c ConnectCode) String() string {
	switch c {
	case ConnectPending:
		return "MQTT_CONNECT_PENDING"
	case ConnectRefused:
		return "MQTT_CONNECTION_REFUSED"
	case ConnectTimeout:
		return "MQTT_CONNECTION_TIMEOUT"
	case ConnectSuccess:
		return "MQTT_SUCCESS"
	case ConnectUnacceptableProtocolVersion:
		return "MQTT_UNACCEPTABLE_PROTOCOL_VERSION"
	case ConnectIdentifierRejected:
		return "MQTT_IDENTIFIER_REJECTED"
	case ConnectServerUnavailable:
		return "MQTT_SERVER_UNAVAILABLE"
	case ConnectBadUserNameOrPassword:
		return "MQTT_BAD_USER_NAME_OR_PASSWORD"
	case ConnectNotAuthorized:
		return "MQTT_NOT_AUTHORIZED"
	default:
		return "MQTT_CONNECT_ERROR(" + strconv.Itoa(int(c)) + ")"
	}
}

func (c ConnectCode) Error() string {
	return "mqtt connect: " + c.String()
}

// ConnectCodeFromReason maps an MQTT CONNACK reason code (v3.1.1 return codes
// and v5 reason codes) onto a ConnectCode.
func ConnectCodeFromReason(reason byte) ConnectCode {
	switch reason {
	case 0x00:
		return ConnectSuccess
	case 0x01, 0x84:
		return ConnectUnacceptableProtocolVersion
	case 0x02, 0x85:
		return ConnectIdentifierRejected
	case 0x03, 0x88, 0x89:
		return ConnectServerUnavailable
	case 0x04, 0x86:
		return ConnectBadUserNameOrPassword
	case 0x05, 0x87:
		return ConnectNotAuthorized
	default:
		return ConnectRefused
	}
}
