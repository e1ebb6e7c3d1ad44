// Package flipper implements the serial-over-BLE transport to a Flipper: the
// connect state machine, notification activation, line framing and the error
// taxonomy reported to the presentation layer.
package flipper

// GATT layout of the Flipper serial service
const (
	ServiceUUID = "8fe5b3d5-2e7f-4a98-2a48-7acc60fe0000"
	WriteUUID   = "19ed82ae-ed21-4c9d-4145-228e61fe0000"
	NotifyUUID  = "19ed82ae-ed21-4c9d-4145-228e62fe0000"
	CCCDUUID    = "00002902-0000-1000-8000-00805f9b34fb"
)

// LineTerminator is appended to every outbound line
const LineTerminator = "\r"

// cccdEnableNotify is 0x0001 little-endian
var cccdEnableNotify = []byte{0x01, 0x00}

// Frame encodes one outbound line
func Frame(text string) []byte {
	return []byte(text + LineTerminator)
}
