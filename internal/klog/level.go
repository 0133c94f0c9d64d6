package klog

// MaskLevel selects which leveled messages are written. Masks can be
// combined, e.g. ErrorMask|WarnMask.
type MaskLevel uint8

const (
	Nothing   MaskLevel = 0x0
	ErrorMask MaskLevel = 0x1
	WarnMask  MaskLevel = 0x2
	InfoMask  MaskLevel = 0x4
	DebugMask MaskLevel = 0x8
	StatsMask MaskLevel = 0x10
	fatalMask MaskLevel = 0x80

	// DefaultLevel prints everything but debug output.
	DefaultLevel = ErrorMask | WarnMask | InfoMask | StatsMask
)

var levelNames = map[string]MaskLevel{
	"error": ErrorMask,
	"warn":  ErrorMask | WarnMask,
	"info":  ErrorMask | WarnMask | InfoMask | StatsMask,
	"debug": ErrorMask | WarnMask | InfoMask | StatsMask | DebugMask,
	"none":  Nothing,
}

// ParseLevel maps a threshold name (error, warn, info, debug, none) to the
// mask that prints that level and everything more severe.
func ParseLevel(name string) (MaskLevel, bool) {
	m, ok := levelNames[name]
	return m, ok
}

func (m MaskLevel) tag() string {
	switch m {
	case ErrorMask:
		return "ERROR: "
	case WarnMask:
		return "WARN: "
	case DebugMask:
		return "DEBUG: "
	case StatsMask:
		return "STATS: "
	}
	return ""
}
