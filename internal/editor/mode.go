package editor

// Mode is the modal editing state.
type Mode uint8

const (
	ModeNormal Mode = iota
	ModeSelect
	ModeInsert
)

func (m Mode) String() string {
	switch m {
	case ModeNormal:
		return "normal"
	case ModeSelect:
		return "select"
	case ModeInsert:
		return "insert"
	default:
		return "unknown"
	}
}
