package presenter

import "github.com/srg/flipble/pkg/flipper"

// Multi fans every call out to each presenter in order. Nil entries are skipped.
type Multi []flipper.Presenter

func NewMulti(presenters ...flipper.Presenter) Multi {
	out := make(Multi, 0, len(presenters))
	for _, p := range presenters {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m Multi) Log(tag flipper.Tag, text string) {
	for _, p := range m {
		p.Log(tag, text)
	}
}

func (m Multi) ConnectionChanged(connected bool, name string) {
	for _, p := range m {
		p.ConnectionChanged(connected, name)
	}
}
