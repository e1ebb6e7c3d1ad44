package flipper

// Tag classifies a presentation message
type Tag string

const (
	TagInfo    Tag = "info"
	TagData    Tag = "data"
	TagSuccess Tag = "success"
	TagError   Tag = "error"
	TagWarn    Tag = "warn"
	TagDebug   Tag = "debug"
)

// Tags lists all tags in display order
var Tags = []Tag{TagInfo, TagData, TagSuccess, TagError, TagWarn, TagDebug}

// Presenter receives everything the transport wants to show. The transport
// only pushes to it and never reads from it.
type Presenter interface {
	Log(tag Tag, text string)
	ConnectionChanged(connected bool, name string)
}

// NopPresenter discards everything
type NopPresenter struct{}

func (NopPresenter) Log(Tag, string) {}
func (NopPresenter) ConnectionChanged(bool, string) {}
