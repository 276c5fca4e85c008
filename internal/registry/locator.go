package registry

import "fmt"

// Locator addresses a value within a source's raw frame. The set of
// implementations is closed: SimField, Derived, BusWord, SentenceField.
type Locator interface {
	Source() SourceKind
	group() Group
	position() int
}

// SimField is a field of a simulator data set (Pos 0..7).
type SimField struct {
	Set int
	Pos int
}

func (SimField) Source() SourceKind { return Simulator }
func (l SimField) group() Group     { return SetGroup(l.Set) }
func (l SimField) position() int    { return l.Pos }

// Derived is a simulator variable computed from the whole frame rather than
// read from one field. Pos only orders derived variables.
type Derived struct {
	Pos int
}

func (Derived) Source() SourceKind { return Simulator }
func (Derived) group() Group       { return Group{} }
func (l Derived) position() int    { return l.Pos }

// BusWord is an ARINC 429 label received on a gateway channel.
type BusWord struct {
	Channel int
	Label   int
}

func (BusWord) Source() SourceKind { return Bus }
func (l BusWord) group() Group     { return ChannelGroup(l.Channel) }
func (l BusWord) position() int    { return l.Label }

// SentenceField is an element of the tuple decoded from an NMEA sentence.
type SentenceField struct {
	Sentence string
	Pos      int
}

func (SentenceField) Source() SourceKind { return GNSS }
func (l SentenceField) group() Group     { return SentenceGroup(l.Sentence) }
func (l SentenceField) position() int    { return l.Pos }

// Group is the first-level key of a lookup table: a simulator data set, a
// bus channel, or an NMEA sentence type.
type Group struct {
	ID       int
	Sentence string
}

func SetGroup(set int) Group              { return Group{ID: set} }
func ChannelGroup(channel int) Group      { return Group{ID: channel} }
func SentenceGroup(sentence string) Group { return Group{Sentence: sentence} }

func (g Group) String() string {
	if g.Sentence != "" {
		return g.Sentence
	}
	return fmt.Sprintf("%d", g.ID)
}
