package eventlog

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntryID is a stream entry id of the form <epoch-millis>-<sequence>.
// The sequence disambiguates entries published within the same
// millisecond, so ids are strictly increasing per stream key.
type EntryID struct {
	Ms  int64
	Seq int64
}

// ZeroID ("0-0") is the cursor meaning "from the beginning".
var ZeroID = EntryID{}

func (id EntryID) String() string {
	return fmt.Sprintf("%d-%d", id.Ms, id.Seq)
}

func (id EntryID) IsZero() bool {
	return id.Ms == 0 && id.Seq == 0
}

// After reports whether id orders strictly after other.
func (id EntryID) After(other EntryID) bool {
	if id.Ms != other.Ms {
		return id.Ms > other.Ms
	}
	return id.Seq > other.Seq
}

// ParseID parses "<ms>-<seq>". A bare millisecond value is accepted with
// an implied sequence of 0, matching the usual cursor shorthand.
func ParseID(s string) (EntryID, error) {
	if s == "" {
		return EntryID{}, fmt.Errorf("empty entry id")
	}

	msPart, seqPart, found := strings.Cut(s, "-")

	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil || ms < 0 {
		return EntryID{}, fmt.Errorf("invalid entry id %q", s)
	}

	var seq int64
	if found {
		seq, err = strconv.ParseInt(seqPart, 10, 64)
		if err != nil || seq < 0 {
			return EntryID{}, fmt.Errorf("invalid entry id %q", s)
		}
	}

	return EntryID{Ms: ms, Seq: seq}, nil
}

// nextAfter allocates the id following last at time now. The sequence
// resets when the millisecond advances; if the clock stalls or steps
// back, the previous millisecond is carried forward so ids never regress.
// Callers must hold the stream's guard.
func nextAfter(last EntryID, now time.Time) EntryID {
	ms := now.UnixMilli()
	if ms <= last.Ms {
		return EntryID{Ms: last.Ms, Seq: last.Seq + 1}
	}
	return EntryID{Ms: ms, Seq: 0}
}

// MarshalJSON renders the id as its string form.
func (id EntryID) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(id.String())), nil
}

func (id *EntryID) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("entry id must be a string: %w", err)
	}
	parsed, err := ParseID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
