package protocol

import (
	"sort"
	"strings"

	"github.com/fisaks/mountlink/internal/logging"
)

// Delimiter terminates every command and every framed reply.
const Delimiter = "#"

// UnframedReplyBytes is the size of an unframed reply: one status digit.
const UnframedReplyBytes = 1

// Reply classifies what a command sends back.
type Reply int

const (
	// FramedReply replies are terminated by Delimiter; one chunk per command.
	FramedReply Reply = iota
	// NoReply commands produce no data at all.
	NoReply
	// UnframedReply replies are UnframedReplyBytes long with no delimiter.
	UnframedReply
)

func (r Reply) String() string {
	switch r {
	case NoReply:
		return "no-reply"
	case UnframedReply:
		return "unframed"
	default:
		return "framed"
	}
}

// Descriptor is one entry of the command table.
//
// Length, when non-zero, restricts the entry to commands whose full length
// (prefix plus argument) equals Length. Commands of any other length skip the
// entry and fall through to shorter prefixes or the framed default.
type Descriptor struct {
	Prefix string
	Reply  Reply
	Length int
}

// Table is a command table sorted longest prefix first.
type Table struct {
	entries []Descriptor
}

// NewTable copies and sorts the descriptors so that a longer prefix is always
// tried before any shorter prefix it shares leading characters with.
func NewTable(descriptors []Descriptor) *Table {
	entries := make([]Descriptor, len(descriptors))
	copy(entries, descriptors)
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].Prefix) > len(entries[j].Prefix)
	})
	return &Table{entries: entries}
}

// Lookup returns the most specific descriptor matching cmd.
func (t *Table) Lookup(cmd string) (Descriptor, bool) {
	for _, d := range t.entries {
		if !strings.HasPrefix(cmd, d.Prefix) {
			continue
		}
		if d.Length != 0 && len(cmd) != d.Length {
			continue
		}
		return d, true
	}
	return Descriptor{}, false
}

// known reports whether cmd starts with any prefix of the table, regardless of
// the Length restriction.
func (t *Table) known(cmd string) bool {
	for _, d := range t.entries {
		if strings.HasPrefix(cmd, d.Prefix) {
			return true
		}
	}
	return false
}

// Classify reports how many framed chunks and unframed bytes a batch will
// produce, and whether any reply is expected at all.
func (t *Table) Classify(batch string) (expectedChunks int, expectsAnyReply bool, expectedUnframedBytes int) {
	for _, cmd := range SplitBatch(batch) {
		d, ok := t.Lookup(cmd)
		if !ok {
			d = Descriptor{Reply: FramedReply}
		}
		switch d.Reply {
		case NoReply:
			continue
		case UnframedReply:
			expectedUnframedBytes += UnframedReplyBytes
		default:
			expectedChunks++
		}
		expectsAnyReply = true
	}
	return expectedChunks, expectsAnyReply, expectedUnframedBytes
}

// Validate checks that every command in the batch is known. A rejected batch
// is logged with its content.
func (t *Table) Validate(batch string) bool {
	return t.check(batch) == nil
}

func (t *Table) check(batch string) error {
	if batch == "" {
		logging.Warn("protocol: empty batch rejected")
		return ErrEmptyBatch
	}
	if !strings.HasSuffix(batch, Delimiter) {
		logging.Warn("protocol: unterminated batch rejected", "batch", batch)
		return ErrUnterminated
	}
	for _, cmd := range SplitBatch(batch) {
		if !t.known(cmd) {
			logging.Warn("protocol: unknown command rejected", "command", cmd, "batch", batch)
			return ErrUnknownCommand
		}
	}
	return nil
}

// SplitBatch splits "cmd#cmd#" into its commands; the trailing empty segment
// is dropped.
func SplitBatch(batch string) []string {
	parts := strings.Split(batch, Delimiter)
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// Classify runs DefaultTable.Classify.
func Classify(batch string) (int, bool, int) { return DefaultTable.Classify(batch) }

// Validate runs DefaultTable.Validate.
func Validate(batch string) bool { return DefaultTable.Validate(batch) }

// DefaultTable is the mount controller command set. Membership and the
// argument lengths are vendor data; do not derive them.
var DefaultTable = NewTable([]Descriptor{
	// no reply
	{Prefix: ":AP", Reply: NoReply},
	{Prefix: ":hP", Reply: NoReply},
	{Prefix: ":KA", Reply: NoReply},
	{Prefix: ":PO", Reply: NoReply},
	{Prefix: ":Q", Reply: NoReply, Length: 2},
	{Prefix: ":Qe", Reply: NoReply},
	{Prefix: ":Qw", Reply: NoReply},
	{Prefix: ":Qn", Reply: NoReply},
	{Prefix: ":Qs", Reply: NoReply},
	{Prefix: ":Me", Reply: NoReply},
	{Prefix: ":Mw", Reply: NoReply},
	{Prefix: ":Mn", Reply: NoReply},
	{Prefix: ":Ms", Reply: NoReply},
	{Prefix: ":Mgn", Reply: NoReply, Length: 8},
	{Prefix: ":Mgs", Reply: NoReply, Length: 8},
	{Prefix: ":Mge", Reply: NoReply, Length: 8},
	{Prefix: ":Mgw", Reply: NoReply, Length: 8},
	{Prefix: ":RC", Reply: NoReply},
	{Prefix: ":RG", Reply: NoReply},
	{Prefix: ":RM", Reply: NoReply},
	{Prefix: ":RS", Reply: NoReply},
	{Prefix: ":RT", Reply: NoReply, Length: 4},
	{Prefix: ":STOP", Reply: NoReply},
	{Prefix: ":U2", Reply: NoReply},

	// unframed single status digit
	{Prefix: ":FLIP", Reply: UnframedReply},
	{Prefix: ":MA", Reply: UnframedReply},
	{Prefix: ":MS", Reply: UnframedReply},
	{Prefix: ":Sa", Reply: UnframedReply},
	{Prefix: ":Sz", Reply: UnframedReply},
	{Prefix: ":Sr", Reply: UnframedReply},
	{Prefix: ":Sd", Reply: UnframedReply},
	{Prefix: ":Sdat", Reply: UnframedReply},
	{Prefix: ":Sev", Reply: UnframedReply},
	{Prefix: ":Sg", Reply: UnframedReply},
	{Prefix: ":St", Reply: UnframedReply},
	{Prefix: ":Sw", Reply: UnframedReply},
	{Prefix: ":Sh", Reply: UnframedReply},
	{Prefix: ":So", Reply: UnframedReply},
	{Prefix: ":Slmt", Reply: UnframedReply},
	{Prefix: ":Slms", Reply: UnframedReply},
	{Prefix: ":SREF", Reply: UnframedReply},
	{Prefix: ":SRPRS", Reply: UnframedReply},
	{Prefix: ":SRTMP", Reply: UnframedReply},
	{Prefix: ":Suaf", Reply: UnframedReply},
	{Prefix: ":shutdown", Reply: UnframedReply},

	// framed
	{Prefix: ":GVD"}, {Prefix: ":GVN"}, {Prefix: ":GVP"}, {Prefix: ":GVT"}, {Prefix: ":GVZ"},
	{Prefix: ":GS"}, {Prefix: ":Ginfo"}, {Prefix: ":GR"}, {Prefix: ":GD"},
	{Prefix: ":GA"}, {Prefix: ":GZ"}, {Prefix: ":GJD1"},
	{Prefix: ":Gev"}, {Prefix: ":Gg"}, {Prefix: ":Gt"},
	{Prefix: ":GMs"}, {Prefix: ":Glmt"}, {Prefix: ":Glms"},
	{Prefix: ":GRTMP"}, {Prefix: ":GRPRS"}, {Prefix: ":GTMP1"}, {Prefix: ":GREF"},
	{Prefix: ":Guaf"}, {Prefix: ":Gdat"}, {Prefix: ":Gh"}, {Prefix: ":Go"},
	{Prefix: ":GT"}, {Prefix: ":GDUTV"},
	{Prefix: ":getain"}, {Prefix: ":getalst"}, {Prefix: ":getalp"},
	{Prefix: ":delalp"}, {Prefix: ":delalig"},
	{Prefix: ":newalig"}, {Prefix: ":newalpt"}, {Prefix: ":endalig"},
	{Prefix: ":modelcnt"}, {Prefix: ":modelnam"},
	{Prefix: ":modelld0"}, {Prefix: ":modelsv0"}, {Prefix: ":modeldel0"},
	{Prefix: ":TLEG"}, {Prefix: ":TLEL0"}, {Prefix: ":TLEP"}, {Prefix: ":TLES"}, {Prefix: ":TLEI"},
})
