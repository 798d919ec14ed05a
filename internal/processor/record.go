package processor

import "fmt"

// Values of the out_of_scope column.
const (
	InScope    = "no"
	OutOfScope = "yes"
)

// OutputColumns is the fixed leading column order of every output file.
// Preserved input columns follow in input order.
var OutputColumns = []string{
	"id",
	"pmid",
	"pmcid",
	"doi",
	"sentence",
	"batch_name",
	"sentence_id",
	"out_of_scope",
}

// State is the position of a row in the processing state machine:
// Read, Mapped, Normalized, Lookup, Emitted, or one of the terminal
// Skipped and Error states.
type State int

const (
	StateRead State = iota
	StateMapped
	StateNormalized
	StateLookup
	StateEmitted
	StateSkipped
	StateError
)

func (s State) String() string {
	switch s {
	case StateRead:
		return "read"
	case StateMapped:
		return "mapped"
	case StateNormalized:
		return "normalized"
	case StateLookup:
		return "lookup"
	case StateEmitted:
		return "emitted"
	case StateSkipped:
		return "skipped"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OutputRecord is one row of an output file.
type OutputRecord struct {
	ID         string
	PMID       string
	PMCID      string
	DOI        string
	Sentence   string
	BatchName  string
	SentenceID string
	OutOfScope string
	// Preserved holds the passthrough values in the order of Result.Header.
	Preserved []string
}

// Values returns the record as a CSV row.
func (r OutputRecord) Values() []string {
	row := make([]string, 0, len(OutputColumns)+len(r.Preserved))
	row = append(row, r.ID, r.PMID, r.PMCID, r.DOI, r.Sentence, r.BatchName, r.SentenceID, r.OutOfScope)
	return append(row, r.Preserved...)
}

// RecordID formats the id of the n-th emitted row on the given date.
func RecordID(n int, date string) string {
	return fmt.Sprintf("nlp-%d-%s", n, date)
}
