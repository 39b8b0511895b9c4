package fastq

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Suffix is the extension every sequencing read file carries.
const Suffix = ".fastq.gz"

// ErrNotReadFile indicates a file name does not follow the read-file grammar.
var ErrNotReadFile = errors.New("not a sequencing read file name")

// Name is a parsed read-file name of the form
//
//	<sample_id>_R<mate>_<index>.fastq.gz
//
// where mate is a single digit and index is exactly three digits.
type Name struct {
	SampleID string
	Mate     int
	Index    string
}

// String reassembles the file name.
func (n Name) String() string {
	return fmt.Sprintf("%s_R%d_%s%s", n.SampleID, n.Mate, n.Index, Suffix)
}

// ParseName parses a base file name. Any name outside the grammar returns
// ErrNotReadFile.
//
// The sample id is everything before the final "_R<digit>_<ddd>" group, so
// ids that themselves contain underscores or "_R" are kept intact.
func ParseName(base string) (Name, error) {
	stem, ok := strings.CutSuffix(base, Suffix)
	if !ok {
		return Name{}, ErrNotReadFile
	}

	cut := strings.LastIndexByte(stem, '_')
	if cut < 0 {
		return Name{}, ErrNotReadFile
	}
	index := stem[cut+1:]
	if !isDigits(index, 3) {
		return Name{}, ErrNotReadFile
	}
	stem = stem[:cut]

	cut = strings.LastIndexByte(stem, '_')
	if cut < 1 {
		return Name{}, ErrNotReadFile
	}
	mate := stem[cut+1:]
	if len(mate) != 2 || mate[0] != 'R' || !isDigits(mate[1:], 1) {
		return Name{}, ErrNotReadFile
	}
	m, _ := strconv.Atoi(mate[1:])

	return Name{SampleID: stem[:cut], Mate: m, Index: index}, nil
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
