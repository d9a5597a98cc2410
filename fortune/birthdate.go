package fortune

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidBirthDate is returned when a birth date cannot be parsed
var ErrInvalidBirthDate = errors.New("invalid birth date")

// DefaultHour is used when the birth date carries no time of day
const DefaultHour = 12

// BirthDate is a solar birth date at hour precision
type BirthDate struct {
	Year  int
	Month int
	Day   int
	Hour  int
}

// ParseBirthDate reads "YYYY-MM-DD" or "YYYY-MM-DD HH:MM" by fixed column
// positions. Separators are not checked. The hour is only read when the input
// is longer than 13 bytes; otherwise it is DefaultHour. Ranges are checked by
// ComputeBazi, not here.
func ParseBirthDate(s string) (BirthDate, error) {
	var (
		b   BirthDate
		err error
	)
	if b.Year, err = field(s, 0, 4, "year"); err != nil {
		return BirthDate{}, err
	}
	if b.Month, err = field(s, 5, 7, "month"); err != nil {
		return BirthDate{}, err
	}
	if b.Day, err = field(s, 8, 10, "day"); err != nil {
		return BirthDate{}, err
	}

	b.Hour = DefaultHour
	if len(s) > 13 {
		if b.Hour, err = field(s, 11, 13, "hour"); err != nil {
			return BirthDate{}, err
		}
	}
	return b, nil
}

func field(s string, from, to int, name string) (int, error) {
	if from > len(s) {
		from = len(s)
	}
	if to > len(s) {
		to = len(s)
	}
	raw := strings.TrimSpace(s[from:to])

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q", ErrInvalidBirthDate, name, raw)
	}
	return v, nil
}

func (b BirthDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:00", b.Year, b.Month, b.Day, b.Hour)
}
