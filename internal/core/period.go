package core

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// MonthNames is the label vocabulary, indexed by 0-based month.
var MonthNames = [12]string{
	"Ocak", "Şubat", "Mart", "Nisan", "Mayıs", "Haziran",
	"Temmuz", "Ağustos", "Eylül", "Ekim", "Kasım", "Aralık",
}

// Period is the normalized chronological key of a billing period.
// Month is 0-based; -1 marks a label whose month name is not recognized.
type Period struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

// MonthIndex resolves a month name to its 0-based index, or -1.
func MonthIndex(name string) int {
	for i, m := range MonthNames {
		if m == name {
			return i
		}
	}
	return -1
}

// ParsePeriodLabel strictly parses "<MonthName> <Year>".
func ParsePeriodLabel(label string) (Period, error) {
	name, rest, ok := strings.Cut(strings.TrimSpace(label), " ")
	if !ok {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidPeriodLabel, label)
	}
	month := MonthIndex(name)
	if month < 0 {
		return Period{}, fmt.Errorf("%w: unknown month %q", ErrInvalidPeriodLabel, name)
	}
	year, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || year <= 0 {
		return Period{}, fmt.Errorf("%w: bad year in %q", ErrInvalidPeriodLabel, label)
	}
	return Period{Year: year, Month: month}, nil
}

// PeriodFromLabel parses leniently: an unknown month becomes -1 and an
// unparseable year becomes 0, so degenerate labels sort before valid ones.
func PeriodFromLabel(label string) Period {
	name, rest, _ := strings.Cut(strings.TrimSpace(label), " ")
	year, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil {
		year = 0
	}
	return Period{Year: year, Month: MonthIndex(name)}
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month()) - 1}
}

// MonthName returns the vocabulary name, or "" for an unknown month.
func (p Period) MonthName() string {
	if p.Month < 0 || p.Month >= 12 {
		return ""
	}
	return MonthNames[p.Month]
}

// Label renders the period as "<MonthName> <Year>".
func (p Period) Label() string {
	return fmt.Sprintf("%s %d", p.MonthName(), p.Year)
}

// Compare orders by (Year, Month).
func (p Period) Compare(q Period) int {
	if p.Year != q.Year {
		if p.Year < q.Year {
			return -1
		}
		return 1
	}
	switch {
	case p.Month < q.Month:
		return -1
	case p.Month > q.Month:
		return 1
	}
	return 0
}

func (p Period) Before(q Period) bool {
	return p.Compare(q) < 0
}

// LastDay returns the last calendar day of the period.
func (p Period) LastDay() Date {
	return DateOf(time.Date(p.Year, time.Month(p.Month+2), 0, 0, 0, 0, 0, time.UTC))
}

// normalize derives Key from Label. The label is authoritative; a stored
// key that disagrees with it is overwritten.
func (d *DuesPeriod) normalize() {
	d.Key = PeriodFromLabel(d.Label)
}

// SortPeriodsDesc returns a copy of periods, most recent first. Ties keep
// collection order.
func SortPeriodsDesc(periods []DuesPeriod) []DuesPeriod {
	out := append([]DuesPeriod(nil), periods...)
	slices.SortStableFunc(out, func(a, b DuesPeriod) int {
		return b.Key.Compare(a.Key)
	})
	return out
}

// LatestPeriod returns the chronologically most recent period. The second
// result is false when there are no periods.
func LatestPeriod(periods []DuesPeriod) (DuesPeriod, bool) {
	if len(periods) == 0 {
		return DuesPeriod{}, false
	}
	latest := periods[0]
	for _, p := range periods[1:] {
		if latest.Key.Before(p.Key) {
			latest = p
		}
	}
	return latest, true
}
