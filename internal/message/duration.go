package message

import (
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
)

var unitMatcher = language.NewMatcher([]language.Tag{language.Russian, language.English})

type units struct{ hour, minute, second string }

var unitTable = map[string]units{
	"ru": {hour: "ч", minute: "мин", second: "сек"},
	"en": {hour: "h", minute: "min", second: "s"},
}

// DurationFormat renders remaining times in the unit words of one locale.
type DurationFormat struct {
	u units
}

// NewDurationFormat picks the closest supported locale for a BCP 47 tag.
// Unknown or empty tags fall back to Russian.
func NewDurationFormat(locale string) DurationFormat {
	tag, _ := language.MatchStrings(unitMatcher, locale)
	base, _ := tag.Base()
	u, ok := unitTable[base.String()]
	if !ok {
		u = unitTable["ru"]
	}
	return DurationFormat{u: u}
}

// Remaining formats d as hours, minutes and seconds. Leading zero units are
// omitted and negative values clamp to zero: "45 сек", "2 мин 5 сек",
// "1 ч 0 мин 3 сек".
func (f DurationFormat) Remaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	h, m, s := secs/3600, (secs%3600)/60, secs%60

	var b strings.Builder
	if h > 0 {
		b.WriteString(strconv.FormatInt(h, 10) + " " + f.u.hour + " ")
	}
	if m > 0 || h > 0 {
		b.WriteString(strconv.FormatInt(m, 10) + " " + f.u.minute + " ")
	}
	b.WriteString(strconv.FormatInt(s, 10) + " " + f.u.second)
	return b.String()
}

// Span formats a configured length with whole hours and minutes only:
// "30 мин", "1 ч 30 мин". Spans under a minute fall back to Remaining.
func (f DurationFormat) Span(d time.Duration) string {
	if d < time.Minute {
		return f.Remaining(d)
	}
	mins := int64(d / time.Minute)
	h, m := mins/60, mins%60
	var parts []string
	if h > 0 {
		parts = append(parts, strconv.FormatInt(h, 10)+" "+f.u.hour)
	}
	if m > 0 {
		parts = append(parts, strconv.FormatInt(m, 10)+" "+f.u.minute)
	}
	return strings.Join(parts, " ")
}
