package domain

import (
	"fmt"
	"strconv"
	"time"
)

// timestampLayout — ISO8601 с микросекундами, двоеточия заменены на дефисы,
// чтобы timestamp можно было использовать как имя директории.
// Пример: 2016-05-09T16-43-32.080740
const timestampLayout = "2006-01-02T15-04-05.000000"

// GenerateTimestamp форматирует момент времени в локальной зоне.
func GenerateTimestamp(t time.Time) string {
	return t.Local().Format(timestampLayout)
}

// ParseTimestamp разбирает результат GenerateTimestamp обратно (локальная зона).
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, s, err)
	}
	return t, nil
}

// FormatTimestampZone — GenerateTimestamp с суффиксом смещения зоны
// в виде +08-00.
func FormatTimestampZone(t time.Time) string {
	_, offset := t.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	return fmt.Sprintf("%s%c%02d-%02d", t.Format(timestampLayout), sign, offset/3600, (offset%3600)/60)
}

// TimestampToEpoch переводит timestamp с зоной (FormatTimestampZone)
// в epoch-секунды с микросекундной точностью.
// Суффикс зоны допускается как +08-00, так и +08:00.
func TimestampToEpoch(s string) (float64, error) {
	if len(s) <= 6 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	base, zone := s[:len(s)-6], s[len(s)-6:]
	if (zone[0] != '+' && zone[0] != '-') || (zone[3] != '-' && zone[3] != ':') {
		return 0, fmt.Errorf("%w: bad zone suffix in %q", ErrInvalidTimestamp, s)
	}
	hours, err := strconv.Atoi(zone[1:3])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}
	minutes, err := strconv.Atoi(zone[4:6])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
	}

	t, err := time.Parse(timestampLayout, base)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrInvalidTimestamp, s, err)
	}

	offset := time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	if zone[0] == '-' {
		offset = -offset
	}
	t = t.Add(-offset)

	return float64(t.UnixMicro()) / 1e6, nil
}
