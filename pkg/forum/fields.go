package forum

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// hkt is used for timestamps the forums print without a zone.
var hkt = time.FixedZone("HKT", 8*60*60)

var dotNetDate = regexp.MustCompile(`^/Date\((-?\d+)([+-]\d{4})?\)/$`)

// first returns the first present, non-null value among the paths.
func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func stringField(r gjson.Result, paths ...string) string {
	v := first(r, paths...)
	switch v.Type {
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.Number:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) < 1<<53 {
			return strconv.FormatInt(int64(v.Num), 10)
		}
		return v.Raw
	}
	return ""
}

// intField reads a count that may arrive as a number or a numeric string.
// Anything unparseable is 0.
func intField(r gjson.Result, paths ...string) int {
	v := first(r, paths...)
	switch v.Type {
	case gjson.Number:
		return int(v.Num)
	case gjson.String:
		s := strings.ReplaceAll(strings.TrimSpace(v.Str), ",", "")
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f)
		}
	}
	return 0
}

// unixField reads a timestamp as Unix seconds. It accepts seconds or
// milliseconds as numbers or strings, RFC 3339 and zone-less date-times, and
// "/Date(ms)/" literals. Unknown values are 0.
func unixField(r gjson.Result, paths ...string) int64 {
	v := first(r, paths...)
	switch v.Type {
	case gjson.Number:
		return normalizeEpoch(v.Num)
	case gjson.String:
		return parseTimestamp(v.Str)
	}
	return 0
}

func normalizeEpoch(n float64) int64 {
	if n <= 0 {
		return 0
	}
	if n > 1e12 {
		n /= 1000
	}
	return int64(n)
}

func parseTimestamp(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return normalizeEpoch(f)
	}
	if m := dotNetDate.FindStringSubmatch(s); m != nil {
		ms, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0
		}
		return normalizeEpoch(float64(ms))
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix()
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006/01/02 15:04:05", "2006-01-02 15:04", "2006/01/02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, hkt); err == nil {
			return t.Unix()
		}
	}
	return 0
}
