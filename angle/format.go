package angle

import (
	"fmt"
	"math"
	"strings"
)

type unit int

const (
	unitDegrees unit = iota
	unitHours
)

func (f Format) render(v float64, u unit) string {
	sign := ""
	if v < 0 {
		sign = "-"
	}
	switch f {
	case DMS:
		w, m, s := split(math.Abs(v), 100)
		if u == unitHours {
			return fmt.Sprintf("%s%02dh%02dm%05.2fs", sign, w, m, s)
		}
		return fmt.Sprintf("%s%02d°%02d'%05.2f\"", sign, w, m, s)
	case Colon:
		w, m, s := split(math.Abs(v), 100)
		return fmt.Sprintf("%s%02d:%02d:%05.2f", sign, w, m, s)
	case Compact:
		w, m, s := split(math.Abs(v), 1)
		return fmt.Sprintf("%s%02d%02d%02.0f", sign, w, m, s)
	}
	out := strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.6f", v), "0"), ".")
	if u == unitHours {
		return out + "h"
	}
	return out + "°"
}

// split breaks a non-negative value into whole, minutes and seconds with
// the seconds rounded to 1/scale, carrying into minutes and whole units so
// 59.999" never renders as 60.00".
func split(a float64, scale float64) (int, int, float64) {
	ticks := math.Round(a * 3600 * scale)
	perWhole := 3600 * scale
	perMinute := 60 * scale
	w := math.Floor(ticks / perWhole)
	ticks -= w * perWhole
	m := math.Floor(ticks / perMinute)
	ticks -= m * perMinute
	return int(w), int(m), ticks / scale
}
