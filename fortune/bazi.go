package fortune

import (
	"fmt"
	"time"

	"github.com/6tail/lunar-go/calendar"
)

// Bazi is the part of the eight-character chart used for readings
type Bazi struct {
	DayMaster string // Heavenly stem of the day pillar, e.g. 甲
	Element   string // Five-element phase of the day master, e.g. 木
	LunarDate string // Lunar month and day of birth, e.g. 七月廿五
}

// Summary renders the chart as shown to the user
func (b Bazi) Summary() string {
	return fmt.Sprintf("%s命，五行属%s", b.DayMaster, b.Element)
}

// ComputeBazi derives the day master, its element and the lunar date for a
// solar birth date.
func ComputeBazi(b BirthDate) (bazi Bazi, err error) {
	if err := b.validate(); err != nil {
		return Bazi{}, err
	}

	// The calendar library panics on dates outside its tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("calendar conversion failed for %s: %v", b, r)
		}
	}()

	lunar := calendar.NewSolar(b.Year, b.Month, b.Day, b.Hour, 0, 0).GetLunar()
	chart := lunar.GetEightChar()

	bazi = Bazi{
		DayMaster: chart.GetDayGan(),
		LunarDate: lunar.GetMonthInChinese() + "月" + lunar.GetDayInChinese(),
	}
	// GetDayWuXing covers stem and branch; the stem comes first.
	if wx := []rune(chart.GetDayWuXing()); len(wx) > 0 {
		bazi.Element = string(wx[0])
	}
	return bazi, nil
}

func (b BirthDate) validate() error {
	if b.Year < 1 || b.Year > 9999 {
		return fmt.Errorf("year out of range: %d", b.Year)
	}
	if b.Month < 1 || b.Month > 12 {
		return fmt.Errorf("month must be in 1..12, got %d", b.Month)
	}
	days := time.Date(b.Year, time.Month(b.Month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if b.Day < 1 || b.Day > days {
		return fmt.Errorf("day is out of range for month: %d", b.Day)
	}
	if b.Hour < 0 || b.Hour > 23 {
		return fmt.Errorf("hour must be in 0..23, got %d", b.Hour)
	}
	return nil
}
