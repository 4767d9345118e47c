package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// RuleKind identifies the recurrence variant of a rule.
type RuleKind string

const (
	KindDaily   RuleKind = "daily"
	KindWeekly  RuleKind = "weekly"
	KindMonthly RuleKind = "monthly"
	KindHourly  RuleKind = "hourly"
)

// Rule describes how often a job runs. It is a closed tagged variant: the
// Kind selects which of the remaining fields are meaningful. Rules are
// validated at construction and never fail at evaluation time.
type Rule struct {
	Kind    RuleKind
	Hour    int          // daily, weekly, monthly
	Minute  int          // all kinds
	Weekday time.Weekday // weekly only
	Day     int          // monthly only, 1..31
}

// exprParser accepts the standard 5-field crontab syntax. Canonical
// expressions emitted by Expr must parse under it, which keeps the persisted
// form consumable by ordinary cron tooling.
var exprParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NewDaily returns a rule firing every day at the given HH:MM clock time.
func NewDaily(clock string) (Rule, error) {
	h, m, err := parseClock(clock)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: KindDaily, Hour: h, Minute: m}, nil
}

// NewWeekly returns a rule firing once a week on the given weekday at HH:MM.
// The weekday accepts full English names or 3-letter prefixes, case-insensitive.
func NewWeekly(weekday, clock string) (Rule, error) {
	wd, err := parseWeekday(weekday)
	if err != nil {
		return Rule{}, err
	}
	h, m, err := parseClock(clock)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: KindWeekly, Hour: h, Minute: m, Weekday: wd}, nil
}

// NewMonthly returns a rule firing once a month on the given day at HH:MM.
// Months shorter than the configured day roll to their last valid day.
func NewMonthly(day int, clock string) (Rule, error) {
	if day < 1 || day > 31 {
		return Rule{}, fmt.Errorf("%w: day of month %d out of range 1..31", ErrInvalidRecurrence, day)
	}
	h, m, err := parseClock(clock)
	if err != nil {
		return Rule{}, err
	}
	return Rule{Kind: KindMonthly, Hour: h, Minute: m, Day: day}, nil
}

// NewHourly returns a rule firing every hour at the given minute.
func NewHourly(minute int) (Rule, error) {
	if minute < 0 || minute > 59 {
		return Rule{}, fmt.Errorf("%w: minute %d out of range 0..59", ErrInvalidRecurrence, minute)
	}
	return Rule{Kind: KindHourly, Minute: minute}, nil
}

// Next returns the earliest instant strictly after `after` matching the rule.
func (r Rule) Next(after time.Time) time.Time {
	switch r.Kind {
	case KindHourly:
		c := time.Date(after.Year(), after.Month(), after.Day(), after.Hour(), r.Minute, 0, 0, after.Location())
		if !c.After(after) {
			c = c.Add(time.Hour)
		}
		return c

	case KindDaily:
		c := time.Date(after.Year(), after.Month(), after.Day(), r.Hour, r.Minute, 0, 0, after.Location())
		if !c.After(after) {
			c = time.Date(after.Year(), after.Month(), after.Day()+1, r.Hour, r.Minute, 0, 0, after.Location())
		}
		return c

	case KindWeekly:
		c := time.Date(after.Year(), after.Month(), after.Day(), r.Hour, r.Minute, 0, 0, after.Location())
		days := (int(r.Weekday) - int(c.Weekday()) + 7) % 7
		c = c.AddDate(0, 0, days)
		if !c.After(after) {
			c = c.AddDate(0, 0, 7)
		}
		return c

	case KindMonthly:
		// Clamping makes every month a candidate, so at most two iterations
		// are needed; the loop bound mirrors the 12-month wrap contract.
		for i := 0; i <= 12; i++ {
			y, mo := after.Year(), after.Month()+time.Month(i)
			day := r.Day
			if last := daysInMonth(y, mo); day > last {
				day = last
			}
			c := time.Date(y, mo, day, r.Hour, r.Minute, 0, 0, after.Location())
			if c.After(after) {
				return c
			}
		}
	}
	// Unreachable for constructed rules.
	return time.Time{}
}

// Expr returns the canonical 5-field cron expression for the rule. The
// output round-trips through ParseExpr.
func (r Rule) Expr() string {
	switch r.Kind {
	case KindHourly:
		return fmt.Sprintf("%d * * * *", r.Minute)
	case KindDaily:
		return fmt.Sprintf("%d %d * * *", r.Minute, r.Hour)
	case KindWeekly:
		return fmt.Sprintf("%d %d * * %d", r.Minute, r.Hour, int(r.Weekday))
	case KindMonthly:
		return fmt.Sprintf("%d %d %d * *", r.Minute, r.Hour, r.Day)
	}
	return ""
}

// ParseExpr parses a canonical cron expression produced by Expr back into a
// rule. Arbitrary cron expressions outside the four supported shapes are
// rejected.
func ParseExpr(expr string) (Rule, error) {
	if _, err := exprParser.Parse(expr); err != nil {
		return Rule{}, fmt.Errorf("%w: %q: %v", ErrInvalidRecurrence, expr, err)
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Rule{}, fmt.Errorf("%w: %q: expected 5 fields", ErrInvalidRecurrence, expr)
	}
	minute, hour, dom, month, dow := fields[0], fields[1], fields[2], fields[3], fields[4]
	if month != "*" {
		return Rule{}, fmt.Errorf("%w: %q: month field must be *", ErrInvalidRecurrence, expr)
	}

	m, err := atoiField(minute)
	if err != nil || m < 0 || m > 59 {
		return Rule{}, fmt.Errorf("%w: %q: bad minute field", ErrInvalidRecurrence, expr)
	}

	if hour == "*" {
		if dom != "*" || dow != "*" {
			return Rule{}, fmt.Errorf("%w: %q: hourly rules take only a minute", ErrInvalidRecurrence, expr)
		}
		return Rule{Kind: KindHourly, Minute: m}, nil
	}

	h, err := atoiField(hour)
	if err != nil || h < 0 || h > 23 {
		return Rule{}, fmt.Errorf("%w: %q: bad hour field", ErrInvalidRecurrence, expr)
	}

	switch {
	case dom == "*" && dow == "*":
		return Rule{Kind: KindDaily, Hour: h, Minute: m}, nil
	case dom == "*":
		d, err := atoiField(dow)
		if err != nil || d < 0 || d > 6 {
			return Rule{}, fmt.Errorf("%w: %q: bad weekday field", ErrInvalidRecurrence, expr)
		}
		return Rule{Kind: KindWeekly, Hour: h, Minute: m, Weekday: time.Weekday(d)}, nil
	case dow == "*":
		d, err := atoiField(dom)
		if err != nil || d < 1 || d > 31 {
			return Rule{}, fmt.Errorf("%w: %q: bad day-of-month field", ErrInvalidRecurrence, expr)
		}
		return Rule{Kind: KindMonthly, Hour: h, Minute: m, Day: d}, nil
	}
	return Rule{}, fmt.Errorf("%w: %q: cannot combine day-of-month and weekday", ErrInvalidRecurrence, expr)
}

// String renders the rule for human display in list output.
func (r Rule) String() string {
	switch r.Kind {
	case KindHourly:
		return fmt.Sprintf("hourly at minute %02d", r.Minute)
	case KindDaily:
		return fmt.Sprintf("daily at %02d:%02d", r.Hour, r.Minute)
	case KindWeekly:
		return fmt.Sprintf("weekly on %s at %02d:%02d", r.Weekday, r.Hour, r.Minute)
	case KindMonthly:
		return fmt.Sprintf("monthly on day %d at %02d:%02d", r.Day, r.Hour, r.Minute)
	}
	return "unset"
}

// MarshalYAML persists the rule as its canonical cron expression.
func (r Rule) MarshalYAML() (interface{}, error) {
	return r.Expr(), nil
}

// UnmarshalYAML restores a rule from its canonical cron expression.
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	var expr string
	if err := value.Decode(&expr); err != nil {
		return err
	}
	parsed, err := ParseExpr(expr)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func parseClock(clock string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(clock), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidRecurrence, clock)
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("%w: time %q is not a valid 24h HH:MM", ErrInvalidRecurrence, clock)
	}
	return h, m, nil
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

func parseWeekday(name string) (time.Weekday, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if wd, ok := weekdayNames[n]; ok {
		return wd, nil
	}
	if len(n) >= 3 {
		for full, wd := range weekdayNames {
			if strings.HasPrefix(full, n) {
				return wd, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: unknown weekday %q", ErrInvalidRecurrence, name)
}

func atoiField(s string) (int, error) {
	return strconv.Atoi(s)
}

func daysInMonth(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
