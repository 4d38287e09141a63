// Package usage parses the free-text usage specifier of a guest link.
//
// A specifier holds at most two comma-separated tokens. An integer token is
// the maximum number of uses; an absolute date or date-time token is the
// expiry instant. Either may be omitted and they may come in any order:
//
//	""                  unlimited, never expires
//	"1"                 single use
//	"2014-07-12"        expires at midnight of 2014-07-12 in the default zone
//	"1, 2014-07-12 09:00"
//
// Relative intervals such as "1 day" are not supported and are rejected as
// unparseable.
package usage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/SergeiKhy/guest-urls/internal/models"
)

const maxArguments = 2

var (
	ErrTooManyArguments    = errors.New("too many usage arguments")
	ErrUnparseableArgument = errors.New("unparseable usage argument")
)

// ArgumentError carries the token that could not be interpreted.
type ArgumentError struct {
	Token string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("%s: %q", ErrUnparseableArgument, e.Token)
}

func (e *ArgumentError) Unwrap() error {
	return ErrUnparseableArgument
}

// Limits is the parsed form of a specifier.
type Limits struct {
	MaxUses   int
	ExpiresAt *time.Time
}

// Unlimited is what an empty specifier yields.
func Unlimited() Limits {
	return Limits{MaxUses: models.UnlimitedUses}
}

// layouts carrying their own offset
var zonedLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04Z07:00",
}

// naive layouts, interpreted in the default location
var naiveLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"01/02/06 15:04:05",
	"01/02/06 15:04",
	"01/02/06",
	"02-Jan-2006 15:04",
	"02-Jan-2006",
}

// Parse interprets spec. Dates without an offset are attached to loc
// (UTC when loc is nil). When two tokens of the same kind are given the
// last one wins.
func Parse(spec string, loc *time.Location) (Limits, error) {
	if loc == nil {
		loc = time.UTC
	}

	limits := Unlimited()

	args := splitArguments(spec)
	if len(args) > maxArguments {
		return Limits{}, fmt.Errorf("%w: got %d, at most %d allowed", ErrTooManyArguments, len(args), maxArguments)
	}

	for _, arg := range args {
		if n, ok := parseMaxUses(arg); ok {
			limits.MaxUses = n
			continue
		}

		if t, ok := parseDate(arg, loc); ok {
			limits.ExpiresAt = &t
			continue
		}

		return Limits{}, &ArgumentError{Token: arg}
	}

	return limits, nil
}

func splitArguments(spec string) []string {
	var args []string
	for _, part := range strings.Split(spec, ",") {
		if part = strings.TrimSpace(part); part != "" {
			args = append(args, part)
		}
	}
	return args
}

// parseMaxUses accepts integers from the -1 "unlimited" sentinel up to models.MaxUsesLimit.
func parseMaxUses(arg string) (int, bool) {
	n, err := strconv.ParseInt(arg, 10, 32)
	if err != nil || n < models.UnlimitedUses {
		return 0, false
	}
	return int(n), true
}

func parseDate(arg string, loc *time.Location) (time.Time, bool) {
	for _, layout := range zonedLayouts {
		if t, err := time.Parse(layout, arg); err == nil {
			return t, true
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, arg, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
