// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package trace

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// TimeRange is an inclusive range of nanosecond timestamps.
type TimeRange struct {
	Start int64
	End   int64
}

// AllTime is the TimeRange that includes every timestamp.
var AllTime = TimeRange{Start: math.MinInt64, End: math.MaxInt64}

// Contains returns true if ts is within tr.
func (tr TimeRange) Contains(ts int64) bool { return tr.Start <= ts && ts <= tr.End }

// Overlaps returns true if [begin, end] shares a timestamp with tr. An
// inverted range overlaps nothing.
func (tr TimeRange) Overlaps(begin, end int64) bool {
	return tr.Start <= tr.End && begin <= tr.End && end >= tr.Start
}

func (tr TimeRange) String() string {
	var parts [2]string
	if tr.Start != math.MinInt64 {
		parts[0] = strconv.FormatInt(tr.Start, 10)
	}
	if tr.End != math.MaxInt64 {
		parts[1] = strconv.FormatInt(tr.End, 10)
	}
	return fmt.Sprintf("%s,%s", parts[0], parts[1])
}

// TimeRangeFlag is a pflag.Value implementation that stores a TimeRange.
//
// It is expressed as "START,END" in nanoseconds. Either bound may be omitted
// to leave that side of the range open.
type TimeRangeFlag TimeRange

var _ pflag.Value = (*TimeRangeFlag)(nil)

func (trf *TimeRangeFlag) String() string { return TimeRange(*trf).String() }

// Set implements pflag.Value.
func (trf *TimeRangeFlag) Set(v string) error {
	parts := strings.SplitN(v, ",", 2)
	if len(parts) != 2 {
		return errors.Errorf("time range %q must be START,END", v)
	}

	tr := AllTime
	for i, bound := range []*int64{&tr.Start, &tr.End} {
		p := strings.TrimSpace(parts[i])
		if p == "" {
			continue
		}
		ts, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid time range bound %q", p)
		}
		*bound = ts
	}
	*trf = TimeRangeFlag(tr)
	return nil
}

// Type implements pflag.Value.
func (trf *TimeRangeFlag) Type() string { return "trace.TimeRange" }

// Value returns the TimeRange held by this flag.
func (trf TimeRangeFlag) Value() TimeRange { return TimeRange(trf) }
