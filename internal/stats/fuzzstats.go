package stats

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cispa/ampfuzz/internal/bitmap"
	"github.com/cispa/ampfuzz/internal/bytecount"
	"github.com/cispa/ampfuzz/internal/cond"
)

// StrategyStats is one fuzz type's slice of the fleet-wide totals.
type StrategyStats struct {
	Time              time.Duration
	NumConds          Counter
	NumExec           Counter
	NumInputs         Counter
	NumHangs          Counter
	NumCrashes        Counter
	NumAmps           Counter
	BestAmp           bytecount.AmpByteCount
	PathAmplification bitmap.PathAmplification
	BestPathAmp       bytecount.AmpByteCount
}

func (s *StrategyStats) String() string {
	return fmt.Sprintf("CONDS: %s, EXEC: %s, TIME: %s, FOUND: %s - %s - %s - %s",
		s.NumConds.String(), s.NumExec.String(), s.Time,
		s.NumInputs.String(), s.NumHangs.String(), s.NumCrashes.String(), s.NumAmps.String())
}

// FuzzStats buckets StrategyStats by cond.FuzzType.
type FuzzStats [cond.FuzzTypeCount]StrategyStats

func (f *FuzzStats) Get(t cond.FuzzType) *StrategyStats { return &f[t] }

// Clear resets the per-cycle cond counts ahead of a fresh queue scan,
// leaving the accumulated exec/input/hang/crash/amp totals untouched.
func (f *FuzzStats) Clear() {
	for i := range f {
		f[i].NumConds.Reset()
	}
}

func (f *FuzzStats) Count(c *cond.Cond) {
	f[c.Base.FuzzType()].NumConds.Inc()
}

// MayBeModelFailure flags a likely un-modeled read function: if explore
// conds barely outnumber AFL+Other conds, taint probably isn't reaching
// the comparisons that matter.
func (f *FuzzStats) MayBeModelFailure() bool {
	explore := f[cond.FuzzExplore].NumConds.Load()
	aflAndOther := f[cond.FuzzAFL].NumConds.Load() + f[cond.FuzzOther].NumConds.Load()
	return explore+1 < aflAndOther
}

func (f *FuzzStats) MiniLogHdr() []string {
	hdr := make([]string, 0, 2*len(f))
	for i := range f {
		label := strings.ToUpper(cond.FuzzType(i).String())
		hdr = append(hdr, label+" conds", label+" execs")
	}
	return hdr
}

func (f *FuzzStats) MiniLog() []string {
	row := make([]string, 0, 2*len(f))
	for i := range f {
		row = append(row, strconv.FormatInt(f[i].NumConds.Load(), 10), strconv.FormatInt(f[i].NumExec.Load(), 10))
	}
	return row
}

func (f *FuzzStats) String() string {
	var b strings.Builder
	for i := range f {
		fmt.Fprintf(&b, "  %8s | %s\n", strings.ToUpper(cond.FuzzType(i).String()), f[i].String())
	}
	return strings.TrimRight(b.String(), "\n")
}
