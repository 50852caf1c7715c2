package tracklog

import (
	"github.com/sirupsen/logrus"

	"github.com/cispa/ampfuzz/internal/cond"
)

// writeAsULE encodes v in little-endian, truncated or zero-padded to n
// bytes — the probe-byte stand-in for a constant comparison operand when
// no magic bytes were observed.
func writeAsULE(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := 0; i < n && i < 8; i++ {
		out[i] = byte(v >> (8 * i))
	}
	return out
}

// deriveOffsetsAndVariables implements spec §4.6 steps 1-3: pick the
// smaller-but-nonempty taint range as the cond's primary offsets (the
// other, if the labels differ, becomes offsets_opt), then assemble the
// probe-byte "variables" so the candidate value appears first.
func deriveOffsetsAndVariables(tags map[uint32][]cond.TagSeg, c *cond.Cond, magic *[2][]byte) {
	offsets1 := tags[c.Base.Lb1]
	offsets2 := tags[c.Base.Lb2]

	if len(offsets2) == 0 || (len(offsets1) > 0 && len(offsets1) <= len(offsets2)) {
		c.Offsets = offsets1
		if c.Base.Lb2 > 0 && c.Base.Lb1 != c.Base.Lb2 {
			c.OffsetsOpt = offsets2
		}
		if magic != nil {
			c.Variables = append(append([]byte{}, magic[1]...), magic[0]...)
		} else {
			c.Variables = writeAsULE(c.Base.Arg2, int(c.Base.Size))
		}
	} else {
		c.Offsets = offsets2
		if c.Base.Lb1 > 0 && c.Base.Lb1 != c.Base.Lb2 {
			c.OffsetsOpt = offsets1
		}
		if magic != nil {
			c.Variables = append(append([]byte{}, magic[0]...), magic[1]...)
		} else {
			c.Variables = writeAsULE(c.Base.Arg1, int(c.Base.Size))
		}
	}
}

// ReadAndParse decodes a track-log file into enriched Cond values plus the
// set of libraries the target loaded. Conds in the exploit range are
// dropped unless enableExploitation is set.
func ReadAndParse(path string, enableExploitation bool) ([]*cond.Cond, []string, error) {
	data, err := GetLogData(path)
	if err != nil {
		return nil, nil, err
	}

	var condList []*cond.Cond
	for i, base := range data.CondList {
		if !enableExploitation && base.IsExploitable() {
			continue
		}
		c := cond.New(base)
		if !base.IsLength() && (base.Lb1 > 0 || base.Lb2 > 0) {
			var magic *[2][]byte
			if m, ok := data.MagicBytes[uint64(i)]; ok {
				magic = &m
			}
			deriveOffsetsAndVariables(data.Tags, c, magic)
		}
		condList = append(condList, c)
	}

	loadPaths := make([]string, 0, len(data.LoadPaths))
	for p := range data.LoadPaths {
		loadPaths = append(loadPaths, p)
	}
	return condList, loadPaths, nil
}

// LoadTrackData is ReadAndParse plus the per-run bookkeeping the executor
// needs (belong id, measured speed, OneByte state) and final filtering. A
// parse failure is logged and treated as "nothing interesting found"
// rather than aborting the run.
func LoadTrackData(path string, id uint32, speed uint32, enableExploitation bool) ([]*cond.Cond, []string) {
	condList, loadPaths, err := ReadAndParse(path, enableExploitation)
	if err != nil {
		logrus.WithField("path", path).WithError(err).Error("tracklog: parse failed")
		return nil, nil
	}

	for _, c := range condList {
		c.Base.Belong = id
		c.Speed = speed
		if len(c.Offsets) == 1 && c.Offsets[0].End-c.Offsets[0].Begin == 1 {
			c.State = cond.StateOneByte
		}
	}

	return FilterCondList(condList), loadPaths
}

// FilterCondList dedupes by identity (faster entry wins on a tie), drops
// conds already DONE, and drops synthetic length conds and conds with no
// taint offsets at all (vacuous — there is nothing for a mutator to act
// on) unless they're a switch, which legitimately carries no byte range.
func FilterCondList(list []*cond.Cond) []*cond.Cond {
	best := make(map[cond.Identity]*cond.Cond, len(list))
	order := make([]cond.Identity, 0, len(list))

	for _, c := range list {
		if c.Base.IsDone() || c.Base.IsLength() {
			continue
		}
		if len(c.Offsets) == 0 && len(c.OffsetsOpt) == 0 && !c.Base.IsSwitch() {
			continue
		}

		id := c.Identity()
		if existing, ok := best[id]; ok {
			if c.Speed < existing.Speed {
				best[id] = c
			}
			continue
		}
		best[id] = c
		order = append(order, id)
	}

	out := make([]*cond.Cond, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	return out
}
