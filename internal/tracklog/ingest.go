package tracklog

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cispa/ampfuzz/internal/cond"
)

// LogData is the accumulated content of one parsed track-log file.
type LogData struct {
	CondList   []cond.CondBase
	Tags       map[uint32][]cond.TagSeg
	MagicBytes map[uint64][2][]byte
	LoadPaths  map[string]struct{}
}

func newLogData() *LogData {
	return &LogData{
		Tags:       make(map[uint32][]cond.TagSeg),
		MagicBytes: make(map[uint64][2][]byte),
		LoadPaths:  make(map[string]struct{}),
	}
}

// GetLogData reads and decodes an entire track-log file. An empty file is
// an error (nothing was ever logged, usually a sign taint tracking isn't
// wired up); a malformed record partway through the stream is not — the
// caller gets whatever was parsed before it, with a warning.
func GetLogData(path string) (*LogData, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("tracklog: %s is empty — taint tracking produced nothing", path)
	}

	data := newLogData()
	reader := NewReader(f)

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logrus.WithField("path", path).WithError(err).Warn("tracklog: malformed record, stopping early")
			break
		}

		switch {
		case rec.Tag != nil:
			data.Tags[rec.Tag.Lb] = rec.Tag.Tag
		case rec.MagicBytes != nil:
			data.MagicBytes[rec.MagicBytes.I-1] = [2][]byte{rec.MagicBytes.Bytes0, rec.MagicBytes.Bytes1}
		case rec.Cond != nil:
			data.CondList = append(data.CondList, rec.Cond.Cond)
		case rec.Load != nil:
			data.LoadPaths[rec.Load.Path] = struct{}{}
		}
	}
	return data, nil
}
