package depot

import (
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
)

// Dirs is the filesystem layout of one fuzzing run's output directory.
type Dirs struct {
	Out     string
	Queue   string
	Hangs   string
	Crashes string
	Amps    string
}

// NewDirs lays out (and creates, if missing) the standard subdirectories
// under outDir.
func NewDirs(fs afero.Fs, outDir string) (Dirs, error) {
	d := Dirs{
		Out:     outDir,
		Queue:   filepath.Join(outDir, "queue"),
		Hangs:   filepath.Join(outDir, "hangs"),
		Crashes: filepath.Join(outDir, "crashes"),
		Amps:    filepath.Join(outDir, "amps"),
	}
	for _, dir := range []string{d.Queue, d.Hangs, d.Crashes, d.Amps} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return Dirs{}, err
		}
	}
	return d, nil
}

// fileName is the depot's numeric-id naming convention for queue/hangs/
// crashes entries.
func fileName(dir string, id int) string {
	return filepath.Join(dir, idName(id))
}

func idName(id int) string {
	return "id_" + strconv.Itoa(id)
}
