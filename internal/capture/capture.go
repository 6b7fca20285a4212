// Package capture persists numbered screen frames with content-based
// deduplication.
package capture

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir is the sole writer of frame files for a session. Frame numbers start
// at 1 and are contiguous; a new pair of files is written only when the
// plain text differs from the previously persisted frame.
type Dir struct {
	dir  string
	seq  int
	last string
	has  bool
}

// Open creates the frames directory if needed.
func Open(dir string) (*Dir, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create frames dir: %w", err)
	}
	return &Dir{dir: dir}, nil
}

// FrameName formats a frame number the way frame files are named.
func FrameName(seq int) string {
	return fmt.Sprintf("%06d", seq)
}

// Offer persists the screen as the next frame, unless the plain text is
// identical to the last persisted frame, in which case the existing frame
// number is returned and wrote is false.
func (d *Dir) Offer(plain, styled string) (seq int, wrote bool, err error) {
	if d.has && plain == d.last {
		return d.seq, false, nil
	}
	d.seq++
	name := FrameName(d.seq)
	if err := os.WriteFile(filepath.Join(d.dir, name+".txt"), []byte(plain), 0o644); err != nil {
		return 0, false, fmt.Errorf("failed to write frame: %w", err)
	}
	if err := os.WriteFile(filepath.Join(d.dir, name+".ansi.txt"), []byte(styled), 0o644); err != nil {
		return 0, false, fmt.Errorf("failed to write frame: %w", err)
	}
	if err := d.updateLatest(name + ".txt"); err != nil {
		return 0, false, err
	}
	d.last = plain
	d.has = true
	return d.seq, true, nil
}

// Latest returns the highest persisted frame number, 0 if none.
func (d *Dir) Latest() int {
	return d.seq
}

// updateLatest repoints latest.txt at the newest plain frame.
func (d *Dir) updateLatest(target string) error {
	latest := filepath.Join(d.dir, "latest.txt")
	_ = os.Remove(latest)
	if err := os.Symlink(target, latest); err != nil {
		return fmt.Errorf("failed to update latest.txt: %w", err)
	}
	return nil
}
