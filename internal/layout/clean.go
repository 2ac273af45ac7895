package layout

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrUserAbort is returned when the user declines to clear a non-empty directory.
var ErrUserAbort = errors.New("program stopped by user")

// Prompter asks the operator a yes/no question.
type Prompter interface {
	Confirm(question string) (bool, error)
}

// StreamPrompter reads answers line by line from In and writes questions to Out.
// An empty answer means "no".
type StreamPrompter struct {
	In  *bufio.Reader
	Out io.Writer
}

// NewStreamPrompter wraps in and out.
func NewStreamPrompter(in io.Reader, out io.Writer) *StreamPrompter {
	return &StreamPrompter{In: bufio.NewReader(in), Out: out}
}

var answers = map[string]bool{
	"y": true, "ye": true, "yes": true, "t": true, "true": true, "on": true, "1": true,
	"n": false, "no": false, "f": false, "false": false, "off": false, "0": false,
}

// Confirm asks until it gets a recognizable answer or the input ends.
func (p *StreamPrompter) Confirm(question string) (bool, error) {
	for {
		fmt.Fprintf(p.Out, "%s [y/N] ", question)
		line, err := p.In.ReadString('\n')
		choice := strings.ToLower(strings.TrimSpace(line))
		if choice == "" {
			if err != nil && err != io.EOF {
				return false, fmt.Errorf("layout: read answer: %w", err)
			}
			return false, nil
		}
		if v, ok := answers[choice]; ok {
			return v, nil
		}
		if err != nil {
			return false, nil
		}
		fmt.Fprintln(p.Out, "Please respond with 'yes' or 'no' (or 'y' or 'n').")
	}
}

// Cleaner prepares output directories before a stage submits its jobs.
//
// Interactive cleaners ask before removing a non-empty directory and abort the
// run when refused; non-interactive cleaners, used by unattended multi-stage
// runs, remove without asking.
type Cleaner struct {
	Interactive bool
	Prompt      Prompter
}

// EnsureClean empties path when it holds anything and (re)creates it.
func (c Cleaner) EnsureClean(path string) error {
	empty, err := isEmptyDir(path)
	if err != nil {
		return err
	}
	if !empty {
		remove := true
		if c.Interactive {
			if c.Prompt == nil {
				return fmt.Errorf("layout: interactive cleanup of %s needs a prompter", path)
			}
			remove, err = c.Prompt.Confirm(fmt.Sprintf("The directory %s is not empty. Do you want to remove its content?", path))
			if err != nil {
				return err
			}
			if !remove {
				return ErrUserAbort
			}
		}
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("layout: remove %s: %w", path, err)
		}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("layout: create %s: %w", path, err)
	}
	return nil
}

// EnsureAll cleans dirs in order; list parents before their children.
func (c Cleaner) EnsureAll(dirs ...string) error {
	for _, dir := range dirs {
		if err := c.EnsureClean(dir); err != nil {
			return err
		}
	}
	return nil
}

// isEmptyDir reports whether path is missing or an empty directory.
func isEmptyDir(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("layout: open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("layout: stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return false, nil
	}
	_, err = f.Readdirnames(1)
	if err == io.EOF {
		return true, nil
	}
	return false, err
}

// CopyInto copies src verbatim into dir, keeping its base name.
func CopyInto(src, dir string) (string, error) {
	dst := filepath.Join(dir, filepath.Base(src))
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("layout: open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("layout: create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("layout: copy %s: %w", src, err)
	}
	return dst, out.Close()
}
