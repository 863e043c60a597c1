package merge

import (
	"bufio"
	"errors"
	"io"
)

// Concatenate writes previous followed by entries, joining every pair of
// adjacent pieces with separator. An empty or nil previous contributes
// nothing, so two entries on an empty corpus yield A + separator + B. No
// separator trails the output.
func Concatenate(w io.Writer, previous io.Reader, entries []io.Reader, separator string) error {
	wrote := false
	if previous != nil {
		br := bufio.NewReader(previous)
		if _, err := br.Peek(1); err == nil {
			if _, err := io.Copy(w, br); err != nil {
				return err
			}
			wrote = true
		} else if !errors.Is(err, io.EOF) {
			return err
		}
	}
	for _, entry := range entries {
		if wrote {
			if _, err := io.WriteString(w, separator); err != nil {
				return err
			}
		}
		if _, err := io.Copy(w, entry); err != nil {
			return err
		}
		wrote = true
	}
	return nil
}
