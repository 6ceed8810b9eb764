package fetch

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

// copyWithOptionalProgress copies src to dst, wrapping dst in a progress
// bar keyed off label when size is known and the fetcher isn't running
// quiet. One bar per call lets several concurrent fetches each report
// their own progress rather than contending over a single shared line.
func copyWithOptionalProgress(f *Fetcher, dst io.Writer, src io.Reader, size int64, label string) (int64, error) {
	if f.opts.Quiet || size <= 0 {
		return io.Copy(dst, src)
	}
	bar := progressbar.DefaultBytes(size, label)
	defer bar.Close()
	return io.Copy(io.MultiWriter(dst, bar), src)
}
