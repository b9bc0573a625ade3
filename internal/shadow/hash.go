package shadow

import (
	"io"
	"os"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// HashFile returns the hex xxhash64 of a file's content and its size.
// The hash detects changes only; it is not collision resistant.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := xxhash.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return strconv.FormatUint(h.Sum64(), 16), n, nil
}
