// Package cache compresses generated translation sources before they
// hit disk, when Options.CompressCache is set — spec.md §4.6's cache
// directory holds raw .c/.so files by default, but embeddable-source
// sinks intended for long-term storage benefit from zstd the same way
// any other build-artifact cache would.
package cache

import (
	"bytes"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/imbev/rvtrjit/rverr"
)

// WriteCompressed zstd-compresses data and writes it to path.
func WriteCompressed(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return rverr.New(rverr.InvalidProgram, "cache.WriteCompressed", err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return rverr.New(rverr.InvalidProgram, "cache.WriteCompressed", err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return rverr.New(rverr.InvalidProgram, "cache.WriteCompressed", err)
	}
	return enc.Close()
}

// ReadCompressed reads and decompresses a file written by
// WriteCompressed.
func ReadCompressed(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, rverr.New(rverr.InvalidProgram, "cache.ReadCompressed", err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, rverr.New(rverr.InvalidProgram, "cache.ReadCompressed", err)
	}
	defer dec.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, dec); err != nil {
		return nil, rverr.New(rverr.InvalidProgram, "cache.ReadCompressed", err)
	}
	return buf.Bytes(), nil
}
