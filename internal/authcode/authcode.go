// Package authcode resolves the six digit code a client joins an agent
// with. Besides flags and configuration the code may be embedded in the
// client executable itself, appended after the binary as
//
//	<!--CONFIG_START-->{"auth_code":"123456"}<!--CONFIG_END-->
package authcode

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	StartMarker = "<!--CONFIG_START-->"
	EndMarker   = "<!--CONFIG_END-->"

	// TailSize is how much of the end of a file is searched for markers.
	TailSize = 10 * 1024

	// Length is the number of digits in an auth code.
	Length = 6
)

var (
	// ErrNotFound is returned when no embedded configuration exists.
	ErrNotFound = errors.New("embedded auth code not found")

	// ErrSameFile is returned by Embed when the output would overwrite
	// the source executable.
	ErrSameFile = errors.New("output is the source executable")

	// ErrInvalid is returned for codes that are not six digits.
	ErrInvalid = errors.New("auth code must be 6 digits")
)

type embedded struct {
	AuthCode string `json:"auth_code"`
}

// Valid reports whether code is exactly six ASCII digits.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// Normalize trims whitespace and validates code.
func Normalize(code string) (string, error) {
	code = strings.TrimSpace(code)
	if !Valid(code) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, code)
	}
	return code, nil
}

// Extract returns the auth code from the last marker pair in data.
func Extract(data []byte) (string, error) {
	start := bytes.LastIndex(data, []byte(StartMarker))
	if start < 0 {
		return "", ErrNotFound
	}
	body := data[start+len(StartMarker):]

	end := bytes.Index(body, []byte(EndMarker))
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated marker", ErrNotFound)
	}

	var cfg embedded
	if err := json.Unmarshal(bytes.TrimSpace(body[:end]), &cfg); err != nil {
		return "", fmt.Errorf("parse embedded config: %w", err)
	}
	if cfg.AuthCode == "" {
		return "", fmt.Errorf("%w: empty auth_code", ErrNotFound)
	}
	return strings.TrimSpace(cfg.AuthCode), nil
}

// FromFile searches the last TailSize bytes of path.
func FromFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	offset := info.Size() - TailSize
	if offset < 0 {
		offset = 0
	}
	tail := make([]byte, info.Size()-offset)
	if _, err := f.ReadAt(tail, offset); err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	return Extract(tail)
}

// FromExecutable searches the running executable.
func FromExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", err
	}
	return FromFile(exe)
}

// Block returns the marker block carrying code.
func Block(code string) ([]byte, error) {
	payload, err := json.Marshal(embedded{AuthCode: code})
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	b.WriteString(StartMarker)
	b.Write(payload)
	b.WriteString(EndMarker)
	return b.Bytes(), nil
}

// Embed copies the executable at src to dst with code appended. dst is
// written to a temporary file and renamed into place; it must not be src.
func Embed(src, dst, code string) error {
	code, err := Normalize(code)
	if err != nil {
		return err
	}
	block, err := Block(code)
	if err != nil {
		return err
	}
	if err := checkDistinct(src, dst); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0755)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		return fail(fmt.Errorf("copy executable: %w", err))
	}
	if _, err := out.Write(block); err != nil {
		return fail(fmt.Errorf("append config: %w", err))
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist %s: %w", dst, err)
	}
	return nil
}

// checkDistinct fails when src and dst name the same file.
func checkDistinct(src, dst string) error {
	absSrc, err := filepath.Abs(src)
	if err != nil {
		return err
	}
	absDst, err := filepath.Abs(dst)
	if err != nil {
		return err
	}
	if absSrc == absDst {
		return fmt.Errorf("%w: %s", ErrSameFile, dst)
	}
	si, err := os.Stat(src)
	if err != nil {
		return err
	}
	if di, err := os.Stat(dst); err == nil && os.SameFile(si, di) {
		return fmt.Errorf("%w: %s", ErrSameFile, dst)
	}
	return nil
}

// Source yields a candidate auth code. An empty string means the source
// has nothing to offer.
type Source func() string

// Resolve returns the first valid code offered by sources, in order.
func Resolve(sources ...Source) (string, bool) {
	for _, src := range sources {
		if src == nil {
			continue
		}
		if code, err := Normalize(src()); err == nil {
			return code, true
		}
	}
	return "", false
}

// Static returns a Source offering code.
func Static(code string) Source {
	return func() string { return code }
}

// Executable returns a Source reading the running executable.
func Executable() Source {
	return func() string {
		code, err := FromExecutable()
		if err != nil {
			return ""
		}
		return code
	}
}
