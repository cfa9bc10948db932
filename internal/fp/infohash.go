// Package fp derives stable identities from torrent metainfo payloads.
package fp

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("malformed torrent metainfo")

// Meta is the subset of a metainfo file callers need before a client has
// accepted it.
type Meta struct {
	InfoHash string
	Name     string
	Size     int64
}

// InfoHash returns the lowercase hex SHA-1 of the bencoded info dictionary.
func InfoHash(payload []byte) (string, error) {
	m, err := Parse(payload)
	if err != nil {
		return "", err
	}
	return m.InfoHash, nil
}

// Parse reads the info dictionary of a metainfo payload. The hash covers the
// exact bytes of the info value as they appear in the payload.
func Parse(payload []byte) (*Meta, error) {
	d := decoder{buf: payload}
	if d.peek() != 'd' {
		return nil, ErrMalformed
	}
	d.pos++
	for d.peek() != 'e' {
		key, err := d.str()
		if err != nil {
			return nil, err
		}
		start := d.pos
		if key != "info" {
			if err := d.skip(); err != nil {
				return nil, err
			}
			continue
		}
		m, err := d.info()
		if err != nil {
			return nil, err
		}
		sum := sha1.Sum(payload[start:d.pos])
		m.InfoHash = hex.EncodeToString(sum[:])
		return m, nil
	}
	return nil, ErrMalformed
}

// NormalizeSavePath trims whitespace and cleans the path. An empty path
// stays empty so the client default applies.
func NormalizeSavePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	return filepath.Clean(p)
}

type decoder struct {
	buf []byte
	pos int
}

func (d *decoder) peek() byte {
	if d.pos >= len(d.buf) {
		return 0
	}
	return d.buf[d.pos]
}

func (d *decoder) info() (*Meta, error) {
	if d.peek() != 'd' {
		return nil, ErrMalformed
	}
	d.pos++
	m := &Meta{}
	for d.peek() != 'e' {
		if d.peek() == 0 {
			return nil, ErrMalformed
		}
		key, err := d.str()
		if err != nil {
			return nil, err
		}
		switch key {
		case "name":
			if m.Name, err = d.str(); err != nil {
				return nil, err
			}
		case "length":
			if m.Size, err = d.integer(); err != nil {
				return nil, err
			}
		case "files":
			n, err := d.fileLengths()
			if err != nil {
				return nil, err
			}
			m.Size = n
		default:
			if err := d.skip(); err != nil {
				return nil, err
			}
		}
	}
	d.pos++
	return m, nil
}

// fileLengths sums the length entries of a multi-file info dictionary.
func (d *decoder) fileLengths() (int64, error) {
	if d.peek() != 'l' {
		return 0, ErrMalformed
	}
	d.pos++
	var total int64
	for d.peek() != 'e' {
		if d.peek() != 'd' {
			return 0, ErrMalformed
		}
		d.pos++
		for d.peek() != 'e' {
			if d.peek() == 0 {
				return 0, ErrMalformed
			}
			key, err := d.str()
			if err != nil {
				return 0, err
			}
			if key == "length" {
				n, err := d.integer()
				if err != nil {
					return 0, err
				}
				total += n
				continue
			}
			if err := d.skip(); err != nil {
				return 0, err
			}
		}
		d.pos++
	}
	d.pos++
	return total, nil
}

func (d *decoder) str() (string, error) {
	colon := -1
	for i := d.pos; i < len(d.buf); i++ {
		if d.buf[i] == ':' {
			colon = i
			break
		}
		if d.buf[i] < '0' || d.buf[i] > '9' {
			return "", ErrMalformed
		}
	}
	if colon <= d.pos {
		return "", ErrMalformed
	}
	n, err := strconv.Atoi(string(d.buf[d.pos:colon]))
	if err != nil || n < 0 || colon+1+n > len(d.buf) {
		return "", ErrMalformed
	}
	s := string(d.buf[colon+1 : colon+1+n])
	d.pos = colon + 1 + n
	return s, nil
}

func (d *decoder) integer() (int64, error) {
	if d.peek() != 'i' {
		return 0, ErrMalformed
	}
	end := d.pos + 1
	for end < len(d.buf) && d.buf[end] != 'e' {
		end++
	}
	if end >= len(d.buf) {
		return 0, ErrMalformed
	}
	n, err := strconv.ParseInt(string(d.buf[d.pos+1:end]), 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}
	d.pos = end + 1
	return n, nil
}

func (d *decoder) skip() error {
	switch c := d.peek(); {
	case c == 'i':
		_, err := d.integer()
		return err
	case c == 'l' || c == 'd':
		d.pos++
		for d.peek() != 'e' {
			if d.peek() == 0 {
				return ErrMalformed
			}
			if err := d.skip(); err != nil {
				return err
			}
		}
		d.pos++
		return nil
	case c >= '0' && c <= '9':
		_, err := d.str()
		return err
	default:
		return ErrMalformed
	}
}
