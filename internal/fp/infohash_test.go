package fp

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"testing"
)

const singleInfo = "d6:lengthi1024e4:name8:file.bin12:piece lengthi16384e6:pieces0:e"

func TestInfoHashSingleFile(t *testing.T) {
	payload := []byte("d8:announce14:http://tracker4:info" + singleInfo + "7:comment2:hie")
	sum := sha1.Sum([]byte(singleInfo))
	want := hex.EncodeToString(sum[:])

	m, err := Parse(payload)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.InfoHash != want || m.Name != "file.bin" || m.Size != 1024 {
		t.Fatalf("unexpected meta: %+v (want hash %s)", m, want)
	}
	h, _ := InfoHash(payload)
	if h != want {
		t.Fatalf("InfoHash = %s", h)
	}
}

func TestParseMultiFile(t *testing.T) {
	info := "d5:filesld6:lengthi10e4:pathl1:aeed6:lengthi32e4:pathl1:beee4:name3:dir6:pieces0:e"
	m, err := Parse([]byte("d4:info" + info + "e"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if m.Name != "dir" || m.Size != 42 {
		t.Fatalf("unexpected meta: %+v", m)
	}
}

func TestParseMalformed(t *testing.T) {
	for _, in := range []string{
		"",
		"<html>login</html>",
		"d8:announce3:urle",
		"d4:infod4:name3:ab",
		"d4:infoi12ee",
		"d4:infod6:lengthi1x2ee",
	} {
		if _, err := Parse([]byte(in)); !errors.Is(err, ErrMalformed) {
			t.Errorf("Parse(%q) err = %v, want ErrMalformed", in, err)
		}
	}
}

func TestNormalizeSavePath(t *testing.T) {
	if got := NormalizeSavePath("  /data/pt/../seed/ "); got != "/data/seed" {
		t.Fatalf("NormalizeSavePath = %q", got)
	}
	if NormalizeSavePath("  ") != "" {
		t.Fatal("blank path should stay empty")
	}
}
