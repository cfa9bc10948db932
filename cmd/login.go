package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/tinoosan/ptguard/internal/tracker"
	"github.com/urfave/cli"
)

var (
	// stdin and files are swapped out in tests.
	stdin io.Reader = os.Stdin
	files           = afero.NewOsFs()

	errSite    = errors.New("--site is required")
	errDataURI = errors.New("captcha is not a base64 data URI")

	loginFlags = []cli.Flag{
		cli.StringFlag{Name: "site", Usage: "tracker base URL"},
		cli.StringFlag{Name: "username, u", Usage: "account username (prompted when empty)"},
		cli.StringFlag{Name: "password, p", Usage: "account password (prompted when empty)", EnvVar: "PTGUARD_TRACKER_PASSWORD"},
		cli.StringFlag{Name: "two-step", Usage: "two-step verification code"},
		cli.Int64Flag{Name: "account", Usage: "existing account id to update"},
		cli.StringFlag{Name: "captcha-file", Usage: "where to write the captcha image", Value: filepath.Join(os.TempDir(), "ptguard-captcha")},
	}
)

func login(c *cli.Context) error {
	site := c.String("site")
	if site == "" {
		return errSite
	}
	ctx := context.Background()
	e, err := setup(ctx, c)
	if err != nil {
		return err
	}
	defer e.Close()

	sess, err := e.app.Logins.Begin(ctx, site)
	if err != nil {
		return err
	}
	in := bufio.NewReader(stdin)
	cred := tracker.Credentials{
		Username: c.String("username"),
		Password: c.String("password"),
		TwoStep:  c.String("two-step"),
	}
	if cred.Username == "" {
		if cred.Username, err = prompt(c.App.Writer, in, "username: "); err != nil {
			return err
		}
	}
	if cred.Password == "" {
		if cred.Password, err = prompt(c.App.Writer, in, "password: "); err != nil {
			return err
		}
	}
	if sess.Captcha != "" {
		path, err := writeCaptcha(c.String("captcha-file"), sess.Captcha)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "captcha image written to %s\n", path)
		if cred.Captcha, err = prompt(c.App.Writer, in, "captcha: "); err != nil {
			return err
		}
	}

	acc, err := e.app.Logins.Submit(ctx, sess.ID, cred, c.Int64("account"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "logged in to %s as %s (account %d)\n", acc.SiteName, acc.Username, acc.ID)
	return nil
}

func prompt(w io.Writer, in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(w, label)
	line, err := in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(label, ": "), err)
	}
	return strings.TrimSpace(line), nil
}

// writeCaptcha decodes a data URI and writes it next to base with an
// extension for its media type.
func writeCaptcha(base, uri string) (string, error) {
	mediaType, b, err := decodeDataURI(uri)
	if err != nil {
		return "", err
	}
	ext := ".png"
	switch mediaType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/gif":
		ext = ".gif"
	}
	path := base + ext
	if err := afero.WriteFile(files, path, b, 0o600); err != nil {
		return "", fmt.Errorf("write captcha: %w", err)
	}
	return path, nil
}

func decodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", nil, errDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errDataURI
	}
	mediaType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, errDataURI
	}
	b, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", errDataURI, err)
	}
	return mediaType, b, nil
}
