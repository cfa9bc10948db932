package main

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/jobs"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "database:\n  driver: memory\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := Execute(append([]string{"ptguard", "--config", writeConfig(t)}, args...), &out)
	return out.String(), err
}

func TestRunJob(t *testing.T) {
	out, err := execute(t, "run", jobs.StatusSync)
	require.NoError(t, err)
	assert.Contains(t, out, "job status_sync finished")
}

func TestRunUnknownJob(t *testing.T) {
	_, err := execute(t, "run", "nope")
	assert.ErrorIs(t, err, jobs.ErrUnknownJob)
}

func TestListJobs(t *testing.T) {
	out, err := execute(t, "jobs")
	require.NoError(t, err)
	assert.Contains(t, out, jobs.StatsSnapshot)
	assert.Contains(t, out, jobs.AutoAcquire)
}

func TestRulesCheckUnknownRule(t *testing.T) {
	_, err := execute(t, "rules", "check", "42")
	assert.ErrorIs(t, err, data.ErrNotFound)
}

func TestLoginRequiresSite(t *testing.T) {
	_, err := execute(t, "login")
	assert.ErrorIs(t, err, errSite)
}

func TestWriteCaptcha(t *testing.T) {
	orig := files
	files = afero.NewMemMapFs()
	defer func() { files = orig }()

	uri := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8})
	path, err := writeCaptcha("/tmp/captcha", uri)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/captcha.jpg", path)
	b, err := afero.ReadFile(files, path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, b)

	for _, bad := range []string{"image/png;base64,AA==", "data:image/png,AA==", "data:image/png;base64,!!"} {
		_, err := writeCaptcha("/tmp/captcha", bad)
		assert.ErrorIs(t, err, errDataURI, bad)
	}
}
