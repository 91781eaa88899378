package descriptor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCompose = `
services:
  web:
    image: example/web:latest
    ports:
      - "3000:3000"
  db:
    image: postgres:16
`

func writeProject(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	return dir
}

func TestDetect_Dockerfile(t *testing.T) {
	dir := writeProject(t, map[string]string{"Dockerfile": "FROM alpine\n"})
	d, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, KindDirectBuild, d.Kind)
	assert.Equal(t, "Dockerfile", d.Path)
	assert.Empty(t, d.Services)
}

func TestDetect_Compose(t *testing.T) {
	dir := writeProject(t, map[string]string{"docker-compose.yml": validCompose})
	d, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, KindCompose, d.Kind)
	assert.Equal(t, "docker-compose.yml", d.Path)
	assert.ElementsMatch(t, []string{"web", "db"}, d.Services)
	assert.Equal(t, 3000, d.PublishedPort)
}

func TestDetect_ComposePreferredOverDockerfile(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"Dockerfile":   "FROM alpine\n",
		"compose.yaml": validCompose,
	})
	d, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, KindCompose, d.Kind)
	assert.Equal(t, "compose.yaml", d.Path)
}

func TestDetect_Missing(t *testing.T) {
	dir := writeProject(t, map[string]string{"README.md": "hello"})
	_, err := Detect(dir)
	assert.ErrorIs(t, err, ErrNoDescriptor)
}

func TestDetect_InvalidYAML(t *testing.T) {
	dir := writeProject(t, map[string]string{"compose.yaml": "services: [unclosed"})
	_, err := Detect(dir)
	var iErr *InvalidDescriptorError
	require.ErrorAs(t, err, &iErr)
	assert.Equal(t, "compose.yaml", iErr.Path)
}

func TestDetect_ComposeWithoutServices(t *testing.T) {
	dir := writeProject(t, map[string]string{"compose.yaml": "volumes:\n  data: {}\n"})
	_, err := Detect(dir)
	var iErr *InvalidDescriptorError
	assert.ErrorAs(t, err, &iErr)
}

func TestDetect_FileNamePrecedence(t *testing.T) {
	dir := writeProject(t, map[string]string{
		"compose.yaml":       validCompose,
		"docker-compose.yml": validCompose,
	})
	d, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "compose.yaml", d.Path)
}
