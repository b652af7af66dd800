package testutil

import (
	"os"
	"path"

	log "github.com/sirupsen/logrus"
)

// Sandbox is a unique temporary directory for the duration of a test.
// It provides helpers for creating files and directories under this
// directory and removes them all on Close. Two sandboxes never share
// a directory.
type Sandbox struct {
	BasePath string
}

// Creates a new sandbox in a temporary directory.
func NewSandbox() *Sandbox {
	dir, err := os.MkdirTemp("", "dhcp6d_ut_*")
	if err != nil {
		log.Fatal(err)
	}
	return &Sandbox{
		BasePath: dir,
	}
}

// Removes the sandbox with all its contents.
func (sb *Sandbox) Close() {
	os.RemoveAll(sb.BasePath)
}

// Creates an empty file under the sandbox, together with any missing
// parent directories, and returns its full path.
func (sb *Sandbox) Join(name string) (string, error) {
	filePath := path.Join(sb.BasePath, name)
	if err := os.MkdirAll(path.Dir(filePath), 0o777); err != nil {
		return "", err
	}
	file, err := os.Create(filePath)
	if err != nil {
		return "", err
	}
	defer file.Close()
	return filePath, nil
}

// Creates a directory under the sandbox, together with any missing
// parent directories, and returns its full path.
func (sb *Sandbox) JoinDir(name string) (string, error) {
	dirPath := path.Join(sb.BasePath, name)
	if err := os.MkdirAll(dirPath, 0o777); err != nil {
		return "", err
	}
	return dirPath, nil
}

// Creates a file under the sandbox and writes the content to it.
func (sb *Sandbox) Write(name string, content string) (string, error) {
	filePath, err := sb.Join(name)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filePath, []byte(content), 0o600); err != nil {
		return "", err
	}
	return filePath, nil
}
