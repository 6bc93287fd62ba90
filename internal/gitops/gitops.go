// Package gitops keeps a recon project directory under version control:
// its configuration, charges file, audit log and processed statements.
package gitops

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Author identifies who commits project changes.
type Author struct {
	Name  string
	Email string
}

// DefaultAuthor signs commits made by the recon CLI.
var DefaultAuthor = Author{Name: "recon", Email: "recon@localhost"}

func (a Author) String() string {
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

// Init initializes a new git repository at dir.
func Init(dir string) error {
	if _, err := run(dir, Author{}, "init", "--quiet"); err != nil {
		return err
	}
	return nil
}

// IsRepo reports whether dir is the root of a git repository.
func IsRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

// CommitAll stages every change in dir and commits it. It returns the
// short commit hash.
func CommitAll(dir, message string, author Author) (string, error) {
	return Commit(dir, message, author)
}

// Commit stages paths (relative to dir, every change when empty) and
// commits them. Nothing to commit is not an error; the hash is then empty.
func Commit(dir, message string, author Author, paths ...string) (string, error) {
	add := []string{"add", "-A", "--"}
	if len(paths) == 0 {
		add = append(add, ".")
	}
	add = append(add, paths...)
	if _, err := run(dir, author, add...); err != nil {
		return "", err
	}

	staged, err := run(dir, author, "diff", "--cached", "--name-only")
	if err != nil {
		return "", err
	}
	if staged == "" {
		return "", nil
	}

	if _, err := run(dir, author, "commit", "--quiet", "-m", message, "--author", author.String()); err != nil {
		return "", err
	}
	return run(dir, author, "rev-parse", "--short", "HEAD")
}

// run executes git in dir. The author doubles as committer so commits work
// on machines without a global git identity.
func run(dir string, author Author, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	if author.Name != "" {
		cmd.Env = append(os.Environ(),
			"GIT_COMMITTER_NAME="+author.Name,
			"GIT_COMMITTER_EMAIL="+author.Email,
		)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", args[0], strings.TrimSpace(stderr.String()), err)
	}
	return strings.TrimSpace(string(out)), nil
}
