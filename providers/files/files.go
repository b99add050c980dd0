// Package files provides tools to read, write and list files under a root directory.
package files

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/mcp/protocol"
	"github.com/effective-security/toolmesh/mcp/server"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "providers/files")

// DefaultMaxFileSize is the largest file read_file returns.
const DefaultMaxFileSize = 1 << 20

// ErrOutsideRoot is returned for paths that escape the root directory.
var ErrOutsideRoot = errors.New("path is outside of the root directory")

type ReadFileRequest struct {
	Path string `json:"path" jsonschema:"description=File path relative to the root directory" validate:"required"`
}

type WriteFileRequest struct {
	Path    string `json:"path" jsonschema:"description=File path relative to the root directory" validate:"required"`
	Content string `json:"content" jsonschema:"description=Content to write; the file is replaced"`
	Append  bool   `json:"append,omitempty" jsonschema:"description=Append to the file instead of replacing it"`
}

type ListFilesRequest struct {
	Path      string `json:"path,omitempty" jsonschema:"description=Directory relative to the root directory; defaults to the root"`
	Recursive bool   `json:"recursive,omitempty" jsonschema:"description=List subdirectories recursively"`
}

// Config for the provider
type Config struct {
	// Root is the directory the tools operate in, required.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`
	// ReadOnly disables write_file.
	ReadOnly bool `json:"read_only,omitempty" yaml:"read_only,omitempty"`
	// MaxFileSize defaults to DefaultMaxFileSize.
	MaxFileSize int64 `json:"max_file_size,omitempty" yaml:"max_file_size,omitempty"`
}

type provider struct {
	root    string
	maxSize int64
}

// New returns the files provider server.
func New(cfg Config, opts ...server.Option) (*server.Server, error) {
	if cfg.Root == "" {
		return nil, errors.New("root directory is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, errors.Wrap(err, "invalid root directory")
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, errors.Wrap(err, "invalid root directory")
	}

	p := &provider{
		root:    root,
		maxSize: values.NumbersCoalesce(cfg.MaxFileSize, DefaultMaxFileSize),
	}

	defs := []server.ToolDefinition{
		server.MustAddTool("read_file", "Read a text file.", p.readFile),
		server.MustAddTool("list_files", "List files in a directory. Directories end with a slash.", p.listFiles),
	}
	if !cfg.ReadOnly {
		defs = append(defs, server.MustAddTool("write_file", "Write a text file, creating parent directories.", p.writeFile))
	}

	return server.NewFromDefinitions(protocol.Implementation{Name: "files", Version: "1.0.0"}, defs, opts...)
}

// resolve returns the absolute path of name, which must stay under the root.
func (p *provider) resolve(name string) (string, error) {
	full := filepath.Join(p.root, filepath.FromSlash(name))
	if !p.within(full) {
		return "", errors.WithMessagef(ErrOutsideRoot, "%s", name)
	}

	// the closest existing ancestor must not be a symlink out of the root
	existing := full
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}
	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", errors.WithStack(err)
	}
	if !p.within(resolved) {
		return "", errors.WithMessagef(ErrOutsideRoot, "%s", name)
	}
	return full, nil
}

func (p *provider) within(full string) bool {
	rel, err := filepath.Rel(p.root, full)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func (p *provider) readFile(ctx context.Context, req *ReadFileRequest) (*protocol.CallToolResult, error) {
	full, err := p.resolve(req.Path)
	if err != nil {
		return protocol.ErrorResult("%s", err.Error()), nil
	}
	fi, err := os.Stat(full)
	if err != nil {
		return protocol.ErrorResult("file not found: %s", req.Path), nil
	}
	if fi.IsDir() {
		return protocol.ErrorResult("%s is a directory", req.Path), nil
	}
	if fi.Size() > p.maxSize {
		return protocol.ErrorResult("%s is too large: %d bytes, limit is %d", req.Path, fi.Size(), p.maxSize), nil
	}

	b, err := os.ReadFile(full)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", req.Path)
	}
	logger.ContextKV(ctx, xlog.DEBUG, "tool", "read_file", "path", req.Path, "size", len(b))
	return protocol.TextResult(string(b)), nil
}

func (p *provider) writeFile(ctx context.Context, req *WriteFileRequest) (*protocol.CallToolResult, error) {
	full, err := p.resolve(req.Path)
	if err != nil {
		return protocol.ErrorResult("%s", err.Error()), nil
	}
	if int64(len(req.Content)) > p.maxSize {
		return protocol.ErrorResult("content is too large: %d bytes, limit is %d", len(req.Content), p.maxSize), nil
	}
	if err = os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory for %s", req.Path)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if req.Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(full, flags, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", req.Path)
	}
	_, err = f.WriteString(req.Content)
	err = errors.CombineErrors(err, f.Close())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to write %s", req.Path)
	}

	logger.ContextKV(ctx, xlog.DEBUG, "tool", "write_file", "path", req.Path, "size", len(req.Content))
	return protocol.TextResult("wrote " + req.Path), nil
}

func (p *provider) listFiles(ctx context.Context, req *ListFilesRequest) (*protocol.CallToolResult, error) {
	full, err := p.resolve(req.Path)
	if err != nil {
		return protocol.ErrorResult("%s", err.Error()), nil
	}
	fi, err := os.Stat(full)
	if err != nil || !fi.IsDir() {
		return protocol.ErrorResult("directory not found: %s", values.StringsCoalesce(req.Path, ".")), nil
	}

	var names []string
	err = filepath.WalkDir(full, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == full {
			return nil
		}
		rel, err := filepath.Rel(full, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			names = append(names, rel+"/")
			if !req.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		names = append(names, rel)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", req.Path)
	}
	sort.Strings(names)

	logger.ContextKV(ctx, xlog.DEBUG, "tool", "list_files", "path", req.Path, "count", len(names))
	if len(names) == 0 {
		return protocol.TextResult("(empty)"), nil
	}
	return protocol.TextResult(strings.Join(names, "\n")), nil
}
