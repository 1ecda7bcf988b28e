package fs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"pd-go/internal/fsutil"
	"pd-go/internal/pd"
)

// SFTPOptions holds the client credentials for SFTP libraries.
type SFTPOptions struct {
	KeyPath        string
	KnownHostsPath string
	Timeout        time.Duration
}

// SFTPFileManager is a FileManager over a directory on an SFTP server.
type SFTPFileManager struct {
	spec      pd.FileManagerSpec
	root      string
	sshClient *ssh.Client
	client    *sftp.Client
	closed    atomic.Bool
}

// DialSFTP connects to the host named by spec, authenticating with the key
// at opts.KeyPath and verifying the host key against opts.KnownHostsPath.
func DialSFTP(spec pd.FileManagerSpec, opts SFTPOptions) (*SFTPFileManager, error) {
	key, err := os.ReadFile(opts.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing ssh key: %w", err)
	}
	hostKeys, err := knownhosts.New(opts.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("loading known hosts: %w", err)
	}

	user := spec.User
	if user == "" {
		user = os.Getenv("USER")
	}
	port := spec.Port
	if port == 0 {
		port = 22
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	conf := &ssh.ClientConfig{
		User:            user,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}
	addr := net.JoinHostPort(spec.Host, strconv.Itoa(port))
	conn, err := ssh.Dial("tcp", addr, conf)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	client, err := sftp.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("starting sftp session: %w", err)
	}
	return NewSFTPFileManager(spec, conn, client), nil
}

// NewSFTPFileManager wraps an established client. sshClient may be nil when
// the sftp client runs over another transport; it is closed on Invalidate.
func NewSFTPFileManager(spec pd.FileManagerSpec, sshClient *ssh.Client, client *sftp.Client) *SFTPFileManager {
	spec.Type = pd.SpecSFTP
	root := path.Clean("/" + spec.Path)
	spec.Path = root
	return &SFTPFileManager{spec: spec, root: root, sshClient: sshClient, client: client}
}

func (m *SFTPFileManager) Name() string {
	if m.root == "/" {
		return m.spec.Host
	}
	return path.Base(m.root)
}

func (m *SFTPFileManager) Description() string { return m.spec.String() }

func (m *SFTPFileManager) Spec() pd.FileManagerSpec { return m.spec }

func (m *SFTPFileManager) Removable() bool { return false }

func (m *SFTPFileManager) abs(op, p string) (string, error) {
	if m.closed.Load() {
		return "", pd.NewFileError(op, p, ErrClosed)
	}
	return path.Join(m.root, path.Clean("/"+p)), nil
}

func (m *SFTPFileManager) Stat(p string) (fs.FileInfo, error) {
	full, err := m.abs("stat", p)
	if err != nil {
		return nil, err
	}
	info, err := m.client.Stat(full)
	if err != nil {
		return nil, pd.NewFileError("stat", p, err)
	}
	return info, nil
}

func (m *SFTPFileManager) FileExists(p string) bool {
	_, err := m.Stat(p)
	return err == nil
}

func (m *SFTPFileManager) ContentsOfFile(p string) ([]byte, error) {
	full, err := m.abs("read", p)
	if err != nil {
		return nil, err
	}
	f, err := m.client.Open(full)
	if err != nil {
		return nil, pd.NewFileError("read", p, err)
	}
	defer f.Close()
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		return nil, pd.NewFileError("read", p, err)
	}
	return buf.Bytes(), nil
}

func (m *SFTPFileManager) ContentsOfDirectory(dir string) ([]fs.FileInfo, error) {
	full, err := m.abs("list", dir)
	if err != nil {
		return nil, err
	}
	infos, err := m.client.ReadDir(full)
	if err != nil {
		return nil, pd.NewFileError("list", dir, err)
	}
	return infos, nil
}

func (m *SFTPFileManager) WriteData(p string, data []byte, opts pd.WriteOptions) error {
	full, err := m.abs("write", p)
	if err != nil {
		return err
	}
	if err := m.client.MkdirAll(path.Dir(full)); err != nil {
		return pd.NewFileError("write", p, err)
	}
	if opts.NoOverwrite {
		if _, err := m.client.Lstat(full); err == nil {
			return pd.NewFileError("write", p, fs.ErrExist)
		}
	}

	target := full
	if opts.Atomic {
		target = path.Join(path.Dir(full), fsutil.TempPrefix+uuid.NewString())
	}
	if err := m.writeFile(target, data); err != nil {
		m.client.Remove(target)
		return pd.NewFileError("write", p, err)
	}
	if target != full {
		if err := m.replace(target, full); err != nil {
			m.client.Remove(target)
			return pd.NewFileError("write", p, err)
		}
	}
	return nil
}

func (m *SFTPFileManager) writeFile(full string, data []byte) error {
	f, err := m.client.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.ReadFrom(bytes.NewReader(data)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// replace renames from over to. Servers without the posix-rename extension
// refuse to overwrite, so the target is removed first in that case.
func (m *SFTPFileManager) replace(from, to string) error {
	if err := m.client.PosixRename(from, to); err == nil {
		return nil
	}
	if _, err := m.client.Lstat(to); err == nil {
		if err := m.client.Remove(to); err != nil {
			return err
		}
	}
	return m.client.Rename(from, to)
}

func (m *SFTPFileManager) CreateDirectory(dir string) error {
	full, err := m.abs("create directory", dir)
	if err != nil {
		return err
	}
	if err := m.client.MkdirAll(full); err != nil {
		return pd.NewFileError("create directory", dir, err)
	}
	return nil
}

func (m *SFTPFileManager) CopyItem(src, dst string) error {
	from, err := m.abs("copy", src)
	if err != nil {
		return err
	}
	to, err := m.abs("copy", dst)
	if err != nil {
		return err
	}
	info, err := m.client.Stat(from)
	if err != nil {
		return pd.NewFileError("copy", src, err)
	}
	if _, err := m.client.Lstat(to); err == nil {
		return pd.NewFileError("copy", dst, fs.ErrExist)
	}
	if err := m.client.MkdirAll(path.Dir(to)); err != nil {
		return pd.NewFileError("copy", dst, err)
	}
	if err := m.copyTree(from, to, info); err != nil {
		m.client.RemoveAll(to)
		return pd.NewFileError("copy", src, err)
	}
	return nil
}

func (m *SFTPFileManager) copyTree(from, to string, info fs.FileInfo) error {
	if !info.IsDir() {
		return m.copyFile(from, to, info)
	}
	if err := m.client.MkdirAll(to); err != nil {
		return err
	}
	entries, err := m.client.ReadDir(from)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := m.copyTree(path.Join(from, e.Name()), path.Join(to, e.Name()), e); err != nil {
			return err
		}
	}
	return nil
}

func (m *SFTPFileManager) copyFile(from, to string, info fs.FileInfo) error {
	src, err := m.client.Open(from)
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := m.client.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	m.client.Chtimes(to, info.ModTime(), info.ModTime())
	return nil
}

func (m *SFTPFileManager) MoveItem(src, dst string) error {
	from, err := m.abs("move", src)
	if err != nil {
		return err
	}
	to, err := m.abs("move", dst)
	if err != nil {
		return err
	}
	if _, err := m.client.Lstat(from); err != nil {
		return pd.NewFileError("move", src, err)
	}
	if _, err := m.client.Lstat(to); err == nil {
		return pd.NewFileError("move", dst, fs.ErrExist)
	}
	if err := m.client.MkdirAll(path.Dir(to)); err != nil {
		return pd.NewFileError("move", dst, err)
	}
	if err := m.client.Rename(from, to); err != nil {
		return pd.NewFileError("move", src, err)
	}
	return nil
}

func (m *SFTPFileManager) RemoveItem(p string) error {
	full, err := m.abs("remove", p)
	if err != nil {
		return err
	}
	if full == m.root {
		return pd.NewFileError("remove", p, fs.ErrPermission)
	}
	if _, err := m.client.Lstat(full); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return pd.NewFileError("remove", p, err)
	}
	if err := m.client.RemoveAll(full); err != nil {
		return pd.NewFileError("remove", p, err)
	}
	return nil
}

func (m *SFTPFileManager) FileURL(p string) string {
	host := m.spec.Host
	if m.spec.Port != 0 && m.spec.Port != 22 {
		host = net.JoinHostPort(host, strconv.Itoa(m.spec.Port))
	}
	u := &url.URL{Scheme: "sftp", Host: host, Path: path.Join(m.root, path.Clean("/"+p))}
	if m.spec.User != "" {
		u.User = url.User(m.spec.User)
	}
	return u.String()
}

// Unmount is not supported for remote roots.
func (m *SFTPFileManager) Unmount() error {
	return fmt.Errorf("%s cannot be unmounted", strings.TrimSuffix(m.Description(), "/"))
}

func (m *SFTPFileManager) Invalidate() {
	if m.closed.Swap(true) {
		return
	}
	m.client.Close()
	if m.sshClient != nil {
		m.sshClient.Close()
	}
}

// Compile-time check that SFTPFileManager implements pd.FileManager
var _ pd.FileManager = (*SFTPFileManager)(nil)
