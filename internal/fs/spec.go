package fs

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"pd-go/internal/pd"
)

// ParseSpec parses a library location given on the command line:
//
//	/path/to/photos
//	sftp://user@host:2222/srv/photos
//	s3://bucket/prefix?region=eu-west-1&encrypted=true
//	memory:name
func ParseSpec(raw string) (pd.FileManagerSpec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return pd.FileManagerSpec{}, fmt.Errorf("empty library location")
	}

	if name, ok := strings.CutPrefix(raw, "memory:"); ok {
		name = strings.Trim(name, "/")
		if name == "" {
			return pd.FileManagerSpec{}, fmt.Errorf("memory library needs a name")
		}
		return pd.FileManagerSpec{Type: pd.SpecMemory, Path: "/" + name, Transient: true}, nil
	}

	if !strings.Contains(raw, "://") {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return pd.FileManagerSpec{}, fmt.Errorf("resolving absolute path: %w", err)
		}
		return pd.FileManagerSpec{Type: pd.SpecLocal, Path: abs}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return pd.FileManagerSpec{}, fmt.Errorf("parsing library location: %w", err)
	}
	switch u.Scheme {
	case "file":
		return pd.FileManagerSpec{Type: pd.SpecLocal, Path: filepath.FromSlash(u.Path)}, nil
	case "sftp":
		if u.Hostname() == "" {
			return pd.FileManagerSpec{}, fmt.Errorf("sftp location needs a host: %s", raw)
		}
		spec := pd.FileManagerSpec{Type: pd.SpecSFTP, Host: u.Hostname(), Path: u.Path}
		if spec.Path == "" {
			spec.Path = "/"
		}
		if u.User != nil {
			spec.User = u.User.Username()
		}
		if p := u.Port(); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil || port <= 0 || port > 65535 {
				return pd.FileManagerSpec{}, fmt.Errorf("invalid sftp port %q", p)
			}
			spec.Port = port
		}
		return spec, nil
	case "s3":
		if u.Host == "" {
			return pd.FileManagerSpec{}, fmt.Errorf("s3 location needs a bucket: %s", raw)
		}
		q := u.Query()
		spec := pd.FileManagerSpec{
			Type:   pd.SpecS3,
			Bucket: u.Host,
			Prefix: strings.Trim(u.Path, "/"),
			Region: q.Get("region"),
		}
		if v := q.Get("encrypted"); v != "" {
			enc, err := strconv.ParseBool(v)
			if err != nil {
				return pd.FileManagerSpec{}, fmt.Errorf("invalid encrypted flag %q", v)
			}
			spec.Encrypted = enc
		}
		return spec, nil
	default:
		return pd.FileManagerSpec{}, fmt.Errorf("unsupported library location scheme: %s", u.Scheme)
	}
}
